package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/SpendPilot/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.KeyPaymentAPIKey: "pk_live_1", secrets.KeySlackWebhookURL: "https://hooks"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	if got := v.Get(secrets.KeyPaymentAPIKey); got != "pk_live_1" {
		t.Fatalf("expected 'pk_live_1', got %q", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("secret mount unreadable")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_ReloadUpdatesAccessor(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{secrets.KeyPaymentAPIKey: "old"}, nil
		}
		return map[string]string{secrets.KeyPaymentAPIKey: "rotated"}, nil
	})

	key := v.Func(secrets.KeyPaymentAPIKey)
	if got := key(); got != "old" {
		t.Fatalf("expected 'old', got %q", got)
	}
	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := key(); got != "rotated" {
		t.Fatalf("expected 'rotated' after reload, got %q", got)
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("vault unavailable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("expected 'original' after failed reload, got %q", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"K": "V"}, nil
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redaction(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{
			secrets.KeyPaymentAPIKey: "pk_live_abcdef",
			"SHORT":                  "ab",
		}, nil
	})

	tests := []struct {
		key  string
		want string
	}{
		{secrets.KeyPaymentAPIKey, "pk****"},
		{"SHORT", "****"},
		{"MISSING", ""},
	}
	for _, tt := range tests {
		if got := v.Redacted(tt.key); got != tt.want {
			t.Errorf("Redacted(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}

	got := v.RedactString("401 from wallet: bad bearer pk_live_abcdef, short ab")
	if strings.Contains(got, "pk_live_abcdef") {
		t.Errorf("api key was not redacted in %q", got)
	}
	if !strings.Contains(got, "pk****") || !strings.Contains(got, "short ab") {
		t.Errorf("unexpected redaction %q", got)
	}
}

func TestVault_Keys(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"B": "2", "A": "1"}, nil
	})

	keys := v.Keys()
	if len(keys) != 2 || keys[0] != "A" || keys[1] != "B" {
		t.Fatalf("expected [A B], got %v", keys)
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("SP_TEST_SECRET", "mysecret")
	vals, err := secrets.EnvLoader("SP_TEST_SECRET", "SP_MISSING_SECRET")()
	if err != nil {
		t.Fatalf("EnvLoader failed: %v", err)
	}
	if vals["SP_TEST_SECRET"] != "mysecret" {
		t.Fatalf("expected 'mysecret', got %q", vals["SP_TEST_SECRET"])
	}
	if _, ok := vals["SP_MISSING_SECRET"]; ok {
		t.Fatal("expected missing env var to be omitted")
	}
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, secrets.KeyPaymentAPIKey), []byte("pk_from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	vals, err := secrets.DirLoader(dir, secrets.KeyPaymentAPIKey, secrets.KeyDiscordWebhookURL)()
	if err != nil {
		t.Fatalf("DirLoader failed: %v", err)
	}
	if vals[secrets.KeyPaymentAPIKey] != "pk_from_file" {
		t.Errorf("expected trimmed file content, got %q", vals[secrets.KeyPaymentAPIKey])
	}
	if _, ok := vals[secrets.KeyDiscordWebhookURL]; ok {
		t.Error("missing file should be omitted")
	}

	empty, err := secrets.DirLoader("", secrets.KeyPaymentAPIKey)()
	if err != nil || len(empty) != 0 {
		t.Errorf("empty dir: vals = %v, err = %v", empty, err)
	}
}

func TestChainOverrides(t *testing.T) {
	loader := secrets.Chain(
		secrets.StaticLoader(map[string]string{"A": "config", "B": "config", "C": ""}),
		secrets.StaticLoader(map[string]string{"B": "file"}),
	)
	vals, err := loader()
	if err != nil {
		t.Fatal(err)
	}
	if vals["A"] != "config" || vals["B"] != "file" {
		t.Errorf("unexpected merge %v", vals)
	}
	if _, ok := vals["C"]; ok {
		t.Error("empty static value should be omitted")
	}

	failing := secrets.Chain(loader, func() (map[string]string, error) { return nil, errors.New("boom") })
	if _, err := failing(); err == nil {
		t.Error("expected chained loader error")
	}
}
