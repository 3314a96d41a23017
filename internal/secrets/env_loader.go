package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// StaticLoader returns a Loader over fixed values, typically the ones from
// the YAML config. Empty values are omitted.
func StaticLoader(values map[string]string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(values))
		for k, v := range values {
			if v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// DirLoader returns a Loader that reads one secret per file from dir, as
// mounted by container secret volumes. The file name is the key and the
// trimmed content the value. Only the listed keys are read; a missing
// directory or file is not an error.
func DirLoader(dir string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		if dir == "" {
			return vals, nil
		}
		for _, k := range keys {
			b, err := os.ReadFile(filepath.Join(dir, k))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read secret %s: %w", k, err)
			}
			if v := strings.TrimSpace(string(b)); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, l := range loaders {
			m, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range m {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
