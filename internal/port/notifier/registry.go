package notifier

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// ConfigWebhookURL is the factory config key holding the webhook endpoint.
const ConfigWebhookURL = "webhook_url"

// Factory creates a Notifier from its config map.
type Factory func(config map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name. Adapters call it
// from init; a duplicate name panics.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a Notifier by name using the registered factory.
func New(name string, config map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(config)
}

// Available returns the registered notifier names in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates one notifier per registered name with a non-empty webhook
// in urls. Names without a registered factory are an error.
func Build(urls map[string]string) ([]Notifier, error) {
	names := make([]string, 0, len(urls))
	for name, u := range urls {
		if u != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Notifier, 0, len(names))
	for _, name := range names {
		n, err := New(name, map[string]string{ConfigWebhookURL: urls[name]})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ValidateWebhookURL accepts absolute http(s) URLs with a host.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("notifier: invalid webhook url: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("notifier: webhook url must be an absolute http(s) url")
	}
	return nil
}
