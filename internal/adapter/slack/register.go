package slack

import "github.com/Strob0t/SpendPilot/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		webhook := config[notifier.ConfigWebhookURL]
		if err := notifier.ValidateWebhookURL(webhook); err != nil {
			return nil, err
		}
		return NewNotifier(webhook), nil
	})
}
