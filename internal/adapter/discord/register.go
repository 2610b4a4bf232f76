package discord

import "github.com/Strob0t/BuzzForge/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(config["webhook_url"], config["username"]), nil
	}, "webhook_url")
}
