package email

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port := 587
		if v := config["port"]; v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("email: invalid port %q: %w", v, err)
			}
			port = p
		}
		var to []string
		for _, addr := range strings.Split(config["to"], ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			Username: config["username"],
			Password: config["password"],
			From:     config["from"],
			To:       to,
		}), nil
	}, "host", "to")
}
