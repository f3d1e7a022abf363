package notify

import (
	"fmt"

	"github.com/go-kit/log"

	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/receivers/chat"
	"github.com/ebpay-ops/alert-router/receivers/email"
	"github.com/ebpay-ops/alert-router/receivers/mqtt"
	"github.com/ebpay-ops/alert-router/receivers/sns"
	"github.com/ebpay-ops/alert-router/receivers/webhook"
)

// BuildChannels constructs one notifier per configured channel, keyed by
// channel ID. Disabled channels are carried without a notifier: their
// settings may be stale, and suppression happens before any send.
func BuildChannels(cfgs []receivers.ChannelConfig, ns receivers.WebhookSender, es receivers.EmailSender, decrypt receivers.DecryptFunc, logger log.Logger) (map[string]*Channel, error) {
	channels := make(map[string]*Channel, len(cfgs))
	for _, cfg := range cfgs {
		if _, dup := channels[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %q", cfg.ID)
		}
		if !cfg.Enabled {
			channels[cfg.ID] = &Channel{Config: cfg}
			continue
		}
		fc, err := receivers.NewFactoryConfig(cfg, ns, es, decrypt, log.With(logger, "channel", cfg.ID))
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.ID, err)
		}
		n, err := buildNotifier(fc)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.ID, err)
		}
		channels[cfg.ID] = &Channel{Config: cfg, Notifier: n}
	}
	return channels, nil
}

func buildNotifier(fc receivers.FactoryConfig) (receivers.NotificationChannel, error) {
	switch receivers.NormalizeType(fc.Config.Type) {
	case "chat":
		return chat.New(fc)
	case "webhook":
		return webhook.New(fc)
	case "mqtt":
		return mqtt.New(fc)
	case "sns":
		return sns.New(fc)
	case "email":
		return email.New(fc)
	default:
		return nil, fmt.Errorf("unknown channel type %q", fc.Config.Type)
	}
}
