package receivers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-kit/log"
)

// DecryptFunc resolves the value for a sensitive settings key. When the key
// has no stored secret the fallback (the inline settings value) is returned.
type DecryptFunc func(key string, fallback string) string

// NoopDecrypt is used when a channel carries its secrets inline.
func NoopDecrypt(_ string, fallback string) string { return fallback }

// ChannelConfig is the channel entry of the gateway configuration after the
// channel-specific settings have been split off into raw JSON.
type ChannelConfig struct {
	// ID is the configuration key the channel was registered under and the
	// name routing rules refer to.
	ID   string `json:"id"`
	Type string `json:"type"`

	Enabled      bool `json:"enabled"`
	SendResolved bool `json:"send_resolved"`

	// Template names the template file rendered for this channel. Empty
	// selects the built-in default for the channel type.
	Template string `json:"template"`

	// ImageEnabled attaches a rendered trend chart when the alert yields
	// one. Only honored by channel types that can carry an image.
	ImageEnabled bool `json:"image_enabled"`

	// Timeout overrides the per-type default for outbound requests.
	Timeout time.Duration `json:"-"`

	// UseProxy routes this channel's traffic through the gateway proxy.
	UseProxy bool `json:"use_proxy"`

	// Proxy overrides the gateway proxy URL for this channel alone. Only
	// consulted when UseProxy is set.
	Proxy string `json:"proxy"`

	// Settings holds the channel-type specific fields (tokens, URLs,
	// broker addresses) exactly as configured.
	Settings json.RawMessage `json:"settings"`
}

func (c ChannelConfig) Metadata() Metadata {
	return Metadata{
		ID:           c.ID,
		Type:         c.Type,
		SendResolved: c.SendResolved,
	}
}

// FactoryConfig is everything a channel constructor needs.
type FactoryConfig struct {
	Config              ChannelConfig
	NotificationService WebhookSender
	EmailService        EmailSender
	Decrypt             DecryptFunc
	Logger              log.Logger
}

func NewFactoryConfig(config ChannelConfig, ns WebhookSender, es EmailSender, decrypt DecryptFunc, logger log.Logger) (FactoryConfig, error) {
	if config.Settings == nil {
		return FactoryConfig{}, errors.New("no settings supplied")
	}
	if decrypt == nil {
		decrypt = NoopDecrypt
	}
	return FactoryConfig{
		Config:              config,
		NotificationService: ns,
		EmailService:        es,
		Decrypt:             decrypt,
		Logger:              logger,
	}, nil
}

// NormalizeType maps configured type aliases onto the canonical channel
// type names used by the factory dispatch.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "telegram" {
		return "chat"
	}
	return t
}
