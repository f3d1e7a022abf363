// Package config loads and validates the gateway configuration file.
//
// The file is one YAML document. Channel entries are flat maps: the keys
// every channel shares (type, enabled, send_resolved, template and so on)
// are split off here, everything else is handed to the channel constructor
// as raw settings JSON.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/units"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"

	"github.com/ebpay-ops/alert-router/dedup"
	routerhttp "github.com/ebpay-ops/alert-router/http"
	"github.com/ebpay-ops/alert-router/images"
	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/routing"
	"github.com/ebpay-ops/alert-router/templates"
)

const (
	// EnvConfigFile overrides the configuration file location.
	EnvConfigFile = "CONFIG_FILE"

	// DefaultPath is where the gateway looks when CONFIG_FILE is unset.
	DefaultPath = "./config.yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig is the gateway configuration with nothing overridden.
var DefaultConfig = Config{
	Server: ServerConfig{
		Listen:       ":8080",
		ReadTimeout:  model.Duration(30 * time.Second),
		WriteTimeout: model.Duration(30 * time.Second),
		MaxBodySize:  ByteSize(4 * units.MiB),
	},
	Logging: LoggingConfig{
		Level:       "info",
		Format:      "logfmt",
		MaxBytes:    ByteSize(10 * units.MiB),
		BackupCount: 5,
	},
	History:      HistoryConfig{Encoding: "json"},
	JenkinsDedup: dedup.DefaultConfig,
	ProxyEnabled: true,
}

// Config is the root of the configuration file.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Templates templates.Config `yaml:"templates" json:"templates"`

	// Channels maps channel ID to its flat configuration entry.
	Channels map[string]map[string]any `yaml:"channels" json:"channels"`

	Routing []routing.Rule `yaml:"routing" json:"routing"`

	PrometheusImage images.Config `yaml:"prometheus_image" json:"prometheus_image"`
	GrafanaImage    images.Config `yaml:"grafana_image" json:"grafana_image"`

	JenkinsDedup dedup.Config `yaml:"jenkins_dedup" json:"jenkins_dedup"`

	History HistoryConfig               `yaml:"history" json:"history"`
	SMTP    receivers.EmailSenderConfig `yaml:"smtp" json:"smtp"`

	// Proxy is the gateway-wide outbound proxy. Channels inherit it unless
	// they disable proxying or name their own proxy URL.
	Proxy        string `yaml:"proxy" json:"proxy" validate:"omitempty,url"`
	ProxyEnabled bool   `yaml:"proxy_enabled" json:"proxy_enabled"`
}

func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = DefaultConfig
	type plain Config
	return unmarshal((*plain)(c))
}

// ServerConfig is the HTTP front door.
type ServerConfig struct {
	Listen       string         `yaml:"listen" json:"listen" validate:"required,hostname_port"`
	ReadTimeout  model.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout model.Duration `yaml:"write_timeout" json:"write_timeout"`

	// MaxBodySize caps the inbound webhook body.
	MaxBodySize ByteSize `yaml:"max_body_size" json:"max_body_size"`
}

// LoggingConfig is the log sink. An empty filename logs to stderr only,
// otherwise output is teed into a size-rotated file.
type LoggingConfig struct {
	Level       string   `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format      string   `yaml:"format" json:"format" validate:"omitempty,oneof=logfmt json"`
	Filename    string   `yaml:"filename" json:"filename"`
	MaxBytes    ByteSize `yaml:"max_bytes" json:"max_bytes"`
	BackupCount int      `yaml:"backup_count" json:"backup_count"`
}

// HistoryConfig is the delivery history sink. An empty URL disables it.
type HistoryConfig struct {
	URL               string            `yaml:"url" json:"url" validate:"omitempty,url"`
	TenantID          string            `yaml:"tenant_id" json:"tenant_id"`
	BasicAuthUser     string            `yaml:"basic_auth_user" json:"basic_auth_user"`
	BasicAuthPassword string            `yaml:"basic_auth_password" json:"basic_auth_password"`
	ExternalLabels    map[string]string `yaml:"external_labels" json:"external_labels"`
	Encoding          string            `yaml:"encoding" json:"encoding" validate:"omitempty,oneof=json snappy"`
}

func (c HistoryConfig) Enabled() bool { return c.URL != "" }

// Path resolves the configuration file location.
func Path() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes one YAML document and validates it.
func Parse(buf []byte) (*Config, error) {
	cfg := DefaultConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document as a whole: field constraints, routing rule
// compilation, channel entries and the references between them. A typo in
// a send_to target silently dropping pages is the worst failure mode this
// gateway has, so unknown references fail the load.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := routing.NewRouter(c.Routing); err != nil {
		return err
	}
	ccs, err := c.ChannelConfigs()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(ccs))
	for _, cc := range ccs {
		known[cc.ID] = struct{}{}
		if receivers.NormalizeType(cc.Type) == "email" && c.SMTP.Host == "" {
			return fmt.Errorf("channel %q: email channels need the smtp block", cc.ID)
		}
	}
	for i, rule := range c.Routing {
		for _, id := range rule.SendTo {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("routing rule %d: send_to references unknown channel %q", i, id)
			}
		}
	}
	if err := c.PrometheusImage.Validate(); err != nil {
		return fmt.Errorf("prometheus_image: %w", err)
	}
	if err := c.GrafanaImage.Validate(); err != nil {
		return fmt.Errorf("grafana_image: %w", err)
	}
	return nil
}

// ChannelConfigs splits every channel entry into the shared fields and the
// channel-type specific settings, in ID order.
func (c *Config) ChannelConfigs() ([]receivers.ChannelConfig, error) {
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]receivers.ChannelConfig, 0, len(ids))
	for _, id := range ids {
		cc, err := c.channelConfig(id, c.Channels[id])
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, nil
}

// ProxyConfig maps the global proxy keys onto the outbound client model.
func (c *Config) ProxyConfig() routerhttp.ProxyConfig {
	if !c.ProxyEnabled || c.Proxy == "" {
		return routerhttp.ProxyConfig{}
	}
	return routerhttp.ProxyConfig{ProxyURL: c.Proxy}
}

// Keys shared by all channel types. Anything else in an entry belongs to
// the channel's own settings.
const (
	keyType         = "type"
	keyEnabled      = "enabled"
	keySendResolved = "send_resolved"
	keyTemplate     = "template"
	keyImageEnabled = "image_enabled"
	keyTimeout      = "timeout_seconds"
	keyProxyEnabled = "proxy_enabled"
	keyProxy        = "proxy"
)

func (c *Config) channelConfig(id string, entry map[string]any) (receivers.ChannelConfig, error) {
	cc := receivers.ChannelConfig{
		ID:           id,
		Enabled:      true,
		SendResolved: true,
		UseProxy:     c.ProxyEnabled,
	}
	settings := make(map[string]any, len(entry))
	for key, v := range entry {
		var err error
		switch key {
		case keyType:
			cc.Type, err = stringValue(id, key, v)
		case keyEnabled:
			cc.Enabled, err = boolValue(id, key, v)
		case keySendResolved:
			cc.SendResolved, err = boolValue(id, key, v)
		case keyTemplate:
			cc.Template, err = stringValue(id, key, v)
		case keyImageEnabled:
			cc.ImageEnabled, err = boolValue(id, key, v)
		case keyTimeout:
			var n int
			n, err = intValue(id, key, v)
			cc.Timeout = time.Duration(n) * time.Second
		case keyProxyEnabled:
			cc.UseProxy, err = boolValue(id, key, v)
		case keyProxy:
			cc.Proxy, err = stringValue(id, key, v)
		default:
			settings[key] = v
		}
		if err != nil {
			return receivers.ChannelConfig{}, err
		}
	}
	if cc.Type == "" {
		return receivers.ChannelConfig{}, fmt.Errorf("channel %q: type is required", id)
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return receivers.ChannelConfig{}, fmt.Errorf("channel %q: %w", id, err)
	}
	cc.Settings = raw
	return cc, nil
}

func stringValue(id, key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("channel %q: %s must be a string, got %T", id, key, v)
	}
	return s, nil
}

func boolValue(id, key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("channel %q: %s must be a boolean, got %T", id, key, v)
	}
	return b, nil
}

func intValue(id, key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("channel %q: %s must be a number, got %T", id, key, v)
	}
}
