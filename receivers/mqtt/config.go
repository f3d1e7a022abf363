package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ebpay-ops/alert-router/receivers"
)

type Config struct {
	BrokerURL string                   `json:"brokerUrl,omitempty" yaml:"brokerUrl,omitempty"`
	ClientID  string                   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Topic     string                   `json:"topic,omitempty" yaml:"topic,omitempty"`
	Username  string                   `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string                   `json:"password,omitempty" yaml:"password,omitempty"`
	QoS       receivers.OptionalNumber `json:"qos,omitempty" yaml:"qos,omitempty"`
	Retain    bool                     `json:"retain,omitempty" yaml:"retain,omitempty"`
	TLSConfig *receivers.TLSConfig     `json:"tlsConfig,omitempty" yaml:"tlsConfig,omitempty"`
}

func NewConfig(jsonData json.RawMessage, decryptFn receivers.DecryptFunc) (Config, error) {
	var settings Config
	err := json.Unmarshal(jsonData, &settings)
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if settings.BrokerURL == "" {
		return Config{}, errors.New("MQTT broker URL must be specified")
	}
	parsedURL, err := parseBrokerURL(settings.BrokerURL)
	if err != nil {
		return Config{}, fmt.Errorf("Invalid MQTT broker URL: %w", err)
	}

	if settings.Topic == "" {
		return Config{}, errors.New("MQTT topic must be specified")
	}

	if settings.ClientID == "" {
		settings.ClientID = fmt.Sprintf("alert-router_%d", rand.Int31())
	}

	settings.Password = decryptFn("password", settings.Password)

	// The server name is always pinned to the broker host so that an
	// ssl:// broker verifies out of the box.
	if settings.TLSConfig == nil {
		settings.TLSConfig = &receivers.TLSConfig{}
	}
	if settings.TLSConfig.ServerName == "" {
		settings.TLSConfig.ServerName = parsedURL.Hostname()
	}
	settings.TLSConfig.CACertificate = decryptFn("tlsConfig.caCertificate", settings.TLSConfig.CACertificate)
	settings.TLSConfig.ClientCertificate = decryptFn("tlsConfig.clientCertificate", settings.TLSConfig.ClientCertificate)
	settings.TLSConfig.ClientKey = decryptFn("tlsConfig.clientKey", settings.TLSConfig.ClientKey)

	return settings, nil
}

func parseBrokerURL(brokerURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(brokerURL)
	if err != nil {
		return nil, err
	}

	if parsedURL.Scheme != "tcp" && parsedURL.Scheme != "ssl" {
		return nil, errors.New("Invalid scheme, must be 'tcp' or 'ssl'")
	}

	host := parsedURL.Host
	if !strings.Contains(host, ":") {
		return nil, errors.New("Port must be specified")
	}

	_, port, err := net.SplitHostPort(host)
	if err != nil {
		return nil, err
	}

	if portNum, err := strconv.ParseInt(port, 10, 32); err != nil || portNum > 65535 || portNum < 1 {
		return nil, errors.New("Port must be a valid number between 1 and 65535")
	}

	return parsedURL, nil
}
