package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	"github.com/ebpay-ops/alert-router/receivers"
)

const defaultTimeout = 10 * time.Second

// Notifier publishes the rendered notification text to a broker topic.
// Every delivery runs a full connect-publish-disconnect cycle; alert
// traffic is too sparse to keep a session open.
type Notifier struct {
	*receivers.Base
	settings Config
	client   client
	timeout  time.Duration
}

func New(fc receivers.FactoryConfig) (*Notifier, error) {
	return NewWithClient(fc, &mqttClient{})
}

func NewWithClient(fc receivers.FactoryConfig, cli client) (*Notifier, error) {
	settings, err := NewConfig(fc.Config.Settings, fc.Decrypt)
	if err != nil {
		return nil, err
	}
	timeout := defaultTimeout
	if fc.Config.Timeout > 0 {
		timeout = fc.Config.Timeout
	}
	return &Notifier{
		Base:     receivers.NewBase(fc.Config.Metadata(), fc.Logger),
		settings: settings,
		client:   cli,
		timeout:  timeout,
	}, nil
}

func (mn *Notifier) Notify(ctx context.Context, n *receivers.Notification) (string, error) {
	l := mn.GetLogger(ctx)
	level.Debug(l).Log("msg", "Publishing MQTT message", "topic", mn.settings.Topic, "qos", mn.settings.QoS, "retain", mn.settings.Retain)

	ctx, cancel := context.WithTimeout(ctx, mn.timeout)
	defer cancel()

	tlsCfg, err := mn.buildTLSConfig()
	if err != nil {
		return "", fmt.Errorf("failed to build TLS config: %w", err)
	}

	if err := mn.client.Connect(ctx, mn.settings.BrokerURL, mn.settings.ClientID, mn.settings.Username, mn.settings.Password, tlsCfg); err != nil {
		return "", fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer func() {
		if err := mn.client.Disconnect(ctx); err != nil {
			level.Warn(l).Log("msg", "Failed to disconnect from MQTT broker", "err", err)
		}
	}()

	qos, err := mn.settings.QoS.Int64()
	if err != nil {
		return "", fmt.Errorf("failed to parse QoS: %w", err)
	}

	err = mn.client.Publish(ctx, message{
		topic:   mn.settings.Topic,
		payload: []byte(n.Text),
		retain:  mn.settings.Retain,
		qos:     int(qos),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish MQTT message: %w", err)
	}
	return "", nil
}

func (mn *Notifier) buildTLSConfig() (*tls.Config, error) {
	if mn.settings.TLSConfig == nil {
		return nil, nil
	}
	return mn.settings.TLSConfig.ToTLSConfig()
}
