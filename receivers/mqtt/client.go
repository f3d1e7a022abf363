package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	mqttLib "github.com/at-wat/mqtt-go"
)

type client interface {
	Connect(ctx context.Context, brokerURL, clientID, username, password string, tlsCfg *tls.Config) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, message message) error
}

type message struct {
	topic   string
	payload []byte
	retain  bool
	qos     int
}

// mqttClient is a thin wrapper over the library client. One instance
// handles one connect-publish-disconnect cycle.
type mqttClient struct {
	client mqttLib.Client
}

func (c *mqttClient) Connect(ctx context.Context, brokerURL, clientID, username, password string, tlsCfg *tls.Config) error {
	parsedURL, err := url.Parse(brokerURL)
	if err != nil {
		return fmt.Errorf("failed to parse broker URL: %w", err)
	}
	if parsedURL.Scheme == "ssl" {
		parsedURL.Scheme = "tls"
	}

	var dialOpts []mqttLib.DialOption
	if parsedURL.Scheme == "tls" && tlsCfg != nil {
		dialOpts = append(dialOpts, mqttLib.WithTLSConfig(tlsCfg))
	}

	baseClient, err := mqttLib.DialContext(ctx, parsedURL.String(), dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to dial the MQTT broker: %w", err)
	}
	c.client = baseClient

	if _, err := c.client.Connect(ctx, clientID, mqttLib.WithUserNamePassword(username, password)); err != nil {
		return fmt.Errorf("failed to connect to the MQTT broker: %w", err)
	}
	return nil
}

func (c *mqttClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *mqttClient) Publish(ctx context.Context, message message) error {
	var qos mqttLib.QoS
	switch message.qos {
	case 0:
		qos = mqttLib.QoS0
	case 1:
		qos = mqttLib.QoS1
	case 2:
		qos = mqttLib.QoS2
	default:
		return fmt.Errorf("invalid QoS level %d, must be 0, 1 or 2", message.qos)
	}

	return c.client.Publish(ctx, &mqttLib.Message{
		Topic:   message.topic,
		Payload: message.payload,
		QoS:     qos,
		Retain:  message.retain,
	})
}
