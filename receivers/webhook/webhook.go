package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/ebpay-ops/alert-router/receivers"
)

const defaultTimeout = 10 * time.Second

// Notifier posts the rendered notification body to a configured URL.
// Webhook templates are expected to produce JSON; the body is forwarded
// byte for byte either way.
type Notifier struct {
	*receivers.Base
	ns       receivers.WebhookSender
	settings Config
	useProxy bool
	proxyURL string
	timeout  time.Duration
}

func New(fc receivers.FactoryConfig) (*Notifier, error) {
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
		ns:       fc.NotificationService,
		settings: settings,
		useProxy: fc.Config.UseProxy,
		proxyURL: fc.Config.Proxy,
		timeout:  timeout,
	}, nil
}

// Notify sends the body in a single request with no retries. A non-2xx
// status fails the delivery with the status code in the error.
func (wn *Notifier) Notify(ctx context.Context, n *receivers.Notification) (string, error) {
	l := wn.GetLogger(ctx)

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if wn.settings.AuthorizationScheme != "" && wn.settings.AuthorizationCredentials != "" {
		headers["Authorization"] = fmt.Sprintf("%s %s", wn.settings.AuthorizationScheme, wn.settings.AuthorizationCredentials)
	}

	cmd := &receivers.SendWebhookSettings{
		URL:        wn.settings.URL,
		User:       wn.settings.User,
		Password:   wn.settings.Password,
		Body:       n.Text,
		HTTPMethod: wn.settings.HTTPMethod,
		HTTPHeader: headers,
		Timeout:    wn.timeout,
		UseProxy:   wn.useProxy,
		ProxyURL:   wn.proxyURL,
		HMACConfig: wn.settings.HMACConfig,
	}
	if wn.settings.TLSConfig != nil {
		tlsCfg, err := wn.settings.TLSConfig.ToTLSConfig()
		if err != nil {
			return "", fmt.Errorf("invalid TLS configuration: %w", err)
		}
		cmd.TLSConfig = tlsCfg
	}
	if wn.settings.HTTPConfig != nil {
		cmd.OAuth2Config = wn.settings.HTTPConfig.OAuth2
	}

	if _, err := wn.ns.SendWebhook(ctx, l, cmd); err != nil {
		return "", fmt.Errorf("webhook send failed: %w", err)
	}
	return "", nil
}
