package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/receivers"
)

// recordingSender captures every SendWebhook call and returns a scripted
// error, success when none is set.
type recordingSender struct {
	calls []receivers.SendWebhookSettings
	err   error
}

func (s *recordingSender) SendWebhook(_ context.Context, _ log.Logger, cmd *receivers.SendWebhookSettings) (*receivers.WebhookResponse, error) {
	s.calls = append(s.calls, *cmd)
	if s.err != nil {
		return &receivers.WebhookResponse{StatusCode: 503}, s.err
	}
	return &receivers.WebhookResponse{StatusCode: 200}, nil
}

func newTestNotifier(t *testing.T, settings string, timeout time.Duration, useProxy bool, sender *recordingSender) *Notifier {
	t.Helper()
	fc := receivers.FactoryConfig{
		Config: receivers.ChannelConfig{
			ID:       "ops-webhook",
			Type:     "webhook",
			Settings: json.RawMessage(settings),
			Timeout:  timeout,
			UseProxy: useProxy,
		},
		NotificationService: sender,
		Decrypt:             receivers.NoopDecrypt,
		Logger:              log.NewNopLogger(),
	}
	n, err := New(fc)
	require.NoError(t, err)
	return n
}

func TestNotify(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, `{"url": "http://localhost/hook"}`, 0, false, sender)

	body := `{"status": "firing", "title": "[告警] cpu high"}`
	note, err := n.Notify(context.Background(), &receivers.Notification{
		Alert: &alert.Alert{Status: alert.StatusFiring, Labels: alert.KV{"alertname": "cpu high"}},
		Text:  body,
	})
	require.NoError(t, err)
	require.Empty(t, note)
	require.Len(t, sender.calls, 1)

	cmd := sender.calls[0]
	require.Equal(t, "http://localhost/hook", cmd.URL)
	require.Equal(t, "POST", cmd.HTTPMethod)
	require.Equal(t, body, cmd.Body)
	require.Equal(t, "application/json", cmd.HTTPHeader["Content-Type"])
	require.Equal(t, 10*time.Second, cmd.Timeout)
	require.False(t, cmd.UseProxy)
	require.Nil(t, cmd.TLSConfig)
	require.Nil(t, cmd.OAuth2Config)
}

func TestNotifyChannelOverrides(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, `{"url": "http://localhost/hook", "httpMethod": "PUT"}`, 3*time.Second, true, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)

	cmd := sender.calls[0]
	require.Equal(t, "PUT", cmd.HTTPMethod)
	require.Equal(t, 3*time.Second, cmd.Timeout)
	require.True(t, cmd.UseProxy)
}

func TestNotifyAuthorizationHeader(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, `{"url": "http://localhost/hook", "authorization_credentials": "tok"}`, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", sender.calls[0].HTTPHeader["Authorization"])
}

func TestNotifyBasicAuth(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, `{"url": "http://localhost/hook", "username": "grafana", "password": "admin"}`, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.NoError(t, err)

	cmd := sender.calls[0]
	require.Equal(t, "grafana", cmd.User)
	require.Equal(t, "admin", cmd.Password)
	require.NotContains(t, cmd.HTTPHeader, "Authorization")
}

func TestNotifyTLSAndHMAC(t *testing.T) {
	sender := &recordingSender{}
	settings := `{
		"url": "https://localhost/hook",
		"tlsConfig": {"insecureSkipVerify": true},
		"hmacConfig": {"secret": "s", "header": "X-Signature"}
	}`
	n := newTestNotifier(t, settings, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.NoError(t, err)

	cmd := sender.calls[0]
	require.NotNil(t, cmd.TLSConfig)
	require.True(t, cmd.TLSConfig.InsecureSkipVerify)
	require.NotNil(t, cmd.HMACConfig)
	require.Equal(t, "s", cmd.HMACConfig.Secret)
	require.Equal(t, "X-Signature", cmd.HMACConfig.Header)
}

func TestNotifyOAuth2Passthrough(t *testing.T) {
	sender := &recordingSender{}
	settings := `{
		"url": "http://localhost/hook",
		"http_config": {"oauth2": {"client_id": "id", "client_secret": "secret", "token_url": "https://localhost/auth/token"}}
	}`
	n := newTestNotifier(t, settings, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.NoError(t, err)

	cmd := sender.calls[0]
	require.NotNil(t, cmd.OAuth2Config)
	require.Equal(t, "id", cmd.OAuth2Config.ClientID)
	require.Equal(t, "https://localhost/auth/token", cmd.OAuth2Config.TokenURL)
}

func TestNotifySendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("webhook response status 503 Service Unavailable")}
	n := newTestNotifier(t, `{"url": "http://localhost/hook"}`, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "{}"})
	require.ErrorContains(t, err, "webhook send failed")
	require.ErrorContains(t, err, "503")
}

func TestNotifyIgnoresImage(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, `{"url": "http://localhost/hook"}`, 0, false, sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{
		Text:  `{"status": "firing"}`,
		Image: []byte("\x89PNG\r\n\x1a\nfakechart"),
	})
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	require.Equal(t, `{"status": "firing"}`, sender.calls[0].Body)
}
