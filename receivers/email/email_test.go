package email

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/ebpay-ops/alert-router/alert"
	"github.com/ebpay-ops/alert-router/receivers"
)

type fakeEmailSender struct {
	cmd *receivers.SendEmailSettings
	err error
}

func (f *fakeEmailSender) SendEmail(_ context.Context, cmd *receivers.SendEmailSettings) error {
	f.cmd = cmd
	return f.err
}

func newTestNotifier(t *testing.T, settings, template string, sender receivers.EmailSender) *Notifier {
	t.Helper()
	fc := receivers.FactoryConfig{
		Config: receivers.ChannelConfig{
			ID:       "ops-email",
			Type:     "email",
			Settings: json.RawMessage(settings),
			Template: template,
		},
		EmailService: sender,
		Decrypt:      receivers.NoopDecrypt,
		Logger:       log.NewNopLogger(),
	}
	n, err := New(fc)
	require.NoError(t, err)
	return n
}

func TestNotify(t *testing.T) {
	sender := &fakeEmailSender{}
	n := newTestNotifier(t, `{"addresses": "a@example.com;b@example.com", "singleEmail": true}`, "", sender)

	note, err := n.Notify(context.Background(), &receivers.Notification{
		Alert: &alert.Alert{Status: alert.StatusFiring, Labels: alert.KV{"alertname": "cpu high"}},
		Text:  "告警正文",
	})
	require.NoError(t, err)
	require.Empty(t, note)

	require.NotNil(t, sender.cmd)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, sender.cmd.To)
	require.True(t, sender.cmd.SingleEmail)
	require.Equal(t, "【告警】cpu high", sender.cmd.Subject)
	require.Equal(t, "告警正文", sender.cmd.Body)
	require.Equal(t, "text/plain", sender.cmd.ContentType)
}

func TestNotifyResolvedSubject(t *testing.T) {
	sender := &fakeEmailSender{}
	n := newTestNotifier(t, `{"addresses": "a@example.com"}`, "", sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{
		Alert: &alert.Alert{Status: alert.StatusResolved, Labels: alert.KV{"alertname": "cpu high"}},
		Text:  "恢复正文",
	})
	require.NoError(t, err)
	require.Equal(t, "【恢复】cpu high", sender.cmd.Subject)
}

func TestNotifyConfiguredSubjectWins(t *testing.T) {
	sender := &fakeEmailSender{}
	n := newTestNotifier(t, `{"addresses": "a@example.com", "subject": "生产告警"}`, "", sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{
		Alert: &alert.Alert{Status: alert.StatusFiring, Labels: alert.KV{"alertname": "cpu high"}},
		Text:  "x",
	})
	require.NoError(t, err)
	require.Equal(t, "生产告警", sender.cmd.Subject)
}

func TestNotifyHTMLTemplate(t *testing.T) {
	sender := &fakeEmailSender{}
	n := newTestNotifier(t, `{"addresses": "a@example.com"}`, "email_ops.html", sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "<h1>告警</h1>"})
	require.NoError(t, err)
	require.Equal(t, "text/html", sender.cmd.ContentType)
	require.Equal(t, "告警通知", sender.cmd.Subject)
}

func TestNotifySendFailure(t *testing.T) {
	sender := &fakeEmailSender{err: errors.New("connection refused")}
	n := newTestNotifier(t, `{"addresses": "a@example.com"}`, "", sender)

	_, err := n.Notify(context.Background(), &receivers.Notification{Text: "x"})
	require.ErrorContains(t, err, "email send failed")
}

func TestNewRequiresRelay(t *testing.T) {
	fc := receivers.FactoryConfig{
		Config: receivers.ChannelConfig{
			ID:       "ops-email",
			Type:     "email",
			Settings: json.RawMessage(`{"addresses": "a@example.com"}`),
		},
		Decrypt: receivers.NoopDecrypt,
		Logger:  log.NewNopLogger(),
	}
	_, err := New(fc)
	require.ErrorContains(t, err, "SMTP relay is not configured")
}
