package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/templates"
)

const defaultTimeout = 10 * time.Second

// Notifier submits the rendered notification through the shared SMTP
// relay. The body goes out as HTML when the channel template is
// HTML-flavored, as plain text otherwise.
type Notifier struct {
	*receivers.Base
	ns       receivers.EmailSender
	settings Config
	template string
	timeout  time.Duration
}

func New(fc receivers.FactoryConfig) (*Notifier, error) {
	settings, err := NewConfig(fc.Config.Settings)
	if err != nil {
		return nil, err
	}
	if fc.EmailService == nil {
		return nil, errors.New("SMTP relay is not configured")
	}
	timeout := defaultTimeout
	if fc.Config.Timeout > 0 {
		timeout = fc.Config.Timeout
	}
	return &Notifier{
		Base:     receivers.NewBase(fc.Config.Metadata(), fc.Logger),
		ns:       fc.EmailService,
		settings: settings,
		template: fc.Config.Template,
		timeout:  timeout,
	}, nil
}

func (en *Notifier) Notify(ctx context.Context, n *receivers.Notification) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, en.timeout)
	defer cancel()

	cmd := &receivers.SendEmailSettings{
		To:          en.settings.Addresses,
		SingleEmail: en.settings.SingleEmail,
		Subject:     en.subject(n),
		Body:        n.Text,
		ContentType: contentTypeFor(en.template),
	}
	if err := en.ns.SendEmail(ctx, cmd); err != nil {
		return "", fmt.Errorf("email send failed: %w", err)
	}
	return "", nil
}

func (en *Notifier) subject(n *receivers.Notification) string {
	if en.settings.Subject != "" {
		return en.settings.Subject
	}
	if n.Alert != nil && n.Alert.Name() != "" {
		return fmt.Sprintf("【%s】%s", templates.StatusText(n.Alert.Status), n.Alert.Name())
	}
	return "告警通知"
}

func contentTypeFor(templateName string) string {
	if strings.HasSuffix(templateName, ".html") || strings.HasSuffix(templateName, ".htm") {
		return "text/html"
	}
	return "text/plain"
}
