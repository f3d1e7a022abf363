package receivers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	mail "gopkg.in/mail.v2"
)

const defaultSMTPTimeout = 10 * time.Second

// EmailSenderConfig is the SMTP relay section of the gateway configuration.
// One sender is shared by every email channel.
type EmailSenderConfig struct {
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	FromAddress string `yaml:"from_address" json:"from_address"`
	FromName    string `yaml:"from_name" json:"from_name"`

	// StartTLSPolicy is one of "mandatory", "opportunistic" or "none".
	// Empty means opportunistic.
	StartTLSPolicy string `yaml:"starttls_policy" json:"starttls_policy"`
	SkipVerify     bool   `yaml:"skip_verify" json:"skip_verify"`

	// StaticHeaders are added verbatim to every message.
	StaticHeaders map[string]string `yaml:"static_headers" json:"static_headers"`

	Timeout time.Duration `yaml:"-" json:"-"`
}

type defaultEmailSender struct {
	cfg    EmailSenderConfig
	logger log.Logger
}

// NewEmailSenderFactory returns a constructor that hands each channel an
// EmailSender bound to the shared relay settings.
func NewEmailSenderFactory(cfg EmailSenderConfig, logger log.Logger) func(Metadata) (EmailSender, error) {
	return func(meta Metadata) (EmailSender, error) {
		if cfg.Host == "" {
			return nil, errors.New("smtp host is not configured")
		}
		if cfg.FromAddress == "" {
			return nil, errors.New("smtp from_address is not configured")
		}
		l := logger
		if meta.ID != "" {
			l = log.With(logger, "channel", meta.ID)
		}
		return &defaultEmailSender{cfg: cfg, logger: l}, nil
	}
}

func (s *defaultEmailSender) SendEmail(ctx context.Context, cmd *SendEmailSettings) error {
	msgs, err := s.buildMessages(cmd)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errors.New("email has no recipients")
	}

	d := s.createDialer()
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < d.Timeout {
			d.Timeout = left
		}
	}

	sc, err := d.Dial()
	if err != nil {
		return fmt.Errorf("dial smtp relay %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	defer func() {
		if err := sc.Close(); err != nil {
			level.Debug(s.logger).Log("msg", "failed to close smtp connection", "err", err)
		}
	}()

	if err := mail.Send(sc, msgs...); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *defaultEmailSender) createDialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		InsecureSkipVerify: s.cfg.SkipVerify,
		ServerName:         s.cfg.Host,
	}
	switch strings.ToLower(s.cfg.StartTLSPolicy) {
	case "mandatory":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}
	d.Timeout = s.cfg.Timeout
	if d.Timeout <= 0 {
		d.Timeout = defaultSMTPTimeout
	}
	return d
}

// buildMessages turns one SendEmailSettings into the messages to submit.
// SingleEmail puts every recipient on one message, otherwise each recipient
// gets their own copy.
func (s *defaultEmailSender) buildMessages(cmd *SendEmailSettings) ([]*mail.Message, error) {
	if len(cmd.To) == 0 {
		return nil, errors.New("email has no recipients")
	}
	contentType := cmd.ContentType
	if contentType == "" {
		contentType = "text/html"
	}

	recipientLists := make([][]string, 0, len(cmd.To))
	if cmd.SingleEmail {
		recipientLists = append(recipientLists, cmd.To)
	} else {
		for _, to := range cmd.To {
			recipientLists = append(recipientLists, []string{to})
		}
	}

	msgs := make([]*mail.Message, 0, len(recipientLists))
	for _, to := range recipientLists {
		m := mail.NewMessage()
		m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
		m.SetHeader("To", to...)
		if len(cmd.ReplyTo) > 0 {
			m.SetHeader("Reply-To", cmd.ReplyTo...)
		}
		for k, v := range s.cfg.StaticHeaders {
			m.SetHeader(k, v)
		}
		m.SetHeader("Subject", cmd.Subject)
		m.SetBody(contentType, cmd.Body)
		msgs = append(msgs, m)
	}
	return msgs, nil
}
