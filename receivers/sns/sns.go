package sns

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ebpay-ops/alert-router/receivers"
)

// SNS caps message payloads at 256KB, SMS deliveries at 1600 bytes and
// subjects at 100 characters.
const (
	messageSizeLimit    = 256 * 1024
	smsMessageSizeLimit = 1600
	subjectSizeLimit    = 100
)

// Notifier publishes the rendered notification as an SNS message. Images
// are ignored.
type Notifier struct {
	*receivers.Base
	settings Config
	client   snsiface.SNSAPI
}

func New(fc receivers.FactoryConfig) (*Notifier, error) {
	settings, err := NewConfig(fc.Config.Settings, fc.Decrypt)
	if err != nil {
		return nil, err
	}
	client, err := newSNSClient(settings)
	if err != nil {
		return nil, err
	}
	return newNotifier(fc, settings, client), nil
}

// NewWithClient skips session construction; tests inject a fake client.
func NewWithClient(fc receivers.FactoryConfig, client snsiface.SNSAPI) (*Notifier, error) {
	settings, err := NewConfig(fc.Config.Settings, fc.Decrypt)
	if err != nil {
		return nil, err
	}
	return newNotifier(fc, settings, client), nil
}

func newNotifier(fc receivers.FactoryConfig, settings Config, client snsiface.SNSAPI) *Notifier {
	return &Notifier{
		Base:     receivers.NewBase(fc.Config.Metadata(), fc.Logger),
		settings: settings,
		client:   client,
	}
}

func newSNSClient(settings Config) (snsiface.SNSAPI, error) {
	cfg := aws.NewConfig()
	if settings.Region != "" {
		cfg = cfg.WithRegion(settings.Region)
	}
	if settings.APIUrl != "" {
		cfg = cfg.WithEndpoint(settings.APIUrl)
	}
	if settings.AccessKey != "" && settings.SecretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(settings.AccessKey, settings.SecretKey, settings.SessionToken))
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sns.New(sess), nil
}

func (sn *Notifier) Notify(ctx context.Context, n *receivers.Notification) (string, error) {
	l := sn.GetLogger(ctx)

	input, err := sn.createPublishInput(l, n)
	if err != nil {
		return "", err
	}

	if _, err := sn.client.PublishWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("failed to publish SNS message: %w", err)
	}
	return "", nil
}

func (sn *Notifier) createPublishInput(l log.Logger, n *receivers.Notification) (*sns.PublishInput, error) {
	input := &sns.PublishInput{}
	attributes := sn.createMessageAttributes()

	sizeLimit := messageSizeLimit
	switch {
	case sn.settings.TopicARN != "":
		input.TopicArn = aws.String(sn.settings.TopicARN)
	case sn.settings.PhoneNumber != "":
		input.PhoneNumber = aws.String(sn.settings.PhoneNumber)
		sizeLimit = smsMessageSizeLimit
	case sn.settings.TargetARN != "":
		input.TargetArn = aws.String(sn.settings.TargetARN)
	}

	message, truncated, err := validateAndTruncate(n.Text, sizeLimit)
	if err != nil {
		return nil, err
	}
	if truncated {
		attributes["truncated"] = &sns.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String("true")}
		level.Warn(l).Log("msg", "Truncated SNS message", "max_bytes", sizeLimit)
	}
	input.Message = aws.String(message)

	if subject := sn.subject(n); subject != "" {
		subject, truncated, err := validateAndTruncate(subject, subjectSizeLimit)
		if err != nil {
			return nil, err
		}
		if truncated {
			attributes["subject_truncated"] = &sns.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String("true")}
			level.Warn(l).Log("msg", "Truncated SNS subject", "max_bytes", subjectSizeLimit)
		}
		input.Subject = aws.String(subject)
	}

	input.MessageAttributes = attributes
	return input, nil
}

// subject prefers the configured subject and falls back to the alert name.
func (sn *Notifier) subject(n *receivers.Notification) string {
	if sn.settings.Subject != "" {
		return sn.settings.Subject
	}
	if n.Alert != nil {
		return n.Alert.Name()
	}
	return ""
}

func (sn *Notifier) createMessageAttributes() map[string]*sns.MessageAttributeValue {
	attributes := make(map[string]*sns.MessageAttributeValue, len(sn.settings.Attributes)+2)
	for k, v := range sn.settings.Attributes {
		attributes[k] = &sns.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return attributes
}

func validateAndTruncate(s string, maxBytes int) (string, bool, error) {
	if !utf8.ValidString(s) {
		return "", false, fmt.Errorf("non utf8 encoded message string")
	}
	if len(s) <= maxBytes {
		return s, false, nil
	}
	truncated := make([]byte, maxBytes)
	copy(truncated, s)
	return string(truncated), true, nil
}
