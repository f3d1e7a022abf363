package receivers

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-kit/log"
)

// HMACConfig signs outgoing request bodies with a shared secret.
type HMACConfig struct {
	Secret          string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Header          string `json:"header,omitempty" yaml:"header,omitempty"`
	TimestampHeader string `json:"timestampHeader,omitempty" yaml:"timestampHeader,omitempty"`
}

// OAuth2Config is the client-credentials grant used to authorize outgoing
// requests. The token endpoint is called through the same transport as the
// request itself.
type OAuth2Config struct {
	ClientID       string            `json:"client_id" yaml:"client_id"`
	ClientSecret   string            `json:"client_secret" yaml:"client_secret"`
	TokenURL       string            `json:"token_url" yaml:"token_url"`
	Scopes         []string          `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	EndpointParams map[string]string `json:"endpoint_params,omitempty" yaml:"endpoint_params,omitempty"`
	TLSConfig      *TLSConfig        `json:"tls_config,omitempty" yaml:"tls_config,omitempty"`
}

// SendWebhookSettings describes one outbound HTTP exchange.
type SendWebhookSettings struct {
	URL         string
	User        string
	Password    string
	Body        string
	HTTPMethod  string
	HTTPHeader  map[string]string
	ContentType string

	// Timeout bounds the whole exchange when non-zero.
	Timeout time.Duration

	// UseProxy routes the request through the gateway proxy, when one is
	// configured. ProxyURL overrides the gateway proxy for this request.
	UseProxy bool
	ProxyURL string

	TLSConfig    *tls.Config
	HMACConfig   *HMACConfig
	OAuth2Config *OAuth2Config

	// Validation inspects the response before the status check. An error
	// fails the send even on a 2xx status.
	Validation func(body []byte, statusCode int) error
}

// WebhookResponse is returned alongside the error so that callers can
// inspect failure bodies, e.g. to pick a fallback request shape.
type WebhookResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// WebhookSender sends an HTTP request on behalf of a notifier.
type WebhookSender interface {
	SendWebhook(ctx context.Context, l log.Logger, cmd *SendWebhookSettings) (*WebhookResponse, error)
}

// SendEmailSettings is one outbound mail submission. The body arrives fully
// rendered; ContentType selects the MIME part it is attached as.
type SendEmailSettings struct {
	To          []string
	SingleEmail bool
	Subject     string
	Body        string
	ContentType string
	ReplyTo     []string
}

// EmailSender submits mail through the configured SMTP relay.
type EmailSender interface {
	SendEmail(ctx context.Context, cmd *SendEmailSettings) error
}
