package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ebpay-ops/alert-router/receivers"
)

var (
	ErrOAuth2ClientIDRequired     = errors.New("client_id is required")
	ErrOAuth2ClientSecretRequired = errors.New("client_secret is required")
	ErrOAuth2TokenURLRequired     = errors.New("token_url is required")
	ErrOAuth2TLSConfigInvalid     = errors.New("invalid tls_config")
)

func ValidateOAuth2Config(cfg *receivers.OAuth2Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.ClientID == "" {
		return ErrOAuth2ClientIDRequired
	}
	if cfg.ClientSecret == "" {
		return ErrOAuth2ClientSecretRequired
	}
	if cfg.TokenURL == "" {
		return ErrOAuth2TokenURLRequired
	}
	if cfg.TLSConfig != nil {
		if _, err := cfg.TLSConfig.ToTLSConfig(); err != nil {
			return fmt.Errorf("%w: %w", ErrOAuth2TLSConfigInvalid, err)
		}
	}
	return nil
}

// NewOAuth2RoundTripper authorizes requests with a client-credentials token.
// Token endpoint traffic reuses the request transport unless the config
// carries its own TLS settings.
func NewOAuth2RoundTripper(cfg *receivers.OAuth2Config, next http.RoundTripper) (http.RoundTripper, error) {
	if err := ValidateOAuth2Config(cfg); err != nil {
		return nil, err
	}

	tokenClient := &http.Client{Transport: next}
	if cfg.TLSConfig != nil {
		tlsCfg, err := cfg.TLSConfig.ToTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOAuth2TLSConfigInvalid, err)
		}
		tokenClient = NewTLSClient(tlsCfg)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	if len(cfg.EndpointParams) > 0 {
		params := make(url.Values, len(cfg.EndpointParams))
		for k, v := range cfg.EndpointParams {
			params.Set(k, v)
		}
		cc.EndpointParams = params
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)
	return &oauth2.Transport{
		Source: cc.TokenSource(ctx),
		Base:   next,
	}, nil
}
