package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	routerhttp "github.com/ebpay-ops/alert-router/http"
	"github.com/ebpay-ops/alert-router/receivers"
)

type Config struct {
	URL        string
	HTTPMethod string
	// Authorization Header.
	AuthorizationScheme      string
	AuthorizationCredentials string
	// HTTP Basic Authentication.
	User     string
	Password string

	TLSConfig  *receivers.TLSConfig
	HMACConfig *receivers.HMACConfig
	HTTPConfig *routerhttp.HTTPClientConfig
}

func NewConfig(jsonData json.RawMessage, decryptFn receivers.DecryptFunc) (Config, error) {
	settings := Config{}
	rawSettings := struct {
		URL                      string                       `json:"url,omitempty" yaml:"url,omitempty"`
		WebhookURL               string                       `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
		HTTPMethod               string                       `json:"httpMethod,omitempty" yaml:"httpMethod,omitempty"`
		AuthorizationScheme      string                       `json:"authorization_scheme,omitempty" yaml:"authorization_scheme,omitempty"`
		AuthorizationCredentials string                       `json:"authorization_credentials,omitempty" yaml:"authorization_credentials,omitempty"`
		User                     string                       `json:"username,omitempty" yaml:"username,omitempty"`
		Password                 string                       `json:"password,omitempty" yaml:"password,omitempty"`
		TLSConfig                *receivers.TLSConfig         `json:"tlsConfig,omitempty" yaml:"tlsConfig,omitempty"`
		HMACConfig               *receivers.HMACConfig        `json:"hmacConfig,omitempty" yaml:"hmacConfig,omitempty"`
		HTTPConfig               *routerhttp.HTTPClientConfig `json:"http_config,omitempty" yaml:"http_config,omitempty"`
	}{}

	err := json.Unmarshal(jsonData, &rawSettings)
	if err != nil {
		return settings, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	// webhook_url is the flat single-key spelling older configurations use.
	if rawSettings.URL == "" {
		rawSettings.URL = rawSettings.WebhookURL
	}
	if rawSettings.URL == "" {
		return settings, errors.New("required field 'url' is not specified")
	}
	settings.URL = rawSettings.URL
	settings.AuthorizationScheme = rawSettings.AuthorizationScheme

	if rawSettings.HTTPMethod == "" {
		rawSettings.HTTPMethod = http.MethodPost
	}
	settings.HTTPMethod = rawSettings.HTTPMethod

	settings.User = decryptFn("username", rawSettings.User)
	settings.Password = decryptFn("password", rawSettings.Password)
	settings.AuthorizationCredentials = decryptFn("authorization_credentials", rawSettings.AuthorizationCredentials)

	if settings.AuthorizationCredentials != "" && settings.AuthorizationScheme == "" {
		settings.AuthorizationScheme = "Bearer"
	}
	if settings.User != "" && settings.Password != "" && settings.AuthorizationScheme != "" && settings.AuthorizationCredentials != "" {
		return settings, errors.New("both HTTP Basic Authentication and Authorization Header are set, only 1 is permitted")
	}

	if tlsConfig := rawSettings.TLSConfig; tlsConfig != nil {
		settings.TLSConfig = &receivers.TLSConfig{
			InsecureSkipVerify: tlsConfig.InsecureSkipVerify,
			CACertificate:      decryptFn("tlsConfig.caCertificate", tlsConfig.CACertificate),
			ClientCertificate:  decryptFn("tlsConfig.clientCertificate", tlsConfig.ClientCertificate),
			ClientKey:          decryptFn("tlsConfig.clientKey", tlsConfig.ClientKey),
		}
	}

	if hmacConfig := rawSettings.HMACConfig; hmacConfig != nil {
		settings.HMACConfig = &receivers.HMACConfig{
			Secret:          decryptFn("hmacConfig.secret", hmacConfig.Secret),
			Header:          hmacConfig.Header,
			TimestampHeader: hmacConfig.TimestampHeader,
		}
	}

	if httpConfig := rawSettings.HTTPConfig; httpConfig != nil {
		httpConfig.Decrypt(decryptFn)
		if err := routerhttp.ValidateHTTPClientConfig(httpConfig); err != nil {
			return settings, fmt.Errorf("invalid http_config: %w", err)
		}
		settings.HTTPConfig = httpConfig
	}

	return settings, nil
}
