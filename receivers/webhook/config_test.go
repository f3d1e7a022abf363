package webhook

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	routerhttp "github.com/ebpay-ops/alert-router/http"
	"github.com/ebpay-ops/alert-router/receivers"
)

func TestNewConfig(t *testing.T) {
	cases := []struct {
		name     string
		settings string
		decrypt  receivers.DecryptFunc
		expCfg   Config
		expErr   string
	}{
		{
			name:     "invalid JSON",
			settings: `{`,
			expErr:   "failed to unmarshal settings",
		},
		{
			name:     "missing url",
			settings: `{}`,
			expErr:   "required field 'url' is not specified",
		},
		{
			name:     "minimal valid configuration",
			settings: `{"url": "http://localhost"}`,
			expCfg: Config{
				URL:        "http://localhost",
				HTTPMethod: http.MethodPost,
			},
		},
		{
			name:     "explicit method is kept",
			settings: `{"url": "http://localhost", "httpMethod": "PUT"}`,
			expCfg: Config{
				URL:        "http://localhost",
				HTTPMethod: http.MethodPut,
			},
		},
		{
			name:     "basic auth",
			settings: `{"url": "http://localhost", "username": "grafana", "password": "admin"}`,
			expCfg: Config{
				URL:        "http://localhost",
				HTTPMethod: http.MethodPost,
				User:       "grafana",
				Password:   "admin",
			},
		},
		{
			name:     "authorization credentials default to Bearer scheme",
			settings: `{"url": "http://localhost", "authorization_credentials": "tok"}`,
			expCfg: Config{
				URL:                      "http://localhost",
				HTTPMethod:               http.MethodPost,
				AuthorizationScheme:      "Bearer",
				AuthorizationCredentials: "tok",
			},
		},
		{
			name:     "custom authorization scheme is kept",
			settings: `{"url": "http://localhost", "authorization_scheme": "Token", "authorization_credentials": "tok"}`,
			expCfg: Config{
				URL:                      "http://localhost",
				HTTPMethod:               http.MethodPost,
				AuthorizationScheme:      "Token",
				AuthorizationCredentials: "tok",
			},
		},
		{
			name:     "scheme without credentials sends nothing",
			settings: `{"url": "http://localhost", "authorization_scheme": "Bearer"}`,
			expCfg: Config{
				URL:                 "http://localhost",
				HTTPMethod:          http.MethodPost,
				AuthorizationScheme: "Bearer",
			},
		},
		{
			name:     "basic auth and authorization header are mutually exclusive",
			settings: `{"url": "http://localhost", "username": "grafana", "password": "admin", "authorization_credentials": "tok"}`,
			expErr:   "both HTTP Basic Authentication and Authorization Header are set, only 1 is permitted",
		},
		{
			name:     "TLS material is resolved through decrypt",
			settings: `{"url": "https://localhost", "tlsConfig": {"insecureSkipVerify": false, "caCertificate": "inline-ca"}}`,
			decrypt: func(key, fallback string) string {
				if key == "tlsConfig.caCertificate" {
					return "stored-ca"
				}
				return fallback
			},
			expCfg: Config{
				URL:        "https://localhost",
				HTTPMethod: http.MethodPost,
				TLSConfig: &receivers.TLSConfig{
					CACertificate: "stored-ca",
				},
			},
		},
		{
			name:     "HMAC secret is resolved through decrypt",
			settings: `{"url": "http://localhost", "hmacConfig": {"secret": "inline", "header": "X-Signature", "timestampHeader": "X-Timestamp"}}`,
			decrypt: func(key, fallback string) string {
				if key == "hmacConfig.secret" {
					return "stored"
				}
				return fallback
			},
			expCfg: Config{
				URL:        "http://localhost",
				HTTPMethod: http.MethodPost,
				HMACConfig: &receivers.HMACConfig{
					Secret:          "stored",
					Header:          "X-Signature",
					TimestampHeader: "X-Timestamp",
				},
			},
		},
		{
			name:     "http_config with oauth2",
			settings: `{"url": "http://localhost", "http_config": {"oauth2": {"client_id": "test-id", "client_secret": "inline", "token_url": "https://localhost/auth/token", "scopes": ["read"]}}}`,
			decrypt: func(key, fallback string) string {
				if key == "http_config.oauth2.client_secret" {
					return "stored-secret"
				}
				return fallback
			},
			expCfg: Config{
				URL:        "http://localhost",
				HTTPMethod: http.MethodPost,
				HTTPConfig: &routerhttp.HTTPClientConfig{
					OAuth2: &receivers.OAuth2Config{
						ClientID:     "test-id",
						ClientSecret: "stored-secret",
						TokenURL:     "https://localhost/auth/token",
						Scopes:       []string{"read"},
					},
				},
			},
		},
		{
			name:     "http_config with incomplete oauth2",
			settings: `{"url": "http://localhost", "http_config": {"oauth2": {"client_id": "test-id", "client_secret": "secret"}}}`,
			expErr:   "invalid http_config",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			decrypt := c.decrypt
			if decrypt == nil {
				decrypt = receivers.NoopDecrypt
			}
			cfg, err := NewConfig(json.RawMessage(c.settings), decrypt)
			if c.expErr != "" {
				require.ErrorContains(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.expCfg, cfg)
		})
	}
}
