package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// TransportOption mutates the transport of a client built by NewTLSClient.
type TransportOption func(*http.Transport)

// NewTLSClient creates a new http client with the given TLS configuration.
// A nil config falls back to renegotiation-friendly defaults.
func NewTLSClient(tlsConfig *tls.Config, opts ...TransportOption) *http.Client {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{Renegotiation: tls.RenegotiateFreelyAsClient}
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		Proxy:           http.ProxyFromEnvironment,
	}
	for _, opt := range opts {
		opt(transport)
	}

	return &http.Client{
		Timeout:   time.Second * 30,
		Transport: transport,
	}
}
