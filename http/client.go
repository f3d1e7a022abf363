package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ebpay-ops/alert-router/receivers"
	"github.com/ebpay-ops/alert-router/utils/hash"
)

var ErrInvalidMethod = errors.New("unsupported HTTP method")

const (
	defaultDialTimeout = 30 * time.Second

	// Connection pool bounds for shared clients.
	maxIdleConns        = 20
	maxIdleConnsPerHost = 10

	// maxResponseSize caps how much of a response body is read back.
	maxResponseSize = 5 << 20

	// clientCacheSize bounds the number of pooled clients kept alive, one
	// per distinct proxy destination and auth settings bundle.
	clientCacheSize = 16
)

type clientConfiguration struct {
	userAgent      string
	dialer         net.Dialer // We use Dialer here instead of DialContext as our mqtt client doesn't support DialContext.
	allowedMethods map[string]struct{}
	proxy          ProxyConfig
}

// Client sends webhooks on behalf of every channel. Clients are pooled per
// proxy destination and auth settings, so HMAC and OAuth2 round trippers and
// the token state inside them are reused across sends. Requests that carry
// their own TLS material get a one-off client.
type Client struct {
	log     log.Logger
	cfg     clientConfiguration
	clients *lru.Cache[string, *http.Client]
}

func NewClient(log log.Logger, opts ...ClientOption) *Client {
	cfg := clientConfiguration{
		userAgent: "alert-router",
		allowedMethods: map[string]struct{}{
			http.MethodPost: {},
			http.MethodPut:  {},
		},
		dialer: (net.Dialer{
			Timeout: defaultDialTimeout,
		}),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// The only error is a non-positive size.
	clients, _ := lru.New[string, *http.Client](clientCacheSize)
	return &Client{
		log:     log,
		cfg:     cfg,
		clients: clients,
	}
}

func (ns *Client) Dialer() *net.Dialer {
	return &ns.cfg.dialer
}

type ClientOption func(*clientConfiguration)

func AllowGetRequests() ClientOption {
	return func(c *clientConfiguration) {
		c.allowedMethods[http.MethodGet] = struct{}{}
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *clientConfiguration) {
		c.userAgent = userAgent
	}
}

func WithDialer(dialer net.Dialer) ClientOption {
	return func(c *clientConfiguration) {
		if dialer.Timeout == 0 {
			dialer.Timeout = defaultDialTimeout
		}
		c.dialer = dialer
	}
}

// WithProxy sets the gateway-level proxy applied to requests that opt in
// via UseProxy.
func WithProxy(proxy ProxyConfig) ClientOption {
	return func(c *clientConfiguration) {
		c.proxy = proxy
	}
}

func (ns *Client) SendWebhook(ctx context.Context, l log.Logger, webhook *receivers.SendWebhookSettings) (*receivers.WebhookResponse, error) {
	if l == nil {
		l = ns.log
	}
	if webhook.HTTPMethod == "" {
		webhook.HTTPMethod = http.MethodPost
	}
	if _, ok := ns.cfg.allowedMethods[webhook.HTTPMethod]; !ok {
		return nil, fmt.Errorf("%w %q", ErrInvalidMethod, webhook.HTTPMethod)
	}

	if webhook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, webhook.Timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if webhook.HTTPMethod != http.MethodGet {
		reqBody = bytes.NewReader([]byte(webhook.Body))
	}
	request, err := http.NewRequestWithContext(ctx, webhook.HTTPMethod, webhook.URL, reqBody)
	if err != nil {
		return nil, err
	}
	parsedURL, err := url.Parse(webhook.URL)
	if err != nil {
		// Should not be possible - NewRequestWithContext should also err if the URL is bad.
		return nil, err
	}
	level.Debug(l).Log("msg", "Sending webhook", "url", parsedURL.Redacted(), "http_method", webhook.HTTPMethod)

	// Sane content type default for POST/PUT requests.
	if webhook.ContentType == "" && (webhook.HTTPMethod == http.MethodPost || webhook.HTTPMethod == http.MethodPut) {
		webhook.ContentType = "application/json"
	}
	if webhook.ContentType != "" {
		request.Header.Set("Content-Type", webhook.ContentType)
	}
	request.Header.Set("User-Agent", ns.cfg.userAgent)

	if webhook.User != "" && webhook.Password != "" {
		request.Header.Set("Authorization", GetBasicAuthHeader(webhook.User, webhook.Password))
	}
	for k, v := range webhook.HTTPHeader {
		request.Header.Set(k, v)
	}

	client, err := ns.httpClientFor(l, webhook)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(request)
	if err != nil {
		return nil, redactURL(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			level.Warn(l).Log("msg", "Failed to close response body", "err", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	webhookResp := &receivers.WebhookResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    make(map[string][]string, len(resp.Header)),
	}
	for k, v := range resp.Header {
		webhookResp.Headers[k] = v
	}

	if webhook.Validation != nil {
		if err := webhook.Validation(body, resp.StatusCode); err != nil {
			if webhook.HTTPMethod != http.MethodGet { // Avoid the risk of logging GET response body.
				level.Debug(l).Log("msg", "Webhook failed validation", "url", parsedURL.Redacted(), "statuscode", resp.Status, "body", string(body))
			}
			return webhookResp, fmt.Errorf("webhook failed validation: %w", err)
		}
	}

	if resp.StatusCode/100 == 2 {
		level.Debug(l).Log("msg", "Webhook succeeded", "url", parsedURL.Redacted(), "statuscode", resp.Status)
		return webhookResp, nil
	}

	level.Debug(l).Log("msg", "Webhook failed", "url", parsedURL.Redacted(), "statuscode", resp.Status, "body", string(body))
	return webhookResp, fmt.Errorf("webhook response status %v", resp.Status)
}

// httpClientFor returns the cached client for the request's effective
// settings, building one on a miss. Requests that carry their own TLS
// material are the exception and always get a fresh client.
func (ns *Client) httpClientFor(l log.Logger, webhook *receivers.SendWebhookSettings) (*http.Client, error) {
	proxyFn, proxyKey, err := ns.proxyFor(webhook)
	if err != nil {
		return nil, err
	}

	if webhook.TLSConfig != nil {
		return ns.buildClient(l, webhook, proxyFn)
	}

	key := proxyKey
	if webhook.HMACConfig != nil || webhook.OAuth2Config != nil {
		key = settingsKey(proxyKey, webhook)
	}
	if client, ok := ns.clients.Get(key); ok {
		return client, nil
	}
	// Concurrent misses may build the same client twice. The extra
	// one is dropped by the cache and collected normally.
	client, err := ns.buildClient(l, webhook, proxyFn)
	if err != nil {
		return nil, err
	}
	ns.clients.Add(key, client)
	return client, nil
}

// buildClient assembles a client honoring the request's TLS, HMAC and OAuth2
// settings.
func (ns *Client) buildClient(l log.Logger, webhook *receivers.SendWebhookSettings, proxyFn func(*http.Request) (*url.URL, error)) (*http.Client, error) {
	client := NewTLSClient(webhook.TLSConfig, ns.transportOptions(proxyFn)...)

	var err error
	if webhook.HMACConfig != nil {
		level.Debug(l).Log("msg", "Adding HMAC roundtripper to client")
		client.Transport, err = NewHMACRoundTripper(
			client.Transport,
			clock.New(),
			webhook.HMACConfig.Secret,
			webhook.HMACConfig.Header,
			webhook.HMACConfig.TimestampHeader,
		)
		if err != nil {
			level.Error(l).Log("msg", "Failed to add HMAC roundtripper to client", "err", err)
			return nil, err
		}
	}

	if webhook.OAuth2Config != nil {
		level.Debug(l).Log("msg", "Adding OAuth2 roundtripper to client")
		client.Transport, err = NewOAuth2RoundTripper(webhook.OAuth2Config, client.Transport)
		if err != nil {
			level.Error(l).Log("msg", "Failed to add OAuth2 roundtripper to client", "err", err)
			return nil, err
		}
	}

	return client, nil
}

// settingsKey folds the request's auth settings into the proxy key so that
// distinct HMAC secrets or OAuth2 credentials never share a client. The hash
// follows pointers, so equal settings on fresh structs land on the same key.
func settingsKey(proxyKey string, webhook *receivers.SendWebhookSettings) string {
	h := fnv.New64a()
	hash.DeepHashObject(h, struct {
		HMAC   *receivers.HMACConfig
		OAuth2 *receivers.OAuth2Config
	}{webhook.HMACConfig, webhook.OAuth2Config})
	return fmt.Sprintf("%s auth:%016x", proxyKey, h.Sum64())
}

// proxyFor resolves the proxy function for one request and the cache key
// identifying it.
func (ns *Client) proxyFor(webhook *receivers.SendWebhookSettings) (func(*http.Request) (*url.URL, error), string, error) {
	if !webhook.UseProxy {
		return nil, "direct", nil
	}
	if webhook.ProxyURL != "" {
		override := ProxyConfig{ProxyURL: webhook.ProxyURL}
		if err := ValidateProxyConfig(&override); err != nil {
			return nil, "", err
		}
		proxyFn, err := override.Proxy()
		if err != nil {
			return nil, "", err
		}
		return proxyFn, "proxy:" + webhook.ProxyURL, nil
	}

	proxyFn, err := ns.cfg.proxy.Proxy()
	if err != nil {
		return nil, "", err
	}
	if proxyFn == nil {
		return nil, "direct", nil
	}
	if ns.cfg.proxy.ProxyFromEnvironment {
		return proxyFn, "proxy:environment", nil
	}
	return proxyFn, "proxy:" + ns.cfg.proxy.ProxyURL, nil
}

func (ns *Client) transportOptions(proxyFn func(*http.Request) (*url.URL, error)) []TransportOption {
	opts := []TransportOption{
		func(t *http.Transport) {
			t.DialContext = ns.cfg.dialer.DialContext
			t.MaxIdleConns = maxIdleConns
			t.MaxIdleConnsPerHost = maxIdleConnsPerHost
		},
	}
	if proxyFn != nil {
		header := ns.cfg.proxy.GetProxyConnectHeader()
		opts = append(opts, func(t *http.Transport) {
			t.Proxy = proxyFn
			t.ProxyConnectHeader = header
		})
	}
	return opts
}

func redactURL(err error) error {
	var e *url.Error
	if !errors.As(err, &e) {
		return err
	}
	e.URL = "<redacted>"
	return e
}

func GetBasicAuthHeader(user string, password string) string {
	var userAndPass = user + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userAndPass))
}
