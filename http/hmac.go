package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
)

const defaultHeaderName = "X-Alert-Router-Signature"

// hmacRoundTripper signs request bodies with HMAC-SHA256. When a timestamp
// header is configured, the unix timestamp is prepended to the signed
// payload as "<ts>:" and sent alongside the signature.
type hmacRoundTripper struct {
	next            http.RoundTripper
	clock           clock.Clock
	secret          string
	header          string
	timestampHeader string
}

func NewHMACRoundTripper(next http.RoundTripper, clk clock.Clock, secret, header, timestampHeader string) (*hmacRoundTripper, error) {
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if header == "" {
		header = defaultHeaderName
	}
	return &hmacRoundTripper{
		next:            next,
		clock:           clk,
		secret:          secret,
		header:          header,
		timestampHeader: timestampHeader,
	}, nil
}

func (rt *hmacRoundTripper) sign(req *http.Request) error {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		if err := req.Body.Close(); err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	mac := hmac.New(sha256.New, []byte(rt.secret))
	if rt.timestampHeader != "" {
		ts := strconv.FormatInt(rt.clock.Now().Unix(), 10)
		mac.Write([]byte(ts))
		mac.Write([]byte(":"))
		req.Header.Set(rt.timestampHeader, ts)
	}
	mac.Write(body)
	req.Header.Set(rt.header, hex.EncodeToString(mac.Sum(nil)))
	return nil
}

func (rt *hmacRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.sign(req); err != nil {
		return nil, err
	}
	return rt.next.RoundTrip(req)
}
