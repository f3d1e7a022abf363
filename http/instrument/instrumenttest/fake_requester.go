package instrumenttest

import (
	"bytes"
	"io"
	"net/http"
)

// FakeRequester is a test double for instrument.Requester that records the
// last request it saw and replies with a canned response.
type FakeRequester struct {
	LastRequest *http.Request
	resp        *http.Response
}

// NewFakeRequester returns a fake that replies 200 OK with an empty body.
func NewFakeRequester() *FakeRequester {
	return &FakeRequester{
		resp: &http.Response{
			Status:        "200 OK",
			StatusCode:    200,
			Body:          io.NopCloser(bytes.NewBufferString("")),
			ContentLength: int64(0),
			Header:        make(http.Header, 0),
		},
	}
}

// WithResponse changes the canned response the fake replies with.
func (f *FakeRequester) WithResponse(resp *http.Response) *FakeRequester {
	f.resp = resp
	return f
}

func (f *FakeRequester) Do(req *http.Request) (*http.Response, error) {
	f.LastRequest = req
	return f.resp, nil
}

// BadResponse returns a 400 Bad Request response with an empty body.
func BadResponse() *http.Response {
	return &http.Response{
		Status:        "400 Bad Request",
		StatusCode:    http.StatusBadRequest,
		Body:          io.NopCloser(bytes.NewBufferString("")),
		ContentLength: int64(0),
		Header:        make(http.Header, 0),
	}
}
