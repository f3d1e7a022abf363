package instrument

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedClient wraps a Requester in a client span carrying method, URL and
// status attributes.
type TracedClient struct {
	client Requester
	tracer trace.Tracer
	name   string
}

func NewTracedClient(client Requester, tracer trace.Tracer, name string) *TracedClient {
	return &TracedClient{
		client: client,
		tracer: tracer,
		name:   name,
	}
}

func (c TracedClient) Do(r *http.Request) (*http.Response, error) {
	ctx, span := c.tracer.Start(r.Context(), c.name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.url", r.URL.String()),
	)

	r = r.WithContext(ctx)
	resp, err := c.client.Do(r) // nolint:bodyclose
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
