package proxy

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarelay/internal/observability"
)

// ForwardedMethods are the HTTP methods passed through to the upstream.
var ForwardedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodOptions,
}

// strippedHeaders are not copied to the outbound request.
var strippedHeaders = []string{
	"Host",
	"Content-Length",
}

// HTTPForwarder forwards HTTP requests to a fixed upstream base URL.
type HTTPForwarder struct {
	target  *url.URL
	client  *http.Client
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	allowed map[string]struct{}
}

// ForwarderOption is a functional option for configuring the forwarder.
type ForwarderOption func(*HTTPForwarder)

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.logger = logger
	}
}

// WithForwarderMetrics sets the metrics sink.
func WithForwarderMetrics(m *observability.Metrics) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.metrics = m
	}
}

// WithForwarderTracer sets the tracer used for client spans.
func WithForwarderTracer(t *observability.Tracer) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.tracer = t
	}
}

// WithTransport sets the outbound transport.
func WithTransport(transport http.RoundTripper) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.client.Transport = transport
	}
}

// WithTimeout bounds each outbound request. Zero means no limit.
func WithTimeout(timeout time.Duration) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.client.Timeout = timeout
	}
}

// NewHTTPForwarder creates a forwarder for the given base URL.
func NewHTTPForwarder(targetBase string, opts ...ForwarderOption) (*HTTPForwarder, error) {
	target, err := url.Parse(targetBase)
	if err != nil {
		return nil, NewInvalidTargetError(targetBase, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, NewInvalidTargetError(targetBase, errSchemeNotHTTP)
	}
	if target.Host == "" {
		return nil, NewInvalidTargetError(targetBase, errMissingHost)
	}

	f := &HTTPForwarder{
		target: target,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  observability.NopLogger(),
		allowed: make(map[string]struct{}, len(ForwardedMethods)),
	}
	for _, m := range ForwardedMethods {
		f.allowed[m] = struct{}{}
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Target returns the upstream base URL.
func (f *HTTPForwarder) Target() string {
	return f.target.String()
}

// ServeHTTP implements http.Handler.
func (f *HTTPForwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.allowed[r.Method]; !ok {
		w.Header().Set("Allow", strings.Join(ForwardedMethods, ", "))
		WriteJSONError(w, http.StatusMethodNotAllowed, ErrMethodNotAllowed.Error())
		return
	}

	start := time.Now()
	targetURL := f.targetURL(r.URL)
	logger := f.logger.WithContext(r.Context())

	logger.Info("forwarding HTTP request",
		observability.String("method", r.Method),
		observability.String("client_ip", clientIP(r)),
		observability.String("path", r.URL.Path),
		observability.String("target", targetURL),
	)

	ctx, span := f.tracer.StartSpan(r.Context(), "forward "+r.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", targetURL),
		),
	)
	defer span.End()

	resp, err := f.do(r.WithContext(ctx), targetURL)
	if err != nil {
		fwdErr := NewForwardError(r.Method, r.URL.Path, targetURL, err)
		span.RecordError(fwdErr)
		span.SetStatus(codes.Error, "forward failed")
		f.metrics.RecordHTTPForwardError()
		logger.Error("error forwarding HTTP request", observability.Error(fwdErr))
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	// Upstream values replace any the middleware chain already set.
	header := w.Header()
	for key, values := range resp.Header {
		header[key] = slices.Clone(values)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn("response body copy interrupted",
			observability.String("target", targetURL),
			observability.Error(err),
		)
	}

	f.metrics.RecordHTTPForward(r.Method, resp.StatusCode, time.Since(start))
}

// do builds and sends the outbound request.
func (f *HTTPForwarder) do(r *http.Request, targetURL string) (*http.Response, error) {
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			body = bytes.NewReader(data)
		}
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		return nil, err
	}

	out.Header = r.Header.Clone()
	for _, h := range strippedHeaders {
		out.Header.Del(h)
	}
	observability.InjectTraceContext(r.Context(), out)

	return f.client.Do(out)
}

// targetURL joins the base URL with the request path and keeps the query.
func (f *HTTPForwarder) targetURL(in *url.URL) string {
	u := *f.target
	u.Path = strings.TrimRight(f.target.Path, "/") + "/" + strings.TrimLeft(in.Path, "/")
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return u.String()
}

// clientIP returns the remote address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
