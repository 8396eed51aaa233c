// Package fetcher implements the Upstream Fetcher (spec.md §4.5): a
// GET/HEAD dispatch against a target URL with bounded timeouts and
// redirect depth, producing a normalized response or otmerr.Kind. The
// functional-options client construction is modelled on
// zkit/httpx/client's New/Option pattern; redirect-depth bounding and
// timeout defaults follow the legacy caddy v1
// caddyhttp/proxy/reverseproxy.go idiom of a dedicated *http.Client per
// concern rather than reusing http.DefaultClient.
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dbpedia/ontology-time-machine-go/internal/otmerr"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmmetrics"
)

const (
	// DefaultTimeout is the per-request timeout, spec.md §4.5.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxRedirects is the bounded redirect depth, spec.md §4.5.
	DefaultMaxRedirects = 10
)

// Response is the normalized UpstreamResponse of spec.md §3: either a
// status/headers/body triple, or an error Kind — never both, and the
// core never sees a raw Go error cross this boundary.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte

	Err *otmerr.Error
}

// Option configures a Fetcher, following the zkit client.Option shape.
type Option func(*config)

type config struct {
	timeout      time.Duration
	maxRedirects int
	transport    *http.Transport
}

func defaultConfig() config {
	return config{
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithMaxRedirects overrides the bounded redirect depth.
func WithMaxRedirects(n int) Option { return func(c *config) { c.maxRedirects = n } }

// WithTransport overrides the base *http.Transport; Fetcher clones it
// to avoid sharing mutable state with the caller, mirroring
// zkit/httpx/client.New's WithTransport contract.
func WithTransport(t *http.Transport) Option { return func(c *config) { c.transport = t } }

// Fetcher performs GET/HEAD requests with the timeout/redirect policy
// above and maps failures into the spec.md §7 error taxonomy.
type Fetcher struct {
	client                   *http.Client
	maxRedirects             int
	disableRemovingRedirects bool
	log                      *zap.Logger
}

// New builds a Fetcher. disableRemovingRedirects, when true, makes the
// underlying client stop following redirects (CheckRedirect returns
// http.ErrUseLastResponse) so the redirect response itself is returned
// to the caller verbatim, per spec.md §4.4.
func New(disableRemovingRedirects bool, opts ...Option) *Fetcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var transport *http.Transport
	if cfg.transport != nil {
		transport = cfg.transport.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	f := &Fetcher{
		maxRedirects:             cfg.maxRedirects,
		disableRemovingRedirects: disableRemovingRedirects,
		log:                      otmlog.Named(otmlog.Fetcher),
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.timeout,
	}
	if disableRemovingRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.maxRedirects {
				return errTooManyRedirects
			}
			return nil
		}
	}
	f.client = client
	return f
}

var errTooManyRedirects = errors.New("fetcher: stopped after too many redirects")

// Fetch performs a GET (or HEAD, when method == http.MethodHead)
// against rawURL, copying the given headers onto the outbound request.
// Client disconnect is propagated cooperatively by cancelling ctx.
func (f *Fetcher) Fetch(ctx context.Context, method, rawURL string, headers http.Header) Response {
	start := time.Now()
	method = normalizeMethod(method)

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return errResponse(otmerr.KindInternal, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	otmmetrics.UpstreamFetchDuration.WithLabelValues(classifyKind(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := classifyErr(err)
		f.log.Warn("upstream fetch failed", zap.String("url", rawURL), zap.String("kind", string(kind)), zap.Error(err))
		return errResponse(kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResponse(otmerr.KindNetworkOther, err)
	}

	return Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}
}

func normalizeMethod(method string) string {
	if method == http.MethodHead {
		return http.MethodHead
	}
	return http.MethodGet
}

func errResponse(kind otmerr.Kind, err error) Response {
	e := otmerr.New(kind, err)
	return Response{Err: &e}
}

func classifyKind(err error) string {
	if err == nil {
		return "ok"
	}
	return string(classifyErr(err))
}

// classifyErr maps a transport-level error into the spec.md §7 kind
// taxonomy.
func classifyErr(err error) otmerr.Kind {
	if errors.Is(err, errTooManyRedirects) {
		return otmerr.KindTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return otmerr.KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return otmerr.KindDNS
	}

	var tlsErr *tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) || errors.As(err, &certErr) {
		return otmerr.KindTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return otmerr.KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return otmerr.KindTransport
	}

	return otmerr.KindNetworkOther
}
