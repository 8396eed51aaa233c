// Package proxyplugin glues the Archive Index, Config Resolver, Content
// Negotiator, Version Engine, and Upstream Fetcher into the host proxy
// runtime's hook points (spec.md §4.6). The host runtime itself — CA
// cert signing, MITM TLS termination, request/response framing — is an
// external collaborator (spec.md §1); this package only decides what
// the host runtime should do and rewrites/synthesizes at the HTTP
// layer. CONNECT handling is grounded on
// JillVernus-cc-bridge's forwardproxy.Server (handleConnect /
// handleBlindTunnel split); Proxy-Authorization decoding is grounded on
// caddyauth/basicauth.go's Authenticate, adapted from the Authorization
// header to Proxy-Authorization since net/http's Request.BasicAuth only
// reads the former.
package proxyplugin

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbpedia/ontology-time-machine-go/internal/contentneg"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmconfig"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmmetrics"
)

// RequestView is the thin capability set spec.md §9's design note
// calls for, decoupling the plugin/core from the host runtime's actual
// request representation.
type RequestView interface {
	Method() string
	Host() string
	Path() string
	URL() string
	HeaderGet(key string) string
	HeaderSet(key, value string)
	Headers() map[string][]string
}

// ConnectDecision is the on-connect hook's verdict, spec.md §4.6.
type ConnectDecision string

const (
	DecisionTunnel ConnectDecision = "tunnel"
	DecisionMITM   ConnectDecision = "mitm"
	DecisionReject ConnectDecision = "reject"
)

// Membership is the subset of archiveindex.Store the plugin needs for
// the archivo interception decision, kept as an interface so tests
// don't need a real Store.
type Membership interface {
	Contains(host, path string) (string, bool)
}

// Resolver is the Config Resolver (spec.md §4.2): given the startup
// Config and a connection's Proxy-Authorization header (if any),
// produces and caches the effective per-connection Config.
type Resolver struct {
	Startup otmconfig.Config

	mu    sync.Mutex
	cache map[string]otmconfig.Config
	log   *zap.Logger
}

// NewResolver builds a Resolver seeded with the startup Config.
func NewResolver(startup otmconfig.Config) *Resolver {
	return &Resolver{
		Startup: startup,
		cache:   make(map[string]otmconfig.Config),
		log:     otmlog.Named(otmlog.ConfigResolver),
	}
}

// ErrConfigRequired is returned when clientConfigViaProxyAuth=required
// but no usable Proxy-Authorization was presented or it failed to
// parse.
var ErrConfigRequired = fmt.Errorf("proxyplugin: proxy-authorization configuration required but missing or invalid")

// Resolve implements spec.md §4.2's policy, caching the resulting
// Config for the lifetime of connID (typically the client's TCP
// connection).
func (r *Resolver) Resolve(connID, proxyAuthHeader string) (otmconfig.Config, error) {
	if r.Startup.ClientConfigViaProxyAuth == otmconfig.ProxyAuthIgnore {
		return r.Startup, nil
	}

	r.mu.Lock()
	if cached, ok := r.cache[connID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	cfg, err := parseProxyAuth(proxyAuthHeader)
	if err != nil {
		switch r.Startup.ClientConfigViaProxyAuth {
		case otmconfig.ProxyAuthOptional:
			r.log.Info("proxy-authorization absent or invalid, using startup config", zap.Error(err))
			return r.Startup, nil
		case otmconfig.ProxyAuthRequired:
			r.log.Warn("proxy-authorization required but missing/invalid", zap.Error(err))
			return otmconfig.Config{}, ErrConfigRequired
		}
		return r.Startup, nil
	}

	r.mu.Lock()
	r.cache[connID] = cfg
	r.mu.Unlock()
	return cfg, nil
}

// Forget evicts a connection's cached override, to be called when the
// connection closes.
func (r *Resolver) Forget(connID string) {
	r.mu.Lock()
	delete(r.cache, connID)
	r.mu.Unlock()
}

// parseProxyAuth decodes a "Basic <base64>" Proxy-Authorization value:
// the scheme must be basic, the decoded username is a whitespace
// argument vector parsed by otmconfig.ParseArgv, the password is
// ignored.
func parseProxyAuth(header string) (otmconfig.Config, error) {
	const prefix = "Basic "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return otmconfig.Config{}, fmt.Errorf("proxyplugin: missing or non-basic proxy-authorization")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return otmconfig.Config{}, fmt.Errorf("proxyplugin: decoding proxy-authorization: %w", err)
	}

	userPass := string(decoded)
	username := userPass
	if i := strings.IndexByte(userPass, ':'); i >= 0 {
		username = userPass[:i]
	}

	args := strings.Fields(username)
	return otmconfig.ParseArgv(args)
}

// OnConnect implements the on-connect hook (spec.md §4.6): decide how
// to handle a CONNECT request given cfg.httpsInterception and archive
// membership of the tunnel's authority.
func OnConnect(cfg otmconfig.Config, membership Membership, authority string) ConnectDecision {
	switch cfg.HTTPSInterception {
	case otmconfig.InterceptBlock:
		return DecisionReject
	case otmconfig.InterceptNone:
		return DecisionTunnel
	case otmconfig.InterceptAll:
		return DecisionMITM
	case otmconfig.InterceptArchivo:
		// Decided per SPEC_FULL.md §E.1: intercept at CONNECT time using
		// the authority alone with the default path "/" — see doc.go.
		// The index keys hosts as they appear in the IRI (usually without
		// a port), so the bare host is tried when host:port misses.
		if _, ok := membership.Contains(authority, "/"); ok {
			return DecisionMITM
		}
		if host, _, err := net.SplitHostPort(authority); err == nil {
			if _, ok := membership.Contains(host, "/"); ok {
				return DecisionMITM
			}
		}
		return DecisionTunnel
	default:
		return DecisionReject
	}
}

// InterceptionDecision implements the second (post-MITM) hook: it
// cross-checks the archivo decision against the now-known path, purely
// for confirmation/logging — see doc.go for why it never overrides a
// decision already acted on.
func InterceptionDecision(cfg otmconfig.Config, membership Membership, host, path string) bool {
	if cfg.HTTPSInterception != otmconfig.InterceptArchivo {
		return cfg.HTTPSInterception == otmconfig.InterceptAll
	}
	_, ok := membership.Contains(host, path)
	return ok
}

// PreUpstreamResult is what the pre-upstream hook hands back to the
// host runtime: either a synthesized response to send directly to the
// client, or a signal to proceed upstream with the (possibly rewritten)
// request.
type PreUpstreamResult struct {
	// Synthesized, when true, means Status/Headers/Body should be sent
	// to the client directly and the request must not go upstream.
	Synthesized bool
	Status      int
	Headers     http.Header
	Body        []byte

	// Proceed, when true (and Synthesized is false), means the request
	// (with any Accept-header rewrite already applied) should continue
	// to the Upstream Fetcher / Version Engine.
	Proceed bool
}

// RequestID returns a fresh correlation ID for a single request,
// analogous to caddyhttp's HandlerError.ID but generated with
// google/uuid rather than a bespoke weak-random string generator.
func RequestID() string {
	return uuid.NewString()
}

// PreUpstreamDeny builds the restrictedAccess 403 synthesized response,
// per spec.md §7 / scenario S3.
func PreUpstreamDeny() PreUpstreamResult {
	otmmetrics.RequestsTotal.WithLabelValues("restricted", "GET", "403").Inc()
	return PreUpstreamResult{
		Synthesized: true,
		Status:      http.StatusForbidden,
		Headers:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:        []byte("<html><body><h1>403 Forbidden</h1></body></html>"),
	}
}

// ApplyAccept is a thin re-export so callers in this package's hooks
// don't need to import contentneg directly for the common case.
func ApplyAccept(headers map[string][]string, cfg otmconfig.Config) bool {
	return contentneg.ApplyAccept(headers, cfg)
}
