// Package versionengine implements the Version Engine (spec.md §4.4):
// the version-policy state machine dispatching original /
// originalFailoverLiveLatest / latestArchived / timestampArchived
// requests through the Upstream Fetcher, with failover to the archive
// API. Grounded on proxy_logic.py's fetch_original/fetch_failover/
// fetch_latest_archived/fetch_timestamp_archived dispatch chain.
package versionengine

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dbpedia/ontology-time-machine-go/internal/archiveindex"
	"github.com/dbpedia/ontology-time-machine-go/internal/contentneg"
	"github.com/dbpedia/ontology-time-machine-go/internal/fetcher"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmconfig"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmerr"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
)

// passthroughStatus is the set of status codes the failover logic
// treats as "the upstream answered meaningfully", per spec.md §4.4.
var passthroughStatus = map[int]bool{
	100: true, 101: true, 102: true, 103: true,
	200: true,
	300: true, 301: true, 302: true, 303: true, 304: true, 307: true, 308: true,
	451: true,
}

// Engine dispatches a request through the version-policy state
// machine.
type Engine struct {
	Index      *archiveindex.Store
	ArchiveAPI string
	log        *zap.Logger
}

// New builds an Engine backed by the given archive membership Store and
// Archive API base URL.
func New(idx *archiveindex.Store, archiveAPI string) *Engine {
	return &Engine{
		Index:      idx,
		ArchiveAPI: archiveAPI,
		log:        otmlog.Named(otmlog.VersionEngine),
	}
}

// Request is the minimal view of an inbound request the engine needs;
// it mirrors spec.md §9's RequestView capability set, scoped down to
// what version dispatch reads.
type Request struct {
	Method  string
	Host    string
	Path    string
	URL     string // full original URL, e.g. "http://host/path?query"
	Headers map[string][]string
}

// Dispatch runs cfg.OntoVersion's branch of the state machine and
// returns the resulting UpstreamResponse.
func (e *Engine) Dispatch(ctx context.Context, req Request, cfg otmconfig.Config, f *fetcher.Fetcher) fetcher.Response {
	// The inbound Accept header is the first source of the archive
	// token; when it names none (e.g. Accept: text/html,*/* in S1), the
	// configured ontoFormat is the fallback — the client asked for a
	// serialization even if its Accept header didn't advertise it.
	token, hasToken := contentneg.ArchiveFormat(req.Headers)
	if !hasToken {
		token, hasToken = contentneg.TokenForFormat(cfg.OntoFormat.Format)
	}
	if !hasToken && cfg.OntoVersion != otmconfig.VersionOriginal {
		return errResponse(otmerr.KindInternal, fmt.Errorf("versionengine: no archive-compatible format for Accept or ontoFormat"))
	}

	switch cfg.OntoVersion {
	case otmconfig.VersionOriginal:
		return f.Fetch(ctx, req.Method, req.URL, toHeader(req.Headers))

	case otmconfig.VersionOriginalFailoverLiveLatest:
		return e.failover(ctx, req, cfg, token, f)

	case otmconfig.VersionLatestArchived:
		return e.archived(ctx, req, token, "", f)

	case otmconfig.VersionTimestampArchived:
		return e.archived(ctx, req, token, cfg.Timestamp, f)

	default:
		return errResponse(otmerr.KindInternal, fmt.Errorf("versionengine: unknown ontoVersion %q", cfg.OntoVersion))
	}
}

// failover implements originalFailoverLiveLatest: fetch the original,
// and fail over to the archive unless the status is in the passthrough
// set *and* the Content-Type matches the client's Accept set.
func (e *Engine) failover(ctx context.Context, req Request, cfg otmconfig.Config, token string, f *fetcher.Fetcher) fetcher.Response {
	resp := f.Fetch(ctx, req.Method, req.URL, toHeader(req.Headers))
	if resp.Err == nil && passthroughStatus[resp.Status] && contentTypeAccepted(resp.Headers, req.Headers) {
		return resp
	}
	e.log.Info("original fetch did not satisfy failover conditions, falling back to archive",
		zap.Int("status", resp.Status), zap.String("host", req.Host), zap.String("path", req.Path))
	return e.archived(ctx, req, token, "", f)
}

// contentTypeAccepted replicates utils.py's content_type_matches: strip
// parameters from the response Content-Type and compare against the
// client's accepted MIMEs (spec.md's ambiguity, resolved per
// SPEC_FULL.md §D.4).
func contentTypeAccepted(respHeaders http.Header, reqHeaders map[string][]string) bool {
	ct := respHeaders.Get("Content-Type")
	if ct == "" {
		return false
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)

	for _, mime := range acceptedMIMEs(reqHeaders) {
		if mime == ct {
			return true
		}
	}
	return false
}

func acceptedMIMEs(headers map[string][]string) []string {
	accept := headerGet(headers, "Accept")
	if accept == "" {
		return nil
	}
	parts := strings.Split(accept, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if i := strings.IndexByte(p, ';'); i >= 0 {
			p = p[:i]
		}
		if p != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

func headerGet(headers map[string][]string, key string) string {
	if vs, ok := headers[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	if vs, ok := headers[http.CanonicalHeaderKey(key)]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// archived implements latestArchived/timestampArchived: require
// archive membership, build the archive-api URL, and fetch it.
func (e *Engine) archived(ctx context.Context, req Request, token, timestamp string, f *fetcher.Fetcher) fetcher.Response {
	if _, ok := e.Index.Load().Contains(req.Host, req.Path); !ok {
		return errResponse(otmerr.KindNotFoundInArchive, fmt.Errorf("versionengine: %s%s not found in archive index", req.Host, req.Path))
	}

	archiveURL := fmt.Sprintf("%s?o=%s&f=%s", e.ArchiveAPI, req.URL, token)
	if timestamp != "" {
		archiveURL += "&v=" + timestamp
	}
	e.log.Info("dispatching archive fetch", zap.String("url", archiveURL))
	return f.Fetch(ctx, req.Method, archiveURL, toHeader(req.Headers))
}

func toHeader(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h[http.CanonicalHeaderKey(k)] = v
	}
	return h
}

func errResponse(kind otmerr.Kind, err error) fetcher.Response {
	e := otmerr.New(kind, err)
	return fetcher.Response{Err: &e}
}
