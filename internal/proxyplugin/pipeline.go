package proxyplugin

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dbpedia/ontology-time-machine-go/internal/archiveindex"
	"github.com/dbpedia/ontology-time-machine-go/internal/fetcher"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmerr"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmmetrics"
	"github.com/dbpedia/ontology-time-machine-go/internal/versionengine"
)

// Pipeline implements the pre-upstream hook (spec.md §4.6): resolve the
// effective Config, enforce restrictedAccess, rewrite Accept, and
// dispatch through the Version Engine.
type Pipeline struct {
	Resolver *Resolver
	Index    *archiveindex.Store
	Refresh  *archiveindex.Refresher
	Engine   *versionengine.Engine
	Fetcher  *fetcher.Fetcher

	log *zap.Logger
}

// NewPipeline wires the Resolver, Index, Refresher, Engine, and Fetcher
// into one pre-upstream entry point.
func NewPipeline(resolver *Resolver, idx *archiveindex.Store, refresh *archiveindex.Refresher, engine *versionengine.Engine, f *fetcher.Fetcher) *Pipeline {
	return &Pipeline{
		Resolver: resolver,
		Index:    idx,
		Refresh:  refresh,
		Engine:   engine,
		Fetcher:  f,
		log:      otmlog.Named(otmlog.ProxyPlugin),
	}
}

// PreUpstream runs one request through Config resolution, the
// restrictedAccess gate, Accept rewriting, and Version Engine dispatch.
func (p *Pipeline) PreUpstream(ctx context.Context, connID, proxyAuthHeader string, req versionengine.Request) PreUpstreamResult {
	cfg, err := p.Resolver.Resolve(connID, proxyAuthHeader)
	if err != nil {
		p.log.Warn("config resolution failed", zap.Error(err))
		return PreUpstreamResult{
			Synthesized: true,
			Status:      http.StatusInternalServerError,
			Headers:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:        []byte("<html><body><h1>500 Internal Server Error</h1></body></html>"),
		}
	}

	if p.Refresh != nil {
		p.Refresh.EnsureFresh()
	}

	if cfg.RestrictedAccess {
		if _, ok := p.Index.Load().Contains(req.Host, req.Path); !ok {
			p.log.Info("denying non-archive request under restrictedAccess", zap.String("host", req.Host), zap.String("path", req.Path))
			return PreUpstreamDeny()
		}
	}

	ApplyAccept(req.Headers, cfg)

	resp := p.Engine.Dispatch(ctx, req, cfg, p.Fetcher)
	otmmetrics.RequestsTotal.WithLabelValues(string(cfg.OntoVersion), otmmetrics.SanitizeMethod(req.Method), otmmetrics.SanitizeCode(statusOf(resp))).Inc()

	if resp.Err != nil {
		status := resp.Err.Kind.Status()
		return PreUpstreamResult{
			Synthesized: true,
			Status:      status,
			Headers:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:        []byte("<html><body><h1>" + strconv.Itoa(status) + " " + otmerr.StatusText(status) + "</h1></body></html>"),
		}
	}

	return PreUpstreamResult{
		Synthesized: true,
		Status:      resp.Status,
		Headers:     resp.Headers,
		Body:        resp.Body,
	}
}

func statusOf(resp fetcher.Response) int {
	if resp.Err != nil {
		return resp.Err.Kind.Status()
	}
	return resp.Status
}

