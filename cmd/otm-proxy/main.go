// Command otm-proxy runs the ontology time-machine forward proxy
// (spec.md §1). It is a plain Go entry point in the style of
// cmd/caddy/main.go, without the module-registry/Caddyfile machinery:
// this repo has a single, fixed pipeline rather than a pluggable
// module graph, so there is nothing for that machinery to register.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dbpedia/ontology-time-machine-go/internal/archiveindex"
	"github.com/dbpedia/ontology-time-machine-go/internal/fetcher"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmconfig"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmerr"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmmetrics"
	"github.com/dbpedia/ontology-time-machine-go/internal/proxyplugin"
	"github.com/dbpedia/ontology-time-machine-go/internal/versionengine"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := otmconfig.NewFlagSet("otm-proxy")
	adminAddr := fs.String("adminAddr", "localhost:9401", "bind address for /healthz and /metrics")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := otmconfig.FromFlags(fs)
	if err != nil {
		return fmt.Errorf("otm-proxy: %w", err)
	}

	isTTY := isTerminal(os.Stderr)
	if err := otmlog.Init(cfg.LogLevel, isTTY); err != nil {
		return fmt.Errorf("otm-proxy: %w", err)
	}
	log := otmlog.Log()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := archiveindex.NewStore()
	refresher := archiveindex.NewRefresher(store, cfg.ArchiveIndexSource, cfg.ArchiveIndexPath, cfg.ArchiveHashPath)
	if err := refresher.LoadInitial(ctx); err != nil {
		log.Warn("initial archive index load failed, continuing with an empty index", zap.Error(err))
	}
	go refresher.RunSchedule(ctx)
	go func() {
		if err := refresher.WatchFile(ctx); err != nil {
			log.Warn("archive index file watch stopped", zap.Error(err))
		}
	}()

	engine := versionengine.New(store, cfg.ArchiveAPIBase)
	upstream := fetcher.New(cfg.DisableRemovingRedirects)
	resolver := proxyplugin.NewResolver(cfg)
	pipeline := proxyplugin.NewPipeline(resolver, store, refresher, engine, upstream)

	proxySrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      &proxyHandler{pipeline: pipeline, index: store, log: otmlog.Named(otmlog.ProxyPlugin)},
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
		// Drop the per-connection config override once the client
		// connection closes. Hijacked (CONNECT) connections leave
		// net/http's tracking and are not reported here.
		ConnState: func(c net.Conn, state http.ConnState) {
			if state == http.StateClosed {
				resolver.Forget(c.RemoteAddr().String())
			}
		},
	}
	adminSrv := &http.Server{
		Addr:    *adminAddr,
		Handler: adminHandler(),
	}

	errCh := make(chan error, 2)
	go func() { errCh <- proxySrv.ListenAndServe() }()
	go func() { errCh <- adminSrv.ListenAndServe() }()
	log.Info("otm-proxy listening", zap.String("proxyAddr", proxySrv.Addr), zap.String("adminAddr", adminSrv.Addr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// adminHandler exposes /healthz and /metrics, modelled on caddy's
// admin.go convention of a small dedicated mux for operational
// endpoints, separate from the proxy listener itself.
func adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(otmmetrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// Interceptor is the external collaborator that performs MITM TLS
// termination for a CONNECT tunnel once proxyHandler has decided to
// intercept it. CA provisioning and certificate signing are out of
// scope (spec.md §1); the host runtime supplies an implementation.
type Interceptor interface {
	Intercept(clientConn net.Conn, authority string, next http.Handler) error
}

// proxyHandler is the top-level net/http handler for the proxy
// listener: it routes CONNECT through the on-connect hook and
// everything else (absolute-URL forward requests) through the
// pipeline's pre-upstream hook. Grounded on
// JillVernus-cc-bridge/forwardproxy.Server's ServeHTTP/handleConnect
// split, adapted from static domain-list interception to the
// archivo membership decision.
type proxyHandler struct {
	pipeline    *proxyplugin.Pipeline
	index       *archiveindex.Store
	interceptor Interceptor
	log         *zap.Logger
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleConnect(w, r)
		return
	}
	if r.URL.IsAbs() {
		h.handleForward(w, r)
		return
	}
	otmerr.WriteHTML(w, http.StatusBadRequest, "Bad Request")
}

func (h *proxyHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	if !strings.Contains(authority, ":") {
		authority += ":443"
	}

	cfg, err := h.pipeline.Resolver.Resolve(r.RemoteAddr, r.Header.Get("Proxy-Authorization"))
	if err != nil {
		// clientConfigViaProxyAuth=required with missing/invalid
		// Proxy-Authorization is exactly the "internal: Config
		// required but missing" case of spec.md §7.
		otmerr.WriteError(w, otmerr.New(otmerr.KindInternal, err))
		return
	}

	decision := proxyplugin.OnConnect(cfg, h.index.Load(), authority)
	switch decision {
	case proxyplugin.DecisionReject:
		otmerr.WriteError(w, otmerr.New(otmerr.KindRestricted, fmt.Errorf("CONNECT rejected: httpsInterception=block")))
	case proxyplugin.DecisionMITM:
		if h.interceptor == nil {
			h.log.Warn("MITM interception requested but no Interceptor configured, falling back to blind tunnel", zap.String("authority", authority))
			h.blindTunnel(w, authority)
			return
		}
		clientConn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			otmerr.WriteError(w, otmerr.New(otmerr.KindInternal, err))
			return
		}
		if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			clientConn.Close()
			return
		}
		if err := h.interceptor.Intercept(clientConn, authority, h); err != nil {
			h.log.Warn("MITM interception failed", zap.String("authority", authority), zap.Error(err))
		}
	default:
		h.blindTunnel(w, authority)
	}
}

func (h *proxyHandler) blindTunnel(w http.ResponseWriter, authority string) {
	upstreamConn, err := net.DialTimeout("tcp", authority, 10*time.Second)
	if err != nil {
		otmerr.WriteError(w, otmerr.New(otmerr.KindTransport, err))
		return
	}
	defer upstreamConn.Close()

	clientConn, _, err := w.(http.Hijacker).Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstreamConn, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, upstreamConn); done <- struct{}{} }()
	<-done
	<-done
}

func (h *proxyHandler) handleForward(w http.ResponseWriter, r *http.Request) {
	connID := r.RemoteAddr
	req := versionengine.Request{
		Method:  r.Method,
		Host:    r.URL.Host,
		Path:    r.URL.Path,
		URL:     r.URL.String(),
		Headers: r.Header,
	}

	result := h.pipeline.PreUpstream(r.Context(), connID, r.Header.Get("Proxy-Authorization"), req)
	for k, vs := range result.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}
