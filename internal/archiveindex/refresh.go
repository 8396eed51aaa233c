package archiveindex

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dbpedia/ontology-time-machine-go/internal/otmlog"
	"github.com/dbpedia/ontology-time-machine-go/internal/otmmetrics"
)

// Refresher implements spec.md §4.7: it downloads the archive's CSV
// index, hashes it, and on change rewrites the canonical IRI list and
// atomically republishes the Store — grounded on
// download_archivo_urls.py's download/hash-compare/publish sequence and
// ManuGH-xg2g's renameio-based durable-write idiom
// (internal/jobs/write_unix.go).
type Refresher struct {
	Store *Store

	SourceURL string
	IndexPath string
	HashPath  string

	// Interval is the staleness threshold that triggers an on-demand
	// refresh when consulted outside the daily schedule (default one
	// day, spec.md §4.7).
	Interval time.Duration

	// DailyAt is "HH:MM" local time the background loop fires at, in
	// addition to staleness-triggered refreshes.
	DailyAt string

	HTTPClient *http.Client

	log *zap.Logger

	// limiter bounds concurrent on-demand triggers so a burst of
	// lookups against a stale index doesn't spawn a download per
	// request; only the first through the gate per refresh window
	// actually downloads.
	limiter *rate.Limiter

	mu          sync.Mutex
	refreshing  bool
	lastSuccess atomic.Int64 // unix seconds

	// watcher, if non-nil, reloads the on-disk IRI list whenever it
	// changes out-of-band (e.g. an operator-run refresh tool), without
	// waiting for the daily timer. Grounded on
	// ManuGH-xg2g/internal/proxy/watcher.go's fsnotify use.
	watcher *fsnotify.Watcher
}

// ErrStale describes an index past its refresh interval. EnsureFresh
// starts its background refresh without returning or logging it, and
// no function in this package returns it.
var ErrStale = fmt.Errorf("archiveindex: index is stale, refresh triggered")

// NewRefresher builds a Refresher with sane defaults for the HTTP
// client and trigger rate limit.
func NewRefresher(store *Store, sourceURL, indexPath, hashPath string) *Refresher {
	return &Refresher{
		Store:      store,
		SourceURL:  sourceURL,
		IndexPath:  indexPath,
		HashPath:   hashPath,
		Interval:   24 * time.Hour,
		DailyAt:    "03:00",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		log:        otmlog.Named(otmlog.ArchiveRefresher),
		limiter:    rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// LoadInitial populates the Store from IndexPath if present, falling
// back to a blocking refresh when the file is absent — per spec.md
// §4.1's "if the local file is absent or stale, the Refresher is
// invoked first".
func (r *Refresher) LoadInitial(ctx context.Context) error {
	idx, err := loadFromFile(r.IndexPath)
	if err != nil {
		r.log.Info("no local archive index, performing initial refresh", zap.Error(err))
		return r.Refresh(ctx)
	}
	r.Store.Publish(idx)
	r.lastSuccess.Store(time.Now().Unix())
	r.log.Info("loaded archive index from disk", zap.Int("entries", idx.Len()))
	return nil
}

// EnsureFresh triggers a background refresh, coalesced, if the index
// has not been refreshed within Interval. It never blocks the caller.
func (r *Refresher) EnsureFresh() {
	last := r.lastSuccess.Load()
	if last != 0 && time.Since(time.Unix(last, 0)) < r.Interval {
		return
	}
	if !r.limiter.Allow() {
		return
	}
	go func() {
		if err := r.Refresh(context.Background()); err != nil {
			r.log.Warn("on-demand archive refresh failed", zap.Error(err))
		}
	}()
}

// Refresh performs one download/hash-compare/publish cycle. At most one
// Refresh runs at a time; concurrent callers coalesce onto the
// in-flight run (spec.md §5, "Refresher scheduling").
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		return nil
	}
	r.refreshing = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.refreshing = false
		r.mu.Unlock()
	}()

	csvBytes, err := r.download(ctx)
	if err != nil {
		otmmetrics.ArchiveRefreshTotal.WithLabelValues("download_error").Inc()
		r.log.Error("downloading archive index", zap.Error(err))
		return err
	}

	newHash := sha256Hex(csvBytes)
	oldHash, _ := readHash(r.HashPath)
	if newHash == oldHash {
		otmmetrics.ArchiveRefreshTotal.WithLabelValues("no_change").Inc()
		r.log.Info("archive index unchanged", zap.String("hash", newHash))
		r.lastSuccess.Store(time.Now().Unix())
		return nil
	}

	iris, err := extractIRIs(csvBytes)
	if err != nil {
		otmmetrics.ArchiveRefreshTotal.WithLabelValues("parse_error").Inc()
		return fmt.Errorf("archiveindex: parsing archive CSV: %w", err)
	}

	if err := writeIRIList(r.IndexPath, iris); err != nil {
		otmmetrics.ArchiveRefreshTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("archiveindex: writing IRI list: %w", err)
	}
	if err := renameio.WriteFile(r.HashPath, []byte(newHash), 0o644); err != nil {
		otmmetrics.ArchiveRefreshTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("archiveindex: writing hash file: %w", err)
	}

	idx := build(parseEntries(iris))
	r.Store.Publish(idx)
	otmmetrics.ArchiveIndexSize.Set(float64(idx.Len()))
	otmmetrics.ArchiveRefreshTotal.WithLabelValues("updated").Inc()
	r.lastSuccess.Store(time.Now().Unix())
	r.log.Info("published refreshed archive index", zap.Int("entries", idx.Len()), zap.String("hash", newHash))
	return nil
}

func (r *Refresher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.SourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archiveindex: source returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readHash(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// extractIRIs reads the first column of each CSV row, tolerating a
// header row per SPEC_FULL.md §D.3: the first row is only kept as data
// if it itself parses as an absolute URL, mirroring
// download_archivo_urls.py's defensive (rather than fixed-skip) header
// handling.
func extractIRIs(csvBytes []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(csvBytes))
	reader.FieldsPerRecord = -1

	var iris []string
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		iri := strings.TrimSpace(row[0])
		if iri == "" {
			continue
		}
		if first {
			first = false
			if !looksLikeAbsoluteURL(iri) {
				continue
			}
		}
		iris = append(iris, iri)
	}
	return iris, nil
}

func looksLikeAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func writeIRIList(path string, iris []string) error {
	var buf bytes.Buffer
	for _, iri := range iris {
		buf.WriteString(iri)
		buf.WriteByte('\n')
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// parseEntries turns a newline-delimited IRI list into (host, path)
// entries, stripping fragments per spec.md §8's boundary case
// ("IRIs with fragments must be stripped before membership").
func parseEntries(iris []string) []entry {
	entries := make([]entry, 0, len(iris))
	for _, iri := range iris {
		u, err := url.Parse(iri)
		if err != nil || u.Host == "" {
			continue
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		entries = append(entries, entry{host: u.Host, path: path})
	}
	return entries
}

// loadFromFile parses the persisted newline-delimited IRI list into an
// Index without touching the network.
func loadFromFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var iris []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			iris = append(iris, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return build(parseEntries(iris)), nil
}

// RunSchedule blocks, firing Refresh at DailyAt local time every day
// until ctx is cancelled. Concurrent on-demand triggers via EnsureFresh
// coalesce against the same r.refreshing guard used here.
func (r *Refresher) RunSchedule(ctx context.Context) {
	for {
		d := durationUntilNext(r.DailyAt, time.Now())
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("scheduled archive refresh failed", zap.Error(err))
			}
		}
	}
}

func durationUntilNext(hhmm string, now time.Time) time.Duration {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		hh, mm = 3, 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// WatchFile starts an fsnotify watch on IndexPath so an externally
// refreshed file (e.g. an operator-run refresh tool) is picked up
// without waiting for RunSchedule's daily timer. Grounded on
// ManuGH-xg2g/internal/proxy/watcher.go.
func (r *Refresher) WatchFile(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("archiveindex: fsnotify.NewWatcher: %w", err)
	}
	r.watcher = w

	dir := dirOf(r.IndexPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("archiveindex: watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		target := baseOf(r.IndexPath)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if baseOf(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				idx, err := loadFromFile(r.IndexPath)
				if err != nil {
					r.log.Warn("reloading archive index after fsnotify event", zap.Error(err))
					continue
				}
				r.Store.Publish(idx)
				r.lastSuccess.Store(time.Now().Unix())
				otmmetrics.ArchiveIndexSize.Set(float64(idx.Len()))
				r.log.Info("reloaded archive index from external write", zap.Int("entries", idx.Len()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Warn("fsnotify watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

func baseOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
