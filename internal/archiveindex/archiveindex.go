// Package archiveindex holds the immutable set of ontology IRIs known to
// the archive and the longest-prefix-style membership matcher described
// in spec.md §4.1. The set is published by atomic pointer swap
// (caddy's module-registry replacement pattern, generalized from a
// `*Context` swap to a plain `*Index` swap since there is no dynamic
// module graph here) so reads never take a lock.
package archiveindex

import (
	"strings"
	"sync/atomic"
)

type pathSet map[string]struct{}

// Index is an immutable snapshot of (host, path) archive membership.
// The zero value is an empty index.
type Index struct {
	byHost map[string]pathSet
}

// entry is one parsed (host, path) pair.
type entry struct {
	host string
	path string
}

// build constructs an Index from a flat list of entries. It never
// mutates anything shared with a previously published Index.
func build(entries []entry) *Index {
	idx := &Index{byHost: make(map[string]pathSet)}
	for _, e := range entries {
		ps, ok := idx.byHost[e.host]
		if !ok {
			ps = make(pathSet)
			idx.byHost[e.host] = ps
		}
		ps[e.path] = struct{}{}
	}
	return idx
}

// FromIRIs builds an Index directly from a list of IRI strings,
// parsing each into (host, path) the same way the Refresher does.
// Exposed for callers (and tests) that already have a resolved IRI list
// and don't need the download/hash-compare machinery in refresh.go.
func FromIRIs(iris []string) *Index {
	return build(parseEntries(iris))
}

// Len reports the total number of (host, path) pairs in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	n := 0
	for _, ps := range idx.byHost {
		n += len(ps)
	}
	return n
}

// Contains implements the §4.1 matching algorithm: it tries path, the
// rstripped path, the parent (with and without trailing slash), and the
// grandparent (with and without trailing slash), in that order, and
// returns the variant that hit alongside whether anything matched.
func (idx *Index) Contains(host, path string) (matched string, ok bool) {
	if idx == nil {
		return "", false
	}
	ps, ok := idx.byHost[host]
	if !ok {
		return "", false
	}
	for _, candidate := range candidates(path) {
		if _, hit := ps[candidate]; hit {
			return candidate, true
		}
	}
	return "", false
}

// candidates enumerates the path variants in matching precedence order,
// per spec.md §4.1: path as given, rstripped, parent (with/without
// trailing slash), grandparent (with/without trailing slash).
func candidates(path string) []string {
	out := []string{path}

	stripped := strings.TrimSuffix(path, "/")
	if stripped != path {
		out = append(out, stripped)
	}

	segs := splitSegments(stripped)

	if len(segs) >= 1 {
		parent := joinSegments(segs[:len(segs)-1])
		out = append(out, parent, parent+"/")
	}
	if len(segs) >= 2 {
		grandparent := joinSegments(segs[:len(segs)-2])
		out = append(out, grandparent, grandparent+"/")
	}
	return out
}

// splitSegments splits a leading-slash path into its non-empty
// segments, e.g. "/a/b/c" -> ["a","b","c"], "/" -> [].
func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// joinSegments is the inverse of splitSegments, always producing a
// leading-slash, non-trailing-slash path (or "/" for no segments).
func joinSegments(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// Store is the atomically-published holder of the current Index,
// generalizing caddy's usagePool-based replacement to a single pointer
// swap, since there is exactly one archive index in this process.
type Store struct {
	current atomic.Pointer[Index]
}

// NewStore returns a Store initialized with an empty Index so Load
// never returns nil.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Index{byHost: map[string]pathSet{}})
	return s
}

// Load returns the currently published Index. Safe for concurrent use
// with Publish; callers must not mutate the returned Index.
func (s *Store) Load() *Index {
	return s.current.Load()
}

// Publish atomically replaces the current Index. Readers that already
// hold a pointer from Load continue to see a fully-built, consistent
// snapshot — this is the mechanism behind testable property 6
// (index atomicity).
func (s *Store) Publish(idx *Index) {
	s.current.Store(idx)
}
