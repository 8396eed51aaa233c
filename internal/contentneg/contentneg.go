// Package contentneg implements the Content Negotiator (spec.md §4.3):
// Accept-header rewriting per format policy, and archive-compatible
// format token selection from an inbound Accept header. Table shapes
// and the format/MIME vocabulary are grounded on
// ontologytimemachine/utils/utils.py's get_mime_type/map_mime_to_format
// and parse_accept_header_with_priority.
package contentneg

import (
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/dbpedia/ontology-time-machine-go/internal/otmconfig"
)

// mimeForFormat mirrors utils.py's get_mime_type table.
var mimeForFormat = map[otmconfig.OntoFormat]string{
	otmconfig.FormatTurtle:   "text/turtle",
	otmconfig.FormatNTriples: "application/n-triples",
	otmconfig.FormatRDFXML:   "application/rdf+xml",
	otmconfig.FormatHTMLDocu: "text/html",
}

// archiveMIMEs lists the MIME types the archive API understands,
// ordered to match spec.md §4.3's enumeration.
var archiveMIMEs = []string{
	"application/rdf+xml",
	"application/owl+xml",
	"text/turtle",
	"application/n-triples",
}

// formatTokenForMIME mirrors utils.py's map_mime_to_format table.
var formatTokenForMIME = map[string]string{
	"application/rdf+xml":   "owl",
	"application/owl+xml":   "owl",
	"text/turtle":           "ttl",
	"application/n-triples": "nt",
}

// MIMEForFormat returns the preferred MIME type for an OntoFormat, or
// ("", false) if format is not one of the closed enum values.
func MIMEForFormat(format otmconfig.OntoFormat) (string, bool) {
	m, ok := mimeForFormat[format]
	return m, ok
}

// TokenForFormat returns the archive-compatible format token for the
// configured OntoFormat (e.g. turtle -> "ttl"), or ("", false) when the
// format has no archive-MIME equivalent (htmldocu). This is the
// fallback source of truth for the archive token when the inbound
// Accept header doesn't name one, per spec.md §4.4: the Version Engine
// still knows which serialization was asked for via ontoFormat.
func TokenForFormat(format otmconfig.OntoFormat) (string, bool) {
	mime, ok := mimeForFormat[format]
	if !ok {
		return "", false
	}
	token, ok := formatTokenForMIME[mime]
	return token, ok
}

// mimeQ is one parsed Accept entry.
type mimeQ struct {
	mime string
	q    float64
	pos  int
}

// parseAccept parses an Accept header value into (mime, q) pairs with q
// defaulting to 1.0, per spec.md §9's design note: deterministic,
// ties broken by input order (never relying on sort stability alone —
// pos is carried explicitly and used as the sort tiebreaker).
func parseAccept(accept string) []mimeQ {
	if accept == "" {
		return nil
	}
	parts := strings.Split(accept, ",")
	out := make([]mimeQ, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mime := part
		q := 1.0
		if semi := strings.IndexByte(part, ';'); semi >= 0 {
			mime = strings.TrimSpace(part[:semi])
			params := part[semi+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if strings.HasPrefix(p, "q=") {
					if v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
						q = v
					}
				}
			}
		}
		if mime == "" {
			continue
		}
		out = append(out, mimeQ{mime: mime, q: q, pos: i})
	}
	return out
}

// ArchiveFormat selects the archive-compatible format token from the
// inbound Accept header, per spec.md §4.3: take the highest q, and from
// all MIMEs sharing that q return the first (by input order) that
// appears in the archive-MIME list. Returns ("", false) if nothing
// listed is present — Version Engine treats that as "archive cannot
// satisfy".
func ArchiveFormat(headers map[string][]string) (string, bool) {
	accept := headerGet(headers, "Accept")
	pairs := parseAccept(accept)
	if len(pairs) == 0 {
		return "", false
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].q != pairs[j].q {
			return pairs[i].q > pairs[j].q
		}
		return pairs[i].pos < pairs[j].pos
	})

	highestQ := pairs[0].q
	for _, p := range pairs {
		if p.q != highestQ {
			break
		}
		if p.q == 0 {
			continue
		}
		for _, archiveMIME := range archiveMIMEs {
			if p.mime == archiveMIME {
				return formatTokenForMIME[archiveMIME], true
			}
		}
	}
	return "", false
}

func headerGet(headers map[string][]string, key string) string {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if vs, ok := headers[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func headerSet(headers map[string][]string, key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	headers[key] = []string{value}
}

// ApplyAccept rewrites headers' Accept entry in place per spec.md
// §4.3's four-condition policy, returning whether it rewrote anything.
// It is idempotent (testable property 1): a second call with the same
// cfg against the already-rewritten header reaches the same Accept
// value, either because the matching condition now fails (e.g. the
// header is no longer absent or "*/*") or because the condition still
// holds but rewrites to the identical mime (the "always" precedence
// case).
func ApplyAccept(headers map[string][]string, cfg otmconfig.Config) bool {
	mime, ok := MIMEForFormat(cfg.OntoFormat.Format)
	if !ok || !ValidToken(mime) {
		return false
	}

	// original + patchAcceptUpstream=false: client's Accept passes
	// through untouched end-to-end.
	if cfg.OntoVersion == otmconfig.VersionOriginal && !cfg.OntoFormat.PatchAcceptUpstream {
		return false
	}

	accept := headerGet(headers, "Accept")
	precedence := cfg.OntoFormat.Precedence

	switch {
	case accept == "" && (precedence == otmconfig.PrecedenceDefault || precedence == otmconfig.PrecedenceEnforcedPriority):
		headerSet(headers, "Accept", mime)
		return true
	case accept == "*/*" && (precedence == otmconfig.PrecedenceDefault || precedence == otmconfig.PrecedenceEnforcedPriority):
		headerSet(headers, "Accept", mime)
		return true
	case precedence == otmconfig.PrecedenceEnforcedPriority && isMultiValued(accept) && containsMIME(accept, mime):
		headerSet(headers, "Accept", mime)
		return true
	case precedence == otmconfig.PrecedenceAlways:
		headerSet(headers, "Accept", mime)
		return true
	default:
		return false
	}
}

func isMultiValued(accept string) bool {
	return strings.Count(accept, ",") > 0
}

func containsMIME(accept, mime string) bool {
	for _, p := range parseAccept(accept) {
		if p.mime == mime {
			return true
		}
	}
	return false
}

// ValidToken reports whether s is a valid HTTP header field value (no
// control characters such as CR/LF), used to validate rewritten Accept
// values before they're sent
// upstream (golang.org/x/net/http/httpguts, as caddy's own HTTP stack
// depends on transitively).
func ValidToken(s string) bool {
	return httpguts.ValidHeaderFieldValue(s)
}
