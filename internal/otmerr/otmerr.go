// Package otmerr defines the normalized error taxonomy used across the
// fetch, version, and plugin layers (spec.md §7) and renders the
// minimal single-<h1> HTML responses the spec calls for.
package otmerr

import (
	"fmt"
	"html"
	"net/http"
)

// Kind is one of the normalized error kinds from spec.md §7.
type Kind string

const (
	KindDNS               Kind = "dns"
	KindTransport          Kind = "transport"
	KindTLS                Kind = "tls"
	KindTimeout            Kind = "timeout"
	KindTooManyRedirects   Kind = "too-many-redirects"
	KindNetworkOther       Kind = "network-other"
	KindRestricted         Kind = "restricted"
	KindNotFoundInArchive  Kind = "not-found-in-archive"
	KindInternal           Kind = "internal"
)

// Status maps a Kind to the HTTP status clients see, per spec.md §7's
// propagation table.
func (k Kind) Status() int {
	switch k {
	case KindDNS, KindTransport, KindTLS, KindTooManyRedirects, KindNetworkOther:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRestricted:
		return http.StatusForbidden
	case KindNotFoundInArchive:
		return http.StatusNotFound
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a HandlerError-shaped value: it carries the normalized Kind
// alongside the underlying cause, modelled on
// modules/caddyhttp/errors.go's HandlerError.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) Error {
	return Error{Kind: kind, Err: err}
}

func (e Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

// StatusText is the short reason phrase embedded in the <h1>.
func StatusText(status int) string {
	text := http.StatusText(status)
	if text == "" {
		text = "Error"
	}
	return text
}

// WriteHTML renders the minimal single-<h1> HTML response spec.md §7
// requires for user-visible failures.
func WriteHTML(w http.ResponseWriter, status int, summary string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body><h1>%d %s</h1></body></html>", status, html.EscapeString(summary))
}

// WriteError renders e using its mapped status and a summary built from
// the status text, e.g. "403 Forbidden".
func WriteError(w http.ResponseWriter, e Error) {
	status := e.Kind.Status()
	WriteHTML(w, status, StatusText(status))
}
