package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dbpedia/ontology-time-machine-go/internal/otmerr"
)

func TestFetchGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/turtle")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ontology body"))
	}))
	defer srv.Close()

	f := New(false)
	resp := f.Fetch(context.Background(), http.MethodGet, srv.URL, nil)
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "ontology body" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestFetchHeadRequest(t *testing.T) {
	var seenMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(false)
	f.Fetch(context.Background(), http.MethodHead, srv.URL, nil)
	if seenMethod != http.MethodHead {
		t.Fatalf("server saw method %q, want HEAD", seenMethod)
	}
}

func TestFetchNonGetNonHeadNormalizesToGet(t *testing.T) {
	var seenMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(false)
	f.Fetch(context.Background(), "POST", srv.URL, nil)
	if seenMethod != http.MethodGet {
		t.Fatalf("server saw method %q, want GET", seenMethod)
	}
}

func TestFetchDisableRemovingRedirectsReturnsRedirectVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(true)
	resp := f.Fetch(context.Background(), http.MethodGet, srv.URL+"/start", nil)
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	if resp.Status != http.StatusFound {
		t.Fatalf("status = %d, want 302 (redirect kept verbatim)", resp.Status)
	}
}

func TestFetchFollowsRedirectsByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("final"))
	}))
	defer srv.Close()

	f := New(false)
	resp := f.Fetch(context.Background(), http.MethodGet, srv.URL+"/start", nil)
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	if resp.Status != http.StatusOK || string(resp.Body) != "final" {
		t.Fatalf("got status=%d body=%q, want 200/final", resp.Status, resp.Body)
	}
}

func TestFetchConnectionRefusedIsTransportKind(t *testing.T) {
	f := New(false)
	resp := f.Fetch(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil)
	if resp.Err == nil {
		t.Fatal("expected an error for a connection-refused target")
	}
	if resp.Err.Kind != otmerr.KindTransport {
		t.Fatalf("got kind %q, want %q", resp.Err.Kind, otmerr.KindTransport)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-contextDoneNever():
		}
	}))
	defer srv.Close()

	f := New(false, WithTimeout(1))
	resp := f.Fetch(context.Background(), http.MethodGet, srv.URL, nil)
	if resp.Err == nil {
		t.Fatal("expected a timeout error")
	}
}

func contextDoneNever() <-chan struct{} {
	ch := make(chan struct{})
	return ch
}
