package archiveindex

import "testing"

func TestContainsExactMatch(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	matched, ok := idx.Contains("example.org", "/onto")
	if !ok || matched != "/onto" {
		t.Fatalf("got (%q, %v), want (/onto, true)", matched, ok)
	}
}

func TestContainsTrailingSlashFallback(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	matched, ok := idx.Contains("example.org", "/onto/")
	if !ok || matched != "/onto" {
		t.Fatalf("got (%q, %v), want (/onto, true)", matched, ok)
	}
}

func TestContainsParentFallback(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	matched, ok := idx.Contains("example.org", "/onto/Class1")
	if !ok || matched != "/onto" {
		t.Fatalf("got (%q, %v), want (/onto, true)", matched, ok)
	}
}

func TestContainsParentFallbackWithTrailingSlash(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto/"}})
	matched, ok := idx.Contains("example.org", "/onto/Class1")
	if !ok || matched != "/onto/" {
		t.Fatalf("got (%q, %v), want (/onto/, true)", matched, ok)
	}
}

func TestContainsGrandparentFallback(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	matched, ok := idx.Contains("example.org", "/onto/Class1/prop")
	if !ok || matched != "/onto" {
		t.Fatalf("got (%q, %v), want (/onto, true)", matched, ok)
	}
}

func TestContainsRootPath(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/"}})
	if _, ok := idx.Contains("example.org", "/"); !ok {
		t.Fatal("expected root path to match itself")
	}
}

func TestContainsMiss(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	if _, ok := idx.Contains("example.org", "/unrelated/deep/path"); ok {
		t.Fatal("expected no match for an unrelated host path")
	}
}

func TestContainsHostCaseSensitive(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto"}})
	if _, ok := idx.Contains("EXAMPLE.ORG", "/onto"); ok {
		t.Fatal("host matching must be case-sensitive per spec.md §4")
	}
}

// TestContainsMatchedIsAncestor covers testable property 2: the
// matched variant must be a prefix/ancestor of the requested path.
func TestContainsMatchedIsAncestor(t *testing.T) {
	idx := build([]entry{{host: "example.org", path: "/onto/sub"}})
	matched, ok := idx.Contains("example.org", "/onto/sub/Entity/x")
	if !ok {
		t.Fatal("expected a match")
	}
	if matched != "/onto/sub" {
		t.Fatalf("matched %q is not an ancestor of /onto/sub/Entity/x", matched)
	}
}

func TestStorePublishAndLoad(t *testing.T) {
	s := NewStore()
	if s.Load().Len() != 0 {
		t.Fatal("new store should start empty")
	}
	s.Publish(build([]entry{{host: "example.org", path: "/onto"}}))
	if s.Load().Len() != 1 {
		t.Fatal("expected 1 entry after publish")
	}
}
