package archiveindex

import (
	"testing"
	"time"
)

func TestExtractIRIsSkipsNonURLHeaderRow(t *testing.T) {
	csvData := []byte("Ontology URI,Title\nhttp://example.org/onto,Example\nhttp://example.org/other,Other\n")
	iris, err := extractIRIs(csvData)
	if err != nil {
		t.Fatalf("extractIRIs: %v", err)
	}
	want := []string{"http://example.org/onto", "http://example.org/other"}
	if len(iris) != len(want) {
		t.Fatalf("got %v, want %v", iris, want)
	}
	for i := range want {
		if iris[i] != want[i] {
			t.Fatalf("got %v, want %v", iris, want)
		}
	}
}

func TestExtractIRIsKeepsFirstRowWhenItIsData(t *testing.T) {
	csvData := []byte("http://example.org/onto,Example\nhttp://example.org/other,Other\n")
	iris, err := extractIRIs(csvData)
	if err != nil {
		t.Fatalf("extractIRIs: %v", err)
	}
	if len(iris) != 2 {
		t.Fatalf("got %v, want 2 rows kept", iris)
	}
}

func TestParseEntriesStripsFragment(t *testing.T) {
	entries := parseEntries([]string{"http://example.org/onto#Class1"})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].host != "example.org" || entries[0].path != "/onto" {
		t.Fatalf("got %+v, want host=example.org path=/onto", entries[0])
	}
}

func TestParseEntriesDefaultsEmptyPathToRoot(t *testing.T) {
	entries := parseEntries([]string{"http://example.org"})
	if len(entries) != 1 || entries[0].path != "/" {
		t.Fatalf("got %+v, want path=/", entries)
	}
}

func TestSha256HexDeterministic(t *testing.T) {
	a := sha256Hex([]byte("hello"))
	b := sha256Hex([]byte("hello"))
	if a != b {
		t.Fatal("hash of identical input must match")
	}
	if a == sha256Hex([]byte("world")) {
		t.Fatal("hash of different input must differ")
	}
}

func TestDurationUntilNextRollsToTomorrow(t *testing.T) {
	// "now" is fixed at 04:00 UTC, after today's 03:00, so the next run
	// is tomorrow's 03:00: 23 hours away.
	now, err := time.Parse(time.RFC3339, "2024-01-01T04:00:00Z")
	if err != nil {
		t.Fatalf("time.Parse: %v", err)
	}
	d := durationUntilNext("03:00", now)
	if d != 23*time.Hour {
		t.Fatalf("expected 23h until tomorrow's 03:00, got %v", d)
	}
}
