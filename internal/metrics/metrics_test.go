package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteOnceProducesValidTextfile(t *testing.T) {
	SourcesFetched.WithLabelValues("blog", "ok").Inc()

	path := filepath.Join(t.TempDir(), "feedmesh.prom")
	exp := NewTextfileExporter(path)
	if err := exp.WriteOnce(); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(data), "feedmesh_sources_fetched_total") {
		t.Fatalf("expected metric in textfile, got:\n%s", data)
	}
}

func TestWriteOnceLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedmesh.prom")
	exp := NewTextfileExporter(path)
	if err := exp.WriteOnce(); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "feedmesh.prom" {
		t.Fatalf("expected only the target file, got %v", entries)
	}
}

func TestNoopErrorTrackerDiscardsCapture(t *testing.T) {
	var tracker ErrorTracker = NoopErrorTracker{}
	tracker.Capture(nil, nil) // must not panic
}
