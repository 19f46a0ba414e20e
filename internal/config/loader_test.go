package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadMergesFilesAndResolvesEnv(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("FEEDMESH_TEST_URL", "https://example.com/feed")
	defer os.Unsetenv("FEEDMESH_TEST_URL")

	writeFile(t, dir, "00-settings.yaml", `
settings:
  log_level: debug
  post_storage: sqlite
  outbox_storage: sqlite
  sql_db_path: ./data/feedmesh.db
message_templates:
  default:
    template: "${title}"
`)
	writeFile(t, dir, "10-sources.yaml", `
sources:
  blog:
    fetcher_type: http
    fetcher_options:
      url: "ENV:FEEDMESH_TEST_URL"
    parser_type: rss
    tags: [blog]
    streams:
      - receiver_type: console
        message_template_id: default
        squash: true
`)

	cfg, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppSettings.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.AppSettings.LogLevel)
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.ID != "blog" {
		t.Fatalf("source id = %q", src.ID)
	}
	if src.FetcherOptions["url"] != "https://example.com/feed" {
		t.Fatalf("url not resolved: %v", src.FetcherOptions["url"])
	}
	if len(src.Streams) != 1 || src.Streams[0].MessageTemplate != "${title}" {
		t.Fatalf("message_template_id not resolved: %+v", src.Streams)
	}
}

func TestLoadAppliesMinSpacingDefaultAndOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
sources:
  default-spacing:
    fetcher_type: http
    parser_type: rss
    streams:
      - receiver_type: console
        message_template: "x"
  custom-spacing:
    fetcher_type: http
    parser_type: rss
    min_spacing_seconds: 2.5
    streams:
      - receiver_type: console
        message_template: "x"
`)
	cfg, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	bySource := map[string]Source{}
	for _, src := range cfg.Sources {
		bySource[src.ID] = src
	}
	if got := bySource["default-spacing"].MinSpacing; got != defaultMinSpacing {
		t.Fatalf("expected default min spacing, got %v", got)
	}
	if got := bySource["custom-spacing"].MinSpacing; got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s min spacing, got %v", got)
	}
}

func TestLoadLaterFileReplacesTopLevelKeyWholesale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
sources:
  one:
    fetcher_type: http
    parser_type: rss
    streams:
      - receiver_type: console
        message_template: "x"
`)
	writeFile(t, dir, "b.yaml", `
sources:
  two:
    fetcher_type: http
    parser_type: rss
    streams:
      - receiver_type: console
        message_template: "y"
`)

	cfg, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// b.yaml's "sources" key wholly replaces a.yaml's — only "two" survives.
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "two" {
		t.Fatalf("expected shallow top-level replace, got %+v", cfg.Sources)
	}
}

func TestLoadRejectsBothTemplateForms(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
sources:
  one:
    fetcher_type: http
    parser_type: rss
    streams:
      - receiver_type: console
        message_template: "x"
        message_template_id: "default"
`)
	if _, err := Load(context.Background(), dir); err == nil {
		t.Fatal("expected error for both message_template and message_template_id set")
	}
}

func TestLoadRejectsEmptySourceSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
settings:
  log_level: info
`)
	if _, err := Load(context.Background(), dir); err == nil {
		t.Fatal("expected error for empty source set")
	}
}

func TestLoadResolvesSubhandlerAliases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
handlers:
  my-bot:
    type: telegram_bot
    init_options:
      token: "tok"
  other-bot:
    type: telegram_bot
    init_options:
      token: "tok2"
sources:
  one:
    fetcher_type: http
    parser_type: rss
    streams:
      - receiver_type: my-bot
        message_template: "x"
`)
	cfg, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Subhandlers) != 2 {
		t.Fatalf("expected 2 subhandlers, got %d", len(cfg.Subhandlers))
	}
}
