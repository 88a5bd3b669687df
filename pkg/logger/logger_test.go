package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Config{Level: "debug", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("vault").Info("identity created", slog.String("identity_id", "abc"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", content, err)
	}
	if entry["component"] != "vault" || entry["identity_id"] != "abc" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestSecretIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	l.Info("key loaded", slog.Any("secret", Secret{}))
	if !strings.Contains(buf.String(), "secret=[redacted]") {
		t.Fatalf("secret not redacted: %s", buf.String())
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path missing")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARN") != slog.LevelWarn || parseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
