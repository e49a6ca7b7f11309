package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_newRunLogger_error_file(t *testing.T) {
	logsRoot := filepath.Join(t.TempDir(), "logs")

	log, closer, err := newRunLogger(logsRoot, slog.LevelInfo)
	if err != nil {
		t.Fatalf("newRunLogger() err:%v", err)
	}
	defer closer.Close()

	log.Info("repository synced", "repo", "repo1")
	log.Error("repository sync failed", "repo", "repo2", "err", "boom")

	entries, err := os.ReadDir(logsRoot)
	if err != nil {
		t.Fatalf("could not read logs root err:%v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d log files, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "error-") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name %s", name)
	}

	data, err := os.ReadFile(filepath.Join(logsRoot, name))
	if err != nil {
		t.Fatalf("could not read log file err:%v", err)
	}
	content := string(data)
	if !strings.Contains(content, "repository sync failed") {
		t.Errorf("error entry missing from log file:\n%s", content)
	}
	if strings.Contains(content, "repository synced") {
		t.Errorf("info entry should not be in error log file:\n%s", content)
	}
}
