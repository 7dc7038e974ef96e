package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
)

func TestNewWritesFileAndBuffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gateway.log")
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "console",
		File:   config.LogFileConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	}
	buffers := logbuf.NewSet(100, 10)

	logger, err := New(cfg, buffers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Named(logbuf.Protocol).Info("listening")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "listening") {
		t.Fatalf("log file missing entry: %s", data)
	}

	proto, _ := buffers.Get(logbuf.Protocol)
	if proto.Len() != 1 {
		t.Fatalf("protocol buffer has %d lines", proto.Len())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
