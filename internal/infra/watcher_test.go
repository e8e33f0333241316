package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewConfigWatcher(path, func(c *Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("NewConfigWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Invalid content is logged and skipped.
	if err := os.WriteFile(path, []byte("trading: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Fatal("Invalid config must not be delivered")
	case <-time.After(600 * time.Millisecond):
	}

	updated := sampleConfig + "\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-reloaded:
		if c.Logging.Level != "debug" {
			t.Errorf("Expected debug level, got %q", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
