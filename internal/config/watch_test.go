package config

import (
	"os"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatch_NotifiesOnChange(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")

	changed := make(chan fsnotify.Event, 8)
	if err := Watch(path, func(e fsnotify.Event) { changed <- e }); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	// give the watcher goroutine time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification within 5s")
	}
}

func TestWatch_InvalidFile(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if err := Watch(path, nil); err == nil {
		t.Error("Watch() expected error for invalid YAML, got nil")
	}
}
