package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoadRequiresUpstreamEndpoint(t *testing.T) {
	t.Setenv("VOICEGATE_UPSTREAM_ENDPOINT", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without an upstream endpoint")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("VOICEGATE_UPSTREAM_ENDPOINT", "https://voice.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.MaxCalls != 100 {
		t.Fatalf("MaxCalls = %d, want 100", cfg.MaxCalls)
	}
	if cfg.UpstreamModel == "" {
		t.Fatal("UpstreamModel default missing")
	}
}

// recordingSetter captures SetCapacity calls for assertions.
type recordingSetter struct {
	mu   sync.Mutex
	seen []int
}

func (s *recordingSetter) SetCapacity(ctx context.Context, maxCalls int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, maxCalls)
	return nil
}

func (s *recordingSetter) values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.seen...)
}

func waitForValue(t *testing.T, s *recordingSetter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		vals := s.values()
		if len(vals) > 0 && vals[len(vals)-1] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("capacity never reached %d, saw %v", want, s.values())
}

func TestWatchCapacityFileAppliesInitialValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capacity")
	if err := os.WriteFile(path, []byte("25\n"), 0o600); err != nil {
		t.Fatalf("write capacity file: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	setter := &recordingSetter{}
	go func() { _ = WatchCapacityFile(ctx, path, setter, nil) }()

	waitForValue(t, setter, 25)
}

func TestWatchCapacityFileFollowsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capacity")
	if err := os.WriteFile(path, []byte("10"), 0o600); err != nil {
		t.Fatalf("write capacity file: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	setter := &recordingSetter{}
	go func() { _ = WatchCapacityFile(ctx, path, setter, nil) }()
	waitForValue(t, setter, 10)

	if err := os.WriteFile(path, []byte("40"), 0o600); err != nil {
		t.Fatalf("rewrite capacity file: %v", err)
	}
	waitForValue(t, setter, 40)
}

func TestWatchCapacityFileSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capacity")
	if err := os.WriteFile(path, []byte("15"), 0o600); err != nil {
		t.Fatalf("write capacity file: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	setter := &recordingSetter{}
	go func() { _ = WatchCapacityFile(ctx, path, setter, nil) }()
	waitForValue(t, setter, 15)

	if err := os.WriteFile(path, []byte("not-a-number"), 0o600); err != nil {
		t.Fatalf("rewrite capacity file: %v", err)
	}
	// Give the watcher a moment to observe the bad write.
	time.Sleep(200 * time.Millisecond)

	vals := setter.values()
	if vals[len(vals)-1] != 15 {
		t.Fatalf("garbage write changed capacity: %v", vals)
	}
}

func TestWatchCapacityFileMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")
	err := WatchCapacityFile(t.Context(), path, &recordingSetter{}, nil)
	if err == nil {
		t.Fatal("WatchCapacityFile succeeded for a missing file")
	}
}
