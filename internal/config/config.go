// Package config loads the gateway's runtime settings from the environment
// and optionally tracks a capacity file so operators can resize the call
// ceiling without a restart.
package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/joeshaw/envdecode"
)

// Config for the voicegate server. Defaults can be loaded via envdecode.
type Config struct {
	// ListenAddr is the HTTP bind address. ENV: VOICEGATE_LISTEN_ADDR
	ListenAddr string `env:"VOICEGATE_LISTEN_ADDR,default=:8080"`

	// UpstreamEndpoint is the realtime voice API base URL.
	// ENV: VOICEGATE_UPSTREAM_ENDPOINT
	UpstreamEndpoint string `env:"VOICEGATE_UPSTREAM_ENDPOINT"`
	// UpstreamModel selects the realtime model. ENV: VOICEGATE_UPSTREAM_MODEL
	UpstreamModel string `env:"VOICEGATE_UPSTREAM_MODEL,default=gpt-4o-realtime-preview"`
	// UpstreamAPIKey authenticates against the voice API.
	// ENV: VOICEGATE_UPSTREAM_API_KEY
	UpstreamAPIKey string `env:"VOICEGATE_UPSTREAM_API_KEY"`

	// TelephonySecret is the HMAC secret providers sign stream tokens with.
	// Empty disables the telephony endpoint. ENV: VOICEGATE_TELEPHONY_SECRET
	TelephonySecret string `env:"VOICEGATE_TELEPHONY_SECRET"`

	// MaxCalls is the initial admission ceiling. ENV: VOICEGATE_MAX_CALLS
	MaxCalls int `env:"VOICEGATE_MAX_CALLS,default=100"`
	// CapacityFile, when set, is watched for ceiling updates. The file holds
	// a single decimal integer. ENV: VOICEGATE_CAPACITY_FILE
	CapacityFile string `env:"VOICEGATE_CAPACITY_FILE"`

	// RedisAddr, when set, switches the registry to the Redis backend so
	// multiple gateways share one ceiling. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`

	// EmailEndpoint, when set, posts call summaries to an HTTP sender
	// instead of logging them. ENV: VOICEGATE_EMAIL_ENDPOINT
	EmailEndpoint string `env:"VOICEGATE_EMAIL_ENDPOINT"`
	// EmailAPIKey authenticates against the email endpoint.
	// ENV: VOICEGATE_EMAIL_API_KEY
	EmailAPIKey string `env:"VOICEGATE_EMAIL_API_KEY"`
	// EmailFrom is the summary sender address. ENV: VOICEGATE_EMAIL_FROM
	EmailFrom string `env:"VOICEGATE_EMAIL_FROM,default=assistant@voicegate.local"`
}

// Load populates a Config from the environment using envdecode. Fields
// without env values keep their tag defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.UpstreamEndpoint == "" {
		return Config{}, fmt.Errorf("VOICEGATE_UPSTREAM_ENDPOINT is required")
	}
	return cfg, nil
}

// CapacitySetter is the slice of the registry the watcher needs.
type CapacitySetter interface {
	SetCapacity(ctx context.Context, maxCalls int) error
}

// readCapacityFile parses the single integer the capacity file holds.
func readCapacityFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse capacity file %s: %w", path, err)
	}
	return n, nil
}

// WatchCapacityFile applies the file's current value to reg, then blocks
// applying every subsequent write until ctx is canceled. Unparseable or
// out-of-range values are logged and skipped; the previous ceiling stays
// in force.
func WatchCapacityFile(ctx context.Context, path string, reg CapacitySetter, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	apply := func() {
		n, err := readCapacityFile(path)
		if err != nil {
			log.WarnContext(ctx, "capacity.file.unreadable",
				slog.String("path", path),
				slog.String("err", err.Error()))
			return
		}
		if err := reg.SetCapacity(ctx, n); err != nil {
			log.WarnContext(ctx, "capacity.file.rejected",
				slog.String("path", path),
				slog.Int("max_calls", n),
				slog.String("err", err.Error()))
			return
		}
		log.InfoContext(ctx, "capacity.file.applied",
			slog.String("path", path),
			slog.Int("max_calls", n))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	apply()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0 {
				apply()
			}
			// Editors often replace the file via rename; re-arm the watch.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := w.Add(path); err == nil {
					apply()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "capacity.watch.error", slog.String("err", err.Error()))
		}
	}
}
