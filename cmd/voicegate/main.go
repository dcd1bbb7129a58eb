// Command voicegate runs the call gateway: an HTTP server that admits media
// streams against a bounded registry and bridges each call to the realtime
// voice API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callgrid/voicegate/bridge"
	"github.com/callgrid/voicegate/httpapi"
	"github.com/callgrid/voicegate/internal/config"
	"github.com/callgrid/voicegate/internal/emailer"
	"github.com/callgrid/voicegate/internal/logctx"
	"github.com/callgrid/voicegate/registry"
	"github.com/callgrid/voicegate/registry/memoryregistry"
	"github.com/callgrid/voicegate/registry/redisregistry"
	"github.com/callgrid/voicegate/tools"
)

func main() {
	log := slog.New(logctx.NewHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var reg registry.Registry
	if cfg.RedisAddr != "" {
		r, err := redisregistry.New(redisregistry.Config{
			RedisAddr: cfg.RedisAddr,
			MaxCalls:  cfg.MaxCalls,
		})
		if err != nil {
			return err
		}
		defer r.Close()
		reg = r
		log.Info("registry.redis", slog.String("addr", cfg.RedisAddr))
	} else {
		reg = memoryregistry.New(cfg.MaxCalls, memoryregistry.WithLogger(log))
		log.Info("registry.memory", slog.Int("max_calls", cfg.MaxCalls))
	}

	if cfg.CapacityFile != "" {
		go func() {
			err := config.WatchCapacityFile(ctx, cfg.CapacityFile, reg, log)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("capacity.watch.stopped", slog.String("err", err.Error()))
			}
		}()
	}

	var sender emailer.Sender = &emailer.LogSender{Log: log}
	if cfg.EmailEndpoint != "" {
		sender = &emailer.HTTPSender{
			Endpoint: cfg.EmailEndpoint,
			APIKey:   cfg.EmailAPIKey,
			From:     cfg.EmailFrom,
		}
	}

	handler := httpapi.New(reg,
		bridge.Config{
			Endpoint: cfg.UpstreamEndpoint,
			Model:    cfg.UpstreamModel,
			APIKey:   cfg.UpstreamAPIKey,
		},
		httpapi.WithLogger(log),
		httpapi.WithToolDeps(tools.Deps{Email: sender}),
		httpapi.WithTelephonySecret([]byte(cfg.TelephonySecret)),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listen", slog.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
