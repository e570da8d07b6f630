package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/connection"
	httpapi "github.com/nextlevelbuilder/wagate/internal/http"
	"github.com/nextlevelbuilder/wagate/internal/pairing"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
	"github.com/nextlevelbuilder/wagate/internal/whatsapp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)

	if cfg.Gateway.Token == "" {
		slog.Warn("security.no_token", "msg", "API_TOKEN is not set; every authenticated route will answer 403")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mb := bus.New()
	tracker := connection.NewTracker()
	tracker.Attach(mb)

	history, err := whatsapp.OpenHistory(cfg.WhatsApp.HistoryPath)
	if err != nil {
		return err
	}
	defer history.Close()

	client, err := whatsapp.NewMeowClient(ctx, cfg.WhatsApp, history, mb)
	if err != nil {
		return err
	}
	defer client.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Webhook.URL != "" {
		notifier := webhook.New(cfg.Webhook)
		notifier.Attach(mb)
		notifier.Start(gctx)
		defer notifier.Wait()
	}

	srv := httpapi.NewServer(httpapi.Options{
		Gateway:   cfg.Gateway,
		ChatLimit: cfg.WhatsApp.ChatLimit,
		Client:    client,
		Tracker:   tracker,
		Renderer:  pairing.NewRenderer(0),
		Bus:       mb,
	})

	if _, err := os.Stat(cfgPath); err == nil {
		watcher, err := config.NewWatcher(cfgPath)
		if err != nil {
			slog.Warn("config.watch_failed", "error", err)
		} else {
			watcher.OnChange(func(next *config.Config) {
				srv.SetToken(next.Gateway.Token)
				logLevel.Set(parseLevel(next.Log.Level))
			})
			if err := watcher.Start(); err != nil {
				slog.Warn("config.watch_failed", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		srv.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("gateway.listening", "addr", httpServer.Addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("gateway.shutting_down")
		// In-flight requests are not drained.
		return httpServer.Close()
	})

	go func() {
		mb.Publish(bus.EventInitializing, nil)
		if err := client.Initialize(gctx); err != nil {
			slog.Error("whatsapp.initialize_failed", "error", err)
			mb.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: err.Error()})
		}
	}()

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("gateway.stopped")
	return nil
}
