// Package main is a demo CLI built on resclient: connect to a RES
// gateway, subscribe to a RID, and print every change/add/remove event
// it receives until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/resclient"
	"github.com/nugget/resclient/calllog"
	"github.com/nugget/resclient/diagnostics"
	"github.com/nugget/resclient/internal/config"
	"github.com/nugget/resclient/internal/connwatch"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	gatewayURL := flag.String("url", "", "RES gateway URL (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	cfg := loadConfig(logger, *configPath, *gatewayURL)

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Error("log level", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: resclient-probe [-config path] [-url ws://...] <rid> [<rid> ...]")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	client, diagPub, cleanup := buildClient(logger, cfg)
	defer cleanup()

	watcher := connwatch.NewManager(logger)
	watcher.Watch(ctx, connwatch.WatcherConfig{
		Name: "gateway",
		Probe: func(probeCtx context.Context) error {
			if !client.Connected() {
				return fmt.Errorf("transport not connected")
			}
			return nil
		},
		OnDown:  func(err error) { logger.Warn("gateway unreachable", "error", err) },
		OnReady: func() { logger.Info("gateway reachable") },
	})
	defer watcher.Stop()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	client.On("connect", func(any) { logger.Info("connected") })
	client.On("close", func(data any) { logger.Warn("connection closed", "error", data) })
	client.On("error", func(data any) { logger.Error("client error", "error", data) })

	if diagPub != nil {
		go func() {
			if err := diagPub.Start(ctx); err != nil {
				logger.Warn("diagnostics publisher stopped", "error", err)
			}
		}()
	}

	for _, rid := range flag.Args() {
		subscribeAndWatch(ctx, logger, client, rid)
	}

	<-ctx.Done()
}

func loadConfig(logger *slog.Logger, configPath, urlOverride string) *config.Config {
	var cfg *config.Config

	if path, err := config.FindConfig(configPath); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			logger.Error("failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if urlOverride != "" {
		cfg.Gateway.URL = urlOverride
	}
	return cfg
}

// buildClient wires a resclient.Client from cfg, including the
// optional call-log and diagnostics collaborators. cleanup closes
// whatever stores were opened.
func buildClient(logger *slog.Logger, cfg *config.Config) (*resclient.Client, *diagnostics.Publisher, func()) {
	opts := resclient.Options{
		Namespace:           cfg.Gateway.Namespace,
		Logger:              logger,
		ReconnectDelay:      cfg.Gateway.ReconnectDelay,
		SubscribeStaleDelay: cfg.Gateway.SubscribeStaleDelay,
	}

	var store *calllog.Store
	if cfg.CallLog.Enabled {
		s, err := calllog.Open("sqlite3", cfg.CallLog.Path)
		if err != nil {
			logger.Error("open call log", "error", err)
			os.Exit(1)
		}
		store = s
		opts.CallLog = s
	}

	client := resclient.New(cfg.Gateway.URL, opts)

	var diagPub *diagnostics.Publisher
	if cfg.Diagnostics.Enabled {
		diagPub = diagnostics.New(diagnostics.Config{
			Broker:             cfg.Diagnostics.Broker,
			Username:           cfg.Diagnostics.Username,
			Password:           cfg.Diagnostics.Password,
			DeviceName:         cfg.Diagnostics.DeviceName,
			DiscoveryPrefix:    cfg.Diagnostics.DiscoveryPrefix,
			PublishIntervalSec: cfg.Diagnostics.PublishIntervalSec,
		}, client, logger)
	}

	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}
	return client, diagPub, cleanup
}

func subscribeAndWatch(ctx context.Context, logger *slog.Logger, client *resclient.Client, rid string) {
	item, err := client.Get(rid)
	if err != nil {
		logger.Error("subscribe failed", "rid", rid, "error", err)
		return
	}
	logger.Info("subscribed", "rid", rid, "kind", item.Kind().String())

	for _, event := range []string{"change", "add", "remove", "unsubscribe"} {
		off, err := client.ResourceOn(rid, event, func(data any) {
			logger.Info("event", "rid", rid, "event", event, "data", fmt.Sprintf("%v", data), "at", time.Now().Format(time.RFC3339))
		})
		if err != nil {
			logger.Error("resourceOn failed", "rid", rid, "event", event, "error", err)
			continue
		}
		go func() {
			<-ctx.Done()
			off()
		}()
	}
}
