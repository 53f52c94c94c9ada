// Command pricewatch runs the price/availability extraction and
// monitoring engine: a periodic scheduler that drives a single headless
// browser across every tracked item, extracts price and availability,
// and fires cooldown-bounded alerts to the configured notification
// sinks.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pricewatch/internal/alerts"
	"pricewatch/internal/browser"
	"pricewatch/internal/config"
	"pricewatch/internal/fx"
	"pricewatch/internal/notify"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/store"
	"pricewatch/internal/urlguard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatalf("state dir: %v", err)
	}

	itemStore, err := store.Open(filepath.Join(cfg.StateDir, "state.json"))
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	diag := store.NewDiagnostics()
	var diagRecorder scheduler.DiagnosticsRecorder = diag

	if cfg.MongoURI != "" {
		mirror, err := store.NewMongoDiagnosticsStore(cfg.MongoURI, "pricewatch")
		if err != nil {
			log.Printf("mongo diagnostics mirror disabled: %v", err)
		} else {
			defer mirror.Close()
			diagRecorder = store.NewMirroredDiagnostics(diag, mirror)
			log.Printf("mongo diagnostics mirror enabled")
		}
	}

	guard := urlguard.New(cfg.FetchAllowedHosts)
	pool := browser.New(cfg.BrowserExecPath)
	fxTable := fx.New(cfg.FXFeedURL)

	dispatcher := buildDispatcher(cfg)
	engine := alerts.NewEngine(itemStore, dispatcher)

	sweepEvery := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	itemPace := time.Duration(cfg.ItemPaceSeconds) * time.Second
	sched := scheduler.New(guard, pool, fxTable, engine, itemStore, diagRecorder, sweepEvery, itemPace)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go fxTable.Start(ctx)
	go sched.Start(ctx)

	log.Printf("pricewatch running: sweep every %s, %s between items", sweepEvery, itemPace)

	<-ctx.Done()
	log.Printf("shutting down")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := pool.Close(closeCtx); err != nil {
		log.Printf("browser shutdown: %v", err)
	}
}

// buildDispatcher wires every notification sink that has a live
// configuration; a sink with no credentials is simply omitted, not a
// fatal error (spec §4.7: "calls every configured sink").
func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
	var sinks []notify.Sink

	sinks = append(sinks, notify.DesktopSink{})

	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.DiscordWebhookURL, cfg.WebhookProxyBase))
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("telegram sink disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}

	return &notify.Dispatcher{Sinks: sinks}
}
