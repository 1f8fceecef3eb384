// streamtap connects to the dashboard stream and prints decoded events to the
// console.
// Usage: go run ./cmd/streamtap --config configs/livefeed.local.yaml --channels price-update,signal-alert
//
// The bearer token is read the same way livefeed reads it (auth section of
// the config, TRADEDASH_TOKEN by default).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/tradedash/internal/auth"
	"github.com/rickgao/tradedash/internal/config"
	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/router"
	"github.com/rickgao/tradedash/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livefeed.example.yaml", "path to config file")
	channels := flag.String("channels", "", "comma-separated channels (default: stream.channels)")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	tapChannels := cfg.Stream.Channels
	if *channels != "" {
		tapChannels = strings.Split(*channels, ",")
	}

	tokens, err := auth.NewTokenSource(cfg.Auth)
	if err != nil {
		logger.Error("failed to create token source", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	token, err := tokens.Token(ctx)
	if err != nil {
		logger.Error("bearer token required", "source", cfg.Auth.Source, "error", err)
		os.Exit(1)
	}

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = cfg.Stream.URL
	mgrCfg.UserAgent = version.UserAgent()
	mgrCfg.ReconnectAttempts = cfg.Stream.ReconnectAttempts
	mgrCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
	mgr := connection.NewManager(mgrCfg, nil, logger)

	// Lifecycle events go straight to the console
	mgr.Subscribe(event.ChannelConnect, printLifecycle)
	mgr.Subscribe(event.ChannelDisconnect, printLifecycle)
	mgr.Subscribe(event.ChannelError, printLifecycle)

	rtrCfg := router.DefaultRouterConfig()
	rtrCfg.Channels = tapChannels
	rtrCfg.BufferSize = 1000
	rtrCfg.StatsInterval = 0
	rtr := router.NewRouter(rtrCfg, mgr, logger)
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting", "url", cfg.Stream.URL, "channels", tapChannels)
	if err := mgr.Connect(ctx, token); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	go printEvents(ctx, rtr.Buffer(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				connStats := mgr.Stats()
				logger.Info("stats",
					"state", connStats.State,
					"session", connStats.SessionID,
					"reconnects", connStats.Reconnects,
					"received", routerStats.EventsReceived,
					"buffered", routerStats.Buffer.Count,
					"dropped", routerStats.Buffer.Dropped,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	rtr.Stop(shutdownCtx)
	mgr.Disconnect()

	logger.Info("shutdown complete")
}

func printLifecycle(ev event.Event) {
	switch p := ev.Payload.(type) {
	case event.Connected:
		fmt.Printf("[CONNECT] session=%s\n", p.SessionID)
	case event.Disconnected:
		fmt.Printf("[DISCONNECT] reason=%s\n", p.Reason)
	case event.TransportError:
		fmt.Printf("[ERROR] %v\n", p.Err)
	}
}

func printEvents(ctx context.Context, buf *router.GrowableBuffer[event.Event], verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := buf.TryReceive()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if verbose {
			data, _ := json.MarshalIndent(ev.Payload, "", "  ")
			fmt.Printf("[%s] %s\n", strings.ToUpper(ev.Channel), data)
			continue
		}
		fmt.Println(summary(ev))
	}
}

// summary renders one line per event.
func summary(ev event.Event) string {
	switch p := ev.Payload.(type) {
	case event.PriceUpdate:
		return fmt.Sprintf("[PRICE] symbol=%s price=%s change=%s (%s%%) vol=%d",
			p.Symbol, p.Price, p.Change, p.ChangePct, p.Volume)
	case event.MarketOverview:
		return fmt.Sprintf("[OVERVIEW] indices=%d advances=%d declines=%d",
			len(p.Indices), p.Advances, p.Declines)
	case event.OptionChainUpdate:
		return fmt.Sprintf("[OPTIONS] symbol=%s expiry=%s strikes=%d pcr=%s",
			p.Symbol, p.Expiry, len(p.Strikes), p.PCR)
	case event.InsiderTrade:
		return fmt.Sprintf("[INSIDER] symbol=%s insider=%s type=%s qty=%d",
			p.Symbol, p.Insider, p.TransactionType, p.Quantity)
	case event.Deal:
		return fmt.Sprintf("[%s] symbol=%s client=%s side=%s qty=%d price=%s",
			strings.ToUpper(string(p.Kind)), p.Symbol, p.Client, p.Side, p.Quantity, p.Price)
	case event.SignalAlert:
		return fmt.Sprintf("[SIGNAL] symbol=%s signal=%s score=%s pattern=%s",
			p.Symbol, p.Signal, p.Score, p.Pattern)
	case event.Unknown:
		return fmt.Sprintf("[%s] %s", strings.ToUpper(ev.Channel), p.Raw)
	default:
		return fmt.Sprintf("[%s] %v", strings.ToUpper(ev.Channel), ev.Payload)
	}
}
