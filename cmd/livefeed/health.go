package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/router"
	"github.com/rickgao/tradedash/internal/snapshot"
	"github.com/rickgao/tradedash/internal/version"
	"github.com/rickgao/tradedash/internal/writer"
)

// statsSource is the manager's read-only surface.
type statsSource interface {
	Stats() connection.ManagerStats
}

// recorderStats is reported when the recorder is enabled.
type recorderStats struct {
	Router router.RouterStats   `json:"router"`
	Writer writer.WriterMetrics `json:"writer"`
}

// newHealthHandler serves the health report and the snapshot debug view.
func newHealthHandler(path string, mgr statsSource, cache *snapshot.Cache, rec *recorder, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		stats := mgr.Stats()

		health := struct {
			Status     string                 `json:"status"`
			Version    string                 `json:"version"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Version,
			Components: make(map[string]interface{}),
		}

		health.Components["stream"] = map[string]interface{}{
			"state":         stats.State.String(),
			"session":       stats.SessionID,
			"subscriptions": stats.Subscriptions,
			"channels":      stats.Channels,
			"reconnects":    stats.Reconnects,
		}
		health.Components["cache"] = cache.Stats()

		// Last-known data keeps the dashboard usable while the stream is down
		if stats.State != connection.StateConnected {
			health.Status = "degraded"
		}

		if rec != nil {
			rs := recorderStats{
				Router: rec.router.Stats(),
				Writer: rec.writer.Stats(),
			}
			health.Components["recorder"] = rs
			if rs.Writer.Errors > 0 && rs.Writer.Flushes == 0 {
				health.Status = "unhealthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/snapshot", func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"channels": cache.Channels(),
			})
			return
		}

		events := cache.Channel(channel)

		type entry struct {
			Key        string          `json:"key"`
			ReceivedAt time.Time       `json:"receivedAt"`
			Payload    json.RawMessage `json:"payload"`
		}
		entries := make([]entry, 0, len(events))
		for _, ev := range events {
			payload, err := event.MarshalPayload(ev.Payload)
			if err != nil {
				logger.Warn("skipping unencodable cached event", "channel", channel, "error", err)
				continue
			}
			entries = append(entries, entry{
				Key:        event.Key(ev),
				ReceivedAt: ev.ReceivedAt.UTC(),
				Payload:    payload,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel": channel,
			"stale":   cache.Stale(),
			"count":   len(entries),
			"events":  entries,
		})
	})

	return mux
}
