package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/snapshot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedStats connection.ManagerStats

func (f fixedStats) Stats() connection.ManagerStats {
	return connection.ManagerStats(f)
}

func newTestCache(t *testing.T) *snapshot.Cache {
	t.Helper()
	mgr := connection.NewManager(connection.DefaultManagerConfig(), nil, discardLogger())
	cache := snapshot.New(mgr, []string{event.ChannelPriceUpdate}, discardLogger())
	t.Cleanup(cache.Close)
	return cache
}

func TestHealth_DegradedWhileDisconnected(t *testing.T) {
	cache := newTestCache(t)
	h := newHealthHandler("/health", fixedStats{State: connection.StateDisconnected}, cache, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Contains(t, body.Components, "stream")
	assert.Contains(t, body.Components, "cache")
	assert.NotContains(t, body.Components, "recorder")
}

func TestHealth_HealthyWhenConnected(t *testing.T) {
	cache := newTestCache(t)
	stats := fixedStats{State: connection.StateConnected, SessionID: "abc", Subscriptions: 3}
	h := newHealthHandler("/status", stats, cache, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body struct {
		Status     string `json:"status"`
		Components struct {
			Stream struct {
				State         string `json:"state"`
				Session       string `json:"session"`
				Subscriptions int    `json:"subscriptions"`
			} `json:"stream"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Components.Stream.State)
	assert.Equal(t, "abc", body.Components.Stream.Session)
	assert.Equal(t, 3, body.Components.Stream.Subscriptions)
}

func TestDebugSnapshot(t *testing.T) {
	cache := newTestCache(t)
	cache.Seed([]event.Event{{
		Channel:    event.ChannelPriceUpdate,
		Payload:    event.PriceUpdate{Symbol: "NIFTY", Price: decimal.NewFromInt(22000)},
		ReceivedAt: time.Now(),
	}})
	h := newHealthHandler("/health", fixedStats{}, cache, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/snapshot?channel=price-update", nil))

	var body struct {
		Channel string `json:"channel"`
		Stale   bool   `json:"stale"`
		Count   int    `json:"count"`
		Events  []struct {
			Key     string         `json:"key"`
			Payload map[string]any `json:"payload"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "price-update", body.Channel)
	assert.True(t, body.Stale)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "NIFTY", body.Events[0].Key)
	assert.Equal(t, "NIFTY", body.Events[0].Payload["symbol"])
}

func TestDebugSnapshot_ListsChannels(t *testing.T) {
	cache := newTestCache(t)
	h := newHealthHandler("/health", fixedStats{}, cache, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil))

	var body struct {
		Channels []string `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{event.ChannelPriceUpdate}, body.Channels)
}
