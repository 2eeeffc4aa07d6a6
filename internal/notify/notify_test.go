package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookDispatcherPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := Event{
		OrgID:       snowflake.ID(1),
		ProjectID:   snowflake.ID(2),
		EpisodeID:   snowflake.ID(3),
		Title:       "Edition 7",
		PublishedAt: time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC),
	}
	NewWebhookDispatcher(zap.NewNop(), srv.URL).EpisodePublished(context.Background(), ev)

	assert.Equal(t, ev, got)
}

func TestWebhookDispatcherSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Must not panic or block the caller.
	NewWebhookDispatcher(zap.NewNop(), srv.URL).EpisodePublished(context.Background(), Event{EpisodeID: snowflake.ID(3)})
}

func TestNewDispatcherSelectsByConfig(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), config.Config{})
	_, ok := d.(*logDispatcher)
	assert.True(t, ok)

	d = NewDispatcher(zap.NewNop(), config.Config{NotifyWebhookURL: "http://hooks.local/episodes"})
	_, ok = d.(*webhookDispatcher)
	assert.True(t, ok)
}
