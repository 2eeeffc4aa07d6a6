// Package notify delivers episode-published notifications. Delivery is
// best-effort: a failed notification is logged and never fails the publish.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const dispatchTimeout = 10 * time.Second

// Event describes a newly published episode.
type Event struct {
	OrgID       snowflake.ID `json:"org_id"`
	ProjectID   snowflake.ID `json:"project_id"`
	EpisodeID   snowflake.ID `json:"episode_id"`
	Title       string       `json:"title"`
	PublishedAt time.Time    `json:"published_at"`
}

// Dispatcher announces published episodes to subscribers.
type Dispatcher interface {
	EpisodePublished(ctx context.Context, ev Event)
}

// logDispatcher is the fallback when no webhook is configured.
type logDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) Dispatcher {
	return &logDispatcher{log: log.Named("notify")}
}

func (d *logDispatcher) EpisodePublished(_ context.Context, ev Event) {
	d.log.Info("episode.published",
		zap.String("org_id", ev.OrgID.String()),
		zap.String("project_id", ev.ProjectID.String()),
		zap.String("episode_id", ev.EpisodeID.String()),
		zap.String("title", ev.Title),
	)
}

type webhookDispatcher struct {
	log    *zap.Logger
	url    string
	client *http.Client
}

func NewWebhookDispatcher(log *zap.Logger, url string) Dispatcher {
	return &webhookDispatcher{
		log:    log.Named("notify.webhook"),
		url:    url,
		client: &http.Client{Timeout: dispatchTimeout},
	}
}

func (d *webhookDispatcher) EpisodePublished(ctx context.Context, ev Event) {
	if err := d.post(ctx, ev); err != nil {
		d.log.Warn("notify.webhook_failed",
			zap.String("episode_id", ev.EpisodeID.String()),
			zap.Error(err),
		)
		return
	}
	d.log.Debug("notify.webhook_delivered", zap.String("episode_id", ev.EpisodeID.String()))
}

func (d *webhookDispatcher) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
