// Package generator turns a claimed episode into a publishable draft: it
// assembles the prompt, calls the content provider, validates the output,
// and records token usage before handing the draft back to the caller.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	ledgerdomain "github.com/manyfutures/foresight/internal/ledger/domain"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"github.com/manyfutures/foresight/internal/provider"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrUsageNotRecorded means the provider call completed but the cost could
// not be written to the ledger. The attempt must be treated as failed even
// though content exists, otherwise spend would go untracked.
var ErrUsageNotRecorded = errors.New("usage_not_recorded")

// minBodyRunes rejects degenerate completions that would otherwise publish
// as near-empty episodes.
const minBodyRunes = 200

const maxSlugLength = 96

// Draft is a validated, costed episode body ready to be published.
type Draft struct {
	Title string
	Slug  string
	Body  string

	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostAmount       float64
	RequestID        string

	// NoteIDs lists the feedback notes folded into the prompt. The caller
	// marks them consumed only if this draft actually publishes.
	NoteIDs []snowflake.ID
}

// Generator produces one draft per call for an episode already claimed by
// the caller.
type Generator interface {
	Generate(ctx context.Context, project projectdomain.Project, episode episodedomain.Episode) (*Draft, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	Provider    provider.Provider
	LedgerSvc   ledgerdomain.Service
	FeedbackSvc feedbackdomain.Service
	Metrics     *metrics.PipelineMetrics `optional:"true"`
}

type service struct {
	log         *zap.Logger
	cfg         config.ProviderConfig
	clock       clock.Clock
	provider    provider.Provider
	ledgerSvc   ledgerdomain.Service
	feedbackSvc feedbackdomain.Service
	metrics     *metrics.PipelineMetrics
}

func New(p Params) Generator {
	return &service{
		log:         p.Log.Named("generator"),
		cfg:         p.Config.Provider,
		clock:       p.Clock,
		provider:    p.Provider,
		ledgerSvc:   p.LedgerSvc,
		feedbackSvc: p.FeedbackSvc,
		metrics:     p.Metrics,
	}
}

func (s *service) Generate(ctx context.Context, project projectdomain.Project, episode episodedomain.Episode) (*Draft, error) {
	directives, err := s.feedbackSvc.DirectivesFor(ctx, project.ID)
	if err != nil {
		// Feedback enriches the prompt but never blocks generation.
		s.log.Warn("generator.feedback_unavailable",
			zap.String("project_id", project.ID.String()),
			zap.Error(err),
		)
		directives = nil
	}

	req := provider.GenerationRequest{
		System:      systemPrompt,
		Prompt:      buildPrompt(project, episode, directives),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	started := time.Now()
	completion, err := s.provider.Generate(ctx, req)
	if err != nil {
		s.metrics.IncProviderCall(s.cfg.Model, "error")
		return nil, err
	}
	s.metrics.IncProviderCall(completion.Model, "ok")

	// The provider has billed these tokens whatever the output looks like;
	// the ledger write comes before any validation so spend is never lost.
	usage, err := s.ledgerSvc.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{
		OrgID:            episode.OrgID,
		ProjectID:        project.ID,
		EpisodeID:        &episode.ID,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		Model:            completion.Model,
		RequestID:        completion.RequestID,
		RecordedAt:       s.clock.Now().UTC(),
		Metadata: map[string]any{
			"provider": s.provider.Name(),
			"episode":  episode.ID.String(),
		},
	})
	if err != nil {
		s.log.Error("generator.usage_not_recorded",
			zap.String("episode_id", episode.ID.String()),
			zap.String("request_id", completion.RequestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record usage for episode %s: %w", episode.ID, errors.Join(ErrUsageNotRecorded, err))
	}

	title, body, err := splitDraft(completion.Text)
	if err != nil {
		return nil, err
	}

	noteIDs := make([]snowflake.ID, 0, len(directives))
	for _, d := range directives {
		noteIDs = append(noteIDs, d.NoteID)
	}

	s.log.Info("generator.draft_ready",
		zap.String("episode_id", episode.ID.String()),
		zap.String("model", completion.Model),
		zap.Int64("prompt_tokens", completion.PromptTokens),
		zap.Int64("completion_tokens", completion.CompletionTokens),
		zap.Float64("cost", usage.Record.CostAmount),
		zap.Duration("took", time.Since(started)),
	)

	return &Draft{
		Title:            title,
		Slug:             makeSlug(title, episode.Sequence),
		Body:             body,
		Model:            completion.Model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		CostAmount:       usage.Record.CostAmount,
		RequestID:        completion.RequestID,
		NoteIDs:          noteIDs,
	}, nil
}

// splitDraft separates the headline from the body and rejects completions
// too short to publish.
func splitDraft(text string) (title, body string, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", fmt.Errorf("empty completion: %w", provider.ErrMalformedOutput)
	}

	line, rest, found := strings.Cut(text, "\n")
	title = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if !found || title == "" {
		return "", "", fmt.Errorf("completion has no headline: %w", provider.ErrMalformedOutput)
	}

	body = strings.TrimSpace(rest)
	if utf8.RuneCountInString(body) < minBodyRunes {
		return "", "", fmt.Errorf("completion body too short: %w", provider.ErrMalformedOutput)
	}
	return title, body, nil
}

func makeSlug(title string, sequence int64) string {
	s := slug.Make(title)
	if len(s) > maxSlugLength {
		s = strings.Trim(s[:maxSlugLength], "-")
	}
	return fmt.Sprintf("%s-%d", s, sequence)
}
