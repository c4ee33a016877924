// Package ingest normalizes pushed provider change events into the same
// observation shape the poller produces, so both paths share one change
// detection pipeline. The ingestor never talks to the provider API itself;
// subscriptions are managed at watch/unwatch time.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Sink receives normalized observations; satisfied by *service.Service.
type Sink interface {
	Apply(ctx context.Context, obs tracking.Observation) bool
}

// Tracker answers whether a token is currently tracked.
type Tracker interface {
	Get(token string) *tracking.TrackedDocument
}

// Event is the provider's pushed change-event envelope.
type Event struct {
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
	} `json:"header"`
	Body struct {
		FileToken  string `json:"file_token"`
		FileType   string `json:"file_type"`
		OperatorID string `json:"operator_id"`
		EditTime   int64  `json:"edit_time"`
		Revision   string `json:"revision,omitempty"`
		Title      string `json:"title,omitempty"`
	} `json:"event"`
}

// Ingestor applies pushed events through the shared pipeline.
type Ingestor struct {
	sink    Sink
	tracker Tracker
	logger  *slog.Logger
}

// New creates an Ingestor.
func New(sink Sink, tracker Tracker, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		sink:    sink,
		tracker: tracker,
		logger:  logger.With("component", "ingest"),
	}
}

// OnEvent handles one raw pushed event. Events for unknown tokens are
// dropped with a log line, never an error: a dangling subscription after
// unwatch, or a subscription shared with another app, must not crash the
// request path. Redelivered events dedupe naturally — the stale-observation
// rule rejects the second copy.
func (i *Ingestor) OnEvent(ctx context.Context, raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode change event: %w", err)
	}
	if ev.Body.FileToken == "" || ev.Body.EditTime == 0 {
		return fmt.Errorf("change event missing file_token or edit_time")
	}

	if i.tracker.Get(ev.Body.FileToken) == nil {
		i.logger.Info("event for unknown token dropped",
			"token", ev.Body.FileToken, "event_id", ev.Header.EventID)
		return nil
	}

	obs := tracking.Observation{
		Token:   ev.Body.FileToken,
		DocType: tracking.NormalizeDocType(ev.Body.FileType),
		Via:     tracking.SourcePush,
		State: tracking.State{
			EditedAt: time.Unix(ev.Body.EditTime, 0).UTC(),
			EditorID: ev.Body.OperatorID,
			Revision: ev.Body.Revision,
			Title:    ev.Body.Title,
		},
	}

	notified := i.sink.Apply(ctx, obs)
	i.logger.Debug("pushed event applied",
		"token", obs.Token,
		"event_id", ev.Header.EventID,
		"notified", notified,
	)
	return nil
}
