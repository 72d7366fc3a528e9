package sync

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub/v2"

	"github.com/ocontreras/clicksync-backend/pkg/errors"
)

type runCompletedEvent struct {
	Job            string   `json:"job"`
	WindowStart    string   `json:"window_start"`
	WindowEnd      string   `json:"window_end"`
	RecordCount    int      `json:"record_count"`
	ArchiveKey     string   `json:"archive_key,omitempty"`
	FailedAccounts []string `json:"failed_accounts,omitempty"`
	CompletedAt    string   `json:"completed_at"`
}

// PubSubEvents publishes run-completed events for downstream consumers such
// as reporting refreshers.
type PubSubEvents struct {
	publisher *pubsub.Publisher
	now       func() time.Time
}

func NewPubSubEvents(publisher *pubsub.Publisher) *PubSubEvents {
	return &PubSubEvents{publisher: publisher, now: time.Now}
}

func (p *PubSubEvents) PublishRunCompleted(ctx context.Context, result RunResult) error {
	payload, err := json.Marshal(runCompletedEvent{
		Job:            JobIncremental,
		WindowStart:    result.Window.Start.UTC().Format(time.RFC3339),
		WindowEnd:      result.Window.End.UTC().Format(time.RFC3339),
		RecordCount:    result.RecordCount,
		ArchiveKey:     result.ArchiveKey,
		FailedAccounts: result.FailedAccounts,
		CompletedAt:    p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encode run-completed event")
	}

	res := p.publisher.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := res.Get(ctx); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "publish run-completed event")
	}
	return nil
}
