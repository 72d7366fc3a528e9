package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ocontreras/clicksync-backend/pkg/logger"
	"github.com/ocontreras/clicksync-backend/pkg/metrics"

	"github.com/google/uuid"
)

// JobIncremental labels the incremental run in metrics and events.
const JobIncremental = "incremental_sync"

// RunEventPublisher announces completed runs to interested consumers. A nil
// publisher disables announcements.
type RunEventPublisher interface {
	PublishRunCompleted(ctx context.Context, result RunResult) error
}

// Orchestrator drives one incremental run end to end: window computation,
// fetch, dual delivery, watermark advance. The watermark only moves after
// delivery succeeds, so a crash anywhere re-covers the same window next run.
type Orchestrator struct {
	store     Store
	fetcher   *Fetcher
	deliverer *Deliverer
	fallback  Job
	runs      *metrics.SyncRunMetrics
	events    RunEventPublisher
	logg      *logger.Logger
	now       func() time.Time
}

type OrchestratorOptions struct {
	Store     Store
	Fetcher   *Fetcher
	Deliverer *Deliverer
	// Fallback, when set, runs after a failed fetch or delivery phase to
	// rebuild downstream state from the source of truth.
	Fallback Job
	Runs     *metrics.SyncRunMetrics
	Events   RunEventPublisher
	Logger   *logger.Logger
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		deliverer: opts.Deliverer,
		fallback:  opts.Fallback,
		runs:      opts.Runs,
		events:    opts.Events,
		logg:      opts.Logger,
		now:       time.Now,
	}
}

// Run executes one incremental window. Watermark failures are always fatal
// and never trigger the fallback: without a trustworthy watermark a full
// reload would still leave the next window undefined.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	ctx = o.logg.WithRunID(ctx, uuid.NewString())
	started := o.now()
	defer func() {
		o.runs.ObserveDuration(JobIncremental, o.now().Sub(started))
	}()

	start, err := o.store.Get(ctx)
	if err != nil {
		o.runs.IncFailure(JobIncremental)
		return RunResult{}, fmt.Errorf("loading watermark: %w", err)
	}
	window := Window{Start: start, End: o.now().UTC()}
	o.logg.Info(ctx, fmt.Sprintf("starting run over window %s to %s",
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339)))

	records, failed, err := o.fetcher.Fetch(ctx, window)
	if err != nil {
		o.runs.IncFailure(JobIncremental)
		o.runFallback(ctx, err)
		return RunResult{}, err
	}
	o.runs.AddRecordsFetched(JobIncremental, len(records))
	o.runs.AddAccountFailures(JobIncremental, len(failed))

	archiveKey, err := o.deliverer.Deliver(ctx, records, window)
	if err != nil {
		o.runs.IncFailure(JobIncremental)
		o.runFallback(ctx, fmt.Errorf("delivering batch: %w", err))
		return RunResult{}, fmt.Errorf("delivering batch: %w", err)
	}

	// The window is fully delivered; advancing the watermark commits it.
	// An empty window advances too, so quiet periods are never re-fetched.
	if err := o.store.Set(ctx, window.End); err != nil {
		o.runs.IncFailure(JobIncremental)
		return RunResult{}, fmt.Errorf("advancing watermark: %w", err)
	}

	result := RunResult{
		Window:         window,
		RecordCount:    len(records),
		ArchiveKey:     archiveKey,
		FailedAccounts: failed,
	}
	o.runs.IncSuccess(JobIncremental)
	o.logg.Info(ctx, fmt.Sprintf("run complete: %d records, %d account failures", len(records), len(failed)))
	o.announce(ctx, result)
	return result, nil
}

func (o *Orchestrator) runFallback(ctx context.Context, cause error) {
	if o.fallback == nil {
		return
	}
	o.logg.Warn(ctx, fmt.Sprintf("run failed, invoking %s: %v", o.fallback.Name(), cause))
	if err := o.fallback.Run(ctx); err != nil {
		o.logg.Error(ctx, "fallback failed", err)
	}
}

func (o *Orchestrator) announce(ctx context.Context, result RunResult) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishRunCompleted(ctx, result); err != nil {
		o.logg.Error(ctx, "publishing run-completed event", err)
	}
}
