package cron

import (
	"context"

	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
)

// IncrementalJob adapts the run orchestrator to the worker loop.
type IncrementalJob struct {
	orch *syncengine.Orchestrator
}

func NewIncrementalJob(orch *syncengine.Orchestrator) *IncrementalJob {
	return &IncrementalJob{orch: orch}
}

func (j *IncrementalJob) Name() string {
	return syncengine.JobIncremental
}

func (j *IncrementalJob) Run(ctx context.Context) error {
	_, err := j.orch.Run(ctx)
	return err
}
