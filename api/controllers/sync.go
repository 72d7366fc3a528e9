package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ocontreras/clicksync-backend/api/responses"
	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

// Runner triggers one incremental window on demand.
type Runner interface {
	Run(ctx context.Context) (syncengine.RunResult, error)
}

type runResponse struct {
	Message        string   `json:"message"`
	WindowStart    string   `json:"window_start"`
	WindowEnd      string   `json:"window_end"`
	RecordCount    int      `json:"record_count"`
	ArchiveKey     string   `json:"archive_key,omitempty"`
	FailedAccounts []string `json:"failed_accounts,omitempty"`
}

// TriggerRun runs the incremental pipeline synchronously. An empty window
// answers 204; a delivered window answers 200 with the run summary.
func TriggerRun(runner Runner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := runner.Run(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if result.RecordCount == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		responses.WriteSuccess(w, runResponse{
			Message: fmt.Sprintf("Wrote %d records from %s to %s",
				result.RecordCount,
				result.Window.Start.UTC().Format(time.RFC3339),
				result.Window.End.UTC().Format(time.RFC3339)),
			WindowStart:    result.Window.Start.UTC().Format(time.RFC3339),
			WindowEnd:      result.Window.End.UTC().Format(time.RFC3339),
			RecordCount:    result.RecordCount,
			ArchiveKey:     result.ArchiveKey,
			FailedAccounts: result.FailedAccounts,
		})
	}
}
