package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	pkgerrors "github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

type fakeRunner struct {
	result syncengine.RunResult
	err    error
}

func (r *fakeRunner) Run(ctx context.Context) (syncengine.RunResult, error) {
	return r.result, r.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestTriggerRunReturnsSummary(t *testing.T) {
	runner := &fakeRunner{result: syncengine.RunResult{
		Window: syncengine.Window{
			Start: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC),
		},
		RecordCount:    3,
		ArchiveKey:     "click_performance/clicks_2026-01-05T10-30-00Z.json",
		FailedAccounts: []string{"222"},
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	TriggerRun(runner, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var envelope struct {
		Data struct {
			Message        string   `json:"message"`
			RecordCount    int      `json:"record_count"`
			ArchiveKey     string   `json:"archive_key"`
			FailedAccounts []string `json:"failed_accounts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if envelope.Data.Message != "Wrote 3 records from 2026-01-05T10:00:00Z to 2026-01-05T10:30:00Z" {
		t.Errorf("unexpected message %q", envelope.Data.Message)
	}
	if envelope.Data.RecordCount != 3 {
		t.Errorf("record_count = %d, want 3", envelope.Data.RecordCount)
	}
	if len(envelope.Data.FailedAccounts) != 1 || envelope.Data.FailedAccounts[0] != "222" {
		t.Errorf("failed_accounts = %v, want [222]", envelope.Data.FailedAccounts)
	}
}

func TestTriggerRunEmptyWindowAnswers204(t *testing.T) {
	runner := &fakeRunner{result: syncengine.RunResult{}}

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	TriggerRun(runner, testLogger())(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("204 must not carry a body, got %q", rec.Body.String())
	}
}

func TestTriggerRunMapsErrors(t *testing.T) {
	runner := &fakeRunner{err: pkgerrors.New(pkgerrors.CodeDependency, "upstream unavailable")}

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	TriggerRun(runner, testLogger())(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DEPENDENCY_ERROR") {
		t.Errorf("expected error code in body, got %q", rec.Body.String())
	}
}
