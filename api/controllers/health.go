package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/ocontreras/clicksync-backend/api/responses"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	pkgerrors "github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

const readyCheckTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a pinger for the readiness report.
type Dependency struct {
	Name   string
	Pinger pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ClickSync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every wired dependency and fails the check if any one of
// them is unreachable. Nil pingers are skipped so deployments without an
// optional backend still report ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ClickSync-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		statuses := map[string]string{}
		var pingErr error
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				statuses[dep.Name] = "down"
				pingErr = multierr.Append(pingErr, fmt.Errorf("%s: %w", dep.Name, err))
				continue
			}
			statuses[dep.Name] = "up"
		}

		if pingErr != nil {
			err := pkgerrors.Wrap(pkgerrors.CodeDependency, pingErr, "one or more dependencies are unavailable").
				WithDetails(statuses)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}
