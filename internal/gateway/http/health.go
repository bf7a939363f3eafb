package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantgate/pkg/authsdk"
	"github.com/aussiebroadwan/tenantgate/pkg/httpx"
	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds all readiness probes together.
const readyTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// LivezHandler always answers 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler runs every check concurrently and answers 503 if any fails.
func ReadyzHandler(startTime time.Time, version string, checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(map[string]string, len(checks))
			g       errgroup.Group
		)
		for name, check := range checks {
			g.Go(func() error {
				status := "ok"
				if err := check(ctx); err != nil {
					status = "error: " + err.Error()
				}
				mu.Lock()
				results[name] = status
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		resp := authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  results,
		}
		code := http.StatusOK
		for _, status := range results {
			if status != "ok" {
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				break
			}
		}
		httpx.WriteJSON(w, code, resp)
	}
}
