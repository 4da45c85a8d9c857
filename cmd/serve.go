package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ev-readiness/pipeline/internal/promotion"
)

var servePort int

// triggerGroup collapses concurrent trigger calls onto a single in-flight
// cycle instead of each racing acquireOrResume against the §5 lock.
var triggerGroup singleflight.Group

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler trigger webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := buildMux(env, cfg.Server.CronSecret)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down trigger server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting trigger server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildMux registers the trigger surface's three routes. Extracted from
// serveCmd.RunE so the routing and auth logic can be exercised without a
// live listener.
func buildMux(env *pipelineEnv, cronSecret string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(r.Context(), w, env)
	})

	mux.HandleFunc("POST /trigger", func(w http.ResponseWriter, r *http.Request) {
		if cronSecret != "" && r.Header.Get("Authorization") != "Bearer "+cronSecret {
			http.Error(w, `{"success":false,"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		handleTrigger(r.Context(), w, env)
	})

	return mux
}

// handleStatus reports the most recent cycle's change-log entries.
func handleStatus(ctx context.Context, w http.ResponseWriter, env *pipelineEnv) {
	latest, err := env.ChangeLog.Latest(ctx)
	if err != nil {
		http.Error(w, `{"error":"failed to load cycle status"}`, http.StatusInternalServerError)
		return
	}
	if latest == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": []promotion.Entry{}})
		return
	}

	entries, err := env.ChangeLog.ListForCycle(ctx, latest.CycleID)
	if err != nil {
		http.Error(w, `{"error":"failed to load cycle entries"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"cycle_id": latest.CycleID, "entries": entries})
}

// triggerResponse is the body the trigger endpoint returns (§7).
type triggerResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Counts  promotion.Totals `json:"counts"`
	Partial *float64         `json:"partial,omitempty"`
}

func handleTrigger(ctx context.Context, w http.ResponseWriter, env *pipelineEnv) {
	v, err, _ := triggerGroup.Do("refresh-cycle", func() (any, error) {
		outcome, err := env.Coordinator.Run(ctx, 0)
		return outcome, err
	})

	outcome, _ := v.(promotion.CycleOutcome)
	class := promotion.Classify(err)
	if err == nil && outcome.Outcome != "" {
		class = outcome.Outcome
	}

	resp := triggerResponse{
		Success: err == nil,
		Message: class,
		Counts:  outcome.Totals,
	}
	if class == "partial-completion" {
		p := outcome.ZipProgress
		resp.Partial = &p
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForTrigger(class, outcome))
	_ = json.NewEncoder(w).Encode(resp)

	if err != nil {
		zap.L().Error("trigger: refresh cycle failed", zap.String("cycle_id", outcome.CycleID), zap.Error(err))
	}
}

// statusForTrigger maps the §7 outcome onto the HTTP status §6 specifies:
// 200 on success or partial completion, 207 when aggregation produced rows
// but a later step failed, 5xx for cycle-in-progress or a storage outage.
func statusForTrigger(class string, outcome promotion.CycleOutcome) int {
	switch class {
	case "ok", "partial-completion":
		return http.StatusOK
	case "cycle-in-progress":
		return http.StatusServiceUnavailable
	}

	if outcome.Totals.States > 0 || outcome.Totals.Counties > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
