package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/diagnostics"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/monitoring"
	"github.com/sells-group/takeoff/internal/review"
	"github.com/sells-group/takeoff/internal/store"
)

var servePort int

// runReader is the read side of the store the API needs.
type runReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListResults(ctx context.Context, runID string) ([]model.MatchResult, error)
}

type reviewer interface {
	Apply(ctx context.Context, resultID string, a review.Action) (*model.MatchResult, error)
}

type mappingFinder interface {
	Mappings(ctx context.Context, ownerID, description, discipline string) ([]model.LearnedMapping, error)
}

// api holds the review API's collaborators.
type api struct {
	runs           runReader
	review         reviewer
	mappings       mappingFinder
	gatherer       prometheus.Gatherer
	monitor        *monitoring.Collector
	lookbackHours  int
	thresholds     diagnostics.Thresholds
	allowedOrigins []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		reg := e.Registry
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a := &api{
			runs:           e.Store,
			review:         e.Review,
			mappings:       e.Learning,
			gatherer:       reg,
			monitor:        monitoring.NewCollector(e.Store),
			lookbackHours:  cfg.Monitoring.LookbackWindowHours,
			thresholds:     cfg.Diagnostics,
			allowedOrigins: cfg.Server.AllowedOrigins,
		}

		checker := monitoring.NewChecker(a.monitor, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("serve: shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("serve: starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	r.Get("/monitoring", a.getMonitoring)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", a.listRuns)
		r.Get("/{runID}", a.getRun)
		r.Get("/{runID}/results", a.listResults)
		r.Get("/{runID}/diagnostics", a.getDiagnostics)
	})
	r.Post("/results/{resultID}/actions", a.applyAction)
	r.Get("/mappings", a.listMappings)

	return r
}

func (a *api) getMonitoring(w http.ResponseWriter, r *http.Request) {
	hours := a.lookbackHours
	if v, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && v > 0 {
		hours = v
	}
	snap, err := a.monitor.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, snap)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	runs, err := a.runs.ListRuns(r.Context(), store.RunFilter{
		Status:  model.RunStatus(q.Get("status")),
		OwnerID: q.Get("owner"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSONResponse(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, run)
}

func (a *api) listResults(w http.ResponseWriter, r *http.Request) {
	results, ok := a.runResults(w, r)
	if !ok {
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.MatchResult, 0, len(results))
		for _, res := range results {
			if string(res.Status) == status {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	writeJSONResponse(w, http.StatusOK, results)
}

func (a *api) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	results, ok := a.runResults(w, r)
	if !ok {
		return
	}
	rep := diagnostics.Build(results, a.thresholds)
	rep.RunID = chi.URLParam(r, "runID")
	writeJSONResponse(w, http.StatusOK, rep)
}

// runResults loads the results of an existing run, writing the error
// response itself when the run is missing.
func (a *api) runResults(w http.ResponseWriter, r *http.Request) ([]model.MatchResult, bool) {
	runID := chi.URLParam(r, "runID")
	if _, err := a.runs.GetRun(r.Context(), runID); err != nil {
		writeError(w, err)
		return nil, false
	}
	results, err := a.runs.ListResults(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if results == nil {
		results = []model.MatchResult{}
	}
	return results, true
}

func (a *api) applyAction(w http.ResponseWriter, r *http.Request) {
	if a.review == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "review requires a store"})
		return
	}
	var action review.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if action.Type == "" {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	res, err := a.review.Apply(r.Context(), chi.URLParam(r, "resultID"), action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (a *api) listMappings(w http.ResponseWriter, r *http.Request) {
	if a.mappings == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "mappings require a store"})
		return
	}
	q := r.URL.Query()
	if q.Get("owner") == "" || q.Get("q") == "" {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "owner and q are required"})
		return
	}
	found, err := a.mappings.Mappings(r.Context(), q.Get("owner"), q.Get("q"), q.Get("discipline"))
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		found = []model.LearnedMapping{}
	}
	writeJSONResponse(w, http.StatusOK, found)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		zap.L().Error("serve: request failed", zap.Error(err))
	}
	writeJSONResponse(w, status, map[string]string{"error": err.Error()})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
