// Package api exposes the memory core over a small operational HTTP surface:
// observation intake, memory inspection, planning and maintenance triggers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/graph"
	"github.com/nidhogg/nuka-mind/internal/maintenance"
	"github.com/nidhogg/nuka-mind/internal/perception"
	"github.com/nidhogg/nuka-mind/internal/planning"
)

// Publisher queues observations for asynchronous perception.
type Publisher interface {
	Publish(ctx context.Context, obs *cognition.Observation) error
}

// Neighborhood reads the fact graph around an entity.
type Neighborhood interface {
	Neighborhood(ctx context.Context, scope cognition.Scope, entity string, maxDepth, limit int) ([]graph.Edge, error)
}

// Deps are the handler's collaborators. Only Backend is required; routes
// whose collaborator is missing answer 503.
type Deps struct {
	Backend   cognition.Backend
	Working   cognition.WorkingStore
	Perceiver *perception.Perceiver
	Feed      Publisher
	Planner   *planning.Planner
	Sweeper   *maintenance.Sweeper
	Graph     Neighborhood
	Options   []cognition.Option
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/observations", h.postObservation)
		r.Post("/maintenance/sweep", h.sweep)

		r.Route("/agents/{tenant}/{agent}", func(r chi.Router) {
			r.Get("/beliefs", h.listBeliefs)
			r.Get("/beliefs/history", h.beliefHistory)
			r.Get("/goals", h.listGoals)
			r.Post("/goals/{goalID}/plan", h.planGoal)
			r.Get("/intentions/next", h.nextIntention)
			r.Get("/working", h.workingContext)
			r.Get("/episodes", h.recentEpisodes)
			r.Get("/facts", h.searchFacts)
			r.Get("/entities/{entity}", h.entity)
			r.Post("/maintenance/sweep", h.sweepScope)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "service": "nuka-mind"}
	if h.deps.Sweeper != nil {
		if last, failed := h.deps.Sweeper.LastRun(); !last.IsZero() {
			body["last_sweep"] = last.UTC().Format(time.RFC3339)
			body["last_sweep_failures"] = failed
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) postObservation(w http.ResponseWriter, r *http.Request) {
	var obs cognition.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if obs.TenantID == "" || obs.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, errors.New("tenant_id and employee_id are required"))
		return
	}

	if h.deps.Feed != nil {
		if err := h.deps.Feed.Publish(r.Context(), &obs); err != nil {
			h.fail(w, "publish observation", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"observation_id": obs.ID, "status": "queued"})
		return
	}
	if h.deps.Perceiver == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("perception not configured"))
		return
	}
	got, err := h.deps.Perceiver.Ingest(r.Context(), &obs)
	if err != nil {
		h.fail(w, "ingest observation", err)
		return
	}
	writeJSON(w, http.StatusCreated, got)
}

func (h *Handler) listBeliefs(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	minConf := floatParam(r, "min_confidence", 0)
	limit := intParam(r, "limit", 0)
	subject := r.URL.Query().Get("subject")

	var beliefs []*cognition.Belief
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		bs := cognition.NewBeliefSystem(s, scope, h.logger, h.deps.Options...)
		var err error
		if subject != "" {
			beliefs, err = bs.GetBeliefsAbout(r.Context(), subject, minConf)
		} else {
			beliefs, err = bs.GetAllBeliefs(r.Context(), minConf)
		}
		return err
	})
	if err != nil {
		h.fail(w, "list beliefs", err)
		return
	}
	if limit > 0 && len(beliefs) > limit {
		beliefs = beliefs[:limit]
	}
	writeJSON(w, http.StatusOK, beliefs)
}

func (h *Handler) beliefHistory(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	q := r.URL.Query()
	var history []*cognition.BeliefHistory
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		var err error
		history, err = cognition.NewBeliefSystem(s, scope, h.logger, h.deps.Options...).GetBeliefHistory(r.Context(), cognition.HistoryFilter{
			Subject:   q.Get("subject"),
			Predicate: q.Get("predicate"),
			Limit:     intParam(r, "limit", 0),
		})
		return err
	})
	if err != nil {
		h.fail(w, "belief history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) listGoals(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	status := r.URL.Query().Get("status")
	var goals []*cognition.Goal
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		gs := cognition.NewGoalSystem(s, scope, h.logger, h.deps.Options...)
		var err error
		if status != "" {
			goals, err = gs.GetGoalsByStatus(r.Context(), cognition.GoalStatus(status))
		} else {
			goals, err = gs.GetActiveGoals(r.Context(), intParam(r, "min_priority", 1))
		}
		return err
	})
	if err != nil {
		h.fail(w, "list goals", err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

// planGoal reads the planning context, asks the planner outside any
// transaction, then commits the plan's intentions.
func (h *Handler) planGoal(w http.ResponseWriter, r *http.Request) {
	if h.deps.Planner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("planner not configured"))
		return
	}
	scope := scopeOf(r)
	goalID := chi.URLParam(r, "goalID")
	ctx := r.Context()

	var pc planning.Context
	err := h.inTx(ctx, func(s cognition.Store) error {
		s = cognition.WithWorkingStore(s, h.deps.Working)
		goal, err := cognition.NewGoalSystem(s, scope, h.logger, h.deps.Options...).GetGoal(ctx, goalID)
		if err != nil || goal == nil {
			return err
		}
		pc.Goal = goal
		if pc.Beliefs, err = cognition.NewBeliefSystem(s, scope, h.logger, h.deps.Options...).GetAllBeliefs(ctx, 0.5); err != nil {
			return err
		}
		if pc.Procedures, err = cognition.NewProceduralMemory(s, scope, h.logger, h.deps.Options...).FindProceduresForSituation(
			ctx, goal.Target, "", cognition.DefaultProvenMinSuccessRate, cognition.DefaultSituationLimit); err != nil {
			return err
		}
		pc.Working, err = cognition.NewWorkingMemory(s, scope, h.logger, h.deps.Options...).GetMostImportant(ctx, cognition.DefaultMostImportant)
		return err
	})
	if err != nil {
		h.fail(w, "read planning context", err)
		return
	}
	if pc.Goal == nil {
		writeError(w, http.StatusNotFound, errors.New("goal not found"))
		return
	}
	if pc.Goal.Status.Terminal() {
		writeError(w, http.StatusConflict, errors.New("goal is "+string(pc.Goal.Status)))
		return
	}

	plan, err := h.deps.Planner.Plan(ctx, pc)
	if err != nil {
		if errors.Is(err, planning.ErrInvalidPlan) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		h.fail(w, "plan goal", err)
		return
	}

	var intentions []*cognition.Intention
	err = h.inTx(ctx, func(s cognition.Store) error {
		var err error
		intentions, err = planning.Commit(ctx, cognition.NewIntentionStack(s, scope, h.logger, h.deps.Options...), plan)
		return err
	})
	if err != nil {
		h.fail(w, "commit plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"plan": plan, "intentions": intentions})
}

func (h *Handler) nextIntention(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	var next *cognition.Intention
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		var err error
		next, err = cognition.NewIntentionStack(s, scope, h.logger, h.deps.Options...).GetNextIntention(r.Context())
		return err
	})
	if err != nil {
		h.fail(w, "next intention", err)
		return
	}
	if next == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *Handler) workingContext(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	var summary *cognition.ContextSummary
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		s = cognition.WithWorkingStore(s, h.deps.Working)
		var err error
		summary, err = cognition.NewWorkingMemory(s, scope, h.logger, h.deps.Options...).GetContextSummary(r.Context())
		return err
	})
	if err != nil {
		h.fail(w, "working context", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) recentEpisodes(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	q := r.URL.Query()
	var episodes []*cognition.Episode
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		em := cognition.NewEpisodicMemory(s, scope, h.logger, h.deps.Options...)
		var err error
		if p := q.Get("participant"); p != "" {
			episodes, err = em.RecallWithParticipant(r.Context(), p, intParam(r, "limit", 0))
		} else {
			episodes, err = em.RecallRecent(r.Context(), intParam(r, "days", 0), intParam(r, "limit", 0), cognition.EpisodeType(q.Get("type")))
		}
		return err
	})
	if err != nil {
		h.fail(w, "recall episodes", err)
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (h *Handler) searchFacts(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	q := r.URL.Query()
	var facts []*cognition.Fact
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		sm := cognition.NewSemanticMemory(s, scope, h.logger, h.deps.Options...)
		var err error
		if text := q.Get("q"); text != "" {
			facts, err = sm.SearchFactsText(r.Context(), text, intParam(r, "limit", 0))
		} else {
			facts, err = sm.QueryFacts(r.Context(), cognition.FactQuery{
				Subject:   q.Get("subject"),
				Predicate: q.Get("predicate"),
				Limit:     intParam(r, "limit", 0),
			})
		}
		return err
	})
	if err != nil {
		h.fail(w, "search facts", err)
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

// entity returns the entity's summary and related facts, plus its graph
// neighborhood when a fact graph is configured.
func (h *Handler) entity(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	name := chi.URLParam(r, "entity")
	depth := intParam(r, "depth", cognition.DefaultRelatedDepth)

	var summary map[string]string
	var related [][]*cognition.Fact
	err := h.inTx(r.Context(), func(s cognition.Store) error {
		sm := cognition.NewSemanticMemory(s, scope, h.logger, h.deps.Options...)
		var err error
		if summary, err = sm.GetEntitySummary(r.Context(), name); err != nil {
			return err
		}
		related, err = sm.GetRelatedFacts(r.Context(), name, depth, intParam(r, "limit", 0))
		return err
	})
	if err != nil {
		h.fail(w, "entity", err)
		return
	}
	body := map[string]any{"entity": name, "summary": summary, "related": related}
	if h.deps.Graph != nil {
		edges, err := h.deps.Graph.Neighborhood(r.Context(), scope, name, depth, intParam(r, "limit", 0))
		if err != nil {
			h.logger.Warn("graph neighborhood failed", zap.String("entity", name), zap.Error(err))
		} else {
			body["graph"] = edges
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("maintenance not configured"))
		return
	}
	reports, err := h.deps.Sweeper.SweepAll(r.Context())
	body := map[string]any{"reports": reports}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) sweepScope(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("maintenance not configured"))
		return
	}
	rep, err := h.deps.Sweeper.SweepScope(r.Context(), scopeOf(r))
	if err != nil {
		h.fail(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) inTx(ctx context.Context, fn func(cognition.Store) error) error {
	return h.deps.Backend.InTx(ctx, fn)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func scopeOf(r *http.Request) cognition.Scope {
	return cognition.Scope{TenantID: chi.URLParam(r, "tenant"), AgentID: chi.URLParam(r, "agent")}
}

func intParam(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

func floatParam(r *http.Request, name string, def float64) float64 {
	if v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64); err == nil {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
