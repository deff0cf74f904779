package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/knowledge"
	"github.com/agentmesh/orchestrator/internal/learning"
	"github.com/agentmesh/orchestrator/internal/metricscore"
	"github.com/agentmesh/orchestrator/internal/review"
	"github.com/agentmesh/orchestrator/internal/workflow"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

// MaxPayloadSize bounds decoded request bodies (spec section 5's
// backpressure concerns extended to the transport boundary).
const MaxPayloadSize = 1 * 1024 * 1024

// Server is the Transport Adapter: it owns no domain state, only
// references to the components it routes to (spec section 4.K).
type Server struct {
	router   *mux.Router
	wf       *workflow.Controller
	reviews  *review.Coordinator
	metrics  *metricscore.Core
	know     *knowledge.Store
	feedback *learning.FeedbackProcessor
	adaptive *learning.AdaptiveSystem
}

// New builds a Server wired to the given core components and registers
// every route.
func New(wf *workflow.Controller, reviews *review.Coordinator, metrics *metricscore.Core, know *knowledge.Store) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		wf:       wf,
		reviews:  reviews,
		metrics:  metrics,
		know:     know,
		feedback: learning.New(know),
		adaptive: learning.NewAdaptiveSystem(know),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/workflow/execute", s.handleWorkflowExecute).Methods("POST")
	api.HandleFunc("/workflow/{id}/status", s.handleWorkflowStatus).Methods("GET")

	api.HandleFunc("/metrics/aggregate", s.handleMetricsAggregate).Methods("GET")
	api.HandleFunc("/metrics/top", s.handleMetricsTop).Methods("GET")
	api.HandleFunc("/metrics/health", s.handleMetricsHealth).Methods("GET")

	api.HandleFunc("/collaboration/analyze", s.handleCollaborationAnalyze).Methods("GET")

	api.HandleFunc("/review/request", s.handleReviewRequest).Methods("POST")
	api.HandleFunc("/review/{id}/status", s.handleReviewStatus).Methods("GET")
	api.HandleFunc("/review/{id}/submit", s.handleReviewSubmit).Methods("POST")

	api.HandleFunc("/knowledge", s.handleKnowledgeStore).Methods("POST")
	api.HandleFunc("/knowledge/search", s.handleKnowledgeSearch).Methods("GET")

	api.HandleFunc("/learning/feedback", s.handleLearningFeedback).Methods("POST")
	api.HandleFunc("/learning/adaptations", s.handleLearningAdaptations).Methods("GET")

	s.router.HandleFunc("/stream/{topic:.*}", s.handleStream)
}

func limitBody(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadSize)
}

func decodeJSON(r *http.Request, dst any) error {
	limitBody(r)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Wrap(apperr.Validation, "request body exceeds limit of "+humanize.Bytes(MaxPayloadSize), err)
		}
		return apperr.Wrap(apperr.Validation, "malformed request body", err)
	}
	return nil
}

// --- workflow.execute / workflow.status ---

type executeRequest struct {
	Prompt       string   `json:"prompt"`
	Participants []string `json:"participants"`
}

type workflowSummary struct {
	WorkflowID   string     `json:"workflow_id"`
	State        string     `json:"state"`
	Participants []string   `json:"participants"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Steps        []string   `json:"steps"`
}

func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Prompt == "" {
		respondError(w, apperr.New(apperr.Validation, "prompt is required"))
		return
	}

	wf, shared := s.wf.CreateWorkflow(req.Participants)
	shared.AddExecutionStep("workflow.execute: " + req.Prompt)

	respondJSON(w, http.StatusOK, workflowSummary{
		WorkflowID:   wf.ID,
		State:        string(wf.State),
		Participants: wf.Participants,
		CreatedAt:    wf.CreatedAt,
		EndedAt:      wf.EndedAt,
		Steps:        shared.GetExecutionHistory(),
	})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, err := s.wf.Status(id)
	if err != nil {
		respondError(w, err)
		return
	}
	shared, err := s.wf.SharedContext(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, workflowSummary{
		WorkflowID:   wf.ID,
		State:        string(wf.State),
		Participants: wf.Participants,
		CreatedAt:    wf.CreatedAt,
		EndedAt:      wf.EndedAt,
		Steps:        shared.GetExecutionHistory(),
	})
}

// --- metrics.aggregate / metrics.top / metrics.health ---

func parseTags(r *http.Request) map[string]string {
	raw := r.URL.Query().Get("tags")
	if raw == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			tags[kv[0]] = kv[1]
		}
	}
	return tags
}

func parseWindow(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, "invalid window duration", err)
	}
	return d, nil
}

func (s *Server) handleMetricsAggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		respondError(w, apperr.New(apperr.Validation, "kind is required"))
		return
	}
	agg := metricscore.Aggregation(strings.ToUpper(q.Get("aggregation")))
	if agg == "" {
		agg = metricscore.AggAvg
	}
	window, err := parseWindow(r)
	if err != nil {
		respondError(w, err)
		return
	}

	value := s.metrics.Aggregate(kind, agg, window, parseTags(r))
	respondJSON(w, http.StatusOK, map[string]any{
		"kind":        kind,
		"aggregation": agg,
		"window":      window.String(),
		"value":       value,
	})
}

func (s *Server) handleMetricsTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("kind")
	groupBy := q.Get("group_by")
	if kind == "" || groupBy == "" {
		respondError(w, apperr.New(apperr.Validation, "kind and group_by are required"))
		return
	}
	agg := metricscore.Aggregation(strings.ToUpper(q.Get("aggregation")))
	if agg == "" {
		agg = metricscore.AggSum
	}
	window, err := parseWindow(r)
	if err != nil {
		respondError(w, err)
		return
	}
	limit := 10
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"group_by": groupBy,
		"results":  s.metrics.TopN(kind, groupBy, agg, window, limit),
	})
}

func (s *Server) handleMetricsHealth(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Health(window))
}

// handleCollaborationAnalyze aggregates interaction metrics over a
// caller-supplied time window, correlating a pair of point kinds when
// both are given (spec section 6: "aggregate interaction metrics").
func (s *Server) handleCollaborationAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours := 24.0
	if raw := q.Get("time_window_hours"); raw != "" {
		if h, err := strconv.ParseFloat(raw, 64); err == nil && h > 0 {
			hours = h
		}
	}
	window := time.Duration(hours * float64(time.Hour))

	kinds := q["kind"]
	if len(kinds) == 0 {
		respondError(w, apperr.New(apperr.Validation, "at least one kind is required"))
		return
	}

	trends := make(map[string]metricscore.Trend, len(kinds))
	for _, k := range kinds {
		trends[k] = s.metrics.Trend(k, window, nil)
	}

	result := map[string]any{
		"time_window_hours": hours,
		"trends":            trends,
	}
	if len(kinds) >= 2 {
		result["correlation"] = s.metrics.Correlation(kinds[0], kinds[1], window)
	}
	respondJSON(w, http.StatusOK, result)
}

// --- review.request / review.status / review.submit ---

type reviewRequestBody struct {
	Content         any      `json:"content"`
	Criteria        []string `json:"criteria"`
	Reviewers       int      `json:"reviewers"`
	DeadlineSeconds int      `json:"deadline_seconds"`
	RequesterID     string   `json:"requester_id"`
}

func (s *Server) handleReviewRequest(w http.ResponseWriter, r *http.Request) {
	var req reviewRequestBody
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	// A zero or absent deadline_seconds falls through to the Coordinator's
	// own configured default (review.WithDefaultDeadline) rather than a
	// value hardcoded at the transport boundary.
	timeout := time.Duration(req.DeadlineSeconds) * time.Second

	rv, err := s.reviews.RequestReview(req.RequesterID, req.Content, req.Criteria, req.Reviewers, timeout)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"review_id": rv.ID})
}

func (s *Server) handleReviewStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rv, err := s.reviews.Status(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rv)
}

type reviewSubmitBody struct {
	ReviewerID  string   `json:"reviewer_id"`
	Score       float64  `json:"score"`
	Approved    bool     `json:"approved"`
	Suggestions []string `json:"suggestions"`
}

func (s *Server) handleReviewSubmit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body reviewSubmitBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	rv, err := s.reviews.SubmitReview(id, body.ReviewerID, body.Score, body.Approved, body.Suggestions)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rv)
}

// --- knowledge.store / knowledge.search ---

type knowledgeStoreBody struct {
	Key      string         `json:"key"`
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleKnowledgeStore(w http.ResponseWriter, r *http.Request) {
	var body knowledgeStoreBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.Key == "" {
		respondError(w, apperr.New(apperr.Validation, "key is required"))
		return
	}

	entry := s.know.Store(body.Key, body.Value, body.Metadata)
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 10
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	results := s.know.Search(knowledge.SearchRequest{
		Text:  q.Get("query"),
		Limit: limit,
	})
	respondJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// --- learning.feedback / learning.adaptations ---

func (s *Server) handleLearningFeedback(w http.ResponseWriter, r *http.Request) {
	var fb learning.Feedback
	if err := decodeJSON(r, &fb); err != nil {
		respondError(w, err)
		return
	}

	res, err := s.feedback.Process(fb)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleLearningAdaptations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 10
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	adaptations := s.adaptive.GetAdaptations(q.Get("context"), limit)
	respondJSON(w, http.StatusOK, map[string]any{"adaptations": adaptations, "count": len(adaptations)})
}
