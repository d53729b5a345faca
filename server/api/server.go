// Package api exposes the rule repository as a small JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Rules is the repository surface the API serves.
type Rules interface {
	CreateRule(ctx context.Context, draft repository.RuleDraft) (repository.RuleResult, error)
	GetRuleByID(ctx context.Context, id string) (*storage.RecurrenceRule, error)
	GetRules(ctx context.Context, filter storage.RuleFilter) (repository.RulePage, error)
	UpdateRule(ctx context.Context, id string, patch repository.RulePatch) (repository.RuleResult, error)
	DeleteRule(ctx context.Context, id string) (repository.DeleteResult, error)
	RegenerateEvents(ctx context.Context, id string) (repository.RuleResult, error)
	AddException(ctx context.Context, id, date string) (repository.ExceptionResult, error)
	GetEventsByRuleID(ctx context.Context, id string, q repository.EventQuery) ([]*storage.Event, error)
	RRule(rule *storage.RecurrenceRule) (string, error)
}

// Server holds the HTTP handlers.
type Server struct {
	rules  Rules
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates a server over rules. A nil logger uses slog.Default.
func NewServer(rules Rules, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rules: rules, logger: logger, now: time.Now}
}

// Handler returns the routed handler, including /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	rules := router.PathPrefix("/rules").Subrouter()
	rules.HandleFunc("", s.createRule).Methods(http.MethodPost)
	rules.HandleFunc("", s.listRules).Methods(http.MethodGet)
	rules.HandleFunc("/{id}", s.getRule).Methods(http.MethodGet)
	rules.HandleFunc("/{id}", s.updateRule).Methods(http.MethodPatch)
	rules.HandleFunc("/{id}", s.deleteRule).Methods(http.MethodDelete)
	rules.HandleFunc("/{id}/regenerate", s.regenerate).Methods(http.MethodPost)
	rules.HandleFunc("/{id}/exceptions", s.addException).Methods(http.MethodPost)
	rules.HandleFunc("/{id}/events", s.listEvents).Methods(http.MethodGet)
	rules.HandleFunc("/{id}/events.ics", s.eventsICS).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return router
}

// RuleResponse is a rule as served, with its RRULE form when one exists.
type RuleResponse struct {
	*storage.RecurrenceRule
	RRule string `json:"rrule,omitempty"`
}

// MutationResponse is returned by create, update and regenerate.
type MutationResponse struct {
	Rule          RuleResponse `json:"rule"`
	EventsCreated int          `json:"events_created"`
	EventsDeleted int          `json:"events_deleted"`
	Truncated     bool         `json:"truncated"`
}

// RuleListResponse is one page of rules.
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// ExceptionResponse reports the effect of adding an exception date.
type ExceptionResponse struct {
	Date          string `json:"date"`
	Added         bool   `json:"added"`
	EventsDeleted int    `json:"events_deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) ruleResponse(rule *storage.RecurrenceRule) RuleResponse {
	resp := RuleResponse{RecurrenceRule: rule}
	rr, err := s.rules.RRule(rule)
	switch {
	case err == nil:
		resp.RRule = rr
	case !errors.Is(err, recurrence.ErrNotExpressible):
		s.logger.Warn("failed to render rrule", "rule_id", rule.ID, "error", err)
	}
	return resp
}

func (s *Server) mutationResponse(res repository.RuleResult) MutationResponse {
	return MutationResponse{
		Rule:          s.ruleResponse(res.Rule),
		EventsCreated: res.EventsCreated,
		EventsDeleted: res.EventsDeleted,
		Truncated:     res.Truncated,
	}
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.rules.CreateRule(r.Context(), req.Draft())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.mutationResponse(res))
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter storage.RuleFilter
	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: page: %w", errBadRequest, err))
		return
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: limit: %w", errBadRequest, err))
		return
	}
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: is_active: %w", errBadRequest, err))
			return
		}
		filter.IsActive = &active
	}
	filter.PetID = q.Get("pet_id")

	page, err := s.rules.GetRules(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := RuleListResponse{
		Rules: make([]RuleResponse, len(page.Rules)),
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	}
	for i, rule := range page.Rules {
		resp.Rules[i] = s.ruleResponse(rule)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.GetRuleByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ruleResponse(rule))
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	var patch repository.RulePatch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := validatePatch(patch); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	res, err := s.rules.UpdateRule(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mutationResponse(res))
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	res, err := s.rules.DeleteRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"events_deleted": res.EventsDeleted})
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	res, err := s.rules.RegenerateEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mutationResponse(res))
}

func (s *Server) addException(w http.ResponseWriter, r *http.Request) {
	var req ExceptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.rules.AddException(r.Context(), mux.Vars(r)["id"], req.Date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Added {
		status = http.StatusCreated
	}
	writeJSON(w, status, ExceptionResponse{Date: res.DateKey, Added: res.Added, EventsDeleted: res.EventsDeleted})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query repository.EventQuery
	if v := q.Get("include_past"); v != "" {
		past, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: include_past: %w", errBadRequest, err))
			return
		}
		query.IncludePast = past
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: limit: %w", errBadRequest, err))
		return
	}
	query.Limit = limit

	events, err := s.rules.GetEventsByRuleID(r.Context(), mux.Vars(r)["id"], query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*storage.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) eventsICS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := s.rules.GetRuleByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.rules.GetEventsByRuleID(r.Context(), id, repository.EventQuery{IncludePast: true})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := storage.EventsToICS(rule.Title, events, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+".ics"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// errBadRequest marks malformed query parameters and bodies.
var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, errBadRequest), errors.As(err, &verrs):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// client went away
		status = 499
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}
