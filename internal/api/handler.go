package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/collector/internal/casework"
	"github.com/opensource-finance/collector/internal/domain"
	"github.com/opensource-finance/collector/internal/reconcile"
	"github.com/opensource-finance/collector/internal/rules"
)

// CaseService is the case workflow as seen by the HTTP layer.
type CaseService interface {
	CreateCase(ctx context.Context, customerID, loanID string) (*domain.CaseDetails, error)
	CreateFull(ctx context.Context, in casework.NewCustomerLoan) (*domain.CaseDetails, error)
	GetCase(ctx context.Context, caseID string) (*domain.CaseDetails, error)
	ListCases(ctx context.Context, filter domain.CaseFilter) (*domain.CasePage, error)
	AddAction(ctx context.Context, caseID string, in casework.NewAction) (*domain.ActionLog, error)
	Assign(ctx context.Context, caseID string, expectedVersion *int) (*casework.AssignResult, error)
}

// RuleCatalog serves and reloads assignment rules.
type RuleCatalog interface {
	Snapshot() (*rules.Snapshot, error)
	Reload() (*rules.Snapshot, error)
}

// MetricsSource provides the dashboard summary.
type MetricsSource interface {
	Metrics(ctx context.Context) (*domain.DashboardMetrics, error)
}

// Pinger is a dependency whose health /ready reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call. Cases and Rules are required.
type Deps struct {
	Cases      CaseService
	Rules      RuleCatalog
	Metrics    MetricsSource
	Reconciler reconcile.Runner
	Repo       Pinger
	Cache      Pinger
	Bus        Pinger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps    Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{deps: deps, version: version}
}

// Dates accepted for loan.dueDate.
var dueDateLayouts = []string{time.RFC3339, time.DateOnly}

// CreateCaseRequest is the request body for POST /api/cases.
type CreateCaseRequest struct {
	CustomerID string `json:"customerId"`
	LoanID     string `json:"loanId"`
}

// CreateFullRequest is the request body for POST /api/cases/full.
type CreateFullRequest struct {
	Customer casework.NewCustomer `json:"customer"`
	Loan     struct {
		Principal   float64 `json:"principal"`
		Outstanding float64 `json:"outstanding"`
		DueDate     string  `json:"dueDate"`
	} `json:"loan"`
}

// AssignRequest is the optional request body for POST /api/cases/{id}/assign.
type AssignRequest struct {
	ExpectedVersion *int `json:"expectedVersion"`
}

// decodeBody decodes a JSON body. An empty body is accepted when optional.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	return err
}

// CreateCase handles POST /api/cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, r, "Invalid JSON request body")
		return
	}

	details, err := h.deps.Cases.CreateCase(r.Context(), req.CustomerID, req.LoanID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}

// CreateFull handles POST /api/cases/full.
func (h *Handler) CreateFull(w http.ResponseWriter, r *http.Request) {
	var req CreateFullRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, r, "Invalid JSON request body")
		return
	}

	in := casework.NewCustomerLoan{
		Customer: req.Customer,
		Loan: casework.NewLoan{
			Principal:   req.Loan.Principal,
			Outstanding: req.Loan.Outstanding,
		},
	}
	if raw := strings.TrimSpace(req.Loan.DueDate); raw != "" {
		due, ok := parseDueDate(raw)
		if !ok {
			writeError(w, r, domain.NewValidationError("loan.dueDate", "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"))
			return
		}
		in.Loan.DueDate = due
	}

	details, err := h.deps.Cases.CreateFull(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}

func parseDueDate(raw string) (time.Time, bool) {
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ListCases handles GET /api/cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCaseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.deps.Cases.ListCases(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseCaseFilter reads listing query parameters. Range and enum checks are
// left to the workflow; only integer syntax is checked here.
func parseCaseFilter(q url.Values) (domain.CaseFilter, error) {
	var filter domain.CaseFilter
	var errs []domain.FieldError

	intParam := func(name string) *int {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, domain.FieldError{Field: name, Message: "must be an integer"})
			return nil
		}
		return &v
	}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status := domain.CaseStatus(v)
		filter.Status = &status
	}
	if v := strings.TrimSpace(q.Get("stage")); v != "" {
		stage := domain.CaseStage(v)
		filter.Stage = &stage
	}
	filter.DPDMin = intParam("dpdMin")
	filter.DPDMax = intParam("dpdMax")
	filter.AssignedTo = q.Get("assignedTo")
	if v := intParam("page"); v != nil {
		filter.Page = *v
		if *v == 0 {
			errs = append(errs, domain.FieldError{Field: "page", Message: "must be at least 1"})
		}
	}
	if v := intParam("pageSize"); v != nil {
		filter.PageSize = *v
		if *v == 0 {
			errs = append(errs, domain.FieldError{Field: "pageSize", Message: "must be between 1 and 100"})
		}
	}

	if len(errs) > 0 {
		return filter, domain.NewValidationErrors(errs)
	}
	return filter, nil
}

// GetCase handles GET /api/cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	details, err := h.deps.Cases.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// AddAction handles POST /api/cases/{id}/actions.
func (h *Handler) AddAction(w http.ResponseWriter, r *http.Request) {
	var req casework.NewAction
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, r, "Invalid JSON request body")
		return
	}

	log, err := h.deps.Cases.AddAction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

// Assign handles POST /api/cases/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeBadRequest(w, r, "Invalid JSON request body")
		return
	}

	result, err := h.deps.Cases.Assign(r.Context(), chi.URLParam(r, "id"), req.ExpectedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListRules handles GET /api/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Rules.Snapshot()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    snap.Rules(),
		"count":    snap.Len(),
		"source":   snap.Source(),
		"loadedAt": snap.LoadedAt(),
	})
}

// ReloadRules handles POST /api/rules/reload. A rejected file leaves the
// running rules in place.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Rules.Reload()
	if err != nil {
		slog.Error("failed to reload rules", "error", err, "request_id", GetRequestID(r.Context()))
		writeErrorEnvelope(w, r, http.StatusInternalServerError, codeInternal, "Failed to reload rules: "+err.Error(), nil)
		return
	}

	slog.Info("rules reloaded", "count", snap.Len(), "source", snap.Source())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   snap.Len(),
	})
}

// DashboardMetrics handles GET /api/metrics/dashboard.
func (h *Handler) DashboardMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeErrorEnvelope(w, r, http.StatusServiceUnavailable, codeInternal, "Metrics not available", nil)
		return
	}
	m, err := h.deps.Metrics.Metrics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RunReconcile handles POST /api/jobs/reconcile and runs the sweep inline.
func (h *Handler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		writeErrorEnvelope(w, r, http.StatusServiceUnavailable, codeInternal, "Reconciliation not available", nil)
		return
	}
	report, err := h.deps.Reconciler.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, p := range []Pinger{h.deps.Repo, h.deps.Cache} {
		if p != nil && p.Ping(r.Context()) != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the database, cache and bus are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Pinger{
		"database": h.deps.Repo,
		"cache":    h.deps.Cache,
		"eventBus": h.deps.Bus,
	}

	ready := true
	result := make(map[string]string, len(checks))
	for name, p := range checks {
		if p == nil {
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			ready = false
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": result,
	})
}
