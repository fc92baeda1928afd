package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/repository"
	"github.com/lekhabook/be-workflow/internal/service"
)

// HTTPHandler exposes the workflow REST surface.
type HTTPHandler struct {
	workflow *service.WorkflowService
	rules    *service.RuleService
	audit    *service.AuditService
	log      zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	workflow *service.WorkflowService,
	rules *service.RuleService,
	audit *service.AuditService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		workflow: workflow,
		rules:    rules,
		audit:    audit,
		log:      log.With().Str("handler", "http").Logger(),
	}
}

// Routes builds the router.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/workflow", func(r chi.Router) {
		for path, entityType := range map[string]repository.EntityType{
			"/invoices": repository.EntityInvoice,
			"/expenses": repository.EntityExpense,
		} {
			et := entityType
			r.Route(path, func(r chi.Router) {
				r.Post("/", h.createDocument(et))
				r.Get("/{id}", h.getDocument(et))
				r.Post("/{id}/submit-for-approval", h.submitForApproval(et))
				r.Post("/{id}/approve", h.approve(et))
				r.Post("/{id}/reject", h.reject(et))
				r.Post("/{id}/cancel", h.cancel(et))
				r.Post("/{id}/edited", h.markEdited(et))
				r.Get("/{id}/actions", h.legalActions(et))
				r.Post("/{id}/transition", h.transition(et))
			})
		}

		r.Post("/rules/{id}/test", h.testRule)

		r.Route("/audit-logs", func(r chi.Router) {
			r.Get("/", h.listAuditLogs)
			r.Get("/entity/{entityType}/{entityId}", h.auditHistory)
			r.Post("/compliance-report", h.complianceReport)
		})
	})

	r.Route("/admin/workflow-rules", func(r chi.Router) {
		r.Get("/", h.listRules)
		r.Post("/", h.createRule)
		r.Get("/{id}", h.getRule)
		r.Patch("/{id}", h.updateRule)
		r.Delete("/{id}", h.deleteRule)
	})

	return r
}

// actorFrom reads the actor identity injected by the API gateway.
func actorFrom(r *http.Request) repository.Actor {
	actor := repository.Actor{ID: r.Header.Get("X-User-ID")}
	if roles := r.Header.Get("X-User-Roles"); roles != "" {
		for _, role := range strings.Split(roles, ",") {
			actor.Roles = append(actor.Roles, strings.TrimSpace(role))
		}
	}
	return actor
}

// ── document lifecycle ────────────────────────────────────────────────────────

type createDocumentRequest struct {
	ID             string                `json:"id"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	CounterpartyID *string               `json:"counterparty_id,omitempty"`
	LineItems      []repository.LineItem `json:"line_items,omitempty"`
}

// createDocument registers a document projection with the engine. Called by
// the owning application when an invoice or expense is created.
func (h *HTTPHandler) createDocument(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, errors.InvalidInput("body", "invalid request body"))
			return
		}
		if req.ID == "" {
			h.writeError(w, errors.InvalidInput("id", "document id is required"))
			return
		}

		doc := &repository.WorkflowDocument{
			ID:             req.ID,
			EntityType:     entityType,
			Status:         repository.StateDraft,
			Amount:         req.Amount,
			Currency:       strings.ToUpper(req.Currency),
			CounterpartyID: req.CounterpartyID,
			CreatedBy:      actorFrom(r).ID,
			LineItems:      req.LineItems,
		}
		if err := h.workflow.CreateDocument(r.Context(), doc); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, documentResponse(doc))
	}
}

func (h *HTTPHandler) getDocument(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.workflow.GetDocument(r.Context(), entityType, chi.URLParam(r, "id"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, documentResponse(doc))
	}
}

func (h *HTTPHandler) submitForApproval(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := h.workflow.SubmitForApproval(r.Context(), entityType, chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			h.writeError(w, err)
			return
		}
		status := http.StatusOK
		if result.Blocked {
			// The violation list is the body; no transition occurred.
			status = http.StatusUnprocessableEntity
		}
		h.writeJSON(w, status, result)
	}
}

type approveRequest struct {
	Version int64 `json:"version,omitempty"`
}

func (h *HTTPHandler) approve(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approveRequest
		decodeOptional(r, &req)

		id := chi.URLParam(r, "id")
		if err := h.workflow.Approve(r.Context(), entityType, id, actorFrom(r), req.Version); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(repository.StateApproved)})
	}
}

type rejectRequest struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version,omitempty"`
}

func (h *HTTPHandler) reject(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rejectRequest
		decodeOptional(r, &req)

		id := chi.URLParam(r, "id")
		if err := h.workflow.Reject(r.Context(), entityType, id, actorFrom(r), req.Reason, req.Version); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(repository.StateRejected)})
	}
}

func (h *HTTPHandler) cancel(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approveRequest
		decodeOptional(r, &req)

		id := chi.URLParam(r, "id")
		if err := h.workflow.Cancel(r.Context(), entityType, id, actorFrom(r), req.Version); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(repository.StateCancelled)})
	}
}

func (h *HTTPHandler) markEdited(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := h.workflow.MarkEdited(r.Context(), entityType, id, actorFrom(r)); err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(repository.StateDraft)})
	}
}

func (h *HTTPHandler) legalActions(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actions, err := h.workflow.LegalActions(r.Context(), entityType, chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
	}
}

type transitionRequest struct {
	TargetState repository.WorkflowState `json:"target_state"`
	Reason      string                   `json:"reason,omitempty"`
	Version     int64                    `json:"version,omitempty"`
}

func (h *HTTPHandler) transition(entityType repository.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, errors.InvalidInput("body", "invalid request body"))
			return
		}

		id := chi.URLParam(r, "id")
		result, err := h.workflow.Transition(r.Context(), entityType, id, actorFrom(r), req.TargetState, req.Reason, req.Version)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if result != nil {
			status := http.StatusOK
			if result.Blocked {
				status = http.StatusUnprocessableEntity
			}
			h.writeJSON(w, status, result)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(req.TargetState)})
	}
}

// ── rule administration ───────────────────────────────────────────────────────

func (h *HTTPHandler) listRules(w http.ResponseWriter, r *http.Request) {
	var entityType *repository.EntityType
	if raw := r.URL.Query().Get("entity_type"); raw != "" {
		et := repository.EntityType(strings.ToUpper(raw))
		if !et.Valid() {
			h.writeError(w, errors.InvalidInput("entity_type", "entity type must be INVOICE or EXPENSE"))
			return
		}
		entityType = &et
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.rules.ListRules(r.Context(), entityType, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *HTTPHandler) createRule(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	req.CreatedBy = actorFrom(r).ID

	rule, err := h.rules.CreateRule(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *HTTPHandler) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) updateRule(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testRuleRequest struct {
	Snapshot map[string]any `json:"snapshot"`
}

func (h *HTTPHandler) testRule(w http.ResponseWriter, r *http.Request) {
	var req testRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	result, err := h.rules.TestRule(r.Context(), chi.URLParam(r, "id"), req.Snapshot)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ── audit ─────────────────────────────────────────────────────────────────────

func (h *HTTPHandler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": auditResponses(entries)})
}

func (h *HTTPHandler) auditHistory(w http.ResponseWriter, r *http.Request) {
	entityType := repository.EntityType(strings.ToUpper(chi.URLParam(r, "entityType")))
	if !entityType.Valid() {
		h.writeError(w, errors.InvalidInput("entityType", "entity type must be INVOICE or EXPENSE"))
		return
	}

	entries, err := h.audit.HistoryFor(r.Context(), entityType, chi.URLParam(r, "entityId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": auditResponses(entries)})
}

type complianceReportRequest struct {
	EntityType *string    `json:"entity_type,omitempty"`
	ActorID    *string    `json:"actor_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

func (h *HTTPHandler) complianceReport(w http.ResponseWriter, r *http.Request) {
	var req complianceReportRequest
	decodeOptional(r, &req)

	filter := repository.AuditFilter{ActorID: req.ActorID, From: req.From, To: req.To}
	if req.EntityType != nil {
		et := repository.EntityType(strings.ToUpper(*req.EntityType))
		if !et.Valid() {
			h.writeError(w, errors.InvalidInput("entity_type", "entity type must be INVOICE or EXPENSE"))
			return
		}
		filter.EntityType = &et
	}

	report, err := h.audit.ComplianceReport(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func auditFilterFromQuery(r *http.Request) (repository.AuditFilter, error) {
	filter := repository.AuditFilter{}
	q := r.URL.Query()

	if raw := q.Get("entity_type"); raw != "" {
		et := repository.EntityType(strings.ToUpper(raw))
		if !et.Valid() {
			return filter, errors.InvalidInput("entity_type", "entity type must be INVOICE or EXPENSE")
		}
		filter.EntityType = &et
	}
	if raw := q.Get("entity_id"); raw != "" {
		filter.EntityID = &raw
	}
	if raw := q.Get("actor_id"); raw != "" {
		filter.ActorID = &raw
	}
	if raw := q.Get("action"); raw != "" {
		filter.Action = &raw
	}
	return filter, nil
}

// ── response shaping ──────────────────────────────────────────────────────────

type documentView struct {
	ID             string                `json:"id"`
	EntityType     repository.EntityType `json:"entity_type"`
	Status         string                `json:"status"`
	Version        int64                 `json:"version"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	CounterpartyID *string               `json:"counterparty_id,omitempty"`
	SubmittedBy    *string               `json:"submitted_by,omitempty"`
	CreatedBy      string                `json:"created_by"`
	LineItems      []repository.LineItem `json:"line_items,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func documentResponse(doc *repository.WorkflowDocument) documentView {
	return documentView{
		ID:             doc.ID,
		EntityType:     doc.EntityType,
		Status:         string(doc.Status),
		Version:        doc.Version,
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		CounterpartyID: doc.CounterpartyID,
		SubmittedBy:    doc.SubmittedBy,
		CreatedBy:      doc.CreatedBy,
		LineItems:      doc.LineItems,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

type auditView struct {
	ID               string               `json:"id"`
	EntityType       string               `json:"entity_type"`
	EntityID         string               `json:"entity_id"`
	ActorID          string               `json:"actor_id"`
	Action           string               `json:"action"`
	BeforeState      string               `json:"before_state"`
	AfterState       string               `json:"after_state"`
	Reason           *string              `json:"reason,omitempty"`
	DecisionSnapshot *repository.Decision `json:"decision_snapshot,omitempty"`
	Sequence         int64                `json:"sequence"`
	Timestamp        time.Time            `json:"timestamp"`
}

func auditResponses(entries []*repository.AuditLogEntry) []auditView {
	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView{
			ID:               e.ID,
			EntityType:       string(e.EntityType),
			EntityID:         e.EntityID,
			ActorID:          e.ActorID,
			Action:           e.Action,
			BeforeState:      string(e.BeforeState),
			AfterState:       string(e.AfterState),
			Reason:           e.Reason,
			DecisionSnapshot: e.DecisionSnapshot,
			Sequence:         e.Sequence,
			Timestamp:        e.Timestamp,
		})
	}
	return views
}

// decodeOptional decodes a JSON body when one is present, ignoring an empty
// body so action endpoints work without one.
func decodeOptional(r *http.Request, dst any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(dst)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	appErr := errors.AsError(err)
	if appErr == nil {
		h.log.Error().Err(err).Msg("Unhandled error")
		appErr = errors.New(errors.ErrCodeInternal, "internal server error")
	}
	h.writeJSON(w, errors.HTTPStatus(appErr.Code), map[string]any{"error": appErr})
}
