package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/repository"
	"github.com/lekhabook/be-workflow/internal/service"
)

// ── in-memory backends ────────────────────────────────────────────────────────

type memStore struct {
	docs  map[string]*repository.WorkflowDocument
	audit *memAudit
}

func (s *memStore) key(entityType repository.EntityType, id string) string {
	return string(entityType) + "/" + id
}

func (s *memStore) Create(_ context.Context, doc *repository.WorkflowDocument) error {
	doc.Version = 1
	stored := *doc
	s.docs[s.key(doc.EntityType, doc.ID)] = &stored
	return nil
}

func (s *memStore) GetDocument(_ context.Context, entityType repository.EntityType, id string) (*repository.WorkflowDocument, error) {
	doc, ok := s.docs[s.key(entityType, id)]
	if !ok {
		return nil, errors.NotFound(string(entityType), id)
	}
	out := *doc
	return &out, nil
}

func (s *memStore) ApplyTransition(ctx context.Context, rec *repository.TransitionRecord) error {
	doc, ok := s.docs[s.key(rec.EntityType, rec.EntityID)]
	if !ok {
		return errors.NotFound(string(rec.EntityType), rec.EntityID)
	}
	if doc.Version != rec.ExpectedVersion {
		return errors.Conflict("document was modified concurrently; reload and retry")
	}
	doc.Status = rec.ToState
	doc.Version++
	if rec.SetSubmittedBy != nil {
		if *rec.SetSubmittedBy == "" {
			doc.SubmittedBy = nil
		} else {
			submitter := *rec.SetSubmittedBy
			doc.SubmittedBy = &submitter
		}
	}
	return s.audit.Append(ctx, &rec.Entry)
}

type memAudit struct {
	entries []*repository.AuditLogEntry
}

func (a *memAudit) Append(_ context.Context, entry *repository.AuditLogEntry) error {
	stored := *entry
	stored.Sequence = int64(len(a.entries) + 1)
	a.entries = append(a.entries, &stored)
	return nil
}

func (a *memAudit) HistoryFor(_ context.Context, entityType repository.EntityType, entityID string) ([]*repository.AuditLogEntry, error) {
	var out []*repository.AuditLogEntry
	for _, e := range a.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAudit) List(_ context.Context, _ repository.AuditFilter) ([]*repository.AuditLogEntry, error) {
	return a.entries, nil
}

type memRules struct {
	rules map[string]*repository.BusinessRule
}

func (s *memRules) ActiveForEntityType(_ context.Context, entityType repository.EntityType) ([]*repository.BusinessRule, error) {
	var out []*repository.BusinessRule
	for _, r := range s.rules {
		if r.IsActive && r.EntityType == entityType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRules) Create(_ context.Context, rule *repository.BusinessRule) error {
	rule.ID = "rule-1"
	s.rules[rule.ID] = rule
	return nil
}

func (s *memRules) GetByID(_ context.Context, id string) (*repository.BusinessRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.NotFound("rule", id)
	}
	return rule, nil
}

func (s *memRules) List(_ context.Context, _ *repository.EntityType, _ bool) ([]*repository.BusinessRule, error) {
	var out []*repository.BusinessRule
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *memRules) Update(_ context.Context, rule *repository.BusinessRule) error {
	s.rules[rule.ID] = rule
	return nil
}

func (s *memRules) Delete(_ context.Context, id string) error {
	delete(s.rules, id)
	return nil
}

// ── fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	router http.Handler
	store  *memStore
}

func newFixture(rules ...*repository.BusinessRule) *fixture {
	log := zerolog.Nop()
	audit := &memAudit{}
	store := &memStore{docs: make(map[string]*repository.WorkflowDocument), audit: audit}
	ruleStore := &memRules{rules: make(map[string]*repository.BusinessRule)}
	for _, r := range rules {
		ruleStore.rules[r.ID] = r
	}

	resolver := service.NewPolicyResolver(ruleStore, nil, log)
	workflow := service.NewWorkflowService(store, audit, resolver, nil, nil, log)
	ruleSvc := service.NewRuleService(ruleStore, log)
	auditSvc := service.NewAuditService(audit, log)

	h := NewHTTPHandler(workflow, ruleSvc, auditSvc, log)
	return &fixture{router: h.Routes(), store: store}
}

func (f *fixture) seedDraft(id string, amount int64) {
	f.store.docs["INVOICE/"+id] = &repository.WorkflowDocument{
		ID:         id,
		EntityType: repository.EntityInvoice,
		Status:     repository.StateDraft,
		Version:    1,
		Amount:     amount,
		Currency:   "NPR",
		CreatedBy:  "user-creator",
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "user-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestSubmitEndpointAutoApproves(t *testing.T) {
	f := newFixture()
	f.seedDraft("inv-1", 100)

	rec := f.do(t, http.MethodPost, "/workflow/invoices/inv-1/submit-for-approval", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "APPROVED" || body["auto_approved"] != true {
		t.Errorf("body = %v, want auto-approved", body)
	}
}

func TestSubmitEndpointBlockedReturns422(t *testing.T) {
	f := newFixture(&repository.BusinessRule{
		ID:         "r1",
		Name:       "always block",
		EntityType: repository.EntityInvoice,
		RuleType:   repository.RuleValidation,
		Condition: repository.ConditionNode{
			Kind: repository.NodeComparison, Field: "id", Op: repository.OpExists,
		},
		Action:   repository.ActionBlock,
		Severity: repository.SeverityError,
		IsActive: true,
	})
	f.seedDraft("inv-1", 100)

	rec := f.do(t, http.MethodPost, "/workflow/invoices/inv-1/submit-for-approval", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["blocked"] != true {
		t.Errorf("body = %v, want blocked", body)
	}

	if f.store.docs["INVOICE/inv-1"].Status != repository.StateDraft {
		t.Error("blocked submission mutated the document")
	}
}

func TestApproveEndpointGuards(t *testing.T) {
	f := newFixture()
	f.seedDraft("inv-1", 100)
	submittedBy := "user-2"
	f.store.docs["INVOICE/inv-1"].Status = repository.StatePendingApproval
	f.store.docs["INVOICE/inv-1"].SubmittedBy = &submittedBy

	// No approver role.
	rec := f.do(t, http.MethodPost, "/workflow/invoices/inv-1/approve", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without the approver role", rec.Code)
	}

	// Stale version token.
	rec = f.do(t, http.MethodPost, "/workflow/invoices/inv-1/approve",
		map[string]any{"version": 9}, map[string]string{"X-User-Roles": "approver"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for a stale version", rec.Code)
	}

	// Happy path.
	rec = f.do(t, http.MethodPost, "/workflow/invoices/inv-1/approve",
		nil, map[string]string{"X-User-Roles": "approver"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestRejectEndpointRequiresReason(t *testing.T) {
	f := newFixture()
	f.seedDraft("inv-1", 100)
	f.store.docs["INVOICE/inv-1"].Status = repository.StatePendingApproval

	rec := f.do(t, http.MethodPost, "/workflow/invoices/inv-1/reject", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without a reason", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/workflow/invoices/inv-1/reject",
		map[string]any{"reason": "missing PAN"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownDocumentReturns404(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/workflow/invoices/ghost", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "NOT_FOUND" {
		t.Errorf("body = %v, want a NOT_FOUND error envelope", body)
	}
}

func TestActionsEndpoint(t *testing.T) {
	f := newFixture()
	f.seedDraft("inv-1", 100)

	rec := f.do(t, http.MethodGet, "/workflow/invoices/inv-1/actions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	actions, _ := body["actions"].([]any)
	if len(actions) == 0 {
		t.Errorf("body = %v, want legal actions for a draft", body)
	}
}

func TestRuleAdminEndpoints(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/admin/workflow-rules", map[string]any{
		"name":        "high amount",
		"entity_type": "INVOICE",
		"rule_type":   "APPROVAL",
		"condition":   map[string]any{"kind": "comparison", "field": "amount", "op": "gt", "value": 500000},
		"action":      "REQUIRE_APPROVAL",
		"severity":    "WARNING",
		"priority":    10,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/admin/workflow-rules", map[string]any{
		"name":        "bad",
		"entity_type": "INVOICE",
		"rule_type":   "APPROVAL",
		"condition":   map[string]any{"kind": "comparison", "field": "amount", "op": "like", "value": "x"},
		"action":      "BLOCK",
		"severity":    "ERROR",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed condition status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/admin/workflow-rules", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/admin/workflow-rules/rule-1", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func TestRuleDryRunEndpoint(t *testing.T) {
	f := newFixture(&repository.BusinessRule{
		ID:         "r1",
		Name:       "npr only",
		EntityType: repository.EntityInvoice,
		RuleType:   repository.RuleValidation,
		Condition: repository.ConditionNode{
			Kind: repository.NodeComparison, Field: "currency", Op: repository.OpEq, Value: "NPR",
		},
		Action:   repository.ActionWarn,
		Severity: repository.SeverityInfo,
		IsActive: true,
	})

	rec := f.do(t, http.MethodPost, "/workflow/rules/r1/test",
		map[string]any{"snapshot": map[string]any{"currency": "npr"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["matched"] != true {
		t.Errorf("body = %v, want matched", body)
	}
}

func TestAuditHistoryEndpointValidatesEntityType(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/workflow/audit-logs/entity/receipt/x-1", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unknown entity type", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/workflow/audit-logs/entity/invoice/x-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a valid entity type", rec.Code)
	}
}

func TestCreateDocumentEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/workflow/expenses", map[string]any{
		"id":       "exp-9",
		"amount":   120000,
		"currency": "npr",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "DRAFT" || body["currency"] != "NPR" {
		t.Errorf("body = %v, want a DRAFT document with uppercased currency", body)
	}

	rec = f.do(t, http.MethodPost, "/workflow/expenses", map[string]any{"amount": 1}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without an id", rec.Code)
	}
}
