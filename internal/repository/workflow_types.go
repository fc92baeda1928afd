package repository

import "time"

// ── Domain types for the approval workflow engine ────────────────────────────

// EntityType identifies the kind of document a rule or audit entry applies to.
type EntityType string

const (
	EntityInvoice EntityType = "INVOICE"
	EntityExpense EntityType = "EXPENSE"
)

// Valid reports whether the entity type is one of the known kinds.
func (t EntityType) Valid() bool {
	return t == EntityInvoice || t == EntityExpense
}

// RuleType classifies a business rule.
type RuleType string

const (
	RuleValidation RuleType = "VALIDATION"
	RuleApproval   RuleType = "APPROVAL"
)

// RuleAction is the effect of a matched rule.
type RuleAction string

const (
	ActionBlock           RuleAction = "BLOCK"
	ActionRequireApproval RuleAction = "REQUIRE_APPROVAL"
	ActionWarn            RuleAction = "WARN"
	ActionNotify          RuleAction = "NOTIFY"
)

// Severity grades a rule outcome.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// WorkflowState is a document's lifecycle state. Exactly one state is live
// per document; the legal moves between states are fixed (see the service
// layer's transition table).
type WorkflowState string

const (
	StateDraft           WorkflowState = "DRAFT"
	StatePendingApproval WorkflowState = "PENDING_APPROVAL"
	StateApproved        WorkflowState = "APPROVED"
	StateRejected        WorkflowState = "REJECTED"
	StateCancelled       WorkflowState = "CANCELLED"
)

// Terminal reports whether no further transitions are legal from s.
func (s WorkflowState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateCancelled
}

// ── Condition AST ─────────────────────────────────────────────────────────────

// NodeKind tags a ConditionNode variant.
type NodeKind string

const (
	NodeComparison NodeKind = "comparison"
	NodeAnd        NodeKind = "and"
	NodeOr         NodeKind = "or"
	NodeNot        NodeKind = "not"
)

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq       CompareOp = "eq"
	OpNeq      CompareOp = "neq"
	OpGt       CompareOp = "gt"
	OpLt       CompareOp = "lt"
	OpGte      CompareOp = "gte"
	OpLte      CompareOp = "lte"
	OpContains CompareOp = "contains"
	OpIn       CompareOp = "in"
	OpBetween  CompareOp = "between"
	OpExists   CompareOp = "exists"
	OpIsEmpty  CompareOp = "isEmpty"
)

// ConditionNode is one node of a rule's boolean expression tree. It is a
// closed tagged variant: Kind selects which of the remaining fields are
// meaningful. Trees are validated well-formed at rule-save time, so the
// evaluator can assume a known Kind and operator.
//
//   - comparison: Field (dotted path into the snapshot), Op, Value
//   - and / or:   Children
//   - not:        Child
type ConditionNode struct {
	Kind NodeKind `json:"kind"`

	Field string    `json:"field,omitempty"`
	Op    CompareOp `json:"op,omitempty"`
	Value any       `json:"value,omitempty"`

	Children []ConditionNode `json:"children,omitempty"`
	Child    *ConditionNode  `json:"child,omitempty"`
}

// ── Business rules ────────────────────────────────────────────────────────────

// BusinessRule is a configured condition+action pair evaluated against
// documents of one entity type. Rules are immutable within an evaluation
// pass: an edit mid-pass does not affect in-flight evaluation.
type BusinessRule struct {
	ID           string
	Name         string
	EntityType   EntityType
	RuleType     RuleType
	Condition    ConditionNode
	Action       RuleAction
	ActionParams map[string]any
	Severity     Severity
	Priority     int // lower = evaluated, and takes effect, first
	IsActive     bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// RuleOutcome records how one rule evaluated within a pass. Every active rule
// produces exactly one outcome, matched or not.
type RuleOutcome struct {
	RuleID   string     `json:"rule_id"`
	RuleName string     `json:"rule_name"`
	Matched  bool       `json:"matched"`
	Action   RuleAction `json:"action"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message,omitempty"`
}

// Decision is the aggregated result of one evaluation pass. Computed fresh
// per request, never cached.
type Decision struct {
	Outcomes         []RuleOutcome `json:"outcomes"`
	Blocked          bool          `json:"blocked"`
	RequiresApproval bool          `json:"requires_approval"`
	Warnings         []RuleOutcome `json:"warnings,omitempty"`
	Notifications    []RuleOutcome `json:"notifications,omitempty"`
}

// Violations returns the matched BLOCK outcomes.
func (d *Decision) Violations() []RuleOutcome {
	var out []RuleOutcome
	for _, o := range d.Outcomes {
		if o.Matched && o.Action == ActionBlock {
			out = append(out, o)
		}
	}
	return out
}

// ── Documents ─────────────────────────────────────────────────────────────────

// LineItem is one line of a workflow document's snapshot.
type LineItem struct {
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	LineAmount  int64   `json:"line_amount"`
	TaxAmount   int64   `json:"tax_amount,omitempty"`
}

// WorkflowDocument is the workflow-visible projection of an invoice or
// expense. The surrounding application owns the full document; the engine
// only reads this projection and advances Status/Version. Amounts are in
// paisa.
type WorkflowDocument struct {
	ID             string
	EntityType     EntityType
	Status         WorkflowState
	Version        int64 // optimistic-concurrency token, bumped on every transition
	Amount         int64
	Currency       string
	CounterpartyID *string
	SubmittedBy    *string
	CreatedBy      string
	LineItems      []LineItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot renders the document as the map the condition evaluator resolves
// dotted field paths against. Keys follow the rule-authoring contract:
// camelCase, matching the REST representation.
func (d *WorkflowDocument) Snapshot() map[string]any {
	lines := make([]any, 0, len(d.LineItems))
	for _, li := range d.LineItems {
		lines = append(lines, map[string]any{
			"description": li.Description,
			"category":    li.Category,
			"quantity":    li.Quantity,
			"unitPrice":   li.UnitPrice,
			"lineAmount":  li.LineAmount,
			"taxAmount":   li.TaxAmount,
		})
	}

	snap := map[string]any{
		"id":         d.ID,
		"entityType": string(d.EntityType),
		"status":     string(d.Status),
		"amount":     d.Amount,
		"currency":   d.Currency,
		"lineItems":  lines,
		"createdAt":  d.CreatedAt.Format(time.RFC3339),
	}
	if d.CounterpartyID != nil {
		snap["counterpartyId"] = *d.CounterpartyID
	}
	if d.SubmittedBy != nil {
		snap["submittedBy"] = *d.SubmittedBy
	}
	return snap
}

// ── Audit log ─────────────────────────────────────────────────────────────────

// AuditLogEntry is one immutable record in the workflow audit trail.
// Sequence is a per-(entityType, entityID) monotonically increasing counter
// assigned at write time, so ordering survives clock skew.
type AuditLogEntry struct {
	ID               string
	EntityType       EntityType
	EntityID         string
	ActorID          string
	Action           string
	BeforeState      WorkflowState
	AfterState       WorkflowState
	Reason           *string
	DecisionSnapshot *Decision
	Sequence         int64
	Timestamp        time.Time
}

// Audit actions.
const (
	AuditActionSubmitted     = "submitted"
	AuditActionAutoApproved  = "auto_approved"
	AuditActionSubmitBlocked = "submit_blocked"
	AuditActionApproved      = "approved"
	AuditActionRejected      = "rejected"
	AuditActionCancelled     = "cancelled"
	AuditActionReverted      = "reverted_to_draft"
)

// AuditFilter narrows audit log reads.
type AuditFilter struct {
	EntityType *EntityType
	EntityID   *string
	ActorID    *string
	Action     *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// ── Transitions ───────────────────────────────────────────────────────────────

// TransitionRecord describes one guarded state change plus the audit entry
// that must be persisted with it atomically. ExpectedVersion is the actor's
// last-observed version token; the store refuses the transition when the
// persisted version differs.
type TransitionRecord struct {
	EntityType      EntityType
	EntityID        string
	ExpectedVersion int64
	FromState       WorkflowState
	ToState         WorkflowState
	SetSubmittedBy  *string // populated on submission, cleared on reversion
	Entry           AuditLogEntry
}

// ── Actors ────────────────────────────────────────────────────────────────────

// Actor capabilities recognized by the transition guards.
const (
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

// Actor identifies who is requesting a transition.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the given capability.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
