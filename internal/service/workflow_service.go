package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/metrics"
	"github.com/lekhabook/be-workflow/internal/repository"
)

// TransitionStore persists document projections and applies guarded
// transitions atomically with their audit entries. Production wires the
// Postgres repository; tests substitute an in-memory fixture.
type TransitionStore interface {
	Create(ctx context.Context, doc *repository.WorkflowDocument) error
	GetDocument(ctx context.Context, entityType repository.EntityType, id string) (*repository.WorkflowDocument, error)
	ApplyTransition(ctx context.Context, rec *repository.TransitionRecord) error
}

// AuditAppender records audit entries that carry no state change (a refused
// submission still audits its evaluation pass).
type AuditAppender interface {
	Append(ctx context.Context, entry *repository.AuditLogEntry) error
}

// Transition action names, as exposed on the actions endpoint.
const (
	ActionNameSubmit  = "submitForApproval"
	ActionNameApprove = "approve"
	ActionNameReject  = "reject"
	ActionNameCancel  = "cancel"
	ActionNameEdit    = "edit"
)

// WorkflowService applies the guarded document lifecycle: it combines a
// policy decision with actor identity to move a document between states,
// enforcing the transition table, capability guards and optimistic
// concurrency. Every accepted transition writes exactly one audit entry in
// the same atomic unit of work.
type WorkflowService struct {
	store    TransitionStore
	audit    AuditAppender
	resolver *PolicyResolver
	notifier NotificationSink
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	store TransitionStore,
	audit AuditAppender,
	resolver *PolicyResolver,
	notifier NotificationSink,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		store:    store,
		audit:    audit,
		resolver: resolver,
		notifier: notifier,
		metrics:  m,
		log:      log.With().Str("component", "workflow").Logger(),
	}
}

// CreateDocument registers a document projection in DRAFT. Called by the
// owning application when an invoice or expense is created.
func (s *WorkflowService) CreateDocument(ctx context.Context, doc *repository.WorkflowDocument) error {
	if !doc.EntityType.Valid() {
		return errors.InvalidInput("entity_type", "entity type must be INVOICE or EXPENSE")
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return err
	}

	s.log.Info().
		Str("entity_type", string(doc.EntityType)).
		Str("entity_id", doc.ID).
		Msg("Workflow document registered")
	return nil
}

// SubmitResult is the outcome of a submission attempt.
type SubmitResult struct {
	Status       repository.WorkflowState `json:"status"`
	Blocked      bool                     `json:"blocked"`
	AutoApproved bool                     `json:"auto_approved"`
	Decision     *repository.Decision     `json:"decision"`
}

// SubmitForApproval evaluates policy for a DRAFT document and applies the
// resulting transition: PENDING_APPROVAL when a rule requires approval,
// APPROVED directly when none does, or no transition at all when a BLOCK
// rule matched (the caller receives the violation list in the result).
func (s *WorkflowService) SubmitForApproval(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor) (*SubmitResult, error) {
	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != repository.StateDraft {
		return nil, errors.InvalidTransition(string(doc.Status), string(repository.StatePendingApproval))
	}

	decision, err := s.resolver.EvaluateDocument(ctx, entityType, doc.Snapshot())
	if err != nil {
		return nil, err
	}

	if decision.Blocked {
		// No transition occurs: the pass is still audited, and NOTIFY
		// outcomes still go out.
		s.appendAudit(ctx, &repository.AuditLogEntry{
			EntityType:       entityType,
			EntityID:         id,
			ActorID:          actor.ID,
			Action:           repository.AuditActionSubmitBlocked,
			BeforeState:      repository.StateDraft,
			AfterState:       repository.StateDraft,
			DecisionSnapshot: decision,
		})
		s.metrics.Blocked(string(entityType))
		s.dispatchNotifications(ctx, entityType, id, actor.ID, decision)

		s.log.Info().
			Str("entity_type", string(entityType)).
			Str("entity_id", id).
			Int("violations", len(decision.Violations())).
			Msg("Submission blocked by policy")

		return &SubmitResult{Status: repository.StateDraft, Blocked: true, Decision: decision}, nil
	}

	target := repository.StateApproved
	action := repository.AuditActionAutoApproved
	var reason *string
	if decision.RequiresApproval {
		target = repository.StatePendingApproval
		action = repository.AuditActionSubmitted
	} else {
		r := "no-approval-required"
		reason = &r
	}

	rec := &repository.TransitionRecord{
		EntityType:      entityType,
		EntityID:        id,
		ExpectedVersion: doc.Version,
		FromState:       repository.StateDraft,
		ToState:         target,
		SetSubmittedBy:  &actor.ID,
		Entry: repository.AuditLogEntry{
			EntityType:       entityType,
			EntityID:         id,
			ActorID:          actor.ID,
			Action:           action,
			BeforeState:      repository.StateDraft,
			AfterState:       target,
			Reason:           reason,
			DecisionSnapshot: decision,
		},
	}
	if err := s.store.ApplyTransition(ctx, rec); err != nil {
		return nil, err
	}

	s.metrics.Transition(string(entityType), action)
	s.dispatchNotifications(ctx, entityType, id, actor.ID, decision)

	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", id).
		Str("submitted_by", actor.ID).
		Str("new_state", string(target)).
		Msg("Document submitted for approval")

	return &SubmitResult{
		Status:       target,
		AutoApproved: target == repository.StateApproved,
		Decision:     decision,
	}, nil
}

// Approve moves a PENDING_APPROVAL document to APPROVED. The actor must hold
// the approver capability and must not be the submitter. expectedVersion is
// the actor's last-observed version token; zero means "as loaded".
func (s *WorkflowService) Approve(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor, expectedVersion int64) error {
	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return err
	}
	if doc.Status != repository.StatePendingApproval {
		return errors.InvalidTransition(string(doc.Status), string(repository.StateApproved))
	}
	if !actor.HasRole(repository.RoleApprover) {
		return errors.Unauthorized("approver capability required").
			WithDetail("actor_id", actor.ID)
	}
	if doc.SubmittedBy != nil && *doc.SubmittedBy == actor.ID {
		return errors.Unauthorized("submitter cannot approve their own document").
			WithDetail("actor_id", actor.ID)
	}

	rec := s.transitionRecord(doc, actor, repository.StateApproved, repository.AuditActionApproved, nil, expectedVersion)
	if err := s.store.ApplyTransition(ctx, rec); err != nil {
		return err
	}

	s.metrics.Transition(string(entityType), repository.AuditActionApproved)
	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", id).
		Str("approved_by", actor.ID).
		Msg("Document approved")
	return nil
}

// Reject moves a PENDING_APPROVAL document to REJECTED. A non-empty reason
// is required.
func (s *WorkflowService) Reject(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor, reason string, expectedVersion int64) error {
	if reason == "" {
		return errors.InvalidInput("reason", "rejection reason is required")
	}

	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return err
	}
	if doc.Status != repository.StatePendingApproval {
		return errors.InvalidTransition(string(doc.Status), string(repository.StateRejected))
	}

	rec := s.transitionRecord(doc, actor, repository.StateRejected, repository.AuditActionRejected, &reason, expectedVersion)
	if err := s.store.ApplyTransition(ctx, rec); err != nil {
		return err
	}

	s.metrics.Transition(string(entityType), repository.AuditActionRejected)
	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", id).
		Str("rejected_by", actor.ID).
		Msg("Document rejected")
	return nil
}

// Cancel moves a DRAFT or PENDING_APPROVAL document to CANCELLED. Only the
// submitter (or creator, for never-submitted drafts) and admins may cancel.
func (s *WorkflowService) Cancel(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor, expectedVersion int64) error {
	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !CanTransition(doc.Status, repository.StateCancelled) {
		return errors.InvalidTransition(string(doc.Status), string(repository.StateCancelled))
	}
	if !canCancel(doc, actor) {
		return errors.Unauthorized("only the submitter or an admin can cancel the document").
			WithDetail("actor_id", actor.ID)
	}

	rec := s.transitionRecord(doc, actor, repository.StateCancelled, repository.AuditActionCancelled, nil, expectedVersion)
	if err := s.store.ApplyTransition(ctx, rec); err != nil {
		return err
	}

	s.metrics.Transition(string(entityType), repository.AuditActionCancelled)
	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", id).
		Str("cancelled_by", actor.ID).
		Msg("Document cancelled")
	return nil
}

// MarkEdited records that a document's fields were mutated. A document in
// PENDING_APPROVAL reverts to DRAFT, invalidating the prior decision so the
// rules run again on resubmission; a DRAFT document is a no-op. Terminal
// documents cannot be edited.
func (s *WorkflowService) MarkEdited(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor) error {
	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return err
	}

	switch doc.Status {
	case repository.StateDraft:
		return nil
	case repository.StatePendingApproval:
		// fall through to the reversion below
	default:
		return errors.InvalidTransition(string(doc.Status), string(repository.StateDraft))
	}

	cleared := ""
	rec := &repository.TransitionRecord{
		EntityType:      entityType,
		EntityID:        id,
		ExpectedVersion: doc.Version,
		FromState:       doc.Status,
		ToState:         repository.StateDraft,
		SetSubmittedBy:  &cleared,
		Entry: repository.AuditLogEntry{
			EntityType:  entityType,
			EntityID:    id,
			ActorID:     actor.ID,
			Action:      repository.AuditActionReverted,
			BeforeState: doc.Status,
			AfterState:  repository.StateDraft,
		},
	}
	if err := s.store.ApplyTransition(ctx, rec); err != nil {
		return err
	}

	s.metrics.Transition(string(entityType), repository.AuditActionReverted)
	s.log.Info().
		Str("entity_type", string(entityType)).
		Str("entity_id", id).
		Str("edited_by", actor.ID).
		Msg("Pending document edited; reverted to draft")
	return nil
}

// Transition is the generic entry point parameterized by target state. It
// dispatches to the named transitions so every guard still applies.
func (s *WorkflowService) Transition(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor, target repository.WorkflowState, reason string, expectedVersion int64) (*SubmitResult, error) {
	switch target {
	case repository.StatePendingApproval:
		return s.SubmitForApproval(ctx, entityType, id, actor)
	case repository.StateApproved:
		return nil, s.Approve(ctx, entityType, id, actor, expectedVersion)
	case repository.StateRejected:
		return nil, s.Reject(ctx, entityType, id, actor, reason, expectedVersion)
	case repository.StateCancelled:
		return nil, s.Cancel(ctx, entityType, id, actor, expectedVersion)
	case repository.StateDraft:
		return nil, s.MarkEdited(ctx, entityType, id, actor)
	default:
		return nil, errors.InvalidInput("target_state", "unknown target state")
	}
}

// LegalActions returns the transitions currently legal for the actor on the
// document, derived from the lifecycle table and the per-transition guards.
func (s *WorkflowService) LegalActions(ctx context.Context, entityType repository.EntityType, id string, actor repository.Actor) ([]string, error) {
	doc, err := s.store.GetDocument(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	actions := []string{}
	switch doc.Status {
	case repository.StateDraft:
		actions = append(actions, ActionNameSubmit, ActionNameEdit)
		if canCancel(doc, actor) {
			actions = append(actions, ActionNameCancel)
		}
	case repository.StatePendingApproval:
		if actor.HasRole(repository.RoleApprover) && (doc.SubmittedBy == nil || *doc.SubmittedBy != actor.ID) {
			actions = append(actions, ActionNameApprove)
		}
		actions = append(actions, ActionNameReject, ActionNameEdit)
		if canCancel(doc, actor) {
			actions = append(actions, ActionNameCancel)
		}
	}
	return actions, nil
}

// GetDocument exposes the projection for read endpoints.
func (s *WorkflowService) GetDocument(ctx context.Context, entityType repository.EntityType, id string) (*repository.WorkflowDocument, error) {
	return s.store.GetDocument(ctx, entityType, id)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func canCancel(doc *repository.WorkflowDocument, actor repository.Actor) bool {
	if actor.HasRole(repository.RoleAdmin) {
		return true
	}
	if doc.SubmittedBy != nil {
		return *doc.SubmittedBy == actor.ID
	}
	return doc.CreatedBy == actor.ID
}

func (s *WorkflowService) transitionRecord(
	doc *repository.WorkflowDocument,
	actor repository.Actor,
	target repository.WorkflowState,
	action string,
	reason *string,
	expectedVersion int64,
) *repository.TransitionRecord {
	if expectedVersion == 0 {
		expectedVersion = doc.Version
	}
	return &repository.TransitionRecord{
		EntityType:      doc.EntityType,
		EntityID:        doc.ID,
		ExpectedVersion: expectedVersion,
		FromState:       doc.Status,
		ToState:         target,
		Entry: repository.AuditLogEntry{
			EntityType:  doc.EntityType,
			EntityID:    doc.ID,
			ActorID:     actor.ID,
			Action:      action,
			BeforeState: doc.Status,
			AfterState:  target,
			Reason:      reason,
		},
	}
}

// appendAudit writes a pass-level audit entry and logs a warning on failure.
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditLogEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("entity_id", entry.EntityID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// dispatchNotifications hands NOTIFY outcomes to the external dispatcher.
// Best-effort: the sink never fails the operation.
func (s *WorkflowService) dispatchNotifications(ctx context.Context, entityType repository.EntityType, id, actorID string, decision *repository.Decision) {
	if s.notifier == nil || len(decision.Notifications) == 0 {
		return
	}
	s.notifier.PublishRuleOutcomes(ctx, entityType, id, actorID, decision.Notifications)
}
