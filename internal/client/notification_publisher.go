package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/repository"
)

// NotificationPublisher publishes workflow notification intents to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.workflow.<entity_type>.<event_type>
// Event types: rule_notify, submitted, auto_approved, submit_blocked,
//              approved, rejected, cancelled, reverted_to_draft
//
// All publishes are non-fatal: errors are logged but never propagated, so a
// broker outage never interrupts or rolls back a workflow operation.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationIntent is the JSON schema published to NATS.
type NotificationIntent struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	RuleID     string         `json:"rule_id,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Message    string         `json:"message,omitempty"`
	Category   string         `json:"category,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a no-op publisher.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log.With().Str("component", "notifications").Logger()}
}

// PublishRuleOutcomes emits one intent per matched NOTIFY rule outcome.
func (p *NotificationPublisher) PublishRuleOutcomes(ctx context.Context, entityType repository.EntityType, entityID, actorID string, outcomes []repository.RuleOutcome) {
	for _, outcome := range outcomes {
		p.publish(&NotificationIntent{
			EventType:  "rule_notify",
			EntityType: string(entityType),
			EntityID:   entityID,
			ActorID:    actorID,
			RuleID:     outcome.RuleID,
			Severity:   string(outcome.Severity),
			Message:    outcome.Message,
			Category:   "workflow_rule",
			Payload:    map[string]any{"rule_name": outcome.RuleName},
		})
	}
}

// PublishTransition emits one intent for a lifecycle event.
func (p *NotificationPublisher) PublishTransition(ctx context.Context, entityType repository.EntityType, entityID, actorID, eventType string, payload map[string]any) {
	p.publish(&NotificationIntent{
		EventType:  eventType,
		EntityType: string(entityType),
		EntityID:   entityID,
		ActorID:    actorID,
		Category:   "workflow_transition",
		Payload:    payload,
	})
}

func (p *NotificationPublisher) publish(intent *NotificationIntent) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(intent)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", intent.EventType).Msg("notification: failed to marshal intent")
		return
	}

	subject := fmt.Sprintf("notifications.workflow.%s.%s",
		strings.ToLower(intent.EntityType), intent.EventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", intent.EntityID).
			Msg("notification: failed to publish intent (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("entity_id", intent.EntityID).
		Msg("notification: intent published")
}
