package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/repository"
)

// AuditReader is the read side of the audit store. Reads are pure reducers
// over stored entries: they never mutate state and are safe to run
// concurrently with writes.
type AuditReader interface {
	HistoryFor(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.AuditLogEntry, error)
	List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLogEntry, error)
}

// AuditService exposes audit trail reads and compliance aggregation.
type AuditService struct {
	reader AuditReader
	log    zerolog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(reader AuditReader, log zerolog.Logger) *AuditService {
	return &AuditService{reader: reader, log: log.With().Str("component", "audit").Logger()}
}

// HistoryFor returns one entity's trail ordered by sequence.
func (s *AuditService) HistoryFor(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.AuditLogEntry, error) {
	return s.reader.HistoryFor(ctx, entityType, entityID)
}

// List returns entries matching the filter.
func (s *AuditService) List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLogEntry, error) {
	return s.reader.List(ctx, filter)
}

// ComplianceReport aggregates audit entries for compliance review.
type ComplianceReport struct {
	GeneratedAt        time.Time                             `json:"generated_at"`
	TotalEntries       int                                   `json:"total_entries"`
	ByEntityType       map[repository.EntityType]int         `json:"by_entity_type"`
	ByAction           map[string]int                        `json:"by_action"`
	BlockedSubmissions int                                   `json:"blocked_submissions"`
	AutoApprovals      int                                   `json:"auto_approvals"`
	Rejections         int                                   `json:"rejections"`
	ApprovalLatency    *LatencyStats                         `json:"approval_latency,omitempty"`
}

// LatencyStats summarizes submission-to-approval durations.
type LatencyStats struct {
	Count   int           `json:"count"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
}

// ComplianceReport reduces the entries matching the filter into aggregate
// counts plus submission-to-approval latency. Deterministic for a fixed set
// of entries.
func (s *AuditService) ComplianceReport(ctx context.Context, filter repository.AuditFilter) (*ComplianceReport, error) {
	// Reports reduce over the full matching window.
	if filter.Limit <= 0 {
		filter.Limit = 1000
	}
	entries, err := s.reader.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		GeneratedAt:  time.Now().UTC(),
		TotalEntries: len(entries),
		ByEntityType: make(map[repository.EntityType]int),
		ByAction:     make(map[string]int),
	}

	// Track submission times per entity to derive approval latency.
	type entityKey struct {
		t  repository.EntityType
		id string
	}
	submittedAt := make(map[entityKey]time.Time)
	var latencies []time.Duration

	// Entries arrive newest-first; walk oldest-first so submissions precede
	// their approvals.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		report.ByEntityType[e.EntityType]++
		report.ByAction[e.Action]++

		key := entityKey{e.EntityType, e.EntityID}
		switch e.Action {
		case repository.AuditActionSubmitted:
			submittedAt[key] = e.Timestamp
		case repository.AuditActionSubmitBlocked:
			report.BlockedSubmissions++
		case repository.AuditActionAutoApproved:
			report.AutoApprovals++
		case repository.AuditActionRejected:
			report.Rejections++
			delete(submittedAt, key)
		case repository.AuditActionApproved:
			if t, ok := submittedAt[key]; ok {
				latencies = append(latencies, e.Timestamp.Sub(t))
				delete(submittedAt, key)
			}
		case repository.AuditActionReverted, repository.AuditActionCancelled:
			delete(submittedAt, key)
		}
	}

	if len(latencies) > 0 {
		stats := &LatencyStats{Count: len(latencies)}
		var total time.Duration
		for _, d := range latencies {
			total += d
			if d > stats.Max {
				stats.Max = d
			}
		}
		stats.Average = total / time.Duration(len(latencies))
		report.ApprovalLatency = stats
	}

	return report, nil
}
