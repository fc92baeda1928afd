package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/repository"
)

type stubAuditReader struct {
	entries []*repository.AuditLogEntry
}

func (s *stubAuditReader) HistoryFor(_ context.Context, _ repository.EntityType, _ string) ([]*repository.AuditLogEntry, error) {
	return s.entries, nil
}

func (s *stubAuditReader) List(_ context.Context, _ repository.AuditFilter) ([]*repository.AuditLogEntry, error) {
	return s.entries, nil
}

func auditEntry(entityType repository.EntityType, entityID, action string, at time.Time) *repository.AuditLogEntry {
	return &repository.AuditLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Timestamp:  at,
	}
}

func TestComplianceReport(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	// Newest first, the order the repository returns.
	entries := []*repository.AuditLogEntry{
		auditEntry(repository.EntityExpense, "exp-1", repository.AuditActionAutoApproved, base.Add(5*time.Hour)),
		auditEntry(repository.EntityInvoice, "inv-2", repository.AuditActionRejected, base.Add(4*time.Hour)),
		auditEntry(repository.EntityInvoice, "inv-2", repository.AuditActionSubmitted, base.Add(3*time.Hour)),
		auditEntry(repository.EntityInvoice, "inv-1", repository.AuditActionApproved, base.Add(2*time.Hour)),
		auditEntry(repository.EntityInvoice, "inv-3", repository.AuditActionSubmitBlocked, base.Add(time.Hour)),
		auditEntry(repository.EntityInvoice, "inv-1", repository.AuditActionSubmitted, base),
	}

	svc := NewAuditService(&stubAuditReader{entries: entries}, zerolog.Nop())
	report, err := svc.ComplianceReport(context.Background(), repository.AuditFilter{})
	if err != nil {
		t.Fatalf("ComplianceReport() error = %v", err)
	}

	if report.TotalEntries != 6 {
		t.Errorf("total = %d, want 6", report.TotalEntries)
	}
	if report.ByEntityType[repository.EntityInvoice] != 5 || report.ByEntityType[repository.EntityExpense] != 1 {
		t.Errorf("by entity type = %v", report.ByEntityType)
	}
	if report.ByAction[repository.AuditActionSubmitted] != 2 {
		t.Errorf("submitted count = %d, want 2", report.ByAction[repository.AuditActionSubmitted])
	}
	if report.BlockedSubmissions != 1 {
		t.Errorf("blocked = %d, want 1", report.BlockedSubmissions)
	}
	if report.AutoApprovals != 1 {
		t.Errorf("auto approvals = %d, want 1", report.AutoApprovals)
	}
	if report.Rejections != 1 {
		t.Errorf("rejections = %d, want 1", report.Rejections)
	}

	// Only inv-1 completed a submit-approve pair: 2h latency.
	if report.ApprovalLatency == nil {
		t.Fatal("approval latency missing")
	}
	if report.ApprovalLatency.Count != 1 {
		t.Errorf("latency count = %d, want 1", report.ApprovalLatency.Count)
	}
	if report.ApprovalLatency.Average != 2*time.Hour || report.ApprovalLatency.Max != 2*time.Hour {
		t.Errorf("latency = %+v, want 2h average and max", report.ApprovalLatency)
	}
}

func TestComplianceReportEmpty(t *testing.T) {
	svc := NewAuditService(&stubAuditReader{}, zerolog.Nop())

	report, err := svc.ComplianceReport(context.Background(), repository.AuditFilter{})
	if err != nil {
		t.Fatalf("ComplianceReport() error = %v", err)
	}
	if report.TotalEntries != 0 || report.ApprovalLatency != nil {
		t.Errorf("report = %+v, want empty", report)
	}
}
