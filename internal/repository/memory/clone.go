package memory

import (
	"fmt"
	"time"

	"github.com/finvera/be-ap-workflow/internal/repository"
)

func cloneInvoice(inv *repository.Invoice) *repository.Invoice {
	cp := *inv
	if inv.PurchaseOrder != nil {
		po := *inv.PurchaseOrder
		cp.PurchaseOrder = &po
	}
	cp.Attachments = append([]string(nil), inv.Attachments...)
	cp.Steps = make([]*repository.ApprovalStep, len(inv.Steps))
	for i, s := range inv.Steps {
		cp.Steps[i] = cloneStep(s)
	}
	return &cp
}

func cloneStep(s *repository.ApprovalStep) *repository.ApprovalStep {
	cp := *s
	if s.Comments != nil {
		c := *s.Comments
		cp.Comments = &c
	}
	if s.ActedAt != nil {
		t := *s.ActedAt
		cp.ActedAt = &t
	}
	if s.DelegatedTo != nil {
		d := *s.DelegatedTo
		cp.DelegatedTo = &d
	}
	return &cp
}

func cloneRule(r *repository.ApprovalRule) *repository.ApprovalRule {
	cp := *r
	if r.Conditions.MinAmount != nil {
		v := *r.Conditions.MinAmount
		cp.Conditions.MinAmount = &v
	}
	if r.Conditions.MaxAmount != nil {
		v := *r.Conditions.MaxAmount
		cp.Conditions.MaxAmount = &v
	}
	cp.Conditions.Vendors = append([]string(nil), r.Conditions.Vendors...)
	cp.Conditions.Departments = append([]string(nil), r.Conditions.Departments...)
	cp.Conditions.GLAccounts = append([]string(nil), r.Conditions.GLAccounts...)
	cp.Conditions.CostCenters = append([]string(nil), r.Conditions.CostCenters...)
	cp.Approvers = append([]repository.ApproverSpec(nil), r.Approvers...)
	return &cp
}

func cloneBatch(b *repository.PaymentBatch) *repository.PaymentBatch {
	cp := *b
	cp.InvoiceIDs = append([]string(nil), b.InvoiceIDs...)
	cp.Outcomes = append([]repository.InvoiceOutcome(nil), b.Outcomes...)
	if b.ApprovedAt != nil {
		t := *b.ApprovedAt
		cp.ApprovedAt = &t
	}
	if b.ProcessedAt != nil {
		t := *b.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

func cloneAudit(e *repository.AuditEntry) *repository.AuditEntry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func batchNumber(t time.Time, seq int) string {
	return fmt.Sprintf("BATCH-%s-%03d", t.Format("2006"), seq)
}
