package service

import (
	"context"
	"strings"
	"time"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// legalTransitions is the invoice lifecycle. A missing entry means the
// transition is illegal and must be rejected before any state mutation.
var legalTransitions = map[repository.InvoiceStatus][]repository.InvoiceStatus{
	repository.InvoiceDraft:           {repository.InvoicePendingApproval},
	repository.InvoicePendingApproval: {repository.InvoiceApproved, repository.InvoiceRejected, repository.InvoiceOnHold, repository.InvoiceDisputed},
	repository.InvoiceApproved:        {repository.InvoiceOnHold, repository.InvoiceDisputed, repository.InvoicePartiallyPaid, repository.InvoicePaid},
	repository.InvoiceOnHold:          {repository.InvoicePendingApproval, repository.InvoiceApproved, repository.InvoiceRejected},
	repository.InvoiceDisputed:        {repository.InvoiceApproved, repository.InvoiceRejected},
	repository.InvoicePartiallyPaid:   {repository.InvoicePaid},
}

func canTransition(from, to repository.InvoiceStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// InvoiceService owns the invoice's top-level status and legal transitions.
// Mutating operations serialize per invoice id through the shared locker.
type InvoiceService struct {
	stores   *repository.Stores
	locks    *lock.KeyLocker
	vendors  client.VendorMaster
	accounts client.AccountsValidator
	dir      client.OrgDirectory
	notify   *client.NotificationPublisher
	log      *logger.Logger
}

func NewInvoiceService(
	stores *repository.Stores,
	locks *lock.KeyLocker,
	vendors client.VendorMaster,
	accounts client.AccountsValidator,
	dir client.OrgDirectory,
	notify *client.NotificationPublisher,
	log *logger.Logger,
) *InvoiceService {
	return &InvoiceService{
		stores:   stores,
		locks:    locks,
		vendors:  vendors,
		accounts: accounts,
		dir:      dir,
		notify:   notify,
		log:      log,
	}
}

// CreateInvoiceRequest carries a new draft invoice. Amounts are cents.
type CreateInvoiceRequest struct {
	InvoiceNumber  string              `json:"invoice_number"`
	VendorID       string              `json:"vendor_id"`
	PurchaseOrder  *string             `json:"purchase_order,omitempty"`
	InvoiceDate    string              `json:"invoice_date"`
	DueDate        string              `json:"due_date"`
	GrossAmount    int64               `json:"gross_amount"`
	TaxAmount      int64               `json:"tax_amount"`
	DiscountAmount int64               `json:"discount_amount"`
	GLAccount      string              `json:"gl_account"`
	CostCenter     string              `json:"cost_center"`
	Department     string              `json:"department"`
	Priority       repository.Priority `json:"priority"`
	Description    string              `json:"description,omitempty"`
	Attachments    []string            `json:"attachments,omitempty"`
	CreatedBy      string              `json:"created_by"`
}

// Create validates and stores a draft invoice. The net amount is derived, not
// accepted from the caller, so the net = gross + tax - discount invariant
// holds from the first write.
func (s *InvoiceService) Create(ctx context.Context, req *CreateInvoiceRequest) (*repository.Invoice, error) {
	if req.InvoiceNumber == "" {
		return nil, apperr.InvalidInput("invoice_number", "is required")
	}
	if req.VendorID == "" {
		return nil, apperr.InvalidInput("vendor_id", "is required")
	}
	if req.GrossAmount < 0 || req.TaxAmount < 0 || req.DiscountAmount < 0 {
		return nil, apperr.InvalidInput("amounts", "must not be negative")
	}
	for _, d := range []struct{ field, value string }{
		{"invoice_date", req.InvoiceDate},
		{"due_date", req.DueDate},
	} {
		if _, err := time.Parse("2006-01-02", d.value); err != nil {
			return nil, apperr.InvalidInput(d.field, "invalid date format, expected YYYY-MM-DD")
		}
	}
	if req.DueDate < req.InvoiceDate {
		return nil, apperr.InvalidInput("due_date", "due date cannot be before invoice date")
	}

	net := req.GrossAmount + req.TaxAmount - req.DiscountAmount
	if net < 0 {
		return nil, apperr.InvalidInput("discount_amount", "discount exceeds gross plus tax")
	}

	priority := req.Priority
	if priority == "" {
		priority = repository.PriorityMedium
	}
	switch priority {
	case repository.PriorityLow, repository.PriorityMedium, repository.PriorityHigh, repository.PriorityUrgent:
	default:
		return nil, apperr.InvalidInput("priority", "must be low, medium, high or urgent")
	}

	inv := &repository.Invoice{
		InvoiceNumber:  strings.TrimSpace(req.InvoiceNumber),
		VendorID:       req.VendorID,
		PurchaseOrder:  req.PurchaseOrder,
		InvoiceDate:    req.InvoiceDate,
		DueDate:        req.DueDate,
		GrossAmount:    req.GrossAmount,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		NetAmount:      net,
		GLAccount:      req.GLAccount,
		CostCenter:     req.CostCenter,
		Department:     req.Department,
		Priority:       priority,
		Description:    req.Description,
		Attachments:    req.Attachments,
		Status:         repository.InvoiceDraft,
		CreatedBy:      req.CreatedBy,
	}

	if err := s.stores.Invoices.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("invoice_number", inv.InvoiceNumber).
		Str("vendor_id", inv.VendorID).
		Int64("net_amount", inv.NetAmount).
		Msg("Invoice created")

	return inv, nil
}

// Submit validates the invoice, selects its approval rule, materializes the
// chain and moves the invoice to pending_approval. Submission fails before
// any mutation when required fields are missing, the vendor is not active,
// the GL account / cost center pair is invalid, or no rule matches.
func (s *InvoiceService) Submit(ctx context.Context, invoiceID, actor string) (*repository.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != repository.InvoiceDraft {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot submit invoice with status %q", inv.Status)
	}

	if inv.GLAccount == "" {
		return nil, apperr.InvalidInput("gl_account", "is required for submission")
	}
	if inv.CostCenter == "" {
		return nil, apperr.InvalidInput("cost_center", "is required for submission")
	}
	if inv.NetAmount <= 0 {
		return nil, apperr.InvalidInput("net_amount", "must be positive for submission")
	}
	if inv.NetAmount != inv.GrossAmount+inv.TaxAmount-inv.DiscountAmount {
		return nil, apperr.InvalidInput("net_amount", "does not equal gross + tax - discount")
	}

	vendor, err := s.vendors.GetVendor(ctx, inv.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor.Status != "active" {
		return nil, apperr.Newf(apperr.ErrCodeValidation,
			"vendor %q is %s; only active vendors can be invoiced", vendor.Name, vendor.Status)
	}

	valid, err := s.accounts.IsValidAccount(ctx, inv.GLAccount, inv.CostCenter)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, apperr.Newf(apperr.ErrCodeValidation,
			"gl account %q / cost center %q is not a valid combination", inv.GLAccount, inv.CostCenter)
	}

	rules, err := s.stores.Rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	rule, err := MatchRule(inv, rules)
	if err != nil {
		return nil, err
	}

	steps, err := buildChain(ctx, s.dir, inv, rule)
	if err != nil {
		return nil, err
	}

	inv.Steps = steps
	inv.RuleID = rule.ID
	prev := inv.Status
	inv.Status = repository.InvoicePendingApproval

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	if err := s.stores.Rules.MarkUsed(ctx, rule.ID); err != nil {
		s.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("Failed to mark rule as used")
	}

	s.audit(ctx, inv, prev, "submitted", actor, "")
	s.notify.PublishInvoiceEvent("invoice_submitted", inv.ID, actor,
		[]string{inv.CurrentApprover()},
		map[string]any{"invoice_number": inv.InvoiceNumber, "net_amount": inv.NetAmount})

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("rule_id", rule.ID).
		Int("total_steps", len(steps)).
		Str("submitted_by", actor).
		Msg("Invoice submitted for approval")

	return inv, nil
}

// Hold pauses an invoice. Valid from approved or pending_approval; holding an
// already-held invoice is a no-op, not an error.
func (s *InvoiceService) Hold(ctx context.Context, invoiceID, actor, reason string) (*repository.Invoice, error) {
	return s.pause(ctx, invoiceID, actor, reason, repository.InvoiceOnHold, "hold", "held")
}

// Dispute flags an invoice. Same validity and idempotence rules as Hold.
func (s *InvoiceService) Dispute(ctx context.Context, invoiceID, actor, reason string) (*repository.Invoice, error) {
	return s.pause(ctx, invoiceID, actor, reason, repository.InvoiceDisputed, "dispute", "disputed")
}

func (s *InvoiceService) pause(ctx context.Context, invoiceID, actor, reason string, to repository.InvoiceStatus, verb, action string) (*repository.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == to {
		return inv, nil
	}
	if inv.Status != repository.InvoiceApproved && inv.Status != repository.InvoicePendingApproval {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot %s invoice with status %q", verb, inv.Status)
	}

	prev := inv.Status
	inv.PriorStatus = prev
	inv.Status = to

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.audit(ctx, inv, prev, action, actor, reason)
	return inv, nil
}

// Resume restores the status an invoice held before it was put on hold.
func (s *InvoiceService) Resume(ctx context.Context, invoiceID, actor string) (*repository.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != repository.InvoiceOnHold {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot resume invoice with status %q", inv.Status)
	}

	target := inv.PriorStatus
	if target == "" {
		target = repository.InvoicePendingApproval
	}
	if !canTransition(inv.Status, target) {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"illegal resume transition %s -> %s", inv.Status, target)
	}

	prev := inv.Status
	inv.Status = target
	inv.PriorStatus = ""

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.audit(ctx, inv, prev, "resumed", actor, "")
	return inv, nil
}

// Reject terminally rejects a held invoice, for holds that end in refusal
// rather than a resume. A reason is required.
func (s *InvoiceService) Reject(ctx context.Context, invoiceID, actor, reason string) (*repository.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != repository.InvoiceOnHold {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot reject invoice with status %q", inv.Status)
	}
	if reason == "" {
		return nil, apperr.InvalidInput("reason", "is required to reject a held invoice")
	}

	prev := inv.Status
	inv.Status = repository.InvoiceRejected
	inv.PriorStatus = ""

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.audit(ctx, inv, prev, "rejected", actor, reason)
	s.notify.PublishInvoiceEvent("invoice_rejected", inv.ID, actor,
		[]string{inv.CreatedBy}, map[string]any{"invoice_number": inv.InvoiceNumber, "reason": reason})

	return inv, nil
}

// ResolveDispute settles a disputed invoice: upheld disputes reject it,
// resolved ones restore approved.
func (s *InvoiceService) ResolveDispute(ctx context.Context, invoiceID, actor string, upheld bool, comment string) (*repository.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != repository.InvoiceDisputed {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot resolve dispute on invoice with status %q", inv.Status)
	}

	prev := inv.Status
	if upheld {
		inv.Status = repository.InvoiceRejected
	} else {
		inv.Status = repository.InvoiceApproved
	}
	inv.PriorStatus = ""

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.audit(ctx, inv, prev, "dispute_resolved", actor, comment)
	return inv, nil
}

// Archive soft-archives a paid invoice past its retention period. Archived
// invoices drop out of listings but remain readable by id for audit.
func (s *InvoiceService) Archive(ctx context.Context, invoiceID, actor string) error {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != repository.InvoicePaid {
		return apperr.Newf(apperr.ErrCodeConflict,
			"only paid invoices can be archived, status is %q", inv.Status)
	}
	if inv.Archived {
		return nil
	}

	inv.Archived = true
	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return err
	}

	s.audit(ctx, inv, inv.Status, "archived", actor, "")
	return nil
}

// Get returns one invoice by id.
func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	return s.stores.Invoices.Get(ctx, invoiceID)
}

// List returns invoices matching the filter.
func (s *InvoiceService) List(ctx context.Context, f repository.InvoiceFilter) ([]*repository.Invoice, error) {
	return s.stores.Invoices.List(ctx, f)
}

// History returns the invoice's full audit trail, oldest first.
func (s *InvoiceService) History(ctx context.Context, invoiceID string) ([]*repository.AuditEntry, error) {
	return s.stores.Audit.ListByEntity(ctx, "invoice", invoiceID)
}

func (s *InvoiceService) audit(ctx context.Context, inv *repository.Invoice, prev repository.InvoiceStatus, action, actor, comment string) {
	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "invoice",
		EntityID:   inv.ID,
		PrevStatus: string(prev),
		NewStatus:  string(inv.Status),
		Action:     action,
		Actor:      actor,
		Comment:    comment,
		Metadata:   map[string]any{"invoice_number": inv.InvoiceNumber},
	})
}

// appendAudit writes an audit entry and logs a warning on failure; audit
// write errors never fail the underlying operation.
func appendAudit(ctx context.Context, store repository.AuditStore, log *logger.Logger, e *repository.AuditEntry) {
	if err := store.Append(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("entity_id", e.EntityID).
			Str("action", e.Action).
			Msg("Failed to write audit log entry")
	}
}
