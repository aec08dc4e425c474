// Package repository defines the engine's persisted aggregates and the store
// interfaces they are read and written through. Two implementations exist:
// memory (arena store with optimistic versioning) and postgres.
package repository

import "time"

// ── Status enums ─────────────────────────────────────────────────────────────

// InvoiceStatus is the invoice's top-level lifecycle state.
type InvoiceStatus string

const (
	InvoiceDraft           InvoiceStatus = "draft"
	InvoicePendingApproval InvoiceStatus = "pending_approval"
	InvoiceApproved        InvoiceStatus = "approved"
	InvoiceRejected        InvoiceStatus = "rejected"
	InvoiceOnHold          InvoiceStatus = "on_hold"
	InvoiceDisputed        InvoiceStatus = "disputed"
	InvoicePartiallyPaid   InvoiceStatus = "partially_paid"
	InvoicePaid            InvoiceStatus = "paid"
)

// Terminal reports whether no further transitions are legal from s.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceRejected || s == InvoicePaid
}

// Payable reports whether an invoice in status s may join a payment batch.
// A partially paid invoice stays payable for its remaining balance.
func (s InvoiceStatus) Payable() bool {
	return s == InvoiceApproved || s == InvoicePartiallyPaid
}

// StepAction is the state of a single approval step.
type StepAction string

const (
	StepPending   StepAction = "pending"
	StepApproved  StepAction = "approved"
	StepRejected  StepAction = "rejected"
	StepDelegated StepAction = "delegated"
)

// Priority is the invoice's processing priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// BatchStatus is the payment batch lifecycle state.
type BatchStatus string

const (
	BatchDraft           BatchStatus = "draft"
	BatchPendingApproval BatchStatus = "pending_approval"
	BatchApproved        BatchStatus = "approved"
	BatchProcessed       BatchStatus = "processed"
	BatchFailed          BatchStatus = "failed"
	BatchCancelled       BatchStatus = "cancelled"
)

// PaymentMethod is how a batch is settled.
type PaymentMethod string

const (
	MethodACH   PaymentMethod = "ach"
	MethodWire  PaymentMethod = "wire"
	MethodCheck PaymentMethod = "check"
	MethodCard  PaymentMethod = "card"
)

// ── Aggregates ───────────────────────────────────────────────────────────────

// ApprovalStep is one step of an invoice's approval chain. Step numbers are
// 1-based and contiguous; the lowest-numbered pending step is the only one an
// approver may act on.
type ApprovalStep struct {
	ID           string     `json:"id"`
	StepNumber   int        `json:"step_number"`
	Role         string     `json:"role"`
	ApproverID   string     `json:"approver_id"`
	ApproverName string     `json:"approver_name,omitempty"`
	Action       StepAction `json:"action"`
	Comments     *string    `json:"comments,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
	DelegatedTo  *string    `json:"delegated_to,omitempty"`
	// Threshold is the largest net amount (cents) this step may finally
	// approve. Zero means unlimited.
	Threshold int64 `json:"threshold"`
}

// Invoice is the engine's central aggregate. Once it leaves draft it is
// immutable except for status, approval-step fields, batch attachment and
// payment bookkeeping.
type Invoice struct {
	ID             string   `json:"id"`
	InvoiceNumber  string   `json:"invoice_number"`
	VendorID       string   `json:"vendor_id"`
	PurchaseOrder  *string  `json:"purchase_order,omitempty"`
	InvoiceDate    string   `json:"invoice_date"` // YYYY-MM-DD
	DueDate        string   `json:"due_date"`     // YYYY-MM-DD
	GrossAmount    int64    `json:"gross_amount"` // cents
	TaxAmount      int64    `json:"tax_amount"`
	DiscountAmount int64    `json:"discount_amount"`
	NetAmount      int64    `json:"net_amount"` // gross + tax - discount
	GLAccount      string   `json:"gl_account"`
	CostCenter     string   `json:"cost_center"`
	Department     string   `json:"department"`
	Priority       Priority `json:"priority"`
	Description    string   `json:"description,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`

	Status InvoiceStatus   `json:"status"`
	Steps  []*ApprovalStep `json:"steps,omitempty"`
	// RuleID records which rule built the chain, for audit reproducibility.
	RuleID string `json:"rule_id,omitempty"`
	// PriorStatus is the status to restore when a hold or dispute resolves.
	PriorStatus InvoiceStatus `json:"prior_status,omitempty"`
	// OpenBatchID is the open payment batch this invoice is attached to.
	// Empty when unattached. Attachment is a compare-and-set on this field.
	OpenBatchID string `json:"open_batch_id,omitempty"`
	AmountPaid  int64  `json:"amount_paid"`
	Archived    bool   `json:"archived"`

	// Version is the optimistic concurrency token; every successful write
	// increments it.
	Version   int64     `json:"version"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentStep returns the lowest-numbered pending step, or nil when the chain
// is finished or rejected.
func (inv *Invoice) CurrentStep() *ApprovalStep {
	for _, s := range inv.Steps {
		if s.Action == StepPending {
			return s
		}
	}
	return nil
}

// CurrentApprover returns the identity awaiting action, if any.
func (inv *Invoice) CurrentApprover() string {
	if s := inv.CurrentStep(); s != nil {
		return s.ApproverID
	}
	return ""
}

// RemainingBalance is the unpaid portion of the net amount.
func (inv *Invoice) RemainingBalance() int64 {
	return inv.NetAmount - inv.AmountPaid
}

// ApproverSpec is one entry in a rule's ordered approver list.
type ApproverSpec struct {
	Role string `json:"role"`
	// FixedApproverID pins the step to a specific identity; when empty the
	// approver is resolved from the org directory at chain-build time.
	FixedApproverID string `json:"fixed_approver_id,omitempty"`
	Threshold       int64  `json:"threshold"` // cents; 0 = unlimited
}

// RuleConditions are the match dimensions of an approval rule. A nil bound or
// empty list matches universally on that dimension.
type RuleConditions struct {
	MinAmount   *int64   `json:"min_amount,omitempty"` // cents, inclusive
	MaxAmount   *int64   `json:"max_amount,omitempty"` // cents, inclusive
	Vendors     []string `json:"vendors,omitempty"`
	Departments []string `json:"departments,omitempty"`
	GLAccounts  []string `json:"gl_accounts,omitempty"`
	CostCenters []string `json:"cost_centers,omitempty"`
}

// ApprovalRule routes invoices to an ordered approver chain. Once a rule has
// built a chain for any invoice (UsedCount > 0) it is immutable; changes
// require a successor rule and deactivation of this one, so historical chains
// stay reproducible.
type ApprovalRule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Priority    int            `json:"priority"` // lower wins ties
	Conditions  RuleConditions `json:"conditions"`
	Approvers   []ApproverSpec `json:"approvers"`
	IsActive    bool           `json:"is_active"`
	UsedCount   int64          `json:"used_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// InvoiceOutcome is the payment channel's per-invoice settlement result kept
// on a processed batch.
type InvoiceOutcome struct {
	InvoiceID  string `json:"invoice_id"`
	Settled    bool   `json:"settled"`
	AmountPaid int64  `json:"amount_paid"`
	Reason     string `json:"reason,omitempty"`
}

// PaymentBatch groups approved invoices for a single payment-channel
// submission. An invoice belongs to at most one open batch at a time.
type PaymentBatch struct {
	ID            string        `json:"id"`
	BatchNumber   string        `json:"batch_number"`
	PaymentDate   string        `json:"payment_date"` // YYYY-MM-DD
	PaymentMethod PaymentMethod `json:"payment_method"`
	BankAccount   string        `json:"bank_account"`
	Status        BatchStatus   `json:"status"`
	InvoiceIDs    []string      `json:"invoice_ids"`
	TotalAmount   int64         `json:"total_amount"` // cents

	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	HasPartialFailures bool             `json:"has_partial_failures"`
	Outcomes           []InvoiceOutcome `json:"outcomes,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the batch can still accept or hold invoices.
func (b *PaymentBatch) Open() bool {
	switch b.Status {
	case BatchDraft, BatchPendingApproval, BatchApproved:
		return true
	}
	return false
}

// AuditEntry is one immutable record of a state transition. Never updated or
// deleted.
type AuditEntry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"` // invoice | batch | rule
	EntityID   string         `json:"entity_id"`
	PrevStatus string         `json:"prev_status,omitempty"`
	NewStatus  string         `json:"new_status,omitempty"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Comment    string         `json:"comment,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
