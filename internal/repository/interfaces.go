package repository

import "context"

// InvoiceFilter narrows invoice listings. Zero values match everything.
type InvoiceFilter struct {
	Status     InvoiceStatus
	VendorID   string
	ApproverID string // invoices whose current pending step is assigned to this identity
	DueFrom    string // YYYY-MM-DD, inclusive
	DueTo      string // YYYY-MM-DD, inclusive
	Unbatched  bool   // only invoices with no open batch attachment
	Payable    bool   // only approved or partially_paid invoices
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status BatchStatus
}

// InvoiceStore persists Invoice aggregates, steps included. Update applies an
// optimistic version check: it fails with CONFLICT unless the stored version
// equals the aggregate's version, and increments the version on success.
type InvoiceStore interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, f InvoiceFilter) ([]*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error

	// AttachToBatch sets OpenBatchID from empty to batchID atomically, only
	// while the invoice is payable (approved or partially_paid). Fails with
	// CONFLICT when another batch holds the invoice or the status changed.
	AttachToBatch(ctx context.Context, invoiceID, batchID string) error
	// DetachFromBatch clears OpenBatchID when it equals batchID. Detaching an
	// already-detached invoice is a no-op.
	DetachFromBatch(ctx context.Context, invoiceID, batchID string) error
}

// RuleStore persists approval rules. Update fails with CONFLICT once the rule
// has built a chain (UsedCount > 0); MarkUsed records each chain build.
type RuleStore interface {
	Create(ctx context.Context, r *ApprovalRule) error
	Get(ctx context.Context, id string) (*ApprovalRule, error)
	ListActive(ctx context.Context) ([]*ApprovalRule, error)
	Update(ctx context.Context, r *ApprovalRule) error
	Deactivate(ctx context.Context, id string) error
	MarkUsed(ctx context.Context, id string) error
}

// BatchStore persists payment batches with the same optimistic version
// discipline as InvoiceStore.
type BatchStore interface {
	Create(ctx context.Context, b *PaymentBatch) error
	Get(ctx context.Context, id string) (*PaymentBatch, error)
	List(ctx context.Context, f BatchFilter) ([]*PaymentBatch, error)
	Update(ctx context.Context, b *PaymentBatch) error
}

// AuditStore is append-only. ListByEntity returns entries oldest-first for
// chronological replay.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)
}

// Stores bundles the four record stores for wiring.
type Stores struct {
	Invoices InvoiceStore
	Rules    RuleStore
	Batches  BatchStore
	Audit    AuditStore
}
