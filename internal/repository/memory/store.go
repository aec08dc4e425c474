// Package memory implements the record stores as in-process arenas keyed by
// id, with optimistic versioning on every write. It is the default store and
// the one the test suite runs against.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// New returns a Stores bundle backed by in-memory arenas.
func New() *repository.Stores {
	return &repository.Stores{
		Invoices: NewInvoiceStore(),
		Rules:    NewRuleStore(),
		Batches:  NewBatchStore(),
		Audit:    NewAuditStore(),
	}
}

// ── Invoice store ────────────────────────────────────────────────────────────

// InvoiceStore holds invoice aggregates. Reads and writes deep-copy so a
// caller can never mutate stored state except through Update's version check.
type InvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*repository.Invoice
}

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: make(map[string]*repository.Invoice)}
}

func (s *InvoiceStore) Create(_ context.Context, inv *repository.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if _, ok := s.invoices[inv.ID]; ok {
		return apperr.Newf(apperr.ErrCodeConflict, "invoice %q already exists", inv.ID)
	}
	for _, other := range s.invoices {
		if other.VendorID == inv.VendorID && other.InvoiceNumber == inv.InvoiceNumber {
			return apperr.Newf(apperr.ErrCodeConflict,
				"invoice number %q already exists for vendor %q", inv.InvoiceNumber, inv.VendorID)
		}
	}

	now := time.Now().UTC()
	inv.Version = 1
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InvoiceStore) Get(_ context.Context, id string) (*repository.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id)
	}
	return cloneInvoice(inv), nil
}

func (s *InvoiceStore) List(_ context.Context, f repository.InvoiceFilter) ([]*repository.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*repository.Invoice
	for _, inv := range s.invoices {
		if !matchInvoice(inv, f) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	return out, nil
}

func matchInvoice(inv *repository.Invoice, f repository.InvoiceFilter) bool {
	if inv.Archived {
		return false
	}
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.VendorID != "" && inv.VendorID != f.VendorID {
		return false
	}
	if f.ApproverID != "" && inv.CurrentApprover() != f.ApproverID {
		return false
	}
	if f.DueFrom != "" && inv.DueDate < f.DueFrom {
		return false
	}
	if f.DueTo != "" && inv.DueDate > f.DueTo {
		return false
	}
	if f.Unbatched && inv.OpenBatchID != "" {
		return false
	}
	if f.Payable && !inv.Status.Payable() {
		return false
	}
	return true
}

func (s *InvoiceStore) Update(_ context.Context, inv *repository.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.invoices[inv.ID]
	if !ok {
		return apperr.NotFound("invoice", inv.ID)
	}
	if stored.Version != inv.Version {
		return apperr.Newf(apperr.ErrCodeConflict,
			"invoice %q version mismatch: have %d, want %d", inv.ID, inv.Version, stored.Version)
	}

	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InvoiceStore) AttachToBatch(_ context.Context, invoiceID, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return apperr.NotFound("invoice", invoiceID)
	}
	if !inv.Status.Payable() {
		return apperr.Newf(apperr.ErrCodeConflict,
			"invoice %q is %s, not payable", invoiceID, inv.Status)
	}
	if inv.OpenBatchID != "" {
		return apperr.Newf(apperr.ErrCodeConflict,
			"invoice %q already attached to batch %q", invoiceID, inv.OpenBatchID)
	}

	inv.OpenBatchID = batchID
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InvoiceStore) DetachFromBatch(_ context.Context, invoiceID, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return apperr.NotFound("invoice", invoiceID)
	}
	if inv.OpenBatchID != batchID {
		return nil
	}

	inv.OpenBatchID = ""
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// ── Rule store ───────────────────────────────────────────────────────────────

type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]*repository.ApprovalRule
}

func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]*repository.ApprovalRule)}
}

func (s *RuleStore) Create(_ context.Context, r *repository.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := s.rules[r.ID]; ok {
		return apperr.Newf(apperr.ErrCodeConflict, "rule %q already exists", r.ID)
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (s *RuleStore) Get(_ context.Context, id string) (*repository.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, apperr.NotFound("approval_rule", id)
	}
	return cloneRule(r), nil
}

func (s *RuleStore) ListActive(_ context.Context) ([]*repository.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*repository.ApprovalRule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, cloneRule(r))
		}
	}
	return out, nil
}

func (s *RuleStore) Update(_ context.Context, r *repository.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rules[r.ID]
	if !ok {
		return apperr.NotFound("approval_rule", r.ID)
	}
	if stored.UsedCount > 0 {
		return apperr.Newf(apperr.ErrCodeConflict,
			"rule %q has built chains and is immutable; create a successor rule", r.ID)
	}

	r.UsedCount = stored.UsedCount
	r.CreatedAt = stored.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (s *RuleStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return apperr.NotFound("approval_rule", id)
	}
	r.IsActive = false
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RuleStore) MarkUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return apperr.NotFound("approval_rule", id)
	}
	r.UsedCount++
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ── Batch store ──────────────────────────────────────────────────────────────

type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]*repository.PaymentBatch
	seq     int
}

func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[string]*repository.PaymentBatch)}
}

func (s *BatchStore) Create(_ context.Context, b *repository.PaymentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, ok := s.batches[b.ID]; ok {
		return apperr.Newf(apperr.ErrCodeConflict, "batch %q already exists", b.ID)
	}

	s.seq++
	if b.BatchNumber == "" {
		b.BatchNumber = batchNumber(time.Now().UTC(), s.seq)
	}

	now := time.Now().UTC()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	s.batches[b.ID] = cloneBatch(b)
	return nil
}

func (s *BatchStore) Get(_ context.Context, id string) (*repository.PaymentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, apperr.NotFound("payment_batch", id)
	}
	return cloneBatch(b), nil
}

func (s *BatchStore) List(_ context.Context, f repository.BatchFilter) ([]*repository.PaymentBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*repository.PaymentBatch
	for _, b := range s.batches {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	return out, nil
}

func (s *BatchStore) Update(_ context.Context, b *repository.PaymentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.batches[b.ID]
	if !ok {
		return apperr.NotFound("payment_batch", b.ID)
	}
	if stored.Version != b.Version {
		return apperr.Newf(apperr.ErrCodeConflict,
			"batch %q version mismatch: have %d, want %d", b.ID, b.Version, stored.Version)
	}

	b.Version++
	b.UpdatedAt = time.Now().UTC()
	s.batches[b.ID] = cloneBatch(b)
	return nil
}

// ── Audit store ──────────────────────────────────────────────────────────────

type AuditStore struct {
	mu      sync.RWMutex
	entries []*repository.AuditEntry
	// byEntity indexes entry positions by "type/id" for chronological replay.
	byEntity map[string][]int
}

func NewAuditStore() *AuditStore {
	return &AuditStore{byEntity: make(map[string][]int)}
}

func (s *AuditStore) Append(_ context.Context, e *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	key := e.EntityType + "/" + e.EntityID
	s.byEntity[key] = append(s.byEntity[key], len(s.entries))
	s.entries = append(s.entries, cloneAudit(e))
	return nil
}

func (s *AuditStore) ListByEntity(_ context.Context, entityType, entityID string) ([]*repository.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.byEntity[entityType+"/"+entityID]
	out := make([]*repository.AuditEntry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, cloneAudit(s.entries[i]))
	}
	return out, nil
}
