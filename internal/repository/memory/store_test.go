package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

func newInvoice(number string) *repository.Invoice {
	return &repository.Invoice{
		InvoiceNumber: number,
		VendorID:      "vendor-1",
		InvoiceDate:   "2026-08-01",
		DueDate:       "2026-09-01",
		GrossAmount:   10_000,
		NetAmount:     10_000,
		Status:        repository.InvoiceDraft,
	}
}

func TestInvoiceUpdateVersionConflict(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	inv := newInvoice("INV-1")
	require.NoError(t, store.Create(ctx, inv))
	require.Equal(t, int64(1), inv.Version)

	a, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)

	a.Description = "first writer"
	require.NoError(t, store.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Description = "second writer"
	err = store.Update(ctx, b)
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))

	// The stale writer lost; the first write survived.
	cur, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", cur.Description)
}

func TestReadsAreIsolatedCopies(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	inv := newInvoice("INV-2")
	inv.Steps = []*repository.ApprovalStep{
		{StepNumber: 1, ApproverID: "mgr-1", Action: repository.StepPending},
	}
	require.NoError(t, store.Create(ctx, inv))

	got, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	got.Steps[0].Action = repository.StepApproved
	got.Status = repository.InvoicePaid

	// Mutating the returned copy never touches stored state.
	again, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceDraft, again.Status)
	assert.Equal(t, repository.StepPending, again.Steps[0].Action)
}

func TestDuplicateInvoiceNumberSameVendor(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newInvoice("INV-3")))
	err := store.Create(ctx, newInvoice("INV-3"))
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))

	// Same number under another vendor is fine.
	other := newInvoice("INV-3")
	other.VendorID = "vendor-2"
	assert.NoError(t, store.Create(ctx, other))
}

func TestAttachToBatchCAS(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	inv := newInvoice("INV-4")
	inv.Status = repository.InvoiceApproved
	require.NoError(t, store.Create(ctx, inv))

	require.NoError(t, store.AttachToBatch(ctx, inv.ID, "batch-1"))
	err := store.AttachToBatch(ctx, inv.ID, "batch-2")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))

	cur, err := store.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", cur.OpenBatchID)

	// Detach by the wrong batch is a no-op, by the owner clears.
	require.NoError(t, store.DetachFromBatch(ctx, inv.ID, "batch-2"))
	cur, _ = store.Get(ctx, inv.ID)
	assert.Equal(t, "batch-1", cur.OpenBatchID)

	require.NoError(t, store.DetachFromBatch(ctx, inv.ID, "batch-1"))
	cur, _ = store.Get(ctx, inv.ID)
	assert.Empty(t, cur.OpenBatchID)
}

func TestAttachRequiresPayableStatus(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	inv := newInvoice("INV-5")
	require.NoError(t, store.Create(ctx, inv))

	err := store.AttachToBatch(ctx, inv.ID, "batch-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))

	// A partially paid invoice is still claimable for its remainder.
	partial := newInvoice("INV-5b")
	partial.Status = repository.InvoicePartiallyPaid
	partial.AmountPaid = 2_500
	require.NoError(t, store.Create(ctx, partial))
	assert.NoError(t, store.AttachToBatch(ctx, partial.ID, "batch-1"))
}

func TestConcurrentAttachSingleWinner(t *testing.T) {
	store := NewInvoiceStore()
	ctx := context.Background()

	inv := newInvoice("INV-6")
	inv.Status = repository.InvoiceApproved
	require.NoError(t, store.Create(ctx, inv))

	const claimants = 8
	errs := make([]error, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.AttachToBatch(ctx, inv.ID, "batch-1")
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRuleImmutableOnceUsed(t *testing.T) {
	store := NewRuleStore()
	ctx := context.Background()

	rule := &repository.ApprovalRule{
		Name:      "r",
		IsActive:  true,
		Approvers: []repository.ApproverSpec{{Role: "manager"}},
	}
	require.NoError(t, store.Create(ctx, rule))

	rule.Name = "renamed"
	require.NoError(t, store.Update(ctx, rule))

	require.NoError(t, store.MarkUsed(ctx, rule.ID))

	rule.Name = "renamed again"
	err := store.Update(ctx, rule)
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))

	// Deactivation still works on used rules.
	require.NoError(t, store.Deactivate(ctx, rule.ID))
	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBatchNumbersAreSequential(t *testing.T) {
	store := NewBatchStore()
	ctx := context.Background()

	a := &repository.PaymentBatch{PaymentDate: "2026-09-05", PaymentMethod: repository.MethodACH, BankAccount: "x", Status: repository.BatchDraft}
	b := &repository.PaymentBatch{PaymentDate: "2026-09-05", PaymentMethod: repository.MethodACH, BankAccount: "x", Status: repository.BatchDraft}
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	assert.NotEqual(t, a.BatchNumber, b.BatchNumber)
	assert.Regexp(t, `^BATCH-\d{4}-\d{3}$`, a.BatchNumber)
}

func TestAuditAppendOnlyChronological(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	for _, action := range []string{"submitted", "approved", "held"} {
		require.NoError(t, store.Append(ctx, &repository.AuditEntry{
			EntityType: "invoice",
			EntityID:   "inv-1",
			Action:     action,
			Actor:      "tester",
		}))
	}
	require.NoError(t, store.Append(ctx, &repository.AuditEntry{
		EntityType: "batch",
		EntityID:   "batch-1",
		Action:     "built",
		Actor:      "tester",
	}))

	entries, err := store.ListByEntity(ctx, "invoice", "inv-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "submitted", entries[0].Action)
	assert.Equal(t, "approved", entries[1].Action)
	assert.Equal(t, "held", entries[2].Action)

	batchEntries, err := store.ListByEntity(ctx, "batch", "batch-1")
	require.NoError(t, err)
	assert.Len(t, batchEntries, 1)
}

func TestAuditEntriesAreIsolatedFromCallers(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	meta := map[string]any{"batch_id": "batch-1"}
	require.NoError(t, store.Append(ctx, &repository.AuditEntry{
		EntityType: "invoice",
		EntityID:   "inv-1",
		Action:     "payment_settled",
		Actor:      "tester",
		Metadata:   meta,
	}))

	// Mutating the caller's map after the append must not reach the store.
	meta["batch_id"] = "batch-2"

	entries, err := store.ListByEntity(ctx, "invoice", "inv-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "batch-1", entries[0].Metadata["batch_id"])

	// Nor must mutating a returned entry corrupt the stored one.
	entries[0].Metadata["batch_id"] = "batch-3"
	again, err := store.ListByEntity(ctx, "invoice", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", again[0].Metadata["batch_id"])
}
