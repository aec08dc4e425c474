package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

func TestCreateDerivesNetAmount(t *testing.T) {
	f := newFixture(t)

	inv, err := f.invoices.Create(context.Background(), &CreateInvoiceRequest{
		InvoiceNumber:  "INV-200",
		VendorID:       "vendor-acme",
		InvoiceDate:    "2026-08-01",
		DueDate:        "2026-09-01",
		GrossAmount:    10_000,
		TaxAmount:      800,
		DiscountAmount: 500,
		GLAccount:      "6000",
		CostCenter:     "CC-100",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10_300), inv.NetAmount)
	assert.Equal(t, repository.InvoiceDraft, inv.Status)
	assert.Equal(t, repository.PriorityMedium, inv.Priority)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*CreateInvoiceRequest)
	}{
		{"missing number", func(r *CreateInvoiceRequest) { r.InvoiceNumber = "" }},
		{"missing vendor", func(r *CreateInvoiceRequest) { r.VendorID = "" }},
		{"negative gross", func(r *CreateInvoiceRequest) { r.GrossAmount = -1 }},
		{"bad date", func(r *CreateInvoiceRequest) { r.InvoiceDate = "08/01/2026" }},
		{"due before invoice date", func(r *CreateInvoiceRequest) { r.DueDate = "2026-07-01" }},
		{"discount exceeds total", func(r *CreateInvoiceRequest) { r.DiscountAmount = 99_999 }},
		{"bad priority", func(r *CreateInvoiceRequest) { r.Priority = "asap" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &CreateInvoiceRequest{
				InvoiceNumber: "INV-201",
				VendorID:      "vendor-acme",
				InvoiceDate:   "2026-08-01",
				DueDate:       "2026-09-01",
				GrossAmount:   10_000,
				GLAccount:     "6000",
				CostCenter:    "CC-100",
			}
			tc.mut(req)
			_, err := f.invoices.Create(ctx, req)
			assert.True(t, apperr.IsCode(err, apperr.ErrCodeValidation), "got %v", err)
		})
	}
}

func TestDuplicateInvoiceNumberPerVendor(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "INV-202", 10_000)

	_, err := f.invoices.Create(context.Background(), &CreateInvoiceRequest{
		InvoiceNumber: "INV-202",
		VendorID:      "vendor-acme",
		InvoiceDate:   "2026-08-01",
		DueDate:       "2026-09-01",
		GrossAmount:   5_000,
		GLAccount:     "6000",
		CostCenter:    "CC-100",
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
}

func TestSubmitRequiresActiveVendor(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv, err := f.invoices.Create(ctx, &CreateInvoiceRequest{
		InvoiceNumber: "INV-203",
		VendorID:      "vendor-dormant",
		InvoiceDate:   "2026-08-01",
		DueDate:       "2026-09-01",
		GrossAmount:   10_000,
		GLAccount:     "6000",
		CostCenter:    "CC-100",
	})
	require.NoError(t, err)

	_, err = f.invoices.Submit(ctx, inv.ID, "clerk-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeValidation))

	// Still a draft, untouched.
	cur, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceDraft, cur.Status)
}

func TestSubmitRequiresValidAccountPair(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	f.accounts.AddPair("6000", "CC-900")

	inv := f.createInvoice(t, "INV-204", 10_000)

	_, err := f.invoices.Submit(context.Background(), inv.ID, "clerk-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeValidation))
}

func TestSubmitWithoutMatchingRule(t *testing.T) {
	f := newFixture(t)

	inv := f.createInvoice(t, "INV-205", 10_000)

	_, err := f.invoices.Submit(context.Background(), inv.ID, "clerk-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeNoApprovalRule))
}

func TestSubmitIsDraftOnly(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)

	inv := f.submitInvoice(t, "INV-206", 10_000)

	_, err := f.invoices.Submit(context.Background(), inv.ID, "clerk-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
}

func TestSubmitMarksRuleUsed(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)

	inv := f.submitInvoice(t, "INV-207", 10_000)

	rule, err := f.rules.Get(context.Background(), inv.RuleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rule.UsedCount)
}

func TestHoldAndResumeRestoresPriorStatus(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-208", 10_000)
	inv = f.approveAll(t, inv)
	require.Equal(t, repository.InvoiceApproved, inv.Status)

	inv, err := f.invoices.Hold(ctx, inv.ID, "controller-1", "vendor inquiry")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceOnHold, inv.Status)
	assert.Equal(t, repository.InvoiceApproved, inv.PriorStatus)

	// Idempotent.
	again, err := f.invoices.Hold(ctx, inv.ID, "controller-1", "")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceOnHold, again.Status)

	inv, err = f.invoices.Resume(ctx, inv.ID, "controller-1")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)
	assert.Empty(t, inv.PriorStatus)
}

func TestHoldFromPendingResumesChainMidStep(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-209", 75_000)
	_, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)

	inv, err = f.invoices.Hold(ctx, inv.ID, "controller-1", "")
	require.NoError(t, err)

	// No acting while held.
	_, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 2, Actor: "dir-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeStepNotActive))

	inv, err = f.invoices.Resume(ctx, inv.ID, "controller-1")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoicePendingApproval, inv.Status)
	require.NotNil(t, inv.CurrentStep())
	assert.Equal(t, 2, inv.CurrentStep().StepNumber)
}

func TestDisputeResolution(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-210", 10_000)
	inv = f.approveAll(t, inv)

	inv, err := f.invoices.Dispute(ctx, inv.ID, "vendor-acme", "wrong quantity")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceDisputed, inv.Status)

	inv, err = f.invoices.ResolveDispute(ctx, inv.ID, "controller-1", false, "quantity confirmed")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)

	// Upheld disputes reject.
	inv2 := f.approveAll(t, f.submitInvoice(t, "INV-211", 10_000))
	_, err = f.invoices.Dispute(ctx, inv2.ID, "vendor-acme", "never delivered")
	require.NoError(t, err)
	inv2, err = f.invoices.ResolveDispute(ctx, inv2.ID, "controller-1", true, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceRejected, inv2.Status)
}

func TestHoldFromDraftIsConflict(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "INV-212", 10_000)

	_, err := f.invoices.Hold(context.Background(), inv.ID, "controller-1", "")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-213", 10_000)
	inv, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1",
		Decision: repository.StepRejected, Comments: "duplicate",
	})
	require.NoError(t, err)
	require.Equal(t, repository.InvoiceRejected, inv.Status)

	_, err = f.invoices.Hold(ctx, inv.ID, "controller-1", "")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
	_, err = f.invoices.Submit(ctx, inv.ID, "clerk-1")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
}

func TestHistoryIsChronological(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-214", 10_000)
	f.approveAll(t, inv)
	_, err := f.invoices.Hold(ctx, inv.ID, "controller-1", "check")
	require.NoError(t, err)

	entries, err := f.invoices.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "submitted", entries[0].Action)
	assert.Equal(t, "approved", entries[1].Action)
	assert.Equal(t, "held", entries[2].Action)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].OccurredAt.Before(entries[i-1].OccurredAt))
	}
}

func TestRejectHeldInvoice(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.approveAll(t, f.submitInvoice(t, "INV-216", 10_000))
	inv, err := f.invoices.Hold(ctx, inv.ID, "controller-1", "vendor inquiry")
	require.NoError(t, err)

	// Rejecting a held invoice needs a reason.
	_, err = f.invoices.Reject(ctx, inv.ID, "controller-1", "")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeValidation))

	inv, err = f.invoices.Reject(ctx, inv.ID, "controller-1", "duplicate billing")
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceRejected, inv.Status)
	assert.Empty(t, inv.PriorStatus)

	entries, err := f.stores.Audit.ListByEntity(ctx, "invoice", inv.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, "rejected", last.Action)
	assert.Equal(t, "duplicate billing", last.Comment)
}

func TestRejectRequiresHeldStatus(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.approveAll(t, f.submitInvoice(t, "INV-217", 10_000))
	_, err := f.invoices.Reject(ctx, inv.ID, "controller-1", "wrong vendor")
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeConflict))
}
