package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

func TestSingleStepApproval(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-100", 48_600)
	require.Len(t, inv.Steps, 1)
	assert.Equal(t, "mgr-1", inv.Steps[0].ApproverID)

	inv, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID:  inv.ID,
		StepNumber: 1,
		Actor:      "mgr-1",
		Decision:   repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)
}

func TestThreeStepChainApprovesInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-101", 135_000)
	require.Len(t, inv.Steps, 3)

	inv, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoicePendingApproval, inv.Status)

	inv, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 2, Actor: "dir-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoicePendingApproval, inv.Status)
	require.NotNil(t, inv.CurrentStep())
	assert.Equal(t, 3, inv.CurrentStep().StepNumber)
	assert.Equal(t, "cfo-1", inv.CurrentStep().ApproverID)

	inv, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 3, Actor: "cfo-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)
}

func TestActOutOfOrderStepRejected(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)

	inv := f.submitInvoice(t, "INV-102", 135_000)

	_, err := f.approvals.Act(context.Background(), &ActRequest{
		InvoiceID: inv.ID, StepNumber: 2, Actor: "dir-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeStepNotActive))
}

func TestRejectionLeavesLaterStepsPending(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-103", 135_000)

	_, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)

	inv, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 2, Actor: "dir-1",
		Decision: repository.StepRejected, Comments: "budget exceeded",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceRejected, inv.Status)
	assert.Equal(t, repository.StepApproved, inv.Steps[0].Action)
	assert.Equal(t, repository.StepRejected, inv.Steps[1].Action)
	assert.Equal(t, repository.StepPending, inv.Steps[2].Action)

	// Nobody can act on the dead chain.
	_, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 3, Actor: "cfo-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeStepNotActive))

	// The rejection reason lands in the audit trail.
	entries, err := f.invoices.History(ctx, inv.ID)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action == "rejected" {
			found = true
			assert.Equal(t, "budget exceeded", e.Comment)
		}
	}
	assert.True(t, found)
}

func TestRejectionRequiresComments(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)

	inv := f.submitInvoice(t, "INV-104", 48_600)

	_, err := f.approvals.Act(context.Background(), &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1",
		Decision: repository.StepRejected, Comments: "   ",
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeValidation))
}

func TestUnauthorizedActorCannotAct(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)

	inv := f.submitInvoice(t, "INV-105", 48_600)

	_, err := f.approvals.Act(context.Background(), &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "intruder-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeUnauthorizedActor))
}

func TestDelegateReassignsStepAndStaysPending(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-106", 48_600)

	inv, err := f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1",
		Decision: repository.StepDelegated, DelegateTo: "mgr-2",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoicePendingApproval, inv.Status)
	require.NotNil(t, inv.CurrentStep())
	assert.Equal(t, "mgr-2", inv.CurrentStep().ApproverID)
	require.NotNil(t, inv.Steps[0].DelegatedTo)
	assert.Equal(t, "mgr-2", *inv.Steps[0].DelegatedTo)

	// The original approver is no longer authorized; the delegate must act.
	_, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeUnauthorizedActor))

	inv, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-2", Decision: repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)
}

func TestRegisteredDelegateMayAct(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	f.dir.AddDelegate("mgr-1", "deputy-1")

	inv := f.submitInvoice(t, "INV-107", 48_600)

	inv, err := f.approvals.Act(context.Background(), &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "deputy-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, inv.Status)
}

func TestFinalApproverWithoutAuthorityEscalates(t *testing.T) {
	f := newFixture(t)
	// Single-step chain whose approver caps out below the invoice amount.
	f.seedRule(t, &repository.ApprovalRule{
		Name:     "capped",
		Priority: 10,
		Approvers: []repository.ApproverSpec{
			{Role: "manager", Threshold: 10_000},
		},
	})

	inv := f.submitInvoice(t, "INV-108", 48_600)

	_, err := f.approvals.Act(context.Background(), &ActRequest{
		InvoiceID: inv.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	assert.True(t, apperr.IsCode(err, apperr.ErrCodeChainIncomplete))

	// The step stays pending and the invoice stays pending_approval.
	cur, err := f.invoices.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoicePendingApproval, cur.Status)
	assert.Equal(t, repository.StepPending, cur.Steps[0].Action)
}

func TestConcurrentActsOneWinner(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	f.dir.AddDelegate("mgr-1", "deputy-1")
	ctx := context.Background()

	inv := f.submitInvoice(t, "INV-109", 48_600)

	actors := []string{"mgr-1", "deputy-1"}
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	for i, actor := range actors {
		i, actor := i, actor
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.approvals.Act(ctx, &ActRequest{
				InvoiceID: inv.ID, StepNumber: 1, Actor: actor, Decision: repository.StepApproved,
			})
		}()
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if apperr.IsCode(err, apperr.ErrCodeStepNotActive) {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	cur, err := f.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceApproved, cur.Status)
}

func TestPendingForApprover(t *testing.T) {
	f := newFixture(t)
	f.seedDefaultRules(t)
	ctx := context.Background()

	f.submitInvoice(t, "INV-110", 10_000)
	big := f.submitInvoice(t, "INV-111", 135_000)

	pending, err := f.approvals.PendingForApprover(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Step 2 assignee sees nothing until step 1 clears.
	pending, err = f.approvals.PendingForApprover(ctx, "dir-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.approvals.Act(ctx, &ActRequest{
		InvoiceID: big.ID, StepNumber: 1, Actor: "mgr-1", Decision: repository.StepApproved,
	})
	require.NoError(t, err)

	pending, err = f.approvals.PendingForApprover(ctx, "dir-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, big.ID, pending[0].ID)
}
