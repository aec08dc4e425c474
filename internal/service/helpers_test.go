package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
	"github.com/finvera/be-ap-workflow/internal/repository/memory"
)

// fixture wires the full service stack against the in-memory store with
// static collaborators.
type fixture struct {
	stores    *repository.Stores
	dir       *client.StaticOrgDirectory
	vendors   *client.StaticVendorMaster
	accounts  *client.StaticAccountsValidator
	channel   *client.StaticPaymentChannel
	invoices  *InvoiceService
	approvals *ApprovalService
	batches   *BatchService
	rules     *RuleService
	analytics *AnalyticsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stores := memory.New()
	locks := lock.NewKeyLocker()
	log := logger.Nop()
	notify := client.NewNotificationPublisher(nil, log.Logger)

	dir := client.NewStaticOrgDirectory()
	vendors := client.NewStaticVendorMaster()
	accounts := client.NewStaticAccountsValidator()
	channel := client.NewStaticPaymentChannel()

	vendors.AddVendor(&client.Vendor{ID: "vendor-acme", Name: "Acme Corp", Status: "active"})
	vendors.AddVendor(&client.Vendor{ID: "vendor-dormant", Name: "Dormant Ltd", Status: "inactive"})

	dir.AddApprover("manager", "", client.Identity{ID: "mgr-1", Name: "Dana Brooks"})
	dir.AddApprover("director", "", client.Identity{ID: "dir-1", Name: "Sam Ortiz"})
	dir.AddApprover("cfo", "", client.Identity{ID: "cfo-1", Name: "Lee Park"})

	return &fixture{
		stores:    stores,
		dir:       dir,
		vendors:   vendors,
		accounts:  accounts,
		channel:   channel,
		invoices:  NewInvoiceService(stores, locks, vendors, accounts, dir, notify, log),
		approvals: NewApprovalService(stores, locks, dir, notify, log),
		batches:   NewBatchService(stores, locks, channel, notify, log),
		rules:     NewRuleService(stores, log),
		analytics: NewAnalyticsService(stores, log),
	}
}

func amt(v int64) *int64 { return &v }

// seedRule stores an active rule directly.
func (f *fixture) seedRule(t *testing.T, r *repository.ApprovalRule) *repository.ApprovalRule {
	t.Helper()
	r.IsActive = true
	require.NoError(t, f.stores.Rules.Create(context.Background(), r))
	return r
}

// seedDefaultRules installs a three-band rule set: up to 50,000 manager
// only; 50,001 to 100,000 manager then director; above 100,000 manager,
// director, cfo.
func (f *fixture) seedDefaultRules(t *testing.T) {
	t.Helper()
	f.seedRule(t, &repository.ApprovalRule{
		Name:       "small",
		Priority:   10,
		Conditions: repository.RuleConditions{MaxAmount: amt(50_000)},
		Approvers: []repository.ApproverSpec{
			{Role: "manager", Threshold: 50_000},
		},
	})
	f.seedRule(t, &repository.ApprovalRule{
		Name:       "medium",
		Priority:   20,
		Conditions: repository.RuleConditions{MinAmount: amt(50_001), MaxAmount: amt(100_000)},
		Approvers: []repository.ApproverSpec{
			{Role: "manager", Threshold: 50_000},
			{Role: "director", Threshold: 100_000},
		},
	})
	f.seedRule(t, &repository.ApprovalRule{
		Name:       "large",
		Priority:   30,
		Conditions: repository.RuleConditions{MinAmount: amt(100_001)},
		Approvers: []repository.ApproverSpec{
			{Role: "manager", Threshold: 50_000},
			{Role: "director", Threshold: 100_000},
			{Role: "cfo", Threshold: 0},
		},
	})
}

// createInvoice makes a draft with sane defaults, cents amounts.
func (f *fixture) createInvoice(t *testing.T, number string, gross int64) *repository.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), &CreateInvoiceRequest{
		InvoiceNumber: number,
		VendorID:      "vendor-acme",
		InvoiceDate:   "2026-08-01",
		DueDate:       "2026-09-01",
		GrossAmount:   gross,
		GLAccount:     "6000",
		CostCenter:    "CC-100",
		Department:    "engineering",
		CreatedBy:     "clerk-1",
	})
	require.NoError(t, err)
	return inv
}

// submitInvoice creates and submits in one go.
func (f *fixture) submitInvoice(t *testing.T, number string, gross int64) *repository.Invoice {
	t.Helper()
	inv := f.createInvoice(t, number, gross)
	inv, err := f.invoices.Submit(context.Background(), inv.ID, "clerk-1")
	require.NoError(t, err)
	return inv
}

// approveAll walks the chain to approved.
func (f *fixture) approveAll(t *testing.T, inv *repository.Invoice) *repository.Invoice {
	t.Helper()
	ctx := context.Background()
	for {
		cur, err := f.invoices.Get(ctx, inv.ID)
		require.NoError(t, err)
		step := cur.CurrentStep()
		if step == nil {
			return cur
		}
		_, err = f.approvals.Act(ctx, &ActRequest{
			InvoiceID:  inv.ID,
			StepNumber: step.StepNumber,
			Actor:      step.ApproverID,
			Decision:   repository.StepApproved,
		})
		require.NoError(t, err)
	}
}
