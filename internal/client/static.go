package client

import (
	"context"
	"sync"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// Static in-memory collaborators, used when no external service URL is
// configured and as test doubles.

// StaticVendorMaster serves vendors from a fixed map.
type StaticVendorMaster struct {
	mu      sync.RWMutex
	vendors map[string]*Vendor
}

func NewStaticVendorMaster() *StaticVendorMaster {
	return &StaticVendorMaster{vendors: map[string]*Vendor{}}
}

func (m *StaticVendorMaster) AddVendor(v *Vendor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[v.ID] = v
}

func (m *StaticVendorMaster) GetVendor(ctx context.Context, vendorID string) (*Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vendors[vendorID]
	if !ok {
		return nil, apperr.NotFound("vendor", vendorID)
	}
	cp := *v
	return &cp, nil
}

// StaticAccountsValidator accepts registered GL account / cost center pairs.
// With no pairs registered it accepts everything, which keeps local setups
// running without seed data.
type StaticAccountsValidator struct {
	mu    sync.RWMutex
	pairs map[string]bool
}

func NewStaticAccountsValidator() *StaticAccountsValidator {
	return &StaticAccountsValidator{pairs: map[string]bool{}}
}

func (v *StaticAccountsValidator) AddPair(glAccount, costCenter string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pairs[glAccount+"/"+costCenter] = true
}

func (v *StaticAccountsValidator) IsValidAccount(ctx context.Context, glAccount, costCenter string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.pairs) == 0 {
		return true, nil
	}
	return v.pairs[glAccount+"/"+costCenter], nil
}

// StaticPaymentChannel settles every invoice in full, except ids registered
// as failing or capped to a partial amount. Used for local runs and batch
// processing tests.
type StaticPaymentChannel struct {
	mu       sync.Mutex
	failures map[string]string // invoice id -> failure reason
	partials map[string]int64  // invoice id -> cents settled per submission
	submits  map[string]int    // batch id -> submission count
}

func NewStaticPaymentChannel() *StaticPaymentChannel {
	return &StaticPaymentChannel{
		failures: map[string]string{},
		partials: map[string]int64{},
		submits:  map[string]int{},
	}
}

// FailInvoice marks an invoice to be reported unsettled on submission.
func (c *StaticPaymentChannel) FailInvoice(invoiceID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[invoiceID] = reason
}

// SettlePartially caps the amount settled for an invoice per submission.
func (c *StaticPaymentChannel) SettlePartially(invoiceID string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials[invoiceID] = amount
}

// Submissions reports how many times a batch was submitted.
func (c *StaticPaymentChannel) Submissions(batchID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits[batchID]
}

func (c *StaticPaymentChannel) Submit(ctx context.Context, batch *repository.PaymentBatch, invoices []*repository.Invoice) (map[string]SettlementOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits[batch.ID]++

	outcomes := make(map[string]SettlementOutcome, len(invoices))
	for _, inv := range invoices {
		if reason, failed := c.failures[inv.ID]; failed {
			outcomes[inv.ID] = SettlementOutcome{Settled: false, Reason: reason}
			continue
		}
		if amount, partial := c.partials[inv.ID]; partial {
			outcomes[inv.ID] = SettlementOutcome{Settled: true, AmountPaid: amount}
			continue
		}
		outcomes[inv.ID] = SettlementOutcome{Settled: true}
	}
	return outcomes, nil
}
