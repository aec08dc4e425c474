package postgres

import "github.com/finvera/be-ap-workflow/internal/repository"

// NewStores bundles postgres-backed implementations of every record store.
func NewStores(db *DB) *repository.Stores {
	return &repository.Stores{
		Invoices: NewInvoiceStore(db),
		Rules:    NewRuleStore(db),
		Batches:  NewBatchStore(db),
		Audit:    NewAuditStore(db),
	}
}
