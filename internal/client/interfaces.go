// Package client holds the collaborator interfaces the engine consumes and
// their HTTP implementations.
package client

import (
	"context"

	"github.com/finvera/be-ap-workflow/internal/repository"
)

// Identity is an approver resolved from the org directory.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Vendor is the vendor master's view of a supplier.
type Vendor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	PaymentTerms string `json:"payment_terms,omitempty"`
	TaxID        string `json:"tax_id,omitempty"`
	Status       string `json:"status"` // active | inactive | suspended
}

// SettlementOutcome is the payment channel's result for one invoice.
type SettlementOutcome struct {
	Settled    bool   `json:"settled"`
	AmountPaid int64  `json:"amount_paid"` // cents actually settled
	Reason     string `json:"reason,omitempty"`
}

// OrgDirectory resolves approver identities and delegation relationships.
type OrgDirectory interface {
	// ResolveApprover returns the identity holding role for a department.
	ResolveApprover(ctx context.Context, role, department string) (*Identity, error)
	// IsDelegateOf reports whether identity may act on behalf of approverID.
	IsDelegateOf(ctx context.Context, identityID, approverID string) (bool, error)
}

// VendorMaster looks up vendors. A vendor must be active for invoice
// submission to succeed.
type VendorMaster interface {
	GetVendor(ctx context.Context, vendorID string) (*Vendor, error)
}

// AccountsValidator checks GL account / cost center pairs at submission.
type AccountsValidator interface {
	IsValidAccount(ctx context.Context, glAccount, costCenter string) (bool, error)
}

// PaymentChannel accepts a finalized batch and reports per-invoice outcomes.
// Submissions are idempotent per batch id. The invoices are the batch's
// validated constituents; each is charged for its remaining balance.
type PaymentChannel interface {
	Submit(ctx context.Context, batch *repository.PaymentBatch, invoices []*repository.Invoice) (map[string]SettlementOutcome, error)
}
