package client

import (
	"context"
	"time"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// PaymentChannelClient submits finalized batches to the banking channel.
// The batch id doubles as the idempotency key, so a retried submission of the
// same batch settles nothing twice.
type PaymentChannelClient struct {
	http *httpClient
}

func NewPaymentChannelClient(baseURL string, timeout time.Duration) *PaymentChannelClient {
	return &PaymentChannelClient{http: newHTTPClient(baseURL, timeout)}
}

type channelSubmitRequest struct {
	IdempotencyKey string              `json:"idempotency_key"`
	BatchNumber    string              `json:"batch_number"`
	PaymentDate    string              `json:"payment_date"`
	PaymentMethod  string              `json:"payment_method"`
	BankAccount    string              `json:"bank_account"`
	TotalAmount    int64               `json:"total_amount"`
	Items          []channelSubmitItem `json:"items"`
}

type channelSubmitItem struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
}

type channelSubmitResponse struct {
	Outcomes map[string]SettlementOutcome `json:"outcomes"`
}

func (c *PaymentChannelClient) Submit(ctx context.Context, batch *repository.PaymentBatch, invoices []*repository.Invoice) (map[string]SettlementOutcome, error) {
	req := channelSubmitRequest{
		IdempotencyKey: batch.ID,
		BatchNumber:    batch.BatchNumber,
		PaymentDate:    batch.PaymentDate,
		PaymentMethod:  string(batch.PaymentMethod),
		BankAccount:    batch.BankAccount,
		TotalAmount:    batch.TotalAmount,
	}
	for _, inv := range invoices {
		req.Items = append(req.Items, channelSubmitItem{
			InvoiceID: inv.ID,
			Amount:    inv.RemainingBalance(),
		})
	}

	var resp channelSubmitResponse
	if err := c.http.post(ctx, "/api/v1/payments/submit", req, &resp); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodePaymentChannel, "payment channel submission failed")
	}
	return resp.Outcomes, nil
}
