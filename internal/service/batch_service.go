package service

import (
	"context"
	"sort"
	"time"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// BatchService builds payment batches from approved invoices and drives each
// batch through its lifecycle, submitting it to the payment channel exactly
// once. Mutating operations serialize per batch id; attaching an invoice is a
// compare-and-set on the invoice's open-batch reference, so two racing builds
// can never both claim it.
type BatchService struct {
	stores  *repository.Stores
	locks   *lock.KeyLocker
	channel client.PaymentChannel
	notify  *client.NotificationPublisher
	log     *logger.Logger
}

func NewBatchService(
	stores *repository.Stores,
	locks *lock.KeyLocker,
	channel client.PaymentChannel,
	notify *client.NotificationPublisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		stores:  stores,
		locks:   locks,
		channel: channel,
		notify:  notify,
		log:     log,
	}
}

// BuildBatchRequest selects which approved invoices a batch collects.
type BuildBatchRequest struct {
	PaymentDate   string                   `json:"payment_date"` // YYYY-MM-DD
	PaymentMethod repository.PaymentMethod `json:"payment_method"`
	BankAccount   string                   `json:"bank_account"`
	DueFrom       string                   `json:"due_from,omitempty"`
	DueTo         string                   `json:"due_to,omitempty"`
	CreatedBy     string                   `json:"created_by"`
}

// BuildBatch collects payable, unattached invoices matching the criteria into
// a new batch. Partially paid invoices join for their remaining balance. An
// empty batch is never created.
func (s *BatchService) BuildBatch(ctx context.Context, req *BuildBatchRequest) (*repository.PaymentBatch, error) {
	switch req.PaymentMethod {
	case repository.MethodACH, repository.MethodWire, repository.MethodCheck, repository.MethodCard:
	default:
		return nil, apperr.InvalidInput("payment_method", "must be ach, wire, check or card")
	}
	if req.BankAccount == "" {
		return nil, apperr.InvalidInput("bank_account", "is required")
	}
	if _, err := time.Parse("2006-01-02", req.PaymentDate); err != nil {
		return nil, apperr.InvalidInput("payment_date", "invalid date format, expected YYYY-MM-DD")
	}

	candidates, err := s.stores.Invoices.List(ctx, repository.InvoiceFilter{
		Payable:   true,
		DueFrom:   req.DueFrom,
		DueTo:     req.DueTo,
		Unbatched: true,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.ErrCodeEmptyBatch, "no eligible invoices for batch criteria")
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].DueDate < candidates[j].DueDate })

	batch := &repository.PaymentBatch{
		PaymentDate:   req.PaymentDate,
		PaymentMethod: req.PaymentMethod,
		BankAccount:   req.BankAccount,
		Status:        repository.BatchDraft,
	}
	if err := s.stores.Batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	// Claim invoices one by one; a CAS loss just means another batch got
	// there first and the invoice is skipped.
	var total int64
	for _, inv := range candidates {
		if err := s.stores.Invoices.AttachToBatch(ctx, inv.ID, batch.ID); err != nil {
			if apperr.IsCode(err, apperr.ErrCodeConflict) {
				continue
			}
			return nil, err
		}
		batch.InvoiceIDs = append(batch.InvoiceIDs, inv.ID)
		total += inv.RemainingBalance()
	}

	if len(batch.InvoiceIDs) == 0 {
		// Every candidate was claimed concurrently; the empty shell is
		// cancelled rather than left open.
		batch.Status = repository.BatchCancelled
		if err := s.stores.Batches.Update(ctx, batch); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.ErrCodeEmptyBatch, "no eligible invoices for batch criteria")
	}

	batch.TotalAmount = total
	batch.Status = repository.BatchPendingApproval
	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	s.audit(ctx, batch, repository.BatchDraft, "built", req.CreatedBy, "")
	s.log.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Int("invoice_count", len(batch.InvoiceIDs)).
		Int64("total_amount", batch.TotalAmount).
		Msg("Payment batch built")

	return batch, nil
}

// Approve is the batch's single approval gate. Approving an already-approved
// batch is a no-op.
func (s *BatchService) Approve(ctx context.Context, batchID, approver string) (*repository.PaymentBatch, error) {
	unlock := s.locks.Lock(batchID)
	defer unlock()

	batch, err := s.stores.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == repository.BatchApproved {
		return batch, nil
	}
	if batch.Status != repository.BatchPendingApproval && batch.Status != repository.BatchDraft {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot approve batch with status %q", batch.Status)
	}

	now := time.Now().UTC()
	prev := batch.Status
	batch.Status = repository.BatchApproved
	batch.ApprovedBy = approver
	batch.ApprovedAt = &now

	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	s.audit(ctx, batch, prev, "approved", approver, "")
	return batch, nil
}

// Process submits an approved batch to the payment channel and settles the
// outcome. Calling Process on an already-processed batch returns the stored
// result without resubmitting; the channel's idempotency key is the batch
// id, and the engine never sends a batch twice.
func (s *BatchService) Process(ctx context.Context, batchID, processor string) (*repository.PaymentBatch, error) {
	unlock := s.locks.Lock(batchID)
	defer unlock()

	batch, err := s.stores.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == repository.BatchProcessed {
		return batch, nil
	}
	if batch.Status != repository.BatchApproved {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot process batch with status %q", batch.Status)
	}

	// Re-validate every constituent: anything disputed or held since the
	// batch was built is dropped and the total recomputed, so a stale amount
	// is never sent to the channel.
	valid, err := s.revalidate(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		prev := batch.Status
		batch.Status = repository.BatchCancelled
		if err := s.stores.Batches.Update(ctx, batch); err != nil {
			return nil, err
		}
		s.audit(ctx, batch, prev, "cancelled", processor, "all invoices disqualified before processing")
		return nil, apperr.New(apperr.ErrCodeEmptyBatch, "no valid invoices remain in batch")
	}

	outcomes, err := s.channel.Submit(ctx, batch, valid)
	if err != nil {
		return s.failBatch(ctx, batch, processor, err)
	}

	return s.settle(ctx, batch, valid, outcomes, processor)
}

// revalidate drops disqualified invoices from the batch and recomputes the
// total. Returns the still-valid invoices.
func (s *BatchService) revalidate(ctx context.Context, batch *repository.PaymentBatch) ([]*repository.Invoice, error) {
	var (
		valid []*repository.Invoice
		keep  []string
		total int64
	)

	for _, id := range batch.InvoiceIDs {
		inv, err := s.stores.Invoices.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !inv.Status.Payable() || inv.OpenBatchID != batch.ID {
			if err := s.stores.Invoices.DetachFromBatch(ctx, id, batch.ID); err != nil {
				return nil, err
			}
			s.log.Info().
				Str("batch_id", batch.ID).
				Str("invoice_id", id).
				Str("invoice_status", string(inv.Status)).
				Msg("Invoice disqualified from batch at processing time")
			continue
		}
		valid = append(valid, inv)
		keep = append(keep, id)
		total += inv.RemainingBalance()
	}

	batch.InvoiceIDs = keep
	batch.TotalAmount = total
	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}
	return valid, nil
}

// settle applies the channel's per-invoice outcomes. Settled invoices become
// paid (or partially_paid on partial settlement); failed ones revert to
// approved and detach so they can join a future batch. Partial failure marks
// the batch processed with HasPartialFailures rather than failed.
func (s *BatchService) settle(ctx context.Context, batch *repository.PaymentBatch, invoices []*repository.Invoice, outcomes map[string]client.SettlementOutcome, processor string) (*repository.PaymentBatch, error) {
	var settledCount int
	batch.Outcomes = batch.Outcomes[:0]

	for _, inv := range invoices {
		out, ok := outcomes[inv.ID]
		record := repository.InvoiceOutcome{InvoiceID: inv.ID}

		// A zero reported amount on a settled outcome means the channel paid
		// the full remaining balance.
		remainder := inv.RemainingBalance()
		prev := inv.Status
		switch {
		case ok && out.Settled && (out.AmountPaid == 0 || out.AmountPaid >= remainder):
			inv.Status = repository.InvoicePaid
			inv.AmountPaid = inv.NetAmount
			inv.OpenBatchID = ""
			record.Settled = true
			record.AmountPaid = remainder
			settledCount++
		case ok && out.Settled:
			inv.Status = repository.InvoicePartiallyPaid
			inv.AmountPaid += out.AmountPaid
			inv.OpenBatchID = ""
			record.Settled = true
			record.AmountPaid = out.AmountPaid
			record.Reason = "partial settlement"
			settledCount++
		default:
			// Not settled: keep the payable status and release for
			// re-batching.
			inv.OpenBatchID = ""
			record.Reason = out.Reason
			if record.Reason == "" {
				record.Reason = "no outcome reported by channel"
			}
		}

		if err := s.stores.Invoices.Update(ctx, inv); err != nil {
			return nil, err
		}
		batch.Outcomes = append(batch.Outcomes, record)

		appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
			EntityType: "invoice",
			EntityID:   inv.ID,
			PrevStatus: string(prev),
			NewStatus:  string(inv.Status),
			Action:     "payment_settled",
			Actor:      processor,
			Comment:    record.Reason,
			Metadata:   map[string]any{"batch_id": batch.ID, "amount_paid": record.AmountPaid},
		})
	}

	now := time.Now().UTC()
	prev := batch.Status
	batch.ProcessedBy = processor
	batch.ProcessedAt = &now

	if settledCount == 0 {
		batch.Status = repository.BatchFailed
	} else {
		batch.Status = repository.BatchProcessed
		batch.HasPartialFailures = settledCount < len(invoices)
	}

	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	s.audit(ctx, batch, prev, "processed", processor, "")
	s.notify.PublishBatchEvent("batch_processed", batch.ID, processor,
		[]string{batch.ApprovedBy},
		map[string]any{
			"batch_number":         batch.BatchNumber,
			"status":               string(batch.Status),
			"settled":              settledCount,
			"total":                len(invoices),
			"has_partial_failures": batch.HasPartialFailures,
		})
	s.log.Info().
		Str("batch_id", batch.ID).
		Str("status", string(batch.Status)).
		Int("settled", settledCount).
		Int("total", len(invoices)).
		Bool("partial_failures", batch.HasPartialFailures).
		Msg("Payment batch processed")

	return batch, nil
}

// failBatch handles a whole-channel failure: the batch fails and every
// invoice reverts to approved, detached, so nothing is left stuck on a dead
// batch.
func (s *BatchService) failBatch(ctx context.Context, batch *repository.PaymentBatch, processor string, cause error) (*repository.PaymentBatch, error) {
	for _, id := range batch.InvoiceIDs {
		if err := s.stores.Invoices.DetachFromBatch(ctx, id, batch.ID); err != nil {
			s.log.Error().Err(err).
				Str("batch_id", batch.ID).
				Str("invoice_id", id).
				Msg("Failed to release invoice from failed batch")
		}
	}

	prev := batch.Status
	batch.Status = repository.BatchFailed
	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	s.audit(ctx, batch, prev, "failed", processor, cause.Error())
	s.log.Error().Err(cause).
		Str("batch_id", batch.ID).
		Int("released_invoices", len(batch.InvoiceIDs)).
		Msg("Payment channel submission failed; batch rolled back")

	return batch, apperr.Wrap(cause, apperr.ErrCodePaymentChannel,
		"payment channel rejected batch "+batch.BatchNumber+"; all invoices reverted to approved")
}

// Cancel abandons a batch from any pre-processed state, releasing its
// invoices.
func (s *BatchService) Cancel(ctx context.Context, batchID, actor, reason string) (*repository.PaymentBatch, error) {
	unlock := s.locks.Lock(batchID)
	defer unlock()

	batch, err := s.stores.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == repository.BatchCancelled {
		return batch, nil
	}
	if !batch.Open() {
		return nil, apperr.Newf(apperr.ErrCodeConflict,
			"cannot cancel batch with status %q", batch.Status)
	}

	for _, id := range batch.InvoiceIDs {
		if err := s.stores.Invoices.DetachFromBatch(ctx, id, batch.ID); err != nil {
			return nil, err
		}
	}

	prev := batch.Status
	batch.Status = repository.BatchCancelled
	if err := s.stores.Batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	s.audit(ctx, batch, prev, "cancelled", actor, reason)
	return batch, nil
}

// Get returns one batch by id.
func (s *BatchService) Get(ctx context.Context, batchID string) (*repository.PaymentBatch, error) {
	return s.stores.Batches.Get(ctx, batchID)
}

// List returns batches matching the filter.
func (s *BatchService) List(ctx context.Context, f repository.BatchFilter) ([]*repository.PaymentBatch, error) {
	return s.stores.Batches.List(ctx, f)
}

func (s *BatchService) audit(ctx context.Context, b *repository.PaymentBatch, prev repository.BatchStatus, action, actor, comment string) {
	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "batch",
		EntityID:   b.ID,
		PrevStatus: string(prev),
		NewStatus:  string(b.Status),
		Action:     action,
		Actor:      actor,
		Comment:    comment,
		Metadata:   map[string]any{"batch_number": b.BatchNumber, "total_amount": b.TotalAmount},
	})
}
