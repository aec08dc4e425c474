package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// BatchStore persists payment batches. Batch numbers are issued from a
// per-year sequence inside the insert transaction.
type BatchStore struct {
	db *DB
}

func NewBatchStore(db *DB) *BatchStore {
	return &BatchStore{db: db}
}

const batchColumns = `
	id, batch_number, payment_date::text, payment_method, bank_account, status,
	invoice_ids, total_amount, approved_by, approved_at, processed_by, processed_at,
	has_partial_failures, outcomes, version, created_at, updated_at`

func (s *BatchStore) Create(ctx context.Context, b *repository.PaymentBatch) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx, `
			INSERT INTO batch_sequences (year, last_value)
			VALUES (EXTRACT(YEAR FROM NOW())::int, 1)
			ON CONFLICT (year) DO UPDATE SET last_value = batch_sequences.last_value + 1
			RETURNING last_value
		`).Scan(&seq)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to issue batch number")
		}

		query := `
			INSERT INTO payment_batches (batch_number, payment_date, payment_method,
			                             bank_account, status, invoice_ids, total_amount)
			VALUES (CONCAT('BATCH-', EXTRACT(YEAR FROM NOW())::int, '-', LPAD($1::text, 3, '0')),
			        $2, $3::payment_method, $4, $5::batch_status, $6, $7)
			RETURNING id, batch_number, version, created_at, updated_at
		`
		err = tx.QueryRow(ctx, query,
			seq,
			b.PaymentDate,
			b.PaymentMethod,
			b.BankAccount,
			b.Status,
			b.InvoiceIDs,
			b.TotalAmount,
		).Scan(&b.ID, &b.BatchNumber, &b.Version, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create payment batch")
		}
		return nil
	})
}

func (s *BatchStore) Get(ctx context.Context, id string) (*repository.PaymentBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM payment_batches WHERE id = $1`

	b, err := scanBatch(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment_batch", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get payment batch")
	}
	return b, nil
}

func (s *BatchStore) List(ctx context.Context, f repository.BatchFilter) ([]*repository.PaymentBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM payment_batches`
	args := []any{}

	if f.Status != "" {
		query += " WHERE status = $1::batch_status"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list payment batches")
	}
	defer rows.Close()

	batches := make([]*repository.PaymentBatch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan payment batch")
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *BatchStore) Update(ctx context.Context, b *repository.PaymentBatch) error {
	outcomesJSON, err := json.Marshal(b.Outcomes)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal batch outcomes")
	}

	query := `
		UPDATE payment_batches
		SET status = $3::batch_status,
		    invoice_ids = $4,
		    total_amount = $5,
		    approved_by = $6,
		    approved_at = $7,
		    processed_by = $8,
		    processed_at = $9,
		    has_partial_failures = $10,
		    outcomes = $11,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err = s.db.QueryRow(ctx, query,
		b.ID,
		b.Version,
		b.Status,
		b.InvoiceIDs,
		b.TotalAmount,
		nullStr(b.ApprovedBy),
		b.ApprovedAt,
		nullStr(b.ProcessedBy),
		b.ProcessedAt,
		b.HasPartialFailures,
		outcomesJSON,
	).Scan(&b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if e := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM payment_batches WHERE id = $1)`, b.ID,
		).Scan(&exists); e != nil {
			return apperr.Wrap(e, apperr.ErrCodeInternal, "failed to update payment batch")
		}
		if !exists {
			return apperr.NotFound("payment_batch", b.ID)
		}
		return apperr.Newf(apperr.ErrCodeConflict,
			"batch %s was modified concurrently", b.ID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update payment batch")
	}
	return nil
}

func scanBatch(row pgx.Row) (*repository.PaymentBatch, error) {
	b := &repository.PaymentBatch{}
	var approvedBy, processedBy *string
	var outcomesJSON []byte
	err := row.Scan(
		&b.ID,
		&b.BatchNumber,
		&b.PaymentDate,
		&b.PaymentMethod,
		&b.BankAccount,
		&b.Status,
		&b.InvoiceIDs,
		&b.TotalAmount,
		&approvedBy,
		&b.ApprovedAt,
		&processedBy,
		&b.ProcessedAt,
		&b.HasPartialFailures,
		&outcomesJSON,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if approvedBy != nil {
		b.ApprovedBy = *approvedBy
	}
	if processedBy != nil {
		b.ProcessedBy = *processedBy
	}
	if len(outcomesJSON) > 0 {
		if err := json.Unmarshal(outcomesJSON, &b.Outcomes); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal batch outcomes")
		}
	}
	return b, nil
}
