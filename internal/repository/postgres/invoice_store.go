package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// InvoiceStore persists invoices and their approval steps. Updates carry an
// optimistic version check in the WHERE clause; a zero-row update on an
// existing invoice is a version conflict.
type InvoiceStore struct {
	db *DB
}

func NewInvoiceStore(db *DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

const invoiceColumns = `
	id, invoice_number, vendor_id, purchase_order, invoice_date::text, due_date::text,
	gross_amount, tax_amount, discount_amount, net_amount,
	gl_account, cost_center, department, priority, description, attachments,
	status, rule_id, prior_status, open_batch_id, amount_paid, archived,
	version, created_by, created_at, updated_at`

func (s *InvoiceStore) Create(ctx context.Context, inv *repository.Invoice) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM invoices WHERE vendor_id = $1 AND invoice_number = $2)`,
			inv.VendorID, inv.InvoiceNumber,
		).Scan(&exists)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check invoice number")
		}
		if exists {
			return apperr.Newf(apperr.ErrCodeConflict,
				"invoice number %q already exists for vendor %s", inv.InvoiceNumber, inv.VendorID)
		}

		query := `
			INSERT INTO invoices (invoice_number, vendor_id, purchase_order, invoice_date, due_date,
			                      gross_amount, tax_amount, discount_amount, net_amount,
			                      gl_account, cost_center, department, priority, description,
			                      attachments, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			        $13::invoice_priority, $14, $15, $16::invoice_status, $17)
			RETURNING id, version, created_at, updated_at
		`
		err = tx.QueryRow(ctx, query,
			inv.InvoiceNumber,
			inv.VendorID,
			inv.PurchaseOrder,
			inv.InvoiceDate,
			inv.DueDate,
			inv.GrossAmount,
			inv.TaxAmount,
			inv.DiscountAmount,
			inv.NetAmount,
			inv.GLAccount,
			inv.CostCenter,
			inv.Department,
			inv.Priority,
			inv.Description,
			inv.Attachments,
			inv.Status,
			inv.CreatedBy,
		).Scan(&inv.ID, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create invoice")
		}

		return insertSteps(ctx, tx, inv.ID, inv.Steps)
	})
}

func (s *InvoiceStore) Get(ctx context.Context, id string) (*repository.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get invoice")
	}

	inv.Steps, err = s.getSteps(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *InvoiceStore) List(ctx context.Context, f repository.InvoiceFilter) ([]*repository.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE archived = FALSE`
	args := []any{}
	argn := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d::invoice_status", argn)
		args = append(args, f.Status)
		argn++
	}
	if f.VendorID != "" {
		query += fmt.Sprintf(" AND vendor_id = $%d", argn)
		args = append(args, f.VendorID)
		argn++
	}
	if f.DueFrom != "" {
		query += fmt.Sprintf(" AND due_date >= $%d", argn)
		args = append(args, f.DueFrom)
		argn++
	}
	if f.DueTo != "" {
		query += fmt.Sprintf(" AND due_date <= $%d", argn)
		args = append(args, f.DueTo)
		argn++
	}
	if f.Unbatched {
		query += " AND open_batch_id IS NULL"
	}
	if f.Payable {
		query += " AND status IN ('approved', 'partially_paid')"
	}
	if f.ApproverID != "" {
		query += fmt.Sprintf(` AND id IN (
			SELECT invoice_id FROM approval_steps st
			WHERE st.approver_id = $%d AND st.action = 'pending'
			  AND st.step_number = (
			      SELECT MIN(step_number) FROM approval_steps
			      WHERE invoice_id = st.invoice_id AND action = 'pending')
		)`, argn)
		args = append(args, f.ApproverID)
		argn++
	}

	query += " ORDER BY due_date ASC, invoice_number ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*repository.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list invoices")
	}

	for _, inv := range invoices {
		inv.Steps, err = s.getSteps(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func (s *InvoiceStore) Update(ctx context.Context, inv *repository.Invoice) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE invoices
			SET status = $3::invoice_status,
			    rule_id = $4,
			    prior_status = $5,
			    open_batch_id = $6,
			    amount_paid = $7,
			    archived = $8,
			    priority = $9::invoice_priority,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err := tx.QueryRow(ctx, query,
			inv.ID,
			inv.Version,
			inv.Status,
			nullStr(inv.RuleID),
			nullStr(string(inv.PriorStatus)),
			nullStr(inv.OpenBatchID),
			inv.AmountPaid,
			inv.Archived,
			inv.Priority,
		).Scan(&inv.Version, &inv.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if e := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, inv.ID,
			).Scan(&exists); e != nil {
				return apperr.Wrap(e, apperr.ErrCodeInternal, "failed to update invoice")
			}
			if !exists {
				return apperr.NotFound("invoice", inv.ID)
			}
			return apperr.Newf(apperr.ErrCodeConflict,
				"invoice %s was modified concurrently", inv.ID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update invoice")
		}

		// Steps are replaced wholesale; the set is small and bounded by the
		// rule's approver list.
		if _, err := tx.Exec(ctx,
			`DELETE FROM approval_steps WHERE invoice_id = $1`, inv.ID); err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to replace approval steps")
		}
		return insertSteps(ctx, tx, inv.ID, inv.Steps)
	})
}

func (s *InvoiceStore) AttachToBatch(ctx context.Context, invoiceID, batchID string) error {
	query := `
		UPDATE invoices
		SET open_batch_id = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('approved', 'partially_paid') AND open_batch_id IS NULL
	`
	tag, err := s.db.Exec(ctx, query, invoiceID, batchID)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to attach invoice to batch")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.ErrCodeConflict,
			"invoice %s is not attachable", invoiceID)
	}
	return nil
}

func (s *InvoiceStore) DetachFromBatch(ctx context.Context, invoiceID, batchID string) error {
	query := `
		UPDATE invoices
		SET open_batch_id = NULL,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND open_batch_id = $2
	`
	if _, err := s.db.Exec(ctx, query, invoiceID, batchID); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to detach invoice from batch")
	}
	return nil
}

func (s *InvoiceStore) getSteps(ctx context.Context, invoiceID string) ([]*repository.ApprovalStep, error) {
	query := `
		SELECT id, step_number, role, approver_id, approver_name,
		       action, comments, acted_at, delegated_to, threshold
		FROM approval_steps
		WHERE invoice_id = $1
		ORDER BY step_number
	`
	rows, err := s.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []*repository.ApprovalStep
	for rows.Next() {
		step := &repository.ApprovalStep{}
		err := rows.Scan(
			&step.ID,
			&step.StepNumber,
			&step.Role,
			&step.ApproverID,
			&step.ApproverName,
			&step.Action,
			&step.Comments,
			&step.ActedAt,
			&step.DelegatedTo,
			&step.Threshold,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func insertSteps(ctx context.Context, tx pgx.Tx, invoiceID string, steps []*repository.ApprovalStep) error {
	for _, step := range steps {
		query := `
			INSERT INTO approval_steps (invoice_id, step_number, role, approver_id, approver_name,
			                            action, comments, acted_at, delegated_to, threshold)
			VALUES ($1, $2, $3, $4, $5, $6::step_action, $7, $8, $9, $10)
			RETURNING id
		`
		err := tx.QueryRow(ctx, query,
			invoiceID,
			step.StepNumber,
			step.Role,
			step.ApproverID,
			step.ApproverName,
			step.Action,
			step.Comments,
			step.ActedAt,
			step.DelegatedTo,
			step.Threshold,
		).Scan(&step.ID)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to insert approval step")
		}
	}
	return nil
}

func scanInvoice(row pgx.Row) (*repository.Invoice, error) {
	inv := &repository.Invoice{}
	var ruleID, priorStatus, openBatchID *string
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.VendorID,
		&inv.PurchaseOrder,
		&inv.InvoiceDate,
		&inv.DueDate,
		&inv.GrossAmount,
		&inv.TaxAmount,
		&inv.DiscountAmount,
		&inv.NetAmount,
		&inv.GLAccount,
		&inv.CostCenter,
		&inv.Department,
		&inv.Priority,
		&inv.Description,
		&inv.Attachments,
		&inv.Status,
		&ruleID,
		&priorStatus,
		&openBatchID,
		&inv.AmountPaid,
		&inv.Archived,
		&inv.Version,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ruleID != nil {
		inv.RuleID = *ruleID
	}
	if priorStatus != nil {
		inv.PriorStatus = repository.InvoiceStatus(*priorStatus)
	}
	if openBatchID != nil {
		inv.OpenBatchID = *openBatchID
	}
	return inv, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
