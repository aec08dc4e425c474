package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// RuleStore persists approval rules with conditions and approver chains as
// jsonb columns.
type RuleStore struct {
	db *DB
}

func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) Create(ctx context.Context, r *repository.ApprovalRule) error {
	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal rule conditions")
	}
	approversJSON, err := json.Marshal(r.Approvers)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal rule approvers")
	}

	query := `
		INSERT INTO approval_rules (name, description, priority, conditions, approvers, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, used_count, created_at, updated_at
	`
	err = s.db.QueryRow(ctx, query,
		r.Name,
		r.Description,
		r.Priority,
		conditionsJSON,
		approversJSON,
		r.IsActive,
	).Scan(&r.ID, &r.UsedCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	query := `
		SELECT id, name, description, priority, conditions, approvers,
		       is_active, used_count, created_at, updated_at
		FROM approval_rules
		WHERE id = $1
	`
	rule, err := scanRule(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

func (s *RuleStore) ListActive(ctx context.Context) ([]*repository.ApprovalRule, error) {
	query := `
		SELECT id, name, description, priority, conditions, approvers,
		       is_active, used_count, created_at, updated_at
		FROM approval_rules
		WHERE is_active = TRUE
		ORDER BY priority ASC, name ASC
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	rules := make([]*repository.ApprovalRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *RuleStore) Update(ctx context.Context, r *repository.ApprovalRule) error {
	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal rule conditions")
	}
	approversJSON, err := json.Marshal(r.Approvers)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal rule approvers")
	}

	// Used rules are immutable: the update only lands while used_count = 0.
	query := `
		UPDATE approval_rules
		SET name = $2,
		    description = $3,
		    priority = $4,
		    conditions = $5,
		    approvers = $6,
		    is_active = $7,
		    updated_at = NOW()
		WHERE id = $1 AND used_count = 0
		RETURNING updated_at
	`
	err = s.db.QueryRow(ctx, query,
		r.ID,
		r.Name,
		r.Description,
		r.Priority,
		conditionsJSON,
		approversJSON,
		r.IsActive,
	).Scan(&r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if e := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM approval_rules WHERE id = $1)`, r.ID,
		).Scan(&exists); e != nil {
			return apperr.Wrap(e, apperr.ErrCodeInternal, "failed to update approval rule")
		}
		if !exists {
			return apperr.NotFound("approval_rule", r.ID)
		}
		return apperr.Newf(apperr.ErrCodeConflict,
			"rule %s has built approval chains and cannot be amended; create a successor rule", r.ID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update approval rule")
	}
	return nil
}

func (s *RuleStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_rules SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to deactivate approval rule")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval_rule", id)
	}
	return nil
}

func (s *RuleStore) MarkUsed(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE approval_rules SET used_count = used_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to mark rule used")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval_rule", id)
	}
	return nil
}

func scanRule(row pgx.Row) (*repository.ApprovalRule, error) {
	rule := &repository.ApprovalRule{}
	var conditionsJSON, approversJSON []byte
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Priority,
		&conditionsJSON,
		&approversJSON,
		&rule.IsActive,
		&rule.UsedCount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal rule conditions")
	}
	if err := json.Unmarshal(approversJSON, &rule.Approvers); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal rule approvers")
	}
	return rule, nil
}
