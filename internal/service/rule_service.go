package service

import (
	"context"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// RuleService manages approval rules. A rule that has built a chain is
// immutable; amendments go through a successor rule plus deactivation of the
// old one, which keeps every historical chain reproducible.
type RuleService struct {
	stores *repository.Stores
	log    *logger.Logger
}

func NewRuleService(stores *repository.Stores, log *logger.Logger) *RuleService {
	return &RuleService{stores: stores, log: log}
}

// Create validates and stores a new rule, active by default.
func (s *RuleService) Create(ctx context.Context, r *repository.ApprovalRule, actor string) (*repository.ApprovalRule, error) {
	if err := validateRule(r); err != nil {
		return nil, err
	}
	r.IsActive = true
	r.UsedCount = 0
	if err := s.stores.Rules.Create(ctx, r); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "rule",
		EntityID:   r.ID,
		NewStatus:  "active",
		Action:     "created",
		Actor:      actor,
		Metadata:   map[string]any{"name": r.Name, "priority": r.Priority},
	})
	return r, nil
}

// Update amends a rule that has never built a chain. Used rules refuse with
// CONFLICT; create a successor and deactivate instead.
func (s *RuleService) Update(ctx context.Context, r *repository.ApprovalRule, actor string) (*repository.ApprovalRule, error) {
	if err := validateRule(r); err != nil {
		return nil, err
	}
	if err := s.stores.Rules.Update(ctx, r); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "rule",
		EntityID:   r.ID,
		Action:     "updated",
		Actor:      actor,
		Metadata:   map[string]any{"name": r.Name},
	})
	return r, nil
}

// Deactivate retires a rule from matching. Already-built chains keep running.
func (s *RuleService) Deactivate(ctx context.Context, id, actor string) error {
	if err := s.stores.Rules.Deactivate(ctx, id); err != nil {
		return err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "rule",
		EntityID:   id,
		PrevStatus: "active",
		NewStatus:  "inactive",
		Action:     "deactivated",
		Actor:      actor,
	})
	return nil
}

// Get returns one rule by id.
func (s *RuleService) Get(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	return s.stores.Rules.Get(ctx, id)
}

// ListActive returns every rule currently eligible for matching.
func (s *RuleService) ListActive(ctx context.Context) ([]*repository.ApprovalRule, error) {
	return s.stores.Rules.ListActive(ctx)
}

func validateRule(r *repository.ApprovalRule) error {
	if r.Name == "" {
		return apperr.InvalidInput("name", "is required")
	}
	if len(r.Approvers) == 0 {
		return apperr.InvalidInput("approvers", "at least one approver is required")
	}
	for i, a := range r.Approvers {
		if a.Role == "" && a.FixedApproverID == "" {
			return apperr.Newf(apperr.ErrCodeValidation,
				"approver %d: role or fixed approver id is required", i+1)
		}
		if a.Threshold < 0 {
			return apperr.Newf(apperr.ErrCodeValidation,
				"approver %d: threshold cannot be negative", i+1)
		}
	}
	c := r.Conditions
	if c.MinAmount != nil && *c.MinAmount < 0 {
		return apperr.InvalidInput("conditions.min_amount", "cannot be negative")
	}
	if c.MaxAmount != nil && *c.MaxAmount < 0 {
		return apperr.InvalidInput("conditions.max_amount", "cannot be negative")
	}
	if c.MinAmount != nil && c.MaxAmount != nil && *c.MinAmount > *c.MaxAmount {
		return apperr.InvalidInput("conditions", "min_amount exceeds max_amount")
	}
	return nil
}
