package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// ApprovalService drives the step-by-step approval state machine nested
// inside an invoice. Exactly one Act call can succeed per step: callers race
// on the per-invoice lock and the loser sees StepNotActive after the winner's
// write.
type ApprovalService struct {
	stores *repository.Stores
	locks  *lock.KeyLocker
	dir    client.OrgDirectory
	notify *client.NotificationPublisher
	log    *logger.Logger
}

func NewApprovalService(
	stores *repository.Stores,
	locks *lock.KeyLocker,
	dir client.OrgDirectory,
	notify *client.NotificationPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		stores: stores,
		locks:  locks,
		dir:    dir,
		notify: notify,
		log:    log,
	}
}

// buildChain materializes one pending step per ApproverSpec, in order.
// Identities come from the ApproverSpec's fixed identity or the org directory; a
// failed resolution fails the whole build, so an invoice never enters the
// system with an unassignable step.
func buildChain(ctx context.Context, dir client.OrgDirectory, inv *repository.Invoice, rule *repository.ApprovalRule) ([]*repository.ApprovalStep, error) {
	if len(rule.Approvers) == 0 {
		return nil, apperr.Newf(apperr.ErrCodeChainIncomplete,
			"rule %q has no approvers configured", rule.Name)
	}

	steps := make([]*repository.ApprovalStep, 0, len(rule.Approvers))
	for i, spec := range rule.Approvers {
		step := &repository.ApprovalStep{
			ID:         uuid.NewString(),
			StepNumber: i + 1,
			Role:       spec.Role,
			Action:     repository.StepPending,
			Threshold:  spec.Threshold,
		}

		if spec.FixedApproverID != "" {
			step.ApproverID = spec.FixedApproverID
		} else {
			id, err := dir.ResolveApprover(ctx, spec.Role, inv.Department)
			if err != nil {
				return nil, err
			}
			step.ApproverID = id.ID
			step.ApproverName = id.Name
		}

		steps = append(steps, step)
	}
	return steps, nil
}

// ActRequest is one approver action on a chain step.
type ActRequest struct {
	InvoiceID  string                `json:"invoice_id"`
	StepNumber int                   `json:"step_number"`
	Actor      string                `json:"actor"`
	Decision   repository.StepAction `json:"decision"` // approved | rejected | delegated
	Comments   string                `json:"comments,omitempty"`
	DelegateTo string                `json:"delegate_to,omitempty"`
}

// Act advances the approval chain by one approver decision.
func (s *ApprovalService) Act(ctx context.Context, req *ActRequest) (*repository.Invoice, error) {
	switch req.Decision {
	case repository.StepApproved, repository.StepRejected, repository.StepDelegated:
	default:
		return nil, apperr.InvalidInput("decision", "must be approved, rejected or delegated")
	}

	unlock := s.locks.Lock(req.InvoiceID)
	defer unlock()

	inv, err := s.stores.Invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != repository.InvoicePendingApproval {
		return nil, apperr.Newf(apperr.ErrCodeStepNotActive,
			"invoice %s is %s, not pending approval", inv.InvoiceNumber, inv.Status)
	}

	active := inv.CurrentStep()
	if active == nil || active.StepNumber != req.StepNumber {
		return nil, apperr.Newf(apperr.ErrCodeStepNotActive,
			"step %d is not the active step for invoice %s", req.StepNumber, inv.InvoiceNumber)
	}

	if err := s.assertCanAct(ctx, active, req.Actor); err != nil {
		return nil, err
	}

	switch req.Decision {
	case repository.StepApproved:
		err = s.approveStep(ctx, inv, active, req)
	case repository.StepRejected:
		err = s.rejectStep(ctx, inv, active, req)
	case repository.StepDelegated:
		err = s.delegateStep(ctx, inv, active, req)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *ApprovalService) approveStep(ctx context.Context, inv *repository.Invoice, step *repository.ApprovalStep, req *ActRequest) error {
	lastStep := step.StepNumber == len(inv.Steps)

	// A final approver without sufficient authority is a configuration gap,
	// surfaced as an error rather than silently finishing the chain.
	if lastStep && step.Threshold > 0 && inv.NetAmount > step.Threshold {
		return apperr.Newf(apperr.ErrCodeChainIncomplete,
			"invoice %s net amount %d exceeds final approver authority %d; the chain must be escalated",
			inv.InvoiceNumber, inv.NetAmount, step.Threshold)
	}

	now := time.Now().UTC()
	step.Action = repository.StepApproved
	step.ActedAt = &now
	if c := strings.TrimSpace(req.Comments); c != "" {
		step.Comments = &c
	}

	prev := inv.Status
	action := "step_approved"
	if lastStep {
		inv.Status = repository.InvoiceApproved
		action = "approved"
	}

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "invoice",
		EntityID:   inv.ID,
		PrevStatus: string(prev),
		NewStatus:  string(inv.Status),
		Action:     action,
		Actor:      req.Actor,
		Comment:    req.Comments,
		Metadata:   map[string]any{"step_number": step.StepNumber, "invoice_number": inv.InvoiceNumber},
	})

	if lastStep {
		s.notify.PublishInvoiceEvent("invoice_approved", inv.ID, req.Actor,
			[]string{inv.CreatedBy}, map[string]any{"invoice_number": inv.InvoiceNumber})
	} else {
		s.notify.PublishInvoiceEvent("invoice_approval_required", inv.ID, req.Actor,
			[]string{inv.CurrentApprover()}, map[string]any{"invoice_number": inv.InvoiceNumber})
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Int("step_number", step.StepNumber).
		Str("acted_by", req.Actor).
		Bool("chain_complete", lastStep).
		Msg("Approval step approved")

	return nil
}

func (s *ApprovalService) rejectStep(ctx context.Context, inv *repository.Invoice, step *repository.ApprovalStep, req *ActRequest) error {
	comments := strings.TrimSpace(req.Comments)
	if comments == "" {
		return apperr.InvalidInput("comments", "rejections must be explained")
	}

	now := time.Now().UTC()
	step.Action = repository.StepRejected
	step.ActedAt = &now
	step.Comments = &comments

	// Later steps stay pending permanently as a historical record of where
	// review stopped.
	prev := inv.Status
	inv.Status = repository.InvoiceRejected

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "invoice",
		EntityID:   inv.ID,
		PrevStatus: string(prev),
		NewStatus:  string(inv.Status),
		Action:     "rejected",
		Actor:      req.Actor,
		Comment:    comments,
		Metadata:   map[string]any{"step_number": step.StepNumber, "invoice_number": inv.InvoiceNumber},
	})

	s.notify.PublishInvoiceEvent("invoice_rejected", inv.ID, req.Actor,
		[]string{inv.CreatedBy}, map[string]any{"invoice_number": inv.InvoiceNumber, "reason": comments})

	s.log.Info().
		Str("invoice_id", inv.ID).
		Int("step_number", step.StepNumber).
		Str("acted_by", req.Actor).
		Msg("Invoice rejected")

	return nil
}

func (s *ApprovalService) delegateStep(ctx context.Context, inv *repository.Invoice, step *repository.ApprovalStep, req *ActRequest) error {
	delegate := strings.TrimSpace(req.DelegateTo)
	if delegate == "" {
		return apperr.InvalidInput("delegate_to", "is required for delegation")
	}
	if delegate == step.ApproverID {
		return apperr.InvalidInput("delegate_to", "cannot delegate a step to its current approver")
	}

	// The step stays pending: the delegate must still explicitly act.
	previous := step.ApproverID
	step.DelegatedTo = &delegate
	step.ApproverID = delegate
	step.ApproverName = ""
	if c := strings.TrimSpace(req.Comments); c != "" {
		step.Comments = &c
	}

	if err := s.stores.Invoices.Update(ctx, inv); err != nil {
		return err
	}

	appendAudit(ctx, s.stores.Audit, s.log, &repository.AuditEntry{
		EntityType: "invoice",
		EntityID:   inv.ID,
		PrevStatus: string(inv.Status),
		NewStatus:  string(inv.Status),
		Action:     "delegated",
		Actor:      req.Actor,
		Comment:    req.Comments,
		Metadata: map[string]any{
			"step_number":    step.StepNumber,
			"delegated_from": previous,
			"delegated_to":   delegate,
		},
	})

	s.notify.PublishInvoiceEvent("invoice_approval_required", inv.ID, req.Actor,
		[]string{delegate}, map[string]any{"invoice_number": inv.InvoiceNumber})

	s.log.Info().
		Str("invoice_id", inv.ID).
		Int("step_number", step.StepNumber).
		Str("delegated_to", delegate).
		Msg("Approval step delegated")

	return nil
}

// assertCanAct checks that the actor is the step's assigned approver or a
// permitted delegate of that approver.
func (s *ApprovalService) assertCanAct(ctx context.Context, step *repository.ApprovalStep, actor string) error {
	if actor == "" {
		return apperr.InvalidInput("actor", "is required")
	}
	if actor == step.ApproverID {
		return nil
	}

	ok, err := s.dir.IsDelegateOf(ctx, actor, step.ApproverID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.ErrCodeUnauthorizedActor,
			"%s is not authorized to act on step %d", actor, step.StepNumber)
	}
	return nil
}

// PendingForApprover returns invoices whose active step awaits the identity.
func (s *ApprovalService) PendingForApprover(ctx context.Context, approverID string) ([]*repository.Invoice, error) {
	return s.stores.Invoices.List(ctx, repository.InvoiceFilter{
		Status:     repository.InvoicePendingApproval,
		ApproverID: approverID,
	})
}
