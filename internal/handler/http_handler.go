// Package handler exposes the engine's operations over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
	"github.com/finvera/be-ap-workflow/internal/service"
)

// HTTPHandler routes HTTP requests to the services.
type HTTPHandler struct {
	invoices  *service.InvoiceService
	approvals *service.ApprovalService
	batches   *service.BatchService
	rules     *service.RuleService
	analytics *service.AnalyticsService
	log       *logger.Logger
}

func NewHTTPHandler(
	invoices *service.InvoiceService,
	approvals *service.ApprovalService,
	batches *service.BatchService,
	rules *service.RuleService,
	analytics *service.AnalyticsService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		invoices:  invoices,
		approvals: approvals,
		batches:   batches,
		rules:     rules,
		analytics: analytics,
		log:       log,
	}
}

// Register wires all routes onto the router.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Get("/{id}/history", h.InvoiceHistory)
			r.Post("/{id}/submit", h.SubmitInvoice)
			r.Post("/{id}/act", h.ActOnStep)
			r.Post("/{id}/hold", h.HoldInvoice)
			r.Post("/{id}/resume", h.ResumeInvoice)
			r.Post("/{id}/reject", h.RejectInvoice)
			r.Post("/{id}/dispute", h.DisputeInvoice)
			r.Post("/{id}/resolve-dispute", h.ResolveDispute)
			r.Post("/{id}/archive", h.ArchiveInvoice)
		})

		r.Get("/approvals/pending", h.PendingApprovals)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Post("/{id}/deactivate", h.DeactivateRule)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.BuildBatch)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/approve", h.ApproveBatch)
			r.Post("/{id}/process", h.ProcessBatch)
			r.Post("/{id}/cancel", h.CancelBatch)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", h.AnalyticsSummary)
			r.Get("/approver-loads", h.ApproverLoads)
			r.Get("/aging", h.Aging)
			r.Get("/monthly", h.MonthlyTotals)
		})
	})
}

// ── invoices ─────────────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req service.CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inv)
}

func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.InvoiceFilter{
		Status:     repository.InvoiceStatus(q.Get("status")),
		VendorID:   q.Get("vendor_id"),
		ApproverID: q.Get("approver_id"),
		DueFrom:    q.Get("due_from"),
		DueTo:      q.Get("due_to"),
	}
	if q.Get("unbatched") == "true" {
		f.Unbatched = true
	}

	invoices, err := h.invoices.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"total":    len(invoices),
	})
}

func (h *HTTPHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Submit(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) ActOnStep(w http.ResponseWriter, r *http.Request) {
	var req service.ActRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.InvoiceID = chi.URLParam(r, "id")

	inv, err := h.approvals.Act(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

type invoiceActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (h *HTTPHandler) HoldInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Hold(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) ResumeInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Resume(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Reject(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) DisputeInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.Dispute(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor   string `json:"actor"`
		Upheld  bool   `json:"upheld"`
		Comment string `json:"comment,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.invoices.ResolveDispute(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Upheld, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *HTTPHandler) ArchiveInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.invoices.Archive(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *HTTPHandler) InvoiceHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.invoices.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		h.writeError(w, apperr.InvalidInput("approver_id", "is required"))
		return
	}

	invoices, err := h.approvals.PendingForApprover(r.Context(), approverID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"total":    len(invoices),
	})
}

// ── rules ────────────────────────────────────────────────────────────────────

type ruleRequest struct {
	Rule  *repository.ApprovalRule `json:"rule"`
	Actor string                   `json:"actor"`
}

func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Rule == nil {
		h.writeError(w, apperr.InvalidInput("rule", "is required"))
		return
	}

	rule, err := h.rules.Create(r.Context(), req.Rule, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListActive(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"total": len(rules),
	})
}

func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Rule == nil {
		h.writeError(w, apperr.InvalidInput("rule", "is required"))
		return
	}
	req.Rule.ID = chi.URLParam(r, "id")

	rule, err := h.rules.Update(r.Context(), req.Rule, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.rules.Deactivate(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ── batches ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	f := repository.BatchFilter{
		Status: repository.BatchStatus(r.URL.Query().Get("status")),
	}

	batches, err := h.batches.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"total":   len(batches),
	})
}

func (h *HTTPHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

func (h *HTTPHandler) BuildBatch(w http.ResponseWriter, r *http.Request) {
	var req service.BuildBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := h.batches.BuildBatch(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, batch)
}

type batchActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (h *HTTPHandler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := h.batches.Approve(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

func (h *HTTPHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := h.batches.Process(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

func (h *HTTPHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	var req batchActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := h.batches.Cancel(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// ── analytics ────────────────────────────────────────────────────────────────

func (h *HTTPHandler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.analytics.Summarize(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

func (h *HTTPHandler) ApproverLoads(w http.ResponseWriter, r *http.Request) {
	loads, err := h.analytics.ApproverLoads(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approvers": loads})
}

func (h *HTTPHandler) Aging(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.analytics.Aging(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (h *HTTPHandler) MonthlyTotals(w http.ResponseWriter, r *http.Request) {
	months, _ := strconv.Atoi(r.URL.Query().Get("months"))
	if months < 1 {
		months = 12
	}

	totals, err := h.analytics.MonthlyTotals(r.Context(), months)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"months": totals})
}

// ── response helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, apperr.Wrap(err, apperr.ErrCodeValidation, "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperr.ErrCodeValidation, apperr.ErrCodeNoApprovalRule, apperr.ErrCodeEmptyBatch:
		status = http.StatusBadRequest
	case apperr.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperr.ErrCodeConflict, apperr.ErrCodeStepNotActive, apperr.ErrCodeChainIncomplete:
		status = http.StatusConflict
	case apperr.ErrCodeUnauthorizedActor, apperr.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case apperr.ErrCodePaymentChannel:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
