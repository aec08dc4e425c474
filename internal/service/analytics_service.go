package service

import (
	"context"
	"sort"
	"time"

	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// AnalyticsService computes read-only aggregates over the invoice book.
// Everything here is derived on demand; nothing is persisted.
type AnalyticsService struct {
	stores *repository.Stores
	log    *logger.Logger
}

func NewAnalyticsService(stores *repository.Stores, log *logger.Logger) *AnalyticsService {
	return &AnalyticsService{stores: stores, log: log}
}

// ApproverLoad is the pending workload sitting on one approver's desk.
type ApproverLoad struct {
	ApproverID   string `json:"approver_id"`
	PendingCount int    `json:"pending_count"`
	PendingCents int64  `json:"pending_cents"`
}

// AgingBucket groups unpaid invoices by days past due.
type AgingBucket struct {
	Label string `json:"label"` // "0-30", "31-60", "61-90", "91+"
	Count int    `json:"count"`
	Cents int64  `json:"cents"`
}

// MonthlyTotal is one month's invoiced volume.
type MonthlyTotal struct {
	Month string `json:"month"` // YYYY-MM
	Count int    `json:"count"`
	Cents int64  `json:"cents"`
}

// Summary is the headline KPI set.
type Summary struct {
	PendingApprovalCount int   `json:"pending_approval_count"`
	PendingApprovalCents int64 `json:"pending_approval_cents"`
	ApprovedUnpaidCount  int   `json:"approved_unpaid_count"`
	ApprovedUnpaidCents  int64 `json:"approved_unpaid_cents"`
	OverdueCount         int   `json:"overdue_count"`
	OverdueCents         int64 `json:"overdue_cents"`
	OnHoldCount          int   `json:"on_hold_count"`
	DisputedCount        int   `json:"disputed_count"`
	PaidThisMonthCents   int64 `json:"paid_this_month_cents"`
}

// ApproverLoads returns pending approval workload per approver, heaviest
// dollar total first.
func (s *AnalyticsService) ApproverLoads(ctx context.Context) ([]ApproverLoad, error) {
	invoices, err := s.stores.Invoices.List(ctx, repository.InvoiceFilter{
		Status: repository.InvoicePendingApproval,
	})
	if err != nil {
		return nil, err
	}

	byApprover := map[string]*ApproverLoad{}
	for _, inv := range invoices {
		step := inv.CurrentStep()
		if step == nil {
			continue
		}
		load, ok := byApprover[step.ApproverID]
		if !ok {
			load = &ApproverLoad{ApproverID: step.ApproverID}
			byApprover[step.ApproverID] = load
		}
		load.PendingCount++
		load.PendingCents += inv.NetAmount
	}

	loads := make([]ApproverLoad, 0, len(byApprover))
	for _, l := range byApprover {
		loads = append(loads, *l)
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].PendingCents != loads[j].PendingCents {
			return loads[i].PendingCents > loads[j].PendingCents
		}
		return loads[i].ApproverID < loads[j].ApproverID
	})
	return loads, nil
}

// Aging buckets every unpaid, non-terminal invoice by days past its due
// date as of now. Invoices not yet due land in the first bucket.
func (s *AnalyticsService) Aging(ctx context.Context, now time.Time) ([]AgingBucket, error) {
	invoices, err := s.stores.Invoices.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	buckets := []AgingBucket{
		{Label: "0-30"},
		{Label: "31-60"},
		{Label: "61-90"},
		{Label: "91+"},
	}

	for _, inv := range invoices {
		if inv.Status.Terminal() || inv.Status == repository.InvoiceDraft {
			continue
		}
		due, err := time.Parse("2006-01-02", inv.DueDate)
		if err != nil {
			continue
		}
		days := int(now.Sub(due).Hours() / 24)
		var idx int
		switch {
		case days <= 30:
			idx = 0
		case days <= 60:
			idx = 1
		case days <= 90:
			idx = 2
		default:
			idx = 3
		}
		buckets[idx].Count++
		buckets[idx].Cents += inv.NetAmount - inv.AmountPaid
	}
	return buckets, nil
}

// MonthlyTotals returns invoiced volume per invoice-date month for the last
// `months` months, oldest first.
func (s *AnalyticsService) MonthlyTotals(ctx context.Context, months int) ([]MonthlyTotal, error) {
	invoices, err := s.stores.Invoices.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	byMonth := map[string]*MonthlyTotal{}
	for _, inv := range invoices {
		if len(inv.InvoiceDate) < 7 {
			continue
		}
		month := inv.InvoiceDate[:7]
		t, ok := byMonth[month]
		if !ok {
			t = &MonthlyTotal{Month: month}
			byMonth[month] = t
		}
		t.Count++
		t.Cents += inv.NetAmount
	}

	totals := make([]MonthlyTotal, 0, len(byMonth))
	for _, t := range byMonth {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Month < totals[j].Month })

	if months > 0 && len(totals) > months {
		totals = totals[len(totals)-months:]
	}
	return totals, nil
}

// Summarize computes the headline KPIs as of now.
func (s *AnalyticsService) Summarize(ctx context.Context, now time.Time) (*Summary, error) {
	invoices, err := s.stores.Invoices.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	today := now.Format("2006-01-02")
	thisMonth := now.Format("2006-01")
	sum := &Summary{}

	for _, inv := range invoices {
		switch inv.Status {
		case repository.InvoicePendingApproval:
			sum.PendingApprovalCount++
			sum.PendingApprovalCents += inv.NetAmount
		case repository.InvoiceApproved, repository.InvoicePartiallyPaid:
			sum.ApprovedUnpaidCount++
			sum.ApprovedUnpaidCents += inv.NetAmount - inv.AmountPaid
		case repository.InvoiceOnHold:
			sum.OnHoldCount++
		case repository.InvoiceDisputed:
			sum.DisputedCount++
		case repository.InvoicePaid:
			if inv.UpdatedAt.Format("2006-01") == thisMonth {
				sum.PaidThisMonthCents += inv.AmountPaid
			}
		}

		if !inv.Status.Terminal() && inv.Status != repository.InvoiceDraft &&
			inv.Status != repository.InvoicePaid && inv.DueDate != "" && inv.DueDate < today {
			sum.OverdueCount++
			sum.OverdueCents += inv.NetAmount - inv.AmountPaid
		}
	}
	return sum, nil
}
