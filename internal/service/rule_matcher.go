package service

import (
	"math"
	"sort"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// MatchRule selects the single applicable approval rule for an invoice from a
// snapshot of active rules. It is a pure function: given the same invoice and
// rule set it always returns the same rule.
//
// Selection: every condition dimension must hold (an omitted dimension matches
// universally). Among multiple matches the rule with the narrowest amount band
// wins; an unbounded max counts as the largest possible value. Remaining ties
// break by priority ascending, then rule id for determinism. Zero matches is a
// configuration error: an invoice must never enter the system without a
// defined chain.
func MatchRule(inv *repository.Invoice, rules []*repository.ApprovalRule) (*repository.ApprovalRule, error) {
	var matched []*repository.ApprovalRule
	for _, r := range rules {
		if r.IsActive && ruleMatches(r, inv) {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		return nil, apperr.Newf(apperr.ErrCodeNoApprovalRule,
			"no active approval rule matches invoice %s (amount %d, vendor %s, department %s, gl %s, cost center %s)",
			inv.InvoiceNumber, inv.NetAmount, inv.VendorID, inv.Department, inv.GLAccount, inv.CostCenter)
	}

	sort.Slice(matched, func(i, j int) bool {
		bi, bj := bandWidth(matched[i]), bandWidth(matched[j])
		if bi != bj {
			return bi < bj
		}
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	return matched[0], nil
}

func ruleMatches(r *repository.ApprovalRule, inv *repository.Invoice) bool {
	c := r.Conditions
	if c.MinAmount != nil && inv.NetAmount < *c.MinAmount {
		return false
	}
	if c.MaxAmount != nil && inv.NetAmount > *c.MaxAmount {
		return false
	}
	if !dimensionMatches(c.Vendors, inv.VendorID) {
		return false
	}
	if !dimensionMatches(c.Departments, inv.Department) {
		return false
	}
	if !dimensionMatches(c.GLAccounts, inv.GLAccount) {
		return false
	}
	if !dimensionMatches(c.CostCenters, inv.CostCenter) {
		return false
	}
	return true
}

// dimensionMatches treats an empty condition list as "matches any".
func dimensionMatches(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// bandWidth is maxAmount - minAmount, the specificity measure. Unbounded ends
// extend the band to the extremes.
func bandWidth(r *repository.ApprovalRule) uint64 {
	lo := int64(0)
	if r.Conditions.MinAmount != nil {
		lo = *r.Conditions.MinAmount
	}
	hi := int64(math.MaxInt64)
	if r.Conditions.MaxAmount != nil {
		hi = *r.Conditions.MaxAmount
	}
	if hi < lo {
		return 0
	}
	return uint64(hi) - uint64(lo)
}
