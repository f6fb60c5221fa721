// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the closed set of subscription plans
// and the daily operation budget each one grants.
package domain

import "strings"

// Plan is a subscription plan tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanPro     Plan = "pro"
)

// planBudgets maps each plan to its daily operation budget.
// Every value must be positive; a zero budget would make every check fail.
var planBudgets = map[Plan]int64{
	PlanFree:    10,
	PlanPremium: 500,
	PlanPro:     2000,
}

// Plans returns the known plans in ascending budget order.
func Plans() []Plan {
	return []Plan{PlanFree, PlanPremium, PlanPro}
}

// IsValid returns true if p is one of the known plans.
func (p Plan) IsValid() bool {
	_, ok := planBudgets[p]
	return ok
}

func (p Plan) String() string {
	return string(p)
}

// BudgetFor returns the daily budget for a plan, defaulting to the free
// budget for unknown plans. Whether an unknown plan is itself an error is
// decided by ParsePlan at the validation boundary, not here.
func BudgetFor(p Plan) int64 {
	if budget, ok := planBudgets[p]; ok {
		return budget
	}
	return planBudgets[PlanFree]
}

// ParsePlan validates a plan name supplied by a caller.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", InvalidPlan("plan.parse", s)
	}
	return p, nil
}
