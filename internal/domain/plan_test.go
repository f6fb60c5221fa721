package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		plan Plan
		want int64
	}{
		{PlanFree, 10},
		{PlanPremium, 500},
		{PlanPro, 2000},
		{Plan("enterprise"), 10},
		{Plan(""), 10},
		{Plan("PRO"), 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			assert.Equal(t, tt.want, BudgetFor(tt.plan))
		})
	}
}

func TestPlans_AscendingBudget(t *testing.T) {
	plans := Plans()
	require.Len(t, plans, 3)
	for i := 1; i < len(plans); i++ {
		assert.Less(t, BudgetFor(plans[i-1]), BudgetFor(plans[i]))
	}
	for _, p := range plans {
		assert.True(t, p.IsValid(), p)
		assert.Positive(t, BudgetFor(p), p)
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in      string
		want    Plan
		wantErr bool
	}{
		{"free", PlanFree, false},
		{"Premium", PlanPremium, false},
		{" PRO ", PlanPro, false},
		{"\tpro\n", PlanPro, false},
		{"", "", true},
		{"enterprise", "", true},
		{"pro plus", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlan(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, EINVALIDPLAN, ErrorCode(err))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
