package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	pro := plan.Plan{
		Features: []plan.Feature{"live_scoring", "video_analysis"},
		Limits: map[plan.Metric]int64{
			plan.MaxTeams:   plan.Unlimited,
			plan.MaxPlayers: 500,
		},
	}
	basic := plan.Plan{
		Features: []plan.Feature{"live_scoring", "data_export"},
		Limits: map[plan.Metric]int64{
			plan.MaxTeams:     5,
			plan.MaxPlayers:   500,
			plan.MaxStorageGB: 20,
		},
	}

	cmp := plan.Compare(pro, basic)
	assert.Equal(t, []plan.Feature{"data_export"}, cmp.NewFeatures)
	assert.Equal(t, []plan.Feature{"video_analysis"}, cmp.LostFeatures)
	assert.Equal(t, plan.LimitChange{From: plan.Unlimited, To: 5}, cmp.DecreasedLimits[plan.MaxTeams])
	assert.Equal(t, plan.LimitChange{From: 0, To: 20}, cmp.IncreasedLimits[plan.MaxStorageGB])
	assert.NotContains(t, cmp.DecreasedLimits, plan.MaxPlayers)
	assert.True(t, cmp.HasDecreases())

	back := plan.Compare(basic, pro)
	assert.Equal(t, plan.LimitChange{From: 5, To: plan.Unlimited}, back.IncreasedLimits[plan.MaxTeams])
	assert.Equal(t, plan.LimitChange{From: 20, To: 0}, back.DecreasedLimits[plan.MaxStorageGB])
}
