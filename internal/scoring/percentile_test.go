package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

func standings(scores ...float64) []Standing {
	out := make([]Standing, len(scores))
	for i, s := range scores {
		out[i] = Standing{StudentID: string(rune('a' + i)), Score: s}
	}
	return out
}

func categories(updates []models.RankUpdate) []models.Category {
	out := make([]models.Category, len(updates))
	for i, u := range updates {
		out[i] = u.Category
	}
	return out
}

func TestAssignPercentilesCategories(t *testing.T) {
	const (
		best   = models.CategoryBest
		medium = models.CategoryMedium
		worst  = models.CategoryWorst
	)
	tests := []struct {
		name   string
		scores []float64
		want   []models.Category
	}{
		{name: "single student falls in the bottom band", scores: []float64{70}, want: []models.Category{worst}},
		{name: "three students", scores: []float64{90, 80, 70}, want: []models.Category{medium, medium, worst}},
		{name: "four students", scores: []float64{90, 80, 70, 60}, want: []models.Category{best, medium, medium, worst}},
		{name: "eight students", scores: []float64{10, 20, 30, 40, 50, 60, 70, 80}, want: []models.Category{best, best, medium, medium, medium, medium, worst, worst}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			updates := AssignPercentiles(standings(tc.scores...))
			assert.Equal(t, tc.want, categories(updates))
			for i, u := range updates {
				assert.Equal(t, i+1, u.CurrentRank)
			}
		})
	}
}

func TestAssignPercentilesEmpty(t *testing.T) {
	assert.Empty(t, AssignPercentiles(nil))
}

func TestAssignPercentilesTiesKeepInputOrder(t *testing.T) {
	updates := AssignPercentiles([]Standing{
		{StudentID: "older", Score: 80},
		{StudentID: "newer", Score: 80},
		{StudentID: "top", Score: 95},
	})

	require.Len(t, updates, 3)
	assert.Equal(t, "top", updates[0].StudentID)
	assert.Equal(t, "older", updates[1].StudentID)
	assert.Equal(t, "newer", updates[2].StudentID)
}

func TestAssignPercentilesRankHistory(t *testing.T) {
	updates := AssignPercentiles([]Standing{
		{StudentID: "climber", Score: 90, CurrentRank: 3, BestRank: 3},
		{StudentID: "faller", Score: 80, CurrentRank: 1, BestRank: 1},
		{StudentID: "fresh", Score: 70, CurrentRank: 0, BestRank: models.UnrankedSentinel},
	})

	byID := map[string]models.RankUpdate{}
	for _, u := range updates {
		byID[u.StudentID] = u
	}

	assert.Equal(t, models.RankUpdate{StudentID: "climber", Category: models.CategoryMedium, CurrentRank: 1, PreviousRank: 3, BestRank: 1}, byID["climber"])
	assert.Equal(t, models.RankUpdate{StudentID: "faller", Category: models.CategoryMedium, CurrentRank: 2, PreviousRank: 1, BestRank: 1}, byID["faller"])
	assert.Equal(t, models.RankUpdate{StudentID: "fresh", Category: models.CategoryWorst, CurrentRank: 3, PreviousRank: 3, BestRank: 3}, byID["fresh"])
}

func TestAssignPercentilesIsIdempotent(t *testing.T) {
	first := AssignPercentiles(standings(55, 91, 72, 64, 88))

	again := make([]Standing, len(first))
	for i, u := range first {
		again[i] = Standing{StudentID: u.StudentID, Score: map[string]float64{"a": 55, "b": 91, "c": 72, "d": 64, "e": 88}[u.StudentID], CurrentRank: u.CurrentRank, BestRank: u.BestRank}
	}
	second := AssignPercentiles(again)

	for i := range first {
		assert.Equal(t, first[i].StudentID, second[i].StudentID)
		assert.Equal(t, first[i].Category, second[i].Category)
		assert.Equal(t, first[i].CurrentRank, second[i].CurrentRank)
		assert.Equal(t, first[i].BestRank, second[i].BestRank)
		assert.Equal(t, first[i].CurrentRank, second[i].PreviousRank)
	}
}

func TestCountByCategory(t *testing.T) {
	counts := CountByCategory(AssignPercentiles(standings(90, 80, 70, 60)))
	assert.Equal(t, map[models.Category]int{models.CategoryBest: 1, models.CategoryMedium: 2, models.CategoryWorst: 1}, counts)
}
