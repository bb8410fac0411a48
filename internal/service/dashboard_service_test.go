package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

type fakeDashboardRepo struct {
	overview     models.PopulationOverview
	counts       []models.CategoryCount
	entries      []models.LeaderboardEntry
	improved     []models.LeaderboardEntry
	overviewErr  error
	calls        int
	lastStream   models.Stream
	lastImproved int
}

func (f *fakeDashboardRepo) Overview(ctx context.Context, stream models.Stream) (models.PopulationOverview, error) {
	f.calls++
	f.lastStream = stream
	return f.overview, f.overviewErr
}

func (f *fakeDashboardRepo) Distribution(ctx context.Context, stream models.Stream) ([]models.CategoryCount, error) {
	return f.counts, nil
}

func (f *fakeDashboardRepo) Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error) {
	var out []models.LeaderboardEntry
	for _, e := range f.entries {
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDashboardRepo) MostImproved(ctx context.Context, stream models.Stream, limit int) ([]models.LeaderboardEntry, error) {
	f.lastImproved = limit
	return f.improved, nil
}

func rankedEntries(categories ...models.Category) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, len(categories))
	for i, c := range categories {
		out[i] = models.LeaderboardEntry{Rank: i + 1, StudentID: string(rune('a' + i)), Category: c, PerformanceScore: float64(90 - i*5)}
	}
	return out
}

func TestDashboardServiceSummary(t *testing.T) {
	repo := &fakeDashboardRepo{
		overview: models.PopulationOverview{Students: 8, AverageMarks: 71.456, AverageScore: 66.664, ElitePerformers: 2, Unranked: 1},
		counts: []models.CategoryCount{
			{Category: models.CategoryMedium, Count: 4, AverageScore: 66.666},
			{Category: models.CategoryBest, Count: 2, AverageScore: 88},
		},
		entries: rankedEntries(
			models.CategoryBest, models.CategoryBest, models.CategoryMedium, models.CategoryMedium,
			models.CategoryMedium, models.CategoryMedium, models.CategoryWorst, models.CategoryWorst,
		),
		improved: []models.LeaderboardEntry{{StudentID: "g", Rank: 3, PreviousRank: 7}},
	}
	svc := NewDashboardService(repo, nil, zap.NewNop(), DashboardServiceConfig{HighlightSize: 3})
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	summary, hit, err := svc.Summary(context.Background(), models.StreamMedical)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.StreamMedical, repo.lastStream)
	assert.Equal(t, 3, repo.lastImproved)

	assert.Equal(t, 8, summary.Totals.Students)
	assert.Equal(t, 71.46, summary.Totals.AverageMarks)
	assert.Equal(t, 66.66, summary.Totals.AverageScore)
	assert.Equal(t, 2, summary.Totals.ElitePerformers)
	assert.Equal(t, 1, summary.Totals.UnrankedStudents)

	require.Len(t, summary.Distribution, 3)
	assert.Equal(t, models.CategoryBest, summary.Distribution[0].Category)
	assert.Equal(t, 66.67, summary.Distribution[1].AverageScore)
	assert.Equal(t, models.CategoryWorst, summary.Distribution[2].Category)
	assert.Zero(t, summary.Distribution[2].Count)

	require.Len(t, summary.TopPerformers, 3)
	assert.Equal(t, 1, summary.TopPerformers[0].Rank)

	require.Len(t, summary.NeedsAttention, 2)
	assert.Equal(t, 8, summary.NeedsAttention[0].Rank)
	assert.Equal(t, 7, summary.NeedsAttention[1].Rank)

	require.Len(t, summary.MostImproved, 1)
	assert.Equal(t, 4, summary.MostImproved[0].PlacesGained)
	assert.True(t, fixed.Equal(summary.GeneratedAt))
}

func TestDashboardServiceSummaryCaches(t *testing.T) {
	repo := &fakeDashboardRepo{overview: models.PopulationOverview{Students: 1}}
	cacheRepo := newMemCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewDashboardService(repo, cache, zap.NewNop(), DashboardServiceConfig{})

	first, hit, err := svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, first.TopPerformers)
	assert.NotNil(t, first.NeedsAttention)

	second, hit, err := svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, second.Totals.Students)
	assert.Equal(t, 1, repo.calls)

	// A recompute drops every ranking-derived entry, the dashboard included.
	require.NoError(t, cache.Invalidate(context.Background(), rankingCachePrefix))
	_, hit, err = svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, repo.calls)
}

func TestDashboardServiceSummaryErrors(t *testing.T) {
	svc := NewDashboardService(&fakeDashboardRepo{overviewErr: errors.New("boom")}, nil, nil, DashboardServiceConfig{})

	_, _, err := svc.Summary(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	_, _, err = svc.Summary(context.Background(), "Commerce")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
