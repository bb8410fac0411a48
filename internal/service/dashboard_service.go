package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/dto"
	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

type dashboardRepository interface {
	Overview(ctx context.Context, stream models.Stream) (models.PopulationOverview, error)
	Distribution(ctx context.Context, stream models.Stream) ([]models.CategoryCount, error)
	Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error)
	MostImproved(ctx context.Context, stream models.Stream, limit int) ([]models.LeaderboardEntry, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL      time.Duration
	HighlightSize int
}

// DashboardService composes the admin overview.
type DashboardService struct {
	repo   dashboardRepository
	cache  *CacheService
	logger *zap.Logger
	now    func() time.Time
	cfg    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(repo dashboardRepository, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.HighlightSize <= 0 {
		cfg.HighlightSize = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{repo: repo, cache: cache, logger: logger, now: time.Now, cfg: cfg}
}

// Summary returns the dashboard and whether it came from cache. The cache entry shares the
// ranking prefix so every recompute drops it.
func (s *DashboardService) Summary(ctx context.Context, stream models.Stream) (*dto.DashboardResponse, bool, error) {
	if stream != "" && !stream.Valid() {
		return nil, false, appErrors.Validation("unknown stream %q", stream)
	}

	key := rankingCachePrefix + "dashboard:" + string(stream)
	var cached dto.DashboardResponse
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	summary, err := s.compose(ctx, stream)
	if err != nil {
		return nil, false, err
	}
	if err := s.cache.Set(ctx, key, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
	return summary, false, nil
}

func (s *DashboardService) compose(ctx context.Context, stream models.Stream) (*dto.DashboardResponse, error) {
	overview, err := s.repo.Overview(ctx, stream)
	if err != nil {
		return nil, wrapDashboardErr(err)
	}
	counts, err := s.repo.Distribution(ctx, stream)
	if err != nil {
		return nil, wrapDashboardErr(err)
	}
	top, err := s.repo.Leaderboard(ctx, models.LeaderboardFilter{Stream: stream, Limit: s.cfg.HighlightSize})
	if err != nil {
		return nil, wrapDashboardErr(err)
	}
	attention, err := s.repo.Leaderboard(ctx, models.LeaderboardFilter{Stream: stream, Category: models.CategoryWorst})
	if err != nil {
		return nil, wrapDashboardErr(err)
	}
	improved, err := s.repo.MostImproved(ctx, stream, s.cfg.HighlightSize)
	if err != nil {
		return nil, wrapDashboardErr(err)
	}

	summary := &dto.DashboardResponse{
		Stream: stream,
		Totals: dto.DashboardTotals{
			Students:         overview.Students,
			AverageMarks:     roundScore(overview.AverageMarks),
			AverageScore:     roundScore(overview.AverageScore),
			ElitePerformers:  overview.ElitePerformers,
			UnrankedStudents: overview.Unranked,
		},
		Distribution:   completeDistribution(counts),
		TopPerformers:  nonNilEntries(top),
		MostImproved:   make([]dto.ImprovedStudent, 0, len(improved)),
		NeedsAttention: lowestFirst(attention, s.cfg.HighlightSize),
		GeneratedAt:    s.now().UTC(),
	}
	for _, entry := range improved {
		summary.MostImproved = append(summary.MostImproved, dto.ImprovedStudent{LeaderboardEntry: entry, PlacesGained: entry.Movement()})
	}
	return summary, nil
}

// lowestFirst keeps the bottom n entries of a rank-ordered slice, worst rank first.
func lowestFirst(entries []models.LeaderboardEntry, n int) []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}

func completeDistribution(counts []models.CategoryCount) []models.CategoryCount {
	byCategory := make(map[models.Category]models.CategoryCount, len(counts))
	for _, c := range counts {
		byCategory[c.Category] = c
	}
	out := make([]models.CategoryCount, 0, 3)
	for _, category := range []models.Category{models.CategoryBest, models.CategoryMedium, models.CategoryWorst} {
		c, ok := byCategory[category]
		if !ok {
			c = models.CategoryCount{Category: category}
		}
		c.AverageScore = roundScore(c.AverageScore)
		out = append(out, c)
	}
	return out
}

func nonNilEntries(entries []models.LeaderboardEntry) []models.LeaderboardEntry {
	if entries == nil {
		return []models.LeaderboardEntry{}
	}
	return entries
}

func wrapDashboardErr(err error) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compose dashboard")
}
