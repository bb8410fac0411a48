package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/scoring"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

const (
	rankingCachePrefix      = "rankings:"
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type rankingStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	UpdateScores(ctx context.Context, update models.ScoreUpdate) error
	ListForRanking(ctx context.Context) ([]models.Student, error)
	BatchUpdateRanks(ctx context.Context, updates []models.RankUpdate) error
	Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error)
	Distribution(ctx context.Context, stream models.Stream) ([]models.CategoryCount, error)
}

type rankingRecordRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error)
}

// RankingService recomputes performance scores and percentile categories and serves the
// leaderboard.
type RankingService struct {
	students rankingStudentRepository
	records  rankingRecordRepository
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewRankingService constructs the service. cache and metrics may be nil.
func NewRankingService(students rankingStudentRepository, records rankingRecordRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *RankingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingService{
		students: students,
		records:  records,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// RecomputeStudent rescores one student from all of their records. The stored score becomes the
// previous score and student is updated in place.
func (s *RankingService) RecomputeStudent(ctx context.Context, student *models.Student) (scoring.Result, error) {
	records, err := s.records.ListByStudent(ctx, student.ID)
	if err != nil {
		return scoring.Result{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam records")
	}

	result := scoring.Calculate(records, student.Stream)
	update := models.ScoreUpdate{
		StudentID:                student.ID,
		PerformanceScore:         result.PerformanceScore,
		PreviousPerformanceScore: student.PerformanceScore,
		AverageMarks:             result.AverageMarks,
	}
	if err := s.students.UpdateScores(ctx, update); err != nil {
		return scoring.Result{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update performance score")
	}

	student.PreviousPerformanceScore = update.PreviousPerformanceScore
	student.PerformanceScore = update.PerformanceScore
	student.AverageMarks = update.AverageMarks
	return result, nil
}

// RecomputeStudentByID loads the student and rescores them.
func (s *RankingService) RecomputeStudentByID(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.RecomputeStudent(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

// RecalculateAll re-ranks the whole population by score and persists category, current, previous
// and best rank for everyone in one transaction. Running it twice without score changes yields
// the same categories and ranks.
func (s *RankingService) RecalculateAll(ctx context.Context) (*models.RecomputeSummary, error) {
	started := s.now()
	students, err := s.students.ListForRanking(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students for ranking")
	}

	summary := &models.RecomputeSummary{StartedAt: started.UTC(), Counts: scoring.CountByCategory(nil)}
	if len(students) == 0 {
		return summary, nil
	}

	standings := make([]scoring.Standing, len(students))
	for i, student := range students {
		standings[i] = scoring.FromStudent(student)
	}
	updates := scoring.AssignPercentiles(standings)

	if err := s.students.BatchUpdateRanks(ctx, updates); err != nil {
		s.logger.Error("ranking recompute failed", zap.Int("students", len(updates)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recalculate categories")
	}

	summary.Students = len(updates)
	summary.Counts = scoring.CountByCategory(updates)
	summary.Duration = s.now().Sub(started)

	s.metrics.ObserveRecompute(summary.Students, summary.Duration)
	if err := s.cache.Invalidate(ctx, rankingCachePrefix); err != nil {
		s.logger.Warn("leaderboard cache not invalidated", zap.Error(err))
	}

	s.logger.Info("ranking recomputed",
		zap.Int("students", summary.Students),
		zap.Int("best", summary.Counts[models.CategoryBest]),
		zap.Int("medium", summary.Counts[models.CategoryMedium]),
		zap.Int("worst", summary.Counts[models.CategoryWorst]),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// Leaderboard returns ranked students ordered by current rank. The result is served from cache
// when one is configured.
func (s *RankingService) Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, bool, error) {
	if filter.Stream != "" && !filter.Stream.Valid() {
		return nil, false, appErrors.Validation("unknown stream %q", filter.Stream)
	}
	if filter.Category != "" && !validCategory(filter.Category) {
		return nil, false, appErrors.Validation("unknown category %q", filter.Category)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLeaderboardLimit
	}
	if filter.Limit > maxLeaderboardLimit {
		filter.Limit = maxLeaderboardLimit
	}

	key := fmt.Sprintf("%sleaderboard:%s:%s:%s:%d", rankingCachePrefix, filter.Stream, filter.Batch, filter.Category, filter.Limit)
	var cached []models.LeaderboardEntry
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	entries, err := s.students.Leaderboard(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load leaderboard")
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	_ = s.cache.Set(ctx, key, entries, 0)
	return entries, false, nil
}

// Distribution reports how many students sit in each category, optionally for one stream.
// Every category is present even when empty.
func (s *RankingService) Distribution(ctx context.Context, stream models.Stream) (*models.CategoryDistribution, error) {
	if stream != "" && !stream.Valid() {
		return nil, appErrors.Validation("unknown stream %q", stream)
	}
	key := rankingCachePrefix + "distribution:" + string(stream)
	var cached models.CategoryDistribution
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	counts, err := s.students.Distribution(ctx, stream)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load category distribution")
	}

	dist := &models.CategoryDistribution{Categories: completeDistribution(counts), GeneratedAt: s.now().UTC()}
	for _, c := range dist.Categories {
		dist.Total += c.Count
	}

	_ = s.cache.Set(ctx, key, dist, 0)
	return dist, nil
}

// Preview reports the absolute-threshold category a score would receive.
func (s *RankingService) Preview(score float64) (*models.CategoryPreview, error) {
	if score < 0 || score > 100 {
		return nil, appErrors.Validation("score must be between 0 and 100")
	}
	return &models.CategoryPreview{Score: score, Category: scoring.CategoryFor(score)}, nil
}

func validCategory(c models.Category) bool {
	switch c {
	case models.CategoryBest, models.CategoryMedium, models.CategoryWorst:
		return true
	}
	return false
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
