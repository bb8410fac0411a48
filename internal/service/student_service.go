package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/repository"
	"github.com/noah-isme/coaching-rank-api/internal/scoring"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

const (
	defaultStudentPageSize = 10
	maxStudentPageSize     = 100
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByRollNumber(ctx context.Context, rollNumber, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateProfile(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

type studentRecordRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error)
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	records   studentRecordRepository
	ranking   *RankingService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, records studentRecordRepository, ranking *RankingService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, records: records, ranking: ranking, validator: validate, logger: logger}
}

// List returns students with their live rank. Pagination is nil when no page was requested.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if filter.Stream != "" && !filter.Stream.Valid() {
		return nil, nil, appErrors.Validation("unknown stream %q", filter.Stream)
	}
	if filter.Category != "" && !validCategory(filter.Category) {
		return nil, nil, appErrors.Validation("unknown category %q", filter.Category)
	}
	if filter.MinScore != nil && filter.MaxScore != nil && *filter.MinScore > *filter.MaxScore {
		return nil, nil, appErrors.Validation("minScore must not exceed maxScore")
	}
	if filter.Paginated() && (filter.PageSize <= 0 || filter.PageSize > maxStudentPageSize) {
		filter.PageSize = defaultStudentPageSize
	}

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.StudentDetail{}
	}
	if !filter.Paginated() {
		return students, nil, nil
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Register enrolls a student with a blank standing.
func (s *StudentService) Register(ctx context.Context, req models.RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	rollNumber := strings.TrimSpace(req.RollNumber)
	if err := s.ensureRollNumberFree(ctx, rollNumber, ""); err != nil {
		return nil, err
	}

	batch := strings.TrimSpace(req.Batch)
	if batch == "" {
		batch = models.DefaultBatch
	}
	student := &models.Student{
		RollNumber: rollNumber,
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Batch:      batch,
		Stream:     req.Stream,
		Category:   models.CategoryMedium,
		BestRank:   models.UnrankedSentinel,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, s.translateWriteError(err, "failed to create student")
	}
	s.logger.Info("student registered", zap.String("student_id", student.ID), zap.String("roll_number", student.RollNumber))
	return student, nil
}

// Update changes profile fields. A stream change rescores the student because the counted
// subjects differ.
func (s *StudentService) Update(ctx context.Context, id string, req models.UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.RollNumber != nil {
		rollNumber := strings.TrimSpace(*req.RollNumber)
		if rollNumber != student.RollNumber {
			if err := s.ensureRollNumberFree(ctx, rollNumber, id); err != nil {
				return nil, err
			}
		}
		student.RollNumber = rollNumber
	}
	if req.Name != nil {
		student.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		student.Email = strings.TrimSpace(*req.Email)
	}
	if req.Batch != nil {
		student.Batch = strings.TrimSpace(*req.Batch)
		if student.Batch == "" {
			student.Batch = models.DefaultBatch
		}
	}
	streamChanged := req.Stream != nil && *req.Stream != student.Stream
	if req.Stream != nil {
		student.Stream = *req.Stream
	}

	if err := s.repo.UpdateProfile(ctx, student); err != nil {
		return nil, s.translateWriteError(err, "failed to update student")
	}

	if streamChanged && s.ranking != nil {
		if _, err := s.ranking.RecomputeStudent(ctx, student); err != nil {
			return nil, err
		}
		if _, err := s.ranking.RecalculateAll(ctx); err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}
	return student, nil
}

// Delete removes the student and their records, then re-ranks everyone left.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	if s.ranking == nil {
		return nil
	}
	_, err := s.ranking.RecalculateAll(ctx)
	return err
}

// Performance returns the student with their records oldest first and the weighted breakdown
// behind the current score.
func (s *StudentService) Performance(ctx context.Context, id string) (*models.StudentPerformance, error) {
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByStudent(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam records")
	}

	perf := &models.StudentPerformance{
		Student:   *student,
		Records:   make([]models.RecordPerformance, 0, len(records)),
		Breakdown: scoring.Calculate(records, student.Stream).Breakdown(),
	}
	for _, record := range records {
		record.TotalScore, record.MaxScore = record.Totals(student.Stream)
		perf.Records = append(perf.Records, models.RecordPerformance{
			ExamRecord: record,
			Percentage: roundScore(record.Percentage()),
		})
	}
	return perf, nil
}

func (s *StudentService) ensureRollNumberFree(ctx context.Context, rollNumber, excludeID string) error {
	exists, err := s.repo.ExistsByRollNumber(ctx, rollNumber, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll number")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrDuplicate, "roll number already registered")
	}
	return nil
}

func (s *StudentService) translateWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrDuplicateRollNumber) {
		return appErrors.Clone(appErrors.ErrDuplicate, "roll number already registered")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
