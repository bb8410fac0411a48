package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/repository"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

const dayLayout = "2006-01-02"

type markStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type markRecordRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error)
	FindByID(ctx context.Context, id string) (*models.ExamRecord, error)
	FindForStudentOnDate(ctx context.Context, studentID string, date time.Time) (*models.ExamRecord, error)
	Create(ctx context.Context, record *models.ExamRecord, stream models.Stream) error
	Delete(ctx context.Context, id string) error
}

// MarkService records and removes exam marks and keeps the ranking in step.
type MarkService struct {
	students  markStudentRepository
	records   markRecordRepository
	ranking   *RankingService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewMarkService constructs the service.
func NewMarkService(students markStudentRepository, records markRecordRepository, ranking *RankingService, validate *validator.Validate, logger *zap.Logger) *MarkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkService{students: students, records: records, ranking: ranking, validator: validate, logger: logger, now: time.Now}
}

// AddMark stores one exam record, rescores its student and re-ranks the population.
func (s *MarkService) AddMark(ctx context.Context, req models.AddMarkRequest) (*models.AddMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}

	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}

	record, err := s.buildRecord(req)
	if err != nil {
		return nil, err
	}

	existing, err := s.records.FindForStudentOnDate(ctx, student.ID, record.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing marks")
	}
	if existing != nil {
		return nil, duplicateMarkError(record.Date)
	}

	if err := s.records.Create(ctx, record, student.Stream); err != nil {
		if errors.Is(err, repository.ErrDuplicateDay) {
			return nil, duplicateMarkError(record.Date)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save mark")
	}

	if _, err := s.ranking.RecomputeStudent(ctx, student); err != nil {
		return nil, err
	}
	if _, err := s.ranking.RecalculateAll(ctx); err != nil {
		return nil, err
	}

	updated, err := s.loadStudent(ctx, student.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("mark added",
		zap.String("student_id", student.ID),
		zap.String("record_id", record.ID),
		zap.Float64("performance_score", updated.PerformanceScore),
	)
	return &models.AddMarkResult{
		Mark:             *record,
		PerformanceScore: updated.PerformanceScore,
		AverageMarks:     updated.AverageMarks,
		Category:         updated.Category,
	}, nil
}

// DeleteMark removes a record and rescores its student.
func (s *MarkService) DeleteMark(ctx context.Context, id string) error {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mark")
	}

	if err := s.records.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete mark")
	}

	if _, err := s.ranking.RecomputeStudentByID(ctx, record.StudentID); err != nil {
		return err
	}
	if _, err := s.ranking.RecalculateAll(ctx); err != nil {
		return err
	}
	s.logger.Info("mark deleted", zap.String("student_id", record.StudentID), zap.String("record_id", id))
	return nil
}

// ListByStudent returns a student's records oldest first.
func (s *MarkService) ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error) {
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return nil, err
	}
	records, err := s.records.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	if records == nil {
		records = []models.ExamRecord{}
	}
	return records, nil
}

func (s *MarkService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// buildRecord converts the payload into a record. Unknown subjects, negative scores, non
// positive maxima and scores above their maximum are rejected.
func (s *MarkService) buildRecord(req models.AddMarkRequest) (*models.ExamRecord, error) {
	record := &models.ExamRecord{
		StudentID:  req.StudentID,
		ExamName:   req.ExamName,
		Scores:     models.SubjectScores{},
		MaxScores:  models.SubjectMaxima{},
		TestNames:  models.SubjectLabels{},
		Attendance: *req.Attendance,
		Remarks:    req.Remarks,
	}
	if req.Date != nil && !req.Date.IsZero() {
		record.Date = req.Date.UTC()
	} else {
		record.Date = s.now().UTC()
	}

	for key, score := range req.Scores {
		subject, err := parseSubject(key)
		if err != nil {
			return nil, err
		}
		if score != nil && *score < 0 {
			return nil, appErrors.Validation("Score %v for %s must not be negative", *score, subject)
		}
		record.Scores[subject] = score
	}
	for key, max := range req.MaxScores {
		subject, err := parseSubject(key)
		if err != nil {
			return nil, err
		}
		if max <= 0 {
			return nil, appErrors.Validation("Max score for %s must be positive", subject)
		}
		record.MaxScores[subject] = max
	}
	for key, name := range req.TestNames {
		subject, err := parseSubject(key)
		if err != nil {
			return nil, err
		}
		record.TestNames[subject] = name
	}

	if overflow, ok := record.FirstOverflow(models.AllSubjects); ok {
		return nil, appErrors.Validation("Score %v exceeds max %v for %s", overflow.Score, overflow.Max, overflow.Subject)
	}
	return record, nil
}

func parseSubject(key string) (models.Subject, error) {
	subject := models.Subject(key)
	if !subject.Valid() {
		return "", appErrors.Wrap(&models.UnknownSubjectError{Subject: subject}, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("unknown subject %q", key))
	}
	return subject, nil
}

func duplicateMarkError(date time.Time) error {
	return appErrors.Clone(appErrors.ErrDuplicate, fmt.Sprintf(
		"A mark already exists for this student on %s. Remove it first or choose a different date.",
		models.CalendarDay(date).Format(dayLayout)))
}
