package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

const examRecordColumns = `id, student_id, exam_name, test_names, date, exam_day, scores, max_scores, attendance, remarks, total_score, max_score, created_at, updated_at`

// ExamRecordRepository persists exam records.
type ExamRecordRepository struct {
	db *sqlx.DB
}

// NewExamRecordRepository constructs an ExamRecordRepository.
func NewExamRecordRepository(db *sqlx.DB) *ExamRecordRepository {
	return &ExamRecordRepository{db: db}
}

// ListByStudent returns the student's records oldest first.
func (r *ExamRecordRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error) {
	query := `SELECT ` + examRecordColumns + ` FROM exam_records WHERE student_id = $1 ORDER BY date ASC, id ASC`
	var records []models.ExamRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list exam records: %w", err)
	}
	return records, nil
}

// FindByID fetches one record. sql.ErrNoRows is returned untouched.
func (r *ExamRecordRepository) FindByID(ctx context.Context, id string) (*models.ExamRecord, error) {
	query := `SELECT ` + examRecordColumns + ` FROM exam_records WHERE id = $1`
	var record models.ExamRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindForStudentOnDate returns the student's record on the same calendar day as date, or nil
// when there is none.
func (r *ExamRecordRepository) FindForStudentOnDate(ctx context.Context, studentID string, date time.Time) (*models.ExamRecord, error) {
	query := `SELECT ` + examRecordColumns + ` FROM exam_records WHERE student_id = $1 AND exam_day = $2 LIMIT 1`
	var record models.ExamRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, models.CalendarDay(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find exam record by day: %w", err)
	}
	return &record, nil
}

// Create derives totals for the student's stream and inserts the record. ErrDuplicateDay is
// returned when the student already has a record on that calendar day.
func (r *ExamRecordRepository) Create(ctx context.Context, record *models.ExamRecord, stream models.Stream) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.Date.IsZero() {
		record.Date = now
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Derive(stream)

	const query = `INSERT INTO exam_records (id, student_id, exam_name, test_names, date, exam_day, scores, max_scores, attendance, remarks, total_score, max_score, created_at, updated_at)
        VALUES (:id, :student_id, :exam_name, :test_names, :date, :exam_day, :scores, :max_scores, :attendance, :remarks, :total_score, :max_score, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDay
		}
		return fmt.Errorf("create exam record: %w", err)
	}
	return nil
}

// Delete removes a record. sql.ErrNoRows is returned when nothing matched.
func (r *ExamRecordRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM exam_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exam record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
