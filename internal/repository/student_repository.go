package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	defaultStudentPageSize = 10
	maxStudentPageSize     = 100
	fullScore              = 100.0
)

var studentColumns = []string{
	"s.id", "s.roll_number", "s.name", "s.email", "s.batch", "s.stream",
	"s.performance_score", "s.previous_performance_score", "s.average_marks", "s.category",
	"s.current_rank", "s.previous_rank", "s.best_rank", "s.created_at", "s.updated_at",
}

const liveRankColumn = "(SELECT COUNT(*) FROM students h WHERE h.performance_score > s.performance_score) + 1 AS rank"

// StudentRepository manages persistence for students and their derived standing.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the filter with their live rank, plus the total match count.
// Without a page every match is returned.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	where := studentConditions(filter)

	query := psql.Select(studentColumns...).Column(liveRankColumn).From("students s")
	count := psql.Select("COUNT(*)").From("students s")
	if len(where) > 0 {
		query = query.Where(where)
		count = count.Where(where)
	}
	query = query.OrderBy(studentOrder(filter)...)
	if filter.Paginated() {
		size := filter.PageSize
		if size <= 0 || size > maxStudentPageSize {
			size = defaultStudentPageSize
		}
		query = query.Limit(uint64(size)).Offset(uint64((filter.Page - 1) * size))
	}

	listSQL, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build student list: %w", err)
	}
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, listSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build student count: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

func studentConditions(filter models.StudentFilter) sq.And {
	where := sq.And{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		where = append(where, sq.Or{
			sq.Like{"LOWER(s.name)": like},
			sq.Like{"LOWER(s.roll_number)": like},
		})
	}
	if filter.Stream != "" {
		where = append(where, sq.Eq{"s.stream": filter.Stream})
	}
	if filter.Batch != "" {
		where = append(where, sq.Eq{"s.batch": filter.Batch})
	}
	if filter.Category != "" {
		where = append(where, sq.Eq{"s.category": filter.Category})
	}
	if filter.MinScore != nil {
		where = append(where, sq.GtOrEq{"s.performance_score": *filter.MinScore})
	}
	if filter.MaxScore != nil {
		// A perfect score is the only inclusive upper bound.
		if *filter.MaxScore >= fullScore {
			where = append(where, sq.LtOrEq{"s.performance_score": *filter.MaxScore})
		} else {
			where = append(where, sq.Lt{"s.performance_score": *filter.MaxScore})
		}
	}
	return where
}

func studentOrder(filter models.StudentFilter) []string {
	allowedSorts := map[string]string{
		"performance_score": "s.performance_score",
		"average_marks":     "s.average_marks",
		"name":              "s.name",
		"roll_number":       "s.roll_number",
		"created_at":        "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.performance_score"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
		if column == "s.name" || column == "s.roll_number" {
			order = "ASC"
		}
	}
	return []string{column + " " + order, "s.created_at ASC", "s.id ASC"}
}

// FindByID fetches a student by ID. sql.ErrNoRows is returned untouched.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return r.findOne(ctx, sq.Eq{"s.id": id})
}

// FindByRollNumber fetches a student by roll number. sql.ErrNoRows is returned untouched.
func (r *StudentRepository) FindByRollNumber(ctx context.Context, rollNumber string) (*models.Student, error) {
	return r.findOne(ctx, sq.Eq{"s.roll_number": rollNumber})
}

func (r *StudentRepository) findOne(ctx context.Context, where sq.Sqlizer) (*models.Student, error) {
	query, args, err := psql.Select(studentColumns...).From("students s").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student lookup: %w", err)
	}
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, args...); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByRollNumber checks if a roll number is taken, optionally excluding one student.
func (r *StudentRepository) ExistsByRollNumber(ctx context.Context, rollNumber, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE roll_number = $1"
	args := []interface{}{rollNumber}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check roll number: %w", err)
	}
	return true, nil
}

// Create inserts a new student with default standing.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, roll_number, name, email, batch, stream, performance_score, previous_performance_score, average_marks, category, current_rank, previous_rank, best_rank, created_at, updated_at)
        VALUES (:id, :roll_number, :name, :email, :batch, :stream, :performance_score, :previous_performance_score, :average_marks, :category, :current_rank, :previous_rank, :best_rank, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRollNumber
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateProfile modifies the editable fields of a student. Derived standing is left alone.
func (r *StudentRepository) UpdateProfile(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET roll_number = :roll_number, name = :name, email = :email, batch = :batch, stream = :stream, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRollNumber
		}
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// UpdateScores stores the result of recomputing one student's performance.
func (r *StudentRepository) UpdateScores(ctx context.Context, update models.ScoreUpdate) error {
	const query = `UPDATE students SET performance_score = $2, previous_performance_score = $3, average_marks = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, update.StudentID, update.PerformanceScore, update.PreviousPerformanceScore, update.AverageMarks, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student scores: %w", err)
	}
	return nil
}

// ListForRanking returns every student ordered by score descending, ties broken by creation time
// then id.
func (r *StudentRepository) ListForRanking(ctx context.Context) ([]models.Student, error) {
	query, _, err := psql.Select(studentColumns...).From("students s").
		OrderBy("s.performance_score DESC", "s.created_at ASC", "s.id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ranking list: %w", err)
	}
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students for ranking: %w", err)
	}
	return students, nil
}

// BatchUpdateRanks writes category and rank fields for all updates in one transaction. Any
// failure rolls back every row.
func (r *StudentRepository) BatchUpdateRanks(ctx context.Context, updates []models.RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rank update: %w", err)
	}
	const query = `UPDATE students SET category = :category, current_rank = :current_rank, previous_rank = :previous_rank, best_rank = :best_rank WHERE id = :id`
	for _, update := range updates {
		if _, err := tx.NamedExecContext(ctx, query, update); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("update rank for %s: %w", update.StudentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rank update: %w", err)
	}
	return nil
}

// Delete removes a student and all of their exam records atomically. sql.ErrNoRows is returned
// when the student does not exist.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete student: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_records WHERE student_id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete student records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete student: %w", err)
	}
	return nil
}

// Leaderboard returns ranked students ordered by current rank, optionally narrowed by stream or
// batch.
func (r *StudentRepository) Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error) {
	query := psql.Select("id", "roll_number", "name", "batch", "stream", "performance_score", "average_marks", "category", "current_rank", "previous_rank", "best_rank").
		From("students").
		Where(sq.Gt{"current_rank": 0}).
		OrderBy("current_rank ASC")
	if filter.Stream != "" {
		query = query.Where(sq.Eq{"stream": filter.Stream})
	}
	if filter.Batch != "" {
		query = query.Where(sq.Eq{"batch": filter.Batch})
	}
	if filter.Category != "" {
		query = query.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build leaderboard: %w", err)
	}
	var entries []models.LeaderboardEntry
	if err := r.db.SelectContext(ctx, &entries, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return entries, nil
}

// Distribution counts students per category with their average score, optionally for one stream.
func (r *StudentRepository) Distribution(ctx context.Context, stream models.Stream) ([]models.CategoryCount, error) {
	query := psql.Select("category", "COUNT(*) AS count", "COALESCE(AVG(performance_score), 0) AS average_score").
		From("students").
		GroupBy("category").
		OrderBy("category")
	if stream != "" {
		query = query.Where(sq.Eq{"stream": stream})
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build distribution: %w", err)
	}
	var counts []models.CategoryCount
	if err := r.db.SelectContext(ctx, &counts, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("category distribution: %w", err)
	}
	return counts, nil
}

// Overview aggregates headline numbers, optionally for one stream.
func (r *StudentRepository) Overview(ctx context.Context, stream models.Stream) (models.PopulationOverview, error) {
	query := psql.Select(
		"COUNT(*) AS students",
		"COALESCE(AVG(average_marks), 0) AS average_marks",
		"COALESCE(AVG(performance_score), 0) AS average_score",
		"COUNT(*) FILTER (WHERE category = 'Best') AS elite_performers",
		"COUNT(*) FILTER (WHERE current_rank = 0) AS unranked",
	).From("students")
	if stream != "" {
		query = query.Where(sq.Eq{"stream": stream})
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return models.PopulationOverview{}, fmt.Errorf("build overview: %w", err)
	}
	var overview models.PopulationOverview
	if err := r.db.GetContext(ctx, &overview, sqlStr, args...); err != nil {
		return models.PopulationOverview{}, fmt.Errorf("student overview: %w", err)
	}
	return overview, nil
}

// MostImproved returns students that climbed since the previous recompute, biggest climb first.
func (r *StudentRepository) MostImproved(ctx context.Context, stream models.Stream, limit int) ([]models.LeaderboardEntry, error) {
	query := psql.Select("id", "roll_number", "name", "batch", "stream", "performance_score", "average_marks", "category", "current_rank", "previous_rank", "best_rank").
		From("students").
		Where(sq.Gt{"current_rank": 0}).
		Where("previous_rank > current_rank").
		OrderBy("previous_rank - current_rank DESC", "current_rank ASC")
	if stream != "" {
		query = query.Where(sq.Eq{"stream": stream})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build most improved: %w", err)
	}
	var entries []models.LeaderboardEntry
	if err := r.db.SelectContext(ctx, &entries, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("most improved: %w", err)
	}
	return entries, nil
}
