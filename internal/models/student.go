package models

import "time"

// Category buckets students by standing.
type Category string

const (
	CategoryBest   Category = "Best"
	CategoryMedium Category = "Medium"
	CategoryWorst  Category = "Worst"
)

// UnrankedSentinel is the best rank of a student that has never been ranked.
const UnrankedSentinel = 999999

// DefaultBatch is assigned when registration omits a batch.
const DefaultBatch = "General"

// Student is an enrolled learner together with their derived standing.
type Student struct {
	ID                       string    `db:"id" json:"id"`
	RollNumber               string    `db:"roll_number" json:"roll_number"`
	Name                     string    `db:"name" json:"name"`
	Email                    string    `db:"email" json:"email"`
	Batch                    string    `db:"batch" json:"batch"`
	Stream                   Stream    `db:"stream" json:"stream"`
	PerformanceScore         float64   `db:"performance_score" json:"performance_score"`
	PreviousPerformanceScore float64   `db:"previous_performance_score" json:"previous_performance_score"`
	AverageMarks             float64   `db:"average_marks" json:"average_marks"`
	Category                 Category  `db:"category" json:"category"`
	CurrentRank              int       `db:"current_rank" json:"current_rank"`
	PreviousRank             int       `db:"previous_rank" json:"previous_rank"`
	BestRank                 int       `db:"best_rank" json:"best_rank"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Stream    Stream
	Batch     string
	Category  Category
	MinScore  *float64
	MaxScore  *float64
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Paginated reports whether the caller asked for a page.
func (f StudentFilter) Paginated() bool {
	return f.Page > 0
}

// StudentDetail carries a student with its live rank among everyone.
type StudentDetail struct {
	Student
	Rank int `db:"rank" json:"rank"`
}

// ScoreUpdate persists the outcome of a single student's score recompute.
type ScoreUpdate struct {
	StudentID                string  `db:"id"`
	PerformanceScore         float64 `db:"performance_score"`
	PreviousPerformanceScore float64 `db:"previous_performance_score"`
	AverageMarks             float64 `db:"average_marks"`
}

// RankUpdate persists the outcome of a population recompute for one student.
type RankUpdate struct {
	StudentID    string   `db:"id"`
	Category     Category `db:"category"`
	CurrentRank  int      `db:"current_rank"`
	PreviousRank int      `db:"previous_rank"`
	BestRank     int      `db:"best_rank"`
}

// StudentPerformance is the student detail view with history and score breakdown.
type StudentPerformance struct {
	Student   Student             `json:"student"`
	Records   []RecordPerformance `json:"records"`
	Breakdown ScoreBreakdown      `json:"breakdown"`
}

// RecordPerformance is one exam record with its own percentage.
type RecordPerformance struct {
	ExamRecord
	Percentage float64 `json:"percentage"`
}

// ScoreBreakdown exposes the weighted components behind a performance score.
type ScoreBreakdown struct {
	PerformanceScore float64 `json:"performance_score"`
	AverageMarks     float64 `json:"average_marks"`
	AcademicScore    float64 `json:"academic_score"`
	ImprovementScore float64 `json:"improvement_score"`
	AttendanceScore  float64 `json:"attendance_score"`
}

// RegisterStudentRequest is the payload for enrolling a student.
type RegisterStudentRequest struct {
	RollNumber string `json:"roll_number" validate:"required,max=50"`
	Name       string `json:"name" validate:"required,max=255"`
	Email      string `json:"email" validate:"omitempty,email"`
	Batch      string `json:"batch" validate:"max=100"`
	Stream     Stream `json:"stream" validate:"required,oneof=Medical Non-Medical"`
}

// UpdateStudentRequest changes profile fields only. Nil fields are left untouched.
type UpdateStudentRequest struct {
	RollNumber *string `json:"roll_number" validate:"omitempty,min=1,max=50"`
	Name       *string `json:"name" validate:"omitempty,min=1,max=255"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Batch      *string `json:"batch" validate:"omitempty,max=100"`
	Stream     *Stream `json:"stream" validate:"omitempty,oneof=Medical Non-Medical"`
}
