package models

import "time"

const (
	// DefaultBulkExamName names records created from spreadsheet rows.
	DefaultBulkExamName = "Bulk Test"
	// DefaultTestName labels subjects without an explicit test name.
	DefaultTestName = "Combined test"
)

// ExamRecord is one sitting of a student across subjects.
type ExamRecord struct {
	ID         string        `db:"id" json:"id"`
	StudentID  string        `db:"student_id" json:"student_id"`
	ExamName   string        `db:"exam_name" json:"exam_name"`
	TestNames  SubjectLabels `db:"test_names" json:"test_names,omitempty"`
	Date       time.Time     `db:"date" json:"date"`
	Day        time.Time     `db:"exam_day" json:"-"`
	Scores     SubjectScores `db:"scores" json:"scores"`
	MaxScores  SubjectMaxima `db:"max_scores" json:"max_scores"`
	Attendance float64       `db:"attendance" json:"attendance"`
	Remarks    string        `db:"remarks" json:"remarks"`
	TotalScore float64       `db:"total_score" json:"total_score"`
	MaxScore   float64       `db:"max_score" json:"max_score"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// Totals sums the present scores of the stream's subjects and their maxima. Absent subjects add
// nothing to either side.
func (r ExamRecord) Totals(stream Stream) (total, max float64) {
	for _, subject := range stream.Subjects() {
		score, ok := r.Scores.Get(subject)
		if !ok {
			continue
		}
		total += score
		max += r.MaxScores.Max(subject)
	}
	return total, max
}

// Derive refreshes the stored totals and calendar day. It runs before every save.
func (r *ExamRecord) Derive(stream Stream) {
	r.TotalScore, r.MaxScore = r.Totals(stream)
	r.Day = CalendarDay(r.Date)
}

// ScoreOverflow describes a subject whose score is above its maximum.
type ScoreOverflow struct {
	Subject Subject
	Score   float64
	Max     float64
}

// FirstOverflow returns the first subject, in canonical order, whose present score exceeds its
// maximum.
func (r ExamRecord) FirstOverflow(subjects []Subject) (ScoreOverflow, bool) {
	for _, subject := range subjects {
		score, ok := r.Scores.Get(subject)
		if !ok {
			continue
		}
		if max := r.MaxScores.Max(subject); score > max {
			return ScoreOverflow{Subject: subject, Score: score, Max: max}, true
		}
	}
	return ScoreOverflow{}, false
}

// Percentage is the record's own total as a percentage of its maximum, zero when nothing was sat.
func (r ExamRecord) Percentage() float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return r.TotalScore / r.MaxScore * 100
}

// CalendarDay truncates t to midnight UTC. Two records share a calendar day when their
// CalendarDay values are equal.
func CalendarDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMarkRequest is the payload for recording one exam sitting. Subject keys are validated
// against AllSubjects; a null score marks the subject as absent.
type AddMarkRequest struct {
	StudentID  string              `json:"student_id" validate:"required"`
	ExamName   string              `json:"exam_name" validate:"required"`
	Date       *time.Time          `json:"date"`
	Scores     map[string]*float64 `json:"scores" validate:"required"`
	MaxScores  map[string]float64  `json:"max_scores"`
	TestNames  map[string]string   `json:"test_names"`
	Attendance *float64            `json:"attendance" validate:"required,min=0,max=100"`
	Remarks    string              `json:"remarks" validate:"max=1000"`
}

// AddMarkResult is returned after a mark is stored and the population re-ranked.
type AddMarkResult struct {
	Mark             ExamRecord `json:"mark"`
	PerformanceScore float64    `json:"performance_score"`
	AverageMarks     float64    `json:"average_marks"`
	Category         Category   `json:"category"`
}

// BulkUploadResult summarises a spreadsheet ingestion.
type BulkUploadResult struct {
	Message        string   `json:"message"`
	ProcessedCount int      `json:"processed_count"`
	SuccessCount   int      `json:"success_count"`
	ErrorCount     int      `json:"error_count"`
	Errors         []string `json:"errors"`
}
