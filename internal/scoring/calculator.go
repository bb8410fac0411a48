// Package scoring holds the pure performance, category and percentile computations. Nothing here
// touches storage.
package scoring

import (
	"math"
	"sort"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

const (
	AcademicWeight    = 0.7
	ImprovementWeight = 0.2
	AttendanceWeight  = 0.1

	// improvementOffset maps a zero improvement onto the middle of the 0-100 scale.
	improvementOffset = 50.0
)

// Result is the outcome of scoring one student's records.
type Result struct {
	PerformanceScore float64
	AverageMarks     float64
	AcademicScore    float64
	ImprovementScore float64
	AttendanceScore  float64
}

// Breakdown converts the result into its API shape.
func (r Result) Breakdown() models.ScoreBreakdown {
	return models.ScoreBreakdown{
		PerformanceScore: r.PerformanceScore,
		AverageMarks:     r.AverageMarks,
		AcademicScore:    round2(r.AcademicScore),
		ImprovementScore: round2(r.ImprovementScore),
		AttendanceScore:  round2(r.AttendanceScore),
	}
}

type recordTotals struct {
	total float64
	max   float64
}

func (t recordTotals) pct() float64 {
	return ratio(t.total, t.max)
}

// Calculate scores a student from their exam records. Input order does not matter and the slice
// is not modified.
func Calculate(records []models.ExamRecord, stream models.Stream) Result {
	if len(records) == 0 {
		return Result{}
	}

	sorted := make([]models.ExamRecord, len(records))
	copy(sorted, records)
	SortNewestFirst(sorted)

	totals := make([]recordTotals, len(sorted))
	var sumTotal, sumMax float64
	for i, record := range sorted {
		total, max := record.Totals(stream)
		totals[i] = recordTotals{total: total, max: max}
		sumTotal += total
		sumMax += max
	}

	academic := ratio(sumTotal, sumMax)

	// Earlier sittings with nothing to score are not history; they must not lower the baseline.
	improvement := 0.0
	var previous float64
	sat := 0
	for _, t := range totals[1:] {
		if t.max == 0 {
			continue
		}
		previous += t.pct()
		sat++
	}
	if sat > 0 {
		improvement = totals[0].pct() - previous/float64(sat)
	}
	improvementScore := clamp(improvement+improvementOffset, 0, 100)

	attendance := sorted[0].Attendance

	final := AcademicWeight*academic + ImprovementWeight*improvementScore + AttendanceWeight*attendance

	return Result{
		PerformanceScore: round2(final),
		AverageMarks:     round2(academic),
		AcademicScore:    academic,
		ImprovementScore: improvementScore,
		AttendanceScore:  attendance,
	}
}

// SortNewestFirst orders records by date descending. Records on the same instant are ordered by
// id so the result never depends on input order.
func SortNewestFirst(records []models.ExamRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.After(records[j].Date)
		}
		return records[i].ID > records[j].ID
	})
}

func ratio(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
