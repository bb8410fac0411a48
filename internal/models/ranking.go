package models

import "time"

// LeaderboardEntry is one row of the ranked leaderboard.
type LeaderboardEntry struct {
	Rank             int      `db:"current_rank" json:"rank"`
	StudentID        string   `db:"id" json:"student_id"`
	RollNumber       string   `db:"roll_number" json:"roll_number"`
	Name             string   `db:"name" json:"name"`
	Batch            string   `db:"batch" json:"batch"`
	Stream           Stream   `db:"stream" json:"stream"`
	PerformanceScore float64  `db:"performance_score" json:"performance_score"`
	AverageMarks     float64  `db:"average_marks" json:"average_marks"`
	Category         Category `db:"category" json:"category"`
	PreviousRank     int      `db:"previous_rank" json:"previous_rank"`
	BestRank         int      `db:"best_rank" json:"best_rank"`
}

// Movement is positive when the student climbed since the previous recompute.
func (e LeaderboardEntry) Movement() int {
	if e.PreviousRank == 0 {
		return 0
	}
	return e.PreviousRank - e.Rank
}

// CategoryCount aggregates students per category.
type CategoryCount struct {
	Category     Category `db:"category" json:"category"`
	Count        int      `db:"count" json:"count"`
	AverageScore float64  `db:"average_score" json:"average_score"`
}

// CategoryDistribution summarises the population after a recompute.
type CategoryDistribution struct {
	Total       int             `json:"total"`
	Categories  []CategoryCount `json:"categories"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// RecomputeSummary reports what a population recompute changed.
type RecomputeSummary struct {
	Students  int              `json:"students"`
	Counts    map[Category]int `json:"counts"`
	Duration  time.Duration    `json:"-"`
	StartedAt time.Time        `json:"started_at"`
}

// CategoryPreview answers which category a hypothetical score would fall in.
type CategoryPreview struct {
	Score    float64  `json:"score"`
	Category Category `json:"category"`
}

// LeaderboardFilter narrows the leaderboard.
type LeaderboardFilter struct {
	Stream   Stream
	Batch    string
	Category Category
	Limit    int
}

// PopulationOverview aggregates headline numbers over a population.
type PopulationOverview struct {
	Students        int     `db:"students" json:"students"`
	AverageMarks    float64 `db:"average_marks" json:"average_marks"`
	AverageScore    float64 `db:"average_score" json:"average_score"`
	ElitePerformers int     `db:"elite_performers" json:"elite_performers"`
	Unranked        int     `db:"unranked" json:"unranked"`
}
