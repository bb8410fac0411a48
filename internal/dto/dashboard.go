package dto

import (
	"time"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

// DashboardResponse is the admin overview of the whole population.
type DashboardResponse struct {
	Stream         models.Stream             `json:"stream,omitempty"`
	Totals         DashboardTotals           `json:"totals"`
	Distribution   []models.CategoryCount    `json:"distribution"`
	TopPerformers  []models.LeaderboardEntry `json:"top_performers"`
	MostImproved   []ImprovedStudent         `json:"most_improved"`
	NeedsAttention []models.LeaderboardEntry `json:"needs_attention"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// DashboardTotals backs the headline stat cards.
type DashboardTotals struct {
	Students         int     `json:"students"`
	AverageMarks     float64 `json:"average_marks"`
	AverageScore     float64 `json:"average_score"`
	ElitePerformers  int     `json:"elite_performers"`
	UnrankedStudents int     `json:"unranked_students"`
}

// ImprovedStudent is a leaderboard entry with the number of places gained.
type ImprovedStudent struct {
	models.LeaderboardEntry
	PlacesGained int `json:"places_gained"`
}
