package scoring

import (
	"math"
	"sort"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

const (
	topFraction    = 0.25
	bottomFraction = 0.75
)

// Standing is a student's score and rank fields before a recompute.
type Standing struct {
	StudentID   string
	Score       float64
	CurrentRank int
	BestRank    int
}

// FromStudent extracts the fields AssignPercentiles needs.
func FromStudent(s models.Student) Standing {
	return Standing{StudentID: s.ID, Score: s.PerformanceScore, CurrentRank: s.CurrentRank, BestRank: s.BestRank}
}

// Cutoffs returns the index bounds of the population: indexes below top are Best and indexes at
// or above bottom are Worst.
func Cutoffs(n int) (top, bottom int) {
	return int(math.Floor(float64(n) * topFraction)), int(math.Floor(float64(n) * bottomFraction))
}

// AssignPercentiles ranks the population by score descending. Equal scores keep their input
// order, so callers pass students already ordered by their tie-break key.
func AssignPercentiles(standings []Standing) []models.RankUpdate {
	if len(standings) == 0 {
		return nil
	}

	ordered := make([]Standing, len(standings))
	copy(ordered, standings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	top, bottom := Cutoffs(len(ordered))
	updates := make([]models.RankUpdate, len(ordered))
	for i, s := range ordered {
		rank := i + 1

		category := models.CategoryMedium
		switch {
		case i < top:
			category = models.CategoryBest
		case i >= bottom:
			category = models.CategoryWorst
		}

		previous := s.CurrentRank
		if previous <= 0 {
			previous = rank
		}

		best := s.BestRank
		if best <= 0 || rank < best {
			best = rank
		}

		updates[i] = models.RankUpdate{
			StudentID:    s.StudentID,
			Category:     category,
			CurrentRank:  rank,
			PreviousRank: previous,
			BestRank:     best,
		}
	}
	return updates
}

// CountByCategory tallies updates per category.
func CountByCategory(updates []models.RankUpdate) map[models.Category]int {
	counts := map[models.Category]int{
		models.CategoryBest:   0,
		models.CategoryMedium: 0,
		models.CategoryWorst:  0,
	}
	for _, u := range updates {
		counts[u.Category]++
	}
	return counts
}
