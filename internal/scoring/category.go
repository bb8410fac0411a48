package scoring

import "github.com/noah-isme/coaching-rank-api/internal/models"

const (
	BestThreshold   = 85.0
	MediumThreshold = 60.0
)

// CategoryFor maps an absolute score onto a category. Population ranking uses percentiles
// instead; this is only used to preview where a score would land.
func CategoryFor(score float64) models.Category {
	switch {
	case score >= BestThreshold:
		return models.CategoryBest
	case score >= MediumThreshold:
		return models.CategoryMedium
	default:
		return models.CategoryWorst
	}
}
