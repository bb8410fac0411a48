package dto

import (
	"time"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

// ReportRequest captures POST /reports payload.
type ReportRequest struct {
	Type      models.ReportType   `json:"type" validate:"required,oneof=leaderboard student"`
	Format    models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
	StudentID string              `json:"student_id,omitempty"`
	Stream    models.Stream       `json:"stream,omitempty" validate:"omitempty,oneof=Medical Non-Medical"`
	Batch     string              `json:"batch,omitempty"`
	Category  models.Category     `json:"category,omitempty" validate:"omitempty,oneof=Best Medium Worst"`
	Limit     int                 `json:"limit,omitempty" validate:"min=0,max=1000"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID         string              `json:"id"`
	Type       models.ReportType   `json:"type"`
	Status     models.ReportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"result_url,omitempty"`
	Error      *string             `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}
