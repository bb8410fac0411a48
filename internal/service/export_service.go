package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/scoring"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/export"
	"github.com/noah-isme/coaching-rank-api/pkg/storage"
)

const absentLabel = "Absent"

type exportStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error)
}

type exportRecordRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	students exportStudentRepository
	records  exportRecordRepository
	storage  fileStorage
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(students exportStudentRepository, records exportRecordRepository, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		students: students,
		records:  records,
		storage:  files,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Generate builds the dataset for job, renders it and stores the file behind a signed token.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.Dataset(ctx, job.Type, job.Params)
	if err != nil {
		return nil, err
	}

	renderer, err := export.ForFormat(export.Format(job.Params.Format))
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, fmt.Errorf("render %s report: %w", job.Params.Format, err)
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Info("report rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        signed.Token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, signed.Token),
		Format:       job.Params.Format,
		ExpiresAt:    signed.ExpiresAt,
	}, nil
}

// Dataset builds the table for a report type.
func (s *ExportService) Dataset(ctx context.Context, reportType models.ReportType, params models.ReportJobParams) (export.Dataset, error) {
	switch reportType {
	case models.ReportTypeLeaderboard:
		return s.leaderboardDataset(ctx, params)
	case models.ReportTypeStudent:
		return s.studentDataset(ctx, params)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", reportType)
	}
}

// ParseToken validates a download token. allowExpired skips the expiry check for cleanup.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.SignedToken, error) {
	if allowExpired {
		return s.signer.Decode(token)
	}
	return s.signer.Verify(token)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	subject := "all"
	switch {
	case job.Params.StudentID != "":
		subject = job.Params.StudentID
	case job.Params.Stream != "":
		subject = string(job.Params.Stream)
	}
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.%s", job.Type, sanitizeFilename(subject), timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) leaderboardDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	entries, err := s.students.Leaderboard(ctx, models.LeaderboardFilter{
		Stream:   params.Stream,
		Batch:    params.Batch,
		Category: params.Category,
		Limit:    params.Limit,
	})
	if err != nil {
		return export.Dataset{}, err
	}

	headers := []string{"Rank", "Roll Number", "Name", "Batch", "Stream", "Score", "Average Marks", "Category", "Movement"}
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]string{
			"Rank":          fmt.Sprintf("%d", e.Rank),
			"Roll Number":   e.RollNumber,
			"Name":          e.Name,
			"Batch":         e.Batch,
			"Stream":        string(e.Stream),
			"Score":         fmt.Sprintf("%.2f", e.PerformanceScore),
			"Average Marks": fmt.Sprintf("%.2f", e.AverageMarks),
			"Category":      string(e.Category),
			"Movement":      formatMovement(e.Movement()),
		})
	}

	var scope []string
	for _, part := range []string{string(params.Stream), params.Batch, string(params.Category)} {
		if part != "" {
			scope = append(scope, part)
		}
	}
	subtitle := "All students"
	if len(scope) > 0 {
		subtitle = strings.Join(scope, " / ")
	}
	return export.Dataset{
		Title:    "Leaderboard",
		Subtitle: fmt.Sprintf("%s, generated %s", subtitle, s.now().UTC().Format("2006-01-02 15:04 MST")),
		Headers:  headers,
		Rows:     rows,
	}, nil
}

func (s *ExportService) studentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	if params.StudentID == "" {
		return export.Dataset{}, appErrors.Validation("student_id is required for student reports")
	}
	student, err := s.students.FindByID(ctx, params.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return export.Dataset{}, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return export.Dataset{}, err
	}
	records, err := s.records.ListByStudent(ctx, student.ID)
	if err != nil {
		return export.Dataset{}, err
	}

	subjects := student.Stream.Subjects()
	headers := []string{"Date", "Exam"}
	for _, subject := range subjects {
		headers = append(headers, subjectTitle(subject))
	}
	headers = append(headers, "Total", "Percentage", "Attendance", "Remarks")

	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		total, max := record.Totals(student.Stream)
		record.TotalScore, record.MaxScore = total, max
		row := map[string]string{
			"Date":       record.Date.UTC().Format(dayLayout),
			"Exam":       record.ExamName,
			"Total":      fmt.Sprintf("%g/%g", total, max),
			"Percentage": fmt.Sprintf("%.2f", record.Percentage()),
			"Attendance": fmt.Sprintf("%g", record.Attendance),
			"Remarks":    record.Remarks,
		}
		for _, subject := range subjects {
			score, ok := record.Scores.Get(subject)
			if !ok {
				row[subjectTitle(subject)] = absentLabel
				continue
			}
			row[subjectTitle(subject)] = fmt.Sprintf("%g/%g", score, record.MaxScores.Max(subject))
		}
		rows = append(rows, row)
	}

	breakdown := scoring.Calculate(records, student.Stream).Breakdown()
	return export.Dataset{
		Title: fmt.Sprintf("%s (%s)", student.Name, student.RollNumber),
		Subtitle: fmt.Sprintf("%s, %s. Score %.2f, category %s, rank %s. Academic %.2f, improvement %.2f, attendance %.2f.",
			student.Stream, student.Batch, student.PerformanceScore, student.Category, formatRank(student.CurrentRank),
			breakdown.AcademicScore, breakdown.ImprovementScore, breakdown.AttendanceScore),
		Headers: headers,
		Rows:    rows,
	}, nil
}

func subjectTitle(subject models.Subject) string {
	name := string(subject)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func formatMovement(delta int) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("+%d", delta)
	case delta < 0:
		return fmt.Sprintf("%d", delta)
	default:
		return "0"
	}
}

func formatRank(rank int) string {
	if rank <= 0 {
		return "unranked"
	}
	return fmt.Sprintf("%d", rank)
}
