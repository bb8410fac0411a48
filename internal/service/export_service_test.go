package service

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/storage"
)

type exportFixture struct {
	svc      *ExportService
	dir      string
	students *memStudents
	records  *memRecords
}

func newExportServiceForTest(t *testing.T) exportFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	records := newMemRecords()
	students := newMemStudents(records)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(students, records, store, signer, ExportConfig{APIPrefix: "/api/v1/", ResultTTL: time.Hour}, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC) }
	return exportFixture{svc: svc, dir: dir, students: students, records: records}
}

func (f exportFixture) rank(t *testing.T) {
	t.Helper()
	ranking := NewRankingService(f.students, f.records, nil, nil, zap.NewNop())
	_, err := ranking.RecalculateAll(context.Background())
	require.NoError(t, err)
}

func readCSV(t *testing.T, svc *ExportService, relPath string) [][]string {
	t.Helper()
	file, err := svc.Open(relPath)
	require.NoError(t, err)
	defer file.Close()
	raw, err := io.ReadAll(file)
	require.NoError(t, err)
	lines, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	require.NoError(t, err)
	return lines
}

func TestExportServiceGenerateLeaderboardCSV(t *testing.T) {
	f := newExportServiceForTest(t)
	f.students.add("NM-1", "Asha", models.StreamNonMedical).PerformanceScore = 81.5
	f.students.add("M-1", "Bela", models.StreamMedical).PerformanceScore = 92
	f.students.add("NM-2", "Ravi", models.StreamNonMedical).PerformanceScore = 40
	f.rank(t)

	job := &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeLeaderboard,
		Params: models.ReportJobParams{Format: models.ReportFormatCSV, Stream: models.StreamNonMedical},
	}
	result, err := f.svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "leaderboard_non-medical_20240502_083000.csv", result.RelativePath)
	assert.Equal(t, "/api/v1/export/"+result.Token, result.URL)
	assert.Equal(t, models.ReportFormatCSV, result.Format)

	lines := readCSV(t, f.svc, result.RelativePath)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"Rank", "Roll Number", "Name", "Batch", "Stream", "Score", "Average Marks", "Category", "Movement"}, lines[0])
	assert.Equal(t, []string{"2", "NM-1", "Asha", models.DefaultBatch, "Non-Medical", "81.50", "0.00", "Medium", "0"}, lines[1])
	assert.Equal(t, "3", lines[2][0])
	assert.Equal(t, "Worst", lines[2][7])

	signed, err := f.svc.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", signed.JobID)
	assert.Equal(t, result.RelativePath, signed.Path)
}

func TestExportServiceGenerateStudentPDF(t *testing.T) {
	f := newExportServiceForTest(t)
	student := f.students.add("M-7", "Bela Rao", models.StreamMedical)
	f.records.seedRecord(student.ID, models.StreamMedical, examDay(3), 95, map[models.Subject]float64{
		models.SubjectPhysics: 70, models.SubjectBotany: 88,
	})

	job := &models.ReportJob{
		ID:     "job-2",
		Type:   models.ReportTypeStudent,
		Params: models.ReportJobParams{Format: models.ReportFormatPDF, StudentID: student.ID},
	}
	result, err := f.svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatPDF, result.Format)
	assert.True(t, strings.HasSuffix(result.RelativePath, ".pdf"))

	file, err := f.svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	head := make([]byte, 5)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(head))
}

func TestExportServiceStudentDataset(t *testing.T) {
	f := newExportServiceForTest(t)
	student := f.students.add("NM-3", "Chen", models.StreamNonMedical)
	record := f.records.seedRecord(student.ID, models.StreamNonMedical, examDay(8), 90, map[models.Subject]float64{
		models.SubjectPhysics: 30, models.SubjectMaths: 45,
	})
	f.records.rows[record.ID].MaxScores = models.SubjectMaxima{models.SubjectPhysics: 50}

	dataset, err := f.svc.Dataset(context.Background(), models.ReportTypeStudent, models.ReportJobParams{StudentID: student.ID})
	require.NoError(t, err)
	assert.Equal(t, "Chen (NM-3)", dataset.Title)
	assert.Equal(t, []string{"Date", "Exam", "Physics", "Chemistry", "Maths", "Total", "Percentage", "Attendance", "Remarks"}, dataset.Headers)
	require.Len(t, dataset.Rows, 1)
	row := dataset.Rows[0]
	assert.Equal(t, "2024-03-08", row["Date"])
	assert.Equal(t, "30/50", row["Physics"])
	assert.Equal(t, absentLabel, row["Chemistry"])
	assert.Equal(t, "45/100", row["Maths"])
	assert.Equal(t, "75/150", row["Total"])
	assert.Equal(t, "50.00", row["Percentage"])
	assert.Contains(t, dataset.Subtitle, "rank unranked")
}

func TestExportServiceDatasetErrors(t *testing.T) {
	f := newExportServiceForTest(t)

	_, err := f.svc.Dataset(context.Background(), models.ReportTypeStudent, models.ReportJobParams{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Dataset(context.Background(), models.ReportTypeStudent, models.ReportJobParams{StudentID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Dataset(context.Background(), "attendance", models.ReportJobParams{})
	assert.Error(t, err)

	_, err = f.svc.Generate(context.Background(), &models.ReportJob{ID: "x", Type: models.ReportTypeLeaderboard, Params: models.ReportJobParams{Format: "xlsx"}})
	assert.Error(t, err)
}

func TestExportServiceCleanup(t *testing.T) {
	f := newExportServiceForTest(t)
	f.students.add("NM-1", "Asha", models.StreamNonMedical)
	f.rank(t)

	result, err := f.svc.Generate(context.Background(), &models.ReportJob{ID: "job-3", Type: models.ReportTypeLeaderboard, Params: models.ReportJobParams{Format: models.ReportFormatCSV}})
	require.NoError(t, err)

	removed, err := f.svc.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, removed)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, result.RelativePath), old, old))
	removed, err = f.svc.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, []string{result.RelativePath}, removed)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "na", sanitizeFilename(""))
	assert.Equal(t, "non-medical", sanitizeFilename("Non-Medical"))
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b\\c d"))
	assert.Equal(t, ".-etc", sanitizeFilename("../etc"))
	assert.Len(t, sanitizeFilename(strings.Repeat("x", 300)), 100)
}
