package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/spreadsheet"
)

var bulkNow = time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC)

func cells(values map[string]string) spreadsheet.Row {
	return spreadsheet.NewRow(0, values)
}

// flakyRecords fails the failOn-th Create call.
type flakyRecords struct {
	*memRecords
	calls  int
	failOn int
	err    error
}

func (f *flakyRecords) Create(ctx context.Context, record *models.ExamRecord, stream models.Stream) error {
	f.calls++
	if f.calls == f.failOn {
		return f.err
	}
	return f.memRecords.Create(ctx, record, stream)
}

func newBulkFixture(t *testing.T, errorCap int) (*BulkUploadService, *memStudents, *memRecords, *MetricsService) {
	t.Helper()
	records := newMemRecords()
	students := newMemStudents(records)
	metrics := NewMetricsService()
	ranking := NewRankingService(students, records, nil, metrics, zap.NewNop())
	svc := NewBulkUploadService(students, records, ranking, metrics, zap.NewNop(), errorCap)
	svc.now = func() time.Time { return bulkNow }
	return svc, students, records, metrics
}

func TestBulkUploadIngest(t *testing.T) {
	svc, students, records, metrics := newBulkFixture(t, 0)
	nm := students.add("NM-1", "Asha", models.StreamNonMedical)
	med := students.add("M-1", "Bela", models.StreamMedical)

	rows := []spreadsheet.Row{
		cells(map[string]string{"rollnumber": "NM-1", "date": "2024-03-01", "physics": "80", "chemistry": "70", "maths": "90", "attendance": "90"}),
		cells(map[string]string{"rollnumber": "", "physics": "50"}),
		cells(map[string]string{"rollnumber": "ZZ-9", "physics": "50"}),
		cells(map[string]string{"rollnumber": "NM-1", "date": "2024-03-01T18:00:00Z", "physics": "10"}),
		cells(map[string]string{"rollnumber": "M-1", "date": "2024-03-02", "physics": "120"}),
		cells(map[string]string{"rollnumber": "M-1", "date": "45352", "physics": "90", "maxphysics": "180", "testnamephysics": "Kinematics", "examname": "March mock"}),
		cells(map[string]string{"rollnumber": "M-1", "attendance": "150", "physics": "10"}),
	}

	result, err := svc.Ingest(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, "Processed 7 rows. Successfully added 2 records.", result.Message)
	assert.Equal(t, 7, result.ProcessedCount)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 5, result.ErrorCount)
	assert.Equal(t, []string{
		"Row 2 (unknown): Missing rollNumber",
		"Row 3 (ZZ-9): Student with roll ZZ-9 not found",
		"Row 4 (NM-1): Duplicate entry: a mark already exists for NM-1 on 2024-03-01",
		"Row 5 (M-1): Score 120 exceeds max 100 for physics",
		"Row 7 (M-1): Attendance 150 must be between 0 and 100",
	}, result.Errors)

	medRecords := records.forStudent(med.ID)
	require.Len(t, medRecords, 1)
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(medRecords[0].Date))
	assert.Equal(t, "March mock", medRecords[0].ExamName)
	assert.Equal(t, "Kinematics", medRecords[0].TestNames[models.SubjectPhysics])
	assert.Equal(t, models.DefaultTestName, medRecords[0].TestNames[models.SubjectBotany])
	assert.Equal(t, 100.0, medRecords[0].Attendance)
	_, present := medRecords[0].Scores.Get(models.SubjectZoology)
	assert.False(t, present)

	nmRecords := records.forStudent(nm.ID)
	require.Len(t, nmRecords, 1)
	assert.Equal(t, models.DefaultBulkExamName, nmRecords[0].ExamName)
	_, hasBotany := nmRecords[0].Scores[models.SubjectBotany]
	assert.False(t, hasBotany)

	assert.Equal(t, 80.0, students.get(nm.ID).AverageMarks)
	assert.Equal(t, 50.0, students.get(med.ID).AverageMarks)
	assert.Equal(t, 1, students.get(nm.ID).CurrentRank)
	assert.Equal(t, 2, students.get(med.ID).CurrentRank)
	assert.Equal(t, 1, students.rankRuns)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.BulkRowsAccepted)
	assert.Equal(t, uint64(5), snapshot.BulkRowsRejected)
	assert.Equal(t, uint64(1), snapshot.Recomputes)
}

func TestBulkUploadIngestCapsErrors(t *testing.T) {
	svc, _, _, _ := newBulkFixture(t, 2)
	rows := make([]spreadsheet.Row, 5)
	for i := range rows {
		rows[i] = cells(map[string]string{"rollnumber": "ghost"})
	}

	result, err := svc.Ingest(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuccessCount)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "... and more errors (truncated at 2)", result.Errors[2])
	assert.Equal(t, 3, result.ErrorCount)
}

func TestBulkUploadIngestDefaultCapAddsSentinel(t *testing.T) {
	svc, _, _, _ := newBulkFixture(t, 0)
	rows := make([]spreadsheet.Row, 60)
	for i := range rows {
		rows[i] = cells(map[string]string{"rollnumber": "ghost"})
	}

	result, err := svc.Ingest(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Errors, 51)
	assert.Equal(t, 51, result.ErrorCount)
	assert.Equal(t, "Row 50 (ghost): Student with roll ghost not found", result.Errors[49])
	assert.Equal(t, "... and more errors (truncated at 50)", result.Errors[50])
}

func TestBulkUploadIngestNothingAcceptedSkipsRanking(t *testing.T) {
	svc, students, _, _ := newBulkFixture(t, 0)
	students.add("NM-1", "Asha", models.StreamNonMedical)

	result, err := svc.Ingest(context.Background(), []spreadsheet.Row{cells(map[string]string{"rollnumber": "NM-1", "maxphysics": "zero"})})
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, []string{`Row 1 (NM-1): Invalid max score "zero" for physics`}, result.Errors)
	assert.Equal(t, 0, students.rankRuns)
}

func TestBulkUploadIngestEmptyRows(t *testing.T) {
	svc, _, _, _ := newBulkFixture(t, 0)
	result, err := svc.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Processed 0 rows. Successfully added 0 records.", result.Message)
	assert.NotNil(t, result.Errors)
}

func TestBulkUploadIngestStoreFailureAborts(t *testing.T) {
	svc, students, records, _ := newBulkFixture(t, 0)
	students.add("NM-1", "Asha", models.StreamNonMedical)
	records.createErr = errors.New("connection reset")

	_, err := svc.Ingest(context.Background(), []spreadsheet.Row{cells(map[string]string{"rollnumber": "NM-1", "physics": "50"})})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestBulkUploadIngestStoreFailureStillRanksSavedRows(t *testing.T) {
	records := newMemRecords()
	students := newMemStudents(records)
	ranking := NewRankingService(students, records, nil, nil, zap.NewNop())
	flaky := &flakyRecords{memRecords: records, failOn: 2, err: errors.New("connection reset")}
	svc := NewBulkUploadService(students, flaky, ranking, nil, zap.NewNop(), 0)
	svc.now = func() time.Time { return bulkNow }
	student := students.add("NM-1", "Asha", models.StreamNonMedical)

	_, err := svc.Ingest(context.Background(), []spreadsheet.Row{
		cells(map[string]string{"rollnumber": "NM-1", "date": "2024-03-01", "physics": "80", "attendance": "100"}),
		cells(map[string]string{"rollnumber": "NM-1", "date": "2024-03-02", "physics": "90"}),
		cells(map[string]string{"rollnumber": "NM-1", "date": "2024-03-03", "physics": "70"}),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	require.Len(t, records.forStudent(student.ID), 1)
	stored := students.get(student.ID)
	assert.Equal(t, 80.0, stored.AverageMarks)
	assert.Equal(t, 1, stored.CurrentRank)
	assert.Equal(t, 1, students.rankRuns)
}

func TestBulkUploadUploadFileReportsSheetLines(t *testing.T) {
	svc, students, _, _ := newBulkFixture(t, 0)
	students.add("NM-1", "Asha", models.StreamNonMedical)

	csv := "RollNumber,Date,Physics\nNM-1,2024-03-02,55\n,,\nZZ-9,2024-03-02,40\n"
	result, err := svc.UploadFile(context.Background(), "marks.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, []string{"Row 3 (ZZ-9): Student with roll ZZ-9 not found"}, result.Errors)
}

func TestBulkUploadParseCells(t *testing.T) {
	for _, raw := range []string{"", "absent", "ABSENT", "n/a"} {
		assert.Nil(t, parseScore(raw), raw)
	}
	require.NotNil(t, parseScore("0"))
	assert.Equal(t, 0.0, *parseScore("0"))
	assert.Equal(t, 42.5, *parseScore("42.5"))

	for raw, want := range map[string]float64{"": 100, "abc": 100, "0": 0, "87.5": 87.5} {
		got, err := parseAttendance(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseAttendance("-5")
	assert.Error(t, err)
}

func TestBulkUploadParseDate(t *testing.T) {
	svc, _, _, _ := newBulkFixture(t, 0)

	cases := map[string]time.Time{
		"":                     bulkNow,
		"2024-03-05":           time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"2024-03-05T10:30:00":  time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		"2024-03-05T10:30:00Z": time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		"45352":                time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, err := svc.parseDate(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s: got %s", raw, got)
	}

	_, err := svc.parseDate("next tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Invalid date "next tuesday"`)
}

func TestBulkUploadUploadFile(t *testing.T) {
	svc, students, records, _ := newBulkFixture(t, 0)
	student := students.add("NM-1", "Asha", models.StreamNonMedical)

	csv := "RollNumber,Date,Physics,Chemistry,Maths,Attendance\nNM-1,2024-03-02,55,65,75,95\n"
	result, err := svc.UploadFile(context.Background(), "marks.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	require.Len(t, records.forStudent(student.ID), 1)
	assert.Equal(t, 65.0, students.get(student.ID).AverageMarks)

	_, err = svc.UploadFile(context.Background(), "marks.txt", strings.NewReader(csv))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnreadableInput)
}
