package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/repository"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/spreadsheet"
)

const (
	defaultBulkErrorCap = 50
	absentCell          = "absent"
	unknownRollNumber   = "unknown"
)

// Spreadsheet columns. Headers are matched case-insensitively.
const (
	columnRollNumber = "rollNumber"
	columnDate       = "date"
	columnExamName   = "examName"
	columnAttendance = "attendance"
	columnRemarks    = "remarks"
	columnMaxPrefix  = "max"
	columnTestPrefix = "testName"
)

var bulkDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", dayLayout}

type bulkStudentRepository interface {
	FindByRollNumber(ctx context.Context, rollNumber string) (*models.Student, error)
}

type bulkRecordRepository interface {
	FindForStudentOnDate(ctx context.Context, studentID string, date time.Time) (*models.ExamRecord, error)
	Create(ctx context.Context, record *models.ExamRecord, stream models.Stream) error
}

// BulkUploadService ingests exam records from spreadsheet rows. Rows are processed in order and a
// bad row never stops the batch.
type BulkUploadService struct {
	students bulkStudentRepository
	records  bulkRecordRepository
	ranking  *RankingService
	metrics  *MetricsService
	logger   *zap.Logger
	errorCap int
	now      func() time.Time
}

// NewBulkUploadService constructs the service. errorCap bounds the reported row errors.
func NewBulkUploadService(students bulkStudentRepository, records bulkRecordRepository, ranking *RankingService, metrics *MetricsService, logger *zap.Logger, errorCap int) *BulkUploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errorCap <= 0 {
		errorCap = defaultBulkErrorCap
	}
	return &BulkUploadService{
		students: students,
		records:  records,
		ranking:  ranking,
		metrics:  metrics,
		logger:   logger,
		errorCap: errorCap,
		now:      time.Now,
	}
}

// UploadFile parses an .xlsx or .csv upload and ingests its rows. Only an unreadable file fails
// the request.
func (s *BulkUploadService) UploadFile(ctx context.Context, filename string, r io.Reader) (*models.BulkUploadResult, error) {
	rows, err := spreadsheet.Read(filename, r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnreadableInput.Code, appErrors.ErrUnreadableInput.Status, "could not read spreadsheet")
	}
	return s.Ingest(ctx, rows)
}

// Ingest stores every valid row, collects row errors, then rescores the affected students and
// re-ranks the population once. A store failure stops the batch, but rows saved before it are
// still scored and ranked before the error is returned.
func (s *BulkUploadService) Ingest(ctx context.Context, rows []spreadsheet.Row) (*models.BulkUploadResult, error) {
	result := &models.BulkUploadResult{ProcessedCount: len(rows), Errors: []string{}}
	errs := newRowErrors(s.errorCap)
	rejected := 0

	var affected []*models.Student
	seen := map[string]bool{}
	for i, row := range rows {
		line := row.Line
		if line <= 0 {
			line = i + 1
		}
		student, err := s.ingestRow(ctx, row)
		if err != nil {
			if isInternal(err) {
				s.abort(ctx, affected, line, err)
				return nil, err
			}
			rejected++
			roll := row.Get(columnRollNumber)
			if roll == "" {
				roll = unknownRollNumber
			}
			errs.add(fmt.Sprintf("Row %d (%s): %s", line, roll, err.Error()))
			s.logger.Debug("bulk row rejected", zap.Int("row", line), zap.String("roll_number", roll), zap.Error(err))
			continue
		}
		result.SuccessCount++
		if !seen[student.ID] {
			seen[student.ID] = true
			affected = append(affected, student)
		}
	}

	if err := s.rescore(ctx, affected); err != nil {
		return nil, err
	}

	result.Errors = errs.list
	result.ErrorCount = len(errs.list)
	result.Message = fmt.Sprintf("Processed %d rows. Successfully added %d records.", len(rows), result.SuccessCount)
	s.metrics.RecordBulkRows(result.SuccessCount, rejected)
	s.logger.Info("bulk upload processed",
		zap.Int("rows", len(rows)),
		zap.Int("accepted", result.SuccessCount),
		zap.Int("rejected", rejected),
		zap.Int("students", len(affected)),
	)
	return result, nil
}

// rescore recomputes each affected student and then ranks the population once.
func (s *BulkUploadService) rescore(ctx context.Context, affected []*models.Student) error {
	if len(affected) == 0 {
		return nil
	}
	for _, student := range affected {
		if _, err := s.ranking.RecomputeStudent(ctx, student); err != nil {
			return err
		}
	}
	_, err := s.ranking.RecalculateAll(ctx)
	return err
}

// abort keeps already stored rows consistent with the rankings when the batch stops on a store
// failure.
func (s *BulkUploadService) abort(ctx context.Context, affected []*models.Student, line int, cause error) {
	s.logger.Error("bulk upload aborted",
		zap.Int("row", line),
		zap.Int("students", len(affected)),
		zap.Error(cause),
	)
	if err := s.rescore(ctx, affected); err != nil {
		s.logger.Error("rescoring after aborted bulk upload failed", zap.Error(err))
	}
}

// rowError is a per-row rejection reported back to the uploader.
type rowError struct{ msg string }

func (e *rowError) Error() string { return e.msg }

func rowErrorf(format string, args ...interface{}) error {
	return &rowError{msg: fmt.Sprintf(format, args...)}
}

func isInternal(err error) bool {
	var re *rowError
	return !errors.As(err, &re)
}

func (s *BulkUploadService) ingestRow(ctx context.Context, row spreadsheet.Row) (*models.Student, error) {
	roll := row.Get(columnRollNumber)
	if roll == "" {
		return nil, rowErrorf("Missing rollNumber")
	}

	student, err := s.students.FindByRollNumber(ctx, roll)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rowErrorf("Student with roll %s not found", roll)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	record, err := s.parseRecord(row, student)
	if err != nil {
		return nil, err
	}

	if overflow, ok := record.FirstOverflow(student.Stream.Subjects()); ok {
		return nil, rowErrorf("Score %v exceeds max %v for %s", overflow.Score, overflow.Max, overflow.Subject)
	}

	existing, err := s.records.FindForStudentOnDate(ctx, student.ID, record.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing marks")
	}
	if existing != nil {
		return nil, duplicateRowError(roll, record.Date)
	}

	if err := s.records.Create(ctx, record, student.Stream); err != nil {
		if errors.Is(err, repository.ErrDuplicateDay) {
			return nil, duplicateRowError(roll, record.Date)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save mark")
	}
	return student, nil
}

func (s *BulkUploadService) parseRecord(row spreadsheet.Row, student *models.Student) (*models.ExamRecord, error) {
	date, err := s.parseDate(row.Get(columnDate))
	if err != nil {
		return nil, err
	}
	attendance, err := parseAttendance(row.Get(columnAttendance))
	if err != nil {
		return nil, err
	}

	examName := row.Get(columnExamName)
	if examName == "" {
		examName = models.DefaultBulkExamName
	}
	record := &models.ExamRecord{
		StudentID:  student.ID,
		ExamName:   examName,
		Date:       date,
		Scores:     models.SubjectScores{},
		MaxScores:  models.SubjectMaxima{},
		TestNames:  models.SubjectLabels{},
		Attendance: attendance,
		Remarks:    row.Get(columnRemarks),
	}

	for _, subject := range student.Stream.Subjects() {
		record.Scores[subject] = parseScore(row.Get(string(subject)))

		max := models.DefaultMaxScore
		if raw := row.Get(columnMaxPrefix + string(subject)); raw != "" {
			max, err = strconv.ParseFloat(raw, 64)
			if err != nil || max <= 0 {
				return nil, rowErrorf("Invalid max score %q for %s", raw, subject)
			}
		}
		record.MaxScores[subject] = max

		testName := row.Get(columnTestPrefix + string(subject))
		if testName == "" {
			testName = models.DefaultTestName
		}
		record.TestNames[subject] = testName
	}
	return record, nil
}

// parseDate accepts RFC 3339, ISO dates and Excel serial numbers. An empty cell means now.
func (s *BulkUploadService) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return s.now().UTC(), nil
	}
	for _, layout := range bulkDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, rowErrorf("Invalid date %q", raw)
}

// parseScore treats empty, "absent" and non-numeric cells as absent.
func parseScore(raw string) *float64 {
	if raw == "" || strings.EqualFold(raw, absentCell) {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseAttendance defaults an empty or non-numeric cell to full attendance.
func parseAttendance(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if raw == "" || err != nil {
		return 100, nil
	}
	if v < 0 || v > 100 {
		return 0, rowErrorf("Attendance %v must be between 0 and 100", v)
	}
	return v, nil
}

func duplicateRowError(roll string, date time.Time) error {
	return rowErrorf("Duplicate entry: a mark already exists for %s on %s", roll, models.CalendarDay(date).Format(dayLayout))
}

// rowErrors keeps at most limit messages followed by a single truncation marker.
type rowErrors struct {
	limit     int
	list      []string
	truncated bool
}

func newRowErrors(limit int) *rowErrors {
	return &rowErrors{limit: limit, list: []string{}}
}

func (e *rowErrors) add(msg string) {
	if len(e.list) < e.limit {
		e.list = append(e.list, msg)
		return
	}
	if !e.truncated {
		e.truncated = true
		e.list = append(e.list, fmt.Sprintf("... and more errors (truncated at %d)", e.limit))
	}
}
