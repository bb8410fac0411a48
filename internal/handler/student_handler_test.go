package handler

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

type studentServiceStub struct {
	filter     models.StudentFilter
	registered models.RegisterStudentRequest
	updated    models.UpdateStudentRequest
	deleted    string
	err        error
}

func (s *studentServiceStub) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	s.filter = filter
	if s.err != nil {
		return nil, nil, s.err
	}
	rows := []models.StudentDetail{{Student: models.Student{ID: "stu-1", RollNumber: "NM-1"}, Rank: 1}}
	if filter.Paginated() {
		return rows, models.NewPagination(filter.Page, filter.PageSize, 1), nil
	}
	return rows, nil, nil
}

func (s *studentServiceStub) Get(ctx context.Context, id string) (*models.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Student{ID: id}, nil
}

func (s *studentServiceStub) Register(ctx context.Context, req models.RegisterStudentRequest) (*models.Student, error) {
	s.registered = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.Student{ID: "stu-9", RollNumber: req.RollNumber, Stream: req.Stream}, nil
}

func (s *studentServiceStub) Update(ctx context.Context, id string, req models.UpdateStudentRequest) (*models.Student, error) {
	s.updated = req
	return &models.Student{ID: id, Name: *req.Name}, s.err
}

func (s *studentServiceStub) Delete(ctx context.Context, id string) error {
	s.deleted = id
	return s.err
}

func (s *studentServiceStub) Performance(ctx context.Context, id string) (*models.StudentPerformance, error) {
	return &models.StudentPerformance{Student: models.Student{ID: id}, Breakdown: models.ScoreBreakdown{AcademicScore: 70}}, s.err
}

type marksStub struct {
	records []models.ExamRecord
	err     error
}

func (m *marksStub) ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error) {
	return m.records, m.err
}

func newStudentRouter(svc *studentServiceStub, marks *marksStub) http.Handler {
	h := NewStudentHandler(svc, marks)
	r := newTestRouter(true)
	r.GET("/students", h.List)
	r.POST("/students", h.Create)
	r.GET("/students/:id", h.Get)
	r.PUT("/students/:id", h.Update)
	r.DELETE("/students/:id", h.Delete)
	r.GET("/students/:id/performance", h.Performance)
	r.GET("/students/:id/marks", h.Marks)
	return r
}

func TestStudentHandlerListParsesFilters(t *testing.T) {
	svc := &studentServiceStub{}
	r := newStudentRouter(svc, &marksStub{})

	rec := doRequest(r, http.MethodGet, "/students?search=+asha+&stream=Medical&batch=B1&category=Best&minScore=40&maxScore=100&page=2&limit=5&sort=name&order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "asha", svc.filter.Search)
	assert.Equal(t, models.StreamMedical, svc.filter.Stream)
	assert.Equal(t, "B1", svc.filter.Batch)
	assert.Equal(t, models.CategoryBest, svc.filter.Category)
	require.NotNil(t, svc.filter.MinScore)
	assert.Equal(t, 40.0, *svc.filter.MinScore)
	assert.Equal(t, 100.0, *svc.filter.MaxScore)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 5, svc.filter.PageSize)
	assert.Equal(t, "name", svc.filter.SortBy)

	env := decode(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 2, env.Pagination.Page)
}

func TestStudentHandlerListWithoutPage(t *testing.T) {
	svc := &studentServiceStub{}
	r := newStudentRouter(svc, &marksStub{})

	rec := doRequest(r, http.MethodGet, "/students", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, svc.filter.Page)
	assert.Nil(t, svc.filter.MinScore)
	assert.Nil(t, decode(t, rec).Pagination)

	assert.Equal(t, http.StatusBadRequest, doRequest(r, http.MethodGet, "/students?minScore=lots", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(r, http.MethodGet, "/students?page=two", nil).Code)
}

func TestStudentHandlerCreate(t *testing.T) {
	svc := &studentServiceStub{}
	r := newStudentRouter(svc, &marksStub{})

	rec := doRequest(r, http.MethodPost, "/students", map[string]string{"roll_number": "M-7", "name": "Bela", "stream": "Medical"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "M-7", svc.registered.RollNumber)
	var student models.Student
	decodeData(t, rec, &student)
	assert.Equal(t, "stu-9", student.ID)

	assert.Equal(t, http.StatusBadRequest, doRequest(r, http.MethodPost, "/students", "not json").Code)

	svc.err = appErrors.Clone(appErrors.ErrDuplicate, "roll number already registered")
	assert.Equal(t, http.StatusConflict, doRequest(r, http.MethodPost, "/students", map[string]string{"roll_number": "M-7"}).Code)
}

func TestStudentHandlerGetUpdateDelete(t *testing.T) {
	svc := &studentServiceStub{}
	r := newStudentRouter(svc, &marksStub{})

	rec := doRequest(r, http.MethodPut, "/students/stu-1", map[string]string{"name": "Asha V."})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.updated.Name)
	assert.Equal(t, "Asha V.", *svc.updated.Name)
	assert.Nil(t, svc.updated.Stream)

	rec = doRequest(r, http.MethodDelete, "/students/stu-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "stu-1", svc.deleted)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/students/ghost", nil).Code)
}

func TestStudentHandlerPerformanceAndMarks(t *testing.T) {
	marks := &marksStub{records: []models.ExamRecord{{ID: "rec-1"}, {ID: "rec-2"}}}
	r := newStudentRouter(&studentServiceStub{}, marks)

	rec := doRequest(r, http.MethodGet, "/students/stu-1/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perf models.StudentPerformance
	decodeData(t, rec, &perf)
	assert.Equal(t, 70.0, perf.Breakdown.AcademicScore)

	rec = doRequest(r, http.MethodGet, "/students/stu-1/marks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.ExamRecord
	decodeData(t, rec, &records)
	assert.Len(t, records, 2)

	marks.err = sql.ErrConnDone
	rec = doRequest(r, http.MethodGet, "/students/stu-1/marks", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
