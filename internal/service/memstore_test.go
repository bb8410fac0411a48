package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/coaching-rank-api/internal/models"
	"github.com/noah-isme/coaching-rank-api/internal/repository"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
)

// memStudents is an in-memory student store shared by the service tests. It mirrors the
// repository semantics the services rely on: sql.ErrNoRows for missing rows, ranking order by
// score then creation time, and cascading record removal on delete.
type memStudents struct {
	rows     map[string]*models.Student
	order    []string
	records  *memRecords
	nextID   int
	clock    time.Time
	rankErr  error
	listErr  error
	rankRuns int
}

func newMemStudents(records *memRecords) *memStudents {
	return &memStudents{
		rows:    map[string]*models.Student{},
		records: records,
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStudents) add(roll, name string, stream models.Stream) *models.Student {
	m.nextID++
	m.clock = m.clock.Add(time.Minute)
	student := &models.Student{
		ID:         fmt.Sprintf("stu-%d", m.nextID),
		RollNumber: roll,
		Name:       name,
		Batch:      models.DefaultBatch,
		Stream:     stream,
		Category:   models.CategoryMedium,
		BestRank:   models.UnrankedSentinel,
		CreatedAt:  m.clock,
	}
	m.rows[student.ID] = student
	m.order = append(m.order, student.ID)
	return student
}

func (m *memStudents) get(id string) *models.Student {
	return m.rows[id]
}

func (m *memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []models.StudentDetail
	for _, id := range m.order {
		s := m.rows[id]
		if filter.Stream != "" && s.Stream != filter.Stream {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.Name+" "+s.RollNumber), strings.ToLower(filter.Search)) {
			continue
		}
		rank := 1
		for _, other := range m.rows {
			if other.PerformanceScore > s.PerformanceScore {
				rank++
			}
		}
		out = append(out, models.StudentDetail{Student: *s, Rank: rank})
	}
	total := len(out)
	if filter.Paginated() {
		start := (filter.Page - 1) * filter.PageSize
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (m *memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (m *memStudents) FindByRollNumber(ctx context.Context, roll string) (*models.Student, error) {
	for _, s := range m.rows {
		if s.RollNumber == roll {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStudents) ExistsByRollNumber(ctx context.Context, roll, excludeID string) (bool, error) {
	for id, s := range m.rows {
		if s.RollNumber == roll && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStudents) Create(ctx context.Context, student *models.Student) error {
	if exists, _ := m.ExistsByRollNumber(ctx, student.RollNumber, ""); exists {
		return repository.ErrDuplicateRollNumber
	}
	m.nextID++
	m.clock = m.clock.Add(time.Minute)
	student.ID = fmt.Sprintf("stu-%d", m.nextID)
	student.CreatedAt = m.clock
	clone := *student
	m.rows[student.ID] = &clone
	m.order = append(m.order, student.ID)
	return nil
}

func (m *memStudents) UpdateProfile(ctx context.Context, student *models.Student) error {
	s, ok := m.rows[student.ID]
	if !ok {
		return sql.ErrNoRows
	}
	s.RollNumber, s.Name, s.Email, s.Batch, s.Stream = student.RollNumber, student.Name, student.Email, student.Batch, student.Stream
	return nil
}

func (m *memStudents) Delete(ctx context.Context, id string) error {
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.records != nil {
		m.records.deleteStudent(id)
	}
	return nil
}

func (m *memStudents) UpdateScores(ctx context.Context, update models.ScoreUpdate) error {
	s, ok := m.rows[update.StudentID]
	if !ok {
		return sql.ErrNoRows
	}
	s.PerformanceScore = update.PerformanceScore
	s.PreviousPerformanceScore = update.PreviousPerformanceScore
	s.AverageMarks = update.AverageMarks
	return nil
}

func (m *memStudents) ListForRanking(ctx context.Context) ([]models.Student, error) {
	out := make([]models.Student, 0, len(m.rows))
	for _, id := range m.order {
		out = append(out, *m.rows[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PerformanceScore != out[j].PerformanceScore {
			return out[i].PerformanceScore > out[j].PerformanceScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStudents) BatchUpdateRanks(ctx context.Context, updates []models.RankUpdate) error {
	if m.rankErr != nil {
		return m.rankErr
	}
	m.rankRuns++
	for _, u := range updates {
		s := m.rows[u.StudentID]
		s.Category, s.CurrentRank, s.PreviousRank, s.BestRank = u.Category, u.CurrentRank, u.PreviousRank, u.BestRank
	}
	return nil
}

func (m *memStudents) Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error) {
	var out []models.LeaderboardEntry
	for _, s := range m.rows {
		if s.CurrentRank <= 0 {
			continue
		}
		if (filter.Stream != "" && s.Stream != filter.Stream) ||
			(filter.Batch != "" && s.Batch != filter.Batch) ||
			(filter.Category != "" && s.Category != filter.Category) {
			continue
		}
		out = append(out, entryFor(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStudents) Distribution(ctx context.Context, stream models.Stream) ([]models.CategoryCount, error) {
	sums := map[models.Category]*models.CategoryCount{}
	for _, s := range m.rows {
		if stream != "" && s.Stream != stream {
			continue
		}
		c, ok := sums[s.Category]
		if !ok {
			c = &models.CategoryCount{Category: s.Category}
			sums[s.Category] = c
		}
		c.AverageScore = (c.AverageScore*float64(c.Count) + s.PerformanceScore) / float64(c.Count+1)
		c.Count++
	}
	out := make([]models.CategoryCount, 0, len(sums))
	for _, c := range sums {
		out = append(out, *c)
	}
	return out, nil
}

func entryFor(s *models.Student) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		Rank:             s.CurrentRank,
		StudentID:        s.ID,
		RollNumber:       s.RollNumber,
		Name:             s.Name,
		Batch:            s.Batch,
		Stream:           s.Stream,
		PerformanceScore: s.PerformanceScore,
		AverageMarks:     s.AverageMarks,
		Category:         s.Category,
		PreviousRank:     s.PreviousRank,
		BestRank:         s.BestRank,
	}
}

// memRecords is the exam record counterpart of memStudents. Create enforces one record per
// student per calendar day like the unique index does.
type memRecords struct {
	rows      map[string]*models.ExamRecord
	nextID    int
	createErr error
	listErr   error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: map[string]*models.ExamRecord{}}
}

func (m *memRecords) forStudent(studentID string) []models.ExamRecord {
	var out []models.ExamRecord
	for _, r := range m.rows {
		if r.StudentID == studentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (m *memRecords) deleteStudent(studentID string) {
	for id, r := range m.rows {
		if r.StudentID == studentID {
			delete(m.rows, id)
		}
	}
}

func (m *memRecords) ListByStudent(ctx context.Context, studentID string) ([]models.ExamRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.forStudent(studentID), nil
}

func (m *memRecords) FindByID(ctx context.Context, id string) (*models.ExamRecord, error) {
	r, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *r
	return &clone, nil
}

func (m *memRecords) FindForStudentOnDate(ctx context.Context, studentID string, date time.Time) (*models.ExamRecord, error) {
	day := models.CalendarDay(date)
	for _, r := range m.rows {
		if r.StudentID == studentID && models.CalendarDay(r.Date).Equal(day) {
			clone := *r
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memRecords) Create(ctx context.Context, record *models.ExamRecord, stream models.Stream) error {
	if m.createErr != nil {
		return m.createErr
	}
	if existing, _ := m.FindForStudentOnDate(ctx, record.StudentID, record.Date); existing != nil {
		return repository.ErrDuplicateDay
	}
	m.nextID++
	record.ID = fmt.Sprintf("rec-%d", m.nextID)
	record.Derive(stream)
	clone := *record
	m.rows[record.ID] = &clone
	return nil
}

func (m *memRecords) Delete(ctx context.Context, id string) error {
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

// seedRecord stores a record directly, bypassing services.
func (m *memRecords) seedRecord(studentID string, stream models.Stream, date time.Time, attendance float64, scores map[models.Subject]float64) *models.ExamRecord {
	record := &models.ExamRecord{
		StudentID:  studentID,
		ExamName:   "Weekly test",
		Date:       date,
		Scores:     models.SubjectScores{},
		MaxScores:  models.SubjectMaxima{},
		Attendance: attendance,
	}
	for subject, score := range scores {
		v := score
		record.Scores[subject] = &v
	}
	if err := m.Create(context.Background(), record, stream); err != nil {
		panic(err)
	}
	return record
}

// memCache is an in-memory CacheRepository storing JSON like the redis repository does.
type memCache struct {
	entries map[string][]byte
	sets    int
	deletes []string
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *memCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	c.deletes = append(c.deletes, prefix)
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}
