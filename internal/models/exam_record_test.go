package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestStreamSubjects(t *testing.T) {
	assert.Equal(t, []Subject{SubjectPhysics, SubjectChemistry, SubjectBotany, SubjectZoology}, StreamMedical.Subjects())
	assert.Equal(t, []Subject{SubjectPhysics, SubjectChemistry, SubjectMaths}, StreamNonMedical.Subjects())
	assert.Nil(t, Stream("Arts").Subjects())
	assert.False(t, Stream("Arts").Valid())

	subjects := StreamMedical.Subjects()
	subjects[0] = SubjectMaths
	assert.Equal(t, SubjectPhysics, StreamMedical.Subjects()[0])
}

func TestExamRecordTotalsIgnoresAbsentAndOffStreamSubjects(t *testing.T) {
	record := ExamRecord{
		Scores: SubjectScores{
			SubjectPhysics:   score(40),
			SubjectChemistry: nil,
			SubjectMaths:     score(0),
			SubjectBotany:    score(70),
		},
		MaxScores: SubjectMaxima{SubjectMaths: 50},
	}

	total, max := record.Totals(StreamNonMedical)
	assert.Equal(t, 40.0, total)
	assert.Equal(t, 150.0, max)

	total, max = record.Totals(StreamMedical)
	assert.Equal(t, 110.0, total)
	assert.Equal(t, 200.0, max)
}

func TestExamRecordDerive(t *testing.T) {
	date := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	record := ExamRecord{Date: date, Scores: SubjectScores{SubjectPhysics: score(90)}}

	record.Derive(StreamMedical)

	assert.Equal(t, 90.0, record.TotalScore)
	assert.Equal(t, 100.0, record.MaxScore)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), record.Day)
	assert.InDelta(t, 90.0, record.Percentage(), 1e-9)
}

func TestExamRecordAllAbsentHasZeroPercentage(t *testing.T) {
	record := ExamRecord{}
	record.Derive(StreamMedical)
	assert.Zero(t, record.TotalScore)
	assert.Zero(t, record.MaxScore)
	assert.Zero(t, record.Percentage())
}

func TestFirstOverflow(t *testing.T) {
	record := ExamRecord{
		Scores:    SubjectScores{SubjectPhysics: score(101), SubjectChemistry: score(30)},
		MaxScores: SubjectMaxima{SubjectChemistry: 25},
	}

	overflow, ok := record.FirstOverflow(AllSubjects)
	require.True(t, ok)
	assert.Equal(t, ScoreOverflow{Subject: SubjectPhysics, Score: 101, Max: 100}, overflow)

	record.Scores[SubjectPhysics] = score(100)
	overflow, ok = record.FirstOverflow(AllSubjects)
	require.True(t, ok)
	assert.Equal(t, SubjectChemistry, overflow.Subject)

	_, ok = record.FirstOverflow([]Subject{SubjectPhysics})
	assert.False(t, ok)
}

func TestCalendarDay(t *testing.T) {
	morning := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	night := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	next := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.True(t, CalendarDay(morning).Equal(CalendarDay(night)))
	assert.False(t, CalendarDay(night).Equal(CalendarDay(next)))
}

func TestSubjectScoresScanKeepsAbsence(t *testing.T) {
	var scores SubjectScores
	require.NoError(t, scores.Scan([]byte(`{"physics":0,"chemistry":null}`)))

	v, ok := scores.Get(SubjectPhysics)
	assert.True(t, ok)
	assert.Zero(t, v)
	_, ok = scores.Get(SubjectChemistry)
	assert.False(t, ok)

	require.NoError(t, scores.Scan(nil))
	assert.Empty(t, scores)
	assert.Error(t, scores.Scan(42))
}
