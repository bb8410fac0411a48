package models

import (
	"database/sql/driver"
	"fmt"
)

// Stream is the academic track a student is enrolled in.
type Stream string

const (
	StreamMedical    Stream = "Medical"
	StreamNonMedical Stream = "Non-Medical"
)

// Subject identifies a scored subject.
type Subject string

const (
	SubjectPhysics   Subject = "physics"
	SubjectChemistry Subject = "chemistry"
	SubjectMaths     Subject = "maths"
	SubjectBotany    Subject = "botany"
	SubjectZoology   Subject = "zoology"
)

// DefaultMaxScore applies to any subject without an explicit maximum.
const DefaultMaxScore = 100.0

// AllSubjects lists every subject in canonical order.
var AllSubjects = []Subject{SubjectPhysics, SubjectChemistry, SubjectMaths, SubjectBotany, SubjectZoology}

var streamSubjects = map[Stream][]Subject{
	StreamMedical:    {SubjectPhysics, SubjectChemistry, SubjectBotany, SubjectZoology},
	StreamNonMedical: {SubjectPhysics, SubjectChemistry, SubjectMaths},
}

// Subjects returns the subjects counted for the stream, or nil for an unknown stream.
func (s Stream) Subjects() []Subject {
	subjects := streamSubjects[s]
	out := make([]Subject, len(subjects))
	copy(out, subjects)
	return out
}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	_, ok := streamSubjects[s]
	return ok
}

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	for _, subject := range AllSubjects {
		if subject == s {
			return true
		}
	}
	return false
}

// SubjectScores maps a subject to its score. A nil entry and a missing entry both mean the
// student was absent, which is different from scoring zero.
type SubjectScores map[Subject]*float64

// Get returns the score for subject and whether it is present.
func (s SubjectScores) Get(subject Subject) (float64, bool) {
	v, ok := s[subject]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Value implements driver.Valuer.
func (s SubjectScores) Value() (driver.Value, error) {
	if s == nil {
		s = SubjectScores{}
	}
	return marshalJSONB(map[Subject]*float64(s), "subject scores")
}

// Scan implements sql.Scanner.
func (s *SubjectScores) Scan(value interface{}) error {
	decoded := map[Subject]*float64{}
	if _, err := scanJSONB(value, &decoded, "subject scores"); err != nil {
		return err
	}
	*s = decoded
	return nil
}

// SubjectMaxima maps a subject to the maximum achievable score on one record.
type SubjectMaxima map[Subject]float64

// Max returns the maximum for subject, falling back to DefaultMaxScore.
func (m SubjectMaxima) Max(subject Subject) float64 {
	if v, ok := m[subject]; ok {
		return v
	}
	return DefaultMaxScore
}

// Value implements driver.Valuer.
func (m SubjectMaxima) Value() (driver.Value, error) {
	if m == nil {
		m = SubjectMaxima{}
	}
	return marshalJSONB(map[Subject]float64(m), "subject maxima")
}

// Scan implements sql.Scanner.
func (m *SubjectMaxima) Scan(value interface{}) error {
	decoded := map[Subject]float64{}
	if _, err := scanJSONB(value, &decoded, "subject maxima"); err != nil {
		return err
	}
	*m = decoded
	return nil
}

// SubjectLabels carries an optional per-subject test label.
type SubjectLabels map[Subject]string

// Value implements driver.Valuer.
func (l SubjectLabels) Value() (driver.Value, error) {
	if l == nil {
		l = SubjectLabels{}
	}
	return marshalJSONB(map[Subject]string(l), "test names")
}

// Scan implements sql.Scanner.
func (l *SubjectLabels) Scan(value interface{}) error {
	decoded := map[Subject]string{}
	if _, err := scanJSONB(value, &decoded, "test names"); err != nil {
		return err
	}
	*l = decoded
	return nil
}

// UnknownSubjectError is returned when a payload names a subject outside AllSubjects.
type UnknownSubjectError struct {
	Subject Subject
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("unknown subject %q", string(e.Subject))
}
