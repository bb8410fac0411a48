package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateDay is returned when a student already has an exam record on the same calendar day.
	ErrDuplicateDay = errors.New("exam record already exists for this day")
	// ErrDuplicateRollNumber is returned when another student holds the roll number.
	ErrDuplicateRollNumber = errors.New("roll number already registered")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
