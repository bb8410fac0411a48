package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements are idempotent and executed in order on startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		last_login_at TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		roll_number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		batch TEXT NOT NULL DEFAULT 'General',
		stream TEXT NOT NULL CHECK (stream IN ('Medical', 'Non-Medical')),
		performance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		previous_performance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT 'Medium',
		current_rank INTEGER NOT NULL DEFAULT 0,
		previous_rank INTEGER NOT NULL DEFAULT 0,
		best_rank INTEGER NOT NULL DEFAULT 999999,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_score ON students (performance_score DESC, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS exam_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		exam_name TEXT NOT NULL,
		test_names JSONB NOT NULL DEFAULT '{}'::jsonb,
		date TIMESTAMPTZ NOT NULL,
		exam_day DATE NOT NULL,
		scores JSONB NOT NULL DEFAULT '{}'::jsonb,
		max_scores JSONB NOT NULL DEFAULT '{}'::jsonb,
		attendance DOUBLE PRECISION NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_exam_records_student_day UNIQUE (student_id, exam_day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exam_records_student_date ON exam_records (student_id, date)`,
	`CREATE TABLE IF NOT EXISTS report_jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		params JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		result_url TEXT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ NULL,
		error_message TEXT NULL
	)`,
}

// EnsureSchema creates the tables used by the service when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema step %d: %w", i+1, err)
		}
	}
	return nil
}
