package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the tables the attendance core reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS attendance_records (
    id                 TEXT PRIMARY KEY,
    student_id         TEXT NOT NULL,
    class_id           TEXT NOT NULL,
    day                DATE NOT NULL,
    status             TEXT NOT NULL CHECK (status IN ('present', 'late', 'absent')),
    location_verified  BOOLEAN NOT NULL DEFAULT FALSE,
    face_verified      BOOLEAN NOT NULL DEFAULT FALSE,
    face_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    lat                DOUBLE PRECISION,
    lng                DOUBLE PRECISION,
    captured_image_ref TEXT,
    marked_by          TEXT,
    notes              TEXT,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (student_id, class_id, day)
);

CREATE INDEX IF NOT EXISTS idx_attendance_student_day ON attendance_records (student_id, day);
CREATE INDEX IF NOT EXISTS idx_attendance_class_day   ON attendance_records (class_id, day);

CREATE TABLE IF NOT EXISTS face_enrollments (
    student_id  TEXT PRIMARY KEY,
    embedding   JSONB NOT NULL,
    image_url   TEXT,
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS registered_locations (
    student_id TEXT PRIMARY KEY,
    lat        DOUBLE PRECISION NOT NULL,
    lng        DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
