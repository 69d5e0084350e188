package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
	"campusattend/internal/store"
)

// Repository is the attendance record store.
type Repository interface {
	// CreateIfAbsent atomically inserts rec under rec.Key. It returns
	// apperr.ErrAlreadyMarked, leaving the stored record untouched, when the
	// key exists. CreatedAt and Time are assigned by the store.
	CreateIfAbsent(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, key string) (Record, error)
	Query(ctx context.Context, f Filter) ([]Record, error)
}

// PostgresRepository persists attendance records in Postgres.
type PostgresRepository struct {
	db  *sql.DB
	loc *time.Location
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo. loc is used to render the
// server-assigned commit time.
func NewPostgresRepository(db *sql.DB, loc *time.Location) *PostgresRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresRepository{db: db, loc: loc}
}

const recordColumns = `id, student_id, class_id, to_char(day, 'YYYY-MM-DD'), status,
	location_verified, face_verified, face_confidence, lat, lng,
	COALESCE(captured_image_ref, ''), COALESCE(marked_by, ''), COALESCE(notes, ''), created_at`

// CreateIfAbsent writes a new record unless one exists for the key.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, rec Record) (Record, error) {
	var lat, lng *float64
	if rec.Location != nil {
		lat, lng = &rec.Location.Lat, &rec.Location.Lng
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, class_id, day, status,
			location_verified, face_verified, face_confidence, lat, lng,
			captured_image_ref, marked_by, notes)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''))
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, rec.Key, rec.StudentID, rec.ClassID, rec.Date, string(rec.Status),
		rec.LocationVerified, rec.FaceVerified, rec.FaceConfidence, lat, lng,
		rec.CapturedImageRef, rec.MarkedBy, rec.Notes)

	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) || store.IsUniqueViolation(err) {
			return Record{}, fmt.Errorf("record %s: %w", rec.Key, apperr.ErrAlreadyMarked)
		}
		return Record{}, store.Classify("insert attendance record", err)
	}
	rec.CreatedAt = rec.CreatedAt.In(r.loc)
	rec.Time = rec.CreatedAt.Format("15:04:05")
	return rec, nil
}

// Get returns a single record by key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, key)
	rec, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("record %s: %w", key, apperr.ErrNotFound)
		}
		return Record{}, store.Classify("get attendance record", err)
	}
	return rec, nil
}

// Query returns records matching f ordered by day, using a native range
// predicate on the day column.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)))
	}
	if f.ClassID != "" {
		args = append(args, f.ClassID)
		clauses = append(clauses, "class_id = $"+strconv.Itoa(len(args)))
	}
	if f.From != "" {
		args = append(args, f.From)
		clauses = append(clauses, "day >= $"+strconv.Itoa(len(args))+"::date")
	}
	if f.To != "" {
		args = append(args, f.To)
		clauses = append(clauses, "day <= $"+strconv.Itoa(len(args))+"::date")
	}
	query += " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY day, class_id, student_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Classify("query attendance records", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, store.Classify("scan attendance record", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("query attendance records", err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scan(s scanner) (Record, error) {
	var (
		rec      Record
		status   string
		lat, lng sql.NullFloat64
	)
	err := s.Scan(&rec.Key, &rec.StudentID, &rec.ClassID, &rec.Date, &status,
		&rec.LocationVerified, &rec.FaceVerified, &rec.FaceConfidence, &lat, &lng,
		&rec.CapturedImageRef, &rec.MarkedBy, &rec.Notes, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	if lat.Valid && lng.Valid {
		rec.Location = &geofence.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	rec.CreatedAt = rec.CreatedAt.In(r.loc)
	rec.Time = rec.CreatedAt.Format("15:04:05")
	return rec, nil
}
