package enrollment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"campusattend/internal/apperr"
	"campusattend/internal/face"
	"campusattend/internal/geofence"
	"campusattend/internal/store"
)

// Store holds per-student reference data used during verification.
type Store interface {
	FaceEmbedding(ctx context.Context, studentID string) (face.Embedding, error)
	SaveFaceEmbedding(ctx context.Context, studentID string, emb face.Embedding, imageURL string) error
	RegisteredLocation(ctx context.Context, studentID string) (geofence.GeoPoint, error)
	SaveRegisteredLocation(ctx context.Context, studentID string, p geofence.GeoPoint) error
}

// PostgresStore persists enrollments in Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FaceEmbedding returns the enrolled embedding or apperr.ErrNotFound.
func (s *PostgresStore) FaceEmbedding(ctx context.Context, studentID string) (face.Embedding, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM face_enrollments WHERE student_id = $1`, studentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("face enrollment for %s: %w", studentID, apperr.ErrNotFound)
		}
		return nil, store.Classify("get face enrollment", err)
	}
	var emb face.Embedding
	if err := json.Unmarshal(raw, &emb); err != nil {
		return nil, fmt.Errorf("decode embedding for %s: %w", studentID, err)
	}
	return emb, nil
}

// SaveFaceEmbedding creates or replaces a student's enrolled embedding.
func (s *PostgresStore) SaveFaceEmbedding(ctx context.Context, studentID string, emb face.Embedding, imageURL string) error {
	if len(emb) == 0 {
		return fmt.Errorf("empty embedding: %w", apperr.ErrInputInvalid)
	}
	raw, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO face_enrollments (student_id, embedding, image_url)
		VALUES ($1, $2::jsonb, NULLIF($3, ''))
		ON CONFLICT (student_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			image_url = EXCLUDED.image_url,
			enrolled_at = NOW()
	`, studentID, string(raw), imageURL)
	return store.Classify("save face enrollment", err)
}

// RegisteredLocation returns the student's registered coordinates or apperr.ErrNotFound.
func (s *PostgresStore) RegisteredLocation(ctx context.Context, studentID string) (geofence.GeoPoint, error) {
	var p geofence.GeoPoint
	err := s.db.QueryRowContext(ctx, `SELECT lat, lng FROM registered_locations WHERE student_id = $1`, studentID).Scan(&p.Lat, &p.Lng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return geofence.GeoPoint{}, fmt.Errorf("registered location for %s: %w", studentID, apperr.ErrNotFound)
		}
		return geofence.GeoPoint{}, store.Classify("get registered location", err)
	}
	return p, nil
}

// SaveRegisteredLocation creates or replaces a student's registered coordinates.
func (s *PostgresStore) SaveRegisteredLocation(ctx context.Context, studentID string, p geofence.GeoPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_locations (student_id, lat, lng)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			updated_at = NOW()
	`, studentID, p.Lat, p.Lng)
	return store.Classify("save registered location", err)
}

// MemoryStore is an in-process Store for dev and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	faces     map[string]face.Embedding
	locations map[string]geofence.GeoPoint
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		faces:     make(map[string]face.Embedding),
		locations: make(map[string]geofence.GeoPoint),
	}
}

func (m *MemoryStore) FaceEmbedding(_ context.Context, studentID string) (face.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emb, ok := m.faces[studentID]
	if !ok {
		return nil, fmt.Errorf("face enrollment for %s: %w", studentID, apperr.ErrNotFound)
	}
	return append(face.Embedding(nil), emb...), nil
}

func (m *MemoryStore) SaveFaceEmbedding(_ context.Context, studentID string, emb face.Embedding, _ string) error {
	if len(emb) == 0 {
		return fmt.Errorf("empty embedding: %w", apperr.ErrInputInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[studentID] = append(face.Embedding(nil), emb...)
	return nil
}

func (m *MemoryStore) RegisteredLocation(_ context.Context, studentID string) (geofence.GeoPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.locations[studentID]
	if !ok {
		return geofence.GeoPoint{}, fmt.Errorf("registered location for %s: %w", studentID, apperr.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) SaveRegisteredLocation(_ context.Context, studentID string, p geofence.GeoPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[studentID] = p
	return nil
}
