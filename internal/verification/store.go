package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
)

// Update carries one outcome and the artifact captured with it.
type Update struct {
	Outcome  Outcome
	Point    *geofence.GeoPoint
	ImageRef string
}

// Store keeps sessions between requests. Update must replace only the
// fields of its own outcome kind so concurrent retries of the other check
// are never lost.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, id string, u Update) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	s.Set(u.Outcome)
	switch u.Outcome.Kind {
	case KindLocation:
		s.Point = u.Point
	case KindFace:
		s.ImageRef = u.ImageRef
	}
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// RedisStore keeps each session in a hash with a TTL. Each outcome and its
// artifact live in their own fields.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// updateScript writes fields only if the session hash still exists.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// NewRedisStore creates a store with keys "<prefix><id>".
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "attendance:session:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	loc, err := json.Marshal(s.Location)
	if err != nil {
		return err
	}
	fc, err := json.Marshal(s.Face)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(s.ID), map[string]any{
		"student_id": s.StudentID,
		"class_id":   s.ClassID,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"location":   string(loc),
		"face":       string(fc),
	})
	pipe.Expire(ctx, r.key(s.ID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("create session", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	vals, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Session{}, redisErr("get session", err)
	}
	if len(vals) == 0 {
		return Session{}, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	s := Session{
		ID:        id,
		StudentID: vals["student_id"],
		ClassID:   vals["class_id"],
		ImageRef:  vals["image_ref"],
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return Session{}, fmt.Errorf("session %s created_at: %w", id, err)
	}
	if err := json.Unmarshal([]byte(vals["location"]), &s.Location); err != nil {
		return Session{}, fmt.Errorf("session %s location: %w", id, err)
	}
	if err := json.Unmarshal([]byte(vals["face"]), &s.Face); err != nil {
		return Session{}, fmt.Errorf("session %s face: %w", id, err)
	}
	if raw := vals["point"]; raw != "" {
		var p geofence.GeoPoint
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Session{}, fmt.Errorf("session %s point: %w", id, err)
		}
		s.Point = &p
	}
	return s, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, u Update) error {
	out, err := json.Marshal(u.Outcome)
	if err != nil {
		return err
	}
	args := []any{string(u.Outcome.Kind), string(out)}
	switch u.Outcome.Kind {
	case KindLocation:
		point := ""
		if u.Point != nil {
			raw, err := json.Marshal(u.Point)
			if err != nil {
				return err
			}
			point = string(raw)
		}
		args = append(args, "point", point)
	case KindFace:
		args = append(args, "image_ref", u.ImageRef)
	default:
		return fmt.Errorf("outcome kind %q: %w", u.Outcome.Kind, apperr.ErrInputInvalid)
	}

	n, err := updateScript.Run(ctx, r.client, []string{r.key(id)}, args...).Int()
	if err != nil {
		return redisErr("update session", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return redisErr("delete session", err)
	}
	return nil
}

func redisErr(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, apperr.ErrStoreUnavailable, err)
}
