package face

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"campusattend/internal/apperr"
)

// DefaultThreshold is the similarity a comparison must exceed to count as a match.
const DefaultThreshold = 0.6

// Embedding is a fixed-length face feature vector.
type Embedding []float64

// Match is the result of comparing two embeddings.
type Match struct {
	Similarity float64 `json:"similarity"`
	IsMatch    bool    `json:"is_match"`
}

// Detection is what the provider found in a single frame.
type Detection struct {
	Found      bool      `json:"found"`
	Confidence float64   `json:"confidence"`
	Faces      int       `json:"faces"`
	Embedding  Embedding `json:"-"`
}

// Provider extracts face embeddings from images.
type Provider interface {
	// Ready blocks until the model is loaded or returns why it is not.
	Ready(ctx context.Context) error
	// DetectFace returns every face found in the image at imageURL.
	DetectFace(ctx context.Context, imageURL string) (Detection, error)
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b Embedding) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("empty embedding: %w", apperr.ErrInputInvalid)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ (%d vs %d): %w", len(a), len(b), apperr.ErrInputInvalid)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Compare scores a against b. Similarity is 1 - distance and may be negative
// for very distant vectors; it is a heuristic, not a probability.
func Compare(a, b Embedding, threshold float64) (Match, error) {
	d, err := Distance(a, b)
	if err != nil {
		return Match{}, err
	}
	sim := 1 - d
	return Match{Similarity: sim, IsMatch: sim > threshold}, nil
}

// Evaluator wraps a Provider with a readiness gate and a match threshold.
type Evaluator struct {
	provider  Provider
	threshold float64
	ready     atomic.Bool
}

// NewEvaluator creates an evaluator. A non-positive threshold selects
// DefaultThreshold, so a zero threshold cannot be configured; config
// validation rejects it before it gets here (FACE_MATCH_THRESHOLD is in (0,1)).
func NewEvaluator(p Provider, threshold float64) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{provider: p, threshold: threshold}
}

// Threshold returns the configured match threshold.
func (e *Evaluator) Threshold() float64 { return e.threshold }

// Load waits for the provider model. On failure the evaluator stays
// unavailable until Load succeeds.
func (e *Evaluator) Load(ctx context.Context) error {
	if err := e.provider.Ready(ctx); err != nil {
		e.ready.Store(false)
		return fmt.Errorf("load face model: %w: %v", apperr.ErrProviderUnavailable, err)
	}
	e.ready.Store(true)
	return nil
}

// Ready reports whether Load has succeeded.
func (e *Evaluator) Ready() bool { return e.ready.Load() }

// Detect runs face detection. Anything other than exactly one face is
// reported as Found=false.
func (e *Evaluator) Detect(ctx context.Context, imageURL string) (Detection, error) {
	if !e.ready.Load() {
		return Detection{}, fmt.Errorf("face model not loaded: %w", apperr.ErrProviderUnavailable)
	}
	if imageURL == "" {
		return Detection{}, fmt.Errorf("image url required: %w", apperr.ErrInputInvalid)
	}
	det, err := e.provider.DetectFace(ctx, imageURL)
	if err != nil {
		if errors.Is(err, apperr.ErrInputInvalid) || errors.Is(err, apperr.ErrProviderUnavailable) {
			return Detection{}, err
		}
		return Detection{}, fmt.Errorf("detect face: %w: %v", apperr.ErrProviderUnavailable, err)
	}
	if det.Faces != 1 || len(det.Embedding) == 0 {
		det.Found = false
		det.Embedding = nil
		return det, nil
	}
	det.Found = true
	return det, nil
}

// Verify detects the face at imageURL and compares it with reference.
// A frame without exactly one face fails verification.
func (e *Evaluator) Verify(ctx context.Context, imageURL string, reference Embedding) (Match, Detection, error) {
	det, err := e.Detect(ctx, imageURL)
	if err != nil {
		return Match{}, det, err
	}
	if !det.Found {
		return Match{}, det, fmt.Errorf("%d faces in frame: %w", det.Faces, apperr.ErrVerificationFailed)
	}
	m, err := Compare(det.Embedding, reference, e.threshold)
	if err != nil {
		return Match{}, det, err
	}
	if !m.IsMatch {
		return m, det, fmt.Errorf("similarity %.3f below threshold %.2f: %w", m.Similarity, e.threshold, apperr.ErrVerificationFailed)
	}
	return m, det, nil
}
