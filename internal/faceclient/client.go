package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/face"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	PoseYaw   float64 `json:"pose_yaw"`
	PosePitch float64 `json:"pose_pitch"`
	PoseRoll  float64 `json:"pose_roll"`
	FaceSize  int     `json:"face_size"`
	IsFrontal bool    `json:"is_frontal"`
}

// EmbedResult contains the face embedding and detection confidence.
type EmbedResult struct {
	Embedding     []float64    `json:"embedding"`
	Score         float64      `json:"score"`
	FacesDetected int          `json:"faces_detected"`
	Quality       *FaceQuality `json:"quality"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

var _ face.Provider = (*Client)(nil)

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// DetectFace requests an embedding for an image URL.
func (c *Client) DetectFace(ctx context.Context, imageURL string) (face.Detection, error) {
	res, err := c.EmbedWithScore(ctx, imageURL)
	if err != nil {
		return face.Detection{}, err
	}
	return face.Detection{
		Found:      res.FacesDetected == 1,
		Confidence: res.Score,
		Faces:      res.FacesDetected,
		Embedding:  face.Embedding(res.Embedding),
	}, nil
}

// EmbedWithScore requests an embedding and returns full result including score.
// An image without faces is not an error; FacesDetected is zero.
func (c *Client) EmbedWithScore(ctx context.Context, imageURL string) (*EmbedResult, error) {
	if c.Skip {
		return &EmbedResult{
			Embedding:     []float64{0.1, 0.2, 0.3},
			Score:         0.95,
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required: %w", apperr.ErrInputInvalid)
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w: %v", apperr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out EmbedResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w: %v", apperr.ErrProviderUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		out.FacesDetected = 0
	}
	return &out, nil
}

// Ready checks if the face service has its model loaded.
func (c *Client) Ready(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	kind := apperr.ErrProviderUnavailable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		kind = apperr.ErrInputInvalid
	}
	return fmt.Errorf("face service error %s: %w: %s", resp.Status, kind, string(bodyBytes))
}
