package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// ErrNoFace is returned when the service finds no face in one of the images.
var ErrNoFace = errors.New("faceclient: no face detected")

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

// CompareResult contains face comparison results.
type CompareResult struct {
	Similarity float64      `json:"similarity"`
	Match      bool         `json:"match"`
	Threshold  float64      `json:"threshold"`
	Quality1   *FaceQuality `json:"quality_1,omitempty"`
	Quality2   *FaceQuality `json:"quality_2,omitempty"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second // face processing can take time
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Score compares a captured photo with the registered reference photo and
// returns the similarity as a confidence in [0,1].
func (c *Client) Score(ctx context.Context, captured, reference string) (float64, error) {
	res, err := c.Compare(ctx, captured, reference)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(res.Similarity) || res.Similarity < 0 || res.Similarity > 1 {
		return 0, fmt.Errorf("face service returned similarity %v outside [0,1]", res.Similarity)
	}
	return res.Similarity, nil
}

// Compare compares two face images and returns similarity.
func (c *Client) Compare(ctx context.Context, imageURL1, imageURL2 string) (*CompareResult, error) {
	if imageURL1 == "" || imageURL2 == "" {
		return nil, fmt.Errorf("two image urls required")
	}
	body, _ := json.Marshal(map[string]string{
		"image_url_1": imageURL1,
		"image_url_2": imageURL2,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrNoFace
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out CompareResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
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
