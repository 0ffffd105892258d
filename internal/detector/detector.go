package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrModelUnavailable indicates the detection model could not be reached or
// is not loaded. Fatal to session start.
var ErrModelUnavailable = errors.New("face detection model unavailable")

// FaceDetector counts the faces visible in a single captured frame. The count
// is the only signal the presence monitor consumes.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame []byte) (int, error)
}

// HTTPDetector talks to the face-detection sidecar that serves the model. The
// sidecar loads the model once at startup; the agent health-checks it once at
// session start and then posts frames per presence check.
type HTTPDetector struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewHTTPDetector creates a detector client for the given sidecar base URL.
func NewHTTPDetector(baseURL string, log zerolog.Logger) *HTTPDetector {
	return &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "detector").Logger(),
	}
}

// Load verifies the sidecar is up and its model is loaded.
func (d *HTTPDetector) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrModelUnavailable, resp.StatusCode)
	}

	d.log.Info().Str("url", d.baseURL).Msg("Face detection model ready")
	return nil
}

type detectResponse struct {
	Faces []struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"faces"`
}

// DetectFaces posts a JPEG frame and returns the number of detected faces.
func (d *HTTPDetector) DetectFaces(ctx context.Context, frame []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/detect", bytes.NewReader(frame))
	if err != nil {
		return 0, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("detect faces: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("detect faces: status %d", resp.StatusCode)
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode detect response: %w", err)
	}
	return len(parsed.Faces), nil
}
