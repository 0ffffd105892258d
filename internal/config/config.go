package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all agent configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	// Backend endpoints.
	BackendURL  string `validate:"required,url"`
	DetectorURL string `validate:"required,url"`

	// Session identity. AuthToken may be empty, in which case the agent
	// prompts for it on startup.
	ExamID    string `validate:"required,uuid"`
	AuthToken string

	// StateDir holds per-exam durable state (remaining time, answers) so a
	// restarted agent resumes instead of resetting.
	StateDir string `validate:"required"`

	// Capture commands the kiosk image provides. The image command must write
	// a JPEG frame to stdout; the video command a WebM clip, with {seconds}
	// substituted for the clip length.
	CaptureImageCmd string `validate:"required"`
	CaptureVideoCmd string
	CameraDevice    string `validate:"required"`

	// Proctoring cadence and policy.
	PresenceInterval    time.Duration `validate:"min=1000000000"`
	CameraCheckInterval time.Duration `validate:"min=1000000000"`
	EvidenceMinGap      time.Duration `validate:"min=1000000000"`
	ClipLength          time.Duration `validate:"min=1000000000"`

	// Integrity thresholds.
	MaxBlurCount      int `validate:"min=1"`
	MinViewportWidth  int `validate:"min=1"`
	MinViewportHeight int `validate:"min=1"`

	// ShellUserAgent identifies the embedding shell in submission metadata.
	ShellUserAgent string
}

// Load reads configuration from environment variables with sensible defaults
// and validates the result. It loads .env file if present but does not fail
// if missing.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error — .env is optional

	cfg := &Config{
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		BackendURL:          getEnv("BACKEND_URL", "http://localhost:8080"),
		DetectorURL:         getEnv("DETECTOR_URL", "http://localhost:9090"),
		ExamID:              getEnv("EXAM_ID", ""),
		AuthToken:           getEnv("AUTH_TOKEN", ""),
		StateDir:            getEnv("STATE_DIR", "./state"),
		CaptureImageCmd:     getEnv("CAPTURE_IMAGE_CMD", ""),
		CaptureVideoCmd:     getEnv("CAPTURE_VIDEO_CMD", ""),
		CameraDevice:        getEnv("CAMERA_DEVICE", "/dev/video0"),
		PresenceInterval:    time.Duration(getEnvInt("PRESENCE_INTERVAL_SECONDS", 3)) * time.Second,
		CameraCheckInterval: time.Duration(getEnvInt("CAMERA_CHECK_INTERVAL_SECONDS", 3)) * time.Second,
		EvidenceMinGap:      time.Duration(getEnvInt("EVIDENCE_MIN_GAP_SECONDS", 10)) * time.Second,
		ClipLength:          time.Duration(getEnvInt("CLIP_LENGTH_SECONDS", 10)) * time.Second,
		MaxBlurCount:        getEnvInt("MAX_BLUR_COUNT", 3),
		MinViewportWidth:    getEnvInt("MIN_VIEWPORT_WIDTH", 1024),
		MinViewportHeight:   getEnvInt("MIN_VIEWPORT_HEIGHT", 600),
		ShellUserAgent:      getEnv("SHELL_USER_AGENT", "exstem-kiosk"),
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
