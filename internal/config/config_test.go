package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("EXAM_ID", "0b906436-9d5a-4b7a-a160-3115e939b3d5")
	t.Setenv("CAPTURE_IMAGE_CMD", "ffmpeg -i /dev/video0 -frames:v 1 -f image2 -")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8080", cfg.BackendURL)
	require.Equal(t, 3*time.Second, cfg.PresenceInterval)
	require.Equal(t, 10*time.Second, cfg.EvidenceMinGap)
	require.Equal(t, 3, cfg.MaxBlurCount)
	require.Equal(t, 1024, cfg.MinViewportWidth)
	require.Equal(t, 600, cfg.MinViewportHeight)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKEND_URL", "https://exam.example.org")
	t.Setenv("EVIDENCE_MIN_GAP_SECONDS", "30")
	t.Setenv("MAX_BLUR_COUNT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "https://exam.example.org", cfg.BackendURL)
	require.Equal(t, 30*time.Second, cfg.EvidenceMinGap)
	require.Equal(t, 5, cfg.MaxBlurCount)
}

func TestLoadRequiresExamID(t *testing.T) {
	t.Setenv("EXAM_ID", "")
	t.Setenv("CAPTURE_IMAGE_CMD", "cat frame.jpg")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsMalformedExamID(t *testing.T) {
	setRequired(t)
	t.Setenv("EXAM_ID", "not-a-uuid")

	_, err := Load()
	require.Error(t, err)
}

func TestGetEnvIntBadValueFallsBack(t *testing.T) {
	t.Setenv("MAX_BLUR_COUNT", "three")
	require.Equal(t, 3, getEnvInt("MAX_BLUR_COUNT", 3))
}
