package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors for capture operations.
var (
	ErrNoFrame       = errors.New("capture produced no frame")
	ErrNoVideoSource = errors.New("no video capture command configured")
)

// Camera provides still frames and short clips from the proctoring capture
// device. Implementations must release any hardware handles in Close.
type Camera interface {
	// CaptureFrame returns the current frame as a lossy-compressed JPEG.
	CaptureFrame(ctx context.Context) ([]byte, error)
	// RecordClip records up to d of audio+video into a compressed WebM clip.
	RecordClip(ctx context.Context, d time.Duration) ([]byte, error)
	// Alive reports whether the capture device is currently usable.
	Alive() bool
	Close() error
}

// ExecCamera shells out to capture commands provided by the kiosk image,
// which ships invocations tuned for its hardware (typically ffmpeg against a
// v4l2 node). The agent only cares that stdout carries a JPEG for stills and
// a WebM for clips; still quality is the command's concern.
type ExecCamera struct {
	imageCmd string
	videoCmd string
	device   string
	log      zerolog.Logger
}

// NewExecCamera creates an ExecCamera. videoCmd may be empty when the kiosk
// has no clip pipeline; RecordClip then fails with ErrNoVideoSource and
// evidence degrades to image-only.
func NewExecCamera(imageCmd, videoCmd, deviceNode string, log zerolog.Logger) *ExecCamera {
	return &ExecCamera{
		imageCmd: imageCmd,
		videoCmd: videoCmd,
		device:   deviceNode,
		log:      log.With().Str("component", "camera").Logger(),
	}
}

// CaptureFrame runs the still-capture command and returns its stdout.
func (c *ExecCamera) CaptureFrame(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.run(ctx, c.imageCmd)
}

// RecordClip runs the clip-capture command with {seconds} substituted for the
// clip length, allowing a small grace period past the clip itself.
func (c *ExecCamera) RecordClip(ctx context.Context, d time.Duration) ([]byte, error) {
	if c.videoCmd == "" {
		return nil, ErrNoVideoSource
	}
	cmdline := strings.ReplaceAll(c.videoCmd, "{seconds}", strconv.Itoa(int(d.Seconds())))

	ctx, cancel := context.WithTimeout(ctx, d+5*time.Second)
	defer cancel()
	return c.run(ctx, cmdline)
}

// Alive reports whether the camera device node still exists. A yanked USB
// camera disappears from /dev, which is the signal the liveness check needs.
func (c *ExecCamera) Alive() bool {
	_, err := os.Stat(c.device)
	return err == nil
}

// Close releases the camera. Capture commands are per-invocation, so there is
// no persistent handle to drop; the method exists to satisfy the teardown
// contract shared with stream-holding implementations.
func (c *ExecCamera) Close() error {
	return nil
}

func (c *ExecCamera) run(ctx context.Context, cmdline string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	if out.Len() == 0 {
		return nil, ErrNoFrame
	}
	return out.Bytes(), nil
}
