package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/device"
	"github.com/stemsi/exstem-agent/internal/detector"
	"github.com/stemsi/exstem-agent/internal/model"
)

// State is the presence state machine.
type State string

const (
	StateUnknown   State = "UNKNOWN"
	StatePresent   State = "PRESENT"
	StateAbsent    State = "ABSENT"
	StateCameraOff State = "CAMERA_OFF"
)

// Warning strings shown while the session is gated off.
const (
	warnNoFace    = "Face not detected. Exam is paused; keep your face visible to continue."
	warnMultiFace = "Multiple faces detected. Exam is paused until only your face is visible."
	warnDetector  = "Face detection error. Exam is paused until detection recovers."
	warnCameraOff = "Camera disconnected. Exam is paused; reconnect the camera to continue."
)

// Monitor runs the periodic face-presence and camera-liveness checks while
// the session is running. Absence pauses the session through the running
// gate; the exam resumes automatically once presence is restored, with no
// penalty beyond lost time. Transitions into Absent or CameraOff trigger
// evidence capture, rate-limited per condition class.
type Monitor struct {
	mu             sync.Mutex
	state          State
	warning        string
	lastSuspicious time.Time
	lastCameraOff  time.Time
	startSent      bool

	camera  device.Camera
	det     detector.FaceDetector
	capture *Capture
	running func() bool

	checkInterval  time.Duration
	cameraInterval time.Duration
	minGap         time.Duration
	checking       atomic.Bool
	now            func() time.Time
	log            zerolog.Logger
}

// NewMonitor creates a presence monitor. running is the controller's phase
// check; checks are skipped entirely outside the Running phase.
func NewMonitor(camera device.Camera, det detector.FaceDetector, capture *Capture, running func() bool,
	checkInterval, cameraInterval, minGap time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		state:          StateUnknown,
		camera:         camera,
		det:            det,
		capture:        capture,
		running:        running,
		checkInterval:  checkInterval,
		cameraInterval: cameraInterval,
		minGap:         minGap,
		now:            time.Now,
		log:            log.With().Str("component", "presence").Logger(),
	}
}

// Run drives both periodic checks until ctx is cancelled. The one-shot
// session-start evidence is retried each presence tick until it succeeds.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Msg("Presence monitor started")

	faces := time.NewTicker(m.checkInterval)
	defer faces.Stop()
	liveness := time.NewTicker(m.cameraInterval)
	defer liveness.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-faces.C:
			m.SendStartEvidence(ctx)
			m.CheckPresence(ctx)
		case <-liveness.C:
			m.CheckCamera(ctx)
		}
	}
}

// CheckPresence runs one face-detection pass. A pass already in flight is
// not re-entered: detector calls are slow and overlapping invocations would
// interleave state updates.
func (m *Monitor) CheckPresence(ctx context.Context) {
	if !m.running() {
		return
	}
	if !m.checking.CompareAndSwap(false, true) {
		return
	}
	defer m.checking.Store(false)

	frame, err := m.camera.CaptureFrame(ctx)
	if err != nil {
		// No usable frame; the liveness check decides whether the camera is
		// gone. State is left unchanged.
		m.log.Debug().Err(err).Msg("No frame for presence check")
		return
	}

	count, err := m.det.DetectFaces(ctx, frame)
	if err != nil {
		m.log.Warn().Err(err).Msg("Detector error, treating as absent")
		m.setState(StateAbsent, warnDetector)
		return
	}

	switch {
	case count == 1:
		m.setState(StatePresent, "")
	case count == 0:
		m.setState(StateAbsent, warnNoFace)
		m.maybeCapture(ctx, model.EvidenceNoFace, true, &m.lastSuspicious)
	default:
		m.setState(StateAbsent, warnMultiFace)
		m.maybeCapture(ctx, model.EvidenceMultiFace, true, &m.lastSuspicious)
	}
}

// CheckCamera verifies the capture device is still usable. CameraOff is
// distinguished from Absent for evidence routing: with no active camera
// there is nothing to film, so the capture is image-only (and typically
// yields nothing until the device returns).
func (m *Monitor) CheckCamera(ctx context.Context) {
	if !m.running() {
		return
	}
	if m.camera.Alive() {
		return
	}

	m.setState(StateCameraOff, warnCameraOff)
	m.maybeCapture(ctx, model.EvidenceCameraOff, false, &m.lastCameraOff)
}

// SendStartEvidence captures the unconditional session-start evidence
// (image+video), exactly once per session. Retried by the caller until the
// capture succeeds.
func (m *Monitor) SendStartEvidence(ctx context.Context) {
	if !m.running() {
		return
	}

	m.mu.Lock()
	sent := m.startSent
	m.mu.Unlock()
	if sent {
		return
	}

	if m.capture.Capture(ctx, model.EvidenceExamStart, true) {
		m.mu.Lock()
		m.startSent = true
		m.mu.Unlock()
	}
}

// FaceDetected reports whether exactly one face is currently visible. False
// until the first successful check.
func (m *Monitor) FaceDetected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StatePresent
}

// State returns the current presence state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Warning returns the current presence warning, empty while present.
func (m *Monitor) Warning() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warning
}

func (m *Monitor) setState(state State, warning string) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.warning = warning
	m.mu.Unlock()

	if prev != state {
		m.log.Info().Str("from", string(prev)).Str("to", string(state)).Msg("Presence state changed")
	}
}

// maybeCapture fires evidence capture for a condition class at most once per
// rate-limit window, however often the underlying check runs.
func (m *Monitor) maybeCapture(ctx context.Context, event model.EvidenceEvent, withVideo bool, last *time.Time) {
	m.mu.Lock()
	if m.now().Sub(*last) < m.minGap {
		m.mu.Unlock()
		return
	}
	*last = m.now()
	m.mu.Unlock()

	m.capture.Capture(ctx, event, withVideo)
}
