package integrity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
)

// EventKind enumerates the window signals the shell forwards.
type EventKind string

const (
	EventBlur       EventKind = "BLUR"
	EventFullscreen EventKind = "FULLSCREEN_CHANGE"
	EventResize     EventKind = "RESIZE"
	EventOnline     EventKind = "ONLINE"
	EventOffline    EventKind = "OFFLINE"
)

// Event is one window signal from the shell.
type Event struct {
	Kind       EventKind `json:"kind"`
	Fullscreen bool      `json:"fullscreen,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
}

// Session is the slice of the session controller the monitor commands.
type Session interface {
	Running() bool
	Warn(text string)
	AutoSubmit(reason string)
	ShowRecoveryPrompt(open bool)
}

// Reporter streams violations to the backend. May be nil (offline mode).
type Reporter interface {
	Report(v model.Violation)
}

// Monitor aggregates window integrity signals into the warning ladder and
// forced-termination triggers. Blur and fullscreen-exit counters are tracked
// independently because their thresholds differ; they are summed only when
// the submission payload asks for the combined warning count.
//
// Every policy here is client-side deterrence: a modified client can bypass
// it, so nothing in this package is a security boundary. The backend's own
// review of violation reports and evidence is the authority.
type Monitor struct {
	mu              sync.Mutex
	blurCount       int
	fsExitCount     int
	online          bool
	fullscreen      bool
	recoveryOpen    bool
	viewportTripped bool

	session  Session
	reporter Reporter
	events   chan Event

	maxBlur   int
	minWidth  int
	minHeight int
	now       func() time.Time
	log       zerolog.Logger
}

// NewMonitor creates an integrity monitor commanding the given session.
// reporter may be nil.
func NewMonitor(session Session, reporter Reporter, maxBlur, minWidth, minHeight int, log zerolog.Logger) *Monitor {
	return &Monitor{
		online:     true,
		fullscreen: true,
		session:    session,
		reporter:   reporter,
		events:     make(chan Event, 16),
		maxBlur:    maxBlur,
		minWidth:   minWidth,
		minHeight:  minHeight,
		now:        time.Now,
		log:        log.With().Str("component", "integrity").Logger(),
	}
}

// Events is the channel the shell bridge feeds.
func (m *Monitor) Events() chan<- Event { return m.events }

// Run drains shell events until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Msg("Integrity monitor started")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.Handle(ev)
		}
	}
}

// Handle processes one shell event. Handler failures are contained: a panic
// is logged and the session phase is left unchanged.
func (m *Monitor) Handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", string(ev.Kind)).Msg("Integrity handler panic contained")
		}
	}()

	if !m.session.Running() {
		return
	}

	switch ev.Kind {
	case EventBlur:
		m.handleBlur()
	case EventFullscreen:
		m.handleFullscreen(ev.Fullscreen)
	case EventResize:
		m.handleResize(ev.Width, ev.Height)
	case EventOnline:
		m.handleConnectivity(true)
	case EventOffline:
		m.handleConnectivity(false)
	default:
		m.log.Debug().Str("event", string(ev.Kind)).Msg("Ignoring unknown event")
	}
}

// handleBlur walks the warning ladder: warn, warn harder, auto-submit. The
// counter never resets within a session.
func (m *Monitor) handleBlur() {
	m.mu.Lock()
	m.blurCount++
	count := m.blurCount
	m.mu.Unlock()

	m.report(model.ViolationTabSwitch, count, "window focus lost")

	switch {
	case count >= m.maxBlur:
		m.session.AutoSubmit("Too many tab switches")
	case count == m.maxBlur-1:
		m.session.Warn("Second warning: the next tab switch ends the exam")
	default:
		m.session.Warn("Warning: do not switch tabs")
	}
}

// handleFullscreen applies the exit policy: the first exit in a session is a
// warning with the recovery prompt open, every subsequent exit auto-submits.
// The decision is made from the counter alone, atomically with its increment.
func (m *Monitor) handleFullscreen(fullscreen bool) {
	m.mu.Lock()
	m.fullscreen = fullscreen

	if fullscreen {
		open := !m.online
		m.recoveryOpen = open
		m.mu.Unlock()
		m.session.ShowRecoveryPrompt(open)
		return
	}

	m.fsExitCount++
	count := m.fsExitCount
	m.recoveryOpen = true
	m.mu.Unlock()

	m.session.ShowRecoveryPrompt(true)
	m.report(model.ViolationFullscreenExit, count, "left fullscreen")

	if count == 1 {
		m.session.Warn("You exited fullscreen")
	} else {
		m.session.AutoSubmit("Exited fullscreen again")
	}
}

// handleResize auto-submits when the viewport drops below the minimum, once,
// regardless of how many resize events fire below the threshold.
func (m *Monitor) handleResize(width, height int) {
	if width >= m.minWidth && height >= m.minHeight {
		return
	}

	m.mu.Lock()
	if m.viewportTripped {
		m.mu.Unlock()
		return
	}
	m.viewportTripped = true
	m.mu.Unlock()

	m.report(model.ViolationViewport, 1, fmt.Sprintf("%dx%d below %dx%d", width, height, m.minWidth, m.minHeight))
	m.session.AutoSubmit("Screen size below the allowed minimum")
}

// handleConnectivity opens the blocking recovery prompt while offline;
// recovery requires connectivity and fullscreen together.
func (m *Monitor) handleConnectivity(online bool) {
	m.mu.Lock()
	m.online = online
	open := !online || !m.fullscreen
	m.recoveryOpen = open
	m.mu.Unlock()

	m.session.ShowRecoveryPrompt(open)
	if !online {
		m.report(model.ViolationOffline, 1, "connectivity lost")
	}
}

// WarningCount is the combined violation count for the submission payload.
func (m *Monitor) WarningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blurCount + m.fsExitCount
}

// BlurCount returns the tab-switch counter.
func (m *Monitor) BlurCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blurCount
}

// FullscreenExitCount returns the fullscreen-exit counter.
func (m *Monitor) FullscreenExitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsExitCount
}

func (m *Monitor) report(kind model.ViolationKind, count int, detail string) {
	if m.reporter == nil {
		return
	}
	m.reporter.Report(model.Violation{
		Kind:   kind,
		Count:  count,
		Detail: detail,
		At:     m.now(),
	})
}
