package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
)

// Phase enumerates session controller states. Transitions are one-directional
// (NotStarted → Running → Submitting → Terminated) except that a failed
// submission returns Submitting → Running. "Paused" is not a phase: it is the
// derived running gate evaluating false while the phase stays Running.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseRunning    Phase = "RUNNING"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseTerminated Phase = "TERMINATED"
)

// Sentinel errors for controller operations.
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrViewportTooSmall = errors.New("viewport below minimum size")
	ErrNotRunning       = errors.New("session is not running")
	ErrAnswerRejected   = errors.New("answers are not being accepted")
)

// Backend is the slice of the exam API the controller drives.
type Backend interface {
	SubmitExam(ctx context.Context, sub *model.Submission) error
}

// Presence reports whether exactly one face is currently visible.
type Presence interface {
	FaceDetected() bool
	Warning() string
}

// Violations exposes the integrity monitor's counters for the submission
// payload. Blur and fullscreen counters stay independent (their thresholds
// differ) and are summed only here.
type Violations interface {
	WarningCount() int
}

// Shell is the surface the embedding UI provides to the controller.
type Shell interface {
	EnterFullscreen()
	ShowWarning(text string)
	ShowRecoveryPrompt(open bool)
	SubmissionFailed(err error)
	Submitted(sub *model.Submission)
}

// Runner is a periodic monitor loop whose lifetime the controller owns. Every
// runner is cancelled through the session context on teardown.
type Runner interface {
	Run(ctx context.Context)
}

// Controller orchestrates one student's attempt at one exam: it owns the
// phase machine and answer sheet, derives the single running gate the timer
// and shell consume, and triggers submission.
type Controller struct {
	mu           sync.Mutex
	phase        Phase
	answers      map[uuid.UUID]string
	warning      string
	subType      model.SubmissionType
	startedAt    time.Time
	inputBlocked bool

	exam      *model.ExamPayload
	studentID int

	backend    Backend
	store      *storage.Store
	shell      Shell
	presence   Presence
	violations Violations
	timer      *Timer
	runners    []Runner
	cleanups   []func()

	minWidth    int
	minHeight   int
	deviceInfo  string
	browserInfo string

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	now      func() time.Time
	log      zerolog.Logger
}

// NewController creates a session controller for one exam attempt. Answers
// persisted from an interrupted attempt are restored immediately.
func NewController(exam *model.ExamPayload, studentID int, backend Backend, store *storage.Store, shell Shell, log zerolog.Logger) *Controller {
	c := &Controller{
		phase:     PhaseNotStarted,
		answers:   make(map[uuid.UUID]string),
		exam:      exam,
		studentID: studentID,
		backend:   backend,
		store:     store,
		shell:     shell,
		minWidth:  1024,
		minHeight: 600,
		done:      make(chan struct{}),
		now:       time.Now,
		log:       log.With().Str("component", "session").Str("exam_id", exam.ExamID.String()).Logger(),
	}
	c.timer = NewTimer(store, c.Gate, func() { c.AutoSubmit("Time is up") }, log)

	if state, ok := store.Load(exam.ExamID); ok {
		for qid, opt := range state.Answers {
			id, err := uuid.Parse(qid)
			if err != nil {
				continue
			}
			c.answers[id] = opt
		}
		if len(c.answers) > 0 {
			c.log.Info().Int("answers", len(c.answers)).Msg("Restored persisted answers")
		}
	}
	return c
}

// SetMinViewport overrides the default minimum viewport requirement.
func (c *Controller) SetMinViewport(width, height int) {
	c.minWidth, c.minHeight = width, height
}

// SetEnvironment records the device/shell identification sent with the
// submission payload.
func (c *Controller) SetEnvironment(deviceInfo, browserInfo string) {
	c.deviceInfo, c.browserInfo = deviceInfo, browserInfo
}

// AttachPresence wires the presence monitor consulted by the running gate.
func (c *Controller) AttachPresence(p Presence) { c.presence = p }

// AttachViolations wires the integrity counters for the submission payload.
func (c *Controller) AttachViolations(v Violations) { c.violations = v }

// AddRunner registers a monitor loop started with the session and cancelled
// on teardown.
func (c *Controller) AddRunner(r Runner) { c.runners = append(c.runners, r) }

// OnTeardown registers a cleanup hook (camera release, stream close) invoked
// exactly once when the session ends.
func (c *Controller) OnTeardown(fn func()) { c.cleanups = append(c.cleanups, fn) }

// StartExam transitions NotStarted → Running: it checks the viewport
// precondition, requests fullscreen through the shell, clears the warning
// banner, and starts the timer and every attached monitor.
func (c *Controller) StartExam(ctx context.Context, width, height int) error {
	c.mu.Lock()
	if c.phase != PhaseNotStarted {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if width < c.minWidth || height < c.minHeight {
		c.mu.Unlock()
		return fmt.Errorf("%w: %dx%d < %dx%d", ErrViewportTooSmall, width, height, c.minWidth, c.minHeight)
	}
	c.phase = PhaseRunning
	c.warning = ""
	c.startedAt = c.now()
	c.mu.Unlock()

	c.shell.EnterFullscreen()

	sessionCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.timer.Start(c.exam.ExamID, c.exam.DurationSeconds())
	go c.timer.Run(sessionCtx)
	for _, r := range c.runners {
		go r.Run(sessionCtx)
	}

	c.log.Info().Int("duration_seconds", c.exam.DurationSeconds()).Msg("Exam started")
	return nil
}

// SetAnswer records a selection. Accepted only while the phase is Running,
// presence is established, and integrity has not blocked input; accepted
// answers are persisted immediately.
func (c *Controller) SetAnswer(questionID uuid.UUID, option string) error {
	c.mu.Lock()
	if c.phase != PhaseRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if c.inputBlocked || !c.faceDetected() {
		c.mu.Unlock()
		return ErrAnswerRejected
	}
	c.answers[questionID] = option
	c.mu.Unlock()

	c.store.SaveAnswer(c.exam.ExamID, questionID.String(), option)
	return nil
}

// Submit finishes the exam. Idempotent: a call while a submission is already
// in flight, or after termination, is a no-op. On backend failure the phase
// reverts to Running with answers and local state intact, and the error is
// surfaced as retryable; on success local exam state is cleared, the session
// is torn down, and the phase becomes Terminated.
func (c *Controller) Submit(ctx context.Context, isAuto bool) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseSubmitting, PhaseTerminated:
		c.mu.Unlock()
		return nil
	case PhaseNotStarted:
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.phase = PhaseSubmitting
	if isAuto {
		c.subType = model.SubmissionAuto
	} else {
		c.subType = model.SubmissionManual
	}
	sub := c.buildSubmissionLocked()
	c.mu.Unlock()

	c.log.Info().Str("type", string(sub.SubmissionType)).Int("warnings", sub.WarningCount).Msg("Submitting exam")

	if err := c.backend.SubmitExam(ctx, sub); err != nil {
		c.mu.Lock()
		c.phase = PhaseRunning
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Submission failed, session stays running")
		c.shell.SubmissionFailed(err)
		return fmt.Errorf("submit: %w", err)
	}

	c.store.Clear(c.exam.ExamID)

	c.mu.Lock()
	c.phase = PhaseTerminated
	c.mu.Unlock()

	c.teardown()
	c.shell.Submitted(sub)
	c.log.Info().Msg("Exam submitted")
	return nil
}

// AutoSubmit is the policy entry point for forced termination triggers
// (timer expiry, violation thresholds). The submit idempotency guard, not
// trigger ordering, guarantees a single submission when triggers race.
func (c *Controller) AutoSubmit(reason string) {
	c.Warn(reason)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.Submit(ctx, true)
}

// Warn records and displays a warning banner.
func (c *Controller) Warn(text string) {
	c.mu.Lock()
	c.warning = text
	c.mu.Unlock()
	c.shell.ShowWarning(text)
}

// ShowRecoveryPrompt opens or closes the blocking recovery prompt. While
// open, answer input is blocked.
func (c *Controller) ShowRecoveryPrompt(open bool) {
	c.mu.Lock()
	c.inputBlocked = open
	c.mu.Unlock()
	c.shell.ShowRecoveryPrompt(open)
}

// Running reports whether the phase is Running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseRunning
}

// Gate is the single derived "timer running" gate: phase is Running and
// presence is established. All consumers share this one computation.
func (c *Controller) Gate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseRunning && c.faceDetected()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Timer returns the countdown owned by this session.
func (c *Controller) Timer() *Timer { return c.timer }

// Done is closed when the session terminates.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot is the render state the shell polls.
type Snapshot struct {
	Phase            Phase   `json:"phase"`
	RemainingSeconds int     `json:"remaining_seconds"`
	Answered         int     `json:"answered"`
	TotalQuestions   int     `json:"total_questions"`
	Warning          string  `json:"warning,omitempty"`
	PresenceWarning  string  `json:"presence_warning,omitempty"`
	FaceDetected     bool    `json:"face_detected"`
	MarksPerQuestion float64 `json:"marks_per_question"`
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:            c.phase,
		RemainingSeconds: c.timer.Remaining(),
		Answered:         len(c.answers),
		TotalQuestions:   len(c.exam.Questions),
		Warning:          c.warning,
		FaceDetected:     c.faceDetected(),
		MarksPerQuestion: c.exam.MarksPerQuestion(),
	}
	if c.presence != nil {
		snap.PresenceWarning = c.presence.Warning()
	}
	return snap
}

// Close tears the session down without submitting (view unmount path).
func (c *Controller) Close() {
	c.mu.Lock()
	if c.phase != PhaseTerminated {
		c.phase = PhaseTerminated
	}
	c.mu.Unlock()
	c.teardown()
}

// faceDetected must be called with c.mu held. Sessions without a presence
// monitor (proctoring disabled) are treated as present.
func (c *Controller) faceDetected() bool {
	if c.presence == nil {
		return true
	}
	return c.presence.FaceDetected()
}

// buildSubmissionLocked assembles the result payload. Every exam question
// appears in order; unanswered ones carry a nil selection.
func (c *Controller) buildSubmissionLocked() *model.Submission {
	answers := make([]model.Answer, 0, len(c.exam.Questions))
	for _, q := range c.exam.Questions {
		a := model.Answer{QuestionID: q.ID}
		if opt, ok := c.answers[q.ID]; ok {
			sel := opt
			a.SelectedOption = &sel
		}
		answers = append(answers, a)
	}

	warningCount := 0
	if c.violations != nil {
		warningCount = c.violations.WarningCount()
	}

	return &model.Submission{
		StudentID:       c.studentID,
		ExamID:          c.exam.ExamID,
		Answers:         answers,
		WarningCount:    warningCount,
		WarningReasons:  c.warning,
		SubmissionType:  c.subType,
		IsAutoSubmitted: c.subType == model.SubmissionAuto,
		ExamStartTime:   c.startedAt,
		ExamEndTime:     c.now(),
		DeviceInfo:      c.deviceInfo,
		BrowserInfo:     c.browserInfo,
	}
}

// teardown cancels every monitor and timer loop, runs cleanup hooks (media
// handle release), and signals Done. Safe to call more than once.
func (c *Controller) teardown() {
	c.doneOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		for _, fn := range c.cleanups {
			fn()
		}
		close(c.done)
		c.log.Info().Msg("Session torn down")
	})
}
