package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/integrity"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/storage"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeBackend struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	last  *model.Submission
}

func (f *fakeBackend) SubmitExam(_ context.Context, sub *model.Submission) error {
	f.mu.Lock()
	f.calls++
	f.last = sub
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeBackend) submitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) lastSubmission() *model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeShell struct {
	mu        sync.Mutex
	warnings  []string
	prompts   []bool
	failures  int
	submitted int
}

func (s *fakeShell) EnterFullscreen() {}
func (s *fakeShell) ShowWarning(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, text)
}
func (s *fakeShell) ShowRecoveryPrompt(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, open)
}
func (s *fakeShell) SubmissionFailed(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}
func (s *fakeShell) Submitted(*model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
}

type fakePresence struct {
	mu       sync.Mutex
	detected bool
}

func (p *fakePresence) FaceDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detected
}
func (p *fakePresence) Warning() string { return "" }
func (p *fakePresence) set(detected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detected = detected
}

// ─── Helpers ────────────────────────────────────────────────────────

func testExam(questions int) *model.ExamPayload {
	exam := &model.ExamPayload{
		ExamID:     uuid.New(),
		Title:      "Unit Exam",
		Duration:   1,
		TotalMarks: 100,
	}
	for i := 0; i < questions; i++ {
		exam.Questions = append(exam.Questions, model.QuestionForStudent{
			ID:       uuid.New(),
			OrderNum: i + 1,
		})
	}
	return exam
}

type fixture struct {
	ctrl    *Controller
	backend *fakeBackend
	shell   *fakeShell
	store   *storage.Store
	exam    *model.ExamPayload
}

func newFixture(t *testing.T, questions int) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{},
		shell:   &fakeShell{},
		store:   storage.New(t.TempDir(), zerolog.Nop()),
		exam:    testExam(questions),
	}
	f.ctrl = NewController(f.exam, 7, f.backend, f.store, f.shell, zerolog.Nop())
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.StartExam(context.Background(), 1280, 800))
	t.Cleanup(f.ctrl.Close)
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestStartExamViewportPrecondition(t *testing.T) {
	f := newFixture(t, 1)

	err := f.ctrl.StartExam(context.Background(), 800, 600)
	require.ErrorIs(t, err, ErrViewportTooSmall)
	require.Equal(t, PhaseNotStarted, f.ctrl.Phase())

	f.start(t)
	require.Equal(t, PhaseRunning, f.ctrl.Phase())

	require.ErrorIs(t, f.ctrl.StartExam(context.Background(), 1280, 800), ErrAlreadyStarted)
}

func TestSetAnswerRequiresRunning(t *testing.T) {
	f := newFixture(t, 1)

	err := f.ctrl.SetAnswer(f.exam.Questions[0].ID, "A")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestSetAnswerPresenceGate(t *testing.T) {
	f := newFixture(t, 2)
	presence := &fakePresence{}
	f.ctrl.AttachPresence(presence)
	f.start(t)

	q := f.exam.Questions[0].ID

	require.ErrorIs(t, f.ctrl.SetAnswer(q, "A"), ErrAnswerRejected,
		"answers must be rejected while no face is detected")
	require.Zero(t, f.ctrl.Snapshot().Answered)

	presence.set(true)
	require.NoError(t, f.ctrl.SetAnswer(q, "A"))
	require.Equal(t, 1, f.ctrl.Snapshot().Answered)

	state, ok := f.store.Load(f.exam.ExamID)
	require.True(t, ok, "accepted answers persist immediately")
	require.Equal(t, "A", state.Answers[q.String()])
}

func TestSetAnswerBlockedByRecoveryPrompt(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.ctrl.ShowRecoveryPrompt(true)
	require.ErrorIs(t, f.ctrl.SetAnswer(f.exam.Questions[0].ID, "B"), ErrAnswerRejected)

	f.ctrl.ShowRecoveryPrompt(false)
	require.NoError(t, f.ctrl.SetAnswer(f.exam.Questions[0].ID, "B"))
}

func TestGateComposition(t *testing.T) {
	f := newFixture(t, 1)
	presence := &fakePresence{}
	f.ctrl.AttachPresence(presence)

	require.False(t, f.ctrl.Gate(), "gate closed before start")

	f.start(t)
	require.False(t, f.ctrl.Gate(), "gate closed until presence is established")

	presence.set(true)
	require.True(t, f.ctrl.Gate())

	presence.set(false)
	require.False(t, f.ctrl.Gate(), "losing presence pauses without changing phase")
	require.Equal(t, PhaseRunning, f.ctrl.Phase())
}

func TestSubmitIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.backend.delay = 50 * time.Millisecond
	f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.ctrl.Submit(context.Background(), true)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.backend.submitCalls(),
		"a second submit while the first is pending must be a no-op")
	require.Equal(t, PhaseTerminated, f.ctrl.Phase())
}

func TestSubmitFailureRevertsToRunning(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)
	require.NoError(t, f.ctrl.SetAnswer(f.exam.Questions[0].ID, "C"))

	f.backend.err = errors.New("backend down")
	require.Error(t, f.ctrl.Submit(context.Background(), false))
	require.Equal(t, PhaseRunning, f.ctrl.Phase(), "failed submission returns to Running")
	require.Equal(t, 1, f.shell.failures)

	state, ok := f.store.Load(f.exam.ExamID)
	require.True(t, ok, "answers survive a failed submission")
	require.Equal(t, "C", state.Answers[f.exam.Questions[0].ID.String()])

	// Retry succeeds and clears local state.
	f.backend.err = nil
	require.NoError(t, f.ctrl.Submit(context.Background(), false))
	require.Equal(t, PhaseTerminated, f.ctrl.Phase())

	_, ok = f.store.Load(f.exam.ExamID)
	require.False(t, ok, "local exam state is cleared exactly on success")
}

func TestSubmissionPayload(t *testing.T) {
	f := newFixture(t, 3)
	f.ctrl.SetEnvironment("linux/amd64 kiosk-12", "exstem-kiosk/2.1")
	f.start(t)
	require.NoError(t, f.ctrl.SetAnswer(f.exam.Questions[1].ID, "D"))

	f.ctrl.AutoSubmit("Time is up")

	sub := f.backend.lastSubmission()
	require.NotNil(t, sub)
	require.Equal(t, model.SubmissionAuto, sub.SubmissionType)
	require.True(t, sub.IsAutoSubmitted)
	require.Equal(t, 7, sub.StudentID)
	require.Equal(t, "linux/amd64 kiosk-12", sub.DeviceInfo)
	require.Equal(t, "exstem-kiosk/2.1", sub.BrowserInfo)
	require.Equal(t, "Time is up", sub.WarningReasons)
	require.Len(t, sub.Answers, 3, "every question appears, answered or not")
	require.Nil(t, sub.Answers[0].SelectedOption)
	require.NotNil(t, sub.Answers[1].SelectedOption)
	require.Equal(t, "D", *sub.Answers[1].SelectedOption)
}

func TestAnswersRestoredFromStore(t *testing.T) {
	exam := testExam(2)
	store := storage.New(t.TempDir(), zerolog.Nop())
	store.SaveAnswer(exam.ExamID, exam.Questions[0].ID.String(), "B")

	ctrl := NewController(exam, 7, &fakeBackend{}, store, &fakeShell{}, zerolog.Nop())

	require.Equal(t, 1, ctrl.Snapshot().Answered, "persisted answers survive a reload")
}

// Scenario: a 60-second exam, one answered question, three window blurs in
// quick succession. The session must auto-submit exactly once with the
// violations counted and local state cleared.
func TestBlurLadderScenario(t *testing.T) {
	f := newFixture(t, 2)
	f.start(t)

	mon := integrity.NewMonitor(f.ctrl, nil, 3, 1024, 600, zerolog.Nop())
	f.ctrl.AttachViolations(mon)

	require.NoError(t, f.ctrl.SetAnswer(f.exam.Questions[0].ID, "A"))

	for i := 0; i < 3; i++ {
		mon.Handle(integrity.Event{Kind: integrity.EventBlur})
	}

	require.Equal(t, 1, f.backend.submitCalls())
	sub := f.backend.lastSubmission()
	require.Equal(t, model.SubmissionAuto, sub.SubmissionType)
	require.GreaterOrEqual(t, sub.WarningCount, 3)
	require.Equal(t, "A", *sub.Answers[0].SelectedOption)
	require.Equal(t, PhaseTerminated, f.ctrl.Phase())

	_, ok := f.store.Load(f.exam.ExamID)
	require.False(t, ok, "exam-scoped storage is cleared after auto-submit")
}

func TestCloseWithoutSubmit(t *testing.T) {
	f := newFixture(t, 1)
	released := false
	f.ctrl.OnTeardown(func() { released = true })
	f.start(t)

	f.ctrl.Close()

	require.Equal(t, PhaseTerminated, f.ctrl.Phase())
	require.True(t, released, "teardown must release collaborator handles")
	select {
	case <-f.ctrl.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
	require.Zero(t, f.backend.submitCalls())
}
