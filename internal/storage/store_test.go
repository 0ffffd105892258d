package storage

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), zerolog.Nop())
}

func TestLoadMissingState(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Load(uuid.New())
	require.False(t, ok)
}

func TestSaveRemainingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	examID := uuid.New()

	s.SaveRemaining(examID, 42)

	state, ok := s.Load(examID)
	require.True(t, ok)
	require.NotNil(t, state.RemainingSeconds)
	require.Equal(t, 42, *state.RemainingSeconds)
}

func TestSaveAnswerAccumulates(t *testing.T) {
	s := newTestStore(t)
	examID := uuid.New()

	s.SaveAnswer(examID, "q1", "A")
	s.SaveAnswer(examID, "q2", "C")
	s.SaveAnswer(examID, "q1", "B") // re-answer overwrites

	state, ok := s.Load(examID)
	require.True(t, ok)
	require.Equal(t, map[string]string{"q1": "B", "q2": "C"}, state.Answers)
}

func TestAnswersAndRemainingShareState(t *testing.T) {
	s := newTestStore(t)
	examID := uuid.New()

	s.SaveAnswer(examID, "q1", "A")
	s.SaveRemaining(examID, 120)

	state, ok := s.Load(examID)
	require.True(t, ok)
	require.Equal(t, "A", state.Answers["q1"])
	require.Equal(t, 120, *state.RemainingSeconds)
}

func TestClearRemovesState(t *testing.T) {
	s := newTestStore(t)
	examID := uuid.New()

	s.SaveRemaining(examID, 10)
	s.Clear(examID)

	_, ok := s.Load(examID)
	require.False(t, ok)

	// Clearing again is a no-op, not an error path.
	s.Clear(examID)
}

func TestCorruptStateFileIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zerolog.Nop())
	examID := uuid.New()

	require.NoError(t, os.WriteFile(s.path(examID), []byte("{not json"), 0o644))

	_, ok := s.Load(examID)
	require.False(t, ok)
}
