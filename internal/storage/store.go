package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExamState is the durable per-exam session state: the countdown position and
// every answer selected so far. It survives an agent restart and is cleared
// exactly once, on successful submission.
type ExamState struct {
	RemainingSeconds *int              `json:"remaining_seconds,omitempty"`
	Answers          map[string]string `json:"answers,omitempty"`
}

// Store persists exam state as one JSON file per exam under a state
// directory. All writes are best-effort: a failed write is logged and
// swallowed, never surfaced to the session.
type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// New creates a Store rooted at dir.
func New(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "storage").Logger(),
	}
}

// Load reads the persisted state for an exam. The second return value is
// false when no state has been persisted yet or the file is unreadable.
func (s *Store) Load(examID uuid.UUID) (ExamState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(examID))
	if err != nil {
		return ExamState{}, false
	}

	var state ExamState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Discarding corrupt state file")
		return ExamState{}, false
	}
	return state, true
}

// SaveRemaining persists the countdown position for an exam.
func (s *Store) SaveRemaining(examID uuid.UUID, seconds int) {
	s.update(examID, func(state *ExamState) {
		state.RemainingSeconds = &seconds
	})
}

// SaveAnswer persists a single answer selection for an exam.
func (s *Store) SaveAnswer(examID uuid.UUID, questionID, option string) {
	s.update(examID, func(state *ExamState) {
		if state.Answers == nil {
			state.Answers = make(map[string]string)
		}
		state.Answers[questionID] = option
	})
}

// Clear removes all persisted state for an exam.
func (s *Store) Clear(examID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(examID)); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to clear state file")
	}
}

// update applies a read-modify-write cycle under the store lock, writing
// atomically via a temp file rename.
func (s *Store) update(examID uuid.UUID, mutate func(*ExamState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state ExamState
	if data, err := os.ReadFile(s.path(examID)); err == nil {
		_ = json.Unmarshal(data, &state)
	}

	mutate(&state)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn().Err(err).Msg("Failed to create state dir")
		return
	}

	data, err := json.Marshal(&state)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode state")
		return
	}

	tmp := s.path(examID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write state file")
		return
	}
	if err := os.Rename(tmp, s.path(examID)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to replace state file")
	}
}

func (s *Store) path(examID uuid.UUID) string {
	return filepath.Join(s.dir, "exam-"+examID.String()+".json")
}
