package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/integrity"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/session"
)

// shellBridge implements session.Shell by emitting NDJSON events on stdout,
// where the embedding kiosk shell consumes them. Logs go to stderr, so stdout
// stays a clean protocol channel.
type shellBridge struct {
	mu  sync.Mutex
	enc *json.Encoder
	log zerolog.Logger
}

func newShellBridge(w io.Writer, log zerolog.Logger) *shellBridge {
	return &shellBridge{
		enc: json.NewEncoder(w),
		log: log.With().Str("component", "shell_bridge").Logger(),
	}
}

type shellEvent struct {
	Event    string            `json:"event"`
	Text     string            `json:"text,omitempty"`
	Open     *bool             `json:"open,omitempty"`
	Error    string            `json:"error,omitempty"`
	Key      string            `json:"key,omitempty"`
	Suppress *bool             `json:"suppress,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}

func (s *shellBridge) emit(ev shellEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Event).Msg("Shell event write failed")
	}
}

func (s *shellBridge) EnterFullscreen() {
	s.emit(shellEvent{Event: "enter_fullscreen"})
}

func (s *shellBridge) ShowWarning(text string) {
	s.emit(shellEvent{Event: "warning", Text: text})
}

func (s *shellBridge) ShowRecoveryPrompt(open bool) {
	s.emit(shellEvent{Event: "recovery_prompt", Open: &open})
}

func (s *shellBridge) SubmissionFailed(err error) {
	s.emit(shellEvent{Event: "submit_failed", Error: err.Error()})
}

func (s *shellBridge) Submitted(sub *model.Submission) {
	s.emit(shellEvent{Event: "submitted", Text: string(sub.SubmissionType)})
}

// shellCommand is one NDJSON command from the kiosk shell on stdin.
type shellCommand struct {
	Cmd        string `json:"cmd"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	QuestionID string `json:"question_id,omitempty"`
	Option     string `json:"option,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Fullscreen bool   `json:"fullscreen,omitempty"`
	Key        string `json:"key,omitempty"`
	Ctrl       bool   `json:"ctrl,omitempty"`
	Meta       bool   `json:"meta,omitempty"`
}

// readShellCommands drives the session from the shell's stdin stream until
// EOF or ctx cancellation. Malformed lines are logged and skipped.
func readShellCommands(ctx context.Context, r io.Reader, ctrl *session.Controller, mon *integrity.Monitor, bridge *shellBridge, log zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		var cmd shellCommand
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed shell command")
			continue
		}

		switch cmd.Cmd {
		case "start":
			if err := ctrl.StartExam(ctx, cmd.Width, cmd.Height); err != nil {
				bridge.emit(shellEvent{Event: "start_rejected", Error: err.Error()})
			}
		case "answer":
			qid, err := uuid.Parse(cmd.QuestionID)
			if err != nil {
				log.Warn().Str("question_id", cmd.QuestionID).Msg("Discarding answer with invalid question id")
				continue
			}
			if err := ctrl.SetAnswer(qid, cmd.Option); err != nil {
				bridge.emit(shellEvent{Event: "answer_rejected", Error: err.Error()})
			}
		case "submit":
			go func() {
				_ = ctrl.Submit(ctx, false)
			}()
		case "event":
			mon.Events() <- integrity.Event{
				Kind:       integrity.EventKind(cmd.Kind),
				Fullscreen: cmd.Fullscreen,
				Width:      cmd.Width,
				Height:     cmd.Height,
			}
		case "key":
			suppress := integrity.SuppressKey(integrity.KeyEvent{Key: cmd.Key, Ctrl: cmd.Ctrl, Meta: cmd.Meta})
			bridge.emit(shellEvent{Event: "suppress_key", Key: cmd.Key, Suppress: &suppress})
		case "snapshot":
			snap := ctrl.Snapshot()
			bridge.emit(shellEvent{Event: "snapshot", Snapshot: &snap})
		case "quit":
			ctrl.Close()
			return
		default:
			log.Debug().Str("cmd", cmd.Cmd).Msg("Ignoring unknown shell command")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("Shell command stream error")
	}
}
