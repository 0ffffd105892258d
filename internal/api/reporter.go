package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
)

// wsAction is the backend's exam-stream request envelope.
type wsAction struct {
	Action  string `json:"action"`
	Payload string `json:"payload,omitempty"`
}

// Reporter streams integrity events to the backend's exam WebSocket channel
// as cheat actions, out-of-band from evidence uploads. Every send is
// best-effort: a dead connection is logged, never surfaced to the session.
type Reporter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

// DialReporter connects to the exam stream for the given exam.
func DialReporter(ctx context.Context, backendURL string, examID uuid.UUID, token string, log zerolog.Logger) (*Reporter, error) {
	wsURL := strings.Replace(strings.TrimRight(backendURL, "/"), "http", "ws", 1) +
		"/ws/v1/student/exams/" + examID.String() + "/stream"

	hdr := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial exam stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial exam stream: %w", err)
	}

	return &Reporter{
		conn: conn,
		log:  log.With().Str("component", "reporter").Logger(),
	}, nil
}

// Report sends one violation over the stream.
func (r *Reporter) Report(v model.Violation) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conn.WriteJSON(wsAction{Action: "cheat", Payload: string(payload)}); err != nil {
		r.log.Warn().Err(err).Str("kind", string(v.Kind)).Msg("Violation report failed")
	}
}

// Ping keeps the stream alive between violations.
func (r *Reporter) Ping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conn.WriteJSON(wsAction{Action: "ping"}); err != nil {
		r.log.Debug().Err(err).Msg("Ping failed")
	}
}

// Close tears down the stream connection.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return r.conn.Close()
}
