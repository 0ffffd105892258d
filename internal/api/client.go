package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/model"
)

// Sentinel errors for backend interactions.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// envelope mirrors the backend's standardized response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Client is the agent's HTTP client for the exam backend.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient creates a backend client authenticated with the student token.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// GetExam fetches and validates the student-facing exam payload.
func (c *Client) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/student/exams/"+examID.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode exam payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SubmitExam posts the final result. A returned error is retryable from the
// caller's perspective: nothing server-side is assumed to have happened.
func (c *Client) SubmitExam(ctx context.Context, sub *model.Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	path := "/api/v1/student/exams/" + sub.ExamID.String() + "/submit"
	if _, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("submit exam: %w", err)
	}
	return nil
}

// UploadEvidence posts a proctoring artifact set as a single multipart
// request. Fire-and-forget from the session's perspective: callers log the
// returned error at most.
func (c *Client) UploadEvidence(ctx context.Context, ev *model.Evidence) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("studentId", strconv.Itoa(ev.StudentID))
	_ = w.WriteField("examId", ev.ExamID.String())
	_ = w.WriteField("eventType", string(ev.Event))

	if err := writeFilePart(w, "image", "capture.jpg", "image/jpeg", ev.Image); err != nil {
		return fmt.Errorf("build evidence request: %w", err)
	}
	if len(ev.Video) > 0 {
		if err := writeFilePart(w, "video", "clip.webm", "video/webm", ev.Video); err != nil {
			return fmt.Errorf("build evidence request: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build evidence request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/student/proctoring/upload", &buf)
	if err != nil {
		return fmt.Errorf("build evidence request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload evidence: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload evidence: status %d", resp.StatusCode)
	}
	return nil
}

// do performs a JSON request and unwraps the backend's response envelope.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%s %s: %s (%s)", method, path, env.Error.Message, env.Error.Code)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	return env.Data, nil
}

func writeFilePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)

	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
