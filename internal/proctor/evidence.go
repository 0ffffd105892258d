package proctor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/device"
	"github.com/stemsi/exstem-agent/internal/model"
)

// Uploader delivers captured evidence to the backend. Upload failures never
// disrupt the exam flow; callers log them at most.
type Uploader interface {
	UploadEvidence(ctx context.Context, ev *model.Evidence) error
}

// Capture snapshots proctoring evidence: a still frame, optionally followed
// by a short clip, uploaded together as one request. At most one clip
// recording runs at a time; a capture request arriving while one is active is
// dropped rather than queued.
type Capture struct {
	camera    device.Camera
	uploader  Uploader
	studentID int
	examID    uuid.UUID
	clipLen   time.Duration
	recording atomic.Bool
	log       zerolog.Logger
}

// NewCapture creates an evidence capturer for one session.
func NewCapture(camera device.Camera, uploader Uploader, studentID int, examID uuid.UUID, clipLen time.Duration, log zerolog.Logger) *Capture {
	return &Capture{
		camera:    camera,
		uploader:  uploader,
		studentID: studentID,
		examID:    examID,
		clipLen:   clipLen,
		log:       log.With().Str("component", "evidence").Logger(),
	}
}

// Capture grabs the current frame and, when includeVideo is set, a clip, and
// uploads them. Returns true only when the artifacts were captured and
// delivered; callers use the result solely to gate one-shot flags, never to
// block the exam.
func (c *Capture) Capture(ctx context.Context, event model.EvidenceEvent, includeVideo bool) bool {
	frame, err := c.camera.CaptureFrame(ctx)
	if err != nil {
		c.log.Debug().Err(err).Str("event", string(event)).Msg("Frame capture unavailable")
		return false
	}

	ev := &model.Evidence{
		StudentID: c.studentID,
		ExamID:    c.examID,
		Event:     event,
		Image:     frame,
	}

	if includeVideo {
		if !c.recording.CompareAndSwap(false, true) {
			c.log.Debug().Str("event", string(event)).Msg("Recorder busy, dropping capture request")
			return false
		}
		clip, err := c.camera.RecordClip(ctx, c.clipLen)
		c.recording.Store(false)

		if err != nil {
			// Degrade to image-only rather than losing the event.
			c.log.Debug().Err(err).Str("event", string(event)).Msg("Clip recording failed")
		} else if len(clip) > 0 {
			ev.Video = clip
		}
	}

	if err := c.uploader.UploadEvidence(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event", string(event)).Msg("Evidence upload failed")
		return false
	}

	c.log.Info().Str("event", string(event)).Bool("video", len(ev.Video) > 0).Msg("Evidence uploaded")
	return true
}
