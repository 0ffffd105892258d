package model

import (
	"time"

	"github.com/google/uuid"
)

// EvidenceEvent classifies why a proctoring artifact was captured.
type EvidenceEvent string

const (
	EvidenceExamStart EvidenceEvent = "ExamStart"
	EvidenceNoFace    EvidenceEvent = "NoFace"
	EvidenceMultiFace EvidenceEvent = "MultiFace"
	EvidenceCameraOff EvidenceEvent = "CameraOff"
)

// Evidence is one captured artifact set bound for the proctoring endpoint.
// Image is always present; Video only for events recorded with an active
// camera (never CameraOff).
type Evidence struct {
	StudentID int
	ExamID    uuid.UUID
	Event     EvidenceEvent
	Image     []byte
	Video     []byte
}

// ViolationKind classifies integrity events streamed to the backend.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "TAB_SWITCH"
	ViolationFullscreenExit ViolationKind = "FULLSCREEN_EXIT"
	ViolationViewport       ViolationKind = "VIEWPORT_TOO_SMALL"
	ViolationOffline        ViolationKind = "OFFLINE"
)

// Violation is one integrity event as reported over the exam stream.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Count  int           `json:"count"`
	Detail string        `json:"detail,omitempty"`
	At     time.Time     `json:"at"`
}
