package orchestration

import (
	"time"

	"github.com/auriter/voicecore/core/channels"
)

// ControllerState is the lifecycle state of a Session.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateConnecting
	StateActive
	StateTearingDown
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTearingDown:
		return "tearing-down"
	}
	return "unknown"
}

type SessionPhase int

const (
	PhaseIdle SessionPhase = iota
	PhaseRecording
	PhaseProcessing
	PhaseSpeaking
	PhaseError
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRecording:
		return "recording"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// SessionStatus is the single user-facing phase of a session. Message is
// only set for PhaseError.
type SessionStatus struct {
	Phase   SessionPhase
	Message string
}

func (s SessionStatus) String() string {
	if s.Phase == PhaseError {
		return "error: " + s.Message
	}
	return s.Phase.String()
}

// ChannelState is re-exported so callers need not import channels.
type ChannelState = channels.State

// ConversationTurn is one finished exchange. It is never modified after it
// is appended to the session log.
type ConversationTurn struct {
	ID        string
	User      string
	Assistant string
	At        time.Time
}

// AudioFrame is one unit of synthesized speech, numbered in arrival order.
type AudioFrame struct {
	Seq  uint64
	Data []byte
}
