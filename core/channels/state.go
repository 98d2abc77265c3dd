// Package channels holds the connection state shared by the persistent
// duplex streams the session keeps open to remote services.
package channels

import (
	"errors"

	"github.com/gorilla/websocket"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// CanConnect reports whether Connect may be called from s.
func (s State) CanConnect() bool {
	return s == StateDisconnected || s == StateClosed || s == StateErrored
}

var (
	ErrNotOpen          = errors.New("channel not open")
	ErrClosed           = errors.New("channel closed")
	ErrAlreadyConnected = errors.New("channel already connected")
)

// IsNormalClosure reports whether err is the read error produced by an
// orderly shutdown of the websocket from either side.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}

// ControlMessage is the JSON envelope servers use for non-audio frames.
type ControlMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

const (
	MessageTypeTranscript = "transcript"
	MessageTypeError      = "error"
)
