package orchestration

import "errors"

var (
	// ErrPermissionDenied means the microphone could not be acquired. The
	// session stays idle and may be started again.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrChannel covers a transcript or speech stream that failed to open or
	// reported an error.
	ErrChannel = errors.New("channel error")
	// ErrRequestFailed is a chat request that failed for any reason.
	ErrRequestFailed = errors.New("chat request failed")
	// ErrPlayback is a single frame that could not be played.
	ErrPlayback = errors.New("playback failed")
	// ErrStaleResult is a result that arrived after its session ended.
	ErrStaleResult = errors.New("stale result discarded")
	// ErrSessionClosed is returned when starting a Session after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotConfigured is returned when a required client is missing.
	ErrNotConfigured = errors.New("session not configured")
)

// Messages shown in the session's error slot.
const (
	MessagePermissionDenied = "Please enable microphone access to use voice input"
	MessageStartFailed      = "Failed to start recording. Please try again."
	MessageRequestFailed    = "Failed to process voice interaction. Please try again."
	MessageConnectFailed    = "Could not connect to voice services. Please try again."
	MessageChannelFailed    = "Voice service error"
)
