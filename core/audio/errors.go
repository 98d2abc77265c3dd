package audio

import "errors"

// ErrPermissionDenied is returned by capture sources when the microphone is
// unavailable, either because access was refused or no device exists.
var ErrPermissionDenied = errors.New("microphone permission denied")
