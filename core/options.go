package orchestration

import (
	"context"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/auriter/voicecore/core/channels"
	"github.com/auriter/voicecore/core/synthesis"
	"github.com/auriter/voicecore/core/transcription"
)

type SessionOption func(*Session)

type AudioInput interface {
	Start(ctx context.Context, onChunk func(chunk []byte)) error
	Stop() error
}

// AudioInputWithEncoding lets the transcript channel announce the capture
// format to the service.
type AudioInputWithEncoding interface {
	AudioInput
	EncodingInfo() audio.EncodingInfo
}

func WithAudioInput(client AudioInput) SessionOption {
	return func(s *Session) {
		s.audioInput = client
	}
}

type AudioOutput interface {
	Play(ctx context.Context, frame []byte) error
}

func WithAudioOutput(client AudioOutput) SessionOption {
	return func(s *Session) {
		s.audioOutput = client
	}
}

type TranscriptChannel interface {
	Connect(ctx context.Context, opts ...transcription.TranscriptionOption) error
	SendAudio(chunk []byte) error
	Close() error
	State() channels.State
}

// resettableChannel is implemented by channels that keep buffered audio
// across sessions until told otherwise.
type resettableChannel interface {
	Reset()
}

func WithTranscriptChannel(channel TranscriptChannel) SessionOption {
	return func(s *Session) {
		s.transcript = channel
	}
}

type SpeechChannel interface {
	Connect(ctx context.Context, opts ...synthesis.SpeechOption) error
	SendText(text string, params synthesis.Params) error
	Close() error
	State() channels.State
}

func WithSpeechChannel(channel SpeechChannel) SessionOption {
	return func(s *Session) {
		s.speech = channel
	}
}

type ChatClient interface {
	SendMessage(ctx context.Context, userID, message string) (string, error)
}

func WithChatClient(client ChatClient) SessionOption {
	return func(s *Session) {
		s.chat = client
	}
}

func WithUserID(userID string) SessionOption {
	return func(s *Session) {
		s.userID = userID
	}
}

func WithSynthesisParams(params synthesis.Params) SessionOption {
	return func(s *Session) {
		s.params = params
	}
}

// WithQuietPeriod sets how long transcript activity must pause before the
// accumulated utterance is sent. Non-positive values keep the default.
func WithQuietPeriod(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.quietPeriod = d
		}
	}
}

// WithConnectTimeout bounds how long StartSession waits for both channels.
func WithConnectTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// Callbacks are invoked from pipeline goroutines. They must not call
// StartSession or StopSession synchronously.
type callbacks struct {
	onStatusChanged   func(status SessionStatus)
	onTranscript      func(fragment string)
	onTurnCompleted   func(turn ConversationTurn)
	onError           func(message string)
	onSpeakingChanged func(speaking bool)
}

func WithStatusCallback(callback func(status SessionStatus)) SessionOption {
	return func(s *Session) {
		s.callbacks.onStatusChanged = callback
	}
}

// WithTranscriptCallback is called with every non-blank fragment as it
// arrives.
func WithTranscriptCallback(callback func(fragment string)) SessionOption {
	return func(s *Session) {
		s.callbacks.onTranscript = callback
	}
}

func WithTurnCallback(callback func(turn ConversationTurn)) SessionOption {
	return func(s *Session) {
		s.callbacks.onTurnCompleted = callback
	}
}

func WithErrorCallback(callback func(message string)) SessionOption {
	return func(s *Session) {
		s.callbacks.onError = callback
	}
}

func WithSpeakingStateChangedCallback(callback func(speaking bool)) SessionOption {
	return func(s *Session) {
		s.callbacks.onSpeakingChanged = callback
	}
}
