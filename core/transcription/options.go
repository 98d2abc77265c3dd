package transcription

import "github.com/auriter/voicecore/core/audio"

type TranscriptionOptions struct {
	// TranscriptCallback receives every transcript fragment the service sends.
	TranscriptCallback func(transcript string)
	// ErrorCallback receives service error frames and connection loss. The
	// channel stays as it is after an error frame.
	ErrorCallback func(message string)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptCallback = callback
	}
}

func WithErrorCallback(callback func(message string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

func newTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		TranscriptCallback: func(string) {},
		ErrorCallback:      func(string) {},
		EncodingInfo:       audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.TranscriptCallback == nil {
		options.TranscriptCallback = func(string) {}
	}
	if options.ErrorCallback == nil {
		options.ErrorCallback = func(string) {}
	}
	return options
}
