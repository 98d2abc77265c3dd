package synthesis

// Params are the synthesis parameters sent alongside every reply.
type Params struct {
	// Voice is the speaker identity.
	Voice string `json:"voice" yaml:"voice"`
	// Model is the synthesis model id.
	Model string `json:"model" yaml:"model"`
	// Format is the output codec.
	Format string `json:"format" yaml:"format"`
	// Language is a BCP-47 tag.
	Language string `json:"language" yaml:"language"`
	// SampleRate is the output rate in Hz.
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	// Conversational selects the conversational speaking style.
	Conversational bool `json:"conversational" yaml:"conversational"`
}

func DefaultParams() Params {
	return Params{
		Voice:          "lily",
		Model:          "aurora",
		Format:         "raw",
		Language:       "en",
		SampleRate:     24000,
		Conversational: true,
	}
}

type SpeechOptions struct {
	// SpeechAudioCallback receives binary audio frames in arrival order.
	SpeechAudioCallback func(frame []byte)
	// ErrorCallback receives service error frames and connection loss.
	ErrorCallback func(message string)
}

type SpeechOption func(*SpeechOptions)

func WithSpeechAudioCallback(callback func(frame []byte)) SpeechOption {
	return func(o *SpeechOptions) { o.SpeechAudioCallback = callback }
}

func WithErrorCallback(callback func(message string)) SpeechOption {
	return func(o *SpeechOptions) { o.ErrorCallback = callback }
}

func newSpeechOptions(opts ...SpeechOption) SpeechOptions {
	options := SpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.SpeechAudioCallback == nil {
		options.SpeechAudioCallback = func([]byte) {}
	}
	if options.ErrorCallback == nil {
		options.ErrorCallback = func(string) {}
	}
	return options
}
