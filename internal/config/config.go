package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/auriter/voicecore/core/synthesis"
	"github.com/auriter/voicecore/internal/utils"
	"github.com/goccy/go-yaml"
	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
)

const envPrefix = "VOICECORE_"

const (
	ProviderBackend  = "backend"
	ProviderDeepgram = "deepgram"

	BackendMiniaudio = "miniaudio"
	BackendPortaudio = "portaudio"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Transcription TranscriptionConfig `yaml:"transcription"`
	Speech        SpeechConfig        `yaml:"speech"`
	Chat          ChatConfig          `yaml:"chat"`
	Session       SessionConfig       `yaml:"session"`
	Capture       CaptureConfig       `yaml:"capture"`
	Audio         AudioConfig         `yaml:"audio"`
	Voice         VoiceConfig         `yaml:"voice"`
}

type TranscriptionConfig struct {
	// URL is the websocket endpoint of the transcription backend.
	URL      string `yaml:"url" jsonschema:"format=uri"`
	Provider string `yaml:"provider" jsonschema:"enum=backend,enum=deepgram,default=backend"`
	// DeepgramAPIKey is only used by the deepgram provider. DEEPGRAM_API_KEY
	// is used when empty.
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
}

type SpeechConfig struct {
	URL string `yaml:"url" jsonschema:"format=uri"`
}

type ChatConfig struct {
	URL     string   `yaml:"url" jsonschema:"format=uri"`
	Timeout Duration `yaml:"timeout"`
}

type SessionConfig struct {
	// UserID identifies the caller to the chat endpoint. A random id is
	// used when empty.
	UserID         string   `yaml:"user_id"`
	QuietPeriod    Duration `yaml:"quiet_period"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

type CaptureConfig struct {
	ChunkInterval Duration `yaml:"chunk_interval"`
	SampleRate    int      `yaml:"sample_rate" jsonschema:"minimum=8000"`
}

type AudioConfig struct {
	Backend string `yaml:"backend" jsonschema:"enum=miniaudio,enum=portaudio,default=miniaudio"`
}

type VoiceConfig struct {
	Voice          string `yaml:"voice"`
	Model          string `yaml:"model"`
	Format         string `yaml:"format"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate" jsonschema:"minimum=8000"`
	Conversational bool   `yaml:"conversational"`
}

func Default() Config {
	params := synthesis.DefaultParams()
	return Config{
		Transcription: TranscriptionConfig{Provider: ProviderBackend},
		Chat:          ChatConfig{Timeout: Duration(30 * time.Second)},
		Session: SessionConfig{
			QuietPeriod:    Duration(2 * time.Second),
			ConnectTimeout: Duration(10 * time.Second),
		},
		Capture: CaptureConfig{ChunkInterval: Duration(time.Second), SampleRate: 16000},
		Audio:   AudioConfig{Backend: BackendMiniaudio},
		Voice: VoiceConfig{
			Voice:          params.Voice,
			Model:          params.Model,
			Format:         params.Format,
			Language:       params.Language,
			SampleRate:     params.SampleRate,
			Conversational: params.Conversational,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), a .env file in the working directory and VOICECORE_* variables,
// in that order. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	texts := map[string]*string{
		"TRANSCRIPTION_URL":              &c.Transcription.URL,
		"TRANSCRIPTION_PROVIDER":         &c.Transcription.Provider,
		"TRANSCRIPTION_DEEPGRAM_API_KEY": &c.Transcription.DeepgramAPIKey,
		"SPEECH_URL":                     &c.Speech.URL,
		"CHAT_URL":                       &c.Chat.URL,
		"SESSION_USER_ID":                &c.Session.UserID,
		"AUDIO_BACKEND":                  &c.Audio.Backend,
		"VOICE_VOICE":                    &c.Voice.Voice,
		"VOICE_MODEL":                    &c.Voice.Model,
		"VOICE_FORMAT":                   &c.Voice.Format,
		"VOICE_LANGUAGE":                 &c.Voice.Language,
	}
	for name, field := range texts {
		if value := getenv(envPrefix + name); value != "" {
			*field = value
		}
	}

	durations := map[string]*Duration{
		"CHAT_TIMEOUT":            &c.Chat.Timeout,
		"SESSION_QUIET_PERIOD":    &c.Session.QuietPeriod,
		"SESSION_CONNECT_TIMEOUT": &c.Session.ConnectTimeout,
		"CAPTURE_CHUNK_INTERVAL":  &c.Capture.ChunkInterval,
	}
	for name, field := range durations {
		value, err := envDuration(getenv, envPrefix+name)
		if err != nil {
			return err
		}
		if value != nil {
			*field = *value
		}
	}

	ints := map[string]*int{
		"CAPTURE_SAMPLE_RATE": &c.Capture.SampleRate,
		"VOICE_SAMPLE_RATE":   &c.Voice.SampleRate,
	}
	for name, field := range ints {
		value, err := envInt(getenv, envPrefix+name)
		if err != nil {
			return err
		}
		if value != nil {
			*field = *value
		}
	}

	conversational, err := envBool(getenv, envPrefix+"VOICE_CONVERSATIONAL")
	if err != nil {
		return err
	}
	if conversational != nil {
		c.Voice.Conversational = *conversational
	}
	return nil
}

func envDuration(getenv func(string) string, name string) (*Duration, error) {
	value := getenv(name)
	if value == "" {
		return nil, nil
	}
	var d Duration
	if err := d.UnmarshalText([]byte(value)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
	}
	return &d, nil
}

func envInt(getenv func(string) string, name string) (*int, error) {
	value := getenv(name)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
	}
	return utils.Ptr(n), nil
}

func envBool(getenv func(string) string, name string) (*bool, error) {
	value := getenv(name)
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
	}
	return utils.Ptr(b), nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Transcription.Provider != ProviderBackend && c.Transcription.Provider != ProviderDeepgram {
		errs = append(errs, fmt.Errorf("transcription.provider: unknown provider %q", c.Transcription.Provider))
	}
	if c.Transcription.Provider == ProviderBackend {
		errs = append(errs, validateURL("transcription.url", c.Transcription.URL, "ws", "wss"))
	}
	errs = append(errs,
		validateURL("speech.url", c.Speech.URL, "ws", "wss"),
		validateURL("chat.url", c.Chat.URL, "http", "https"),
		validatePositive("chat.timeout", c.Chat.Timeout),
		validatePositive("session.quiet_period", c.Session.QuietPeriod),
		validatePositive("session.connect_timeout", c.Session.ConnectTimeout),
		validatePositive("capture.chunk_interval", c.Capture.ChunkInterval),
	)
	if c.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate: must be positive, got %d", c.Capture.SampleRate))
	}
	if c.Voice.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate: must be positive, got %d", c.Voice.SampleRate))
	}
	if c.Audio.Backend != BackendMiniaudio && c.Audio.Backend != BackendPortaudio {
		errs = append(errs, fmt.Errorf("audio.backend: unknown backend %q", c.Audio.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s: required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("%s: scheme must be one of %v, got %q", field, schemes, u.Scheme)
}

func validatePositive(field string, d Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", field, d)
	}
	return nil
}

// SynthesisParams returns the voice section as the parameters sent with
// every synthesis request.
func (c Config) SynthesisParams() (synthesis.Params, error) {
	var params synthesis.Params
	if err := copier.Copy(&params, &c.Voice); err != nil {
		return synthesis.Params{}, fmt.Errorf("failed to copy voice parameters: %w", err)
	}
	return params, nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	if c.Transcription.DeepgramAPIKey != "" {
		c.Transcription.DeepgramAPIKey = "***"
	}
	return c
}

// YAML renders the configuration the way Load reads it.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
