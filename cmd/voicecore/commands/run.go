package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	orchestration "github.com/auriter/voicecore/core"
	"github.com/auriter/voicecore/core/audio"
	"github.com/auriter/voicecore/core/audio/miniaudio"
	"github.com/auriter/voicecore/core/audio/portaudio"
	"github.com/auriter/voicecore/core/chat"
	"github.com/auriter/voicecore/core/synthesis"
	"github.com/auriter/voicecore/core/transcription"
	"github.com/auriter/voicecore/core/transcription/deepgram"
	"github.com/auriter/voicecore/internal/config"
	"github.com/auriter/voicecore/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the voice conversation UI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return run(ctx, cfg)
	},
}

type audioDevice interface {
	orchestration.AudioInputWithEncoding
	orchestration.AudioOutput
	Close()
}

func newAudioDevice(cfg config.Config) (audioDevice, error) {
	switch cfg.Audio.Backend {
	case config.BackendPortaudio:
		client, err := portaudio.NewClient(portaudio.Config{
			CaptureSampleRate:  cfg.Capture.SampleRate,
			ChunkInterval:      cfg.Capture.ChunkInterval.Std(),
			PlaybackSampleRate: cfg.Voice.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient(miniaudio.Config{
			CaptureSampleRate:  cfg.Capture.SampleRate,
			ChunkInterval:      cfg.Capture.ChunkInterval.Std(),
			PlaybackSampleRate: cfg.Voice.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func newTranscriptChannel(cfg config.Config, encoding audio.EncodingInfo) (*transcription.Channel, error) {
	if cfg.Transcription.Provider == config.ProviderDeepgram {
		return deepgram.NewTranscriptionChannel(deepgram.Options{
			APIKey:   cfg.Transcription.DeepgramAPIKey,
			Encoding: encoding,
		})
	}
	return transcription.NewChannel(cfg.Transcription.URL), nil
}

func run(ctx context.Context, cfg config.Config) error {
	device, err := newAudioDevice(cfg)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer device.Close()

	transcript, err := newTranscriptChannel(cfg, device.EncodingInfo())
	if err != nil {
		return fmt.Errorf("failed to create transcription channel: %w", err)
	}
	params, err := cfg.SynthesisParams()
	if err != nil {
		return err
	}

	feed := tui.NewFeed(128)
	opts := []orchestration.SessionOption{
		orchestration.WithAudioInput(device),
		orchestration.WithAudioOutput(device),
		orchestration.WithTranscriptChannel(transcript),
		orchestration.WithSpeechChannel(synthesis.NewChannel(cfg.Speech.URL)),
		orchestration.WithChatClient(chat.NewClient(cfg.Chat.URL, chat.WithTimeout(cfg.Chat.Timeout.Std()))),
		orchestration.WithUserID(cfg.Session.UserID),
		orchestration.WithSynthesisParams(params),
		orchestration.WithQuietPeriod(cfg.Session.QuietPeriod.Std()),
		orchestration.WithConnectTimeout(cfg.Session.ConnectTimeout.Std()),
	}
	session := orchestration.NewSession(append(opts, feed.SessionOptions()...)...)
	defer session.Close()

	program := tea.NewProgram(tui.NewModel(ctx, session, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ui failed: %w", err)
	}
	return nil
}
