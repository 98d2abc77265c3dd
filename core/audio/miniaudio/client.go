package miniaudio

import (
	"context"
	"fmt"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/gen2brain/malgo"
)

const defaultPlaybackSampleRate = 24000

type Config struct {
	// CaptureSampleRate is the microphone sample rate, linear16 mono.
	CaptureSampleRate int
	// ChunkInterval is how much audio each emitted capture chunk covers.
	ChunkInterval time.Duration
	// PlaybackSampleRate must match the synthesis sample rate.
	PlaybackSampleRate int
}

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.CaptureSampleRate == 0 {
		cfg.CaptureSampleRate = audio.DefaultSampleRate
	}
	if cfg.PlaybackSampleRate == 0 {
		cfg.PlaybackSampleRate = defaultPlaybackSampleRate
	}
	if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = time.Second
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}
	client.captureClient.audioContext = audioCtx
	client.captureClient.sampleRate = cfg.CaptureSampleRate
	client.captureClient.chunkInterval = cfg.ChunkInterval

	if err := client.playbackClient.Init(audioCtx, cfg.PlaybackSampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return &client, nil
}

// Start acquires the microphone and begins emitting fixed-interval chunks.
func (c *Client) Start(_ context.Context, onChunk func(chunk []byte)) error {
	return c.captureClient.Start(onChunk)
}

// Stop releases the microphone, emitting any partially filled chunk first.
// Safe to call when capture never started.
func (c *Client) Stop() error {
	return c.captureClient.Stop()
}

// Play blocks until frame has been handed to the output device in full.
func (c *Client) Play(ctx context.Context, frame []byte) error {
	return c.playbackClient.Play(ctx, frame)
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.captureClient.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
