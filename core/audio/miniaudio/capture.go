package miniaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/gen2brain/malgo"
)

type captureClient struct {
	audioContext  *malgo.AllocatedContext
	device        *malgo.Device
	sampleRate    int
	chunkInterval time.Duration

	chunker *audio.Chunker

	mu sync.Mutex
}

func (c *captureClient) init() error {
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(c.sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	device, err := malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}

			c.mu.Lock()
			chunker := c.chunker
			c.mu.Unlock()
			if chunker != nil {
				chunker.Write(pInput[:n])
			}
		},
	})
	if err != nil {
		// malgo does not distinguish a refused device from a missing one.
		return fmt.Errorf("failed to initialize capture device: %w", errors.Join(audio.ErrPermissionDenied, err))
	}

	c.device = device
	return nil
}

func (c *captureClient) Start(onChunk func(chunk []byte)) error {
	c.mu.Lock()
	if c.audioContext == nil {
		c.mu.Unlock()
		return fmt.Errorf("audio context not initialized")
	}

	if c.device == nil {
		if err := c.init(); err != nil {
			c.mu.Unlock()
			return err
		}
	} else if c.device.IsStarted() {
		c.mu.Unlock()
		return nil
	}

	encoding := audio.EncodingInfo{SampleRate: c.sampleRate, Format: audio.EncodingLinear16}
	c.chunker = audio.NewChunker(encoding.BytesFor(c.chunkInterval), onChunk)
	device := c.device
	c.mu.Unlock()

	// The data callback takes mu, so the device is started without it.
	if err := device.Start(); err != nil {
		c.mu.Lock()
		c.chunker = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture device: %w", errors.Join(audio.ErrPermissionDenied, err))
	}

	return nil
}

// Stop stops and releases the capture device so the microphone is free
// until the next Start, then emits any partially filled chunk.
func (c *captureClient) Stop() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.mu.Unlock()

	var err error
	if device != nil {
		if device.IsStarted() {
			if stopErr := device.Stop(); stopErr != nil {
				err = fmt.Errorf("failed to stop device: %w", stopErr)
			}
		}
		device.Uninit()
	}

	// The data callback can no longer run, so the chunker has no writers.
	c.mu.Lock()
	chunker := c.chunker
	c.chunker = nil
	c.mu.Unlock()
	if chunker != nil {
		chunker.Flush()
	}
	return err
}

func (c *captureClient) Uninit() error {
	return c.Stop()
}
