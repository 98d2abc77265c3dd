package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/gordonklaus/portaudio"
)

type Config struct {
	CaptureSampleRate  int
	ChunkInterval      time.Duration
	PlaybackSampleRate int
	// BufferSize is the number of samples per device read/write.
	BufferSize int
}

type Client struct {
	config Config

	mu          sync.Mutex
	inStream    *portaudio.Stream
	in          []int16
	stopCapture context.CancelFunc
	captureDone chan struct{}

	outMu     sync.Mutex
	outStream *portaudio.Stream
	out       []int16
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.CaptureSampleRate == 0 {
		cfg.CaptureSampleRate = audio.DefaultSampleRate
	}
	if cfg.PlaybackSampleRate == 0 {
		cfg.PlaybackSampleRate = 24000
	}
	if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	out := make([]int16, cfg.BufferSize)
	outStream, err := portaudio.OpenDefaultStream(0, 1, float64(cfg.PlaybackSampleRate), cfg.BufferSize, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio output stream: %w", err)
	}
	if err := outStream.Start(); err != nil {
		_ = outStream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio output stream: %w", err)
	}

	return &Client{config: cfg, outStream: outStream, out: out}, nil
}

func (c *Client) Start(ctx context.Context, onChunk func(chunk []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCapture != nil {
		return nil
	}

	in := make([]int16, c.config.BufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.config.CaptureSampleRate), c.config.BufferSize, in)
	if err != nil {
		return fmt.Errorf("failed to open portaudio input stream: %w", errors.Join(audio.ErrPermissionDenied, err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start portaudio input stream: %w", errors.Join(audio.ErrPermissionDenied, err))
	}

	encoding := c.EncodingInfo()
	chunker := audio.NewChunker(encoding.BytesFor(c.config.ChunkInterval), onChunk)

	captureCtx, cancel := context.WithCancel(ctx)
	c.inStream = stream
	c.in = in
	c.stopCapture = cancel
	c.captureDone = make(chan struct{})

	go c.readLoop(captureCtx, stream, in, chunker, c.captureDone)
	return nil
}

func (c *Client) readLoop(ctx context.Context, stream *portaudio.Stream, in []int16, chunker *audio.Chunker, done chan struct{}) {
	defer close(done)
	// The tail of the recording is shorter than a chunk but still speech.
	defer chunker.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			logger.Warn("failed to read from portaudio stream", "error", err)
			continue
		}

		audioBuffer := bytes.Buffer{}
		_ = binary.Write(&audioBuffer, binary.LittleEndian, in)
		chunker.Write(audioBuffer.Bytes())
	}
}

// Stop halts capture and closes the input stream. Safe to call repeatedly.
func (c *Client) Stop() error {
	c.mu.Lock()
	cancel, done, stream := c.stopCapture, c.captureDone, c.inStream
	c.stopCapture, c.captureDone, c.inStream = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	var errs error
	if err := stream.Stop(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := stream.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

// Play writes frame to the output stream, returning once the last block has
// been accepted by the device.
func (c *Client) Play(ctx context.Context, frame []byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.outStream == nil {
		return fmt.Errorf("output stream closed")
	}

	blockSize := c.config.BufferSize * 2
	for offset := 0; offset < len(frame); offset += blockSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		block := make([]byte, blockSize)
		copy(block, frame[offset:min(offset+blockSize, len(frame))])
		if err := binary.Read(bytes.NewReader(block), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode audio block: %w", err)
		}
		if err := c.outStream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}
	return nil
}

func (c *Client) Close() {
	_ = c.Stop()

	c.outMu.Lock()
	if c.outStream != nil {
		_ = c.outStream.Stop()
		_ = c.outStream.Close()
		c.outStream = nil
	}
	c.outMu.Unlock()

	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.config.CaptureSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
