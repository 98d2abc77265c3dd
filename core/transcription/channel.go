// Package transcription streams captured audio to the transcription service
// and reports the transcript fragments it sends back.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/auriter/voicecore/core/channels"
	"github.com/gorilla/websocket"
)

const defaultMaxPendingChunks = 64

// ConnectionLostMessage is reported through the error callback when the
// service drops the stream without an orderly close.
const ConnectionLostMessage = "transcription connection lost"

// Channel is a persistent duplex stream to the transcription endpoint.
//
// Audio sent while the channel is disconnected or still connecting is held
// back and flushed, in order, as soon as the stream opens. Audio sent after
// Close is dropped.
type Channel struct {
	endpoint   string
	header     http.Header
	dialer     *websocket.Dialer
	maxPending int
	decode     MessageDecoder

	mu      sync.Mutex
	state   channels.State
	conn    *websocket.Conn
	pending [][]byte
}

type ChannelOption func(*Channel)

// MessageDecoder turns one text frame from the service into callback calls.
type MessageDecoder func(msg []byte, options TranscriptionOptions)

// WithMessageDecoder replaces the default {type, data, error} frame decoding
// for services that speak a different wire format.
func WithMessageDecoder(decode MessageDecoder) ChannelOption {
	return func(c *Channel) {
		if decode != nil {
			c.decode = decode
		}
	}
}

// WithQuery adds fixed query parameters to the endpoint.
func WithQuery(values url.Values) ChannelOption {
	return func(c *Channel) {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return
		}
		query := u.Query()
		for key, vals := range values {
			for _, v := range vals {
				query.Add(key, v)
			}
		}
		u.RawQuery = query.Encode()
		c.endpoint = u.String()
	}
}

func WithHeader(header http.Header) ChannelOption {
	return func(c *Channel) { c.header = header.Clone() }
}

func WithDialer(dialer *websocket.Dialer) ChannelOption {
	return func(c *Channel) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithMaxPendingChunks bounds how many chunks are held back before the
// stream opens. The oldest chunk is dropped when the bound is exceeded.
func WithMaxPendingChunks(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

func NewChannel(endpoint string, opts ...ChannelOption) *Channel {
	c := &Channel{
		endpoint:   endpoint,
		dialer:     websocket.DefaultDialer,
		maxPending: defaultMaxPendingChunks,
		decode:     DecodeMessage,
		state:      channels.StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() channels.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns a closed or errored channel to Disconnected so audio sent
// ahead of the next Connect is buffered instead of dropped.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == channels.StateClosed || c.state == channels.StateErrored {
		c.state = channels.StateDisconnected
		c.pending = nil
	}
}

// Connect opens the stream and returns once it is ready, after any audio
// buffered so far has been flushed.
func (c *Channel) Connect(ctx context.Context, opts ...TranscriptionOption) error {
	options := newTranscriptionOptions(opts...)

	c.mu.Lock()
	if !c.state.CanConnect() {
		c.mu.Unlock()
		return channels.ErrAlreadyConnected
	}
	if c.state != channels.StateDisconnected {
		c.pending = nil
	}
	c.state = channels.StateConnecting
	c.mu.Unlock()

	endpoint, err := c.endpointURL(options)
	if err != nil {
		c.setState(channels.StateErrored)
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, c.header)
	if err != nil {
		c.setState(channels.StateErrored)
		return fmt.Errorf("failed to open transcription stream: %w", err)
	}

	c.mu.Lock()
	if c.state != channels.StateConnecting {
		// Closed while dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return channels.ErrClosed
	}

	for len(c.pending) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, c.pending[0]); err != nil {
			c.state = channels.StateErrored
			c.pending = nil
			c.mu.Unlock()
			_ = conn.Close()
			return fmt.Errorf("failed to flush buffered audio: %w", err)
		}
		c.pending = c.pending[1:]
	}
	c.pending = nil
	c.conn = conn
	c.state = channels.StateOpen
	c.mu.Unlock()

	go c.readAndProcessMessages(conn, options)
	return nil
}

func (c *Channel) endpointURL(options TranscriptionOptions) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid transcription endpoint: %w", err)
	}

	query := u.Query()
	query.Set("encoding", options.EncodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// SendAudio forwards a captured chunk. It never fails the caller: audio that
// cannot be delivered is logged and dropped.
func (c *Channel) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case channels.StateDisconnected, channels.StateConnecting:
		c.pending = append(c.pending, chunk)
		if len(c.pending) > c.maxPending {
			logger.Warn("transcription buffer full, dropping oldest chunk", "limit", c.maxPending)
			c.pending = c.pending[1:]
		}
		return nil
	case channels.StateOpen:
		if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			logger.Warn("failed to send audio to transcription stream", "error", err)
		}
		return nil
	default:
		logger.Warn("dropping audio, transcription stream not open", "state", c.state.String())
		return nil
	}
}

// Close releases the stream. Safe to call multiple times.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.pending = nil
	if c.state != channels.StateDisconnected {
		c.state = channels.StateClosed
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close transcription stream: %w", err)
	}
	return nil
}

func (c *Channel) setState(state channels.State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Channel) readAndProcessMessages(conn *websocket.Conn, options TranscriptionOptions) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				c.state = channels.StateErrored
			}
			c.mu.Unlock()

			if current {
				_ = conn.Close()
				if !channels.IsNormalClosure(err) {
					logger.Warn("transcription stream read failed", "error", err)
				}
				options.ErrorCallback(ConnectionLostMessage)
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}
		c.decode(msg, options)
	}
}

// DecodeMessage handles the {type: "transcript", data} and
// {type: "error", error} frames of the transcription backend.
func DecodeMessage(msg []byte, options TranscriptionOptions) {
	var parsedMsg channels.ControlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal transcription message", "error", err)
		return
	}

	switch parsedMsg.Type {
	case channels.MessageTypeTranscript:
		if strings.TrimSpace(parsedMsg.Data) == "" {
			return
		}
		options.TranscriptCallback(parsedMsg.Data)
	case channels.MessageTypeError:
		options.ErrorCallback(parsedMsg.Error)
	default:
		logger.Debug("ignoring transcription message", "type", parsedMsg.Type)
	}
}
