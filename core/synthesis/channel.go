// Package synthesis sends assistant replies to the speech-synthesis service
// and hands back the audio frames it streams in return.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/auriter/voicecore/core/channels"
	"github.com/gorilla/websocket"
)

// ConnectionLostMessage is reported through the error callback when the
// service drops the stream without an orderly close.
const ConnectionLostMessage = "speech connection lost"

type speakRequest struct {
	Text string `json:"text"`
	Params
}

// Channel is a persistent duplex stream to the speech-synthesis endpoint.
type Channel struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer

	mu    sync.Mutex
	state channels.State
	conn  *websocket.Conn
}

type ChannelOption func(*Channel)

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

func NewChannel(endpoint string, opts ...ChannelOption) *Channel {
	c := &Channel{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		state:    channels.StateDisconnected,
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

// Connect opens the stream and returns once it is ready.
func (c *Channel) Connect(ctx context.Context, opts ...SpeechOption) error {
	options := newSpeechOptions(opts...)

	c.mu.Lock()
	if !c.state.CanConnect() {
		c.mu.Unlock()
		return channels.ErrAlreadyConnected
	}
	c.state = channels.StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
	if err != nil {
		c.mu.Lock()
		c.state = channels.StateErrored
		c.mu.Unlock()
		return fmt.Errorf("failed to open speech stream: %w", err)
	}

	c.mu.Lock()
	if c.state != channels.StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return channels.ErrClosed
	}
	c.conn = conn
	c.state = channels.StateOpen
	c.mu.Unlock()

	go c.readAndProcessMessages(conn, options)
	return nil
}

// SendText asks for text to be spoken with params. When the stream is not
// open nothing is sent and ErrNotOpen is returned; no audio will follow.
func (c *Channel) SendText(text string, params Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != channels.StateOpen {
		logger.Warn("not sending text, speech stream not open", "state", c.state.String())
		return channels.ErrNotOpen
	}

	if err := c.conn.WriteJSON(speakRequest{Text: text, Params: params}); err != nil {
		return fmt.Errorf("failed to write to speech stream: %w", err)
	}
	return nil
}

// Close releases the stream. Safe to call multiple times.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
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
		return fmt.Errorf("failed to close speech stream: %w", err)
	}
	return nil
}

func (c *Channel) readAndProcessMessages(conn *websocket.Conn, options SpeechOptions) {
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
					logger.Warn("speech stream read failed", "error", err)
				}
				options.ErrorCallback(ConnectionLostMessage)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg channels.ControlMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Warn("failed to unmarshal speech message", "error", err)
				continue
			}
			if parsedMsg.Type == channels.MessageTypeError {
				options.ErrorCallback(parsedMsg.Error)
			}
		}
	}
}
