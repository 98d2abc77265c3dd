// Package deepgram provides a Transcript Channel that talks to Deepgram's
// live listen endpoint directly instead of going through the backend.
package deepgram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/auriter/voicecore/core/audio"
	"github.com/auriter/voicecore/core/transcription"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	listenURL = "wss://api.deepgram.com/v1/listen"

	typeErrorResponse = "Error"
)

var logger = otelslog.NewLogger("github.com/auriter/voicecore/core/transcription/deepgram")

type Options struct {
	// APIKey falls back to DEEPGRAM_API_KEY when empty.
	APIKey   string
	Model    string
	Language string
	Encoding audio.EncodingInfo
	// Endpoint overrides the listen URL, mostly for tests.
	Endpoint string
}

// NewTranscriptionChannel returns a Transcript Channel whose frames are
// Deepgram listen results. Only final segments are reported as transcripts.
func NewTranscriptionChannel(options Options, opts ...transcription.ChannelOption) (*transcription.Channel, error) {
	apiKey := options.APIKey
	if apiKey == "" {
		var ok bool
		if apiKey, ok = os.LookupEnv("DEEPGRAM_API_KEY"); !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
	}
	if options.Model == "" {
		options.Model = "nova-3"
	}
	if options.Language == "" {
		options.Language = "en-US"
	}
	if options.Encoding.IsZero() {
		options.Encoding = audio.GetDefaultEncodingInfo()
	}
	if options.Endpoint == "" {
		options.Endpoint = listenURL
	}
	if err := validateEncoding(options.Encoding); err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	query := url.Values{}
	query.Set("channels", "1")
	query.Set("model", options.Model)
	query.Set("language", options.Language)
	query.Set("smart_format", "true")
	query.Set("endpointing", "300")

	channelOpts := []transcription.ChannelOption{
		transcription.WithHeader(http.Header{"Authorization": {"Token " + apiKey}}),
		transcription.WithQuery(query),
		transcription.WithMessageDecoder(decodeMessage),
	}
	return transcription.NewChannel(options.Endpoint, append(channelOpts, opts...)...), nil
}

func decodeMessage(msg []byte, options transcription.TranscriptionOptions) {
	var parsedMsg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram message", "error", err)
			return
		}
		if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) > 0 {
			options.TranscriptCallback(transcript)
		}
	case typeErrorResponse:
		options.ErrorCallback(parsedMsg.Description)
	default:
		logger.Debug("ignoring deepgram message", "type", parsedMsg.Type)
	}
}
