// Package chat talks to the conversational backend's chat endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultTimeout = 30 * time.Second

var (
	ErrUnexpectedStatus = errors.New("unexpected chat status")
	ErrMalformedReply   = errors.New("malformed chat reply")
)

type requestBody struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type responseBody struct {
	Message *string `json:"message"`
}

type Client struct {
	endpoint   string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default client. Its transport is
// used as is.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "chat " + r.Method
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage posts one user utterance and returns the assistant reply text.
// Non-2xx statuses and bodies without a message are errors; nothing is
// retried.
func (c *Client) SendMessage(ctx context.Context, userID, message string) (string, error) {
	ctx, span := tracer.Start(ctx, "send chat message")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.message.length", len(message)))

	reply, err := c.sendMessage(ctx, userID, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}

func (c *Client) sendMessage(ctx context.Context, userID, message string) (string, error) {
	requestBodyBytes, err := json.Marshal(requestBody{UserID: userID, Message: message})
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("error closing response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body responseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	if body.Message == nil {
		return "", fmt.Errorf("%w: missing message", ErrMalformedReply)
	}
	if strings.TrimSpace(*body.Message) == "" {
		return "", fmt.Errorf("%w: empty message", ErrMalformedReply)
	}

	return *body.Message, nil
}
