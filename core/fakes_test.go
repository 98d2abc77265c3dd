package orchestration

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auriter/voicecore/core/channels"
	"github.com/auriter/voicecore/core/synthesis"
	"github.com/auriter/voicecore/core/transcription"
)

type fakeAudioInput struct {
	mu       sync.Mutex
	startErr error
	onChunk  func([]byte)
	starts   int
	stops    int
}

func (f *fakeAudioInput) Start(_ context.Context, onChunk func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.onChunk = onChunk
	return nil
}

func (f *fakeAudioInput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onChunk = nil
	return nil
}

func (f *fakeAudioInput) emit(chunk []byte) {
	f.mu.Lock()
	onChunk := f.onChunk
	f.mu.Unlock()
	if onChunk != nil {
		onChunk(chunk)
	}
}

type fakeTranscriptChannel struct {
	mu         sync.Mutex
	state      channels.State
	connectErr error
	// block makes Connect wait for ctx.
	block    bool
	options  transcription.TranscriptionOptions
	sent     [][]byte
	connects int
	closes   int
	resets   int
}

func (f *fakeTranscriptChannel) Connect(ctx context.Context, opts ...transcription.TranscriptionOption) error {
	f.mu.Lock()
	f.connects++
	f.state = channels.StateConnecting
	block, connectErr := f.block, f.connectErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		f.mu.Lock()
		f.state = channels.StateErrored
		f.mu.Unlock()
		return ctx.Err()
	}
	if connectErr != nil {
		f.mu.Lock()
		f.state = channels.StateErrored
		f.mu.Unlock()
		return connectErr
	}

	options := transcription.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	f.mu.Lock()
	f.options = options
	f.state = channels.StateOpen
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscriptChannel) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeTranscriptChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.state != channels.StateDisconnected {
		f.state = channels.StateClosed
	}
	return nil
}

func (f *fakeTranscriptChannel) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = channels.StateDisconnected
}

func (f *fakeTranscriptChannel) State() channels.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTranscriptChannel) transcript(text string) {
	f.mu.Lock()
	callback := f.options.TranscriptCallback
	f.mu.Unlock()
	if callback != nil {
		callback(text)
	}
}

func (f *fakeTranscriptChannel) fail(message string) {
	f.mu.Lock()
	callback := f.options.ErrorCallback
	f.mu.Unlock()
	if callback != nil {
		callback(message)
	}
}

type sentSpeech struct {
	text   string
	params synthesis.Params
}

type fakeSpeechChannel struct {
	mu         sync.Mutex
	state      channels.State
	connectErr error
	options    synthesis.SpeechOptions
	sent       []sentSpeech
	closes     int
}

func (f *fakeSpeechChannel) Connect(_ context.Context, opts ...synthesis.SpeechOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		f.state = channels.StateErrored
		return f.connectErr
	}
	options := synthesis.SpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	f.options = options
	f.state = channels.StateOpen
	return nil
}

func (f *fakeSpeechChannel) SendText(text string, params synthesis.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != channels.StateOpen {
		return channels.ErrNotOpen
	}
	f.sent = append(f.sent, sentSpeech{text: text, params: params})
	return nil
}

func (f *fakeSpeechChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.state != channels.StateDisconnected {
		f.state = channels.StateClosed
	}
	return nil
}

func (f *fakeSpeechChannel) State() channels.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSpeechChannel) sentTexts() []sentSpeech {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSpeech(nil), f.sent...)
}

func (f *fakeSpeechChannel) audio(frame []byte) {
	f.mu.Lock()
	callback := f.options.SpeechAudioCallback
	f.mu.Unlock()
	if callback != nil {
		callback(frame)
	}
}

func (f *fakeSpeechChannel) fail(message string) {
	f.mu.Lock()
	callback := f.options.ErrorCallback
	f.mu.Unlock()
	if callback != nil {
		callback(message)
	}
}

type chatCall struct {
	userID  string
	message string
}

type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	reply func(ctx context.Context, message string) (string, error)
}

func (f *fakeChat) SendMessage(ctx context.Context, userID, message string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{userID: userID, message: message})
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "ok", nil
	}
	return reply(ctx, message)
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChat) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	messages := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		messages = append(messages, call.message)
	}
	return messages
}

type fakeOutput struct {
	mu       sync.Mutex
	delay    time.Duration
	failOn   []byte
	played   [][]byte
	active   int
	maxAlive int
}

func (f *fakeOutput) Play(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxAlive {
		f.maxAlive = f.active
	}
	delay, failOn := f.delay, f.failOn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if failOn != nil && bytes.Equal(frame, failOn) {
		return context.DeadlineExceeded
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	f.mu.Lock()
	f.played = append(f.played, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) playedFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.played...)
}

func (f *fakeOutput) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxAlive
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
