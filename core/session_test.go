package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/auriter/voicecore/core/channels"
	"github.com/auriter/voicecore/core/synthesis"
)

const testQuietPeriod = 30 * time.Millisecond

type sessionHarness struct {
	session    *Session
	input      *fakeAudioInput
	transcript *fakeTranscriptChannel
	speech     *fakeSpeechChannel
	chat       *fakeChat
	output     *fakeOutput

	mu       sync.Mutex
	statuses []SessionStatus
	turns    []ConversationTurn
}

func newSessionHarness(opts ...SessionOption) *sessionHarness {
	h := &sessionHarness{
		input:      &fakeAudioInput{},
		transcript: &fakeTranscriptChannel{},
		speech:     &fakeSpeechChannel{},
		chat:       &fakeChat{},
		output:     &fakeOutput{},
	}
	base := []SessionOption{
		WithAudioInput(h.input),
		WithAudioOutput(h.output),
		WithTranscriptChannel(h.transcript),
		WithSpeechChannel(h.speech),
		WithChatClient(h.chat),
		WithUserID("user-1"),
		WithQuietPeriod(testQuietPeriod),
		WithConnectTimeout(time.Second),
		WithStatusCallback(func(status SessionStatus) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.statuses = append(h.statuses, status)
		}),
		WithTurnCallback(func(turn ConversationTurn) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.turns = append(h.turns, turn)
		}),
	}
	h.session = NewSession(append(base, opts...)...)
	return h
}

func (h *sessionHarness) start(t *testing.T) {
	t.Helper()
	if err := h.session.StartSession(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
}

func (h *sessionHarness) sawStatus(phase SessionPhase) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, status := range h.statuses {
		if status.Phase == phase {
			return true
		}
	}
	return false
}

func TestStartSessionOpensChannelsAndRecords(t *testing.T) {
	h := newSessionHarness()
	h.start(t)
	defer h.session.Close()

	if got := h.session.State(); got != StateActive {
		t.Fatalf("expected state active, got %s", got)
	}
	if got := h.session.Status(); got.Phase != PhaseRecording {
		t.Fatalf("expected recording status, got %s", got)
	}
	transcript, speech := h.session.ChannelStates()
	if transcript != channels.StateOpen || speech != channels.StateOpen {
		t.Fatalf("expected both channels open, got %s and %s", transcript, speech)
	}
	if h.transcript.resets != 1 {
		t.Fatalf("expected transcript channel to be reset once, got %d", h.transcript.resets)
	}

	h.input.emit([]byte{1, 2})
	if got := len(h.transcript.sent); got != 1 {
		t.Fatalf("expected captured chunk to be forwarded, got %d chunks", got)
	}
}

func TestFragmentsWithinQuietPeriodFormOneTurn(t *testing.T) {
	h := newSessionHarness()
	h.chat.reply = func(_ context.Context, message string) (string, error) {
		return "hi there", nil
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("hello")
	time.Sleep(testQuietPeriod / 2)
	h.transcript.transcript("world")
	if got := h.session.Utterance(); got != "hello world" {
		t.Fatalf("expected utterance %q, got %q", "hello world", got)
	}

	waitFor(t, "reply to be sent for synthesis", func() bool { return len(h.speech.sentTexts()) == 1 })

	if got := h.chat.messages(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("expected one chat call with %q, got %q", "hello world", got)
	}
	if got := h.chat.calls[0].userID; got != "user-1" {
		t.Fatalf("expected user id %q, got %q", "user-1", got)
	}
	sent := h.speech.sentTexts()[0]
	if sent.text != "hi there" {
		t.Fatalf("expected reply text %q, got %q", "hi there", sent.text)
	}
	if sent.params != synthesis.DefaultParams() {
		t.Fatalf("expected default synthesis params, got %+v", sent.params)
	}

	conversation := h.session.Conversation()
	if len(conversation) != 1 || conversation[0].User != "hello world" || conversation[0].Assistant != "hi there" {
		t.Fatalf("unexpected conversation log %+v", conversation)
	}
	if conversation[0].ID == "" {
		t.Fatalf("expected turn id to be set")
	}
	if got := h.session.LastResponse(); got != "hi there" {
		t.Fatalf("expected last response %q, got %q", "hi there", got)
	}
	if got := h.session.Utterance(); got != "" {
		t.Fatalf("expected utterance cleared, got %q", got)
	}
	if h.session.IsProcessing() {
		t.Fatalf("expected processing to be cleared")
	}
	if !h.sawStatus(PhaseProcessing) {
		t.Fatalf("expected a processing status while the request was in flight")
	}
}

func TestBlankFragmentsAreIgnored(t *testing.T) {
	h := newSessionHarness()
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("   ")
	time.Sleep(3 * testQuietPeriod)

	if got := h.chat.callCount(); got != 0 {
		t.Fatalf("expected no chat calls, got %d", got)
	}
}

func TestChatFailureSetsErrorWithoutSynthesis(t *testing.T) {
	h := newSessionHarness()
	h.chat.reply = func(context.Context, string) (string, error) {
		return "", errors.New("500")
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("hello")
	waitFor(t, "error to be set", func() bool { return h.session.Err() != "" })
	waitFor(t, "processing to clear", func() bool { return !h.session.IsProcessing() })

	if got := h.session.Err(); got != MessageRequestFailed {
		t.Fatalf("expected %q, got %q", MessageRequestFailed, got)
	}
	if got := h.session.Status(); got.Phase != PhaseError || got.Message != MessageRequestFailed {
		t.Fatalf("expected error status, got %s", got)
	}
	if got := len(h.speech.sentTexts()); got != 0 {
		t.Fatalf("expected nothing sent for synthesis, got %d", got)
	}
	if got := len(h.session.Conversation()); got != 0 {
		t.Fatalf("expected no turn recorded, got %d", got)
	}
}

func TestNextTurnClearsPreviousError(t *testing.T) {
	h := newSessionHarness()
	var fail sync.Once
	h.chat.reply = func(context.Context, string) (string, error) {
		var err error
		fail.Do(func() { err = errors.New("boom") })
		return "recovered", err
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("first")
	waitFor(t, "error to be set", func() bool { return h.session.Err() != "" })

	h.transcript.transcript("second")
	waitFor(t, "second reply", func() bool { return h.session.LastResponse() == "recovered" })
	if got := h.session.Err(); got != "" {
		t.Fatalf("expected error slot cleared, got %q", got)
	}
}

func TestProcessTranscriptIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	h := newSessionHarness()
	h.chat.reply = func(context.Context, string) (string, error) {
		<-release
		return "done", nil
	}
	h.start(t)
	defer h.session.Close()

	h.session.mu.Lock()
	r := h.session.run
	h.session.mu.Unlock()

	first := make(chan bool)
	go func() { first <- h.session.processTranscript(r, "one") }()
	waitFor(t, "first request in flight", func() bool { return h.chat.callCount() == 1 })

	if accepted := h.session.processTranscript(r, "two"); accepted {
		t.Fatalf("expected second call to be rejected while in flight")
	}
	if !h.session.IsProcessing() {
		t.Fatalf("expected processing while request is in flight")
	}

	close(release)
	if accepted := <-first; !accepted {
		t.Fatalf("expected first call to be accepted")
	}
	if got := h.chat.callCount(); got != 1 {
		t.Fatalf("expected one chat call, got %d", got)
	}
	if h.session.IsProcessing() {
		t.Fatalf("expected processing cleared")
	}
}

func TestUtteranceDuringInFlightRequestIsDropped(t *testing.T) {
	release := make(chan struct{})
	h := newSessionHarness()
	h.chat.reply = func(_ context.Context, message string) (string, error) {
		if message == "first" {
			<-release
		}
		return "reply to " + message, nil
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("first")
	waitFor(t, "first request in flight", func() bool { return h.chat.callCount() == 1 })

	h.transcript.transcript("second")
	waitFor(t, "second utterance to be taken", func() bool { return h.session.Utterance() == "" })
	time.Sleep(2 * testQuietPeriod)
	close(release)

	waitFor(t, "first reply", func() bool { return h.session.LastResponse() == "reply to first" })
	if got := h.chat.messages(); len(got) != 1 {
		t.Fatalf("expected dropped utterance not to reach chat, got %q", got)
	}
}

func TestPermissionDeniedKeepsSessionIdle(t *testing.T) {
	h := newSessionHarness()
	h.input.startErr = fmt.Errorf("no device: %w", audio.ErrPermissionDenied)

	err := h.session.StartSession(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if got := h.session.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
	if got := h.session.Err(); got != MessagePermissionDenied {
		t.Fatalf("expected %q, got %q", MessagePermissionDenied, got)
	}
	if h.transcript.connects != 0 {
		t.Fatalf("expected no channel to be opened, got %d connects", h.transcript.connects)
	}

	h.input.startErr = nil
	h.start(t)
	defer h.session.Close()
	if got := h.session.Err(); got != "" {
		t.Fatalf("expected error cleared on restart, got %q", got)
	}
}

func TestMissingAudioInputIsPermissionDenied(t *testing.T) {
	h := newSessionHarness(WithAudioInput(nil))

	if err := h.session.StartSession(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestConnectFailureTearsDownBothChannels(t *testing.T) {
	h := newSessionHarness()
	h.speech.connectErr = errors.New("refused")

	err := h.session.StartSession(context.Background())
	if !errors.Is(err, ErrChannel) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if got := h.session.State(); got != StateConnecting {
		t.Fatalf("expected degraded connecting state, got %s", got)
	}
	if got := h.session.Err(); got != MessageConnectFailed {
		t.Fatalf("expected %q, got %q", MessageConnectFailed, got)
	}
	if h.input.stops == 0 {
		t.Fatalf("expected capture to be stopped")
	}
	transcript, _ := h.session.ChannelStates()
	if transcript == channels.StateOpen {
		t.Fatalf("expected transcript channel not to stay open")
	}

	if err := h.session.StopSession(context.Background()); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if got := h.session.State(); got != StateIdle {
		t.Fatalf("expected idle after stop, got %s", got)
	}
}

func TestConnectTimeoutIsBounded(t *testing.T) {
	h := newSessionHarness(WithConnectTimeout(50 * time.Millisecond))
	h.transcript.block = true

	started := time.Now()
	err := h.session.StartSession(context.Background())
	if !errors.Is(err, ErrChannel) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected start to give up quickly, took %v", elapsed)
	}
	if got := h.session.Status(); got.Phase != PhaseError {
		t.Fatalf("expected error status, got %s", got)
	}
}

func TestStopDuringConnectAbortsWithoutError(t *testing.T) {
	h := newSessionHarness(WithConnectTimeout(10 * time.Second))
	h.transcript.block = true

	done := make(chan error, 1)
	go func() { done <- h.session.StartSession(context.Background()) }()
	waitFor(t, "connect to begin", func() bool { return h.transcript.State() == channels.StateConnecting })

	if err := h.session.StopSession(context.Background()); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected start to return after stop")
	}
	if got := h.session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if got := h.session.Err(); got != "" {
		t.Fatalf("expected no error after user stop, got %q", got)
	}
}

func TestLateReplyAfterStopIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	h := newSessionHarness()
	h.chat.reply = func(context.Context, string) (string, error) {
		<-release
		return "too late", nil
	}
	h.start(t)

	h.transcript.transcript("hello")
	waitFor(t, "request in flight", func() bool { return h.chat.callCount() == 1 })

	if err := h.session.StopSession(context.Background()); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	if got := len(h.session.Conversation()); got != 0 {
		t.Fatalf("expected stale reply not to be recorded, got %d turns", got)
	}
	if got := len(h.speech.sentTexts()); got != 0 {
		t.Fatalf("expected stale reply not to be synthesized, got %d", got)
	}
	if got := h.session.Status(); got.Phase != PhaseIdle {
		t.Fatalf("expected idle status, got %s", got)
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	h := newSessionHarness()

	if err := h.session.StopSession(context.Background()); err != nil {
		t.Fatalf("expected stop on idle session to succeed, got %v", err)
	}
	h.start(t)
	for range 2 {
		if err := h.session.StopSession(context.Background()); err != nil {
			t.Fatalf("expected stop to succeed, got %v", err)
		}
	}
	if got := h.session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	transcript, speech := h.session.ChannelStates()
	if transcript == channels.StateOpen || speech == channels.StateOpen {
		t.Fatalf("expected channels closed, got %s and %s", transcript, speech)
	}
}

func TestStopCancelsPendingSegmenter(t *testing.T) {
	h := newSessionHarness()
	h.start(t)

	h.transcript.transcript("unfinished")
	if err := h.session.StopSession(context.Background()); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	time.Sleep(3 * testQuietPeriod)

	if got := h.chat.callCount(); got != 0 {
		t.Fatalf("expected no chat call after stop, got %d", got)
	}
}

func TestRestartReplacesPreviousSession(t *testing.T) {
	h := newSessionHarness()
	h.start(t)
	h.transcript.transcript("hello")
	waitFor(t, "first turn", func() bool { return len(h.session.Conversation()) == 1 })

	h.start(t)
	defer h.session.Close()

	if got := len(h.session.Conversation()); got != 0 {
		t.Fatalf("expected conversation cleared on restart, got %d turns", got)
	}
	if h.input.starts != 2 || h.input.stops < 1 {
		t.Fatalf("expected previous capture stopped before restart, got %d starts and %d stops", h.input.starts, h.input.stops)
	}
	if h.transcript.resets != 2 {
		t.Fatalf("expected transcript channel reset per session, got %d", h.transcript.resets)
	}
	if got := h.session.State(); got != StateActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestSpeechFramesDriveSpeakingStatus(t *testing.T) {
	h := newSessionHarness()
	h.output.delay = 20 * time.Millisecond
	h.start(t)
	defer h.session.Close()

	for _, frame := range []string{"a", "b", "c"} {
		h.speech.audio([]byte(frame))
	}
	if got := h.session.Status(); got.Phase != PhaseSpeaking {
		t.Fatalf("expected speaking status, got %s", got)
	}

	waitFor(t, "playback to finish", func() bool { return !h.session.IsSpeaking() })
	if got := len(h.output.playedFrames()); got != 3 {
		t.Fatalf("expected three frames played, got %d", got)
	}
	if got := h.session.Status(); got.Phase != PhaseRecording {
		t.Fatalf("expected recording after playback, got %s", got)
	}
}

func TestChannelErrorFrameSetsErrorAndKeepsChannelOpen(t *testing.T) {
	var reported []string
	h := newSessionHarness(WithErrorCallback(func(message string) { reported = append(reported, message) }))
	h.start(t)
	defer h.session.Close()

	h.speech.fail("quota exceeded")

	if got := h.session.Err(); got != "quota exceeded" {
		t.Fatalf("expected %q, got %q", "quota exceeded", got)
	}
	if _, speech := h.session.ChannelStates(); speech != channels.StateOpen {
		t.Fatalf("expected speech channel to stay open, got %s", speech)
	}
	if len(reported) != 1 {
		t.Fatalf("expected error callback once, got %d", len(reported))
	}

	h.transcript.fail("")
	if got := h.session.Err(); got != MessageChannelFailed {
		t.Fatalf("expected %q, got %q", MessageChannelFailed, got)
	}
}

func TestCloseRejectsFurtherStarts(t *testing.T) {
	h := newSessionHarness()
	h.start(t)
	h.session.Close()
	h.session.Close()

	if err := h.session.StartSession(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestStartSessionRequiresClients(t *testing.T) {
	s := NewSession()
	if err := s.StartSession(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestNewSessionGeneratesUserID(t *testing.T) {
	s := NewSession()
	if s.userID == "" {
		t.Fatalf("expected generated user id")
	}
}

func TestSingleFlightSurvivesRestart(t *testing.T) {
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		inFlight  int
		maxFlight int
	)
	h := newSessionHarness()
	h.chat.reply = func(_ context.Context, message string) (string, error) {
		mu.Lock()
		inFlight++
		maxFlight = max(maxFlight, inFlight)
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		if message == "first" {
			<-release
		}
		return "reply to " + message, nil
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("first")
	waitFor(t, "first request in flight", func() bool { return h.chat.callCount() == 1 })

	h.start(t)
	h.transcript.transcript("second")
	waitFor(t, "second utterance to be taken", func() bool { return h.session.Utterance() == "" })
	time.Sleep(2 * testQuietPeriod)

	if !h.session.IsProcessing() {
		t.Fatalf("expected the earlier request to still count as in flight")
	}
	close(release)
	waitFor(t, "guard to clear", func() bool { return !h.session.IsProcessing() })

	mu.Lock()
	defer mu.Unlock()
	if maxFlight != 1 {
		t.Fatalf("expected at most one request in flight, got %d", maxFlight)
	}
	if got := h.chat.messages(); len(got) != 1 {
		t.Fatalf("expected only the first utterance to reach chat, got %q", got)
	}
	if got := len(h.session.Conversation()); got != 0 {
		t.Fatalf("expected the stale reply to be discarded, got %d turns", got)
	}
}

func TestGuardClearsAfterStaleReply(t *testing.T) {
	release := make(chan struct{})
	h := newSessionHarness()
	h.chat.reply = func(_ context.Context, message string) (string, error) {
		if message == "first" {
			<-release
		}
		return "reply to " + message, nil
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("first")
	waitFor(t, "first request in flight", func() bool { return h.chat.callCount() == 1 })
	h.start(t)
	close(release)
	waitFor(t, "guard to clear", func() bool { return !h.session.IsProcessing() })

	h.transcript.transcript("next")
	waitFor(t, "reply in new session", func() bool { return h.session.LastResponse() == "reply to next" })
	if got := len(h.session.Conversation()); got != 1 {
		t.Fatalf("expected one turn in the new session, got %d", got)
	}
}

func TestBlankReplyIsNotSynthesized(t *testing.T) {
	h := newSessionHarness()
	h.chat.reply = func(context.Context, string) (string, error) {
		return "   ", nil
	}
	h.start(t)
	defer h.session.Close()

	h.transcript.transcript("hello")
	waitFor(t, "error to be set", func() bool { return h.session.Err() != "" })
	waitFor(t, "processing to clear", func() bool { return !h.session.IsProcessing() })

	if got := h.session.Err(); got != MessageRequestFailed {
		t.Fatalf("expected %q, got %q", MessageRequestFailed, got)
	}
	if got := len(h.speech.sentTexts()); got != 0 {
		t.Fatalf("expected nothing sent for synthesis, got %d", got)
	}
	if got := len(h.session.Conversation()); got != 0 {
		t.Fatalf("expected no turn recorded, got %d", got)
	}
}
