package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auriter/voicecore/core/audio"
	"github.com/auriter/voicecore/core/channels"
	"github.com/auriter/voicecore/core/synthesis"
	"github.com/auriter/voicecore/core/transcription"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const defaultConnectTimeout = 10 * time.Second

// Session owns one voice conversation at a time: capture, both streaming
// channels, the turn segmenter, and playback.
type Session struct {
	userID         string
	params         synthesis.Params
	quietPeriod    time.Duration
	connectTimeout time.Duration

	audioInput  AudioInput
	audioOutput AudioOutput
	transcript  TranscriptChannel
	speech      SpeechChannel
	chat        ChatClient

	callbacks callbacks

	// processing is the single-flight guard for chat requests. It belongs
	// to the Session, not a run, so a request left over from a stopped
	// session still blocks the next one until it returns.
	processing atomic.Bool

	// lifecycleMu serializes StartSession and StopSession.
	lifecycleMu sync.Mutex
	// notifyMu orders status notifications.
	notifyMu   sync.Mutex
	lastStatus SessionStatus

	mu           sync.Mutex
	state        ControllerState
	run          *run
	errMessage   string
	speaking     bool
	conversation []ConversationTurn
	lastResponse string
	closed       bool
}

// run holds everything that belongs to a single started session. A result
// whose run is no longer current is stale.
type run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	// utterance is guarded by Session.mu.
	utterance utterance
	segmenter *turnSegmenter
	playback  *playbackQueue
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		params:         synthesis.DefaultParams(),
		quietPeriod:    defaultQuietPeriod,
		connectTimeout: defaultConnectTimeout,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.userID == "" {
		s.userID = uuid.NewString()
	}
	return s
}

// StartSession tears down whatever is running, acquires the microphone and
// opens both channels. It returns once the session is active or has failed.
func (s *Session) StartSession(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start session")
		}
		span.End()
	}()

	if s.transcript == nil || s.speech == nil || s.chat == nil {
		return fmt.Errorf("%w: transcript channel, speech channel and chat client are required", ErrNotConfigured)
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	if err := s.teardown(); err != nil {
		logger.Warn("failed to tear down previous session", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{id: uuid.NewString(), ctx: runCtx, cancel: cancel}
	r.segmenter = newTurnSegmenter(s.quietPeriod, func() { s.finalizeUtterance(r) })
	r.playback = newPlaybackQueue(runCtx, s.audioOutput, func(speaking bool) { s.setSpeaking(r, speaking) })
	span.SetAttributes(attribute.String("session.id", r.id))

	s.mu.Lock()
	s.state = StateConnecting
	s.run = r
	s.errMessage = ""
	s.speaking = false
	s.conversation = nil
	s.lastResponse = ""
	s.mu.Unlock()
	s.notifyStatus()

	if resettable, ok := s.transcript.(resettableChannel); ok {
		resettable.Reset()
	}

	if err := s.startCapture(r); err != nil {
		message := MessageStartFailed
		if errors.Is(err, audio.ErrPermissionDenied) {
			message = MessagePermissionDenied
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		r.cancel()
		s.mu.Lock()
		if s.run == r {
			s.run = nil
			s.state = StateIdle
			s.errMessage = message
		}
		s.mu.Unlock()
		s.notifyError(message)
		return err
	}

	if err := s.connectChannels(r); err != nil {
		cancelled := r.ctx.Err() != nil
		if stopErr := s.audioInput.Stop(); stopErr != nil {
			logger.Warn("failed to stop audio capture", "error", stopErr)
		}
		s.closeChannels()
		r.segmenter.Cancel()
		r.playback.Reset()
		r.cancel()

		s.mu.Lock()
		if s.run == r {
			s.run = nil
			if cancelled {
				s.state = StateIdle
			} else {
				s.errMessage = MessageConnectFailed
			}
		}
		s.mu.Unlock()
		if !cancelled {
			s.notifyError(MessageConnectFailed)
		} else {
			s.notifyStatus()
		}
		return fmt.Errorf("%w: %w", ErrChannel, err)
	}

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return ErrStaleResult
	}
	s.state = StateActive
	s.mu.Unlock()
	s.notifyStatus()

	logger.Info("session started", "session_id", r.id)
	return nil
}

func (s *Session) startCapture(r *run) error {
	if s.audioInput == nil {
		return fmt.Errorf("no audio input configured: %w", audio.ErrPermissionDenied)
	}
	return s.audioInput.Start(r.ctx, func(chunk []byte) { s.forwardChunk(r, chunk) })
}

func (s *Session) connectChannels(r *run) error {
	transcriptOpts := []transcription.TranscriptionOption{
		transcription.WithTranscriptCallback(func(fragment string) { s.onTranscript(r, fragment) }),
		transcription.WithErrorCallback(func(message string) { s.onChannelError(r, message) }),
	}
	if input, ok := s.audioInput.(AudioInputWithEncoding); ok {
		transcriptOpts = append(transcriptOpts, transcription.WithEncodingInfo(input.EncodingInfo()))
	}

	ctx, cancel := context.WithTimeout(r.ctx, s.connectTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.transcript.Connect(gctx, transcriptOpts...); err != nil {
			return fmt.Errorf("transcript channel: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := s.speech.Connect(gctx,
			synthesis.WithSpeechAudioCallback(func(frame []byte) { s.onSpeechAudio(r, frame) }),
			synthesis.WithErrorCallback(func(message string) { s.onChannelError(r, message) }),
		)
		if err != nil {
			return fmt.Errorf("speech channel: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// StopSession ends the current session. Calling it when nothing is running
// is a no-op.
func (s *Session) StopSession(ctx context.Context) error {
	_, span := tracer.Start(ctx, "stop session")
	defer span.End()

	// Abort a connect in progress so the lifecycle lock is released quickly.
	s.mu.Lock()
	if s.run != nil {
		s.run.cancel()
	}
	s.mu.Unlock()

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.state == StateIdle && s.run == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTearingDown
	s.mu.Unlock()
	s.notifyStatus()

	err := s.teardown()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notifyStatus()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stop session cleanly")
	}
	logger.Info("session stopped")
	return err
}

// teardown releases the current run and every resource it used. It also
// closes the channels when no run is recorded, so leftovers from a failed
// start are never reused.
func (s *Session) teardown() error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	wasSpeaking := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if r != nil {
		r.segmenter.Cancel()
		r.cancel()
		r.playback.Reset()
		s.mu.Lock()
		r.utterance.Clear()
		s.mu.Unlock()
	}

	var errs []error
	if s.audioInput != nil {
		if err := s.audioInput.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audio capture: %w", err))
		}
	}
	if err := s.closeChannels(); err != nil {
		errs = append(errs, err)
	}

	if wasSpeaking && s.callbacks.onSpeakingChanged != nil {
		s.callbacks.onSpeakingChanged(false)
	}
	return errors.Join(errs...)
}

func (s *Session) closeChannels() error {
	var errs []error
	if s.transcript != nil {
		if err := s.transcript.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transcript channel: %w", err))
		}
	}
	if s.speech != nil {
		if err := s.speech.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close speech channel: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the session. The Session cannot be started again afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.StopSession(context.Background()); err != nil {
		logger.Error("failed to stop session on close", "error", err)
	}
}

func (s *Session) isCurrent(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run == r
}

func (s *Session) forwardChunk(r *run, chunk []byte) {
	if !s.isCurrent(r) {
		return
	}
	if err := s.transcript.SendAudio(chunk); err != nil && !errors.Is(err, channels.ErrClosed) {
		logger.Debug("failed to forward audio chunk", "error", err)
	}
}

func (s *Session) onTranscript(r *run, fragment string) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	before := r.utterance.Text()
	r.utterance.Append(fragment)
	appended := r.utterance.Text() != before
	s.mu.Unlock()

	if !appended {
		return
	}
	if s.callbacks.onTranscript != nil {
		s.callbacks.onTranscript(fragment)
	}
	r.segmenter.Arm()
}

func (s *Session) onChannelError(r *run, message string) {
	if message == "" {
		message = MessageChannelFailed
	}
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.errMessage = message
	s.mu.Unlock()

	logger.Warn("voice channel reported an error", "session_id", r.id, "error", fmt.Errorf("%w: %s", ErrChannel, message))
	s.notifyError(message)
}

func (s *Session) onSpeechAudio(r *run, frame []byte) {
	if !s.isCurrent(r) {
		return
	}
	r.playback.Enqueue(frame)
}

func (s *Session) setSpeaking(r *run, speaking bool) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.speaking = speaking
	s.mu.Unlock()

	if s.callbacks.onSpeakingChanged != nil {
		s.callbacks.onSpeakingChanged(speaking)
	}
	s.notifyStatus()
}

func (s *Session) notifyError(message string) {
	if s.callbacks.onError != nil {
		s.callbacks.onError(message)
	}
	s.notifyStatus()
}

func (s *Session) notifyStatus() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	status := s.Status()
	if status == s.lastStatus {
		return
	}
	s.lastStatus = status
	if s.callbacks.onStatusChanged != nil {
		s.callbacks.onStatusChanged(status)
	}
}

// Status derives the user-facing phase. An error wins over everything,
// then speaking, then processing.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errMessage != "" {
		return SessionStatus{Phase: PhaseError, Message: s.errMessage}
	}
	if s.run == nil || s.state != StateActive {
		return SessionStatus{Phase: PhaseIdle}
	}
	if s.speaking {
		return SessionStatus{Phase: PhaseSpeaking}
	}
	if s.processing.Load() {
		return SessionStatus{Phase: PhaseProcessing}
	}
	return SessionStatus{Phase: PhaseRecording}
}

func (s *Session) State() ControllerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *Session) IsProcessing() bool {
	return s.processing.Load()
}

// Err returns the message in the error slot, or "" when there is none.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMessage
}

func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// Utterance returns the text accumulated for the turn in progress.
func (s *Session) Utterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.utterance.Text()
}

func (s *Session) ChannelStates() (transcript, speech ChannelState) {
	transcript, speech = channels.StateDisconnected, channels.StateDisconnected
	if s.transcript != nil {
		transcript = s.transcript.State()
	}
	if s.speech != nil {
		speech = s.speech.State()
	}
	return transcript, speech
}
