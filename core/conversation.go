package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errEmptyReply = errors.New("empty reply")

// finalizeUtterance runs when the segmenter's quiet period elapses. The
// utterance is taken and cleared before it is handed on, so text rejected
// by the single-flight guard is dropped rather than merged into the next
// turn.
func (s *Session) finalizeUtterance(r *run) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	text := r.utterance.Take()
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	if !s.processTranscript(r, text) {
		utterancesDropped.Add(r.ctx, 1)
		logger.Warn("dropping utterance, a request is already in flight", "session_id", r.id, "utterance_length", len(text))
	}
}

// processTranscript sends one finished utterance to the chat endpoint and
// forwards the reply to the speech channel. It reports false without doing
// anything when another request is still in flight, including one started
// by an earlier session.
func (s *Session) processTranscript(r *run, text string) bool {
	if !s.processing.CompareAndSwap(false, true) {
		return false
	}
	defer func() {
		s.processing.Store(false)
		s.notifyStatus()
	}()

	// An in-flight request outlives StopSession; its result is discarded.
	ctx := context.WithoutCancel(r.ctx)
	ctx, span := tracer.Start(ctx, "process transcript",
		trace.WithAttributes(attribute.String("session.id", r.id)))
	defer span.End()

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return true
	}
	s.errMessage = ""
	s.mu.Unlock()
	s.notifyStatus()

	reply, err := s.chat.SendMessage(ctx, s.userID, text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		staleResults.Add(ctx, 1)
		logger.Debug("discarding chat reply", "session_id", r.id, "error", ErrStaleResult)
		return true
	}
	if err != nil {
		s.errMessage = MessageRequestFailed
		s.mu.Unlock()

		err = fmt.Errorf("%w: %w", ErrRequestFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat request failed")
		logger.Error("failed to process transcript", "session_id", r.id, "error", err)
		s.notifyError(MessageRequestFailed)
		return true
	}

	turn := ConversationTurn{
		ID:        uuid.NewString(),
		User:      text,
		Assistant: reply,
		At:        time.Now(),
	}
	s.conversation = append(s.conversation, turn)
	s.lastResponse = reply
	s.mu.Unlock()

	turnsCompleted.Add(ctx, 1)
	if s.callbacks.onTurnCompleted != nil {
		s.callbacks.onTurnCompleted(turn)
	}

	if err := s.speech.SendText(reply, s.params); err != nil {
		span.RecordError(err)
		logger.Warn("reply will not be spoken", "session_id", r.id, "error", err)
	}
	return true
}

// Conversation returns a copy of the turns completed in the current or
// most recent session.
func (s *Session) Conversation() []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conversation)
}
