package tui

import (
	orchestration "github.com/auriter/voicecore/core"
	tea "github.com/charmbracelet/bubbletea"
)

type StatusMsg orchestration.SessionStatus

// TranscriptMsg is one recognized fragment of the user's speech.
type TranscriptMsg string

type TurnMsg orchestration.ConversationTurn

type sessionResultMsg struct {
	err error
}

// Feed carries session callbacks into the UI. Sends never block; when the
// UI falls behind, messages are dropped.
type Feed struct {
	ch chan tea.Msg
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 64
	}
	return &Feed{ch: make(chan tea.Msg, size)}
}

func (f *Feed) Status(status orchestration.SessionStatus) { f.send(StatusMsg(status)) }

func (f *Feed) Transcript(fragment string) { f.send(TranscriptMsg(fragment)) }

func (f *Feed) Turn(turn orchestration.ConversationTurn) { f.send(TurnMsg(turn)) }

// SessionOptions wires the feed into a session's callbacks.
func (f *Feed) SessionOptions() []orchestration.SessionOption {
	return []orchestration.SessionOption{
		orchestration.WithStatusCallback(f.Status),
		orchestration.WithTranscriptCallback(f.Transcript),
		orchestration.WithTurnCallback(f.Turn),
	}
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.ch <- msg:
	default:
		logger.Warn("ui is behind, dropping update", "message", msg)
	}
}

func (f *Feed) listen() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.ch
		if !ok {
			return nil
		}
		return msg
	}
}
