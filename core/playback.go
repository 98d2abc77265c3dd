package orchestration

import (
	"context"
	"fmt"
	"sync"
)

// playbackQueue plays synthesized frames strictly in arrival order, one at
// a time. A frame that fails to play is logged and skipped.
type playbackQueue struct {
	ctx    context.Context
	cancel context.CancelFunc
	output AudioOutput

	onSpeakingChanged func(speaking bool)

	// notifyMu keeps speaking transitions delivered in the order they
	// happened without holding mu during the callback.
	notifyMu sync.Mutex
	mu       sync.Mutex
	frames   []AudioFrame
	nextSeq  uint64
	draining bool
	speaking bool
	stopped  bool
	done     chan struct{}
}

func newPlaybackQueue(ctx context.Context, output AudioOutput, onSpeakingChanged func(bool)) *playbackQueue {
	if output == nil {
		output = discardOutput{}
	}
	if onSpeakingChanged == nil {
		onSpeakingChanged = func(bool) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	close(done)
	return &playbackQueue{
		ctx:               ctx,
		cancel:            cancel,
		output:            output,
		onSpeakingChanged: onSpeakingChanged,
		done:              done,
	}
}

func (q *playbackQueue) Enqueue(data []byte) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.frames = append(q.frames, AudioFrame{Seq: q.nextSeq, Data: data})
	q.nextSeq++
	startDrain := !q.draining
	if startDrain {
		q.draining = true
		q.done = make(chan struct{})
	}
	becameSpeaking := !q.speaking
	q.speaking = true
	done := q.done
	q.mu.Unlock()

	if becameSpeaking {
		q.onSpeakingChanged(true)
	}
	if startDrain {
		go q.drain(done)
	}
}

func (q *playbackQueue) drain(done chan struct{}) {
	defer close(done)
	for {
		frame, ok := q.next()
		if !ok {
			return
		}

		if err := q.output.Play(q.ctx, frame.Data); err != nil {
			if q.ctx.Err() != nil {
				continue
			}
			playbackFailures.Add(q.ctx, 1)
			logger.Warn("skipping audio frame", "seq", frame.Seq, "error", fmt.Errorf("%w: %w", ErrPlayback, err))
		}
	}
}

// next pops the head of the queue. When the queue is empty it ends the
// drain and reports that speech is over.
func (q *playbackQueue) next() (AudioFrame, bool) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	if len(q.frames) > 0 && !q.stopped {
		frame := q.frames[0]
		q.frames = q.frames[1:]
		q.mu.Unlock()
		return frame, true
	}
	q.frames = nil
	q.draining = false
	wasSpeaking := q.speaking
	q.speaking = false
	stopped := q.stopped
	q.mu.Unlock()

	if wasSpeaking && !stopped {
		q.onSpeakingChanged(false)
	}
	return AudioFrame{}, false
}

func (q *playbackQueue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

func (q *playbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Reset drops all queued frames, interrupts the frame being played and
// rejects further frames.
func (q *playbackQueue) Reset() {
	q.mu.Lock()
	q.stopped = true
	q.frames = nil
	q.speaking = false
	q.mu.Unlock()
	q.cancel()
}

// Wait blocks until the current drain finishes or ctx is done.
func (q *playbackQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type discardOutput struct{}

func (discardOutput) Play(ctx context.Context, _ []byte) error {
	return ctx.Err()
}

var _ AudioOutput = discardOutput{}
