package orchestration

import (
	"sync"
	"time"
)

const defaultQuietPeriod = 2 * time.Second

// turnSegmenter fires onQuiet once transcript activity has been quiet for
// quietPeriod. Every Arm replaces the pending timer.
type turnSegmenter struct {
	quietPeriod time.Duration
	onQuiet     func()

	mu    sync.Mutex
	timer *time.Timer
	// token identifies the live timer; a callback holding an older token
	// lost a race with Arm or Cancel and must not fire.
	token uint64
}

func newTurnSegmenter(quietPeriod time.Duration, onQuiet func()) *turnSegmenter {
	if quietPeriod <= 0 {
		quietPeriod = defaultQuietPeriod
	}
	if onQuiet == nil {
		onQuiet = func() {}
	}
	return &turnSegmenter{quietPeriod: quietPeriod, onQuiet: onQuiet}
}

func (s *turnSegmenter) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	token := s.token
	s.timer = time.AfterFunc(s.quietPeriod, func() {
		s.mu.Lock()
		if s.token != token {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.token++
		s.mu.Unlock()

		s.onQuiet()
	})
}

func (s *turnSegmenter) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *turnSegmenter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *turnSegmenter) stopLocked() {
	s.token++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
