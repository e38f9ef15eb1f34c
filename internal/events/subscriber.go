package events

import (
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
)

type subscriber struct {
	out  chan domain.Event
	wake chan struct{}
	done chan struct{}

	mu       sync.Mutex
	queue    []domain.Event
	stopOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		out:  make(chan domain.Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push enqueues an event at the tail and reports whether it displaced a
// queued sample of the same job. The displaced sample is dropped rather
// than overwritten so the new one never overtakes events queued after it.
func (s *subscriber) push(event domain.Event, softLimit int) bool {
	s.mu.Lock()
	coalesced := false
	if event.Droppable() && len(s.queue) >= softLimit {
		for i := len(s.queue) - 1; i >= 0; i-- {
			if s.queue[i].Droppable() && s.queue[i].JobID == event.JobID {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				coalesced = true
				break
			}
		}
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return coalesced
}

// pump delivers queued events until stopped, then closes out.
func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// pending returns the number of undelivered events.
func (s *subscriber) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
