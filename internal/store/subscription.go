package store

import (
	"reflect"
	"sync"
)

// subscriber delivers snapshots to one callback, serially and latest-wins:
// if several changes land while the callback is busy only the newest is
// delivered next.
type subscriber struct {
	path string
	segs []string
	fn   func(Snapshot)

	mu        sync.Mutex
	pending   Snapshot
	hasNext   bool
	delivered bool
	last      any

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscriber(path string, segs []string, fn func(Snapshot)) *subscriber {
	s := &subscriber{
		path: path,
		segs: segs,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// offer queues value unless it equals the last value queued
func (s *subscriber) offer(value any) {
	s.mu.Lock()
	if s.delivered && reflect.DeepEqual(s.last, value) {
		s.mu.Unlock()
		return
	}
	s.delivered = true
	s.last = value
	s.pending = Snapshot{Path: s.path, Value: value}
	s.hasNext = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		snap, ok := s.pending, s.hasNext
		s.hasNext = false
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(snap)
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
