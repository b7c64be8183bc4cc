package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gerrit-watch/internal/models"
)

var errStreamClosed = errors.New("stream closed")

// fakeSession is a scripted Session
type fakeSession struct {
	mu       sync.Mutex
	results  [][]byte
	queryErr error
	startErr error
	queries  []string
	started  bool
	alive    bool
	closed   bool
	events   chan []byte
	nextErr  error
	reads    int
}

func newFakeSession(results ...string) *fakeSession {
	s := &fakeSession{events: make(chan []byte, 16), alive: true}
	for _, r := range results {
		s.results = append(s.results, []byte(r))
	}
	return s
}

func (s *fakeSession) Query(ctx context.Context, query string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.results, nil
}

func (s *fakeSession) StartDelivery(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeSession) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	nextErr := s.nextErr
	s.mu.Unlock()
	if nextErr != nil {
		return nil, nextErr
	}
	select {
	case raw, ok := <-s.events:
		if !ok {
			return nil, errStreamClosed
		}
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.closed
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

func (s *fakeSession) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *fakeSession) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeOpener hands out scripted sessions in order; once they run out every
// Open fails.
type fakeOpener struct {
	mu       sync.Mutex
	sessions []*fakeSession
	opened   int
	calls    int
}

func (o *fakeOpener) Open(ctx context.Context) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.opened >= len(o.sessions) {
		return nil, fmt.Errorf("connection refused")
	}
	s := o.sessions[o.opened]
	o.opened++
	return s, nil
}

func (o *fakeOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// recordingSink collects pushed events
type recordingSink struct {
	mu     sync.Mutex
	events []*models.Event
}

func (s *recordingSink) Push(ev *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Event(nil), s.events...)
}

type filterFunc func(ev *models.Event) error

func (f filterFunc) Apply(ev *models.Event) error { return f(ev) }
