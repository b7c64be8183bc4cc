// Package stream maintains the session with the review server and feeds its
// events into the event queue.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/filter"
	"gerrit-watch/internal/models"
)

var (
	// ErrNotConnected is returned when events are pulled without a session
	ErrNotConnected = errors.New("not connected")

	// ErrRetriesExhausted is returned when every reconnect attempt failed
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// Defaults used for zero Options fields
const (
	DefaultPrefetch = 50
	DefaultAttempts = 5
	DefaultCooldown = 30 * time.Second
)

// ReadErrorDelay is how long Run waits after a failed read on a session that
// is still alive
const ReadErrorDelay = time.Second

// State is the connection state of a Manager
type State int32

const (
	Disconnected State = iota
	Connecting
	Backfilling
	Watching
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Backfilling:
		return "backfilling"
	case Watching:
		return "watching"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one live connection to the event source
type Session interface {
	// Query runs a change query and returns one JSON record per result.
	Query(ctx context.Context, query string) ([][]byte, error)
	// StartDelivery begins continuous event delivery.
	StartDelivery(ctx context.Context) error
	// Next blocks until the next event record arrives.
	Next(ctx context.Context) ([]byte, error)
	// Alive reports whether event delivery is still running.
	Alive() bool
	Close() error
}

// Opener creates sessions
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Sink receives normalized events
type Sink interface {
	Push(ev *models.Event)
}

// Filter drops events before they are queued
type Filter interface {
	Apply(ev *models.Event) error
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	Prefetch int
	Attempts int
	Cooldown time.Duration
	Clock    clock.Clock
	Filter   Filter
}

// Manager owns the session lifecycle: connect, backfill, watch, and
// reconnect with exponential backoff.
type Manager struct {
	opener   Opener
	sink     Sink
	filter   Filter
	clock    clock.Clock
	logger   *logrus.Logger
	prefetch int
	attempts int
	cooldown time.Duration

	mu      sync.Mutex
	session Session
	state   State

	// backfilled is set once the first backfill query has returned and is
	// never cleared, so reconnects fetch a single change.
	backfilled atomic.Bool
}

// NewManager creates a Manager that opens sessions with opener and pushes
// events to sink
func NewManager(opener Opener, sink Sink, opts Options, logger *logrus.Logger) *Manager {
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Manager{
		opener:   opener,
		sink:     sink,
		filter:   opts.Filter,
		clock:    opts.Clock,
		logger:   logger,
		prefetch: opts.Prefetch,
		attempts: opts.Attempts,
		cooldown: opts.Cooldown,
	}
}

// Backoff returns the delay after failed attempt n, counted from zero
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// BackfillQuery returns the query used to fetch the newest limit open changes
func BackfillQuery(limit int) string {
	return fmt.Sprintf("status:open limit:%d", limit)
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a session exists and its event delivery is alive.
// It is evaluated on every call.
func (m *Manager) Connected() bool {
	s := m.currentSession()
	return s != nil && s.Alive()
}

func (m *Manager) currentSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// discard drops s if it is still the current session
func (m *Manager) discard(s Session) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = Disconnected
	m.mu.Unlock()

	if err := s.Close(); err != nil {
		m.logger.Debugf("Error closing session: %v", err)
	}
}

// Close drops the current session, if any
func (m *Manager) Close() {
	if s := m.currentSession(); s != nil {
		m.discard(s)
	}
}

// connect opens a session unless a live one exists, then backfills and starts
// delivery. On any failure the session is discarded so the next attempt
// starts clean.
func (m *Manager) connect(ctx context.Context) (err error) {
	if s := m.currentSession(); s != nil {
		if s.Alive() {
			return nil
		}
		m.discard(s)
	}

	m.setState(Connecting)
	session, err := m.opener.Open(ctx)
	if err != nil {
		m.setState(Disconnected)
		return fmt.Errorf("failed to open session: %w", err)
	}
	if session == nil {
		m.setState(Disconnected)
		return fmt.Errorf("failed to open session: no session returned")
	}

	m.mu.Lock()
	m.session = session
	m.state = Backfilling
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
		}
		if err != nil {
			m.discard(session)
		}
	}()

	if err := m.backfill(ctx, session); err != nil {
		return err
	}
	return m.watch(ctx, session)
}

// backfill queues recent open changes so the view is not empty while
// waiting for live events
func (m *Manager) backfill(ctx context.Context, s Session) error {
	limit := m.prefetch
	if m.backfilled.Load() {
		limit = 1
	}
	query := BackfillQuery(limit)

	records, err := s.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run backfill query %q: %w", query, err)
	}
	m.backfilled.Store(true)

	events := normalizeResults(records, limit, m.logger)
	for _, ev := range events {
		m.publish(ev)
	}
	m.logger.Infof("Backfilled %d changes (%s)", len(events), query)
	return nil
}

func (m *Manager) watch(ctx context.Context, s Session) error {
	if err := s.StartDelivery(ctx); err != nil {
		return fmt.Errorf("failed to start event delivery: %w", err)
	}
	m.setState(Watching)
	m.logger.Info("Watching for events")
	return nil
}

func (m *Manager) publish(ev *models.Event) {
	if m.filter != nil {
		if err := m.filter.Apply(ev); err != nil {
			if errors.Is(err, filter.ErrEventRejected) {
				m.logger.Debugf("Event rejected by filter: %s %s", ev.Type, ev.Change.Identity())
				return
			}
			m.logger.Errorf("Error filtering event, keeping it: %v", err)
		}
	}
	m.sink.Push(ev)
}

// NextEvent blocks for the next live event and queues it. When delivery has
// died the session is discarded so the next cycle reconnects.
func (m *Manager) NextEvent(ctx context.Context) error {
	s := m.currentSession()
	if s == nil {
		return ErrNotConnected
	}

	raw, err := s.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Errorf("Error reading event: %v", err)
		if !s.Alive() {
			m.logger.Warn("Event delivery stopped, dropping session")
			m.discard(s)
		}
		return fmt.Errorf("failed to read event: %w", err)
	}

	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		m.logger.Warnf("Skipping malformed event: %v", err)
		return nil
	}
	m.publish(&ev)
	return nil
}

// Reconnect makes up to the configured number of connection attempts,
// sleeping 2^n seconds after failed attempt n when another one follows.
func (m *Manager) Reconnect(ctx context.Context) error {
	for attempt := 0; attempt < m.attempts; attempt++ {
		if m.Connected() {
			return nil
		}

		err := m.connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.WithField("attempt", attempt+1).Errorf("Connection attempt failed: %v", err)

		if attempt == m.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(Backoff(attempt)):
		}
	}

	// Fatal severity, but the worker keeps going; Run decides when to retry.
	m.logger.Logf(logrus.FatalLevel, "Unable to connect after %d attempts", m.attempts)
	return ErrRetriesExhausted
}

// Run is the worker loop. It reconnects whenever the session is down, waiting
// out the cooldown after an exhausted reconnect, and otherwise pulls events.
// It returns only when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Starting stream worker...")
	defer m.Close()

	for {
		if ctx.Err() != nil {
			m.logger.Info("Context cancelled, stopping stream worker")
			return nil
		}

		if !m.Connected() {
			if err := m.Reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				m.logger.Warnf("Retrying in %s", m.cooldown)
				select {
				case <-ctx.Done():
				case <-m.clock.After(m.cooldown):
				}
				continue
			}
		}

		if err := m.NextEvent(ctx); err != nil {
			if errors.Is(err, ErrNotConnected) {
				m.logger.Error("Event read attempted without a session")
				continue
			}
			if ctx.Err() == nil && m.Connected() {
				select {
				case <-ctx.Done():
				case <-m.clock.After(ReadErrorDelay):
				}
			}
		}
	}
}
