package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gerrit-watch/internal/dispatch"
	"gerrit-watch/internal/models"
	"gerrit-watch/internal/queue"
	"gerrit-watch/internal/registry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type connectivity bool

func (c connectivity) Connected() bool { return bool(c) }

func created(id, project, subject string) *models.Event {
	return &models.Event{
		Type:     models.TypePatchsetCreated,
		Change:   models.Change{URL: id, Project: project, Subject: subject},
		Uploader: &models.Account{Username: "jdoe"},
	}
}

func newScreen(t *testing.T, conn Connectivity, opts Options) (*Screen, *queue.Queue, *syncBuffer) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	q := queue.New()
	out := &syncBuffer{}
	d := dispatch.NewDispatcher(registry.New(10), logger)
	return NewScreen(d, q, conn, out, opts, logger), q, out
}

func TestRenderEmpty(t *testing.T) {
	s, _, out := newScreen(t, connectivity(false), Options{})
	s.Render(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))

	text := out.String()
	assert.Contains(t, text, "PROJECT")
	assert.Contains(t, text, "2024-01-02 03:04:05  events:0")
	assert.Contains(t, text, "disconnected")
	assert.NotContains(t, text, "\x1b[")
}

func TestRefreshAppliesPendingEvents(t *testing.T) {
	s, q, out := newScreen(t, connectivity(true), Options{})
	q.Push(created("A", "core", "Fix the build"))
	q.Push(created("B", "docs", "Update README"))
	q.Push(&models.Event{Type: models.TypeChangeMerged, Change: models.Change{URL: "A"}})

	assert.Equal(t, 3, s.Refresh())
	assert.Equal(t, 0, q.Len())

	lines := strings.Split(out.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	// Newest change first.
	assert.Contains(t, lines[1], "Update README")
	assert.Contains(t, lines[2], "Fix the build")
	assert.Contains(t, lines[2], "Merged")
	assert.Contains(t, out.String(), "events:3")
	assert.Contains(t, out.String(), "connected")
	assert.NotContains(t, out.String(), "disconnected")
}

func TestRenderColorsByStatus(t *testing.T) {
	s, q, out := newScreen(t, connectivity(true), Options{Color: true, Clear: true})
	q.Push(created("A", "core", "Fix the build"))
	q.Push(&models.Event{Type: models.TypeChangeMerged, Change: models.Change{URL: "A"}})
	s.Refresh()

	text := out.String()
	assert.True(t, strings.HasPrefix(text, clearScreen))
	assert.Contains(t, text, "\x1b[")
}

func TestLoopRefreshesEveryInterval(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))
	s, q, out := newScreen(t, connectivity(true), Options{Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Loop(ctx, time.Second) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "events:0") },
		5*time.Second, 10*time.Millisecond)

	q.Push(created("A", "core", "Fix the build"))
	require.NoError(t, clk.WaitAdvance(time.Second, 5*time.Second, 1))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Fix the build") },
		5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
