// Package ui renders the tracked changes as a colored table.
package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/juju/ansiterm"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/dispatch"
	"gerrit-watch/internal/registry"
)

const clearScreen = "\x1b[H\x1b[2J"

// StatusColor is the row color for each status. Rows with other statuses
// use the terminal default.
var StatusColor = map[registry.Status]*ansiterm.Context{
	registry.StatusMerged:    ansiterm.Foreground(ansiterm.BrightBlue),
	registry.StatusRestored:  ansiterm.Foreground(ansiterm.Yellow),
	registry.StatusVerified:  ansiterm.Foreground(ansiterm.Green),
	registry.StatusSucceeded: ansiterm.Foreground(ansiterm.BrightGreen),
	registry.StatusApproved:  ansiterm.Foreground(ansiterm.BrightGreen),
	registry.StatusFailed:    ansiterm.Foreground(ansiterm.BrightRed),
	registry.StatusRejected:  ansiterm.Foreground(ansiterm.Red),
}

var (
	connectedColor    = ansiterm.Foreground(ansiterm.Green)
	disconnectedColor = ansiterm.Foreground(ansiterm.BrightRed)
)

// Connectivity reports whether the event source is reachable
type Connectivity interface {
	Connected() bool
}

// Options tunes a Screen
type Options struct {
	// Clear redraws from the top-left corner on every render.
	Clear bool
	// Color forces colored output; otherwise it is enabled for terminals only.
	Color bool
	Clock clock.Clock
}

// Screen drains queued events into the dispatcher and redraws the table.
// All registry access happens on the goroutine calling Refresh or Loop.
type Screen struct {
	dispatcher *dispatch.Dispatcher
	events     dispatch.Source
	conn       Connectivity
	writer     *ansiterm.Writer
	clock      clock.Clock
	clear      bool
	logger     *logrus.Logger
}

// NewScreen creates a Screen writing to out
func NewScreen(d *dispatch.Dispatcher, events dispatch.Source, conn Connectivity, out io.Writer, opts Options, logger *logrus.Logger) *Screen {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	writer := ansiterm.NewWriter(out)
	if opts.Color {
		writer.SetColorCapable(true)
	}
	return &Screen{
		dispatcher: d,
		events:     events,
		conn:       conn,
		writer:     writer,
		clock:      opts.Clock,
		clear:      opts.Clear,
		logger:     logger,
	}
}

// Refresh applies every pending event and redraws. It returns the number of
// events applied.
func (s *Screen) Refresh() int {
	n := s.dispatcher.Pump(s.events)
	if n > 0 {
		s.logger.Debugf("Applied %d events", n)
	}
	s.Render(s.clock.Now())
	return n
}

// Loop refreshes now and then once per interval until ctx is done
func (s *Screen) Loop(ctx context.Context, interval time.Duration) error {
	s.logger.Infof("Refreshing every %s", interval)
	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(interval):
			s.Refresh()
		}
	}
}

// Render draws the change table followed by the summary line
func (s *Screen) Render(now time.Time) {
	w := s.writer
	if s.clear {
		fmt.Fprint(w, clearScreen)
	}

	changes := s.dispatcher.Registry().Snapshot()
	table := uitable.New()
	table.MaxColWidth = registry.TextWidth
	table.AddRow("PROJECT", "SUBJECT", "OWNER", "TOPIC", "CREATED", "STATUS", "COMMENT")
	for _, c := range changes {
		table.AddRow(c.Project, c.Subject, c.Username, c.Topic, c.CreatedOn, string(c.Status), c.Comment)
	}

	// Colors are applied per rendered line so they do not skew column widths.
	lines := strings.Split(table.String(), "\n")
	fmt.Fprintln(w, lines[0])
	for i, line := range lines[1:] {
		if ctx, ok := StatusColor[changes[i].Status]; ok {
			ctx.Fprintf(w, "%s", line)
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s  ", s.dispatcher.Stats().Summary(now))
	if s.conn.Connected() {
		connectedColor.Fprintf(w, "connected")
	} else {
		disconnectedColor.Fprintf(w, "disconnected")
	}
	fmt.Fprintln(w)
}
