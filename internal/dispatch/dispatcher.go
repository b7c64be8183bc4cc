// Package dispatch applies stream events to the change registry.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/models"
	"gerrit-watch/internal/registry"
)

// ErrUnknownEventType is returned for events whose type tag is not handled
var ErrUnknownEventType = errors.New("unknown event type")

// Source is the non-blocking side of the event queue
type Source interface {
	Drain(max int) []*models.Event
}

// Dispatcher classifies events and applies them to a registry. It must be
// driven from the goroutine that owns the registry.
type Dispatcher struct {
	registry *registry.Registry
	stats    Stats
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher that mutates reg
func NewDispatcher(reg *registry.Registry, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		logger:   logger,
	}
}

// Registry returns the registry the dispatcher writes to
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Stats returns a copy of the event counters
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

// Dispatch applies a single event. Events for changes outside the window are
// ignored, except patchset-created which adds the change.
func (d *Dispatcher) Dispatch(ev *models.Event) error {
	d.stats.Total++

	switch ev.Type {
	case models.TypePatchsetCreated, models.TypeCommentAdded,
		models.TypeChangeMerged, models.TypeChangeRestored:
	default:
		d.stats.Unknown++
		return fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	d.stats.count(ev.Type)

	switch ev.Type {
	case models.TypePatchsetCreated:
		d.patchsetCreated(ev)
	case models.TypeCommentAdded:
		d.commentAdded(ev)
	case models.TypeChangeMerged:
		d.changeMerged(ev)
	case models.TypeChangeRestored:
		d.changeRestored(ev)
	}
	return nil
}

// Pump dispatches everything currently pending in src without blocking and
// returns the number of events handled.
func (d *Dispatcher) Pump(src Source) int {
	events := src.Drain(0)
	for _, ev := range events {
		if err := d.Dispatch(ev); err != nil {
			d.logger.WithField("change", ev.Change.Identity()).Errorf("Error dispatching event: %v", err)
		}
	}
	return len(events)
}

func (d *Dispatcher) patchsetCreated(ev *models.Event) {
	id := ev.Change.Identity()
	if id == "" {
		d.logger.Warnf("Ignoring %s event for change without url or id (project %q)", ev.Type, ev.Change.Project)
		return
	}
	if _, ok := d.registry.Find(id); ok {
		d.logger.Debugf("Change %s already tracked", id)
		return
	}

	uploader := ev.Uploader
	if uploader == nil && ev.PatchSet != nil {
		uploader = ev.PatchSet.Uploader
	}

	change := &registry.Change{
		ID:        id,
		Username:  uploader.DisplayName(),
		Topic:     ev.Change.Topic,
		Project:   ev.Change.Project,
		Subject:   registry.Truncate(ev.Change.Subject, registry.TextWidth),
		CreatedOn: ev.CreatedOn().Format(),
		Status:    registry.StatusOpen,
	}
	if evicted := d.registry.InsertHead(change); evicted != nil {
		d.logger.Debugf("Evicted change %s", evicted.ID)
	}
	d.logger.Debugf("Tracking change %s (%s)", id, ev.Change.Project)
}

func (d *Dispatcher) commentAdded(ev *models.Event) {
	change, ok := d.registry.Find(ev.Change.Identity())
	if !ok {
		return
	}
	if ev.Comment != "" {
		change.Comment = registry.Truncate(ev.Comment, registry.TextWidth)
	}
	change.Status = DeriveStatus(ev.Approvals)
}

func (d *Dispatcher) changeMerged(ev *models.Event) {
	change, ok := d.registry.Find(ev.Change.Identity())
	if !ok {
		return
	}
	change.Status = registry.StatusMerged
}

func (d *Dispatcher) changeRestored(ev *models.Event) {
	change, ok := d.registry.Find(ev.Change.Identity())
	if !ok {
		return
	}
	if ev.Reason != "" {
		change.Comment = registry.Truncate(ev.Reason, registry.TextWidth)
	}
	change.Status = registry.StatusRestored
}
