// Package eventlog provides an ordered, indexed view over one combat
// session's events: identity-robust position lookup, bounded search,
// interaction grouping, and kind iteration.
package eventlog

import (
	"iter"
	"reflect"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

// Log is an immutable ordered sequence of events for one session.
// Message ordering keys are strictly increasing across message-kind events.
type Log struct {
	events []*model.Event

	groups     []*Group
	groupsByID map[string]*Group
}

// Group holds the events sharing one interaction id, in log order.
type Group struct {
	ID     string
	Events []*model.Event
}

// New builds a log over the given events. The slice is not copied; callers
// must not mutate it afterwards.
func New(events []*model.Event) *Log {
	return &Log{events: events}
}

// Len returns the number of events in the log.
func (l *Log) Len() int { return len(l.events) }

// At returns the event at position i.
func (l *Log) At(i int) *model.Event { return l.events[i] }

// Events returns the underlying ordered event slice.
func (l *Log) Events() []*model.Event { return l.events }

// PositionOf returns the log position of an event.
//
// Message-kind events are located by ordering key, because upstream stages
// replace message events wholesale while keeping the same message id. All
// other kinds are located by structural equality. Absence is a hard error.
func (l *Log) PositionOf(ev *model.Event) (int, error) {
	if ev.Kind == model.KindMessage {
		for i, e := range l.events {
			if e.Kind == model.KindMessage && e.MessageID == ev.MessageID {
				return i, nil
			}
		}
		return 0, scriberr.EventNotFound(string(ev.Kind), ev.MessageID)
	}
	for i, e := range l.events {
		if e == ev || reflect.DeepEqual(e, ev) {
			return i, nil
		}
	}
	return 0, scriberr.EventNotFound(string(ev.Kind), ev.InteractionID)
}

// Find returns the first event matching pred within the half-open position
// window [after, before), or nil if none match. A negative before means the
// end of the log. Absence is a normal outcome, not an error.
func (l *Log) Find(pred func(*model.Event) bool, after, before int) *model.Event {
	if after < 0 {
		after = 0
	}
	if before < 0 || before > len(l.events) {
		before = len(l.events)
	}
	for i := after; i < before; i++ {
		if pred(l.events[i]) {
			return l.events[i]
		}
	}
	return nil
}

// FindLast returns the last event matching pred at or before position at,
// or nil if none match.
func (l *Log) FindLast(pred func(*model.Event) bool, at int) *model.Event {
	if at >= len(l.events) {
		at = len(l.events) - 1
	}
	for i := at; i >= 0; i-- {
		if pred(l.events[i]) {
			return l.events[i]
		}
	}
	return nil
}

// AllOfKind returns a restartable in-order iterator over events of one kind.
func (l *Log) AllOfKind(kind model.EventKind) iter.Seq[*model.Event] {
	return func(yield func(*model.Event) bool) {
		for _, e := range l.events {
			if e.Kind == kind {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// FirstOfKind returns the first event of the given kind, or nil.
func (l *Log) FirstOfKind(kind model.EventKind) *model.Event {
	for e := range l.AllOfKind(kind) {
		return e
	}
	return nil
}

// LastOfKind returns the last event of the given kind, or nil.
func (l *Log) LastOfKind(kind model.EventKind) *model.Event {
	var last *model.Event
	for e := range l.AllOfKind(kind) {
		last = e
	}
	return last
}

// GroupByInteraction partitions the log into ordered groups by interaction
// id. Every event belongs to exactly one group; groups appear in the order
// their first event appears in the log. Events without an interaction id
// each form their own singleton group.
func (l *Log) GroupByInteraction() []*Group {
	l.buildGroups()
	return l.groups
}

// GroupByID returns the group for an interaction id, or nil.
func (l *Log) GroupByID(id string) *Group {
	l.buildGroups()
	return l.groupsByID[id]
}

func (l *Log) buildGroups() {
	if l.groups != nil || l.groupsByID != nil {
		return
	}
	l.groupsByID = make(map[string]*Group)
	for _, e := range l.events {
		if e.InteractionID == "" {
			l.groups = append(l.groups, &Group{Events: []*model.Event{e}})
			continue
		}
		g, ok := l.groupsByID[e.InteractionID]
		if !ok {
			g = &Group{ID: e.InteractionID}
			l.groupsByID[e.InteractionID] = g
			l.groups = append(l.groups, g)
		}
		g.Events = append(g.Events, e)
	}
	if l.groups == nil {
		l.groups = []*Group{}
	}
}

// FirstOfKind returns the group's first event of the given kind, or nil.
func (g *Group) FirstOfKind(kind model.EventKind) *model.Event {
	for _, e := range g.Events {
		if e.Kind == kind {
			return e
		}
	}
	return nil
}

// AllOfKind returns the group's events of the given kind, in order.
func (g *Group) AllOfKind(kind model.EventKind) []*model.Event {
	var out []*model.Event
	for _, e := range g.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// First returns the group's first event in log order.
func (g *Group) First() *model.Event {
	if len(g.Events) == 0 {
		return nil
	}
	return g.Events[0]
}
