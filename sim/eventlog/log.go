package eventlog

import (
	"fmt"
	"slices"
)

// Log is an append-only, sequence-numbered event list.
// Not safe for concurrent use.
type Log struct {
	events []Event
}

// New creates an empty Log.
func New() *Log {
	return &Log{events: make([]Event, 0, 256)}
}

// Append stamps the next sequence number on ev, stores it and returns it.
func (l *Log) Append(ev Event) Event {
	ev.Seq = int64(len(l.events))
	l.events = append(l.events, ev)
	return ev
}

// Restore appends an event that already carries a sequence number; the
// number must be the next one.
func (l *Log) Restore(ev Event) error {
	if want := int64(len(l.events)); ev.Seq != want {
		return fmt.Errorf("event sequence gap: got %d, want %d", ev.Seq, want)
	}
	l.events = append(l.events, ev)
	return nil
}

// Len returns the number of events.
func (l *Log) Len() int {
	return len(l.events)
}

// Since returns a copy of the events with Seq >= seq.
func (l *Log) Since(seq int64) []Event {
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.events)) {
		return nil
	}
	return slices.Clone(l.events[seq:])
}

// All returns a copy of every event. Nested slices are shared and must
// not be modified.
func (l *Log) All() []Event {
	return slices.Clone(l.events)
}

// Filter returns the events matching f, in log order.
func (l *Log) Filter(f Filter) []Event {
	var out []Event
	for _, ev := range l.events {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	FromTick *int64
	ToTick   *int64 // inclusive
	AgentID  string
	TxID     string
	Kinds    []Kind
}

// Match reports whether ev passes every set criterion. An agent matches
// as actor, counterparty, leg party or penalized agent; a transaction
// matches as subject, parent, leg, child or write-off.
func (f Filter) Match(ev Event) bool {
	if f.FromTick != nil && ev.Tick < *f.FromTick {
		return false
	}
	if f.ToTick != nil && ev.Tick > *f.ToTick {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if f.AgentID != "" && !involvesAgent(ev, f.AgentID) {
		return false
	}
	if f.TxID != "" && !involvesTx(ev, f.TxID) {
		return false
	}
	return true
}

func involvesAgent(ev Event, id string) bool {
	if ev.AgentID == id || ev.CounterpartyID == id {
		return true
	}
	for _, l := range ev.Legs {
		if l.SenderID == id || l.ReceiverID == id {
			return true
		}
	}
	for _, p := range ev.Penalties {
		if p.AgentID == id {
			return true
		}
	}
	return false
}

func involvesTx(ev Event, id string) bool {
	if ev.TxID == id || ev.ParentID == id {
		return true
	}
	for _, l := range ev.Legs {
		if l.TxID == id {
			return true
		}
	}
	for _, c := range ev.Children {
		if c.TxID == id {
			return true
		}
	}
	return slices.Contains(ev.WrittenOff, id)
}
