package jsondb

import (
	"maps"
	"slices"
)

// Event types.
const (
	EventUpdated = "jsondb-updated"
	EventDeleted = "jsondb-deleted"
)

// Event reports a committed change at Path.
type Event struct {
	Type string
	Path string
}

// Subscribe registers fn for change events and returns a function that
// removes it. Events are delivered synchronously, after commit, on the
// goroutine that made the change, in subscription order.
func (db *DB) Subscribe(fn func(Event)) (unsubscribe func()) {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	id := db.nextID
	db.nextID++
	db.subs[id] = fn
	return func() {
		db.subMu.Lock()
		defer db.subMu.Unlock()
		delete(db.subs, id)
	}
}

func (db *DB) publish(ev Event) {
	db.subMu.Lock()
	subs := make([]func(Event), 0, len(db.subs))
	for _, id := range slices.Sorted(maps.Keys(db.subs)) {
		subs = append(subs, db.subs[id])
	}
	db.subMu.Unlock()

	db.metrics.RecordEvent(ev.Type)
	for _, fn := range subs {
		fn(ev)
	}
}
