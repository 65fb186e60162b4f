package bridge

import (
	"log/slog"

	"github.com/aria-labs/ariabridge/internal/cursor"
	"github.com/aria-labs/ariabridge/internal/matrix"
)

// respondedCap bounds the belt-and-suspenders duplicate guard. 256
// event IDs comfortably covers many fetch windows at the default
// limit of 10.
const respondedCap = 256

// Deduper tracks the last processed event per room so repeated polling
// handles each event at most once. The cursor is the primary guard; a
// bounded set of recently processed event IDs is the fallback for when
// the cursor's event falls outside the fetch window.
type Deduper struct {
	selfID string
	cur    cursor.Cursor

	responded map[string]struct{}
	order     []string // insertion order, for eviction
}

// NewDeduper creates a deduper for the bridge's own user ID, resuming
// from a previously persisted cursor (zero value means "start from
// now" — the caller seeds it before the first poll).
func NewDeduper(selfID string, cur cursor.Cursor) *Deduper {
	return &Deduper{
		selfID:    selfID,
		cur:       cur,
		responded: make(map[string]struct{}, respondedCap),
	}
}

// Cursor returns the current cursor position.
func (d *Deduper) Cursor() cursor.Cursor {
	return d.cur
}

// FilterNew takes a batch as returned by the fetch (newest first),
// reverses it to chronological order, and returns the events strictly
// after the cursor. If the cursor's event is not found in the batch
// (it fell outside the fetch window), the whole batch is conservatively
// treated as unseen apart from timestamp and responded-set filtering.
func (d *Deduper) FilterNew(batch []matrix.RoomEvent) []matrix.RoomEvent {
	// Reverse newest-first to oldest-first
	events := make([]matrix.RoomEvent, len(batch))
	for i, evt := range batch {
		events[len(batch)-1-i] = evt
	}

	start := 0
	found := false
	if d.cur.EventID != "" {
		for i, evt := range events {
			if evt.ID == d.cur.EventID {
				start = i + 1
				found = true
				break
			}
		}
	}

	var fresh []matrix.RoomEvent
	for _, evt := range events[start:] {
		if !found && d.cur.Timestamp > 0 && evt.Timestamp < d.cur.Timestamp {
			// Cursor fell out of the window; anything strictly before its
			// timestamp has already been seen. Events sharing the cursor's
			// millisecond are kept and left to the responded set, so a
			// distinct same-timestamp event is never silently skipped.
			continue
		}
		if _, seen := d.responded[evt.ID]; seen {
			slog.Debug("duplicate guard hit", "event_id", evt.ID)
			continue
		}
		fresh = append(fresh, evt)
	}
	return fresh
}

// ShouldRoute reports whether an event needs routing. Self-sent events
// (the primary defense against reply-to-own-reply loops) and empty
// bodies are skipped; the caller still advances the cursor past them.
func (d *Deduper) ShouldRoute(evt matrix.RoomEvent) (bool, string) {
	if evt.Sender == d.selfID {
		return false, "self"
	}
	if evt.Body == "" {
		return false, "empty body"
	}
	return true, ""
}

// MarkProcessed advances the cursor past the event and records it in
// the duplicate guard. Called after each event, whether it was routed,
// skipped, or its handling failed — an event is never reprocessed
// merely because its backend call failed.
func (d *Deduper) MarkProcessed(evt matrix.RoomEvent) {
	d.cur = cursor.Cursor{EventID: evt.ID, Timestamp: evt.Timestamp}

	if _, ok := d.responded[evt.ID]; ok {
		return
	}
	d.responded[evt.ID] = struct{}{}
	d.order = append(d.order, evt.ID)
	if len(d.order) > respondedCap {
		delete(d.responded, d.order[0])
		d.order = d.order[1:]
	}
}
