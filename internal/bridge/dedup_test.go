package bridge

import (
	"fmt"
	"testing"

	"github.com/aria-labs/ariabridge/internal/cursor"
	"github.com/aria-labs/ariabridge/internal/matrix"
)

const testSelf = "@bot:s"

// batch builds a newest-first fetch result from oldest-first args,
// mirroring what the messages endpoint returns.
func batch(events ...matrix.RoomEvent) []matrix.RoomEvent {
	out := make([]matrix.RoomEvent, len(events))
	for i, evt := range events {
		out[len(events)-1-i] = evt
	}
	return out
}

func evt(id, sender, body string, ts int64) matrix.RoomEvent {
	return matrix.RoomEvent{ID: id, Sender: sender, Body: body, Timestamp: ts}
}

func TestFilterNewReversesToChronological(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})
	fresh := d.FilterNew(batch(
		evt("e1", "@alice:s", "first", 100),
		evt("e2", "@alice:s", "second", 200),
		evt("e3", "@alice:s", "third", 300),
	))

	if len(fresh) != 3 {
		t.Fatalf("got %d events, want 3", len(fresh))
	}
	for i, want := range []string{"e1", "e2", "e3"} {
		if fresh[i].ID != want {
			t.Errorf("fresh[%d].ID = %q, want %q", i, fresh[i].ID, want)
		}
	}
}

func TestFilterNewAfterCursor(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{EventID: "e2", Timestamp: 200})
	fresh := d.FilterNew(batch(
		evt("e1", "@alice:s", "a", 100),
		evt("e2", "@alice:s", "b", 200),
		evt("e3", "@alice:s", "c", 300),
	))

	if len(fresh) != 1 || fresh[0].ID != "e3" {
		t.Fatalf("got %v, want just e3", fresh)
	}
}

func TestAtMostOnceAcrossPolls(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})
	b := batch(
		evt("e1", "@alice:s", "a", 100),
		evt("e2", "@alice:s", "b", 200),
	)

	routed := 0
	for iter := 0; iter < 3; iter++ {
		for _, e := range d.FilterNew(b) {
			routed++
			d.MarkProcessed(e)
		}
	}
	if routed != 2 {
		t.Errorf("routed %d events across repeated polls, want 2", routed)
	}
}

func TestCursorOutsideWindowUsesRespondedGuard(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})

	first := batch(evt("e1", "@alice:s", "a", 100))
	for _, e := range d.FilterNew(first) {
		d.MarkProcessed(e)
	}

	// Simulate the cursor event having scrolled out of the window while
	// e1 reappears: cursor is e1, but the new batch doesn't contain it...
	second := batch(
		evt("e2", "@alice:s", "b", 200),
		evt("e3", "@alice:s", "c", 300),
	)
	fresh := d.FilterNew(second)
	if len(fresh) != 2 {
		t.Fatalf("got %d events, want 2 (whole batch unseen)", len(fresh))
	}

	// ...and when a processed event does reappear without the cursor,
	// the responded set must still suppress it.
	for _, e := range fresh {
		d.MarkProcessed(e)
	}
	third := batch(
		evt("e2", "@alice:s", "b", 200),
		evt("e4", "@alice:s", "d", 400),
	)
	fresh = d.FilterNew(third)
	if len(fresh) != 1 || fresh[0].ID != "e4" {
		t.Fatalf("got %v, want just e4", fresh)
	}
}

func TestCursorTimestampDropsStaleEvents(t *testing.T) {
	// Cursor at ts=300 but its event is not in the batch: events at or
	// before that timestamp were already seen.
	d := NewDeduper(testSelf, cursor.Cursor{EventID: "gone", Timestamp: 300})
	fresh := d.FilterNew(batch(
		evt("e1", "@alice:s", "a", 100),
		evt("e2", "@alice:s", "b", 400),
	))
	if len(fresh) != 1 || fresh[0].ID != "e2" {
		t.Fatalf("got %v, want just e2", fresh)
	}
}

func TestCursorOutsideWindowKeepsSameMillisecondEvents(t *testing.T) {
	// Distinct events can share an origin_server_ts. When the cursor's
	// event fell out of the window, an unseen event at the cursor's own
	// millisecond must still be processed.
	d := NewDeduper(testSelf, cursor.Cursor{})
	for _, e := range d.FilterNew(batch(evt("e1", "@alice:s", "a", 300))) {
		d.MarkProcessed(e)
	}

	fresh := d.FilterNew(batch(evt("e2", "@alice:s", "b", 300)))
	if len(fresh) != 1 || fresh[0].ID != "e2" {
		t.Fatalf("got %v, want just e2", fresh)
	}
	d.MarkProcessed(fresh[0])

	// The already-processed same-millisecond event stays suppressed by
	// the responded set.
	if fresh := d.FilterNew(batch(evt("e1", "@alice:s", "a", 300))); len(fresh) != 0 {
		t.Fatalf("got %v, want none", fresh)
	}
}

func TestShouldRouteSuppressesSelf(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})

	bodies := []string{"hello", "@bot hello", "/task do something", ""}
	for _, body := range bodies {
		if ok, reason := d.ShouldRoute(evt("e1", testSelf, body, 100)); ok {
			t.Errorf("self message with body %q routed (reason=%q)", body, reason)
		}
	}

	if ok, _ := d.ShouldRoute(evt("e2", "@alice:s", "hello", 100)); !ok {
		t.Error("non-self message with body was not routed")
	}
	if ok, reason := d.ShouldRoute(evt("e3", "@alice:s", "", 100)); ok || reason != "empty body" {
		t.Errorf("empty body routed: ok=%v reason=%q", ok, reason)
	}
}

func TestRespondedGuardIsBounded(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})
	for i := 0; i < respondedCap*2; i++ {
		d.MarkProcessed(evt(fmt.Sprintf("e%d", i), "@alice:s", "x", int64(i)))
	}
	if len(d.responded) != respondedCap {
		t.Errorf("responded set size = %d, want %d", len(d.responded), respondedCap)
	}
	if len(d.order) != respondedCap {
		t.Errorf("order list size = %d, want %d", len(d.order), respondedCap)
	}
}

func TestMarkProcessedAdvancesCursor(t *testing.T) {
	d := NewDeduper(testSelf, cursor.Cursor{})
	d.MarkProcessed(evt("e9", "@alice:s", "x", 900))

	cur := d.Cursor()
	if cur.EventID != "e9" || cur.Timestamp != 900 {
		t.Errorf("cursor = %+v, want {e9 900}", cur)
	}
}
