package bridge

import (
	"testing"

	"github.com/aria-labs/ariabridge/internal/matrix"
)

func routeBody(t *testing.T, body string) (Routed, bool) {
	t.Helper()
	r := NewRouter("aria")
	return r.Route(matrix.RoomEvent{ID: "e1", Sender: "@alice:s", Body: body})
}

func TestRouteCommands(t *testing.T) {
	tests := []struct {
		body    string
		action  Action
		payload string
	}{
		{"/task summarize the logs", ActionChat, "summarize the logs"},
		{"/status", ActionStatus, ""},
		{"/inject git pull && make", ActionInject, "git pull && make"},
		{"/allow @carol:s", ActionAllow, "@carol:s"},
		{"/revoke @carol:s", ActionRevoke, "@carol:s"},
	}

	for _, tt := range tests {
		routed, ok := routeBody(t, tt.body)
		if !ok {
			t.Errorf("Route(%q): no match", tt.body)
			continue
		}
		if routed.Action != tt.action {
			t.Errorf("Route(%q): action = %v, want %v", tt.body, routed.Action, tt.action)
		}
		if routed.Payload != tt.payload {
			t.Errorf("Route(%q): payload = %q, want %q", tt.body, routed.Payload, tt.payload)
		}
	}
}

func TestRouteMalformedCommandsAreNoMatch(t *testing.T) {
	for _, body := range []string{"/task", "/task   ", "/inject", "/allow", "/revoke", "/unknown thing"} {
		if _, ok := routeBody(t, body); ok {
			t.Errorf("Route(%q): matched, want no match", body)
		}
	}
}

func TestRouteMention(t *testing.T) {
	tests := []struct {
		body    string
		payload string
	}{
		{"@aria hello", "hello"},
		{"@ARIA hello there", "hello there"},
		{"hey @aria what's the status", "hey what's the status"},
		{"aria: restart the build", "restart the build"},
		{"Aria: restart the build", "restart the build"},
	}

	for _, tt := range tests {
		routed, ok := routeBody(t, tt.body)
		if !ok {
			t.Errorf("Route(%q): no match", tt.body)
			continue
		}
		if routed.Action != ActionChat {
			t.Errorf("Route(%q): action = %v, want ActionChat", tt.body, routed.Action)
		}
		if routed.Payload != tt.payload {
			t.Errorf("Route(%q): payload = %q, want %q", tt.body, routed.Payload, tt.payload)
		}
	}
}

func TestRouteEmptyShortNameNeverMatchesMentions(t *testing.T) {
	// With no short name configured there is no mention trigger; an
	// empty name must not degrade into matching every "@" in a body.
	r := NewRouter("")
	for _, body := range []string{
		"hey @carol:s can you look at this",
		"@carol:s ping",
		": leading colon",
	} {
		if routed, ok := r.Route(matrix.RoomEvent{ID: "e1", Sender: "@alice:s", Body: body}); ok {
			t.Errorf("Route(%q): matched %+v, want no match", body, routed)
		}
	}

	// Slash commands still work without a short name.
	if _, ok := r.Route(matrix.RoomEvent{ID: "e2", Sender: "@alice:s", Body: "/status"}); !ok {
		t.Error("Route(/status): no match with empty short name")
	}
}

func TestRouteNoMatch(t *testing.T) {
	for _, body := range []string{
		"unrelated chatter",
		"@someoneelse hello",
		"@aria",   // mention with nothing to forward
		"@aria  ", // same, whitespace only
	} {
		if routed, ok := routeBody(t, body); ok {
			t.Errorf("Route(%q): matched %+v, want no match", body, routed)
		}
	}
}
