package bridge

import (
	"log/slog"
	"strings"

	"github.com/aria-labs/ariabridge/internal/matrix"
)

// Action is what a matched message asks the bridge to do.
type Action int

const (
	// ActionChat forwards the payload to the chat backend.
	ActionChat Action = iota
	// ActionInject writes the payload into the injection target.
	ActionInject
	// ActionStatus replies with bridge status.
	ActionStatus
	// ActionAllow authorizes the payload's user ID.
	ActionAllow
	// ActionRevoke de-authorizes the payload's user ID.
	ActionRevoke
)

// Routed is a matched message with its trigger syntax stripped.
type Routed struct {
	Action  Action
	Payload string
}

// Router pattern-matches message bodies against the trigger rules.
// Routing is stateless and memoryless across events: each message is
// matched on its own, in fixed priority order — slash commands first,
// then the @mention of the bridge's short name.
type Router struct {
	shortName string
}

// NewRouter creates a router triggered by the given short name.
func NewRouter(shortName string) *Router {
	return &Router{shortName: strings.ToLower(shortName)}
}

// Route matches an event body. The boolean is false on no match; a
// malformed command (missing argument) is also a no-match, logged as a
// warning rather than answered, to avoid noisy bot chatter.
func (r *Router) Route(evt matrix.RoomEvent) (Routed, bool) {
	body := strings.TrimSpace(evt.Body)

	// Slash commands, exact prefix match
	if strings.HasPrefix(body, "/") {
		return r.routeCommand(evt, body)
	}

	// @mention of the bridge's short name
	if payload, ok := r.stripMention(body); ok {
		if payload == "" {
			slog.Warn("mention with no content", "event_id", evt.ID, "sender", evt.Sender)
			return Routed{}, false
		}
		return Routed{Action: ActionChat, Payload: payload}, true
	}

	return Routed{}, false
}

func (r *Router) routeCommand(evt matrix.RoomEvent, body string) (Routed, bool) {
	cmd, arg, _ := strings.Cut(body, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/status":
		return Routed{Action: ActionStatus}, true
	case "/task":
		if arg == "" {
			slog.Warn("malformed /task: missing text", "event_id", evt.ID, "sender", evt.Sender)
			return Routed{}, false
		}
		return Routed{Action: ActionChat, Payload: arg}, true
	case "/inject":
		if arg == "" {
			slog.Warn("malformed /inject: missing command", "event_id", evt.ID, "sender", evt.Sender)
			return Routed{}, false
		}
		return Routed{Action: ActionInject, Payload: arg}, true
	case "/allow":
		if arg == "" {
			slog.Warn("malformed /allow: missing user ID", "event_id", evt.ID, "sender", evt.Sender)
			return Routed{}, false
		}
		return Routed{Action: ActionAllow, Payload: arg}, true
	case "/revoke":
		if arg == "" {
			slog.Warn("malformed /revoke: missing user ID", "event_id", evt.ID, "sender", evt.Sender)
			return Routed{}, false
		}
		return Routed{Action: ActionRevoke, Payload: arg}, true
	default:
		return Routed{}, false
	}
}

// stripMention reports whether the body addresses the bridge
// ("@shortname" anywhere, or a leading "shortname:") and returns the
// body with the trigger syntax removed. Matching is case-insensitive.
func (r *Router) stripMention(body string) (string, bool) {
	// An empty short name would turn every "@" into a trigger.
	if r.shortName == "" {
		return "", false
	}

	lower := strings.ToLower(body)

	if i := strings.Index(lower, "@"+r.shortName); i >= 0 {
		end := i + 1 + len(r.shortName)
		before := strings.TrimSpace(body[:i])
		after := strings.TrimSpace(body[end:])
		// A trailing colon after the mention is part of the trigger
		after = strings.TrimSpace(strings.TrimPrefix(after, ":"))
		switch {
		case before == "":
			return after, true
		case after == "":
			return before, true
		default:
			return before + " " + after, true
		}
	}

	if strings.HasPrefix(lower, r.shortName+":") {
		return strings.TrimSpace(body[len(r.shortName)+1:]), true
	}

	return "", false
}
