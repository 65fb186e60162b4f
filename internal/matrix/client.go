// Package matrix wraps the Matrix Client-Server API for the bridge.
// It exposes exactly the four operations the poll loop needs — send,
// backward-paginated fetch, join, whoami — over an access-token
// authenticated mautrix client. The wrapper never retries; retry and
// join-repair policy belongs to the caller.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// RoomEvent is one message observed in a Matrix room. Events are
// append-only on the homeserver; the bridge only ever reads them.
type RoomEvent struct {
	ID        string // homeserver-assigned event ID, dedup key
	Sender    string // full @user:domain form
	Body      string // plain-text body, empty for non-text events
	Timestamp int64  // origin_server_ts, monotonic per room
}

// TransportError is any HTTP-level failure talking to the homeserver.
type TransportError struct {
	Op         string // "send", "fetch", "join", "whoami"
	StatusCode int
	Code       string // Matrix errcode, e.g. M_FORBIDDEN
	Message    string
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("matrix %s: HTTP %d %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("matrix %s: %s", e.Op, e.Message)
}

// NotInRoom reports whether the error indicates the bot is not joined
// to the target room. The homeserver's membership status endpoint is
// not trustworthy (cached membership can disagree with send behavior),
// so this is the signal the caller uses to trigger a join-and-retry.
func (e *TransportError) NotInRoom() bool {
	return e.Code == "M_FORBIDDEN"
}

// InvalidToken reports whether the credential itself was rejected.
// This is fatal at startup, not a per-call condition.
func (e *TransportError) InvalidToken() bool {
	return e.Code == "M_UNKNOWN_TOKEN"
}

// Client is a thin bridge-oriented wrapper around mautrix.Client.
type Client struct {
	mx *mautrix.Client
}

// NewClient creates a client authenticated with a static access token.
func NewClient(homeserverURL, userID, accessToken string) (*Client, error) {
	mx, err := mautrix.NewClient(homeserverURL, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	mx.Client.Timeout = 30 * time.Second
	return &Client{mx: mx}, nil
}

// SendMessage posts an m.text message and returns the new event ID.
// Exactly one event is created on success. No retries.
func (c *Client) SendMessage(ctx context.Context, roomID, body string) (string, error) {
	resp, err := c.mx.SendText(ctx, id.RoomID(roomID), body)
	if err != nil {
		return "", wrapErr("send", err)
	}
	return string(resp.EventID), nil
}

// RecentMessages fetches up to limit m.room.message events, newest
// first (dir=b). Callers must reverse to chronological order before
// processing.
func (c *Client) RecentMessages(ctx context.Context, roomID string, limit int) ([]RoomEvent, error) {
	resp, err := c.mx.Messages(ctx, id.RoomID(roomID), "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, wrapErr("fetch", err)
	}

	events := make([]RoomEvent, 0, len(resp.Chunk))
	for _, evt := range resp.Chunk {
		if evt.Type != event.EventMessage {
			continue
		}
		// /messages returns raw content; parse before reading the body.
		if evt.Content.Parsed == nil {
			if err := evt.Content.ParseRaw(evt.Type); err != nil {
				slog.Debug("skipping unparseable event", "event_id", evt.ID, "error", err)
				continue
			}
		}
		body := ""
		if msg := evt.Content.AsMessage(); msg != nil {
			body = msg.Body
		}
		events = append(events, RoomEvent{
			ID:        string(evt.ID),
			Sender:    string(evt.Sender),
			Body:      body,
			Timestamp: evt.Timestamp,
		})
	}
	return events, nil
}

// JoinRoom joins a room by ID or alias. Idempotent: joining an
// already-joined room succeeds with no side effect.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	if strings.HasPrefix(roomIDOrAlias, "!") {
		resp, err := c.mx.JoinRoomByID(ctx, id.RoomID(roomIDOrAlias))
		if err != nil {
			return "", wrapErr("join", err)
		}
		return string(resp.RoomID), nil
	}
	resp, err := c.mx.JoinRoom(ctx, roomIDOrAlias, &mautrix.ReqJoinRoom{})
	if err != nil {
		return "", wrapErr("join", err)
	}
	return string(resp.RoomID), nil
}

// WhoAmI validates the credential and returns the bot's own user ID.
// Used at startup and for self-message detection.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	resp, err := c.mx.Whoami(ctx)
	if err != nil {
		return "", wrapErr("whoami", err)
	}
	return string(resp.UserID), nil
}

// wrapErr converts mautrix errors into the bridge's TransportError,
// preserving the Matrix errcode when the homeserver supplied one.
func wrapErr(op string, err error) error {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		te := &TransportError{Op: op, Message: err.Error()}
		if httpErr.Response != nil {
			te.StatusCode = httpErr.Response.StatusCode
		}
		if httpErr.RespError != nil {
			te.Code = httpErr.RespError.ErrCode
			te.Message = httpErr.RespError.Err
		}
		return te
	}
	return &TransportError{Op: op, Message: err.Error()}
}
