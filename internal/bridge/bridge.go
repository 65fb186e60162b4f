// Package bridge implements the Matrix event bridge: the poll loop
// that fetches room events, filters and authorizes them, routes
// matched messages to an inference or injection backend, and posts the
// responses back to the room.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/aria-labs/ariabridge/internal/backend"
	"github.com/aria-labs/ariabridge/internal/cursor"
	"github.com/aria-labs/ariabridge/internal/matrix"
)

// maxMessageLen is where outgoing messages get split into chunks.
const maxMessageLen = 4000

// RoomClient is the Matrix surface the bridge needs. Satisfied by
// *matrix.Client; faked in tests.
type RoomClient interface {
	SendMessage(ctx context.Context, roomID, body string) (string, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]matrix.RoomEvent, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
	WhoAmI(ctx context.Context) (string, error)
}

// CursorStore persists the dedup cursor across restarts. Satisfied by
// *cursor.Store.
type CursorStore interface {
	Load(roomID string) (cursor.Cursor, error)
	Save(roomID string, c cursor.Cursor) error
}

// Bridge is one bridge instance: one room, one credential identity,
// one cursor. Multiple instances share no state and need no
// coordination beyond the homeserver's own consistency.
type Bridge struct {
	cfg     *Config
	client  RoomClient
	cursors CursorStore
	auth    *AuthSet
	router  *Router
	deduper *Deduper

	chat   backend.Invoker // nil when no chat backend configured
	inject backend.Invoker // nil when no injection target configured

	selfID    string
	startedAt time.Time
	processed atomic.Int64
	healthy   atomic.Bool
}

// New wires a bridge from validated configuration. Backends are
// constructed here; an unknown backend kind is a startup error.
func New(cfg *Config, client RoomClient, cursors CursorStore) (*Bridge, error) {
	// Config defaults run at load time, before command-line overrides
	// land, so the short name is re-derived here from the final user ID.
	shortName := cfg.ShortName
	if shortName == "" {
		shortName = localpart(cfg.BotUserID)
	}

	b := &Bridge{
		cfg:       cfg,
		client:    client,
		cursors:   cursors,
		auth:      NewAuthSet(cfg.AuthorizedSenders),
		router:    NewRouter(shortName),
		startedAt: time.Now(),
	}

	timeout := cfg.BackendTimeoutDuration()
	if target, ok := cfg.Target(cfg.ChatBackend); ok {
		inv, err := backend.New(target, timeout, cfg.AuthorizedSenders)
		if err != nil {
			return nil, fmt.Errorf("chat backend: %w", err)
		}
		b.chat = inv
	}
	if target, ok := cfg.Target(cfg.InjectBackend); ok {
		inv, err := backend.New(target, timeout, nil)
		if err != nil {
			return nil, fmt.Errorf("inject backend: %w", err)
		}
		b.inject = inv
	}
	if b.chat == nil && b.inject == nil {
		slog.Warn("no backends configured — only /status will answer")
	}

	return b, nil
}

// Run validates the credential, joins the room, and enters the poll
// loop. It blocks until ctx is cancelled; per-event errors never abort
// the loop. The only fatal conditions are credential rejection and an
// unusable cursor store.
func (b *Bridge) Run(ctx context.Context) error {
	userID, err := b.client.WhoAmI(ctx)
	if err != nil {
		var te *matrix.TransportError
		if errors.As(err, &te) && te.InvalidToken() {
			return fmt.Errorf("credential rejected: %w", err)
		}
		return fmt.Errorf("whoami: %w", err)
	}
	b.selfID = userID
	slog.Info("bridge identity confirmed", "user", userID, "instance", b.cfg.InstanceName)

	// Idempotent join; a failure here is not fatal — the send path
	// repairs membership on demand.
	if _, err := b.client.JoinRoom(ctx, b.cfg.RoomID); err != nil {
		slog.Warn("initial join failed, relying on send-time repair", "room", b.cfg.RoomID, "error", err)
	}

	if err := b.seedCursor(ctx); err != nil {
		return err
	}

	go b.serveHealth(ctx)
	b.healthy.Store(true)

	b.sendNotice(ctx, "Session started")
	slog.Info("bridge polling",
		"room", b.cfg.RoomID,
		"interval", b.cfg.PollIntervalDuration(),
		"fetch_limit", b.cfg.FetchLimit,
	)

	ticker := time.NewTicker(b.cfg.PollIntervalDuration())
	defer ticker.Stop()

	for {
		b.poll(ctx)

		select {
		case <-ctx.Done():
			b.healthy.Store(false)
			b.shutdownNotice()
			return nil
		case <-ticker.C:
		}
	}
}

// seedCursor loads the persisted cursor, or seeds it from the newest
// event currently in the room. An absent cursor means "start from
// now", never "reprocess everything".
func (b *Bridge) seedCursor(ctx context.Context) error {
	cur, err := b.cursors.Load(b.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cur.EventID != "" {
		slog.Info("resuming from persisted cursor", "event_id", cur.EventID)
		b.deduper = NewDeduper(b.selfID, cur)
		return nil
	}

	// Fetch the full window: non-message events are filtered out of the
	// result, so a limit of 1 could come back empty even in a busy room.
	events, err := b.client.RecentMessages(ctx, b.cfg.RoomID, b.cfg.FetchLimit)
	if err != nil {
		slog.Warn("could not seed cursor from room", "error", err)
	}
	if len(events) > 0 {
		cur = cursor.Cursor{EventID: events[0].ID, Timestamp: events[0].Timestamp}
		slog.Info("cursor seeded at newest event", "event_id", cur.EventID)
	} else {
		// No visible messages (or the fetch failed): floor at the wall
		// clock so the first poll never replays history.
		cur = cursor.Cursor{Timestamp: time.Now().UnixMilli()}
		slog.Info("cursor seeded at current time", "ts", cur.Timestamp)
	}
	b.deduper = NewDeduper(b.selfID, cur)
	return nil
}

// poll runs one fetch → filter → route → respond iteration. Errors are
// contained to the iteration (transport) or the event (backend).
func (b *Bridge) poll(ctx context.Context) {
	batch, err := b.client.RecentMessages(ctx, b.cfg.RoomID, b.cfg.FetchLimit)
	if err != nil {
		slog.Error("fetch failed", "room", b.cfg.RoomID, "error", err)
		return
	}

	for _, evt := range b.deduper.FilterNew(batch) {
		// Stop cleanly between events on shutdown: never acknowledge an
		// event whose reply was not sent.
		if ctx.Err() != nil {
			return
		}
		b.handleEvent(ctx, evt)
	}
}

// handleEvent processes a single new event in chronological order and
// advances the cursor past it regardless of backend outcome.
func (b *Bridge) handleEvent(ctx context.Context, evt matrix.RoomEvent) {
	if ok, reason := b.deduper.ShouldRoute(evt); !ok {
		slog.Debug("skipping event", "event_id", evt.ID, "reason", reason)
		b.advance(evt)
		return
	}

	if !b.auth.IsAuthorized(evt.Sender) {
		// Silent drop: no reply, no backend call.
		slog.Info("dropping unauthorized sender", "event_id", evt.ID, "sender", evt.Sender)
		b.advance(evt)
		return
	}

	routed, ok := b.router.Route(evt)
	if !ok {
		slog.Debug("no trigger match", "event_id", evt.ID)
		b.advance(evt)
		return
	}

	b.dispatch(ctx, evt, routed)
	if ctx.Err() != nil {
		// The reply send was interrupted by shutdown — leave the cursor
		// so the event is retried on restart.
		return
	}
	b.advance(evt)
	b.processed.Add(1)
}

// dispatch executes a routed action and posts the outcome to the room.
// Backend failures produce a short failure notice instead of silence,
// so the requester knows something happened.
func (b *Bridge) dispatch(ctx context.Context, evt matrix.RoomEvent, routed Routed) {
	switch routed.Action {
	case ActionStatus:
		b.send(ctx, b.statusText())

	case ActionAllow:
		b.auth.Allow(routed.Payload)
		slog.Info("sender authorized", "user", routed.Payload, "by", evt.Sender)
		b.send(ctx, fmt.Sprintf("[%s] Authorized %s", b.cfg.InstanceName, routed.Payload))

	case ActionRevoke:
		b.auth.Revoke(routed.Payload)
		slog.Info("sender revoked", "user", routed.Payload, "by", evt.Sender)
		b.send(ctx, fmt.Sprintf("[%s] Revoked %s", b.cfg.InstanceName, routed.Payload))

	case ActionInject:
		if b.inject == nil {
			b.send(ctx, fmt.Sprintf("[%s] No injection target configured", b.cfg.InstanceName))
			return
		}
		if _, err := b.inject.Invoke(ctx, routed.Payload); err != nil {
			slog.Error("injection failed", "event_id", evt.ID, "error", err)
			b.send(ctx, b.failureText(err))
			return
		}
		// Fire-and-forget: acknowledge dispatch, don't wait for output.
		b.send(ctx, fmt.Sprintf("[%s] Command injected into %s", b.cfg.InstanceName, b.inject.Name()))

	case ActionChat:
		if b.chat == nil {
			b.send(ctx, fmt.Sprintf("[%s] No chat backend configured", b.cfg.InstanceName))
			return
		}
		reply, err := b.chat.Invoke(ctx, routed.Payload)
		if err != nil {
			slog.Error("backend invoke failed", "event_id", evt.ID, "backend", b.chat.Name(), "error", err)
			b.send(ctx, b.failureText(err))
			return
		}
		b.send(ctx, reply)
	}
}

// advance moves the cursor past the event and persists it.
func (b *Bridge) advance(evt matrix.RoomEvent) {
	b.deduper.MarkProcessed(evt)
	if err := b.cursors.Save(b.cfg.RoomID, b.deduper.Cursor()); err != nil {
		slog.Error("cursor save failed", "event_id", evt.ID, "error", err)
	}
}

// send posts a message, splitting long bodies and repairing membership
// once when the homeserver claims the bot is not in the room. The
// joined-rooms status endpoint is not a trustworthy membership oracle;
// a failed send is the only reliable signal.
func (b *Bridge) send(ctx context.Context, body string) {
	for i, chunk := range splitMessage(body, maxMessageLen) {
		if i > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		if err := b.sendChunk(ctx, chunk); err != nil {
			slog.Error("send failed", "room", b.cfg.RoomID, "error", err)
			return
		}
	}
}

func (b *Bridge) sendChunk(ctx context.Context, body string) error {
	_, err := b.client.SendMessage(ctx, b.cfg.RoomID, body)
	if err == nil {
		return nil
	}

	var te *matrix.TransportError
	if !errors.As(err, &te) || !te.NotInRoom() {
		return err
	}

	slog.Warn("send rejected with not-in-room, joining and retrying once", "room", b.cfg.RoomID)
	if _, jerr := b.client.JoinRoom(ctx, b.cfg.RoomID); jerr != nil {
		return fmt.Errorf("join repair: %w", jerr)
	}
	if _, rerr := b.client.SendMessage(ctx, b.cfg.RoomID, body); rerr != nil {
		return fmt.Errorf("send after rejoin: %w", rerr)
	}
	return nil
}

// failureText is the short, generic notice posted when a backend call
// fails for an authorized request.
func (b *Bridge) failureText(err error) string {
	var berr *backend.Error
	if errors.As(err, &berr) && berr.Kind == backend.ErrTimeout {
		return fmt.Sprintf("[%s] Request timed out — no response from %s", b.cfg.InstanceName, berr.Backend)
	}
	return fmt.Sprintf("[%s] Request failed — backend error", b.cfg.InstanceName)
}

// statusText answers /status conversationally.
func (b *Bridge) statusText() string {
	chatName := "none"
	if b.chat != nil {
		chatName = b.chat.Name()
	}
	injectName := "none"
	if b.inject != nil {
		injectName = b.inject.Name()
	}
	return fmt.Sprintf("[%s] Up %s — chat backend: %s, inject target: %s, events handled: %d",
		b.cfg.InstanceName,
		time.Since(b.startedAt).Round(time.Second),
		chatName,
		injectName,
		b.processed.Load(),
	)
}

// sendNotice posts an instance-tagged lifecycle notice.
func (b *Bridge) sendNotice(ctx context.Context, text string) {
	b.send(ctx, fmt.Sprintf("[%s] %s", b.cfg.InstanceName, text))
}

// shutdownNotice posts the session-end notice on a fresh context since
// the run context is already cancelled.
func (b *Bridge) shutdownNotice() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.sendNotice(ctx, "Session ended")
}

// splitMessage chunks a long body, prefixing parts with [i/n].
func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > maxLen {
		cut := maxLen
		// Never split a multi-byte rune across chunks.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	for i := range chunks {
		chunks[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunks[i])
	}
	return chunks
}

// Processed returns the count of routed events handled so far.
func (b *Bridge) Processed() int64 { return b.processed.Load() }

// SelfID returns the confirmed bot user ID (empty before Run).
func (b *Bridge) SelfID() string { return b.selfID }
