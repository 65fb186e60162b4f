package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// sessionInjector implements the terminal-session-injection kind: the
// extracted command is typed into a named tmux session and the bridge
// does not wait for output. Whatever the session does next is its own
// business — reporting it back to the room is out of the bridge's
// scope (fire-and-forget).
type sessionInjector struct {
	target  Target
	timeout time.Duration

	// runCommand is swappable for tests; defaults to exec.CommandContext.
	runCommand func(ctx context.Context, name string, args ...string) error
}

func newSessionInjector(target Target, timeout time.Duration) *sessionInjector {
	return &sessionInjector{
		target:  target,
		timeout: timeout,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%w: %s", err, string(out))
			}
			return nil
		},
	}
}

func (b *sessionInjector) Name() string { return b.target.Name }

// Invoke types the command into the session followed by Enter. The
// returned text is empty: the caller posts its own acknowledgement.
func (b *sessionInjector) Invoke(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	session := b.target.Endpoint
	if session == "" {
		return "", &Error{Kind: ErrInject, Backend: b.target.Name, Detail: "no session name configured"}
	}

	if err := b.runCommand(ctx, "tmux", "send-keys", "-t", session, command, "Enter"); err != nil {
		if terr := timeoutErr(b.target.Name, err); terr != err {
			return "", terr
		}
		return "", &Error{Kind: ErrInject, Backend: b.target.Name, Detail: err.Error()}
	}

	slog.Info("command injected", "backend", b.target.Name, "session", session, "len", len(command))
	return "", nil
}
