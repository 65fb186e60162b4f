package bridge

import (
	"sort"
	"sync"
)

// AuthSet is the set of Matrix user IDs allowed to drive the bridge.
// Membership is exact-string, case-sensitive, full @user:domain form —
// no wildcards. Unauthorized senders are dropped silently: no reply,
// no error, nothing that leaks the bridge's presence.
type AuthSet struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

// NewAuthSet builds the set from configuration.
func NewAuthSet(senders []string) *AuthSet {
	members := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		if s != "" {
			members[s] = struct{}{}
		}
	}
	return &AuthSet{members: members}
}

// IsAuthorized reports whether the sender may drive the bridge.
func (a *AuthSet) IsAuthorized(senderID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.members[senderID]
	return ok
}

// Allow adds a sender at runtime (admin operation).
func (a *AuthSet) Allow(senderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.members[senderID] = struct{}{}
}

// Revoke removes a sender at runtime (admin operation).
func (a *AuthSet) Revoke(senderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.members, senderID)
}

// Members returns the current membership, sorted.
func (a *AuthSet) Members() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.members))
	for m := range a.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
