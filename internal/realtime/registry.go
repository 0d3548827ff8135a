package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Group keys. A user's personal group carries private pushes
// (notifications, unread counts); a chat group carries message fan-out.
func UserGroup(userID uuid.UUID) string { return "user:" + userID.String() }
func ChatGroup(chatID uuid.UUID) string { return "chat:" + chatID.String() }

// Subscriber is a live connection the registry can deliver events to.
// Deliver must not block: the concrete connection buffers writes and
// handles its own slow-client policy.
type Subscriber interface {
	Deliver(event string, payload any)
}

// Registry is the broadcast-group table: group key → set of live
// connections. It is owned by the server process and injected into
// every component that broadcasts — there is no package-level
// singleton.
//
// Membership is mutated only by a connection's own lifecycle events
// (connect, join_chat, leave_chat, disconnect). The mutex exists
// because connections are concurrent goroutines, not because groups
// mutate each other.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[Subscriber]struct{}),
	}
}

// Join subscribes s to the group. Joining a group twice is a no-op.
func (r *Registry) Join(group string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.groups[group]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.groups[group] = set
	}
	set[s] = struct{}{}
}

// Leave unsubscribes s from the group. Leaving a group s is not in is
// a no-op. Empty groups are removed so the table doesn't accumulate
// keys for every chat ever opened.
func (r *Registry) Leave(group string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.groups[group]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.groups, group)
	}
}

// LeaveAll removes s from every group it belongs to. Called once on
// disconnect.
func (r *Registry) LeaveAll(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for group, set := range r.groups {
		delete(set, s)
		if len(set) == 0 {
			delete(r.groups, group)
		}
	}
}

// Contains reports whether s is subscribed to the group.
func (r *Registry) Contains(group string, s Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.groups[group][s]
	return ok
}

// HasSubscribers reports whether anyone is live in the group. The
// notifier uses this to skip pushes to offline users.
func (r *Registry) HasSubscribers(group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups[group]) > 0
}

// Broadcast delivers an event to every subscriber of the group.
// Fire-and-forget: delivery to a dead connection is that connection's
// problem, not the broadcaster's.
func (r *Registry) Broadcast(group, event string, payload any) {
	r.BroadcastExcept(group, nil, event, payload)
}

// BroadcastExcept delivers to every subscriber of the group other than
// skip. Used for typing indicators, which never echo to the sender.
func (r *Registry) BroadcastExcept(group string, skip Subscriber, event string, payload any) {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.groups[group]))
	for s := range r.groups[group] {
		if s != skip {
			subs = append(subs, s)
		}
	}
	r.mu.RUnlock()

	// Deliver outside the lock: a slow subscriber must not stall
	// registry mutations.
	for _, s := range subs {
		s.Deliver(event, payload)
	}
}

// BroadcastToChat and BroadcastToUser are the raw group-send
// primitives the REST layer uses to mirror real-time events.
func (r *Registry) BroadcastToChat(chatID uuid.UUID, event string, payload any) {
	r.Broadcast(ChatGroup(chatID), event, payload)
}

func (r *Registry) BroadcastToUser(userID uuid.UUID, event string, payload any) {
	r.Broadcast(UserGroup(userID), event, payload)
}

// UserConnected reports whether the user has at least one live
// connection.
func (r *Registry) UserConnected(userID uuid.UUID) bool {
	return r.HasSubscribers(UserGroup(userID))
}
