package slack

import (
	"sync"
	"time"
)

// responseWindow is how long Slack accepts posts to a slash command's response_url.
const responseWindow = 30 * time.Minute

// pendingCommand is one slash command awaiting its envelope ack and reply.
type pendingCommand struct {
	ack         func()
	acked       bool
	fallback    *time.Timer
	responseURL string
	channelID   string
	expiresAt   time.Time
}

// commandRegistry tracks slash commands by source event ID.
//
// The socket-mode envelope must be acked within three seconds, so every
// registered command arms a fallback timer that acks on the module's behalf.
type commandRegistry struct {
	deadline time.Duration
	now      func() time.Time
	onAuto   func(eventID string)

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

func newCommandRegistry(deadline time.Duration, onAuto func(eventID string)) *commandRegistry {
	return &commandRegistry{
		deadline: deadline,
		now:      time.Now,
		onAuto:   onAuto,
		pending:  make(map[string]*pendingCommand),
	}
}

// register stores the command and arms its fallback ack.
func (r *commandRegistry) register(eventID, responseURL, channelID string, ack func()) {
	entry := &pendingCommand{
		ack:         ack,
		responseURL: responseURL,
		channelID:   channelID,
	}

	r.mu.Lock()
	r.evictExpiredLocked()
	entry.expiresAt = r.now().Add(responseWindow)
	r.pending[eventID] = entry
	entry.fallback = time.AfterFunc(r.deadline, func() {
		if r.acknowledge(eventID) && r.onAuto != nil {
			r.onAuto(eventID)
		}
	})
	r.mu.Unlock()
}

// acknowledge acks the envelope once. It reports whether this call sent the ack.
func (r *commandRegistry) acknowledge(eventID string) bool {
	r.mu.Lock()
	entry, found := r.pending[eventID]
	if !found || entry.acked {
		r.mu.Unlock()
		return false
	}
	entry.acked = true
	ack, fallback := entry.ack, entry.fallback
	r.mu.Unlock()

	if fallback != nil {
		fallback.Stop()
	}
	if ack != nil {
		ack()
	}

	return true
}

// responseTarget returns the response_url of a live command.
func (r *commandRegistry) responseTarget(eventID string) (responseURL string, channelID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.pending[eventID]
	if !found || entry.responseURL == "" || r.now().After(entry.expiresAt) {
		return "", "", false
	}

	return entry.responseURL, entry.channelID, true
}

// close acks every outstanding command and forgets them all.
func (r *commandRegistry) close() {
	r.mu.Lock()
	outstanding := make([]string, 0, len(r.pending))
	for eventID, entry := range r.pending {
		if !entry.acked {
			outstanding = append(outstanding, eventID)
		}
	}
	r.mu.Unlock()

	for _, eventID := range outstanding {
		r.acknowledge(eventID)
	}

	r.mu.Lock()
	r.pending = make(map[string]*pendingCommand)
	r.mu.Unlock()
}

func (r *commandRegistry) evictExpiredLocked() {
	now := r.now()
	for eventID, entry := range r.pending {
		if entry.acked && now.After(entry.expiresAt) {
			delete(r.pending, eventID)
		}
	}
}
