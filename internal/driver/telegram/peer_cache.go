package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"rollcall/pkg/rollcall"
)

// PeerCache maps conversation IDs seen inbound to the input peers needed to
// reply to them. Telegram RPCs need access hashes that only arrive with updates.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope records every user and chat delivered with an update.
func (c *PeerCache) RememberEnvelope(envelope gotdEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, user := range envelope.usersByID {
		c.peers[strconv.FormatInt(id, 10)] = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
	}
	for id, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.peers[strconv.FormatInt(id, 10)] = chat.inputPeer
		}
	}
}

// RememberConversation records the peer for one conversation.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[chat.ID] = peer
}

// Resolve returns the input peer for conversation.
func (c *PeerCache) Resolve(conversation rollcall.Conversation) (tg.InputPeerClass, error) {
	if conversation.ID == "" {
		return nil, fmt.Errorf("resolve peer: %w: missing conversation id", rollcall.ErrInvalidOutboundRequest)
	}

	c.mu.RLock()
	peer, ok := c.peers[conversation.ID]
	c.mu.RUnlock()
	if ok {
		return peer, nil
	}

	// Basic groups need no access hash.
	if conversation.Type == rollcall.ConversationTypeGroup {
		if chatID, err := strconv.ParseInt(conversation.ID, 10, 64); err == nil && chatID > 0 {
			return &tg.InputPeerChat{ChatID: chatID}, nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not seen yet", conversation.Type, conversation.ID)
}
