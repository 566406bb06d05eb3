package service

import (
	"fmt"
	"sync"
	"time"
)

// SessionMessage is one turn of a remembered conversation.
type SessionMessage struct {
	Role    string
	Content string
}

// sessionEntry holds one conversation's history with its last-touch time.
type sessionEntry struct {
	messages []SessionMessage
	touched  time.Time
}

// SessionCache keeps short-lived conversation history in memory, keyed by
// tenant, agent and session. Entries expire after the TTL; expired entries
// are pruned lazily on access.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
	maxLen  int
	now     func() time.Time
}

const defaultSessionMaxLen = 20

func NewSessionCache(ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionCache{
		entries: make(map[string]*sessionEntry),
		ttl:     ttl,
		maxLen:  defaultSessionMaxLen,
		now:     time.Now,
	}
}

func sessionKey(tenantID, agentID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, agentID, sessionID)
}

// History returns the remembered messages for a session, oldest first.
// An expired or unknown session yields nil.
func (c *SessionCache) History(tenantID, agentID, sessionID string) []SessionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey(tenantID, agentID, sessionID)
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.touched) > c.ttl {
		delete(c.entries, key)
		return nil
	}

	out := make([]SessionMessage, len(entry.messages))
	copy(out, entry.messages)
	return out
}

// Append records a user/assistant exchange and refreshes the session TTL.
// History is capped; the oldest turns fall off first.
func (c *SessionCache) Append(tenantID, agentID, sessionID string, messages ...SessionMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey(tenantID, agentID, sessionID)
	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.touched) > c.ttl {
		entry = &sessionEntry{}
		c.entries[key] = entry
	}

	entry.messages = append(entry.messages, messages...)
	if len(entry.messages) > c.maxLen {
		entry.messages = entry.messages[len(entry.messages)-c.maxLen:]
	}
	entry.touched = c.now()

	c.pruneLocked()
}

// Forget drops a session immediately.
func (c *SessionCache) Forget(tenantID, agentID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionKey(tenantID, agentID, sessionID))
}

// ForgetAgent drops every session belonging to an agent.
func (c *SessionCache) ForgetAgent(tenantID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := fmt.Sprintf("%s:%s:", tenantID, agentID)
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// pruneLocked evicts expired entries. Callers must hold the mutex.
func (c *SessionCache) pruneLocked() {
	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.touched.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}
