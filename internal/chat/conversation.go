package chat

import "sync"

// Conversation is the append-only ordered message history of one chat.
// Entries are never mutated after Append; Clear is the only way to shrink it.
type Conversation struct {
	mu   sync.Mutex
	msgs []Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

// Messages returns a copy of the history in append order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Clear empties the history. Safe to call repeatedly.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}
