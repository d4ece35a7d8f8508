package message

// Conversation is an ordered, append-only sequence of messages. Insertion
// order is the only ordering guarantee. The caller owns it between runs;
// during a run only the agent loop appends.
type Conversation struct {
	messages []*Message
}

// NewConversation creates a conversation from initial messages.
func NewConversation(messages ...*Message) *Conversation {
	return &Conversation{messages: messages}
}

// Append adds one message at the end.
func (c *Conversation) Append(m *Message) {
	if m == nil {
		return
	}
	c.messages = append(c.messages, m)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns the messages in insertion order. The slice is a copy;
// the messages themselves are shared and must be treated as immutable.
func (c *Conversation) Messages() []*Message {
	return append([]*Message(nil), c.messages...)
}

// Last returns the most recent message, or nil.
func (c *Conversation) Last() *Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// UnresolvedToolRequests returns tool requests that have no matching
// response anywhere later in the conversation, keyed by call id.
func (c *Conversation) UnresolvedToolRequests() map[string]ToolRequest {
	answered := map[string]struct{}{}
	for _, m := range c.messages {
		for id := range m.ToolResponseIDs() {
			answered[id] = struct{}{}
		}
	}
	out := map[string]ToolRequest{}
	for _, m := range c.messages {
		for _, item := range m.Content {
			req, ok := item.(ToolRequest)
			if !ok {
				continue
			}
			if _, done := answered[req.ID]; done {
				continue
			}
			out[req.ID] = req
		}
	}
	return out
}
