package agent

import (
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// Message roles. Tool results travel as tagged user messages, so these
// three are the only roles a conversation ever holds.
const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Conversation is the append-only message log of one execution context.
// Nothing is ever removed or mutated in place; readers get copies.
type Conversation struct {
	mu       sync.Mutex
	messages []providers.Message
}

// NewConversation starts a log with the system prompt and the first user
// message.
func NewConversation(systemPrompt, firstMessage string) *Conversation {
	return &Conversation{messages: []providers.Message{
		{Role: roleSystem, Content: systemPrompt},
		{Role: roleUser, Content: firstMessage},
	}}
}

// Append adds a message to the log.
func (c *Conversation) Append(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, providers.Message{Role: role, Content: content})
}

// AppendToolResult adds a tool outcome as a tagged user message, kept
// distinguishable from free-form user text.
func (c *Conversation) AppendToolResult(toolName, content string, isError bool) {
	tag := "Tool result"
	if isError {
		tag = "Tool error"
	}
	c.Append(roleUser, fmt.Sprintf("[%s: %s]\n%s", tag, toolName, content))
}

// Last returns the most recent message.
func (c *Conversation) Last() (providers.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return providers.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a snapshot copy of the log.
func (c *Conversation) Messages() []providers.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]providers.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
