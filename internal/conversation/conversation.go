// Package conversation holds the ordered turn sequence of a voice chat and the
// Idle/Streaming state machine that guards completion requests.
package conversation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// State of the conversation with respect to completion requests.
type State int

const (
	// StateIdle accepts a new user turn.
	StateIdle State = iota
	// StateStreaming means an assistant turn is receiving tokens.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

var (
	// ErrInFlight is returned when a user turn arrives while a completion stream is open.
	ErrInFlight = errors.New("completion stream already in flight")
	// ErrNotStreaming is returned for stream operations outside the Streaming state.
	ErrNotStreaming = errors.New("no completion stream in flight")
	// ErrTurnNotFound is returned for unknown turn IDs.
	ErrTurnNotFound = errors.New("turn not found")
)

// Turn is one message of the conversation. Content only changes while Streaming is set.
type Turn struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
	Failed    bool   `json:"failed,omitempty"`
}

// Message is a role/content pair sent to the completion provider as context.
type Message struct {
	Role    Role
	Content string
}

// Conversation owns the turn sequence. Not safe for concurrent use.
type Conversation struct {
	turns  []*Turn
	index  map[string]*Turn
	state  State
	active *Turn
}

// New returns an empty, idle conversation.
func New() *Conversation {
	return &Conversation{index: make(map[string]*Turn)}
}

// AppendUser adds a user turn. It fails with ErrInFlight while streaming.
func (c *Conversation) AppendUser(content string) (Turn, error) {
	if c.state == StateStreaming {
		return Turn{}, ErrInFlight
	}
	return c.append(RoleUser, content, false), nil
}

// AppendSystem adds a system notification in any state.
func (c *Conversation) AppendSystem(content string) Turn {
	return c.append(RoleSystem, content, false)
}

// BeginAssistant appends the empty streaming assistant turn and enters Streaming.
func (c *Conversation) BeginAssistant() (Turn, error) {
	if c.state == StateStreaming {
		return Turn{}, ErrInFlight
	}
	t := c.append(RoleAssistant, "", true)
	c.active = c.index[t.ID]
	c.state = StateStreaming
	return t, nil
}

// AppendToken appends a chunk to the streaming assistant turn.
func (c *Conversation) AppendToken(chunk string) (Turn, error) {
	if c.active == nil {
		return Turn{}, ErrNotStreaming
	}
	c.active.Content += chunk
	return *c.active, nil
}

// Finish ends the stream and returns the final assistant turn.
func (c *Conversation) Finish() (Turn, error) {
	return c.end(false)
}

// Fail ends the stream and marks the assistant turn failed.
func (c *Conversation) Fail() (Turn, error) {
	return c.end(true)
}

func (c *Conversation) end(failed bool) (Turn, error) {
	if c.active == nil {
		return Turn{}, ErrNotStreaming
	}
	c.active.Streaming = false
	c.active.Failed = failed
	t := *c.active

	c.active = nil
	c.state = StateIdle
	return t, nil
}

// State returns the current state.
func (c *Conversation) State() State {
	return c.state
}

// InFlight reports whether a completion stream is open.
func (c *Conversation) InFlight() bool {
	return c.state == StateStreaming
}

// ActiveID returns the ID of the streaming assistant turn, or "".
func (c *Conversation) ActiveID() string {
	if c.active == nil {
		return ""
	}
	return c.active.ID
}

// Get returns a copy of the turn with the given ID.
func (c *Conversation) Get(id string) (Turn, error) {
	t, ok := c.index[id]
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s", ErrTurnNotFound, id)
	}
	return *t, nil
}

// Turns returns a copy of the sequence in insertion order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = *t
	}
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// History returns the context for the next completion request: every finished
// turn in order, skipping failed and still-streaming ones. A positive limit
// keeps only the most recent turns.
func (c *Conversation) History(limit int) []Message {
	msgs := make([]Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Streaming || t.Failed {
			continue
		}
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func (c *Conversation) append(role Role, content string, streaming bool) Turn {
	t := &Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Streaming: streaming,
	}
	c.turns = append(c.turns, t)
	c.index[t.ID] = t
	return *t
}
