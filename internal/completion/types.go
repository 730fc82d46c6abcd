// Package completion streams text completions from the hosted language model.
// It serves both the voice chat session and the public completion endpoint.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyRequest is returned when a request carries neither prompt nor messages.
var ErrEmptyRequest = errors.New("request needs a prompt or messages")

// Message is one role/content pair of a structured conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is either a free-text prompt or a structured conversation.
type Request struct {
	Prompt   string    `json:"prompt,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// Validate checks that exactly one form is used and that roles are known.
func (r Request) Validate() error {
	hasPrompt := strings.TrimSpace(r.Prompt) != ""
	if !hasPrompt && len(r.Messages) == 0 {
		return ErrEmptyRequest
	}
	if hasPrompt && len(r.Messages) > 0 {
		return fmt.Errorf("request must not carry both prompt and messages")
	}
	for i, m := range r.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// Conversation returns the messages to send; a prompt becomes one user message.
func (r Request) Conversation() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []Message{{Role: "user", Content: r.Prompt}}
}

// Stream yields completion text in arrival order. Recv returns io.EOF once the
// provider closes the stream.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Provider opens completion streams.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
