// Package translation caches on-demand translations of conversation turns.
package translation

import "fmt"

// State of a cache entry.
type State int

const (
	StateIdle State = iota
	StatePending
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Entry is the translation of one turn.
type Entry struct {
	SourceText string
	TargetText string
	State      State
}

// Action tells the caller what to do after Open.
type Action int

const (
	// ActionNone: a request is already pending or the turn is not translatable.
	ActionNone Action = iota
	// ActionRequest: issue a translation request for the entry's source text.
	ActionRequest
	// ActionCached: TargetText is ready to show again.
	ActionCached
)

// Cache holds one entry per turn for the lifetime of the conversation.
// Entries are never evicted. Not safe for concurrent use.
type Cache struct {
	entries map[string]*Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Open is called when a turn's detail view opens. Only an idle entry moves to
// pending and asks for a request.
func (c *Cache) Open(turnID, content string) (Entry, Action) {
	e, ok := c.entries[turnID]
	if !ok {
		e = &Entry{SourceText: content}
		c.entries[turnID] = e
	}

	switch e.State {
	case StateReady:
		return *e, ActionCached
	case StatePending:
		return *e, ActionNone
	}

	e.SourceText = content
	e.State = StatePending
	return *e, ActionRequest
}

// Complete stores the translated text.
func (c *Cache) Complete(turnID, text string) (Entry, error) {
	e, err := c.pending(turnID)
	if err != nil {
		return Entry{}, err
	}
	e.TargetText = text
	e.State = StateReady
	return *e, nil
}

// Fail returns a pending entry to idle so the next open retries.
func (c *Cache) Fail(turnID string) error {
	e, err := c.pending(turnID)
	if err != nil {
		return err
	}
	e.State = StateIdle
	return nil
}

// Entry returns the entry for turnID, if any.
func (c *Cache) Entry(turnID string) (Entry, bool) {
	e, ok := c.entries[turnID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) pending(turnID string) (*Entry, error) {
	e, ok := c.entries[turnID]
	if !ok {
		return nil, fmt.Errorf("no translation entry for turn %s", turnID)
	}
	if e.State != StatePending {
		return nil, fmt.Errorf("translation for turn %s is %s, not pending", turnID, e.State)
	}
	return e, nil
}

// Prompt builds the single-shot instruction sent to the completion provider.
func Prompt(sourceLanguage, targetLanguage, content string) string {
	return fmt.Sprintf("Translate the following %s text to %s: \"%s\"", sourceLanguage, targetLanguage, content)
}
