// Package model defines core data structures for CombatScribe.
package model

import (
	"encoding/json"
	"strconv"
)

// EventKind identifies the kind of a session event.
type EventKind string

const (
	// KindMessage is a chat message in the session channel.
	KindMessage EventKind = "message"
	// KindCommand is a bot command invocation (post-alias content).
	KindCommand EventKind = "command"
	// KindAutomationRun is one resolved command execution with its result tree.
	KindAutomationRun EventKind = "automation_run"
	// KindCombatStateUpdate carries a full combat-state snapshot payload.
	KindCombatStateUpdate EventKind = "combat_state_update"
	// KindSnippetResolution records a snippet macro expansion inside a command.
	KindSnippetResolution EventKind = "snippet_resolution"
)

// Event is a tagged union over all session event kinds. Fields beyond the
// common ones are populated only for the kinds that carry them.
//
// Message events may be structurally replaced by upstream filter stages while
// still representing the same message, so identity for them is the message id
// (the ordering key), never object identity.
type Event struct {
	Kind      EventKind `json:"event_type"`
	Timestamp float64   `json:"timestamp,omitempty"`

	// Message / command fields.
	MessageID     string  `json:"message_id,omitempty"`
	AuthorID      string  `json:"author_id,omitempty"`
	AuthorName    string  `json:"author_name,omitempty"`
	AuthorBot     *bool   `json:"author_bot,omitempty"`
	Content       string  `json:"content,omitempty"`
	Embeds        []Embed `json:"embeds,omitempty"`
	InteractionID string  `json:"interaction_id,omitempty"`

	// Command fields.
	Prefix string `json:"prefix,omitempty"`

	// Snippet resolution fields.
	SnippetName  string `json:"snippet_name,omitempty"`
	ContentAfter string `json:"content_after,omitempty"`

	// Automation run fields. Caster is one of several raw entity shapes;
	// targets may be raw entities or bare strings.
	Caster           json.RawMessage   `json:"caster,omitempty"`
	Targets          []json.RawMessage `json:"targets,omitempty"`
	AutomationResult *ResolutionNode   `json:"automation_result,omitempty"`

	// Combat state update payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// OrderKey returns the numeric ordering key for message-kind events.
// Message ids are snowflakes, monotonically increasing across a session.
func (e *Event) OrderKey() int64 {
	n, _ := strconv.ParseInt(e.MessageID, 10, 64)
	return n
}

// Bot reports whether the event author is flagged as automated.
// Events missing the flag are treated as automated.
func (e *Event) Bot() bool {
	if e.AuthorBot == nil {
		return true
	}
	return *e.AuthorBot
}

// Embed is a structured display block attached to a narration message.
// Title is a pointer so that a missing title can be told apart from an
// empty one when matching display messages.
type Embed struct {
	Title  *string      `json:"title,omitempty"`
	Fields []EmbedField `json:"fields,omitempty"`
}

// EmbedField is one named field of an embed.
type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FieldNames returns the names of the embed's fields in order.
func (e Embed) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Triple is one raw training window: chat before a command span, the
// command span itself, and chat after it.
type Triple struct {
	Before   []*Event `json:"before"`
	Commands []*Event `json:"commands"`
	After    []*Event `json:"after"`
}
