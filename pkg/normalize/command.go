package normalize

import (
	"strings"

	"github.com/google/shlex"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
)

// DefaultPrefix is the canonical command prefix.
const DefaultPrefix = "!"

// CommandNormalizer canonicalizes one grouped command invocation.
type CommandNormalizer struct {
	// Prefix replaces the command's recorded prefix. Defaults to
	// DefaultPrefix when empty.
	Prefix string
}

// Normalize canonicalizes a command group: prefix replacement and snippet
// macro expansion. Returns ok=false when the group has no command event.
func (n *CommandNormalizer) Normalize(group *eventlog.Group) (string, bool) {
	command := group.FirstOfKind(model.KindCommand)
	if command == nil {
		return "", false
	}

	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	// Only the first occurrence is the prefix; later occurrences are
	// content.
	content := strings.Replace(command.Content, command.Prefix, prefix, 1)

	snippets := group.AllOfKind(model.KindSnippetResolution)
	if len(snippets) == 0 {
		return content, true
	}

	words, err := shlex.Split(content)
	if err != nil {
		// Malformed quoting falls back to naive whitespace splitting.
		words = strings.Fields(content)
	}
	for _, snippet := range snippets {
		for i, word := range words {
			if word == snippet.SnippetName {
				words[i] = snippet.ContentAfter
				break
			}
		}
	}
	return strings.Join(words, " "), true
}
