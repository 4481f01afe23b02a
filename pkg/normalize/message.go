// Package normalize canonicalizes chat messages and command invocations.
package normalize

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
)

var (
	// User, role, and channel mention markup: an angle-bracket token with an
	// optional sigil and a 17-20 digit id.
	mentionRe = regexp.MustCompile(`<(@[!&]?|#)\d{17,20}>`)

	// Custom emoji markup; keeps the animation marker and colon-delimited
	// name, drops the id.
	emojiRe = regexp.MustCompile(`<(a?)(:\w+?:)\d{17,20}>`)
)

// Proxy-duplicate resolution bounds.
const (
	proxyWindow   = 16
	proxyRatioMin = 0.7
	proxyRatioMax = 1.0
)

// MessageNormalizer canonicalizes message text against one session log.
type MessageNormalizer struct {
	log *eventlog.Log
}

// NewMessageNormalizer creates a MessageNormalizer over the given log.
func NewMessageNormalizer(l *eventlog.Log) *MessageNormalizer {
	return &MessageNormalizer{log: l}
}

// Normalize canonicalizes a message's content: proxy-duplicate resolution,
// mention stripping, emoji collapsing, and optional author attribution.
func (n *MessageNormalizer) Normalize(msg *model.Event, includeAuthor bool) (string, error) {
	content := msg.Content

	idx, err := n.log.PositionOf(msg)
	if err != nil {
		return "", err
	}

	// Proxy bots repost a member's message under a webhook identity; when a
	// near-duplicate by another automated author follows closely, prefer it.
	similar := n.log.Find(func(e *model.Event) bool {
		return e.Kind == model.KindMessage &&
			e.AuthorID != msg.AuthorID &&
			e.Content != "" &&
			strings.Contains(content, e.Content) &&
			e.Bot()
	}, idx+1, idx+1+proxyWindow)
	if similar != nil {
		ratio := float64(len(similar.Content)) / float64(len(content))
		if proxyRatioMin < ratio && ratio < proxyRatioMax {
			log.Printf("normalize: replaced proxied message content:\n%q\n---\n%q", content, similar.Content)
			content = similar.Content
		} else {
			log.Printf("normalize: similar message found but ratio is ambiguous (%.2f%%):\n%q\n---\n%q",
				ratio*100, content, similar.Content)
		}
	}

	content = mentionRe.ReplaceAllString(content, "")
	content = emojiRe.ReplaceAllString(content, "$1$2")

	if includeAuthor {
		return fmt.Sprintf("%s: %s", msg.AuthorName, content), nil
	}
	return content, nil
}
