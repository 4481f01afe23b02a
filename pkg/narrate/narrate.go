// Package narrate turns automation resolution trees into plain-language
// narration and aligns each run with its display message in the log.
package narrate

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
)

// Stringifier renders resolution trees against one session log.
type Stringifier struct {
	log *eventlog.Log

	// AutomationAuthorID identifies the automation actor whose messages
	// carry result embeds.
	AutomationAuthorID string
}

// New creates a Stringifier over the given session log.
func New(l *eventlog.Log, automationAuthorID string) *Stringifier {
	return &Stringifier{log: l, AutomationAuthorID: automationAuthorID}
}

// TargetNames extracts the display names of an automation run's targets.
// Bare string targets contribute their own text.
func TargetNames(ev *model.Event) []string {
	names := make([]string, 0, len(ev.Targets))
	for _, raw := range ev.Targets {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			names = append(names, s)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			names = append(names, obj.Name)
		}
	}
	return names
}

// casterName extracts the caster's display name from its raw payload.
func casterName(ev *model.Event) string {
	var obj struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(ev.Caster, &obj)
	return obj.Name
}

// Stringify renders an automation run's resolution tree and locates its
// display message. The located message may be nil; that is a logged
// diagnostic, not an error, and the narration is returned without a title.
func (s *Stringifier) Stringify(ev *model.Event) (string, *model.Event) {
	caster := casterName(ev)
	targets := TargetNames(ev)

	// At the root's ambient scope the current target is the caster; only
	// target_iteration branches override it.
	text := render(ev.AutomationResult, caster, targets, caster)

	embedEvent := s.findDisplayMessage(ev, caster, targets)
	if embedEvent == nil {
		log.Printf("narrate: could not find embed for automation run (interaction %s)", ev.InteractionID)
		return text, nil
	}
	return *embedEvent.Embeds[0].Title + "\n" + text, embedEvent
}

// render walks the resolution tree. The current target is threaded as a
// parameter so that sibling target_iteration branches can never leak
// context into each other; returning restores the enclosing value.
func render(node *model.ResolutionNode, caster string, targets []string, current string) string {
	if node == nil {
		return ""
	}
	switch node.Type {
	case model.NodeRoot, model.NodeCondition, model.NodeSpell:
		return renderAll(node.Children, caster, targets, current)

	case model.NodeTarget:
		return renderAll(node.Results, caster, targets, current)

	case model.NodeTargetIteration:
		if node.TargetType == model.TargetSelf {
			return renderAll(node.Results, caster, targets, caster)
		}
		if node.TargetIndex != nil {
			return renderAll(node.Results, caster, targets, targets[*node.TargetIndex])
		}
		return ""

	case model.NodeAttack:
		base := fmt.Sprintf("%s attacked %s ", caster, current)
		switch {
		case node.DidCrit:
			base += "and crit!"
		case node.DidHit:
			base += "and hit."
		default:
			base += "but missed."
		}
		return base + "\n" + renderAll(node.Children, caster, targets, current)

	case model.NodeSave:
		base := fmt.Sprintf("%s rolled a %s save ", current, abilityName(node.Ability))
		if node.DidSave {
			base += "and succeeded."
		} else {
			base += "but failed."
		}
		return base + "\n" + renderAll(node.Children, caster, targets, current)

	case model.NodeDamage:
		if node.Damage < 0 {
			return fmt.Sprintf("%s healed for %d health.", current, node.Damage)
		}
		return fmt.Sprintf("%s took %d damage.", current, node.Damage)

	case model.NodeTempHP:
		return fmt.Sprintf("%s gained %d temp HP.", current, node.Amount)

	case model.NodeIEffect:
		if node.Effect == nil {
			return ""
		}
		return fmt.Sprintf("%s gained %s.", current, node.Effect.Name)

	case model.NodeRemoveIEffect:
		if node.RemovedEffect == nil {
			return ""
		}
		return fmt.Sprintf("%s is no longer %s.", current, node.RemovedEffect.Name)

	case model.NodeCheck:
		var base string
		if node.ContestSkillName == nil {
			base = fmt.Sprintf("%s rolled a %s check ", current, node.SkillName)
		} else {
			base = fmt.Sprintf("%s rolled a %s contest against %s's %s ",
				current, node.SkillName, caster, *node.ContestSkillName)
		}
		if node.DidSucceed {
			base += "and succeeded."
		} else {
			base += "but failed."
		}
		return base + "\n" + renderAll(node.Children, caster, targets, current)

	default:
		// Unrecognized shapes contribute nothing.
		return ""
	}
}

// renderAll renders child nodes and joins the non-empty results.
func renderAll(nodes []*model.ResolutionNode, caster string, targets []string, current string) string {
	var out []string
	for _, n := range nodes {
		if result := render(n, caster, targets, current); result != "" {
			out = append(out, result)
		}
	}
	return strings.Join(out, "\n")
}

// abilityName strips the 4-character roll suffix from an ability code and
// title-cases the remainder ("strengthSave" -> "Strength").
func abilityName(ability string) string {
	if len(ability) < 4 {
		return ""
	}
	ability = ability[:len(ability)-4]
	if ability == "" {
		return ""
	}
	return strings.ToUpper(ability[:1]) + strings.ToLower(ability[1:])
}

// findDisplayMessage locates the automation actor's result message for a
// run: empty body, exactly one embed with a title and fields, and either
// the caster's name in the title or a field-name superset of the targets.
func (s *Stringifier) findDisplayMessage(ev *model.Event, caster string, targets []string) *model.Event {
	group := s.log.GroupByID(ev.InteractionID)
	if group == nil || group.First() == nil {
		return nil
	}
	start, err := s.log.PositionOf(group.First())
	if err != nil {
		return nil
	}

	return s.log.Find(func(e *model.Event) bool {
		if e.Kind != model.KindMessage || e.AuthorID != s.AutomationAuthorID || e.Content != "" {
			return false
		}
		if len(e.Embeds) != 1 {
			return false
		}
		embed := e.Embeds[0]
		if embed.Title == nil || embed.Fields == nil {
			return false
		}
		if caster != "" && strings.Contains(*embed.Title, caster) {
			return true
		}
		return isSuperset(embed.FieldNames(), targets)
	}, start+1, -1)
}

// isSuperset reports whether set contains every member of subset.
func isSuperset(set, subset []string) bool {
	have := make(map[string]bool, len(set))
	for _, s := range set {
		have[s] = true
	}
	for _, s := range subset {
		if !have[s] {
			return false
		}
	}
	return true
}
