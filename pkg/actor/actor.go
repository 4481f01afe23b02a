// Package actor reconstructs heterogeneous raw entity payloads into
// canonical display records. Payloads arrive in one of four shapes: a raw
// player-character sheet, a raw monster template, a typed serialized
// combatant, or an already-materialized Combatant. Dispatch is a single
// field-presence probe, not scattered type checks.
package actor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

// Combatant type discriminators used by serialized combatant payloads.
const (
	typePlayer  = "player"
	typeMonster = "monster"
	typeCommon  = "common"
	typeGroup   = "group"
)

// Named is a name-carrying list element (attacks, actions, effects).
type Named struct {
	Name string `json:"name"`
}

// Spell is one spellbook entry.
type Spell struct {
	Name     string `json:"name"`
	Prepared bool   `json:"prepared"`
}

// Spellbook holds an entity's known spells.
type Spellbook struct {
	Spells []Spell `json:"spells"`
}

// Character is a fully materialized character record, extracted from
// command or automation-run events that embed the full sheet.
type Character struct {
	Owner       string           `json:"owner"`
	Upstream    string           `json:"upstream"`
	Name        string           `json:"name"`
	HP          *int             `json:"hp"`
	MaxHP       *int             `json:"max_hp"`
	TempHP      *int             `json:"temp_hp"`
	Race        *string          `json:"race"`
	Levels      map[string]int   `json:"levels"`
	Description *string          `json:"description"`
	Attacks     []Named          `json:"attacks"`
	Actions     []Named          `json:"actions"`
	Spellbook   Spellbook        `json:"spellbook"`
}

// ClassString renders the character's class levels, multiclass entries
// joined by "/" in level-descending order.
func (c *Character) ClassString() string {
	if len(c.Levels) == 0 {
		return ""
	}
	classes := make([]string, 0, len(c.Levels))
	for name := range c.Levels {
		classes = append(classes, name)
	}
	sort.Slice(classes, func(i, j int) bool {
		if c.Levels[classes[i]] != c.Levels[classes[j]] {
			return c.Levels[classes[i]] > c.Levels[classes[j]]
		}
		return classes[i] < classes[j]
	})
	parts := make([]string, len(classes))
	for i, name := range classes {
		parts[i] = fmt.Sprintf("%s %d", name, c.Levels[name])
	}
	return strings.Join(parts, "/")
}

// Key identifies a character by owner and upstream character id.
type Key struct {
	Owner    string
	Upstream string
}

// Cache maps character keys to materialized characters for one session.
type Cache map[Key]*Character

// Extract decodes a full character sheet out of a command or
// automation-run event's caster payload, if one is embedded. Returns true
// when a character was added.
func (c Cache) Extract(ev *model.Event) bool {
	if ev.Kind != model.KindCommand && ev.Kind != model.KindAutomationRun {
		return false
	}
	if len(ev.Caster) == 0 {
		return false
	}
	var ch Character
	if err := json.Unmarshal(ev.Caster, &ch); err != nil {
		return false
	}
	// Only caster payloads carrying the upstream sheet reference qualify.
	if ch.Upstream == "" {
		return false
	}
	c[Key{Owner: ch.Owner, Upstream: ch.Upstream}] = &ch
	return true
}

// Lookup resolves a character by key.
func (c Cache) Lookup(owner, upstream string) (*Character, bool) {
	ch, ok := c[Key{Owner: owner, Upstream: upstream}]
	return ch, ok
}

// LookupFunc resolves referenced character detail during combatant decoding.
type LookupFunc func(owner, upstream string) (*Character, bool)

// Reconstructor decodes raw entity payloads into display records. The
// character lookup is injected at construction time so that serialized
// player combatants can resolve their full sheets.
type Reconstructor struct {
	lookup LookupFunc
}

// NewReconstructor creates a Reconstructor with the given character lookup.
func NewReconstructor(lookup LookupFunc) *Reconstructor {
	return &Reconstructor{lookup: lookup}
}

// Combatant is a materialized combat participant. It exists only to carry
// display-relevant state; initiative and visibility are irrelevant here.
type Combatant struct {
	Type         string
	Name         string
	ControllerID string
	HP           *int
	MaxHP        *int
	TempHP       *int
	Effects      []Named
	Attacks      []Named
	Spellbook    Spellbook

	// Player-derived detail.
	Character *Character
	// Monster-derived detail.
	MonsterName string
}

// shapeProbe inspects which discriminating fields a raw payload carries.
type shapeProbe struct {
	Type  *string `json:"type"`
	Owner *string `json:"owner"`
}

// rawCombatant is the serialized combatant shape (discriminator present).
type rawCombatant struct {
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	ControllerID string    `json:"controller_id"`
	HP           *int      `json:"hp"`
	MaxHP        *int      `json:"max_hp"`
	TempHP       *int      `json:"temp_hp"`
	Effects      []Named   `json:"effects"`
	Attacks      []Named   `json:"attacks"`
	Spellbook    Spellbook `json:"spellbook"`

	// player
	CharacterID    string `json:"character_id"`
	CharacterOwner string `json:"character_owner"`

	// monster
	MonsterName string `json:"monster_name"`
}

// rawMonster is a bestiary monster template (no owner, no discriminator).
type rawMonster struct {
	Name      string    `json:"name"`
	HP        *int      `json:"hp"`
	Attacks   []Named   `json:"attacks"`
	Spellbook Spellbook `json:"spellbook"`
}

// Materialize decodes one raw entity payload into a Combatant.
func (r *Reconstructor) Materialize(raw json.RawMessage) (*Combatant, error) {
	var probe shapeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeDecodeFailed, "unreadable entity payload")
	}

	switch {
	case probe.Type != nil:
		return r.fromSerialized(raw)
	case probe.Owner != nil:
		return fromCharacterSheet(raw)
	default:
		return fromMonsterTemplate(raw)
	}
}

// fromSerialized decodes an already-typed combatant, resolving player
// sheets through the injected lookup.
func (r *Reconstructor) fromSerialized(raw json.RawMessage) (*Combatant, error) {
	var rc rawCombatant
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeDecodeFailed, "invalid combatant payload")
	}

	cb := &Combatant{
		Type:         rc.Type,
		Name:         rc.Name,
		ControllerID: rc.ControllerID,
		HP:           rc.HP,
		MaxHP:        rc.MaxHP,
		TempHP:       rc.TempHP,
		Effects:      rc.Effects,
		Attacks:      rc.Attacks,
		Spellbook:    rc.Spellbook,
		MonsterName:  rc.MonsterName,
	}

	if rc.Type == typePlayer {
		ch, ok := r.lookup(rc.CharacterOwner, rc.CharacterID)
		if !ok {
			return nil, scriberr.MissingCharacter(rc.CharacterOwner, rc.CharacterID)
		}
		cb.Character = ch
		// The serialized combatant carries live combat state; anything it
		// omits falls back to the sheet.
		if cb.HP == nil {
			cb.HP = ch.HP
		}
		if cb.MaxHP == nil {
			cb.MaxHP = ch.MaxHP
		}
		if cb.TempHP == nil {
			cb.TempHP = ch.TempHP
		}
		if len(cb.Attacks) == 0 {
			cb.Attacks = ch.Attacks
		}
		if len(cb.Spellbook.Spells) == 0 {
			cb.Spellbook = ch.Spellbook
		}
	}
	return cb, nil
}

// fromCharacterSheet promotes a raw player-character sheet to a combatant.
func fromCharacterSheet(raw json.RawMessage) (*Combatant, error) {
	var ch Character
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeDecodeFailed, "invalid character payload")
	}
	return &Combatant{
		Type:         typePlayer,
		Name:         ch.Name,
		ControllerID: "0",
		HP:           ch.HP,
		MaxHP:        ch.MaxHP,
		TempHP:       ch.TempHP,
		Attacks:      ch.Attacks,
		Spellbook:    ch.Spellbook,
		Character:    &ch,
	}, nil
}

// fromMonsterTemplate promotes a bestiary monster template to a combatant.
// Template hit points are the monster's full pool.
func fromMonsterTemplate(raw json.RawMessage) (*Combatant, error) {
	var m rawMonster
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeDecodeFailed, "invalid monster payload")
	}
	return &Combatant{
		Type:         typeMonster,
		Name:         m.Name,
		ControllerID: "0",
		HP:           m.HP,
		MaxHP:        m.HP,
		Attacks:      m.Attacks,
		Spellbook:    m.Spellbook,
		MonsterName:  m.Name,
	}, nil
}

// Reconstruct decodes a raw entity payload and derives its display record.
func (r *Reconstructor) Reconstruct(raw json.RawMessage) (*model.ActorRecord, error) {
	cb, err := r.Materialize(raw)
	if err != nil {
		return nil, err
	}
	return r.Record(cb), nil
}

// Record derives the flat display record for a materialized combatant.
func (r *Reconstructor) Record(cb *Combatant) *model.ActorRecord {
	rec := &model.ActorRecord{
		Name:         cb.Name,
		HP:           hpString(cb.HP, cb.MaxHP, cb.TempHP),
		Attacks:      joinNames(names(cb.Attacks)),
		Spells:       joinNames(preparedSpells(cb.Spellbook)),
		Effects:      joinNames(names(cb.Effects)),
		ControllerID: cb.ControllerID,
	}

	switch cb.Type {
	case typePlayer:
		if ch := cb.Character; ch != nil {
			rec.Race = ch.Race
			cls := ch.ClassString()
			rec.Class = &cls
			rec.Description = ch.Description
			actions := joinNames(names(ch.Actions))
			rec.Actions = &actions
		}
	case typeMonster:
		if cb.MonsterName != "" {
			race := cb.MonsterName
			rec.Race = &race
		}
	case typeGroup:
		race := "Group"
		rec.Race = &race
	}
	return rec
}

// hpString renders the display hit-point string with its health band.
//
// Band boundaries are deliberately strict-vs-inclusive: ratio 0.5 is
// Bloodied, ratio 0.15 is Critical, and max_hp 0 never computes a ratio.
func hpString(hp, maxHP, tempHP *int) string {
	out := ""
	switch {
	case hp != nil && maxHP != nil:
		out = fmt.Sprintf("%d/%d HP", *hp, *maxHP)
		if *maxHP > 0 {
			ratio := float64(*hp) / float64(*maxHP)
			switch {
			case ratio >= 1:
				out += "; Healthy"
			case 0.5 < ratio && ratio < 1:
				out += "; Injured"
			case 0.15 < ratio && ratio <= 0.5:
				out += "; Bloodied"
			case 0 < ratio && ratio <= 0.15:
				out += "; Critical"
			case ratio <= 0:
				out += "; Dead"
			}
		}
	case hp != nil:
		out = fmt.Sprintf("%d HP", *hp)
	}

	if out != "" {
		out = "<" + out + ">"
	}
	if tempHP != nil && *tempHP > 0 {
		out += fmt.Sprintf(" (+%d temp)", *tempHP)
	}
	return out
}

func names(list []Named) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Name)
	}
	return out
}

func preparedSpells(sb Spellbook) []string {
	var out []string
	for _, s := range sb.Spells {
		if s.Prepared {
			out = append(out, s.Name)
		}
	}
	return out
}

// joinNames comma-joins names with set semantics, preserving first-seen
// order for determinism.
func joinNames(list []string) string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, n := range list {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return strings.Join(out, ", ")
}
