package narrate

import (
	"encoding/json"
	"testing"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
)

const botID = "261302296103747584"

func intp(n int) *int { return &n }

func strp(s string) *string { return &s }

func runEvent(caster string, targets []string, tree *model.ResolutionNode) *model.Event {
	rawTargets := make([]json.RawMessage, len(targets))
	for i, t := range targets {
		b, _ := json.Marshal(map[string]string{"name": t})
		rawTargets[i] = b
	}
	rawCaster, _ := json.Marshal(map[string]string{"name": caster})
	return &model.Event{
		Kind:             model.KindAutomationRun,
		InteractionID:    "i1",
		Caster:           rawCaster,
		Targets:          rawTargets,
		AutomationResult: tree,
	}
}

func TestRenderAttackHitDamage(t *testing.T) {
	tree := &model.ResolutionNode{
		Type: model.NodeRoot,
		Children: []*model.ResolutionNode{{
			Type: model.NodeTarget,
			Results: []*model.ResolutionNode{{
				Type:        model.NodeTargetIteration,
				TargetIndex: intp(0),
				Results: []*model.ResolutionNode{{
					Type:   model.NodeAttack,
					DidHit: true,
					Children: []*model.ResolutionNode{{
						Type: model.NodeDamage, Damage: 7,
					}},
				}},
			}},
		}},
	}

	got := render(tree, "Elyra", []string{"GO1"}, "")
	want := "Elyra attacked GO1 and hit.\nGO1 took 7 damage."
	if got != want {
		t.Errorf("render() = %q, want %q", got, want)
	}
}

func TestRenderCritAndMiss(t *testing.T) {
	tests := []struct {
		name string
		node *model.ResolutionNode
		want string
	}{
		{
			"crit",
			&model.ResolutionNode{Type: model.NodeAttack, DidHit: true, DidCrit: true},
			"Elyra attacked GO1 and crit!\n",
		},
		{
			"miss",
			&model.ResolutionNode{Type: model.NodeAttack},
			"Elyra attacked GO1 but missed.\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(tt.node, "Elyra", []string{"GO1"}, "GO1"); got != tt.want {
				t.Errorf("render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderSiblingIterationIsolation(t *testing.T) {
	// Two sibling target_iteration branches must each render against their
	// own target with no leakage between them.
	tree := &model.ResolutionNode{
		Type: model.NodeRoot,
		Children: []*model.ResolutionNode{{
			Type: model.NodeTarget,
			Results: []*model.ResolutionNode{
				{
					Type:        model.NodeTargetIteration,
					TargetIndex: intp(0),
					Results: []*model.ResolutionNode{{
						Type: model.NodeDamage, Damage: 3,
					}},
				},
				{
					Type:        model.NodeTargetIteration,
					TargetIndex: intp(1),
					Results: []*model.ResolutionNode{{
						Type: model.NodeDamage, Damage: 5,
					}},
				},
				{
					// After both branches the ambient context is restored.
					Type: model.NodeTempHP, Amount: 2,
				},
			},
		}},
	}

	got := render(tree, "Elyra", []string{"GO1", "GO2"}, "Elyra")
	want := "GO1 took 3 damage.\nGO2 took 5 damage.\nElyra gained 2 temp HP."
	if got != want {
		t.Errorf("render() = %q, want %q", got, want)
	}
}

func TestRenderSelfIteration(t *testing.T) {
	tree := &model.ResolutionNode{
		Type:       model.NodeTargetIteration,
		TargetType: model.TargetSelf,
		Results: []*model.ResolutionNode{{
			Type: model.NodeDamage, Damage: -8,
		}},
	}

	got := render(tree, "Elyra", nil, "GO1")
	want := "Elyra healed for -8 health."
	if got != want {
		t.Errorf("render() = %q, want %q", got, want)
	}
}

func TestRenderSave(t *testing.T) {
	tree := &model.ResolutionNode{
		Type:    model.NodeSave,
		Ability: "dexteritySave",
		DidSave: false,
		Children: []*model.ResolutionNode{{
			Type: model.NodeDamage, Damage: 10,
		}},
	}

	got := render(tree, "Elyra", nil, "GO1")
	want := "GO1 rolled a Dexterity save but failed.\nGO1 took 10 damage."
	if got != want {
		t.Errorf("render() = %q, want %q", got, want)
	}
}

func TestRenderChecks(t *testing.T) {
	plain := &model.ResolutionNode{
		Type: model.NodeCheck, SkillName: "Athletics", DidSucceed: true,
	}
	got := render(plain, "Elyra", nil, "GO1")
	if got != "GO1 rolled a Athletics check and succeeded.\n" {
		t.Errorf("render(check) = %q", got)
	}

	contest := &model.ResolutionNode{
		Type: model.NodeCheck, SkillName: "Athletics", DidSucceed: false,
		ContestSkillName: strp("Acrobatics"),
	}
	got = render(contest, "Elyra", nil, "GO1")
	want := "GO1 rolled a Athletics contest against Elyra's Acrobatics but failed.\n"
	if got != want {
		t.Errorf("render(contest) = %q, want %q", got, want)
	}
}

func TestRenderEffects(t *testing.T) {
	gain := &model.ResolutionNode{Type: model.NodeIEffect, Effect: &model.EffectRef{Name: "Poisoned"}}
	if got := render(gain, "", nil, "GO1"); got != "GO1 gained Poisoned." {
		t.Errorf("render(ieffect) = %q", got)
	}
	drop := &model.ResolutionNode{Type: model.NodeRemoveIEffect, RemovedEffect: &model.EffectRef{Name: "Poisoned"}}
	if got := render(drop, "", nil, "GO1"); got != "GO1 is no longer Poisoned." {
		t.Errorf("render(remove_ieffect) = %q", got)
	}
}

func TestRenderUnknownNodeElided(t *testing.T) {
	tree := &model.ResolutionNode{
		Type: model.NodeRoot,
		Children: []*model.ResolutionNode{
			{Type: "i_am_new", Children: []*model.ResolutionNode{{Type: model.NodeDamage, Damage: 1}}},
			{Type: model.NodeDamage, Damage: 2},
		},
	}
	got := render(tree, "Elyra", nil, "GO1")
	if got != "GO1 took 2 damage." {
		t.Errorf("render() = %q, want unknown node elided", got)
	}
}

func TestAbilityName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"strengthSave", "Strength"},
		{"dexteritySave", "Dexterity"},
		{"Save", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := abilityName(tt.in); got != tt.want {
			t.Errorf("abilityName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringifyFindsDisplayMessage(t *testing.T) {
	run := runEvent("Elyra", []string{"GO1"}, &model.ResolutionNode{
		Type: model.NodeTarget,
		Results: []*model.ResolutionNode{{
			Type:        model.NodeTargetIteration,
			TargetIndex: intp(0),
			Results:     []*model.ResolutionNode{{Type: model.NodeDamage, Damage: 7}},
		}},
	})

	display := &model.Event{
		Kind:      model.KindMessage,
		MessageID: "103",
		AuthorID:  botID,
		Content:   "",
		Embeds: []model.Embed{{
			Title:  strp("Elyra attacks with a Dagger!"),
			Fields: []model.EmbedField{{Name: "GO1", Value: "7 damage"}},
		}},
	}

	l := eventlog.New([]*model.Event{
		{Kind: model.KindCommand, InteractionID: "i1", MessageID: "101"},
		run,
		display,
	})

	s := New(l, botID)
	text, ev := s.Stringify(run)
	if ev != display {
		t.Fatalf("Stringify() event = %v, want the display message", ev)
	}
	want := "Elyra attacks with a Dagger!\nGO1 took 7 damage."
	if text != want {
		t.Errorf("Stringify() = %q, want %q", text, want)
	}
}

func TestStringifyMissIsNonFatal(t *testing.T) {
	run := runEvent("Elyra", []string{"GO1"}, &model.ResolutionNode{Type: model.NodeDamage, Damage: 2})

	l := eventlog.New([]*model.Event{
		{Kind: model.KindCommand, InteractionID: "i1", MessageID: "101"},
		run,
	})

	s := New(l, botID)
	text, ev := s.Stringify(run)
	if ev != nil {
		t.Errorf("Stringify() event = %v, want nil on miss", ev)
	}
	// Damage at ambient scope renders against the caster, and the
	// narration is still produced without a title prefix.
	if text != "Elyra took 2 damage." {
		t.Errorf("Stringify() = %q", text)
	}
}

func TestStringifyRootAmbientTargetIsCaster(t *testing.T) {
	// A leaf outside any target_iteration branch renders against the
	// caster, and a sibling branch override does not bleed back out.
	run := runEvent("Elyra", []string{"GO1"}, &model.ResolutionNode{
		Type: model.NodeRoot,
		Children: []*model.ResolutionNode{
			{
				Type:        model.NodeTargetIteration,
				TargetIndex: intp(0),
				Results: []*model.ResolutionNode{
					{Type: model.NodeDamage, Damage: 7},
				},
			},
			{Type: model.NodeDamage, Damage: -3},
		},
	})

	l := eventlog.New([]*model.Event{
		{Kind: model.KindCommand, InteractionID: "i1", MessageID: "101"},
		run,
	})

	s := New(l, botID)
	text, _ := s.Stringify(run)
	want := "GO1 took 7 damage.\nElyra healed for -3 health."
	if text != want {
		t.Errorf("Stringify() = %q, want %q", text, want)
	}
}

func TestStringifyFieldSupersetMatch(t *testing.T) {
	run := runEvent("", []string{"GO1", "GO2"}, &model.ResolutionNode{Type: model.NodeRoot})

	display := &model.Event{
		Kind:      model.KindMessage,
		MessageID: "105",
		AuthorID:  botID,
		Embeds: []model.Embed{{
			Title: strp("An effect resolves"),
			Fields: []model.EmbedField{
				{Name: "GO1"}, {Name: "GO2"}, {Name: "Meta"},
			},
		}},
	}

	l := eventlog.New([]*model.Event{
		{Kind: model.KindCommand, InteractionID: "i1", MessageID: "101"},
		run,
		display,
	})

	s := New(l, botID)
	_, ev := s.Stringify(run)
	if ev != display {
		t.Errorf("Stringify() should match by field-name superset, got %v", ev)
	}
}
