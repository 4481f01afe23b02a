package triple

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

const botID = "261302296103747584"

func boolp(b bool) *bool    { return &b }
func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }

var (
	elyraRaw = json.RawMessage(`{"type":"monster","name":"Elyra","controller_id":"700","hp":30,"max_hp":30,"monster_name":"Wood Elf Scout"}`)

	goblinHealthy = json.RawMessage(`{"type":"monster","name":"GO1","controller_id":"0","hp":20,"max_hp":20,"monster_name":"Goblin"}`)
	goblinInjured = json.RawMessage(`{"type":"monster","name":"GO1","controller_id":"0","hp":13,"max_hp":20,"monster_name":"Goblin"}`)
)

func stateData(current int, combatants ...json.RawMessage) json.RawMessage {
	s := struct {
		Round      int               `json:"round"`
		Combatants []json.RawMessage `json:"combatants"`
		Current    *int              `json:"current"`
	}{Round: 1, Combatants: combatants, Current: &current}
	data, _ := json.Marshal(s)
	return data
}

func attackTree(damage int) *model.ResolutionNode {
	return &model.ResolutionNode{
		Type: model.NodeRoot,
		Children: []*model.ResolutionNode{{
			Type:        model.NodeTargetIteration,
			TargetIndex: intp(0),
			Results: []*model.ResolutionNode{{
				Type:   model.NodeAttack,
				DidHit: true,
				Children: []*model.ResolutionNode{{
					Type:   model.NodeDamage,
					Damage: damage,
				}},
			}},
		}},
	}
}

// attackSession builds a seven-event session covering one full attack: a
// state snapshot, a player utterance, the command with its automation run,
// the display message, the updated snapshot, and a reaction.
func attackSession(t *testing.T) (*eventlog.Log, *model.Triple) {
	t.Helper()

	events := []*model.Event{
		{
			Kind: model.KindCombatStateUpdate,
			Data: stateData(0, elyraRaw, goblinHealthy),
		},
		{
			Kind:       model.KindMessage,
			MessageID:  "100",
			AuthorID:   "700",
			AuthorName: "Liza",
			AuthorBot:  boolp(false),
			Content:    "I attack the goblin!",
		},
		{
			Kind:          model.KindCommand,
			MessageID:     "101",
			AuthorID:      "700",
			AuthorName:    "Liza",
			AuthorBot:     boolp(false),
			Content:       "!a dagger -t GO1",
			Prefix:        "!",
			InteractionID: "int1",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int1",
			Caster:           elyraRaw,
			Targets:          []json.RawMessage{goblinInjured},
			AutomationResult: attackTree(7),
		},
		{
			Kind:      model.KindMessage,
			MessageID: "102",
			AuthorID:  botID,
			Content:   "",
			Embeds: []model.Embed{{
				Title:  strp("Elyra attacks with a Dagger!"),
				Fields: []model.EmbedField{{Name: "GO1", Value: "13/20 HP"}},
			}},
		},
		{
			Kind: model.KindCombatStateUpdate,
			Data: stateData(1, elyraRaw, goblinInjured),
		},
		{
			Kind:       model.KindMessage,
			MessageID:  "103",
			AuthorID:   "701",
			AuthorName: "Ben",
			AuthorBot:  boolp(false),
			Content:    "Nice hit!",
		},
	}

	l := eventlog.New(events)
	tr := &model.Triple{
		Before:   []*model.Event{events[1]},
		Commands: []*model.Event{events[2], events[3], events[5]},
		After:    []*model.Event{events[6]},
	}
	return l, tr
}

func TestProcessTripleAttack(t *testing.T) {
	l, tr := attackSession(t)
	s := NewSession(l, DefaultConfig())

	rec, err := s.ProcessTriple(tr)
	if err != nil {
		t.Fatalf("ProcessTriple: %v", err)
	}
	if rec == nil {
		t.Fatal("ProcessTriple returned nil record")
	}

	if got, want := rec.SpeakerID, "700"; got != want {
		t.Errorf("speaker_id = %q, want %q", got, want)
	}
	if got, want := rec.BeforeUtterances, []string{"I attack the goblin!"}; !reflect.DeepEqual(got, want) {
		t.Errorf("before_utterances = %q, want %q", got, want)
	}
	if got, want := rec.CommandsNorm, []string{"!a dagger -t GO1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("commands_norm = %q, want %q", got, want)
	}

	wantNarration := "Elyra attacks with a Dagger!\n" +
		"Elyra attacked GO1 and hit.\n" +
		"GO1 took 7 damage."
	if got, want := rec.AutomationResults, []string{wantNarration}; !reflect.DeepEqual(got, want) {
		t.Errorf("automation_results = %q, want %q", got, want)
	}

	if got, want := rec.CasterAfter.Name, "Elyra"; got != want {
		t.Errorf("caster_after.name = %q, want %q", got, want)
	}
	if len(rec.TargetsAfter) != 1 {
		t.Fatalf("targets_after has %d records, want 1", len(rec.TargetsAfter))
	}
	if got, want := rec.TargetsAfter[0].HP, "<13/20 HP; Injured>"; got != want {
		t.Errorf("targets_after[0].hp = %q, want %q", got, want)
	}

	if len(rec.CombatStateBefore) != 2 {
		t.Fatalf("combat_state_before has %d records, want 2", len(rec.CombatStateBefore))
	}
	if got, want := rec.CombatStateBefore[1].HP, "<20/20 HP; Healthy>"; got != want {
		t.Errorf("combat_state_before[1].hp = %q, want %q", got, want)
	}
	if len(rec.CombatStateAfter) != 2 {
		t.Fatalf("combat_state_after has %d records, want 2", len(rec.CombatStateAfter))
	}
	if got, want := rec.CombatStateAfter[1].HP, "<13/20 HP; Injured>"; got != want {
		t.Errorf("combat_state_after[1].hp = %q, want %q", got, want)
	}

	if rec.CurrentActor == nil || rec.CurrentActor.Name != "Elyra" {
		t.Errorf("current_actor = %+v, want Elyra", rec.CurrentActor)
	}

	if got, want := rec.AfterUtterances, []string{"Nice hit!"}; !reflect.DeepEqual(got, want) {
		t.Errorf("after_utterances = %q, want %q", got, want)
	}
	// The after window reaches the history for later triples only.
	wantHistory := []string{"Liza: I attack the goblin!"}
	if !reflect.DeepEqual(rec.UtteranceHistory, wantHistory) {
		t.Errorf("utterance_history = %q, want %q", rec.UtteranceHistory, wantHistory)
	}

	if got, want := rec.BeforeIdxs, []int{1}; !reflect.DeepEqual(got, want) {
		t.Errorf("before_idxs = %v, want %v", got, want)
	}
	if got, want := rec.BeforeStateIdx, 0; got != want {
		t.Errorf("before_state_idx = %d, want %d", got, want)
	}
	if got, want := rec.CommandIdxs, []int{2, 3, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("command_idxs = %v, want %v", got, want)
	}
	if got, want := rec.AfterStateIdx, 5; got != want {
		t.Errorf("after_state_idx = %d, want %d", got, want)
	}
	if got, want := rec.AfterIdxs, []int{6}; !reflect.DeepEqual(got, want) {
		t.Errorf("after_idxs = %v, want %v", got, want)
	}
	if len(rec.EmbedIdxs) != 1 || rec.EmbedIdxs[0] == nil || *rec.EmbedIdxs[0] != 4 {
		t.Errorf("embed_idxs = %v, want [4]", rec.EmbedIdxs)
	}
}

func TestHistoryExcludesOwnAfterWindow(t *testing.T) {
	events := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
		{
			Kind:       model.KindMessage,
			MessageID:  "100",
			AuthorID:   "700",
			AuthorName: "Liza",
			AuthorBot:  boolp(false),
			Content:    "I attack the goblin!",
		},
		{
			Kind:          model.KindCommand,
			MessageID:     "101",
			AuthorID:      "700",
			Content:       "!a dagger -t GO1",
			Prefix:        "!",
			InteractionID: "int1",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int1",
			Caster:           elyraRaw,
			Targets:          []json.RawMessage{goblinInjured},
			AutomationResult: attackTree(7),
		},
		{Kind: model.KindCombatStateUpdate, Data: stateData(1, elyraRaw, goblinInjured)},
		{
			Kind:       model.KindMessage,
			MessageID:  "103",
			AuthorID:   "701",
			AuthorName: "Ben",
			AuthorBot:  boolp(false),
			Content:    "Nice hit!",
		},
		{
			Kind:          model.KindCommand,
			MessageID:     "104",
			AuthorID:      "701",
			Content:       "!a scimitar -t GO1",
			Prefix:        "!",
			InteractionID: "int2",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int2",
			Caster:           elyraRaw,
			Targets:          []json.RawMessage{goblinInjured},
			AutomationResult: attackTree(4),
		},
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinInjured)},
	}
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	first, err := s.ProcessTriple(&model.Triple{
		Before:   []*model.Event{events[1]},
		Commands: []*model.Event{events[2], events[3], events[4]},
		After:    []*model.Event{events[5]},
	})
	if err != nil {
		t.Fatalf("ProcessTriple(first): %v", err)
	}
	want := []string{"Liza: I attack the goblin!"}
	if !reflect.DeepEqual(first.UtteranceHistory, want) {
		t.Errorf("first utterance_history = %q, want %q", first.UtteranceHistory, want)
	}

	// The same message belongs to the next triple's history.
	second, err := s.ProcessTriple(&model.Triple{
		Commands: []*model.Event{events[6], events[7], events[8]},
	})
	if err != nil {
		t.Fatalf("ProcessTriple(second): %v", err)
	}
	want = []string{"Liza: I attack the goblin!", "Ben: Nice hit!"}
	if !reflect.DeepEqual(second.UtteranceHistory, want) {
		t.Errorf("second utterance_history = %q, want %q", second.UtteranceHistory, want)
	}
}

func TestStringTargetDiscards(t *testing.T) {
	events := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
		{
			Kind:          model.KindCommand,
			MessageID:     "101",
			AuthorID:      "700",
			Content:       "!a dagger -t someone",
			Prefix:        "!",
			InteractionID: "int1",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int1",
			Caster:           elyraRaw,
			Targets:          []json.RawMessage{json.RawMessage(`"someone"`)},
			AutomationResult: attackTree(7),
		},
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
	}
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	rec, err := s.ProcessTriple(&model.Triple{Commands: []*model.Event{events[1], events[2], events[3]}})
	if err != nil {
		t.Fatalf("string target should discard, not fail: %v", err)
	}
	if rec != nil {
		t.Errorf("string target produced a record: %+v", rec)
	}
}

func TestNoTerminalStateDiscards(t *testing.T) {
	events := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
		{
			Kind:          model.KindCommand,
			MessageID:     "101",
			AuthorID:      "700",
			Content:       "!a dagger -t GO1",
			Prefix:        "!",
			InteractionID: "int1",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int1",
			Caster:           elyraRaw,
			Targets:          []json.RawMessage{goblinInjured},
			AutomationResult: attackTree(7),
		},
	}
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	rec, err := s.ProcessTriple(&model.Triple{Commands: []*model.Event{events[1], events[2]}})
	if err != nil {
		t.Fatalf("missing terminal state should discard, not fail: %v", err)
	}
	if rec != nil {
		t.Errorf("missing terminal state produced a record: %+v", rec)
	}
}

func TestMissingCasterFails(t *testing.T) {
	events := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
		{
			Kind:          model.KindCommand,
			MessageID:     "101",
			AuthorID:      "700",
			Content:       "!a dagger",
			Prefix:        "!",
			InteractionID: "int1",
		},
		{
			Kind:             model.KindAutomationRun,
			InteractionID:    "int1",
			AutomationResult: attackTree(7),
		},
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
	}
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	_, err := s.ProcessTriple(&model.Triple{Commands: []*model.Event{events[1], events[2], events[3]}})
	if !scriberr.IsCode(err, scriberr.CodeMissingCaster) {
		t.Errorf("err = %v, want code %s", err, scriberr.CodeMissingCaster)
	}
}

func TestEmptyCommandSpanFails(t *testing.T) {
	l := eventlog.New(nil)
	s := NewSession(l, DefaultConfig())

	_, err := s.ProcessTriple(&model.Triple{})
	if !scriberr.IsCode(err, scriberr.CodeInvalidFormat) {
		t.Errorf("err = %v, want code %s", err, scriberr.CodeInvalidFormat)
	}
}

func TestOversizedWindowsEmptiedButKeptInHistory(t *testing.T) {
	base := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
	}
	var before []*model.Event
	for i := 0; i < 6; i++ {
		before = append(before, &model.Event{
			Kind:       model.KindMessage,
			MessageID:  fmt.Sprintf("%d00", i+1),
			AuthorID:   "700",
			AuthorName: "Liza",
			AuthorBot:  boolp(false),
			Content:    "chatter",
		})
	}
	cmd := &model.Event{
		Kind:          model.KindCommand,
		MessageID:     "900",
		AuthorID:      "700",
		Content:       "!a dagger -t GO1",
		Prefix:        "!",
		InteractionID: "int1",
	}
	run := &model.Event{
		Kind:             model.KindAutomationRun,
		InteractionID:    "int1",
		Caster:           elyraRaw,
		Targets:          []json.RawMessage{goblinInjured},
		AutomationResult: attackTree(7),
	}
	state := &model.Event{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinInjured)}

	events := append(base, before...)
	events = append(events, cmd, run, state)
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	rec, err := s.ProcessTriple(&model.Triple{
		Before:   before,
		Commands: []*model.Event{cmd, run, state},
	})
	if err != nil {
		t.Fatalf("ProcessTriple: %v", err)
	}

	if len(rec.BeforeUtterances) != 0 {
		t.Errorf("before_utterances = %q, want empty for oversized window", rec.BeforeUtterances)
	}
	if len(rec.BeforeIdxs) != 0 {
		t.Errorf("before_idxs = %v, want empty for oversized window", rec.BeforeIdxs)
	}
	// The flood still enters the rolling history, capped at depth.
	if len(rec.UtteranceHistory) != 5 {
		t.Errorf("utterance_history has %d entries, want 5", len(rec.UtteranceHistory))
	}
}

func TestTargetDeduplicationAcrossRuns(t *testing.T) {
	run1 := &model.Event{
		Kind:             model.KindAutomationRun,
		InteractionID:    "int1",
		Caster:           elyraRaw,
		Targets:          []json.RawMessage{goblinInjured},
		AutomationResult: attackTree(3),
	}
	run2 := &model.Event{
		Kind:             model.KindAutomationRun,
		InteractionID:    "int2",
		Caster:           elyraRaw,
		Targets:          []json.RawMessage{goblinInjured},
		AutomationResult: attackTree(4),
	}
	cmd1 := &model.Event{
		Kind: model.KindCommand, MessageID: "101", AuthorID: "700",
		Content: "!a dagger -t GO1", Prefix: "!", InteractionID: "int1",
	}
	cmd2 := &model.Event{
		Kind: model.KindCommand, MessageID: "102", AuthorID: "700",
		Content: "!a dagger -t GO1", Prefix: "!", InteractionID: "int2",
	}
	state := &model.Event{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinInjured)}

	events := []*model.Event{
		{Kind: model.KindCombatStateUpdate, Data: stateData(0, elyraRaw, goblinHealthy)},
		cmd1, run1, cmd2, run2, state,
	}
	l := eventlog.New(events)
	s := NewSession(l, DefaultConfig())

	rec, err := s.ProcessTriple(&model.Triple{Commands: []*model.Event{cmd1, run1, cmd2, run2, state}})
	if err != nil {
		t.Fatalf("ProcessTriple: %v", err)
	}
	if len(rec.TargetsAfter) != 1 {
		t.Errorf("targets_after has %d records, want 1 after dedup", len(rec.TargetsAfter))
	}
	if len(rec.AutomationResults) != 2 {
		t.Errorf("automation_results has %d entries, want 2", len(rec.AutomationResults))
	}
}
