// Package triple orchestrates per-triple normalization: it queries the
// session log for positions and snapshots, delegates entity shapes to the
// actor reconstructor, resolution trees to the narration stringifier, and
// text to the normalizers. All mutable state is session-scoped and
// threaded through the Session; triples within a session are strictly
// sequential.
package triple

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"

	"github.com/combatscribe/combatscribe/internal/model"
	"github.com/combatscribe/combatscribe/pkg/actor"
	"github.com/combatscribe/combatscribe/pkg/combat"
	"github.com/combatscribe/combatscribe/pkg/eventlog"
	"github.com/combatscribe/combatscribe/pkg/narrate"
	"github.com/combatscribe/combatscribe/pkg/normalize"
	"github.com/combatscribe/combatscribe/pkg/scriberr"
)

// DefaultAutomationAuthorID is the author id of the automation actor whose
// messages carry result embeds.
const DefaultAutomationAuthorID = "261302296103747584"

// Config holds per-session processing settings.
type Config struct {
	// WindowCap treats any before/after window longer than this as empty.
	WindowCap int
	// HistoryDepth is how many history entries accompany each record.
	HistoryDepth int
	// AutomationAuthorID identifies the automation actor.
	AutomationAuthorID string
	// CanonicalPrefix replaces each command's recorded prefix.
	CanonicalPrefix string
}

// DefaultConfig returns the default processing settings.
func DefaultConfig() Config {
	return Config{
		WindowCap:          5,
		HistoryDepth:       5,
		AutomationAuthorID: DefaultAutomationAuthorID,
		CanonicalPrefix:    normalize.DefaultPrefix,
	}
}

// Session is the processing context for one combat session: the event log
// plus the character cache and rolling utterance history that thread
// across its triples. Create one per session and discard it at the end.
type Session struct {
	log *eventlog.Log
	cfg Config

	characters actor.Cache
	history    []*model.Event

	recon   *actor.Reconstructor
	msgNorm *normalize.MessageNormalizer
	cmdNorm *normalize.CommandNormalizer
	strf    *narrate.Stringifier
}

// NewSession creates a session context over an event log.
func NewSession(l *eventlog.Log, cfg Config) *Session {
	if cfg.WindowCap == 0 {
		cfg.WindowCap = 5
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = 5
	}
	if cfg.AutomationAuthorID == "" {
		cfg.AutomationAuthorID = DefaultAutomationAuthorID
	}

	cache := actor.Cache{}
	return &Session{
		log:        l,
		cfg:        cfg,
		characters: cache,
		recon:      actor.NewReconstructor(cache.Lookup),
		msgNorm:    normalize.NewMessageNormalizer(l),
		cmdNorm:    &normalize.CommandNormalizer{Prefix: cfg.CanonicalPrefix},
		strf:       narrate.New(l, cfg.AutomationAuthorID),
	}
}

// ProcessTriple normalizes one triple. A nil record with a nil error means
// the triple was discarded by policy; any error aborts only this triple.
func (s *Session) ProcessTriple(t *model.Triple) (rec *model.NormalizedTriple, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = scriberr.New(scriberr.CodePanic, "triple processing panicked").
				WithContext("panic", fmt.Sprint(r))
		}
	}()

	rec, err = s.processTriple(t)
	if err != nil && scriberr.IsDiscard(err) {
		log.Printf("triple: discarded: %v", err)
		return nil, nil
	}
	return rec, err
}

func (s *Session) processTriple(t *model.Triple) (*model.NormalizedTriple, error) {
	if len(t.Commands) == 0 {
		return nil, scriberr.New(scriberr.CodeInvalidFormat, "triple has no command span")
	}

	before := t.Before
	after := t.After

	// The full before window joins the history even when the window is
	// treated as empty below.
	s.appendHistory(before)

	// Abnormal floods carry no usable conversational signal.
	if len(before) > s.cfg.WindowCap {
		before = nil
	}
	if len(after) > s.cfg.WindowCap {
		after = nil
	}

	speakerID := t.Commands[0].AuthorID

	beforeUtterances, err := s.normalizeAll(before, false)
	if err != nil {
		return nil, err
	}

	// History is frozen here: the after window joins it only for later
	// triples, never for this record's own history field.
	historyTail, err := s.normalizeHistoryTail()
	if err != nil {
		return nil, err
	}

	// Command normalization over interaction groups.
	cmdLog := eventlog.New(t.Commands)
	groups := cmdLog.GroupByInteraction()
	covered := 0
	for _, g := range groups {
		covered += len(g.Events)
	}
	if covered != len(t.Commands) {
		return nil, scriberr.New(scriberr.CodeGroupCoverage, "interaction groups do not cover command span").
			WithContext("covered", covered).
			WithContext("events", len(t.Commands))
	}
	commandsNorm := make([]string, 0, len(groups))
	for _, g := range groups {
		if norm, ok := s.cmdNorm.Normalize(g); ok && norm != "" {
			commandsNorm = append(commandsNorm, norm)
		}
	}

	// State before: populate the character cache from the log head, then
	// decode the snapshot at or before the first command.
	firstIdx, err := s.log.PositionOf(t.Commands[0])
	if err != nil {
		return nil, err
	}
	s.extractCharactersForward(firstIdx)

	stateEvent := s.log.FindLast(func(e *model.Event) bool {
		return e.Kind == model.KindCombatStateUpdate
	}, firstIdx)
	if stateEvent == nil {
		return nil, scriberr.New(scriberr.CodeEventNotFound, "no combat state at or before command span")
	}
	beforeStateIdx, err := s.log.PositionOf(stateEvent)
	if err != nil {
		return nil, err
	}
	stateBefore, err := combat.Decode(stateEvent.Data)
	if err != nil {
		return nil, err
	}
	combatStateBefore, err := s.reconstructAll(stateBefore.CombatantPayloads(false))
	if err != nil {
		return nil, err
	}

	var currentActor *model.ActorRecord
	if raw := stateBefore.CurrentPayload(); raw != nil {
		currentActor, err = s.recon.Reconstruct(raw)
		if err != nil {
			return nil, err
		}
	}

	// Caster: the first automation run carrying one. A span whose runs all
	// lack a caster violates an upstream guarantee.
	var casterRaw json.RawMessage
	for e := range cmdLog.AllOfKind(model.KindAutomationRun) {
		if len(e.Caster) > 0 {
			casterRaw = e.Caster
			break
		}
	}
	if casterRaw == nil {
		return nil, scriberr.MissingCaster()
	}
	casterAfter, err := s.recon.Reconstruct(casterRaw)
	if err != nil {
		return nil, err
	}

	// Targets across the span. A bare string target is unresolvable and
	// discards the whole triple.
	targetsAfter := make([]*model.ActorRecord, 0)
	for e := range cmdLog.AllOfKind(model.KindAutomationRun) {
		for _, raw := range e.Targets {
			var str string
			if json.Unmarshal(raw, &str) == nil {
				return nil, scriberr.StringTarget(str)
			}
			target, err := s.recon.Reconstruct(raw)
			if err != nil {
				return nil, err
			}
			if !containsRecord(targetsAfter, target) {
				targetsAfter = append(targetsAfter, target)
			}
		}
	}

	// Narrations with display-message alignment.
	automationResults := make([]string, 0)
	embedIdxs := make([]*int, 0)
	for e := range cmdLog.AllOfKind(model.KindAutomationRun) {
		text, embedEvent := s.strf.Stringify(e)
		automationResults = append(automationResults, text)
		if embedEvent == nil {
			embedIdxs = append(embedIdxs, nil)
			continue
		}
		idx, err := s.log.PositionOf(embedEvent)
		if err != nil {
			return nil, err
		}
		embedIdxs = append(embedIdxs, &idx)
	}

	// State after: populate the cache from the log tail, then prefer the
	// last update inside the span, falling back to the nearest one after.
	lastIdx, err := s.log.PositionOf(t.Commands[len(t.Commands)-1])
	if err != nil {
		return nil, err
	}
	s.extractCharactersBackward(lastIdx)

	finalUpdate := cmdLog.LastOfKind(model.KindCombatStateUpdate)
	if finalUpdate == nil {
		finalUpdate = s.log.Find(func(e *model.Event) bool {
			return e.Kind == model.KindCombatStateUpdate
		}, lastIdx+1, -1)
		if finalUpdate == nil {
			return nil, scriberr.NoCombatState()
		}
	}
	afterStateIdx, err := s.log.PositionOf(finalUpdate)
	if err != nil {
		return nil, err
	}
	stateAfter, err := combat.Decode(finalUpdate.Data)
	if err != nil {
		return nil, err
	}
	combatStateAfter, err := s.reconstructAll(stateAfter.CombatantPayloads(false))
	if err != nil {
		return nil, err
	}

	afterUtterances, err := s.normalizeAll(after, false)
	if err != nil {
		return nil, err
	}

	s.appendHistory(t.After)

	beforeIdxs, err := s.positionsOf(before)
	if err != nil {
		return nil, err
	}
	commandIdxs, err := s.positionsOf(t.Commands)
	if err != nil {
		return nil, err
	}
	afterIdxs, err := s.positionsOf(after)
	if err != nil {
		return nil, err
	}

	return &model.NormalizedTriple{
		SpeakerID:         speakerID,
		BeforeUtterances:  beforeUtterances,
		CombatStateBefore: combatStateBefore,
		CurrentActor:      currentActor,
		CommandsNorm:      commandsNorm,
		AutomationResults: automationResults,
		CasterAfter:       casterAfter,
		TargetsAfter:      targetsAfter,
		CombatStateAfter:  combatStateAfter,
		AfterUtterances:   afterUtterances,
		UtteranceHistory:  historyTail,
		BeforeIdxs:        beforeIdxs,
		BeforeStateIdx:    beforeStateIdx,
		CommandIdxs:       commandIdxs,
		AfterStateIdx:     afterStateIdx,
		AfterIdxs:         afterIdxs,
		EmbedIdxs:         embedIdxs,
	}, nil
}

// appendHistory adds messages to the rolling history, keeping it ordered
// by message ordering key.
func (s *Session) appendHistory(msgs []*model.Event) {
	s.history = append(s.history, msgs...)
	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].OrderKey() < s.history[j].OrderKey()
	})
}

// normalizeHistoryTail normalizes the most recent history entries with
// author attribution.
func (s *Session) normalizeHistoryTail() ([]string, error) {
	tail := s.history
	if len(tail) > s.cfg.HistoryDepth {
		tail = tail[len(tail)-s.cfg.HistoryDepth:]
	}
	return s.normalizeAll(tail, true)
}

func (s *Session) normalizeAll(msgs []*model.Event, includeAuthor bool) ([]string, error) {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		norm, err := s.msgNorm.Normalize(m, includeAuthor)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	return out, nil
}

func (s *Session) reconstructAll(raws []json.RawMessage) ([]*model.ActorRecord, error) {
	out := make([]*model.ActorRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := s.recon.Reconstruct(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Session) positionsOf(events []*model.Event) ([]int, error) {
	out := make([]int, 0, len(events))
	for _, e := range events {
		idx, err := s.log.PositionOf(e)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// extractCharactersForward pulls character sheets out of every event from
// the session start up to (excluding) position until.
func (s *Session) extractCharactersForward(until int) {
	for i := 0; i < until && i < s.log.Len(); i++ {
		s.characters.Extract(s.log.At(i))
	}
}

// extractCharactersBackward pulls character sheets out of every event from
// the session end down to (excluding) position until.
func (s *Session) extractCharactersBackward(until int) {
	for i := s.log.Len() - 1; i > until; i-- {
		s.characters.Extract(s.log.At(i))
	}
}

// containsRecord reports whether an equal record is already collected.
func containsRecord(records []*model.ActorRecord, rec *model.ActorRecord) bool {
	for _, r := range records {
		if reflect.DeepEqual(r, rec) {
			return true
		}
	}
	return false
}
