package model

// ActorRecord is the canonical flat display record for one combatant.
// It is derived fresh from underlying state on every reconstruction and is
// never mutated in place.
type ActorRecord struct {
	Name         string  `json:"name"`
	HP           string  `json:"hp"`
	Class        *string `json:"class"`
	Race         *string `json:"race"`
	Attacks      string  `json:"attacks"`
	Spells       string  `json:"spells"`
	Actions      *string `json:"actions"`
	Effects      string  `json:"effects"`
	Description  *string `json:"description"`
	ControllerID string  `json:"controller_id"`
}

// NormalizedTriple is one output record: the fully normalized training
// instance for a single triple, with back-reference positions into the
// session event log for every consumed event and snapshot.
type NormalizedTriple struct {
	SpeakerID         string         `json:"speaker_id"`
	BeforeUtterances  []string       `json:"before_utterances"`
	CombatStateBefore []*ActorRecord `json:"combat_state_before"`
	CurrentActor      *ActorRecord   `json:"current_actor"`
	CommandsNorm      []string       `json:"commands_norm"`
	AutomationResults []string       `json:"automation_results"`
	CasterAfter       *ActorRecord   `json:"caster_after"`
	TargetsAfter      []*ActorRecord `json:"targets_after"`
	CombatStateAfter  []*ActorRecord `json:"combat_state_after"`
	AfterUtterances   []string       `json:"after_utterances"`
	UtteranceHistory  []string       `json:"utterance_history"`

	BeforeIdxs     []int  `json:"before_idxs"`
	BeforeStateIdx int    `json:"before_state_idx"`
	CommandIdxs    []int  `json:"command_idxs"`
	AfterStateIdx  int    `json:"after_state_idx"`
	AfterIdxs      []int  `json:"after_idxs"`
	EmbedIdxs      []*int `json:"embed_idxs"`
}
