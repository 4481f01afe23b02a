package model

// Resolution-node kinds. A ResolutionNode tree describes the effects of one
// automation run; unknown kinds render to nothing downstream.
const (
	NodeRoot            = "root"
	NodeCondition       = "condition"
	NodeSpell           = "spell"
	NodeTarget          = "target"
	NodeTargetIteration = "target_iteration"
	NodeAttack          = "attack"
	NodeSave            = "save"
	NodeDamage          = "damage"
	NodeTempHP          = "temphp"
	NodeIEffect         = "ieffect"
	NodeRemoveIEffect   = "remove_ieffect"
	NodeCheck           = "check"
)

// TargetSelf marks a target_iteration branch that targets the caster.
const TargetSelf = "self"

// ResolutionNode is one tagged node of an automation result tree. Only the
// fields relevant to a node's Type are populated.
type ResolutionNode struct {
	Type string `json:"type"`

	Children []*ResolutionNode `json:"children,omitempty"`
	Results  []*ResolutionNode `json:"results,omitempty"`

	// target_iteration
	TargetType  string `json:"target_type,omitempty"`
	TargetIndex *int   `json:"target_index,omitempty"`

	// attack
	DidHit  bool `json:"did_hit,omitempty"`
	DidCrit bool `json:"did_crit,omitempty"`

	// save
	Ability string `json:"ability,omitempty"`
	DidSave bool   `json:"did_save,omitempty"`

	// damage (negative is healing)
	Damage int `json:"damage,omitempty"`

	// temphp
	Amount int `json:"amount,omitempty"`

	// ieffect / remove_ieffect
	Effect        *EffectRef `json:"effect,omitempty"`
	RemovedEffect *EffectRef `json:"removed_effect,omitempty"`

	// check
	SkillName        string  `json:"skill_name,omitempty"`
	DidSucceed       bool    `json:"did_succeed,omitempty"`
	ContestSkillName *string `json:"contest_skill_name,omitempty"`
}

// EffectRef names an initiative effect applied or removed by a node.
type EffectRef struct {
	Name string `json:"name"`
}
