// Package permissions decides whether an actor may perform a lifecycle
// action. Evaluation is pure: capabilities are computed once per
// request by the caller and passed in as values.
package permissions

import (
	"github.com/aimd54/guild-quest-board/internal/models"
)

// Capability is one entry in an actor's fixed permission set.
type Capability string

// Capabilities. Admin implies every other capability.
const (
	CapMember       Capability = "member"
	CapManageQuests Capability = "manage_quests"
	CapModerate     Capability = "moderate"
	CapAdmin        Capability = "admin"
)

// Action is a lifecycle action subject to permission gating.
type Action string

// Gated actions.
const (
	ActionCreateQuest       Action = "create_quest"
	ActionAcceptQuest       Action = "accept_quest"
	ActionSubmitCompletion  Action = "submit_completion"
	ActionApprove           Action = "approve"
	ActionReject            Action = "reject"
	ActionDeactivateQuest   Action = "deactivate_quest"
	ActionConfigureChannels Action = "configure_channels"
)

// Actor identifies who is attempting an action, with the capability set
// and rank the caller resolved for this request.
type Actor struct {
	ID           int64
	GuildID      int64
	Rank         models.Rank
	Capabilities []Capability
}

// Has reports whether the actor holds the capability, directly or via
// admin.
func (a Actor) Has(cap Capability) bool {
	for _, c := range a.Capabilities {
		if c == cap || c == CapAdmin {
			return true
		}
	}
	return false
}

// sufficient maps each action to the capabilities that permit it.
var sufficient = map[Action][]Capability{
	ActionCreateQuest:       {CapManageQuests, CapModerate},
	ActionAcceptQuest:       {CapMember},
	ActionSubmitCompletion:  {CapMember},
	ActionApprove:           {CapModerate},
	ActionReject:            {CapModerate},
	ActionDeactivateQuest:   {CapModerate},
	ActionConfigureChannels: {}, // admin only
}

// Evaluator answers permission questions over the declarative rules.
type Evaluator struct{}

// NewEvaluator creates a new permission evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// CanPerform reports whether the actor may perform the action, taking
// the target quest's rank and creator into account where relevant.
func (e *Evaluator) CanPerform(actor Actor, action Action, quest *models.Quest) bool {
	caps, ok := sufficient[action]
	if !ok {
		return false
	}

	allowed := actor.Has(CapAdmin)
	for _, c := range caps {
		if actor.Has(c) {
			allowed = true
			break
		}
	}

	// Quest creators may review and retire their own quests.
	if !allowed && quest != nil && actor.ID == quest.CreatorID {
		switch action {
		case ActionApprove, ActionReject, ActionDeactivateQuest:
			allowed = true
		}
	}
	if !allowed {
		return false
	}

	if action == ActionAcceptQuest && quest != nil {
		return actor.Rank.AtLeast(quest.Rank)
	}
	return true
}
