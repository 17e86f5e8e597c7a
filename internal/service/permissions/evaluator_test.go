package permissions

import (
	"testing"

	"github.com/aimd54/guild-quest-board/internal/models"
)

func actor(id int64, rank models.Rank, caps ...Capability) Actor {
	return Actor{ID: id, GuildID: 10, Rank: rank, Capabilities: caps}
}

func goldQuest(creatorID int64) *models.Quest {
	return &models.Quest{ID: "q1", GuildID: 10, Rank: models.RankGold, CreatorID: creatorID}
}

func TestCanPerformCapabilityGates(t *testing.T) {
	e := NewEvaluator()
	quest := goldQuest(1)

	tests := []struct {
		name   string
		actor  Actor
		action Action
		want   bool
	}{
		{"member cannot create", actor(2, models.RankGold, CapMember), ActionCreateQuest, false},
		{"quest manager can create", actor(2, models.RankGold, CapManageQuests), ActionCreateQuest, true},
		{"moderator can create", actor(2, models.RankGold, CapModerate), ActionCreateQuest, true},
		{"member can accept", actor(2, models.RankGold, CapMember), ActionAcceptQuest, true},
		{"member can submit", actor(2, models.RankGold, CapMember), ActionSubmitCompletion, true},
		{"member cannot approve", actor(2, models.RankGold, CapMember), ActionApprove, false},
		{"moderator can approve", actor(2, models.RankGold, CapModerate), ActionApprove, true},
		{"moderator can reject", actor(2, models.RankGold, CapModerate), ActionReject, true},
		{"moderator cannot configure channels", actor(2, models.RankGold, CapModerate), ActionConfigureChannels, false},
		{"admin can configure channels", actor(2, models.RankGold, CapAdmin), ActionConfigureChannels, true},
		{"admin implies everything", actor(2, models.RankGold, CapAdmin), ActionApprove, true},
		{"no capabilities at all", actor(2, models.RankGold), ActionAcceptQuest, false},
		{"unknown action", actor(2, models.RankGold, CapAdmin), Action("smite"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanPerform(tt.actor, tt.action, quest); got != tt.want {
				t.Errorf("CanPerform(%v, %s) = %v, want %v", tt.actor.Capabilities, tt.action, got, tt.want)
			}
		})
	}
}

func TestCanPerformRankEligibility(t *testing.T) {
	e := NewEvaluator()
	quest := goldQuest(1)

	if e.CanPerform(actor(2, models.RankBronze, CapMember), ActionAcceptQuest, quest) {
		t.Error("Bronze actor must not accept a gold quest")
	}
	if !e.CanPerform(actor(2, models.RankGold, CapMember), ActionAcceptQuest, quest) {
		t.Error("Gold actor must accept a gold quest")
	}
	if !e.CanPerform(actor(2, models.RankLegendary, CapMember), ActionAcceptQuest, quest) {
		t.Error("Legendary actor must accept a gold quest")
	}

	// The rank floor applies to accepting only, admin or not.
	if e.CanPerform(actor(2, models.RankBronze, CapAdmin), ActionAcceptQuest, quest) {
		t.Error("Rank eligibility must also bind admins")
	}
}

func TestCreatorMayReviewOwnQuest(t *testing.T) {
	e := NewEvaluator()
	quest := goldQuest(7)

	creator := actor(7, models.RankGold, CapMember)
	if !e.CanPerform(creator, ActionApprove, quest) {
		t.Error("Creator must be able to approve attempts on their quest")
	}
	if !e.CanPerform(creator, ActionReject, quest) {
		t.Error("Creator must be able to reject attempts on their quest")
	}
	if !e.CanPerform(creator, ActionDeactivateQuest, quest) {
		t.Error("Creator must be able to retire their quest")
	}
	if e.CanPerform(creator, ActionCreateQuest, quest) {
		t.Error("Creator bypass must not extend to posting new quests")
	}

	other := actor(8, models.RankGold, CapMember)
	if e.CanPerform(other, ActionApprove, quest) {
		t.Error("Non-creator member must not approve")
	}
}
