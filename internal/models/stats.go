package models

import (
	"time"
)

// UserStats holds per-guild aggregate counters for one user. Counters
// only ever increase; Reputation is derived from them and recomputed on
// every write.
type UserStats struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	GuildID         int64      `gorm:"not null;uniqueIndex:idx_guild_user" json:"guild_id"`
	UserID          int64      `gorm:"not null;uniqueIndex:idx_guild_user" json:"user_id"`
	QuestsAccepted  int        `gorm:"not null;default:0" json:"quests_accepted"`
	QuestsCompleted int        `gorm:"not null;default:0" json:"quests_completed"`
	QuestsApproved  int        `gorm:"not null;default:0" json:"quests_approved"`
	QuestsRejected  int        `gorm:"not null;default:0" json:"quests_rejected"`
	Reputation      int        `gorm:"not null;default:0" json:"reputation"`
	Dirty           bool       `gorm:"not null;default:false" json:"-"`
	FirstQuestAt    *time.Time `json:"first_quest_at"`
	LastQuestAt     *time.Time `json:"last_quest_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for UserStats model.
func (UserStats) TableName() string {
	return "user_stats"
}

// ComputeReputation derives the reputation score from the counters.
// Approvals dominate; rejections claw back a little.
func (s *UserStats) ComputeReputation() int {
	rep := s.QuestsApproved*10 + s.QuestsCompleted*2 + s.QuestsAccepted - s.QuestsRejected*2
	if rep < 0 {
		rep = 0
	}
	return rep
}
