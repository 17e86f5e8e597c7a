package models

import (
	"time"
)

// State is the lifecycle state of a quest attempt.
type State string

// Attempt states. StateNone is the virtual state used before any
// record exists; it is never persisted.
const (
	StateNone      State = "none"
	StateAccepted  State = "accepted"
	StateCompleted State = "completed"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
)

// Terminal reports whether the state admits no further transition.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// InFlight reports whether the state counts against the one-open-attempt
// limit for a (quest, user) pair.
func (s State) InFlight() bool {
	return s == StateAccepted || s == StateCompleted
}

// QuestProgress tracks one user's attempt lifecycle against one quest.
// The Open column is non-NULL only while the attempt is in flight; the
// composite unique index over it is what makes TryAccept a single
// authoritative insert (NULLs never collide, so terminal history rows
// for the same pair are retained).
type QuestProgress struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	GuildID     int64      `gorm:"not null;uniqueIndex:idx_open_attempt" json:"guild_id"`
	QuestID     string     `gorm:"size:16;not null;uniqueIndex:idx_open_attempt;index" json:"quest_id"`
	Quest       Quest      `gorm:"foreignKey:QuestID" json:"quest,omitempty"`
	UserID      int64      `gorm:"not null;uniqueIndex:idx_open_attempt;index" json:"user_id"`
	Open        *bool      `gorm:"uniqueIndex:idx_open_attempt" json:"-"`
	State       State      `gorm:"size:20;not null;index" json:"state"`
	ProofText   string     `gorm:"type:text" json:"proof_text"`
	ProofURLs   []string   `gorm:"serializer:json" json:"proof_urls"`
	AcceptedAt  time.Time  `gorm:"not null" json:"accepted_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	ReviewedBy  *int64     `json:"reviewed_by"`
	ReviewedAt  *time.Time `json:"reviewed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for QuestProgress model.
func (QuestProgress) TableName() string {
	return "quest_progress"
}
