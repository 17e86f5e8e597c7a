package models

import (
	"time"
)

// ChannelConfig maps each workflow stage of a guild to the channel that
// hosts it. Owned by guild administrators; the lifecycle manager only
// reads it to address notification payloads.
type ChannelConfig struct {
	GuildID             int64     `gorm:"primaryKey" json:"guild_id"`
	ListChannelID       int64     `json:"list_channel_id"`
	AcceptChannelID     int64     `json:"accept_channel_id"`
	SubmitChannelID     int64     `json:"submit_channel_id"`
	ApprovalChannelID   int64     `json:"approval_channel_id"`
	NotifyChannelID     int64     `json:"notify_channel_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName specifies the table name for ChannelConfig model.
func (ChannelConfig) TableName() string {
	return "channel_config"
}

// ChannelFor returns the configured channel for a workflow stage,
// falling back to the notification channel when the stage has none.
func (c *ChannelConfig) ChannelFor(stage string) int64 {
	var id int64
	switch stage {
	case "list":
		id = c.ListChannelID
	case "accept":
		id = c.AcceptChannelID
	case "submit":
		id = c.SubmitChannelID
	case "approval":
		id = c.ApprovalChannelID
	}
	if id == 0 {
		id = c.NotifyChannelID
	}
	return id
}
