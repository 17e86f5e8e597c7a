package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/guild-quest-board/internal/models"
)

// ChannelRepository handles guild channel-configuration operations.
type ChannelRepository struct {
	db *DB
}

// NewChannelRepository creates a new channel repository.
func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// Get retrieves the channel configuration for a guild.
func (r *ChannelRepository) Get(guildID int64) (*models.ChannelConfig, error) {
	var cfg models.ChannelConfig
	err := r.db.Where("guild_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel config for guild %d: %w", guildID, err)
	}
	return &cfg, nil
}

// Save upserts the channel configuration for a guild.
func (r *ChannelRepository) Save(cfg *models.ChannelConfig) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"list_channel_id", "accept_channel_id", "submit_channel_id",
			"approval_channel_id", "notify_channel_id",
		}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to save channel config for guild %d: %w", cfg.GuildID, err)
	}
	return nil
}
