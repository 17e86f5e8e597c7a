package stats

import (
	"context"
	"fmt"

	"github.com/aimd54/guild-quest-board/internal/models"
)

// Leaderboard returns a guild's users ordered by reputation, then
// completions.
func (a *Aggregator) Leaderboard(ctx context.Context, guildID int64, limit int) ([]models.UserStats, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []models.UserStats
	err := a.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("reputation DESC, quests_completed DESC, quests_accepted DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard for guild %d: %w", guildID, err)
	}
	return entries, nil
}

// GuildTotals aggregates activity across a whole guild.
type GuildTotals struct {
	TotalAccepted  int64 `json:"total_accepted"`
	TotalCompleted int64 `json:"total_completed"`
	TotalApproved  int64 `json:"total_approved"`
	ActiveUsers    int64 `json:"active_users"`
}

// Totals returns guild-wide counter sums.
func (a *Aggregator) Totals(ctx context.Context, guildID int64) (*GuildTotals, error) {
	var totals GuildTotals
	err := a.db.WithContext(ctx).Model(&models.UserStats{}).
		Select("COALESCE(SUM(quests_accepted),0) AS total_accepted, "+
			"COALESCE(SUM(quests_completed),0) AS total_completed, "+
			"COALESCE(SUM(quests_approved),0) AS total_approved, "+
			"COUNT(*) AS active_users").
		Where("guild_id = ?", guildID).
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get totals for guild %d: %w", guildID, err)
	}
	return &totals, nil
}
