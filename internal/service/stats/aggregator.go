// Package stats maintains per-user aggregate counters derived from
// quest-attempt transitions, and answers leaderboard queries over them.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/guild-quest-board/internal/metrics"
	"github.com/aimd54/guild-quest-board/internal/models"
	"github.com/aimd54/guild-quest-board/internal/repository"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// reputationExpr derives the reputation score from the stored counters,
// clamped at zero. Kept in SQL so the two updates in Apply stay atomic
// per row.
const reputationExpr = "CASE WHEN quests_approved*10 + quests_completed*2 + quests_accepted - quests_rejected*2 < 0 " +
	"THEN 0 ELSE quests_approved*10 + quests_completed*2 + quests_accepted - quests_rejected*2 END"

// Aggregator reflects progress-record transitions into UserStats rows.
type Aggregator struct {
	db  *repository.DB
	log *logger.Logger
}

// NewAggregator creates a new stats aggregator.
func NewAggregator(db *repository.DB, log *logger.Logger) *Aggregator {
	return &Aggregator{db: db, log: log}
}

// delta is the set of counter increments one transition produces.
type delta struct {
	accepted  int
	completed int
	approved  int
	rejected  int
}

// deltaFor maps a transition to its counter increments. Transitions
// outside the lifecycle map to a zero delta.
func deltaFor(old, new models.State) delta {
	switch {
	case old == models.StateNone && new == models.StateAccepted:
		return delta{accepted: 1}
	case old == models.StateAccepted && new == models.StateCompleted:
		return delta{completed: 1}
	case old == models.StateCompleted && new == models.StateApproved:
		return delta{approved: 1}
	case old == models.StateCompleted && new == models.StateRejected:
		return delta{rejected: 1}
	default:
		return delta{}
	}
}

// Apply increments the counters for one transition inside the caller's
// transaction. It creates the stats row lazily on first activity.
// Implements repository.StatsApplier.
func (a *Aggregator) Apply(tx *gorm.DB, guildID, userID int64, old, new models.State, at time.Time) error {
	d := deltaFor(old, new)
	if d == (delta{}) {
		return nil
	}

	seed := &models.UserStats{
		GuildID:      guildID,
		UserID:       userID,
		FirstQuestAt: &at,
		LastQuestAt:  &at,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return fmt.Errorf("failed to seed user stats: %w", err)
	}

	updates := map[string]interface{}{"last_quest_at": at}
	if d.accepted != 0 {
		updates["quests_accepted"] = gorm.Expr("quests_accepted + ?", d.accepted)
	}
	if d.completed != 0 {
		updates["quests_completed"] = gorm.Expr("quests_completed + ?", d.completed)
	}
	if d.approved != 0 {
		updates["quests_approved"] = gorm.Expr("quests_approved + ?", d.approved)
	}
	if d.rejected != 0 {
		updates["quests_rejected"] = gorm.Expr("quests_rejected + ?", d.rejected)
	}

	err := tx.Model(&models.UserStats{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to increment user stats: %w", err)
	}

	err = tx.Model(&models.UserStats{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Update("reputation", gorm.Expr(reputationExpr)).Error
	if err != nil {
		return fmt.Errorf("failed to derive reputation: %w", err)
	}
	return nil
}

// Get retrieves the stats row for a user, returning fresh zeroed stats
// when the user has no activity yet.
func (a *Aggregator) Get(ctx context.Context, guildID, userID int64) (*models.UserStats, error) {
	var stats models.UserStats
	err := a.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserStats{GuildID: guildID, UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for user %d: %w", userID, err)
	}
	return &stats, nil
}

// Recompute rebuilds one user's counters by full scan over their
// progress records. Every record passed through Accepted once, every
// record with a submission timestamp through Completed once, so the
// scan reproduces the incremental counts exactly.
func (a *Aggregator) Recompute(ctx context.Context, guildID, userID int64) (*models.UserStats, error) {
	db := a.db.WithContext(ctx)
	base := func() *gorm.DB {
		return db.Model(&models.QuestProgress{}).
			Where("guild_id = ? AND user_id = ?", guildID, userID)
	}

	var accepted, completed, approved, rejected int64
	if err := base().Count(&accepted).Error; err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	if err := base().Where("submitted_at IS NOT NULL").Count(&completed).Error; err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	if err := base().Where("state = ?", models.StateApproved).Count(&approved).Error; err != nil {
		return nil, fmt.Errorf("failed to count approvals: %w", err)
	}
	if err := base().Where("state = ?", models.StateRejected).Count(&rejected).Error; err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}

	var first, last *time.Time
	var bounds struct {
		First *time.Time
		Last  *time.Time
	}
	if err := base().Select("MIN(accepted_at) AS first, MAX(accepted_at) AS last").Scan(&bounds).Error; err != nil {
		return nil, fmt.Errorf("failed to scan activity bounds: %w", err)
	}
	first, last = bounds.First, bounds.Last

	stats := &models.UserStats{
		GuildID:         guildID,
		UserID:          userID,
		QuestsAccepted:  int(accepted),
		QuestsCompleted: int(completed),
		QuestsApproved:  int(approved),
		QuestsRejected:  int(rejected),
		FirstQuestAt:    first,
		LastQuestAt:     last,
	}
	stats.Reputation = stats.ComputeReputation()

	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quests_accepted", "quests_completed", "quests_approved",
			"quests_rejected", "reputation", "dirty", "first_quest_at", "last_quest_at",
		}),
	}).Create(stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store recomputed stats: %w", err)
	}
	return stats, nil
}

// MarkDirty flags a user's stats for reconciliation on next startup.
func (a *Aggregator) MarkDirty(ctx context.Context, guildID, userID int64) error {
	return a.db.WithContext(ctx).Model(&models.UserStats{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Update("dirty", true).Error
}

// ReconcileDirty recomputes every stats row carrying the dirty flag.
// Run once at startup before serving traffic.
func (a *Aggregator) ReconcileDirty(ctx context.Context) error {
	var flagged []models.UserStats
	err := a.db.WithContext(ctx).Where("dirty = ?", true).Find(&flagged).Error
	if err != nil {
		return fmt.Errorf("failed to list dirty stats: %w", err)
	}

	for _, s := range flagged {
		if _, err := a.Recompute(ctx, s.GuildID, s.UserID); err != nil {
			return err
		}
		metrics.StatsReconciliationsTotal.WithLabelValues("startup").Inc()
		a.log.Info().
			Int64("guild_id", s.GuildID).
			Int64("user_id", s.UserID).
			Msg("Reconciled user stats")
	}
	return nil
}
