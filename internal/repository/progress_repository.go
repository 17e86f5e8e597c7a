package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aimd54/guild-quest-board/internal/models"
)

// Sentinel errors for attempt bookkeeping.
var (
	// ErrAlreadyInFlight means an open attempt for the (guild, quest,
	// user) triple already exists. TryAccept maps the unique-index
	// violation to this error, which makes the insert the single
	// serialization point for concurrent accepts.
	ErrAlreadyInFlight = errors.New("repository: attempt already in flight")

	// ErrStateConflict means the record moved out of the expected state
	// between read and write, or a duplicate delivery hit an already
	// settled record.
	ErrStateConflict = errors.New("repository: progress record state conflict")

	// ErrAlreadyApproved means the user already has an approved record
	// for the quest. Rejected history permits a fresh attempt; approved
	// history never does.
	ErrAlreadyApproved = errors.New("repository: quest already approved for user")
)

// StatsApplier reflects a state transition into the per-user counters.
// It runs inside the same transaction as the record write so the two
// can never diverge.
type StatsApplier interface {
	Apply(tx *gorm.DB, guildID, userID int64, old, new models.State, at time.Time) error
}

// ProgressRepository handles quest-attempt database operations. It owns
// the transactional coupling between progress records and user stats.
type ProgressRepository struct {
	db    *DB
	stats StatsApplier
}

// NewProgressRepository creates a new progress repository.
func NewProgressRepository(db *DB, stats StatsApplier) *ProgressRepository {
	return &ProgressRepository{db: db, stats: stats}
}

// TryAccept atomically creates an Accepted record for (quest, user).
// Exactly one of any number of concurrent callers succeeds; the rest
// get ErrAlreadyInFlight. The accept counter increments in the same
// transaction.
func (r *ProgressRepository) TryAccept(quest *models.Quest, userID int64, now time.Time) (*models.QuestProgress, error) {
	open := true
	rec := &models.QuestProgress{
		GuildID:    quest.GuildID,
		QuestID:    quest.ID,
		UserID:     userID,
		Open:       &open,
		State:      models.StateAccepted,
		AcceptedAt: now,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var approved int64
		err := tx.Model(&models.QuestProgress{}).
			Where("guild_id = ? AND quest_id = ? AND user_id = ? AND state = ?",
				quest.GuildID, quest.ID, userID, models.StateApproved).
			Count(&approved).Error
		if err != nil {
			return err
		}
		if approved > 0 {
			return ErrAlreadyApproved
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return r.stats.Apply(tx, quest.GuildID, userID, models.StateNone, models.StateAccepted, now)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrAlreadyInFlight
	}
	if errors.Is(err, ErrAlreadyApproved) {
		return nil, ErrAlreadyApproved
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept quest %s for user %d: %w", quest.ID, userID, err)
	}
	return rec, nil
}

// GetOpen retrieves the in-flight record for (guild, quest, user), or
// ErrNotFound when no attempt is open.
func (r *ProgressRepository) GetOpen(guildID int64, questID string, userID int64) (*models.QuestProgress, error) {
	var rec models.QuestProgress
	err := r.db.
		Where("guild_id = ? AND quest_id = ? AND user_id = ? AND open IS NOT NULL", guildID, questID, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open attempt for quest %s, user %d: %w", questID, userID, err)
	}
	return &rec, nil
}

// ApplyTransition persists a state change on rec, which must already
// carry the target state and any payload fields (proof, reviewer). The
// update is guarded on the expected current state; a concurrent or
// duplicate transition yields ErrStateConflict and nothing is written.
// The matching stats increment lands in the same transaction.
func (r *ProgressRepository) ApplyTransition(rec *models.QuestProgress, from models.State, now time.Time) error {
	if rec.State.Terminal() {
		rec.Open = nil
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QuestProgress{}).
			Where("id = ? AND state = ?", rec.ID, from).
			Updates(map[string]interface{}{
				"open":         rec.Open,
				"state":        rec.State,
				"proof_text":   rec.ProofText,
				"proof_urls":   rec.ProofURLs,
				"submitted_at": rec.SubmittedAt,
				"reviewed_by":  rec.ReviewedBy,
				"reviewed_at":  rec.ReviewedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return r.stats.Apply(tx, rec.GuildID, rec.UserID, from, rec.State, now)
	})
	if errors.Is(err, ErrStateConflict) {
		return ErrStateConflict
	}
	if err != nil {
		return fmt.Errorf("failed to apply transition on attempt %d: %w", rec.ID, err)
	}
	return nil
}

// ListByUser retrieves all attempts for a user in a guild, newest first.
func (r *ProgressRepository) ListByUser(guildID, userID int64) ([]models.QuestProgress, error) {
	var recs []models.QuestProgress
	err := r.db.
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Order("accepted_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for user %d: %w", userID, err)
	}
	return recs, nil
}

// PendingApproval pairs a completed attempt with its quest for review
// queues.
type PendingApproval struct {
	Record models.QuestProgress
	Quest  models.Quest
}

// ListPendingApprovals retrieves completed attempts awaiting review for
// a guild, oldest submission first. When creatorID is non-zero, only
// quests created by that actor are included.
func (r *ProgressRepository) ListPendingApprovals(guildID, creatorID int64) ([]PendingApproval, error) {
	var recs []models.QuestProgress
	query := r.db.
		Joins("JOIN quests ON quests.id = quest_progress.quest_id").
		Where("quest_progress.guild_id = ? AND quest_progress.state = ?", guildID, models.StateCompleted)
	if creatorID != 0 {
		query = query.Where("quests.creator_id = ?", creatorID)
	}
	err := query.
		Preload("Quest").
		Order("quest_progress.submitted_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals for guild %d: %w", guildID, err)
	}

	pending := make([]PendingApproval, 0, len(recs))
	for _, rec := range recs {
		pending = append(pending, PendingApproval{Record: rec, Quest: rec.Quest})
	}
	return pending, nil
}

// CountOpenByQuest counts in-flight attempts for a quest.
func (r *ProgressRepository) CountOpenByQuest(guildID int64, questID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.QuestProgress{}).
		Where("guild_id = ? AND quest_id = ? AND open IS NOT NULL", guildID, questID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open attempts for quest %s: %w", questID, err)
	}
	return count, nil
}
