package repository

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aimd54/guild-quest-board/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// QuestRepository handles quest-related database operations.
type QuestRepository struct {
	db *DB
}

// NewQuestRepository creates a new quest repository.
func NewQuestRepository(db *DB) *QuestRepository {
	return &QuestRepository{db: db}
}

// NewQuestID generates a short random quest identifier.
func NewQuestID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Create creates a new quest.
func (r *QuestRepository) Create(quest *models.Quest) error {
	if quest.ID == "" {
		quest.ID = NewQuestID()
	}
	if err := r.db.Create(quest).Error; err != nil {
		return fmt.Errorf("failed to create quest: %w", err)
	}
	return nil
}

// GetByID retrieves a quest by ID.
func (r *QuestRepository) GetByID(id string) (*models.Quest, error) {
	var quest models.Quest
	err := r.db.Where("id = ?", id).First(&quest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quest %s: %w", id, err)
	}
	return &quest, nil
}

// ListFilter narrows ListByGuild results.
type ListFilter struct {
	Rank       models.Rank
	Category   models.Category
	ActiveOnly bool
}

// ListByGuild retrieves quests for a guild with optional filters.
func (r *QuestRepository) ListByGuild(guildID int64, filter ListFilter) ([]models.Quest, error) {
	query := r.db.Model(&models.Quest{}).Where("guild_id = ?", guildID)

	if filter.Rank != "" {
		query = query.Where("rank = ?", filter.Rank)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var quests []models.Quest
	if err := query.Order("created_at DESC").Find(&quests).Error; err != nil {
		return nil, fmt.Errorf("failed to list quests for guild %d: %w", guildID, err)
	}
	return quests, nil
}

// Update updates a quest.
func (r *QuestRepository) Update(quest *models.Quest) error {
	if err := r.db.Save(quest).Error; err != nil {
		return fmt.Errorf("failed to update quest: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a quest. Progress records referencing it are
// retained for history.
func (r *QuestRepository) Deactivate(id string) error {
	res := r.db.Model(&models.Quest{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate quest %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
