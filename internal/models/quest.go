package models

import (
	"time"
)

// Rank is the ordered eligibility tier of a quest.
type Rank string

// Quest ranks, lowest to highest.
const (
	RankBronze    Rank = "bronze"
	RankSilver    Rank = "silver"
	RankGold      Rank = "gold"
	RankLegendary Rank = "legendary"
)

// rankOrder maps each rank to its position in the tier ladder.
var rankOrder = map[Rank]int{
	RankBronze:    0,
	RankSilver:    1,
	RankGold:      2,
	RankLegendary: 3,
}

// Valid reports whether the rank is one of the known tiers.
func (r Rank) Valid() bool {
	_, ok := rankOrder[r]
	return ok
}

// AtLeast reports whether the rank is equal to or above other.
func (r Rank) AtLeast(other Rank) bool {
	return rankOrder[r] >= rankOrder[other]
}

// Category is an unordered quest tag drawn from a closed set.
type Category string

// Quest categories.
const (
	CategoryHunting     Category = "hunting"
	CategoryGathering   Category = "gathering"
	CategoryCrafting    Category = "crafting"
	CategoryExploration Category = "exploration"
	CategoryCombat      Category = "combat"
	CategorySocial      Category = "social"
	CategoryBuilding    Category = "building"
	CategoryTrading     Category = "trading"
	CategoryPuzzle      Category = "puzzle"
	CategorySurvival    Category = "survival"
	CategoryOther       Category = "other"
)

var validCategories = map[Category]bool{
	CategoryHunting:     true,
	CategoryGathering:   true,
	CategoryCrafting:    true,
	CategoryExploration: true,
	CategoryCombat:      true,
	CategorySocial:      true,
	CategoryBuilding:    true,
	CategoryTrading:     true,
	CategoryPuzzle:      true,
	CategorySurvival:    true,
	CategoryOther:       true,
}

// Valid reports whether the category is one of the known tags.
func (c Category) Valid() bool {
	return validCategories[c]
}

// Quest represents a task posted on a guild's quest board.
type Quest struct {
	ID          string    `gorm:"primaryKey;size:16" json:"id"`
	GuildID     int64     `gorm:"not null;index" json:"guild_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Requirement string    `gorm:"type:text;not null" json:"requirement"`
	Reward      string    `gorm:"type:text" json:"reward"`
	Rank        Rank      `gorm:"size:20;not null;index" json:"rank"`
	Category    Category  `gorm:"size:30;not null;index" json:"category"`
	CreatorID   int64     `gorm:"not null" json:"creator_id"`
	Active      bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Quest model.
func (Quest) TableName() string {
	return "quests"
}
