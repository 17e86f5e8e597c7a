// Package questboard provides REST API handlers for the quest board.
// It exposes the lifecycle operations plus read endpoints for quest
// listings, leaderboards, user statistics, and channel configuration.
package questboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aimd54/guild-quest-board/internal/models"
	"github.com/aimd54/guild-quest-board/internal/repository"
	"github.com/aimd54/guild-quest-board/internal/service/lifecycle"
	"github.com/aimd54/guild-quest-board/internal/service/permissions"
	"github.com/aimd54/guild-quest-board/internal/service/stats"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// LifecycleService interface for quest lifecycle operations.
type LifecycleService interface {
	CreateQuest(ctx context.Context, actor permissions.Actor, draft lifecycle.QuestDraft) (lifecycle.Outcome, error)
	AcceptQuest(ctx context.Context, actor permissions.Actor, questID string) (lifecycle.Outcome, error)
	SubmitCompletion(ctx context.Context, actor permissions.Actor, questID string, sub lifecycle.Submission) (lifecycle.Outcome, error)
	Review(ctx context.Context, actor permissions.Actor, questID string, targetUser int64, decision lifecycle.Decision) (lifecycle.Outcome, error)
	DeactivateQuest(ctx context.Context, actor permissions.Actor, questID string) (lifecycle.Outcome, error)
}

// QuestReader interface for quest and attempt read paths.
type QuestReader interface {
	GetByID(id string) (*models.Quest, error)
	ListByGuild(guildID int64, filter repository.ListFilter) ([]models.Quest, error)
}

// ProgressReader interface for attempt read paths.
type ProgressReader interface {
	ListByUser(guildID, userID int64) ([]models.QuestProgress, error)
	ListPendingApprovals(guildID, creatorID int64) ([]repository.PendingApproval, error)
}

// StatsService interface for aggregate read paths.
type StatsService interface {
	Get(ctx context.Context, guildID, userID int64) (*models.UserStats, error)
	Leaderboard(ctx context.Context, guildID int64, limit int) ([]models.UserStats, error)
	Totals(ctx context.Context, guildID int64) (*stats.GuildTotals, error)
}

// ChannelStore interface for guild channel configuration.
type ChannelStore interface {
	Get(guildID int64) (*models.ChannelConfig, error)
	Save(cfg *models.ChannelConfig) error
}

// Handler handles quest board API requests.
type Handler struct {
	lifecycle LifecycleService
	quests    QuestReader
	progress  ProgressReader
	stats     StatsService
	channels  ChannelStore
	log       *logger.Logger
}

// NewHandler creates a new quest board handler.
func NewHandler(
	manager *lifecycle.Manager,
	quests *repository.QuestRepository,
	progress *repository.ProgressRepository,
	aggregator *stats.Aggregator,
	channels *repository.ChannelRepository,
	log *logger.Logger,
) *Handler {
	return &Handler{
		lifecycle: manager,
		quests:    quests,
		progress:  progress,
		stats:     aggregator,
		channels:  channels,
		log:       log,
	}
}

// NewHandlerWithInterfaces creates a new quest board handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	lc LifecycleService,
	quests QuestReader,
	progress ProgressReader,
	statsSvc StatsService,
	channels ChannelStore,
	log *logger.Logger,
) *Handler {
	return &Handler{
		lifecycle: lc,
		quests:    quests,
		progress:  progress,
		stats:     statsSvc,
		channels:  channels,
		log:       log,
	}
}

// RegisterRoutes attaches the quest board endpoints to the router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.POST("/quests", h.CreateQuest)
	v1.GET("/quests", h.ListQuests)
	v1.GET("/quests/:id", h.GetQuest)
	v1.POST("/quests/:id/accept", h.AcceptQuest)
	v1.POST("/quests/:id/submit", h.SubmitCompletion)
	v1.POST("/quests/:id/review", h.Review)
	v1.POST("/quests/:id/deactivate", h.DeactivateQuest)

	v1.GET("/guilds/:guild_id/leaderboard", h.GetLeaderboard)
	v1.GET("/guilds/:guild_id/totals", h.GetGuildTotals)
	v1.GET("/guilds/:guild_id/pending", h.GetPendingApprovals)
	v1.GET("/guilds/:guild_id/users/:user_id/stats", h.GetUserStats)
	v1.GET("/guilds/:guild_id/users/:user_id/attempts", h.GetUserAttempts)
	v1.GET("/guilds/:guild_id/channels", h.GetChannelConfig)
	v1.PUT("/guilds/:guild_id/channels", h.PutChannelConfig)
}

// actorRequest is the caller identity block every mutating request
// carries. Capabilities and rank are resolved upstream by the command
// layer; the API trusts them as values.
type actorRequest struct {
	ID           int64    `json:"id" binding:"required"`
	GuildID      int64    `json:"guild_id" binding:"required"`
	Rank         string   `json:"rank"`
	Capabilities []string `json:"capabilities"`
}

func (a actorRequest) toActor() permissions.Actor {
	caps := make([]permissions.Capability, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		caps = append(caps, permissions.Capability(c))
	}
	rank := models.Rank(a.Rank)
	if !rank.Valid() {
		rank = models.RankBronze
	}
	return permissions.Actor{
		ID:           a.ID,
		GuildID:      a.GuildID,
		Rank:         rank,
		Capabilities: caps,
	}
}

// CreateQuest posts a new quest.
// POST /api/v1/quests.
func (h *Handler) CreateQuest(c *gin.Context) {
	var req struct {
		Actor actorRequest         `json:"actor" binding:"required"`
		Quest lifecycle.QuestDraft `json:"quest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.lifecycle.CreateQuest(c.Request.Context(), req.Actor.toActor(), req.Quest)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create quest")
		h.unavailable(c)
		return
	}
	h.outcomeResponse(c, out, http.StatusCreated)
}

// AcceptQuest opens an attempt for the actor.
// POST /api/v1/quests/:id/accept.
func (h *Handler) AcceptQuest(c *gin.Context) {
	var req struct {
		Actor actorRequest `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.lifecycle.AcceptQuest(c.Request.Context(), req.Actor.toActor(), c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Str("quest_id", c.Param("id")).Msg("Failed to accept quest")
		h.unavailable(c)
		return
	}
	h.outcomeResponse(c, out, http.StatusOK)
}

// SubmitCompletion attaches proof to the actor's attempt.
// POST /api/v1/quests/:id/submit.
func (h *Handler) SubmitCompletion(c *gin.Context) {
	var req struct {
		Actor      actorRequest         `json:"actor" binding:"required"`
		Submission lifecycle.Submission `json:"submission"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.lifecycle.SubmitCompletion(c.Request.Context(), req.Actor.toActor(), c.Param("id"), req.Submission)
	if err != nil {
		h.log.Error().Err(err).Str("quest_id", c.Param("id")).Msg("Failed to submit completion")
		h.unavailable(c)
		return
	}
	h.outcomeResponse(c, out, http.StatusOK)
}

// Review settles a completed attempt.
// POST /api/v1/quests/:id/review.
func (h *Handler) Review(c *gin.Context) {
	var req struct {
		Actor      actorRequest `json:"actor" binding:"required"`
		TargetUser int64        `json:"target_user" binding:"required"`
		Decision   string       `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.lifecycle.Review(c.Request.Context(), req.Actor.toActor(), c.Param("id"), req.TargetUser, lifecycle.Decision(req.Decision))
	if err != nil {
		h.log.Error().Err(err).Str("quest_id", c.Param("id")).Msg("Failed to review attempt")
		h.unavailable(c)
		return
	}
	h.outcomeResponse(c, out, http.StatusOK)
}

// DeactivateQuest retires a quest from the board.
// POST /api/v1/quests/:id/deactivate.
func (h *Handler) DeactivateQuest(c *gin.Context) {
	var req struct {
		Actor actorRequest `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.lifecycle.DeactivateQuest(c.Request.Context(), req.Actor.toActor(), c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Str("quest_id", c.Param("id")).Msg("Failed to deactivate quest")
		h.unavailable(c)
		return
	}
	h.outcomeResponse(c, out, http.StatusOK)
}

// ListQuests returns quests for a guild with optional filters.
// GET /api/v1/quests?guild_id=1&rank=gold&category=combat&active=true.
func (h *Handler) ListQuests(c *gin.Context) {
	guildID, err := parseInt64(c.Query("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	filter := repository.ListFilter{
		Rank:       models.Rank(c.Query("rank")),
		Category:   models.Category(c.Query("category")),
		ActiveOnly: c.DefaultQuery("active", "true") == "true",
	}
	if filter.Rank != "" && !filter.Rank.Valid() {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid rank: %s", filter.Rank))
		return
	}
	if filter.Category != "" && !filter.Category.Valid() {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid category: %s", filter.Category))
		return
	}

	quests, err := h.quests.ListByGuild(guildID, filter)
	if err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to list quests")
		h.unavailable(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quests":       quests,
		"total":        len(quests),
		"generated_at": time.Now().UTC(),
	})
}

// GetQuest returns one quest.
// GET /api/v1/quests/:id.
func (h *Handler) GetQuest(c *gin.Context) {
	quest, err := h.quests.GetByID(c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		h.errorResponse(c, http.StatusNotFound, "Quest not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("quest_id", c.Param("id")).Msg("Failed to get quest")
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quest": quest})
}

// GetLeaderboard returns the guild reputation leaderboard.
// GET /api/v1/guilds/:guild_id/leaderboard?limit=10.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(c, 10)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.stats.Leaderboard(c.Request.Context(), guildID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to get leaderboard")
		h.unavailable(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":  entries,
		"total":        len(entries),
		"generated_at": time.Now().UTC(),
	})
}

// GetGuildTotals returns guild-wide activity counters.
// GET /api/v1/guilds/:guild_id/totals.
func (h *Handler) GetGuildTotals(c *gin.Context) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	totals, err := h.stats.Totals(c.Request.Context(), guildID)
	if err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to get guild totals")
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totals": totals, "generated_at": time.Now().UTC()})
}

// GetPendingApprovals returns completed attempts awaiting review.
// GET /api/v1/guilds/:guild_id/pending?creator_id=42.
func (h *Handler) GetPendingApprovals(c *gin.Context) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	var creatorID int64
	if v := c.Query("creator_id"); v != "" {
		if creatorID, err = parseInt64(v, "creator_id"); err != nil {
			h.errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	pending, err := h.progress.ListPendingApprovals(guildID, creatorID)
	if err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to list pending approvals")
		h.unavailable(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":      pending,
		"total":        len(pending),
		"generated_at": time.Now().UTC(),
	})
}

// GetUserStats returns a user's aggregate counters and reputation.
// GET /api/v1/guilds/:guild_id/users/:user_id/stats.
func (h *Handler) GetUserStats(c *gin.Context) {
	guildID, userID, ok := h.parseGuildUser(c)
	if !ok {
		return
	}

	userStats, err := h.stats.Get(c.Request.Context(), guildID, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to get user stats")
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": userStats, "generated_at": time.Now().UTC()})
}

// GetUserAttempts returns a user's attempt history, newest first.
// GET /api/v1/guilds/:guild_id/users/:user_id/attempts.
func (h *Handler) GetUserAttempts(c *gin.Context) {
	guildID, userID, ok := h.parseGuildUser(c)
	if !ok {
		return
	}

	attempts, err := h.progress.ListByUser(guildID, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to list user attempts")
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "total": len(attempts)})
}

// GetChannelConfig returns the guild's workflow channel mapping.
// GET /api/v1/guilds/:guild_id/channels.
func (h *Handler) GetChannelConfig(c *gin.Context) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.channels.Get(guildID)
	if errors.Is(err, repository.ErrNotFound) {
		h.errorResponse(c, http.StatusNotFound, "No channel configuration for guild")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to get channel config")
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": cfg})
}

// PutChannelConfig replaces the guild's workflow channel mapping.
// PUT /api/v1/guilds/:guild_id/channels.
func (h *Handler) PutChannelConfig(c *gin.Context) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Actor    actorRequest         `json:"actor" binding:"required"`
		Channels models.ChannelConfig `json:"channels" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	actor := req.Actor.toActor()
	if actor.GuildID != guildID || !actor.Has(permissions.CapAdmin) {
		h.errorResponse(c, http.StatusForbidden, "Channel configuration requires guild admin")
		return
	}

	req.Channels.GuildID = guildID
	if err := h.channels.Save(&req.Channels); err != nil {
		h.log.Error().Err(err).Int64("guild_id", guildID).Msg("Failed to save channel config")
		h.unavailable(c)
		return
	}

	h.log.Info().Int64("guild_id", guildID).Int64("actor_id", actor.ID).Msg("Channel config updated")
	c.JSON(http.StatusOK, gin.H{"channels": req.Channels})
}

// Helper functions

// outcomeResponse maps a lifecycle outcome to its HTTP status.
// successStatus is used for the operation's happy path.
func (h *Handler) outcomeResponse(c *gin.Context, out lifecycle.Outcome, successStatus int) {
	code := successStatus
	switch out.Status {
	case lifecycle.StatusDenied:
		code = http.StatusForbidden
	case lifecycle.StatusValidationFailed, lifecycle.StatusInvalidSubmission:
		code = http.StatusBadRequest
	case lifecycle.StatusRateLimited:
		code = http.StatusTooManyRequests
	case lifecycle.StatusAlreadyInFlight, lifecycle.StatusIllegalTransition:
		code = http.StatusConflict
	case lifecycle.StatusNotFound:
		code = http.StatusNotFound
	}

	body := gin.H{"outcome": out}
	if out.Status == lifecycle.StatusRateLimited {
		body["retry_after_seconds"] = int64(out.RetryAfter.Seconds())
	}
	c.JSON(code, body)
}

// unavailable reports a persistence failure. The operation has not
// mutated state, so the caller may safely retry.
func (h *Handler) unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":     "Service temporarily unavailable",
		"retryable": true,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) parseGuildUser(c *gin.Context) (int64, int64, bool) {
	guildID, err := parseInt64(c.Param("guild_id"), "guild_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	userID, err := parseInt64(c.Param("user_id"), "user_id")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return guildID, userID, true
}

// parseInt64 parses a required numeric identifier.
func parseInt64(s, name string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%s parameter is required", name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, s)
	}
	return v, nil
}

// parseLimit extracts and validates the limit query parameter.
func parseLimit(c *gin.Context, defaultLimit int) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %s", limitStr)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be greater than 0")
	}
	if limit > 100 {
		return 0, fmt.Errorf("limit cannot exceed 100")
	}
	return limit, nil
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
