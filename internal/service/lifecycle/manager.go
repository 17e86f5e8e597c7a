// Package lifecycle orchestrates quest state transitions: permission
// and cooldown gating, atomic persistence, stats coupling, and
// notification payloads.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/internal/metrics"
	"github.com/aimd54/guild-quest-board/internal/models"
	"github.com/aimd54/guild-quest-board/internal/notifier"
	"github.com/aimd54/guild-quest-board/internal/repository"
	"github.com/aimd54/guild-quest-board/internal/service/permissions"
	"github.com/aimd54/guild-quest-board/internal/service/ratelimit"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// Status classifies the result of a lifecycle operation. Expected
// conditions are statuses, never errors; an error return means the
// persistence layer failed and nothing was mutated.
type Status string

// Operation statuses.
const (
	StatusCreated           Status = "created"
	StatusAccepted          Status = "accepted"
	StatusCompleted         Status = "completed"
	StatusReviewed          Status = "reviewed"
	StatusDeactivated       Status = "deactivated"
	StatusDenied            Status = "denied"
	StatusValidationFailed  Status = "validation_failed"
	StatusInvalidSubmission Status = "invalid_submission"
	StatusRateLimited       Status = "rate_limited"
	StatusAlreadyInFlight   Status = "already_in_flight"
	StatusIllegalTransition Status = "illegal_transition"
	StatusNotFound          Status = "not_found"
)

// Outcome is the typed result of a lifecycle operation.
type Outcome struct {
	Status     Status        `json:"status"`
	QuestID    string        `json:"quest_id,omitempty"`
	State      models.State  `json:"state,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Decision is a moderator's verdict on a completed attempt.
type Decision string

// Review decisions.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// QuestDraft carries the fields a creator supplies for a new quest.
type QuestDraft struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Requirement string          `json:"requirement"`
	Reward      string          `json:"reward"`
	Rank        models.Rank     `json:"rank"`
	Category    models.Category `json:"category"`
}

// CooldownLimiter is the rate-limit port the manager gates accepts and
// submissions through.
type CooldownLimiter interface {
	CheckAndRecord(ctx context.Context, action string, guildID, userID int64, subject string, window time.Duration) (ratelimit.Result, error)
	Release(ctx context.Context, action string, guildID, userID int64, subject string) error
}

// Dispatcher is the notification port. Delivery is the dispatcher's
// concern; the manager hands over the payload and moves on.
type Dispatcher interface {
	Notify(ctx context.Context, p notifier.Payload)
}

// Manager is the single entry point for quest lifecycle operations.
type Manager struct {
	quests    *repository.QuestRepository
	progress  *repository.ProgressRepository
	channels  *repository.ChannelRepository
	perms     *permissions.Evaluator
	limiter   CooldownLimiter
	notify    Dispatcher
	cooldowns *config.CooldownConfig
	log       *logger.Logger
}

// NewManager creates a new lifecycle manager.
func NewManager(
	quests *repository.QuestRepository,
	progress *repository.ProgressRepository,
	channels *repository.ChannelRepository,
	perms *permissions.Evaluator,
	limiter CooldownLimiter,
	notify Dispatcher,
	cooldowns *config.CooldownConfig,
	log *logger.Logger,
) *Manager {
	return &Manager{
		quests:    quests,
		progress:  progress,
		channels:  channels,
		perms:     perms,
		limiter:   limiter,
		notify:    notify,
		cooldowns: cooldowns,
		log:       log,
	}
}

// CreateQuest posts a new quest on the actor's guild board.
func (m *Manager) CreateQuest(ctx context.Context, actor permissions.Actor, draft QuestDraft) (Outcome, error) {
	if !m.perms.CanPerform(actor, permissions.ActionCreateQuest, nil) {
		return m.outcome("create", Outcome{Status: StatusDenied}), nil
	}
	if reason := validateDraft(draft); reason != "" {
		return m.outcome("create", Outcome{Status: StatusValidationFailed, Reason: reason}), nil
	}

	quest := &models.Quest{
		GuildID:     actor.GuildID,
		Title:       draft.Title,
		Description: draft.Description,
		Requirement: draft.Requirement,
		Reward:      draft.Reward,
		Rank:        draft.Rank,
		Category:    draft.Category,
		CreatorID:   actor.ID,
		Active:      true,
	}
	if err := m.quests.Create(quest); err != nil {
		return Outcome{}, err
	}

	m.log.Info().
		Str("quest_id", quest.ID).
		Int64("guild_id", quest.GuildID).
		Int64("creator_id", actor.ID).
		Str("rank", string(quest.Rank)).
		Msg("Quest created")

	m.dispatch(ctx, quest, actor.ID, actor.ID, "create", StatusCreated, nil)
	return m.outcome("create", Outcome{Status: StatusCreated, QuestID: quest.ID}), nil
}

// AcceptQuest opens an attempt on the quest for the actor. At most one
// in-flight attempt per (quest, user) can exist; the authoritative
// check is the store's atomic insert, not the read below.
func (m *Manager) AcceptQuest(ctx context.Context, actor permissions.Actor, questID string) (Outcome, error) {
	quest, out, err := m.loadQuest(actor, questID, "accept")
	if quest == nil {
		return out, err
	}
	if !quest.Active {
		return m.outcome("accept", Outcome{Status: StatusDenied, QuestID: questID, Reason: "quest is no longer active"}), nil
	}
	if !m.perms.CanPerform(actor, permissions.ActionAcceptQuest, quest) {
		return m.outcome("accept", Outcome{Status: StatusDenied, QuestID: questID}), nil
	}

	// Cheap pre-check so an obvious duplicate does not burn the
	// actor's cooldown slot.
	if _, err := m.progress.GetOpen(actor.GuildID, questID, actor.ID); err == nil {
		return m.outcome("accept", Outcome{Status: StatusAlreadyInFlight, QuestID: questID}), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return Outcome{}, err
	}

	res, err := m.limiter.CheckAndRecord(ctx, "accept", actor.GuildID, actor.ID, questID, m.cooldowns.AcceptWindow())
	if err != nil {
		return Outcome{}, err
	}
	if !res.Allowed {
		metrics.RecordRateLimitDenial("accept")
		return m.outcome("accept", Outcome{Status: StatusRateLimited, QuestID: questID, RetryAfter: res.RetryAfter}), nil
	}

	now := time.Now().UTC()
	rec, err := m.progress.TryAccept(quest, actor.ID, now)
	if errors.Is(err, repository.ErrAlreadyInFlight) {
		// Lost the race to a concurrent accept. The claimed slot
		// should not count against the actor.
		m.releaseCooldown(ctx, "accept", actor.GuildID, actor.ID, questID)
		return m.outcome("accept", Outcome{Status: StatusAlreadyInFlight, QuestID: questID}), nil
	}
	if errors.Is(err, repository.ErrAlreadyApproved) {
		m.releaseCooldown(ctx, "accept", actor.GuildID, actor.ID, questID)
		return m.outcome("accept", Outcome{Status: StatusDenied, QuestID: questID, Reason: "quest already approved for this user"}), nil
	}
	if err != nil {
		m.releaseCooldown(ctx, "accept", actor.GuildID, actor.ID, questID)
		return Outcome{}, err
	}

	metrics.OpenAttempts.WithLabelValues(strconv.FormatInt(actor.GuildID, 10)).Inc()

	m.log.Info().
		Str("quest_id", questID).
		Int64("guild_id", actor.GuildID).
		Int64("user_id", actor.ID).
		Msg("Quest accepted")

	m.dispatch(ctx, quest, actor.ID, actor.ID, "accept", StatusAccepted, rec)
	return m.outcome("accept", Outcome{Status: StatusAccepted, QuestID: questID, State: models.StateAccepted}), nil
}

// SubmitCompletion attaches proof to the actor's in-flight attempt and
// moves it to Completed.
func (m *Manager) SubmitCompletion(ctx context.Context, actor permissions.Actor, questID string, sub Submission) (Outcome, error) {
	quest, out, err := m.loadQuest(actor, questID, "submit")
	if quest == nil {
		return out, err
	}
	if !m.perms.CanPerform(actor, permissions.ActionSubmitCompletion, quest) {
		return m.outcome("submit", Outcome{Status: StatusDenied, QuestID: questID}), nil
	}
	if err := sub.Validate(); err != nil {
		return m.outcome("submit", Outcome{Status: StatusInvalidSubmission, QuestID: questID, Reason: "submission needs proof text or an attachment"}), nil
	}

	rec, err := m.progress.GetOpen(actor.GuildID, questID, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return m.outcome("submit", Outcome{Status: StatusIllegalTransition, QuestID: questID, Reason: "no open attempt to submit against"}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	from := rec.State
	if _, terr := Next(from, ActionSubmit); terr != nil {
		return m.outcome("submit", Outcome{Status: StatusIllegalTransition, QuestID: questID, State: from}), nil
	}

	res, err := m.limiter.CheckAndRecord(ctx, "submit", actor.GuildID, actor.ID, questID, m.cooldowns.SubmitWindow())
	if err != nil {
		return Outcome{}, err
	}
	if !res.Allowed {
		metrics.RecordRateLimitDenial("submit")
		return m.outcome("submit", Outcome{Status: StatusRateLimited, QuestID: questID, RetryAfter: res.RetryAfter}), nil
	}

	now := time.Now().UTC()
	rec.State = models.StateCompleted
	rec.ProofText = sub.Text
	rec.ProofURLs = sub.URLs
	rec.SubmittedAt = &now

	err = m.progress.ApplyTransition(rec, from, now)
	if errors.Is(err, repository.ErrStateConflict) {
		m.releaseCooldown(ctx, "submit", actor.GuildID, actor.ID, questID)
		return m.outcome("submit", Outcome{Status: StatusIllegalTransition, QuestID: questID, Reason: "attempt changed state concurrently"}), nil
	}
	if err != nil {
		m.releaseCooldown(ctx, "submit", actor.GuildID, actor.ID, questID)
		return Outcome{}, err
	}

	metrics.AttemptDurationSeconds.
		WithLabelValues(string(quest.Rank)).
		Observe(now.Sub(rec.AcceptedAt).Seconds())

	m.log.Info().
		Str("quest_id", questID).
		Int64("user_id", actor.ID).
		Msg("Completion submitted")

	m.dispatch(ctx, quest, actor.ID, actor.ID, "submit", StatusCompleted, rec)
	return m.outcome("submit", Outcome{Status: StatusCompleted, QuestID: questID, State: models.StateCompleted}), nil
}

// Review settles a completed attempt. Approve is final; Reject settles
// the record but frees the user to accept the quest again.
func (m *Manager) Review(ctx context.Context, actor permissions.Actor, questID string, targetUser int64, decision Decision) (Outcome, error) {
	action, permAction, err := reviewActions(decision)
	if err != nil {
		return m.outcome("review", Outcome{Status: StatusValidationFailed, QuestID: questID, Reason: err.Error()}), nil
	}

	quest, out, lerr := m.loadQuest(actor, questID, "review")
	if quest == nil {
		return out, lerr
	}
	if !m.perms.CanPerform(actor, permAction, quest) {
		return m.outcome("review", Outcome{Status: StatusDenied, QuestID: questID}), nil
	}

	rec, err := m.progress.GetOpen(actor.GuildID, questID, targetUser)
	if errors.Is(err, repository.ErrNotFound) {
		return m.outcome("review", Outcome{Status: StatusIllegalTransition, QuestID: questID, Reason: "no attempt awaiting review"}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	from := rec.State
	target, terr := Next(from, action)
	if terr != nil {
		return m.outcome("review", Outcome{Status: StatusIllegalTransition, QuestID: questID, State: from}), nil
	}

	now := time.Now().UTC()
	rec.State = target
	rec.ReviewedBy = &actor.ID
	rec.ReviewedAt = &now

	err = m.progress.ApplyTransition(rec, from, now)
	if errors.Is(err, repository.ErrStateConflict) {
		return m.outcome("review", Outcome{Status: StatusIllegalTransition, QuestID: questID, Reason: "attempt already reviewed"}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	metrics.OpenAttempts.WithLabelValues(strconv.FormatInt(actor.GuildID, 10)).Dec()
	if rec.SubmittedAt != nil {
		metrics.ReviewLatencySeconds.
			WithLabelValues(string(decision)).
			Observe(now.Sub(*rec.SubmittedAt).Seconds())
	}

	if target == models.StateRejected {
		// A rejection frees the pair for a fresh attempt without
		// waiting out the accept cooldown.
		m.releaseCooldown(ctx, "accept", actor.GuildID, targetUser, questID)
	}

	m.log.Info().
		Str("quest_id", questID).
		Int64("user_id", targetUser).
		Int64("reviewer_id", actor.ID).
		Str("decision", string(decision)).
		Msg("Attempt reviewed")

	m.dispatch(ctx, quest, targetUser, actor.ID, string(action), StatusReviewed, rec)
	return m.outcome("review", Outcome{Status: StatusReviewed, QuestID: questID, State: target}), nil
}

// DeactivateQuest retires a quest from the board. Attempts already in
// flight continue; no new accepts are possible.
func (m *Manager) DeactivateQuest(ctx context.Context, actor permissions.Actor, questID string) (Outcome, error) {
	quest, out, err := m.loadQuest(actor, questID, "deactivate")
	if quest == nil {
		return out, err
	}
	if !m.perms.CanPerform(actor, permissions.ActionDeactivateQuest, quest) {
		return m.outcome("deactivate", Outcome{Status: StatusDenied, QuestID: questID}), nil
	}

	if err := m.quests.Deactivate(questID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return m.outcome("deactivate", Outcome{Status: StatusNotFound, QuestID: questID}), nil
		}
		return Outcome{}, err
	}

	m.log.Info().
		Str("quest_id", questID).
		Int64("actor_id", actor.ID).
		Msg("Quest deactivated")

	m.dispatch(ctx, quest, 0, actor.ID, "deactivate", StatusDeactivated, nil)
	return m.outcome("deactivate", Outcome{Status: StatusDeactivated, QuestID: questID}), nil
}

// loadQuest fetches the quest and screens cross-guild access. A nil
// quest in the return means the caller should pass the outcome (and
// error) straight through.
func (m *Manager) loadQuest(actor permissions.Actor, questID, action string) (*models.Quest, Outcome, error) {
	quest, err := m.quests.GetByID(questID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, m.outcome(action, Outcome{Status: StatusNotFound, QuestID: questID}), nil
	}
	if err != nil {
		return nil, Outcome{}, err
	}
	if quest.GuildID != actor.GuildID {
		// Quests are invisible outside their guild.
		return nil, m.outcome(action, Outcome{Status: StatusNotFound, QuestID: questID}), nil
	}
	return quest, Outcome{}, nil
}

// outcome records the operation metric and returns out unchanged.
func (m *Manager) outcome(action string, out Outcome) Outcome {
	metrics.RecordTransition(action, string(out.Status))
	return out
}

// dispatch hands a notification payload to the dispatcher, addressed
// to the guild's configured channel for the action's workflow stage.
func (m *Manager) dispatch(ctx context.Context, quest *models.Quest, userID, actorID int64, action string, status Status, rec *models.QuestProgress) {
	p := notifier.Payload{
		GuildID:    quest.GuildID,
		QuestID:    quest.ID,
		QuestTitle: quest.Title,
		UserID:     userID,
		ActorID:    actorID,
		Action:     action,
		Outcome:    string(status),
	}
	if rec != nil {
		p.ProofText = rec.ProofText
		p.ProofURLs = rec.ProofURLs
	}

	if cfg, err := m.channels.Get(quest.GuildID); err == nil {
		p.ChannelID = cfg.ChannelFor(stageFor(action))
	} else if !errors.Is(err, repository.ErrNotFound) {
		m.log.Warn().Err(err).Int64("guild_id", quest.GuildID).Msg("Failed to resolve notification channel")
	}

	m.notify.Notify(ctx, p)
}

// stageFor maps a lifecycle action to its ChannelConfig workflow stage.
func stageFor(action string) string {
	switch action {
	case "create", "deactivate":
		return "list"
	case "accept":
		return "accept"
	case "submit":
		return "submit"
	case "approve", "reject":
		return "approval"
	default:
		return ""
	}
}

// releaseCooldown frees a claimed slot, logging on failure. Best
// effort: a leaked slot only delays the user, never corrupts state.
func (m *Manager) releaseCooldown(ctx context.Context, action string, guildID, userID int64, subject string) {
	if err := m.limiter.Release(ctx, action, guildID, userID, subject); err != nil {
		m.log.Warn().
			Err(err).
			Str("action", action).
			Int64("user_id", userID).
			Str("subject", subject).
			Msg("Failed to release cooldown slot")
	}
}

// reviewActions maps a decision to its transition and permission
// actions.
func reviewActions(decision Decision) (Action, permissions.Action, error) {
	switch decision {
	case DecisionApprove:
		return ActionApprove, permissions.ActionApprove, nil
	case DecisionReject:
		return ActionReject, permissions.ActionReject, nil
	default:
		return "", "", fmt.Errorf("unknown review decision %q", decision)
	}
}

// validateDraft returns a human-readable reason when the draft is
// malformed, or "" when it is fine.
func validateDraft(draft QuestDraft) string {
	if draft.Title == "" {
		return "title is required"
	}
	if draft.Requirement == "" {
		return "requirement is required"
	}
	if !draft.Rank.Valid() {
		return fmt.Sprintf("unknown rank %q", draft.Rank)
	}
	if !draft.Category.Valid() {
		return fmt.Sprintf("unknown category %q", draft.Category)
	}
	return ""
}
