package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/internal/models"
	"github.com/aimd54/guild-quest-board/internal/notifier"
	"github.com/aimd54/guild-quest-board/internal/repository"
	"github.com/aimd54/guild-quest-board/internal/service/permissions"
	"github.com/aimd54/guild-quest-board/internal/service/ratelimit"
	"github.com/aimd54/guild-quest-board/internal/service/stats"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// fakeLimiter is an in-memory CooldownLimiter for manager tests.
type fakeLimiter struct {
	denyWith time.Duration // deny everything with this wait when > 0
	claims   map[string]bool
	released []string
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{claims: map[string]bool{}}
}

func (f *fakeLimiter) key(action string, guildID, userID int64, subject string) string {
	return fmt.Sprintf("%s:%d:%d:%s", action, guildID, userID, subject)
}

func (f *fakeLimiter) CheckAndRecord(_ context.Context, action string, guildID, userID int64, subject string, _ time.Duration) (ratelimit.Result, error) {
	if f.denyWith > 0 {
		return ratelimit.Result{Allowed: false, RetryAfter: f.denyWith}, nil
	}
	f.claims[f.key(action, guildID, userID, subject)] = true
	return ratelimit.Result{Allowed: true}, nil
}

func (f *fakeLimiter) Release(_ context.Context, action string, guildID, userID int64, subject string) error {
	k := f.key(action, guildID, userID, subject)
	delete(f.claims, k)
	f.released = append(f.released, k)
	return nil
}

// fakeDispatcher collects notification payloads.
type fakeDispatcher struct {
	payloads []notifier.Payload
}

func (f *fakeDispatcher) Notify(_ context.Context, p notifier.Payload) {
	f.payloads = append(f.payloads, p)
}

func (f *fakeDispatcher) actions() []string {
	out := make([]string, 0, len(f.payloads))
	for _, p := range f.payloads {
		out = append(out, p.Action)
	}
	return out
}

type managerFixture struct {
	manager    *Manager
	aggregator *stats.Aggregator
	limiter    *fakeLimiter
	dispatcher *fakeDispatcher
	db         *repository.DB
}

func setupManager(t *testing.T) *managerFixture {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory
	// database and serializes concurrent transactions.
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db := &repository.DB{DB: gormDB}
	require.NoError(t, db.AutoMigrate())

	log := logger.New("error", "console", "stderr")
	aggregator := stats.NewAggregator(db, log)
	limiter := newFakeLimiter()
	dispatcher := &fakeDispatcher{}

	manager := NewManager(
		repository.NewQuestRepository(db),
		repository.NewProgressRepository(db, aggregator),
		repository.NewChannelRepository(db),
		permissions.NewEvaluator(),
		limiter,
		dispatcher,
		&config.CooldownConfig{},
		log,
	)

	return &managerFixture{
		manager:    manager,
		aggregator: aggregator,
		limiter:    limiter,
		dispatcher: dispatcher,
		db:         db,
	}
}

func moderator(guildID int64) permissions.Actor {
	return permissions.Actor{
		ID:           1,
		GuildID:      guildID,
		Rank:         models.RankLegendary,
		Capabilities: []permissions.Capability{permissions.CapModerate},
	}
}

func member(id, guildID int64, rank models.Rank) permissions.Actor {
	return permissions.Actor{
		ID:           id,
		GuildID:      guildID,
		Rank:         rank,
		Capabilities: []permissions.Capability{permissions.CapMember},
	}
}

func createQuest(t *testing.T, f *managerFixture, actor permissions.Actor, draft QuestDraft) string {
	t.Helper()
	out, err := f.manager.CreateQuest(context.Background(), actor, draft)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, out.Status)
	require.NotEmpty(t, out.QuestID)
	return out.QuestID
}

func dragonDraft() QuestDraft {
	return QuestDraft{
		Title:       "Slay the Dragon",
		Requirement: "Bring back a dragon scale",
		Reward:      "500 gold",
		Rank:        models.RankGold,
		Category:    models.CategoryCombat,
	}
}

func TestQuestLifecycleEndToEnd(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	mod := moderator(10)
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, mod, dragonDraft())

	// Accept succeeds.
	out, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, models.StateAccepted, out.State)

	// Immediate duplicate accept is a conflict, not a cooldown hit.
	out, err = f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyInFlight, out.Status)

	// Submit proof.
	out, err = f.manager.SubmitCompletion(ctx, user, questID, Submission{Text: "done"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, models.StateCompleted, out.State)

	// Moderator rejects.
	out, err = f.manager.Review(ctx, mod, questID, user.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, out.Status)
	assert.Equal(t, models.StateRejected, out.State)

	userStats, err := f.aggregator.Get(ctx, 10, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, userStats.QuestsAccepted)
	assert.Equal(t, 1, userStats.QuestsCompleted)
	assert.Equal(t, 1, userStats.QuestsRejected)
	assert.Equal(t, 0, userStats.QuestsApproved)

	// Rejection frees the pair for a fresh attempt.
	out, err = f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)

	assert.Equal(t, []string{"create", "accept", "submit", "reject", "accept"}, f.dispatcher.actions())
}

func TestAcceptRankGate(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	questID := createQuest(t, f, moderator(10), dragonDraft())

	out, err := f.manager.AcceptQuest(ctx, member(3, 10, models.RankBronze), questID)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, out.Status)

	out, err = f.manager.AcceptQuest(ctx, member(4, 10, models.RankLegendary), questID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
}

func TestAcceptRateLimited(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	questID := createQuest(t, f, moderator(10), dragonDraft())

	f.limiter.denyWith = 3 * time.Hour
	out, err := f.manager.AcceptQuest(ctx, member(2, 10, models.RankGold), questID)
	require.NoError(t, err)
	assert.Equal(t, StatusRateLimited, out.Status)
	assert.Equal(t, 3*time.Hour, out.RetryAfter)
}

func TestAcceptAfterApprovalDenied(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	mod := moderator(10)
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, mod, dragonDraft())

	_, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	_, err = f.manager.SubmitCompletion(ctx, user, questID, Submission{Text: "done"})
	require.NoError(t, err)

	out, err := f.manager.Review(ctx, mod, questID, user.ID, DecisionApprove)
	require.NoError(t, err)
	require.Equal(t, models.StateApproved, out.State)

	// An approved quest stays approved; no second run.
	out, err = f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, out.Status)

	userStats, err := f.aggregator.Get(ctx, 10, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, userStats.QuestsApproved)
	assert.Equal(t, 13, userStats.Reputation) // 10 + 2 + 1
}

func TestCreateQuestGates(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	// Plain members cannot post quests.
	out, err := f.manager.CreateQuest(ctx, member(2, 10, models.RankGold), dragonDraft())
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, out.Status)

	// Malformed drafts are rejected with a reason.
	draft := dragonDraft()
	draft.Title = ""
	out, err = f.manager.CreateQuest(ctx, moderator(10), draft)
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, out.Status)
	assert.NotEmpty(t, out.Reason)

	draft = dragonDraft()
	draft.Rank = "mythril"
	out, err = f.manager.CreateQuest(ctx, moderator(10), draft)
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, out.Status)
}

func TestSubmitWithoutOpenAttempt(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	questID := createQuest(t, f, moderator(10), dragonDraft())

	out, err := f.manager.SubmitCompletion(ctx, member(2, 10, models.RankGold), questID, Submission{Text: "done"})
	require.NoError(t, err)
	assert.Equal(t, StatusIllegalTransition, out.Status)
}

func TestSubmitEmptyPayload(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, moderator(10), dragonDraft())
	_, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)

	out, err := f.manager.SubmitCompletion(ctx, user, questID, Submission{})
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidSubmission, out.Status)
}

func TestReviewBeforeSubmission(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	mod := moderator(10)
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, mod, dragonDraft())
	_, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)

	// Accepted but not yet submitted: nothing to review.
	out, err := f.manager.Review(ctx, mod, questID, user.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusIllegalTransition, out.Status)
}

func TestReviewRequiresModerator(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, moderator(10), dragonDraft())
	_, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	_, err = f.manager.SubmitCompletion(ctx, user, questID, Submission{Text: "done"})
	require.NoError(t, err)

	out, err := f.manager.Review(ctx, member(5, 10, models.RankGold), questID, user.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, out.Status)
}

func TestReviewUnknownDecision(t *testing.T) {
	f := setupManager(t)

	out, err := f.manager.Review(context.Background(), moderator(10), "abcd1234", 2, "escalate")
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, out.Status)
}

func TestQuestInvisibleAcrossGuilds(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	questID := createQuest(t, f, moderator(10), dragonDraft())

	out, err := f.manager.AcceptQuest(ctx, member(2, 99, models.RankGold), questID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, out.Status)
}

func TestDeactivateBlocksNewAccepts(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	mod := moderator(10)
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, mod, dragonDraft())

	out, err := f.manager.DeactivateQuest(ctx, mod, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeactivated, out.Status)

	out, err = f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, out.Status)
}

func TestRejectionReleasesAcceptCooldown(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	mod := moderator(10)
	user := member(2, 10, models.RankGold)

	questID := createQuest(t, f, mod, dragonDraft())
	_, err := f.manager.AcceptQuest(ctx, user, questID)
	require.NoError(t, err)
	_, err = f.manager.SubmitCompletion(ctx, user, questID, Submission{Text: "done"})
	require.NoError(t, err)

	_, err = f.manager.Review(ctx, mod, questID, user.ID, DecisionReject)
	require.NoError(t, err)

	assert.Contains(t, f.limiter.released, f.limiter.key("accept", 10, user.ID, questID))
}
