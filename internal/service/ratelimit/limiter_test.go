package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/guild-quest-board/pkg/logger"
)

func setupLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLimiter(client, logger.New("error", "console", "stderr")), mr
}

func TestCheckAndRecordClaimsSlot(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Second attempt within the window is denied with a positive wait.
	res, err = limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)
}

func TestCooldownExpires(t *testing.T) {
	limiter, mr := setupLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	mr.FastForward(time.Hour + time.Second)

	res, err = limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestKeysAreScopedPerActionUserAndSubject(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// Different quest, different user, different action: all free.
	for _, tc := range []struct {
		action  string
		userID  int64
		subject string
	}{
		{"accept", 2, "quest2"},
		{"accept", 3, "quest1"},
		{"submit", 2, "quest1"},
	} {
		res, err := limiter.CheckAndRecord(ctx, tc.action, 10, tc.userID, tc.subject, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "%s:%d:%s should be unclaimed", tc.action, tc.userID, tc.subject)
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	require.NoError(t, limiter.Release(ctx, "accept", 10, 2, "quest1"))

	res, err = limiter.CheckAndRecord(ctx, "accept", 10, 2, "quest1", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
