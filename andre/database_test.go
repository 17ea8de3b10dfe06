package andre

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesNotification(t *testing.T) {
	t.Parallel()

	msg := newPropertiesNotificationMessage("abc123", "bans")
	id, key := parsePropertiesNotification(msg)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "bans", key)

	id, key = parsePropertiesNotification("abc123")
	assert.Equal(t, "abc123", id)
	assert.Empty(t, key)
}

func TestSQLiteNotifier(t *testing.T) {
	t.Parallel()

	bot, _ := newTestBot(t)
	n, err := newDBNotifier(bot)
	require.NoError(t, err)
	assert.Empty(t, n.Channels())
	assert.Len(t, n.ID(), 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.True(t, n.ClearCache(ctx))
	assert.True(t, <-bot.triggerCacheClearCh)

	require.True(t, n.ReloadProperties(ctx, propBanlist))
	assert.Equal(t, propBanlist, <-bot.triggerPropertiesReloadCh)

	require.True(t, n.ReloadRuntimeConfig(ctx))
	assert.True(t, <-bot.triggerRuntimeConfigRefreshCh)
}

func TestSQLiteNotifier_Timeout(t *testing.T) {
	t.Parallel()

	bot, _ := newTestBot(t)
	n, err := newDBNotifier(bot)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.True(t, n.ClearCache(ctx))
	assert.False(t, n.ClearCache(ctx), "channel is full")
}
