//go:build integration

package andre

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newPostgresBots starts a postgres container and returns two bots
// sharing it, each with its own notifier
func newPostgresBots(t *testing.T) (*Andre, *Andre) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("andre"),
		postgres.WithUsername("andre"),
		postgres.WithPassword("andre"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if e := container.Terminate(context.Background()); e != nil {
				t.Logf("error terminating container: %v", e)
			}
		},
	)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	newBot := func() *Andre {
		cfg := DefaultTestConfig(t)
		cfg.DatabaseType = dbTypePostgres
		cfg.Database = dsn

		bot, e := New(cfg)
		require.NoError(t, e)
		db, e := CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		require.NoError(t, e)
		t.Cleanup(
			func() {
				sqlDB, _ := db.DB()
				if sqlDB != nil {
					_ = sqlDB.Close()
				}
			},
		)
		bot.useDB(db)
		bot.dbNotifier, e = newDBNotifier(bot)
		require.NoError(t, e)
		return bot
	}
	return newBot(), newBot()
}

func TestPostgresNotifier(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test")
	}

	sender, receiver := newPostgresBots(t)
	require.NotEqual(t, sender.dbNotifier.ID(), receiver.dbNotifier.ID())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, channel := range receiver.dbNotifier.Channels() {
		go func() {
			assert.NoError(t, receiver.dbNotifier.Listen(ctx, channel))
		}()
	}

	// LISTEN runs asynchronously, so notify until the receiver gets it
	require.Eventually(
		t, func() bool {
			sender.dbNotifier.ClearCache(ctx)
			select {
			case <-receiver.triggerCacheClearCh:
				return true
			case <-time.After(200 * time.Millisecond):
				return false
			}
		}, 30*time.Second, 100*time.Millisecond,
	)

	require.True(t, sender.dbNotifier.ReloadProperties(ctx, propBanlist))
	select {
	case key := <-receiver.triggerPropertiesReloadCh:
		assert.Equal(t, propBanlist, key)
	case <-time.After(10 * time.Second):
		t.Fatal("properties notification not received")
	}

	// a notifier ignores its own notifications
	require.True(t, receiver.dbNotifier.ReloadRuntimeConfig(ctx))
	select {
	case <-receiver.triggerRuntimeConfigRefreshCh:
		t.Fatal("received own notification")
	case <-time.After(time.Second):
	}
}

func TestPostgresRuntimeConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test")
	}

	bot, _ := newPostgresBots(t)
	ctx := context.Background()

	rc, err := LoadRuntimeConfig(ctx, bot.db)
	require.NoError(t, err)
	again, err := LoadRuntimeConfig(ctx, bot.db)
	require.NoError(t, err)
	assert.Equal(t, rc.ID, again.ID)

	user := &User{DiscordID: "123", MALName: "bob"}
	require.NoError(t, bot.db.Create(user).Error)
	found, err := findUserByMALOrDiscordID(ctx, bot.db, "bob")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}
