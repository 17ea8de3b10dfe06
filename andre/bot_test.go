package andre

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testOwnerID          = "100000000000000001"
	testBotUserID        = "100000000000000002"
	testMemberID         = "100000000000000003"
	testGuildID          = "200000000000000001"
	testGeneralChannelID = "300000000000000001"
	testChannelID        = "300000000000000002"
)

var testMessageID atomic.Int64

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter = io.Discard
	os.Exit(m.Run())
}

// setupTestDB returns a migrated sqlite database in a temp dir
func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		"sqlite",
		filepath.Join(t.TempDir(), "test.sqlite3"),
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// newTestBot returns a bot backed by a temporary sqlite database and a
// mock discord session, with the owner and one member in the guild.
// Run isn't called, so messages are handled synchronously with
// handleMessage.
func newTestBot(t testing.TB) (*Andre, *mockDiscordSession) {
	t.Helper()
	ctx := context.Background()

	cfg := DefaultTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)

	db, err := CreateDB(ctx, cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			bot.runtimeWG.Wait()
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	bot.useDB(db)

	rc, err := LoadRuntimeConfig(ctx, db)
	require.NoError(t, err)
	bot.setRuntimeConfig(rc)
	require.NoError(t, bot.reloadProperties(""))

	session := newMockDiscordSession()
	session.addMember(testOwnerID, "owner", "")
	session.addMember(testMemberID, "member", "Membre")
	bot.discord.session = session
	bot.discord.botUser.Store(&discordgo.User{ID: testBotUserID, Username: "André", Bot: true})
	return bot, session
}

func newTestMessage(authorID, channelID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        fmt.Sprintf("%d", 400000000000000000+testMessageID.Add(1)),
		ChannelID: channelID,
		GuildID:   testGuildID,
		Content:   content,
		Timestamp: time.Now(),
		Author:    &discordgo.User{ID: authorID, Username: authorID},
	}
}

// sendTestMessage handles a message from the author in testChannelID,
// and returns it
func sendTestMessage(t testing.TB, bot *Andre, authorID, content string) *discordgo.Message {
	t.Helper()
	m := newTestMessage(authorID, testChannelID, content)
	bot.handleMessage(context.Background(), m)
	return m
}

func TestNew_InvalidDatabaseType(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid database type")
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	t.Run("command", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		sendTestMessage(t, bot, testMemberID, "!hello")
		assert.Equal(t, []string{">hello"}, session.Sent(testChannelID))
	})

	t.Run("no prefix", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		sendTestMessage(t, bot, testMemberID, "hello")
		assert.Empty(t, session.Sent(testChannelID))
	})

	t.Run("bots are ignored", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		m := newTestMessage(testMemberID, testChannelID, "!hello")
		m.Author.Bot = true
		bot.handleMessage(context.Background(), m)
		assert.Empty(t, session.Sent(testChannelID))
	})

	t.Run("own messages are ignored", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		sendTestMessage(t, bot, testBotUserID, "!hello")
		assert.Empty(t, session.Sent(testChannelID))
	})

	t.Run("unknown command", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!definitelynotacommand")
		assert.Equal(t, []string{reactionNotFound}, session.Reactions(m.ID))
	})

	t.Run("owner only", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!clearcache")
		assert.Equal(t, []string{reactionForbidden}, session.Reactions(m.ID))

		m = sendTestMessage(t, bot, testOwnerID, "!clearcache")
		assert.Equal(t, []string{reactionOK}, session.Reactions(m.ID))
	})

	t.Run("paused", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		rc := bot.RuntimeConfig()
		rc.Paused = true
		bot.setRuntimeConfig(&rc)

		sendTestMessage(t, bot, testMemberID, "!hello")
		assert.Empty(t, session.Sent(testChannelID))

		sendTestMessage(t, bot, testOwnerID, "!hello")
		assert.Equal(t, []string{">hello"}, session.Sent(testChannelID))
	})

	t.Run("maturity", func(t *testing.T) {
		t.Parallel()
		bot, session := newTestBot(t)
		bot.randN = func(n int) int {
			if n == 2 {
				return 1
			}
			return 0
		}
		sendTestMessage(t, bot, testMemberID, maturityTrigger)
		assert.Equal(t, []string{maturityReply}, session.Sent(testChannelID))
	})
}

func TestAnnounceRestart(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	restartedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bot.now = func() time.Time { return restartedAt.Add(7 * time.Second) }

	require.NoError(
		t, bot.properties.WriteMany(
			map[string]any{
				propRestarting:        true,
				propRestartingChannel: testChannelID,
				propRestartingTime:    restartedAt.Unix(),
			},
		),
	)

	bot.announceRestart(context.Background())
	assert.Equal(t, []string{"Restarted successfully in 7 seconds."}, session.Sent(testChannelID))
	assert.False(t, bot.properties.readBool(propRestarting, true))

	// the flag is reset, so nothing is sent twice
	bot.announceRestart(context.Background())
	assert.Len(t, session.Sent(testChannelID), 1)
}

func TestHandleReactionAdd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		userID   string
		emoji    string
		authorID string
		deleted  bool
	}{
		{
			name:     "owner deletes bot message",
			userID:   testOwnerID,
			emoji:    reactionKO,
			authorID: testBotUserID,
			deleted:  true,
		},
		{
			name:     "other emoji",
			userID:   testOwnerID,
			emoji:    reactionOK,
			authorID: testBotUserID,
		},
		{
			name:     "not the owner",
			userID:   testMemberID,
			emoji:    reactionKO,
			authorID: testBotUserID,
		},
		{
			name:     "not a bot message",
			userID:   testOwnerID,
			emoji:    reactionKO,
			authorID: testMemberID,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			bot, session := newTestBot(t)
			msg := newTestMessage(tc.authorID, testChannelID, "hi")
			session.messages[msg.ID] = msg

			bot.handleReactionAdd(
				context.Background(), &discordgo.MessageReactionAdd{
					MessageReaction: &discordgo.MessageReaction{
						UserID:    tc.userID,
						MessageID: msg.ID,
						ChannelID: testChannelID,
						Emoji:     discordgo.Emoji{Name: tc.emoji},
					},
				},
			)
			if tc.deleted {
				assert.Equal(t, []string{msg.ID}, session.deleted)
			} else {
				assert.Empty(t, session.deleted)
			}
		})
	}
}

func TestStop(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	bot.requestRestart()
	assert.True(t, bot.restartRequested.Load())
	select {
	case <-bot.signalStop:
	default:
		t.Fatal("expected a stop signal")
	}

	// a pending signal isn't duplicated
	bot.Stop()
	bot.Stop()
	assert.Len(t, bot.signalStop, 1)
}
