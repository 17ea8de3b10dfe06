package andre

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ChannelID string
	Content   string
	Embed     *discordgo.MessageEmbed
}

type sentReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// mockDiscordSession records what the bot sends, and serves members,
// guilds and channels from its fields
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	mu        sync.Mutex
	sent      []sentMessage
	reactions []sentReaction
	deleted   []string
	statuses  []discordgo.UpdateStatusData
	avatars   []string
	messages  map[string]*discordgo.Message

	members  []*discordgo.Member
	guilds   []*discordgo.UserGuild
	channels map[string][]*discordgo.Channel
}

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		logLevel: &slog.LevelVar{},
		messages: map[string]*discordgo.Message{},
		channels: map[string][]*discordgo.Channel{},
	}
	m.logLevel.Set(slog.LevelWarn)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler")
	return m
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (d *mockDiscordSession) SetIdentify(_ discordgo.Identify) {}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("saw message send", "channel_id", channelID, "content", content)
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (d *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{ChannelID: channelID, Embed: embed})
	return &discordgo.Message{ChannelID: channelID, Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (d *mockDiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (d *mockDiscordSession) ChannelMessageDelete(
	_ string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, messageID)
	return nil
}

func (d *mockDiscordSession) ChannelMessage(
	_ string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg, ok := d.messages[messageID]; ok {
		return msg, nil
	}
	return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func (d *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = append(d.reactions, sentReaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

func (d *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: dmChannelID(recipientID), Type: discordgo.ChannelTypeDM}, nil
}

func (d *mockDiscordSession) GuildMembers(
	_ string,
	after string,
	limit int,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := 0
	if after != "" {
		for i, m := range d.members {
			if m.User.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(d.members))
	return d.members[start:end], nil
}

func (d *mockDiscordSession) UserGuilds(
	_ int,
	_ string,
	_ string,
	_ bool,
	_ ...discordgo.RequestOption,
) ([]*discordgo.UserGuild, error) {
	return d.guilds, nil
}

func (d *mockDiscordSession) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.channels[guildID], nil
}

func (d *mockDiscordSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "test guild"}, nil
}

func (d *mockDiscordSession) UserUpdate(
	username string,
	avatar string,
	_ ...discordgo.RequestOption,
) (*discordgo.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.avatars = append(d.avatars, avatar)
	return &discordgo.User{ID: testBotUserID, Username: username}, nil
}

func (d *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, data)
	return nil
}

func (d *mockDiscordSession) addMember(id, username, nick string) *discordgo.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := &discordgo.Member{
		GuildID: testGuildID,
		Nick:    nick,
		User:    &discordgo.User{ID: id, Username: username},
	}
	d.members = append(d.members, m)
	return m
}

// Sent returns the text of the messages sent to the channel
func (d *mockDiscordSession) Sent(channelID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rv []string
	for _, m := range d.sent {
		if m.ChannelID == channelID && m.Embed == nil {
			rv = append(rv, m.Content)
		}
	}
	return rv
}

// Embeds returns the embeds sent to the channel
func (d *mockDiscordSession) Embeds(channelID string) []*discordgo.MessageEmbed {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rv []*discordgo.MessageEmbed
	for _, m := range d.sent {
		if m.ChannelID == channelID && m.Embed != nil {
			rv = append(rv, m.Embed)
		}
	}
	return rv
}

func (d *mockDiscordSession) Reactions(messageID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rv []string
	for _, r := range d.reactions {
		if r.MessageID == messageID {
			rv = append(rv, r.Emoji)
		}
	}
	return rv
}

func (d *mockDiscordSession) Statuses() []discordgo.UpdateStatusData {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]discordgo.UpdateStatusData(nil), d.statuses...)
}

func (d *mockDiscordSession) Avatars() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.avatars...)
}

func dmChannelID(userID string) string {
	return "dm-" + userID
}

func TestDiscord_GuildMembersPaging(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	for i := range discordGuildMembersPageSize + 5 {
		id := fmt.Sprintf("u%05d", i)
		session.addMember(id, id, "")
	}

	d := newDiscord(&DiscordConfig{}, nil, slog.Default())
	d.session = session

	members, err := d.guildMembers(testGuildID)
	require.NoError(t, err)
	assert.Len(t, members, discordGuildMembersPageSize+5)
}

func TestDiscord_DMChannel(t *testing.T) {
	t.Parallel()

	d := newDiscord(&DiscordConfig{}, nil, slog.Default())
	d.session = newMockDiscordSession()

	id, err := d.dmChannel("123")
	require.NoError(t, err)
	assert.Equal(t, dmChannelID("123"), id)
}

func TestDiscord_IsBotUser(t *testing.T) {
	t.Parallel()

	d := newDiscord(&DiscordConfig{}, nil, slog.Default())
	assert.False(t, d.isBotUser(testBotUserID))

	d.botUser.Store(&discordgo.User{ID: testBotUserID})
	assert.True(t, d.isBotUser(testBotUserID))
	assert.False(t, d.isBotUser(testOwnerID))
}

func TestMessageAuthor(t *testing.T) {
	t.Parallel()

	assert.Nil(t, messageAuthor(&discordgo.Message{}))

	u := &discordgo.User{ID: "1"}
	assert.Equal(t, u, messageAuthor(&discordgo.Message{Author: u}))
}

func TestMemberDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member *discordgo.Member
		want   string
	}{
		{
			name:   "nickname",
			member: &discordgo.Member{Nick: "nick", User: &discordgo.User{Username: "user"}},
			want:   "nick",
		},
		{
			name:   "username",
			member: &discordgo.Member{User: &discordgo.User{Username: "user"}},
			want:   "user",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, memberDisplayName(tc.member))
		})
	}
}
