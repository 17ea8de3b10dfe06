package andre

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	reactionOK        = "✅"
	reactionKO        = "❌"
	reactionNotFound  = "❓"
	reactionForbidden = "⛔"
	emoteTada         = "🎉"

	// discordGuildMembersPageSize is the max page size of the
	// guild members endpoint
	discordGuildMembersPageSize = 1000
)

// Discord manages the discord session, the bot user and the gateway
// event handlers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	botUser                     atomic.Pointer[discordgo.User]
	discordgoRemoveHandlerFuncs []func()
	httpClient                  *http.Client
}

func newDiscord(config *DiscordConfig, httpClient *http.Client, logger *slog.Logger) *Discord {
	return &Discord{
		config:                      config,
		logger:                      logger,
		httpClient:                  httpClient,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession creates a discordgo session with the state cache disabled.
// Members are always listed through the REST API.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.StateEnabled = false
	session.session = disc
	if d.httpClient != nil {
		disc.Client = d.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// BotUser is the bot's own user, set when the gateway is ready
func (d *Discord) BotUser() *discordgo.User {
	return d.botUser.Load()
}

func (d *Discord) isBotUser(userID string) bool {
	u := d.BotUser()
	return u != nil && u.ID == userID
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, r *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected")
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, r *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// dmChannel returns the ID of the DM channel with the given user
func (d *Discord) dmChannel(userID string) (string, error) {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return "", fmt.Errorf("error opening DM channel: %w", err)
	}
	return ch.ID, nil
}

// guildMembers pages through every member of the guild
func (d *Discord) guildMembers(guildID string) ([]*discordgo.Member, error) {
	var (
		members []*discordgo.Member
		after   string
	)
	for {
		page, err := d.session.GuildMembers(guildID, after, discordGuildMembersPageSize)
		if err != nil {
			return nil, fmt.Errorf("error listing guild members: %w", err)
		}
		members = append(members, page...)
		if len(page) < discordGuildMembersPageSize {
			return members, nil
		}
		last := page[len(page)-1]
		if last.User == nil {
			return members, nil
		}
		after = last.User.ID
	}
}

// DiscordSessionHandler is the subset of `discordgo.Session` the bot
// uses, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	ChannelMessageSend(
		channelID string,
		content string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEdit replaces the content of a message the bot sent
	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(channelID, messageID string, opts ...discordgo.RequestOption) error

	// ChannelMessage fetches a single message
	ChannelMessage(
		channelID string,
		messageID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	MessageReactionAdd(channelID, messageID, emojiID string, opts ...discordgo.RequestOption) error

	// UserChannelCreate returns the DM channel with the given user
	UserChannelCreate(recipientID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)

	GuildMembers(
		guildID string,
		after string,
		limit int,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Member, error)

	UserGuilds(
		limit int,
		beforeID string,
		afterID string,
		withCounts bool,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.UserGuild, error)

	GuildChannels(guildID string, opts ...discordgo.RequestOption) ([]*discordgo.Channel, error)

	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)

	// UserUpdate changes the bot's username or avatar (a data URI)
	UserUpdate(username, avatar string, opts ...discordgo.RequestOption) (*discordgo.User, error)

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, opts...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
	if err != nil {
		d.logger.Error(
			"error sending embed",
			tint.Err(err),
			"channel_id", channelID,
			"title", embed.Title,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, opts...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, opts...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, opts...)
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, opts...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, opts...)
}

func (d DiscordSession) GuildMembers(
	guildID string,
	after string,
	limit int,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	return d.session.GuildMembers(guildID, after, limit, opts...)
}

func (d DiscordSession) UserGuilds(
	limit int,
	beforeID string,
	afterID string,
	withCounts bool,
	opts ...discordgo.RequestOption,
) ([]*discordgo.UserGuild, error) {
	return d.session.UserGuilds(limit, beforeID, afterID, withCounts, opts...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, opts...)
}

func (d DiscordSession) Guild(
	guildID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, opts...)
}

func (d DiscordSession) UserUpdate(
	username string,
	avatar string,
	opts ...discordgo.RequestOption,
) (*discordgo.User, error) {
	u, err := d.session.UserUpdate(username, avatar, opts...)
	if err != nil {
		d.logger.Error("error updating bot user", tint.Err(err))
	}
	return u, err
}

func (d DiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

// messageAuthor returns the author of a message, falling back on the
// member's user
func messageAuthor(m *discordgo.Message) *discordgo.User {
	if m == nil {
		return nil
	}
	if m.Author != nil {
		return m.Author
	}
	if m.Member != nil {
		return m.Member.User
	}
	return nil
}

// memberDisplayName is the member's nick, or their username
func memberDisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		return m.User.Username
	}
	return ""
}
