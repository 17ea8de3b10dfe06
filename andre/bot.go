package andre

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/jerome-ceccato/andre/andre.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// ErrRestartRequested is returned by Run after `!restart`
var ErrRestartRequested = errors.New("restart requested")

var defaultLogWriter io.Writer = os.Stdout

// Andre is the bot. It owns the discord session, the database, the
// remote API clients and caches, and the admin API.
type Andre struct {
	config *Config

	// read connection
	db *gorm.DB

	// gorm.DB wrapper for writes. With sqlite, writes hold a mutex.
	writeDB DBI

	dbNotifier DBNotifier

	logger     *slog.Logger
	logHandler slog.Handler

	discord       *Discord
	mal           *MALClient
	vndb          *VNDBClient
	cache         *ListCache
	state         *BotState
	conversations *Conversations
	properties    *Properties
	router        *Router
	api           *API
	httpClient    *http.Client

	// quotes fetches !quote images
	quotes *remoteClient

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	// values loaded from the properties file
	propMu          sync.RWMutex
	banlist         map[string]PermissionLevel
	nameRestriction map[string]bool
	vndbAliases     map[string]string
	rotation        atomic.Bool

	// the last status set by !newgame, !setgame or the rotation loop
	activity atomic.Pointer[discordgo.Activity]

	// signalStop stops Run, from !shutdown, !restart or the API
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has connected to
	// discord and started the background loops
	signalReady chan struct{}

	// eventShutdown has a value sent on it when shutdown finishes
	eventShutdown chan struct{}

	restartRequested atomic.Bool

	// prevents Run from executing concurrently
	runMu sync.Mutex

	startedAt time.Time

	// tracks goroutines spawned by discord handlers, waited on at shutdown
	runtimeWG *sync.WaitGroup

	triggerRuntimeConfigRefreshCh chan bool
	triggerCacheClearCh           chan bool
	triggerPropertiesReloadCh     chan string

	now   func() time.Time
	randN func(n int) int
}

// New builds the bot from the given config. The database and discord
// connections are opened by Run.
func New(config *Config) (*Andre, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	a := &Andre{
		config:                        config,
		httpClient:                    config.HTTPClient,
		signalReady:                   make(chan struct{}, 1),
		signalStop:                    make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerCacheClearCh:           make(chan bool, 1),
		triggerPropertiesReloadCh:     make(chan string, 1),
		banlist:                       map[string]PermissionLevel{},
		nameRestriction:               map[string]bool{},
		vndbAliases:                   map[string]string{},
		runtimeWG:                     &sync.WaitGroup{},
		now:                           time.Now,
		randN:                         rand.IntN,
	}
	rc := DefaultRuntimeConfig()
	a.runtimeConfig = &rc

	a.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	a.logger = slog.New(a.logHandler).With(loggerNameKey, "andre")
	slog.SetDefault(a.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel).
			WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	a.discord = newDiscord(
		config.Discord,
		config.HTTPClient,
		slog.New(newLogHandler(defaultLogWriter, config.Discord.LogLevel)).
			With(loggerNameKey, "discord"),
	)

	malLogger := slog.New(newLogHandler(defaultLogWriter, config.MAL.LogLevel))
	a.mal = NewMALClient(config.MAL, config.HTTPClient, malLogger.With(loggerNameKey, "mal"))
	a.cache = NewListCache(
		a.mal,
		config.MAL.CacheTTL,
		config.MAL.FetchConcurrency,
		malLogger.With(loggerNameKey, "cache"),
	)
	a.quotes = newRemoteClient(
		quoteClientName,
		config.HTTPClient,
		0,
		config.MAL.Timeout,
		a.logger.With(loggerNameKey, "quotes"),
	)
	a.vndb = NewVNDBClient(config.VNDB, config.HTTPClient, a.logger.With(loggerNameKey, "vndb"))

	a.state = NewBotState(config.Background.LockMaxHold)
	a.conversations = NewConversations()
	a.properties = NewProperties(config.PropertiesFile())

	a.router = newRouter(config.Discord.CommandPrefix)
	a.registerCommands()

	api, err := newAPI(a, config.API)
	errs = append(errs, err)
	a.api = api

	return a, errors.Join(errs...)
}

func (a *Andre) ValidateConfig() error {
	return a.config.Validate()
}

// RuntimeConfig returns a copy of the current runtime configuration
func (a *Andre) RuntimeConfig() RuntimeConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return *a.runtimeConfig
}

func (a *Andre) isOwner(userID string) bool {
	return userID != "" && userID == a.config.Discord.OwnerID
}

// Run connects to the database and discord, and blocks until ctx is
// canceled or a stop signal is received. After `!restart`, it returns
// ErrRestartRequested once shut down.
func (a *Andre) Run(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.signalStop = make(chan struct{}, 1)
	a.restartRequested.Store(false)
	a.startedAt = a.now()
	logger := a.logger

	if err := a.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(a)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	a.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}
	a.runtimeWG = runtimeWG

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", a.config))

	// the 'runtime' context, which triggers a graceful shutdown when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-a.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, a.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- a.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case e := <-initErr:
		if e != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(e))
			return e
		}
		logger.InfoContext(ctx, "init complete")
	}

	if a.config.API.Enabled {
		go func() {
			httpErr := a.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if discErr := a.initDiscordSession(ctx, runtimeWG); discErr != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	logger.InfoContext(ctx, "connecting to discord")
	if openErr := a.discord.session.Open(); openErr != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(openErr))
		return fmt.Errorf("error connecting to discord: %w", openErr)
	}

	a.startRuntimeConfigRefresher(ctx, runtimeWG)
	a.startCacheClearListener(ctx, runtimeWG)
	a.startPropertiesListener(ctx, runtimeWG)
	a.startBackground(ctx, runtimeWG)

	for _, channel := range a.dbNotifier.Channels() {
		runtimeWG.Add(1)
		go func(ch string) {
			defer runtimeWG.Done()
			if e := a.dbNotifier.Listen(ctx, ch); e != nil {
				logger.ErrorContext(ctx, "error listening to channel", "channel", ch, tint.Err(e))
			}
		}(channel)
	}

	select {
	case a.signalReady <- struct{}{}:
		logger.InfoContext(ctx, "sent ready signal")
	default:
	}

	<-ctx.Done()

	shutdownErr := a.shutdown(ctx, runtimeWG)
	if a.restartRequested.Load() {
		return errors.Join(ErrRestartRequested, shutdownErr)
	}
	return shutdownErr
}

// Stop sends the stop signal to Run, if one isn't already pending
func (a *Andre) Stop() {
	select {
	case a.signalStop <- struct{}{}:
	default:
	}
}

// requestRestart stops Run, which then returns ErrRestartRequested
func (a *Andre) requestRestart() {
	a.restartRequested.Store(true)
	a.Stop()
}

func (a *Andre) initRun(ctx context.Context) error {
	a.logger.Debug("initializing DB...")
	if err := a.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	rc, err := LoadRuntimeConfig(ctx, a.db)
	if err != nil {
		return err
	}
	if validationErr := structValidator.Struct(rc); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}
	a.setRuntimeConfig(rc)

	if err = a.reloadProperties(""); err != nil {
		return err
	}
	return nil
}

func (a *Andre) initDB(ctx context.Context) error {
	handler := newLogHandler(defaultLogWriter, a.config.DatabaseLogLevel)
	gormLogger := newGORMLogger(handler, a.config.DatabaseSlowThreshold)
	db, err := getDB(a.config.DatabaseType, a.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if a.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	a.logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}
	a.useDB(db)
	return nil
}

func (a *Andre) useDB(db *gorm.DB) {
	a.db = db
	a.writeDB = NewDatabase(
		db,
		a.logger,
		a.config.DatabaseType == dbTypePostgres,
	)
}

func (a *Andre) setRuntimeConfig(rc *RuntimeConfig) {
	a.cfgMu.Lock()
	a.runtimeConfig = rc
	a.cfgMu.Unlock()
	rc.ApplyLogLevels(a.config)
}

func (a *Andre) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	if a.discord.session == nil {
		session, err := a.discord.newSession()
		if err != nil {
			return err
		}
		a.discord.session = session
	}

	for _, h := range a.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	a.discord.session.SetIdentify(
		discordgo.Identify{
			Intents:  a.config.Discord.GatewayIntents,
			Presence: gatewayStatus(a.presence()),
		},
	)

	spawn := func(f func()) {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			defer func() {
				handleRecover(ctx, recover())
			}()
			f()
		}()
	}

	session := a.discord.session
	a.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(a.discord.handlerConnect()),
		session.AddHandler(a.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				spawn(func() { a.handleReady(ctx, r) })
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				spawn(func() { a.handleMessage(ctx, m.Message) })
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				spawn(func() { a.handleReactionAdd(ctx, r) })
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				spawn(func() { a.handleMemberJoin(ctx, m) })
			},
		),
	}
	return nil
}

// handleReady records the bot user, restores the status and announces
// a completed restart
func (a *Andre) handleReady(ctx context.Context, r *discordgo.Ready) {
	if r.User != nil {
		a.discord.botUser.Store(r.User)
	}
	a.logger.InfoContext(ctx, "discord ready", "guilds", len(r.Guilds))
	a.updatePresence(ctx)
	a.announceRestart(ctx)
}

// announceRestart sends the 'Restarted' message to the channel
// `!restart` was called from
func (a *Andre) announceRestart(ctx context.Context) {
	if !a.properties.readBool(propRestarting, false) {
		return
	}
	var channelID string
	var restartedAt int64
	_, err := a.properties.Read(propRestartingChannel, &channelID)
	logErr(ctx, a.logger, "error reading restart channel", err)
	_, err = a.properties.Read(propRestartingTime, &restartedAt)
	logErr(ctx, a.logger, "error reading restart time", err)

	if err = a.properties.Write(propRestarting, false); err != nil {
		a.logger.ErrorContext(ctx, "error resetting restart flag", tint.Err(err))
	}
	if channelID == "" {
		return
	}
	took := a.now().Sub(time.Unix(restartedAt, 0)).Round(time.Second)
	logErr(
		ctx, a.logger, "error sending restart notice",
		a.say(channelID, fmt.Sprintf("Restarted successfully in %d seconds.", int(took.Seconds()))),
	)
}

// handleMessage is the MessageCreate entry point
func (a *Andre) handleMessage(ctx context.Context, m *discordgo.Message) {
	author := messageAuthor(m)
	if author == nil || author.Bot || a.discord.isBotUser(author.ID) {
		return
	}

	if a.conversations.Deliver(m) {
		return
	}

	if m.Content == maturityTrigger {
		a.maturity(ctx, m)
		return
	}

	rc := a.RuntimeConfig()
	if rc.Paused && !a.isOwner(author.ID) {
		return
	}

	inline := a.router.prefix + a.router.prefix
	if rc.InlineCommandsEnabled &&
		strings.Contains(m.Content, inline) &&
		!a.isBanned(author.ID, PermissionUnsafe) {
		a.runInline(ctx, m)
	}
	if strings.HasPrefix(m.Content, inline) {
		return
	}
	a.dispatch(ctx, m, m.Content, false)
}

// handleReactionAdd deletes bot messages the owner reacts to with ❌
func (a *Andre) handleReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.Emoji.Name != reactionKO || !a.isOwner(r.UserID) {
		return
	}
	msg, err := a.discord.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		a.logger.WarnContext(ctx, "error fetching reacted message", tint.Err(err))
		return
	}
	if author := messageAuthor(msg); author == nil || !a.discord.isBotUser(author.ID) {
		return
	}
	logErr(
		ctx, a.logger, "error deleting message",
		a.discord.session.ChannelMessageDelete(r.ChannelID, r.MessageID),
		"message_id", r.MessageID,
	)
}

// handleMemberJoin welcomes new members of the main guild
func (a *Andre) handleMemberJoin(ctx context.Context, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	if a.config.Discord.GuildID != "" && m.GuildID != a.config.Discord.GuildID {
		return
	}
	if a.config.Discord.GeneralChannelID == "" {
		return
	}
	logErr(
		ctx, a.logger, "error sending welcome message",
		a.welcome(a.config.Discord.GeneralChannelID, m.GuildID, m.Member),
	)
}

// say sends content to the channel, truncated to discord's max size
func (a *Andre) say(channelID, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	_, err := a.discord.session.ChannelMessageSend(
		channelID,
		forceMaxSize(content, discordMaxMessageLength),
	)
	return err
}

// safeSay sends content in as many messages as needed, split on lines
func (a *Andre) safeSay(channelID, content string) error {
	for _, chunk := range splitMessage(content, discordMaxMessageLength) {
		if _, err := a.discord.session.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *Andre) sayEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := a.discord.session.ChannelMessageSendEmbed(channelID, limitEmbed(embed))
	return err
}

func (a *Andre) whisper(userID, content string) error {
	channelID, err := a.discord.dmChannel(userID)
	if err != nil {
		return err
	}
	return a.safeSay(channelID, content)
}

// logCommand writes the command log in the background
func (a *Andre) logCommand(c *CommandContext, took time.Duration, err error) {
	if a.writeDB == nil {
		return
	}
	entry := newCommandLog(c, c.Command.Name, took, err)
	a.runtimeWG.Add(1)
	go func() {
		defer a.runtimeWG.Done()
		if _, e := a.writeDB.Create(context.Background(), entry); e != nil {
			a.logger.Error("error saving command log", tint.Err(e), "command", entry.Command)
		}
	}()
}

func (a *Andre) startRuntimeConfigRefresher(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.triggerRuntimeConfigRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, dbOperationTimeout)
				a.refreshRuntimeConfig(refreshCtx)
				refreshCancel()
			}
		}
	}()
}

// refreshRuntimeConfig reloads the runtime config from the database and
// updates the presence if the paused state changed
func (a *Andre) refreshRuntimeConfig(ctx context.Context) {
	previous := a.RuntimeConfig()
	rc, err := LoadRuntimeConfig(ctx, a.db)
	if err != nil {
		a.logger.ErrorContext(ctx, "error getting runtime config", tint.Err(err))
		return
	}
	a.setRuntimeConfig(rc)
	if previous.Paused != rc.Paused {
		a.updatePresence(ctx)
	}
	a.logger.InfoContext(ctx, "refreshed runtime config")
}

func (a *Andre) startCacheClearListener(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.triggerCacheClearCh:
				a.clearCaches()
			}
		}
	}()
}

// clearCaches drops every cached list, MAL entry and VNDB result
func (a *Andre) clearCaches() {
	a.cache.Clear()
	a.mal.ClearDetails()
	a.vndb.Clear()
	a.logger.Info("cleared caches")
}

func (a *Andre) startPropertiesListener(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-a.triggerPropertiesReloadCh:
				if err := a.reloadProperties(key); err != nil {
					a.logger.ErrorContext(ctx, "error reloading properties", "key", key, tint.Err(err))
				}
			}
		}
	}()
}

// notifyPeers runs f against the notifier when other instances may share
// the database. With sqlite, there's only ever this instance.
func (a *Andre) notifyPeers(ctx context.Context, f func(ctx context.Context, n DBNotifier) bool) {
	if a.dbNotifier == nil || a.config.DatabaseType != dbTypePostgres {
		return
	}
	a.runtimeWG.Add(1)
	go func() {
		defer a.runtimeWG.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbNotifierSendTimeout)
		defer cancel()
		f(notifyCtx, a.dbNotifier)
	}()
}

func reloadRuntimeConfig(ctx context.Context, n DBNotifier) bool {
	return n.ReloadRuntimeConfig(ctx)
}

func clearPeerCaches(ctx context.Context, n DBNotifier) bool {
	return n.ClearCache(ctx)
}

func stopPeers(ctx context.Context, n DBNotifier) bool {
	return n.Stop(ctx)
}

func (a *Andre) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	a.logger.WarnContext(ctx, "shutting down")
	defer func() {
		select {
		case a.eventShutdown <- struct{}{}:
		default:
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(a.config.ShutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	a.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", a.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		a.logger.InfoContext(
			ctx,
			"finished handling in-flight commands",
			"runtime_stop_duration", time.Since(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if a.api != nil && a.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				a.logger.InfoContext(ctx, "stopping http server")
				_ = a.api.httpServer.Shutdown(closeCtx)
				a.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if a.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				a.logger.InfoContext(ctx, "closing discord session")
				_ = a.discord.session.Close()
				for _, h := range a.discord.discordgoRemoveHandlerFuncs {
					h()
				}
				a.discord.discordgoRemoveHandlerFuncs = nil
				a.logger.InfoContext(ctx, "discord session closed")
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			a.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			a.logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		case <-closeCtx.Done():
			a.logger.Warn("commands did not stop in time, forcing close")
			if a.api != nil && a.api.httpServer != nil {
				go func() {
					_ = a.api.httpServer.Close()
				}()
			}
			return errors.New("commands did not stop in time")
		}
	}
}
