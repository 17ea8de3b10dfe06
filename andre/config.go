//nolint:lll // struct tags can't be split
package andre

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix      = "ANDRE_ENV_PREFIX"
	DefaultEnvPrefix        = "ANDRE"
	DefaultDatabaseType     = "sqlite"
	DefaultDatabase         = "data/users.db"
	DefaultDataDir          = "data"
	DefaultLogLevel         = slog.LevelInfo
	DefaultStartupTimeout   = 30 * time.Second
	DefaultShutdownTimeout  = 60 * time.Second
	DefaultCommandLogMaxAge = 30 * 24 * time.Hour

	DefaultCommandPrefix        = "!"
	DefaultInlineCommandLimit   = 3
	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	DefaultAvatarDir           = "data/avatars"
	discordMaxMessageLength    = 2000
	discordMaxEmbedTitle       = 256
	discordMaxEmbedDescription = 2048

	DefaultMALListURL           = "https://myanimelist.net/%slist/%s/load.json"
	DefaultMALAPIURL            = "https://imal.iatgof.com/app.php/2.2"
	DefaultMALAiringURL         = "http://iatgof.com/imal/airing.json"
	DefaultMALPageSize          = 300
	DefaultMALRequestsPerSecond = 2
	DefaultMALTimeout           = 30 * time.Second
	DefaultMALLogLevel          = slog.LevelInfo
	DefaultMALDetailsCacheTTL   = time.Hour
	DefaultMALFetchConcurrency  = 4

	DefaultVNDBAPIURL            = "https://api.vndb.org/kana"
	DefaultVNDBCacheTTL          = 12 * time.Hour
	DefaultVNDBCacheSize         = 512
	DefaultVNDBRequestsPerSecond = 1
	DefaultVNDBTimeout           = 30 * time.Second

	DefaultQuoteURL = "http://inspirobot.me/api?generate=true"

	DefaultStatusRotationInterval  = 1800 * time.Second
	DefaultListRefreshInterval     = 12 * time.Hour
	DefaultAvatarInterval          = 8 * time.Hour
	DefaultBirthdayHour            = 12
	DefaultLockMaxHold             = time.Hour
	DefaultLockSweepInterval       = 5 * time.Minute
	DefaultCommandLogPruneInterval = 6 * time.Hour

	DefaultProfileQuestionTimeout = 180 * time.Second
	DefaultExtrasQuestionTimeout  = 300 * time.Second
	DefaultAdminRelayTimeout      = 3600 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPITLSMinVersion  = tls.VersionTLS12
	DefaultAPISessionMaxAge  = 6 * time.Hour
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelWarn
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
		"Location",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string. For sqlite, the path to the database file.
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DataDir holds the properties file and database backups
	DataDir string `yaml:"data_dir" mapstructure:"data_dir" json:"data_dir" binding:"required"`

	// StartupTimeout is the time allowed to connect to discord and become
	// ready. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// CommandLogMaxAge is how long CommandLog rows are kept. 0 keeps them forever.
	CommandLogMaxAge time.Duration `yaml:"command_log_max_age" mapstructure:"command_log_max_age" json:"command_log_max_age"`

	// QuoteURL returns a random inspirational image URL for !quote
	QuoteURL string `yaml:"quote_url" mapstructure:"quote_url" json:"quote_url"`

	Discord      *DiscordConfig      `yaml:"discord" mapstructure:"discord" json:"discord"`
	MAL          *MALConfig          `yaml:"mal" mapstructure:"mal" json:"mal"`
	VNDB         *VNDBConfig         `yaml:"vndb" mapstructure:"vndb" json:"vndb"`
	Background   *BackgroundConfig   `yaml:"background" mapstructure:"background" json:"background"`
	Conversation *ConversationConfig `yaml:"conversation" mapstructure:"conversation" json:"conversation"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// OwnerID is the discord user ID allowed to run owner commands
	OwnerID string `yaml:"owner_id" mapstructure:"owner_id" json:"owner_id" binding:"required"`

	// GuildID is the main guild, used to resolve members from DMs
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// GeneralChannelID receives welcome and birthday messages
	GeneralChannelID string `yaml:"general_channel_id" mapstructure:"general_channel_id" json:"general_channel_id"`

	// BirthdayBlacklist lists discord user IDs never wished a happy birthday
	BirthdayBlacklist []string `yaml:"birthday_blacklist" mapstructure:"birthday_blacklist" json:"birthday_blacklist"`

	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// InlineCommandLimit caps the number of `!!` commands run from a
	// single message, for anyone but the owner.
	InlineCommandLimit int `yaml:"inline_command_limit" mapstructure:"inline_command_limit" json:"inline_command_limit" binding:"min=0"`

	// AvatarDir holds the images the bot rotates its avatar through
	AvatarDir string `yaml:"avatar_dir" mapstructure:"avatar_dir" json:"avatar_dir"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// MALConfig configures the MyAnimeList list endpoint, the MAL search/detail
// proxy and the airing schedule.
type MALConfig struct {
	// ListURL is a format string taking the entity ('anime' or 'manga')
	// and the username
	ListURL string `yaml:"list_url" mapstructure:"list_url" json:"list_url" binding:"required"`

	// APIURL is the base URL of the search/details/profile proxy
	APIURL string `yaml:"api_url" mapstructure:"api_url" json:"api_url" binding:"required"`

	AiringURL string `yaml:"airing_url" mapstructure:"airing_url" json:"airing_url" binding:"required"`

	// PageSize is the number of list entries MAL returns per page. A shorter
	// page ends paging.
	PageSize int `yaml:"page_size" mapstructure:"page_size" json:"page_size" binding:"min=1"`

	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`

	// FetchConcurrency limits concurrent list downloads when refreshing
	// every member's list
	FetchConcurrency int `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency" json:"fetch_concurrency" binding:"min=1"`

	// CacheTTL expires cached lists. 0 disables expiry, so lists are only
	// refreshed by the background loop, !updatelist or !clearcache.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`

	DetailsCacheTTL time.Duration `yaml:"details_cache_ttl" mapstructure:"details_cache_ttl" json:"details_cache_ttl"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// VNDBConfig configures the VNDB HTTP API client.
type VNDBConfig struct {
	APIURL            string        `yaml:"api_url" mapstructure:"api_url" json:"api_url" binding:"required"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheSize         int           `yaml:"cache_size" mapstructure:"cache_size" json:"cache_size" binding:"min=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

// BackgroundConfig toggles and paces the background loops.
type BackgroundConfig struct {
	// StatusRotationInterval is the base interval between status changes.
	// A random 1-90 minutes is added to each wait.
	StatusRotationInterval time.Duration `yaml:"status_rotation_interval" mapstructure:"status_rotation_interval" json:"status_rotation_interval"`

	PreloadLists        bool          `yaml:"preload_lists" mapstructure:"preload_lists" json:"preload_lists"`
	ListRefreshInterval time.Duration `yaml:"list_refresh_interval" mapstructure:"list_refresh_interval" json:"list_refresh_interval"`

	Avatar         bool          `yaml:"avatar" mapstructure:"avatar" json:"avatar"`
	AvatarInterval time.Duration `yaml:"avatar_interval" mapstructure:"avatar_interval" json:"avatar_interval"`

	Birthday bool `yaml:"birthday" mapstructure:"birthday" json:"birthday"`

	// BirthdayHour is the UTC hour birthdays are checked at, after the
	// first check
	BirthdayHour int `yaml:"birthday_hour" mapstructure:"birthday_hour" json:"birthday_hour" binding:"min=0,max=23"`

	// LockMaxHold releases interactive session locks held longer than this.
	// 0 disables the sweep.
	LockMaxHold       time.Duration `yaml:"lock_max_hold" mapstructure:"lock_max_hold" json:"lock_max_hold"`
	LockSweepInterval time.Duration `yaml:"lock_sweep_interval" mapstructure:"lock_sweep_interval" json:"lock_sweep_interval"`

	CommandLogPruneInterval time.Duration `yaml:"command_log_prune_interval" mapstructure:"command_log_prune_interval" json:"command_log_prune_interval"`
}

func validateBackgroundConfig(sl validator.StructLevel) {
	value, ok := sl.Current().Interface().(BackgroundConfig)
	if !ok {
		return
	}
	if value.StatusRotationInterval < time.Second {
		sl.ReportError(value.StatusRotationInterval, "status_rotation_interval", "StatusRotationInterval", "min", "1s")
	}
	if value.PreloadLists && value.ListRefreshInterval < time.Minute {
		sl.ReportError(value.ListRefreshInterval, "list_refresh_interval", "ListRefreshInterval", "min", "1m")
	}
	if value.Avatar && value.AvatarInterval < time.Minute {
		sl.ReportError(value.AvatarInterval, "avatar_interval", "AvatarInterval", "min", "1m")
	}
	if value.LockMaxHold < 0 {
		sl.ReportError(value.LockMaxHold, "lock_max_hold", "LockMaxHold", "min", "0")
	}
	if value.LockMaxHold > 0 && value.LockSweepInterval <= 0 {
		sl.ReportError(value.LockSweepInterval, "lock_sweep_interval", "LockSweepInterval", "gt", "0")
	}
}

// ConversationConfig sets how long interactive flows wait for each answer.
type ConversationConfig struct {
	ProfileTimeout time.Duration `yaml:"profile_timeout" mapstructure:"profile_timeout" json:"profile_timeout" binding:"min=1s"`
	ExtrasTimeout  time.Duration `yaml:"extras_timeout" mapstructure:"extras_timeout" json:"extras_timeout" binding:"min=1s"`
	AdminTimeout   time.Duration `yaml:"admin_timeout" mapstructure:"admin_timeout" json:"admin_timeout" binding:"min=1s"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS. When no cert is set, the server
	// listens on plain HTTP.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"required_if=Enabled true"`

	// Development allows any origin, relaxes cookie settings and
	// registers pprof handlers under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

func validateAPIConfig(sl validator.StructLevel) {
	value, ok := sl.Current().Interface().(APIConfig)
	if !ok || !value.Enabled {
		return
	}
	if value.SessionMaxAge < 10*time.Minute || value.SessionMaxAge > 24*time.Hour {
		sl.ReportError(value.SessionMaxAge, "session_max_age", "SessionMaxAge", "range", "10m-24h")
	}
	if (value.SSL.Cert == "") != (value.SSL.Key == "") {
		sl.ReportError(value.SSL, "ssl", "SSL", "cert_key_pair", "")
	}
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterStructValidation(validateBackgroundConfig, BackgroundConfig{})
	structValidator.RegisterStructValidation(validateAPIConfig, APIConfig{})
}

// Validate checks the config's binding tags and cross-field constraints
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// PropertiesFile is the path of the JSON properties file
func (c Config) PropertiesFile() string {
	return fmt.Sprintf("%s/properties.json", c.DataDir)
}

// BackupDir is where `!backupdb` copies the sqlite database
func (c Config) BackupDir() string {
	return fmt.Sprintf("%s/backup", c.DataDir)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	malLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	malLogLevel.Set(DefaultMALLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		DataDir:               DefaultDataDir,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		CommandLogMaxAge:      DefaultCommandLogMaxAge,
		QuoteURL:              DefaultQuoteURL,
		Discord: &DiscordConfig{
			CommandPrefix:      DefaultCommandPrefix,
			InlineCommandLimit: DefaultInlineCommandLimit,
			AvatarDir:          DefaultAvatarDir,
			GatewayIntents:     DefaultDiscordGatewayIntent,
			LogLevel:           discordLogLevel,
			DiscordGoLogLevel:  discordgoLogLevel,
		},
		MAL: &MALConfig{
			ListURL:           DefaultMALListURL,
			APIURL:            DefaultMALAPIURL,
			AiringURL:         DefaultMALAiringURL,
			PageSize:          DefaultMALPageSize,
			RequestsPerSecond: DefaultMALRequestsPerSecond,
			Timeout:           DefaultMALTimeout,
			FetchConcurrency:  DefaultMALFetchConcurrency,
			DetailsCacheTTL:   DefaultMALDetailsCacheTTL,
			LogLevel:          malLogLevel,
		},
		VNDB: &VNDBConfig{
			APIURL:            DefaultVNDBAPIURL,
			CacheTTL:          DefaultVNDBCacheTTL,
			CacheSize:         DefaultVNDBCacheSize,
			RequestsPerSecond: DefaultVNDBRequestsPerSecond,
			Timeout:           DefaultVNDBTimeout,
		},
		Background: &BackgroundConfig{
			StatusRotationInterval:  DefaultStatusRotationInterval,
			PreloadLists:            true,
			ListRefreshInterval:     DefaultListRefreshInterval,
			Avatar:                  false,
			AvatarInterval:          DefaultAvatarInterval,
			Birthday:                true,
			BirthdayHour:            DefaultBirthdayHour,
			LockMaxHold:             DefaultLockMaxHold,
			LockSweepInterval:       DefaultLockSweepInterval,
			CommandLogPruneInterval: DefaultCommandLogPruneInterval,
		},
		Conversation: &ConversationConfig{
			ProfileTimeout: DefaultProfileQuestionTimeout,
			ExtrasTimeout:  DefaultExtrasQuestionTimeout,
			AdminTimeout:   DefaultAdminRelayTimeout,
		},
		API: &APIConfig{
			Enabled:       false,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}
