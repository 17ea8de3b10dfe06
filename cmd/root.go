package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"

	"github.com/jerome-ceccato/andre/andre"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = andre.DefaultConfig()
	configFile string
)

// logLevelKeys are the settings decoded into *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"mal.log_level",
	"api.log_level",
}

// stringSliceKeys are space-separated when set from the environment
var stringSliceKeys = []string{
	"discord.birthday_blacklist",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "andre [flags]",
	Short: "AndreBot, a discord bot for a MyAnimeList community",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		clearSliceDefaults(cfg)
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

// clearSliceDefaults drops the slices viper has defaults for. mapstructure
// decodes into an existing slice index by index, so a shorter configured
// list would keep the trailing default entries.
func clearSliceDefaults(c *andre.Config) {
	if c.Discord != nil {
		c.Discord.BirthdayBlacklist = nil
	}
	if c.API != nil {
		c.API.CORS.AllowOrigins = nil
		c.API.CORS.AllowMethods = nil
		c.API.CORS.AllowHeaders = nil
		c.API.CORS.ExposeHeaders = nil
	}
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names into *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("database", andre.DefaultDatabase)
	viper.SetDefault("database_type", andre.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", andre.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", andre.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", andre.DefaultLogLevel.String())
	viper.SetDefault("data_dir", andre.DefaultDataDir)
	viper.SetDefault("startup_timeout", andre.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", andre.DefaultShutdownTimeout)
	viper.SetDefault("command_log_max_age", andre.DefaultCommandLogMaxAge)
	viper.SetDefault("quote_url", andre.DefaultQuoteURL)

	// Discord
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.owner_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.general_channel_id", "")
	viper.SetDefault("discord.birthday_blacklist", []string{})
	viper.SetDefault("discord.command_prefix", andre.DefaultCommandPrefix)
	viper.SetDefault("discord.inline_command_limit", andre.DefaultInlineCommandLimit)
	viper.SetDefault("discord.avatar_dir", andre.DefaultAvatarDir)
	viper.SetDefault("discord.log_level", andre.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", andre.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", andre.DefaultDiscordGatewayIntent)

	// MyAnimeList
	viper.SetDefault("mal.list_url", andre.DefaultMALListURL)
	viper.SetDefault("mal.api_url", andre.DefaultMALAPIURL)
	viper.SetDefault("mal.airing_url", andre.DefaultMALAiringURL)
	viper.SetDefault("mal.page_size", andre.DefaultMALPageSize)
	viper.SetDefault("mal.requests_per_second", andre.DefaultMALRequestsPerSecond)
	viper.SetDefault("mal.timeout", andre.DefaultMALTimeout)
	viper.SetDefault("mal.fetch_concurrency", andre.DefaultMALFetchConcurrency)
	viper.SetDefault("mal.cache_ttl", 0)
	viper.SetDefault("mal.details_cache_ttl", andre.DefaultMALDetailsCacheTTL)
	viper.SetDefault("mal.log_level", andre.DefaultMALLogLevel.String())

	// VNDB
	viper.SetDefault("vndb.api_url", andre.DefaultVNDBAPIURL)
	viper.SetDefault("vndb.cache_ttl", andre.DefaultVNDBCacheTTL)
	viper.SetDefault("vndb.cache_size", andre.DefaultVNDBCacheSize)
	viper.SetDefault("vndb.requests_per_second", andre.DefaultVNDBRequestsPerSecond)
	viper.SetDefault("vndb.timeout", andre.DefaultVNDBTimeout)

	// Background loops
	viper.SetDefault("background.status_rotation_interval", andre.DefaultStatusRotationInterval)
	viper.SetDefault("background.preload_lists", true)
	viper.SetDefault("background.list_refresh_interval", andre.DefaultListRefreshInterval)
	viper.SetDefault("background.avatar", false)
	viper.SetDefault("background.avatar_interval", andre.DefaultAvatarInterval)
	viper.SetDefault("background.birthday", true)
	viper.SetDefault("background.birthday_hour", andre.DefaultBirthdayHour)
	viper.SetDefault("background.lock_max_hold", andre.DefaultLockMaxHold)
	viper.SetDefault("background.lock_sweep_interval", andre.DefaultLockSweepInterval)
	viper.SetDefault("background.command_log_prune_interval", andre.DefaultCommandLogPruneInterval)

	// Conversations
	viper.SetDefault("conversation.profile_timeout", andre.DefaultProfileQuestionTimeout)
	viper.SetDefault("conversation.extras_timeout", andre.DefaultExtrasQuestionTimeout)
	viper.SetDefault("conversation.admin_timeout", andre.DefaultAdminRelayTimeout)

	// API
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", andre.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", andre.DefaultAPILogLevel.String())
	viper.SetDefault("api.session_max_age", andre.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", andre.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", andre.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", andre.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", andre.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", andre.DefaultAPITLSMinVersion)

	// API: CORS
	viper.SetDefault("api.cors.allow_headers", andre.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", andre.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", andre.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", andre.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", andre.DefaultAPICORSAllowCredentials)
}

func initConfig() {
	switch ext := strings.ToLower(filepath.Ext(configFile)); {
	case configFile == "":
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	case ext == ".yaml" || ext == ".yml":
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("error reading config file %s: %v", configFile, err)
		}
	default:
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("error loading config file %s: %v", configFile, err)
		}
	}

	setDefaults()

	envPrefix := os.Getenv(andre.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = andre.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"YAML or env file to load settings from",
	)
}
