package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jerome-ceccato/andre/andre"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

// resetConfig restores the environment, viper and the package config
// once the test is done
func resetConfig(t *testing.T) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
			viper.Reset()
			cfg = andre.DefaultConfig()
			configFile = ""
		},
	)
	os.Clearenv()
	viper.Reset()
	cfg = andre.DefaultConfig()
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	resetConfig(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	envContent := `
# General/database config

ANDRE_DATABASE=/home/foo/andre.sqlite3
ANDRE_DATABASE_TYPE=sqlite
ANDRE_DATABASE_LOG_LEVEL=INFO
ANDRE_DATABASE_SLOW_THRESHOLD=300ms
ANDRE_LOG_LEVEL=DEBUG
ANDRE_DATA_DIR=/home/foo/data
ANDRE_STARTUP_TIMEOUT=20s
ANDRE_SHUTDOWN_TIMEOUT=40s
ANDRE_COMMAND_LOG_MAX_AGE=72h

# Discord

ANDRE_DISCORD_TOKEN=your-discord-bot-token
ANDRE_DISCORD_OWNER_ID=100000000000000001
ANDRE_DISCORD_GUILD_ID=200000000000000001
ANDRE_DISCORD_GENERAL_CHANNEL_ID=300000000000000001
ANDRE_DISCORD_BIRTHDAY_BLACKLIST=111 222
ANDRE_DISCORD_COMMAND_PREFIX=?
ANDRE_DISCORD_LOG_LEVEL=WARN
ANDRE_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
ANDRE_DISCORD_GATEWAY_INTENTS=3243773

# MAL / VNDB

ANDRE_MAL_PAGE_SIZE=100
ANDRE_MAL_TIMEOUT=10s
ANDRE_MAL_LOG_LEVEL=DEBUG
ANDRE_VNDB_CACHE_TTL=1h

# Background

ANDRE_BACKGROUND_AVATAR=true
ANDRE_BACKGROUND_BIRTHDAY=false
ANDRE_BACKGROUND_BIRTHDAY_HOUR=9

# API server

ANDRE_API_ENABLED=true
ANDRE_API_LISTEN=127.0.0.1:5001
ANDRE_API_SSL_CERT=/etc/ssl/cert.pem
ANDRE_API_SSL_KEY=/etc/ssl/key.pem
ANDRE_API_SSL_TLS_MIN_VERSION=772
ANDRE_API_SECRET=your-api-secret
ANDRE_API_LOG_LEVEL=DEBUG
ANDRE_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
ANDRE_API_CORS_ALLOW_METHODS=GET POST PATCH
ANDRE_API_SESSION_MAX_AGE=2h
`
	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o600))

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/andre.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelError, viper.Get("discord.discordgo_log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("mal.log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, []string{"111", "222"}, viper.GetStringSlice("discord.birthday_blacklist"))

	assert.Equal(t, "/home/foo/andre.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 300*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, "/home/foo/data", cfg.DataDir)
	assert.Equal(t, 20*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 40*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 72*time.Hour, cfg.CommandLogMaxAge)
	assert.Equal(t, andre.DefaultQuoteURL, cfg.QuoteURL)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "100000000000000001", cfg.Discord.OwnerID)
	assert.Equal(t, "200000000000000001", cfg.Discord.GuildID)
	assert.Equal(t, "300000000000000001", cfg.Discord.GeneralChannelID)
	assert.Equal(t, []string{"111", "222"}, cfg.Discord.BirthdayBlacklist)
	assert.Equal(t, "?", cfg.Discord.CommandPrefix)
	assert.Equal(t, andre.DefaultInlineCommandLimit, cfg.Discord.InlineCommandLimit)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)

	assert.Equal(t, 100, cfg.MAL.PageSize)
	assert.Equal(t, 10*time.Second, cfg.MAL.Timeout)
	assert.Equal(t, andre.DefaultMALListURL, cfg.MAL.ListURL)
	assert.Equal(t, slog.LevelDebug, cfg.MAL.LogLevel.Level())
	assert.Equal(t, time.Hour, cfg.VNDB.CacheTTL)
	assert.Equal(t, andre.DefaultVNDBAPIURL, cfg.VNDB.APIURL)

	assert.True(t, cfg.Background.Avatar)
	assert.False(t, cfg.Background.Birthday)
	assert.True(t, cfg.Background.PreloadLists)
	assert.Equal(t, 9, cfg.Background.BirthdayHour)
	assert.Equal(t, andre.DefaultStatusRotationInterval, cfg.Background.StatusRotationInterval)

	assert.Equal(t, andre.DefaultProfileQuestionTimeout, cfg.Conversation.ProfileTimeout)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5001", cfg.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.API.SSL.Key)
	assert.Equal(t, uint16(772), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", cfg.API.Secret)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(t, []string{"GET", "POST", "PATCH"}, cfg.API.CORS.AllowMethods)
	assert.Equal(t, andre.DefaultCORSAllowHeaders, cfg.API.CORS.AllowHeaders)
	assert.Equal(t, 2*time.Hour, cfg.API.SessionMaxAge)
	assert.Equal(t, andre.DefaultReadTimeout, cfg.API.ReadTimeout)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	resetConfig(t)

	yamlFile := filepath.Join(t.TempDir(), "andre.yaml")
	yamlContent := `
database: /srv/andre/users.db
log_level: WARN
discord:
  token: yaml-token
  owner_id: "42"
  birthday_blacklist:
    - "7"
mal:
  requests_per_second: 0.5
background:
  preload_lists: false
  list_refresh_interval: 6h
api:
  cors:
    allow_headers:
      - Authorization
`
	require.NoError(t, os.WriteFile(yamlFile, []byte(yamlContent), 0o600))

	// the environment takes precedence over the file
	require.NoError(t, os.Setenv("ANDRE_DISCORD_OWNER_ID", "43"))

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", yamlFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/srv/andre/users.db", cfg.Database)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel.Level())
	assert.Equal(t, "yaml-token", cfg.Discord.Token)
	assert.Equal(t, "43", cfg.Discord.OwnerID)
	assert.Equal(t, []string{"7"}, cfg.Discord.BirthdayBlacklist)
	assert.InDelta(t, 0.5, cfg.MAL.RequestsPerSecond, 0.0001)
	assert.False(t, cfg.Background.PreloadLists)
	assert.Equal(t, 6*time.Hour, cfg.Background.ListRefreshInterval)
	assert.Equal(t, []string{"Authorization"}, cfg.API.CORS.AllowHeaders)
	assert.Equal(t, andre.DefaultCORSAllowMethods, cfg.API.CORS.AllowMethods)
}

func TestLevelToStringHookFunc(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "WARN", want: slog.LevelWarn},
		{input: "ERROR", want: slog.LevelError},
		{input: "LOUD", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			var target struct {
				Level *slog.LevelVar `mapstructure:"level"`
			}
			decoder, err := mapstructure.NewDecoder(
				&mapstructure.DecoderConfig{
					DecodeHook: LevelToStringHookFunc(),
					Result:     &target,
				},
			)
			require.NoError(t, err)

			err = decoder.Decode(map[string]any{"level": tc.input})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, target.Level.Level())
		})
	}
}
