package andre

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, "users.db")
	cfg.DataDir = filepath.Join(tmpdir, "data")
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.Discord.Token = "test-token"
	cfg.Discord.OwnerID = testOwnerID
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.GeneralChannelID = testGeneralChannelID
	cfg.Discord.AvatarDir = filepath.Join(tmpdir, "avatars")
	cfg.Background.PreloadLists = false
	cfg.Background.Birthday = false

	certfile := filepath.Join(tmpdir, "cert.pem")
	keyfile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certfile, keyfile)
	require.NoError(t, err)

	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Development = true
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.SSL.Cert = certfile
	cfg.API.SSL.Key = keyfile
	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.MAL.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:   "test config",
			modify: func(*Config) {},
		},
		{
			name:    "missing token",
			modify:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
		},
		{
			name:    "missing owner",
			modify:  func(c *Config) { c.Discord.OwnerID = "" },
			wantErr: true,
		},
		{
			name:    "bad database type",
			modify:  func(c *Config) { c.DatabaseType = "mysql" },
			wantErr: true,
		},
		{
			name:    "empty prefix",
			modify:  func(c *Config) { c.Discord.CommandPrefix = "" },
			wantErr: true,
		},
		{
			name:    "short session max age",
			modify:  func(c *Config) { c.API.SessionMaxAge = time.Minute },
			wantErr: true,
		},
		{
			name: "short session max age with api disabled",
			modify: func(c *Config) {
				c.API.Enabled = false
				c.API.SessionMaxAge = time.Minute
			},
		},
		{
			name:    "cert without key",
			modify:  func(c *Config) { c.API.SSL.Key = "" },
			wantErr: true,
		},
		{
			name:    "negative lock hold",
			modify:  func(c *Config) { c.Background.LockMaxHold = -time.Second },
			wantErr: true,
		},
		{
			name: "avatar loop too fast",
			modify: func(c *Config) {
				c.Background.Avatar = true
				c.Background.AvatarInterval = time.Second
			},
			wantErr: true,
		},
		{
			name:    "bad birthday hour",
			modify:  func(c *Config) { c.Background.BirthdayHour = 24 },
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultTestConfig(t)
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_LogValueRedacts(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.Discord.Token = "super-secret-token"

	v := cfg.LogValue()
	require.Equal(t, slog.KindGroup, v.Kind())

	rendered := v.String()
	assert.NotContains(t, rendered, "super-secret-token")
	assert.NotContains(t, rendered, cfg.API.Secret)
	assert.Contains(t, rendered, "[redacted]")
}

func TestConfig_Paths(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/andre"
	assert.Equal(t, "/srv/andre/properties.json", cfg.PropertiesFile())
	assert.Equal(t, "/srv/andre/backup", cfg.BackupDir())
}
