package andre

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
)

// RuntimeConfig holds settings that can be changed while the bot is
// running, through the admin API, and are persisted across restarts.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused makes the bot ignore commands from everyone but the owner,
	// and shows it as 'do not disturb'.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// InlineCommandsEnabled toggles `!!command` parsing in regular messages
	InlineCommandsEnabled bool `json:"inline_commands_enabled" gorm:"not null;default:true"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword is the argon2id hash of the admin API password
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	LogLevel          DBLogLevel `gorm:"default:INFO;type:string" json:"log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `gorm:"default:WARN;type:string" json:"discord_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `gorm:"default:WARN;column:discordgo_log_level;type:string" json:"discordgo_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `gorm:"default:WARN;type:string" json:"database_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       DBLogLevel `gorm:"default:INFO;type:string" json:"api_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	MALLogLevel       DBLogLevel `gorm:"default:INFO;column:mal_log_level;type:string" json:"mal_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		InlineCommandsEnabled: true,
		LogLevel:              DBLogLevel(DefaultLogLevel.String()),
		DiscordLogLevel:       DBLogLevel(DefaultDiscordLogLevel.String()),
		DiscordGoLogLevel:     DBLogLevel(DefaultDiscordgoLogLevel.String()),
		DatabaseLogLevel:      DBLogLevel(DefaultDatabaseLogLevel.String()),
		APILogLevel:           DBLogLevel(DefaultAPILogLevel.String()),
		MALLogLevel:           DBLogLevel(DefaultMALLogLevel.String()),
	}
}

// ApplyLogLevels sets the config's LevelVars to the runtime log levels
func (r RuntimeConfig) ApplyLogLevels(cfg *Config) {
	set := func(lv *slog.LevelVar, l DBLogLevel) {
		if lv != nil && l != "" {
			lv.Set(l.Level())
		}
	}
	set(cfg.LogLevel, r.LogLevel)
	set(cfg.DatabaseLogLevel, r.DatabaseLogLevel)
	if cfg.Discord != nil {
		set(cfg.Discord.LogLevel, r.DiscordLogLevel)
		set(cfg.Discord.DiscordGoLogLevel, r.DiscordGoLogLevel)
	}
	if cfg.API != nil {
		set(cfg.API.LogLevel, r.APILogLevel)
	}
	if cfg.MAL != nil {
		set(cfg.MAL.LogLevel, r.MALLogLevel)
	}
}

// LoadRuntimeConfig returns the first RuntimeConfig row, creating a
// default one when the table is empty
func LoadRuntimeConfig(ctx context.Context, db *gorm.DB) (*RuntimeConfig, error) {
	var cfg RuntimeConfig
	err := db.WithContext(ctx).Order("id").First(&cfg).Error
	switch {
	case err == nil:
		return &cfg, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg = DefaultRuntimeConfig()
		if err = db.WithContext(ctx).Create(&cfg).Error; err != nil {
			return nil, fmt.Errorf("creating runtime config: %w", err)
		}
		return &cfg, nil
	default:
		return nil, fmt.Errorf("loading runtime config: %w", err)
	}
}

// RuntimeConfigUpdate is the PATCH /api/config payload. Nil fields
// are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused                *bool `json:"paused,omitempty"`
	InlineCommandsEnabled *bool `json:"inline_commands_enabled,omitempty"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	MALLogLevel       *DBLogLevel `json:"mal_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

// columns returns the changed columns and their new values
func (b RuntimeConfigUpdate) columns() map[string]any {
	updates := map[string]any{}
	if b.Paused != nil {
		updates["paused"] = *b.Paused
	}
	if b.InlineCommandsEnabled != nil {
		updates["inline_commands_enabled"] = *b.InlineCommandsEnabled
	}
	levels := map[string]*DBLogLevel{
		"log_level":           b.LogLevel,
		"discord_log_level":   b.DiscordLogLevel,
		"discordgo_log_level": b.DiscordGoLogLevel,
		"database_log_level":  b.DatabaseLogLevel,
		"api_log_level":       b.APILogLevel,
		"mal_log_level":       b.MALLogLevel,
	}
	for col, l := range levels {
		if l != nil {
			updates[col] = *l
		}
	}
	return updates
}

// apply sets the non-nil fields on rc
func (b RuntimeConfigUpdate) apply(rc *RuntimeConfig) {
	if b.Paused != nil {
		rc.Paused = *b.Paused
	}
	if b.InlineCommandsEnabled != nil {
		rc.InlineCommandsEnabled = *b.InlineCommandsEnabled
	}
	levels := []struct {
		dst *DBLogLevel
		src *DBLogLevel
	}{
		{&rc.LogLevel, b.LogLevel},
		{&rc.DiscordLogLevel, b.DiscordLogLevel},
		{&rc.DiscordGoLogLevel, b.DiscordGoLogLevel},
		{&rc.DatabaseLogLevel, b.DatabaseLogLevel},
		{&rc.APILogLevel, b.APILogLevel},
		{&rc.MALLogLevel, b.MALLogLevel},
	}
	for _, l := range levels {
		if l.src != nil {
			*l.dst = *l.src
		}
	}
}

// presence returns the gateway status matching the runtime config
func (r RuntimeConfig) presence() discordgo.UpdateStatusData {
	if r.Paused {
		return discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.UpdateStatusData{Status: string(discordgo.StatusOnline)}
}
