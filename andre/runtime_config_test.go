package andre

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeConfigUpdateKeys(t *testing.T) {
	t.Parallel()

	runtimeConfigType := reflect.TypeOf(RuntimeConfig{})
	runtimeConfigFields := make(map[string]bool)
	for i := 0; i < runtimeConfigType.NumField(); i++ {
		jsonTag, _, _ := strings.Cut(runtimeConfigType.Field(i).Tag.Get("json"), ",")
		if jsonTag != "" && jsonTag != "-" {
			runtimeConfigFields[jsonTag] = true
		}
	}

	updateType := reflect.TypeOf(RuntimeConfigUpdate{})
	for i := 0; i < updateType.NumField(); i++ {
		jsonTag, _, _ := strings.Cut(updateType.Field(i).Tag.Get("json"), ",")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		assert.Truef(
			t,
			runtimeConfigFields[jsonTag],
			"field %s in RuntimeConfigUpdate is not present in RuntimeConfig",
			jsonTag,
		)
	}
}

func TestRuntimeConfigUpdate_Validate(t *testing.T) {
	t.Parallel()

	good := DBLogLevelDebug
	bad := DBLogLevel("VERBOSE")
	paused := true

	tests := []struct {
		name    string
		update  RuntimeConfigUpdate
		wantErr bool
		columns map[string]any
	}{
		{
			name:    "empty",
			update:  RuntimeConfigUpdate{},
			columns: map[string]any{},
		},
		{
			name:   "valid level",
			update: RuntimeConfigUpdate{MALLogLevel: &good, Paused: &paused},
			columns: map[string]any{
				"mal_log_level": good,
				"paused":        true,
			},
		},
		{
			name:    "invalid level",
			update:  RuntimeConfigUpdate{LogLevel: &bad},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.update.validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.columns, tc.update.columns())
		})
	}
}

func TestRuntimeConfig_ApplyLogLevels(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	rc := DefaultRuntimeConfig()
	rc.LogLevel = DBLogLevelDebug
	rc.MALLogLevel = DBLogLevelError
	rc.APILogLevel = ""

	rc.ApplyLogLevels(cfg)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.MAL.LogLevel.Level())
	assert.Equal(t, DefaultAPILogLevel, cfg.API.LogLevel.Level())
}

func TestLoadRuntimeConfig(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := LoadRuntimeConfig(ctx, db)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	assert.True(t, first.InlineCommandsEnabled)

	require.NoError(t, db.Model(first).Update("paused", true).Error)

	second, err := LoadRuntimeConfig(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Paused)

	var count int64
	require.NoError(t, db.Model(&RuntimeConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRuntimeConfig_Presence(t *testing.T) {
	t.Parallel()
	rc := DefaultRuntimeConfig()
	assert.Equal(t, string(discordgo.StatusOnline), rc.presence().Status)

	rc.Paused = true
	p := rc.presence()
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), p.Status)
	assert.True(t, p.AFK)
}
