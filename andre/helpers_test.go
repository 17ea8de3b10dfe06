package andre

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceMaxSize(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "shorter than limit",
			input:    "Short string",
			limit:    20,
			expected: "Short string",
		},
		{
			name:     "exactly at limit",
			input:    "12345",
			limit:    5,
			expected: "12345",
		},
		{
			name:     "over limit",
			input:    "abcdefghijklmnop",
			limit:    10,
			expected: "abcde[...]",
		},
		{
			name:     "limit smaller than suffix",
			input:    "abcdefghijklmnop",
			limit:    3,
			expected: "abc",
		},
		{
			name:     "multibyte",
			input:    "ééééééééééé",
			limit:    8,
			expected: "ééé[...]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, forceMaxSize(tc.input, tc.limit))
		})
	}
}

func TestTitleCase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Plan To Watch", titleCase("plan to watch"))
}

func TestDiscordgoLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level    slog.Level
		expected int
	}{
		{slog.LevelDebug, discordgo.LogDebug},
		{slog.LevelInfo, discordgo.LogInformational},
		{slog.LevelWarn, discordgo.LogWarning},
		{slog.LevelError, discordgo.LogError},
	}
	for _, tc := range tests {
		t.Run(tc.level.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, discordgoLevel(tc.level))
			assert.Equal(t, tc.level, discordGoLogLevels[tc.expected])
		})
	}
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logFunc := discordgoLoggerFunc(context.Background(), handler)

	logFunc(discordgo.LogInformational, 0, "ignored %s", "message")
	assert.Empty(t, buf.String())

	logFunc(discordgo.LogError, 0, "heartbeat\nfailed: %d", 42)
	out := buf.String()
	assert.Contains(t, out, "heartbeatfailed: 42")
	assert.Contains(t, out, "logger=discordgo")
	assert.Contains(t, out, "level=ERROR")
}

func TestDBLogLevel(t *testing.T) {
	t.Parallel()

	var l DBLogLevel
	require.NoError(t, l.Set("warning"))
	assert.Equal(t, DBLogLevelWarn, l)
	assert.Equal(t, slog.LevelWarn, l.Level())

	require.NoError(t, l.Scan([]byte("debug")))
	assert.Equal(t, slog.LevelDebug, l.Level())

	require.Error(t, l.Scan(42))
	require.Error(t, l.Set("verbose"))

	b, err := DBLogLevelError.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"ERROR"`, string(b))

	require.NoError(t, l.UnmarshalJSON([]byte(`"info"`)))
	assert.Equal(t, DBLogLevelInfo, l)
}

func TestHashPasswordAndVerify(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		password string
	}{
		{"Simple password", "password123"},
		{"Complex password", "C0mpl3x!P@ssw0rd"},
		{"Empty password", ""},
		{"Unicode password", "пароль123"},
		{"Very long password", strings.Repeat("a", 1000)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			hash, err := HashPassword(tc.password)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m="))

			valid, err := VerifyPassword(hash, tc.password)
			require.NoError(t, err)
			assert.True(t, valid)

			valid, err = VerifyPassword(hash, tc.password+"wrong")
			require.NoError(t, err)
			assert.False(t, valid)
		})
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	t.Parallel()
	invalidHashes := []string{
		"not a valid hash",
		"$argon2id$v=19$m=65536,t=1,p=4$invalid!base64$invalid!base64",
		"$argon2id$v=19$m=invalid,t=1,p=4$c29tZXNhbHQ$c29tZWhhc2g",
	}

	for _, invalidHash := range invalidHashes {
		t.Run(invalidHash, func(t *testing.T) {
			t.Parallel()
			_, err := VerifyPassword(invalidHash, "anypassword")
			assert.Error(t, err)
		})
	}
}

func TestHashPassword_Uniqueness(t *testing.T) {
	t.Parallel()
	hash1, err := HashPassword("samepassword")
	require.NoError(t, err)
	hash2, err := HashPassword("samepassword")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	s, err := generateRandomHexString(15)
	require.NoError(t, err)
	assert.Len(t, s, 16)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
}
