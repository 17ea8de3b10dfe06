package andre

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUntilAvatarChange(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Hour, untilAvatarChange(now.Add(-22*time.Hour), now, 24*time.Hour))
	assert.Equal(t, time.Duration(0), untilAvatarChange(now.Add(-48*time.Hour), now, 24*time.Hour))
}

func TestAvatarFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "notes.txt", "c.gif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), testPNG, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o750))

	files, err := avatarFiles(dir)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.JPG"), filepath.Join(dir, "c.gif")},
		files,
	)

	_, err = avatarFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestAvatarDataURI(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg==", avatarDataURI(testPNG))
}

func TestRotateAvatar(t *testing.T) {
	t.Parallel()

	bot, session := newTestBot(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	bot.now = func() time.Time { return now }
	bot.config.Background.AvatarInterval = 24 * time.Hour

	dir := t.TempDir()
	bot.config.Discord.AvatarDir = dir
	assert.ErrorIs(t, bot.rotateAvatar(context.Background()), ErrNoAvatar)
	assert.Equal(t, time.Duration(0), bot.untilAvatarChange())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "andre.png"), testPNG, 0o600))
	require.NoError(t, bot.rotateAvatar(context.Background()))
	assert.Equal(t, []string{avatarDataURI(testPNG)}, session.Avatars())

	var changed int64
	ok, err := bot.properties.Read(propAvatarChangeTime, &changed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Unix(), changed)
	assert.Equal(t, 24*time.Hour, bot.untilAvatarChange())
}
