package andre

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProperties(t testing.TB) *Properties {
	t.Helper()
	return NewProperties(filepath.Join(t.TempDir(), "data", "properties.json"))
}

func TestProperties_ReadMissingFile(t *testing.T) {
	t.Parallel()
	p := newTestProperties(t)

	var v string
	ok, err := p.Read(propMALEmbedTemplate, &v)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := p.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestProperties_WriteRead(t *testing.T) {
	t.Parallel()
	p := newTestProperties(t)

	require.NoError(t, p.Write(propBanlist, map[string]int{"123": 1}))
	require.NoError(t, p.Write(propStatusRotation, true))

	var bans map[string]int
	ok, err := p.Read(propBanlist, &bans)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"123": 1}, bans)
	assert.True(t, p.readBool(propStatusRotation, false))
	assert.True(t, p.readBool(propRestarting, true))

	require.NoError(t, p.WriteMany(map[string]any{
		propStatusRotation: nil,
		propRestarting:     false,
	}))
	all, err := p.All()
	require.NoError(t, err)
	assert.NotContains(t, all, propStatusRotation)
	assert.Contains(t, all, propRestarting)
	assert.Contains(t, all, propBanlist)

	require.NoError(t, p.Delete(propBanlist))
	ok, err = p.Read(propBanlist, &bans)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProperties_InvalidFile(t *testing.T) {
	t.Parallel()
	p := newTestProperties(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0o750))
	require.NoError(t, os.WriteFile(p.Path(), []byte("{not json"), 0o600))

	var v string
	_, err := p.Read(propMALEmbedTemplate, &v)
	assert.Error(t, err)
	assert.Error(t, p.Write(propMALEmbedTemplate, "x"))
}

func TestProperties_ConcurrentWrites(t *testing.T) {
	t.Parallel()
	p := newTestProperties(t)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	wg := sync.WaitGroup{}
	for i, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Write(k, i))
		}()
	}
	wg.Wait()

	all, err := p.All()
	require.NoError(t, err)
	assert.Len(t, all, len(keys))

	entries, err := os.ReadDir(filepath.Dir(p.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should be cleaned up")
}
