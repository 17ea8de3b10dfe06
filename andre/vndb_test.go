package andre

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVNDBClient(t *testing.T, handler http.HandlerFunc) *VNDBClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig().VNDB
	cfg.APIURL = srv.URL + "/kana/"
	cfg.RequestsPerSecond = 1000
	return NewVNDBClient(cfg, srv.Client(), nil)
}

func TestVNDBClient_VNs(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	var mu sync.Mutex
	var lastQuery vndbQuery
	client := newTestVNDBClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/kana/vn", r.URL.Path)
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			mu.Lock()
			assert.NoError(t, json.Unmarshal(body, &lastQuery))
			mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"results":[{"id":"v17","title":"Ever17","length":4,"rating":86.5}],"more":false}`))
		},
	)

	ctx := context.Background()
	filters := vndbFilter("v", "17")
	vns, err := client.VNs(ctx, filters, vnFieldsBasic, 1)
	require.NoError(t, err)
	require.Len(t, vns, 1)
	assert.Equal(t, "v17", vns[0].ID)
	assert.Equal(t, "Ever17", vns[0].Title)
	mu.Lock()
	assert.Equal(t, vnFieldsBasic, lastQuery.Fields)
	assert.Equal(t, 1, lastQuery.Results)
	assert.Equal(t, []any{"id", "=", "v17"}, lastQuery.Filters)
	mu.Unlock()

	_, err = client.VNs(ctx, filters, vnFieldsBasic, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requests.Load(), "second query is cached")

	client.Clear()
	_, err = client.VNs(ctx, filters, vnFieldsBasic, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}

func TestVNDBClient_Characters_BadResponse(t *testing.T) {
	t.Parallel()

	client := newTestVNDBClient(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	)
	_, err := client.Characters(context.Background(), vndbFilter("c", "Kurisu"), charFieldsBasic, 1)
	assert.ErrorIs(t, err, ErrCouldNotReadData)
}

func TestVNDBFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []any
	}{
		{input: "17", want: []any{"id", "=", "v17"}},
		{input: "V17", want: []any{"id", "=", "v17"}},
		{input: `"Steins;Gate"`, want: []any{"search", "=", "Steins;Gate"}},
		{input: " muv luv ", want: []any{"search", "=", "muv luv"}},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, vndbFilter("v", tc.input))
		})
	}
}

func TestExtractVNDBOptions(t *testing.T) {
	t.Parallel()

	rest, opts := extractVNDBOptions("muv luv +spoil +tags=regular,nsfw alternative")
	assert.Equal(t, "muv luv alternative", rest)
	assert.True(t, opts.Spoil)
	assert.True(t, opts.Tags)
	assert.False(t, opts.Traits)
	assert.Equal(t, []string{"cont", "ero"}, opts.TagCategories)

	rest, opts = extractVNDBOptions("  Ever17 ")
	assert.Equal(t, "Ever17", rest)
	assert.Equal(t, vndbOptions{TagCategories: []string{"cont"}}, opts)
}

func TestPurgeBBCode(t *testing.T) {
	t.Parallel()

	input := "See [url=/c1]Kurisu[/url]. [spoiler]She lives[/spoiler] [b]bold[/b]"
	assert.Equal(t, "See **Kurisu**. ~~spoiler~~ bold", purgeBBCode(input, false))
	assert.Equal(t, "See **Kurisu**. *She lives* bold", purgeBBCode(input, true))
}

func TestDisplayTags(t *testing.T) {
	t.Parallel()

	tags := []VNTag{
		{Name: "Time Travel", Category: "cont", Rating: 2.5},
		{Name: "Sexual Content", Category: "ero", Rating: 2.9},
		{Name: "Twist Ending", Category: "cont", Rating: 2.9, Spoiler: 2},
		{Name: "ADV", Category: "tech", Rating: 3},
		{Name: "Science Fiction", Category: "cont", Rating: 2.8},
	}

	assert.Equal(
		t,
		[]string{"Science Fiction", "Time Travel"},
		displayTags(tags, vndbOptions{TagCategories: []string{"cont"}}),
	)
	assert.Equal(
		t,
		[]string{"ADV", "Sexual Content", "Twist Ending", "Science Fiction", "Time Travel"},
		displayTags(tags, vndbOptions{Spoil: true, TagCategories: []string{"cont", "ero", "tech"}}),
	)
}

func TestDisplayTraits(t *testing.T) {
	t.Parallel()

	traits := []VNTrait{
		{Name: "Red", GroupName: "Hair"},
		{Name: "Tsundere", GroupName: "Personality"},
		{Name: "Long", GroupName: "Hair"},
		{Name: "Secret", GroupName: "Role", Spoiler: 1},
		{Name: "Odd"},
	}
	assert.Equal(
		t,
		"**Hair**: Red, Long\n**Personality**: Tsundere\n**Unknown**: Odd",
		displayTraits(traits, false),
	)
	assert.Contains(t, displayTraits(traits, true), "**Role**: Secret")
}

func TestCharacterBirthday(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "14 December", characterBirthday([]int{14, 12}))
	assert.Equal(t, " March", characterBirthday([]int{0, 3}))
	assert.Equal(t, "Unknown", characterBirthday(nil))
	assert.Equal(t, "3 ?", characterBirthday([]int{3, 13}))
}

func TestVNDBHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Long (30 - 50 hours)", gameLength(4))
	assert.Equal(t, "Unknown", gameLength(0))
	assert.Equal(t, "♀", genderSymbol([]string{"f", "f"}))
	assert.Equal(t, "?", genderSymbol(nil))
	assert.Equal(
		t,
		"Height: 160cm\nBust-Waist-Hips: 84-56-83cm",
		measurements(&VNCharacter{Height: 160, Bust: 84, Waist: 56, Hips: 83}),
	)
	assert.Equal(t, "**a**: v1\n**b**: Ever17\n", vndbAliasList(map[string]string{"b": "Ever17", "a": "v1"}))
}
