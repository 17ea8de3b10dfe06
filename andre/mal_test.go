package andre

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMAL serves load.json pages, the search/details/profile API and the
// airing schedule
type fakeMAL struct {
	lists    map[string][]map[string]any
	pageSize int
	requests atomic.Int64
	failures map[string]int
	airing   []map[string]any
}

func newFakeMAL() *fakeMAL {
	return &fakeMAL{lists: map[string][]map[string]any{}, pageSize: 2, failures: map[string]int{}}
}

func (f *fakeMAL) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasPrefix(path, "/list/"):
		// /list/{entity}list/{user}/load.json
		parts := strings.Split(strings.TrimPrefix(path, "/list/"), "/")
		key := parts[0] + "/" + parts[1]
		if status, ok := f.failures[parts[1]]; ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"errors":[{"message":"invalid request"}]}`))
			return
		}
		items, ok := f.lists[key]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"message":"invalid request"}]}`))
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := min(offset+f.pageSize, len(items))
		if offset > len(items) {
			offset = len(items)
		}
		_ = json.NewEncoder(w).Encode(items[offset:end])
	case strings.HasSuffix(path, "/search"):
		q := r.URL.Query().Get("q")
		if q == "nothing" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = fmt.Fprintf(w, `[{"id":1,"title":%q,"type":"TV","synopsis":"found"},{"id":2,"title":"second","type":"OVA"}]`, q)
	case strings.HasPrefix(path, "/api/profile/"):
		user := strings.TrimPrefix(path, "/api/profile/")
		if user == "ghost" {
			_, _ = w.Write([]byte(`{"error":"not-found"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"avatar_url":"https://img/%s.png"}`, user)
	case path == "/airing.json":
		_ = json.NewEncoder(w).Encode(f.airing)
	case strings.HasPrefix(path, "/api/anime/"):
		_, _ = w.Write([]byte(`{"id":5,"title":86,"synopsis":"<b>bold</b> &amp; <i>more</i><br>line","episodes":"12","members_score":8.5}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestMALClient(t testing.TB, fake *fakeMAL) *MALClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig().MAL
	cfg.ListURL = srv.URL + "/list/%slist/%s/load.json"
	cfg.APIURL = srv.URL + "/api"
	cfg.AiringURL = srv.URL + "/airing.json"
	cfg.PageSize = fake.pageSize
	cfg.RequestsPerSecond = 1000
	return NewMALClient(cfg, srv.Client(), nil)
}

func animeEntry(id int, title string, status int, score int, watched int) map[string]any {
	return map[string]any{
		"anime_id":                id,
		"anime_title":             title,
		"anime_image_path":        "https://cdn.myanimelist.net/r/96x136/images/anime/" + strconv.Itoa(id) + ".jpg",
		"anime_media_type_string": "TV",
		"anime_num_episodes":      12,
		"anime_airing_status":     2,
		"status":                  status,
		"num_watched_episodes":    watched,
		"score":                   score,
		"start_date_string":       "04-12-19",
		"finish_date_string":      "",
		"updated_at":              1600000000 + id,
	}
}

func TestMALClient_FetchList(t *testing.T) {
	t.Parallel()
	fake := newFakeMAL()
	fake.lists["animelist/alice"] = []map[string]any{
		animeEntry(1, "Clannad", 2, 10, 23),
		animeEntry(2, "Sword Art Online", 4, 3, 5),
		animeEntry(3, "Steins;Gate", 6, 0, 0),
	}
	fake.lists["mangalist/alice"] = []map[string]any{
		{
			"manga_id":                7,
			"manga_title":             1984,
			"manga_num_chapters":      "0",
			"manga_num_volumes":       3,
			"manga_publishing_status": 1,
			"status":                  1,
			"num_read_chapters":       10,
			"num_read_volumes":        2,
			"score":                   8,
		},
	}
	mal := newTestMALClient(t, fake)
	ctx := context.Background()

	list, err := mal.FetchList(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	assert.Equal(t, int64(2), fake.requests.Load(), "3 items with a page size of 2 is 2 pages")

	first := list.Items[0]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, "Clannad", first.Title)
	assert.Equal(t, "https://cdn.myanimelist.net/images/anime/1.jpg", first.ImageURL)
	assert.Equal(t, statusCompleted, first.Status)
	assert.Equal(t, "finished airing", first.SeriesStatus)
	assert.Equal(t, 23, first.Progress)
	assert.Equal(t, 10, first.Score)
	assert.Equal(t, "2019-04-12", first.Started)
	assert.Empty(t, first.Finished)
	assert.Equal(t, statusDropped, list.Items[1].Status)
	assert.Equal(t, statusPlanToWatch, list.Items[2].Status)

	manga, err := mal.FetchList(ctx, "alice", EntityManga)
	require.NoError(t, err)
	require.Len(t, manga.Items, 1)
	assert.Equal(t, "1984", manga.Items[0].Title)
	assert.Equal(t, statusReading, manga.Items[0].Status)
	assert.Equal(t, "publishing", manga.Items[0].SeriesStatus)
	assert.Equal(t, 10, manga.Items[0].Progress)
	assert.Equal(t, 2, manga.Items[0].VolumesRead)
	assert.Equal(t, 3, manga.Items[0].Volumes)
}

func TestMALClient_FetchListError(t *testing.T) {
	t.Parallel()
	mal := newTestMALClient(t, newFakeMAL())

	_, err := mal.FetchList(context.Background(), "nobody", EntityAnime)
	var apiErr *MALAPIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "invalid request", apiErr.Message)
}

func TestMALClient_API(t *testing.T) {
	t.Parallel()
	fake := newFakeMAL()
	fake.airing = []map[string]any{
		{"mal_id": "1", "airing": []map[string]any{{"n": 1, "t": 100}, {"n": 2, "t": 200}}},
	}
	mal := newTestMALClient(t, fake)
	ctx := context.Background()

	results, err := mal.Search(ctx, EntityAnime, "clannad after story")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "clannad after story", string(results[0].Title))

	results, err = mal.Search(ctx, EntityAnime, "nothing")
	require.NoError(t, err)
	assert.Empty(t, results)

	entry, err := mal.Details(ctx, EntityAnime, 5)
	require.NoError(t, err)
	assert.Equal(t, "86", string(entry.Title))
	assert.Equal(t, 12, int(entry.Episodes))
	require.NotNil(t, entry.MembersScore)
	assert.InDelta(t, 8.5, *entry.MembersScore, 0.001)
	assert.Equal(t, "https://myanimelist.net/anime/5", entry.URL(EntityAnime))

	before := fake.requests.Load()
	_, err = mal.Details(ctx, EntityAnime, 5)
	require.NoError(t, err)
	assert.Equal(t, before, fake.requests.Load(), "details should be cached")

	avatar, err := mal.ProfilePicture(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "https://img/alice.png", avatar)

	_, err = mal.ProfilePicture(ctx, "ghost")
	assert.EqualError(t, err, "not-found")

	airing, err := mal.FetchAiring(ctx)
	require.NoError(t, err)
	require.Len(t, airing, 1)
	assert.Equal(t, 1, int(airing[0].MALID))
	assert.Len(t, airing[0].Episodes, 2)
}

func TestDecodeMAL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "list", body: `[{"id":1}]`},
		{name: "error", body: `{"error":"bad user"}`, wantErr: "bad user"},
		{name: "errors", body: `{"errors":[{"message":"first"},{"message":"second"}]}`, wantErr: "first"},
		{name: "garbage", body: `<html>`, wantErr: "Could not read data"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var dst []Entry
			err := decodeMAL([]byte(tc.body), &dst)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSynopsisText(t *testing.T) {
	t.Parallel()
	s := synopsisText("<b>Tomoya</b> &amp; Nagisa<br/>meet   at <i>school</i>.", 0)
	assert.Equal(t, "Tomoya & Nagisa meet at school.", s)

	s = synopsisText("abcdefghij", 4)
	assert.Equal(t, "abcd...", s)
}

func TestNormalizeMALDate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2019-04-12", normalizeMALDate("04-12-19"))
	assert.Equal(t, "2019-12-31", normalizeMALDate("31-12-19"))
	assert.Equal(t, "2020-01-02", normalizeMALDate("2020-01-02"))
	assert.Empty(t, normalizeMALDate("00-00-00"))
	assert.Empty(t, normalizeMALDate(""))
}

func TestFullSizeImage(t *testing.T) {
	t.Parallel()
	assert.Equal(
		t,
		"https://cdn.myanimelist.net/images/manga/3/1.jpg",
		fullSizeImage("https://cdn.myanimelist.net/r/96x136/images/manga/3/1.jpg"),
	)
	assert.Equal(
		t,
		"https://cdn.myanimelist.net/images/anime/1.jpg",
		fullSizeImage("https://cdn.myanimelist.net/images/anime/1.jpg"),
	)
	assert.Empty(t, fullSizeImage(""))
}

func TestEntity_NormalizeStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		entity Entity
		input  string
		status string
		ok     bool
	}{
		{EntityAnime, "ptw", statusPlanToWatch, true},
		{EntityAnime, "On Hold", statusOnHold, true},
		{EntityAnime, "all", "", true},
		{EntityAnime, "reading", statusReading, false},
		{EntityManga, "planned", statusPlanToRead, true},
		{EntityManga, "reading", statusReading, true},
		{EntityManga, "bogus", "", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.entity)+"/"+tc.input, func(t *testing.T) {
			t.Parallel()
			status, ok := tc.entity.normalizeStatus(tc.input)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.status, status)
			}
		})
	}
}
