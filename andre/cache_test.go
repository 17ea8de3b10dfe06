package andre

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu       sync.Mutex
	lists    map[string]*UserList
	calls    map[string]int
	airing   []AiringAnime
	airingN  atomic.Int64
	delay    time.Duration
	gate     chan struct{}
	inflight atomic.Int64
	peak     atomic.Int64
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{lists: map[string]*UserList{}, calls: map[string]int{}}
}

func (s *stubFetcher) set(username string, entity Entity, items ...ListItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[listKey(username, entity)] = &UserList{Items: items}
}

func (s *stubFetcher) callCount(username string, entity Entity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[listKey(username, entity)]
}

func (s *stubFetcher) FetchList(_ context.Context, username string, entity Entity) (*UserList, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := listKey(username, entity)
	s.calls[key]++
	list, ok := s.lists[key]
	if !ok {
		return nil, &MALAPIError{Message: "invalid request"}
	}
	return list, nil
}

func (s *stubFetcher) FetchAiring(context.Context) ([]AiringAnime, error) {
	s.airingN.Add(1)
	return s.airing, nil
}

func TestListCache_GetSharesFetches(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.delay = 50 * time.Millisecond
	f.set("alice", EntityAnime, ListItem{ID: 1, Title: "Clannad"})
	c := NewListCache(f, 0, 4, nil)
	ctx := context.Background()

	wg := sync.WaitGroup{}
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := c.Get(ctx, "alice", EntityAnime)
			assert.NoError(t, err)
			assert.Len(t, list.Items, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.callCount("alice", EntityAnime))

	_, err := c.Get(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	assert.Equal(t, 1, f.callCount("alice", EntityAnime))

	_, err = c.Reload(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	assert.Equal(t, 2, f.callCount("alice", EntityAnime))
}

func TestListCache_GetError(t *testing.T) {
	t.Parallel()
	c := NewListCache(newStubFetcher(), 0, 1, nil)

	_, err := c.Get(context.Background(), "ghost", EntityManga)
	var fetchErr *ListFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "Error getting ghost's mangalist: invalid request", err.Error())
	assert.Equal(t, 0, c.Len(EntityManga))
}

func TestListCache_FetchAll(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.delay = 20 * time.Millisecond
	users := []string{"a", "b", "c", "d", "e"}
	for _, u := range users {
		f.set(u, EntityAnime, ListItem{ID: 1})
	}
	f.set("stale", EntityAnime, ListItem{ID: 2})

	c := NewListCache(f, 0, 2, nil)
	ctx := context.Background()
	_, err := c.Get(ctx, "stale", EntityAnime)
	require.NoError(t, err)
	_, err = c.Get(ctx, "a", EntityAnime)
	require.NoError(t, err)

	var progressMu sync.Mutex
	var progress []int
	lists, errs := c.FetchAll(
		ctx, EntityAnime, append(users, "ghost"), func(loaded, total int) {
			progressMu.Lock()
			defer progressMu.Unlock()
			assert.Equal(t, 6, total)
			progress = append(progress, loaded)
		},
	)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "Error getting ghost's animelist")
	assert.Len(t, lists, 5)
	assert.NotContains(t, lists, "stale")

	sort.Ints(progress)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Equal(t, 1, f.callCount("a", EntityAnime), "cached list should not be refetched")
	assert.LessOrEqual(t, f.peak.Load(), int64(2))

	_, errs = c.FetchAll(ctx, EntityAnime, users, nil)
	assert.Empty(t, errs)
	assert.Equal(t, 1, f.callCount("b", EntityAnime))
}

func TestListCache_TTL(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.set("alice", EntityAnime, ListItem{ID: 1})
	c := NewListCache(f, time.Hour, 1, nil)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Get(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	_, ok := c.Cached("alice", EntityAnime)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = c.Cached("alice", EntityAnime)
	assert.False(t, ok)
	assert.Empty(t, c.Lists(EntityAnime))

	_, err = c.Get(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	assert.Equal(t, 2, f.callCount("alice", EntityAnime))
}

func TestListCache_PreloadAndClear(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.airing = []AiringAnime{{MALID: 1}}
	f.set("alice", EntityAnime, ListItem{ID: 1})
	f.set("alice", EntityManga, ListItem{ID: 2})
	f.set("bob", EntityAnime, ListItem{ID: 3})
	c := NewListCache(f, 0, 2, nil)
	ctx := context.Background()

	require.NoError(t, c.PreloadAll(ctx, []string{"alice", "bob"}))
	assert.Equal(t, 2, c.Len(EntityAnime))
	assert.Equal(t, 1, c.Len(EntityManga))
	assert.False(t, c.LastUpdate().IsZero())

	airing, err := c.Airing(ctx)
	require.NoError(t, err)
	assert.Len(t, airing, 1)
	assert.Equal(t, int64(1), f.airingN.Load())

	c.Forget("bob")
	assert.Equal(t, 1, c.Len(EntityAnime))

	c.Clear()
	assert.Equal(t, 0, c.Len(EntityAnime))
	assert.Equal(t, 0, c.Len(EntityManga))

	_, err = c.Airing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.airingN.Load())
}

func TestListCache_ClearDuringFetch(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.set("alice", EntityAnime, ListItem{ID: 1})
	f.gate = make(chan struct{})
	c := NewListCache(f, 0, 1, nil)
	ctx := context.Background()

	done := make(chan *UserList, 1)
	go func() {
		list, err := c.Get(ctx, "alice", EntityAnime)
		assert.NoError(t, err)
		done <- list
	}()
	require.Eventually(t, func() bool { return f.inflight.Load() == 1 }, time.Second, time.Millisecond)

	c.Clear()
	close(f.gate)

	list := <-done
	require.NotNil(t, list)
	assert.Len(t, list.Items, 1)
	_, cached := c.Cached("alice", EntityAnime)
	assert.False(t, cached)
	assert.Equal(t, 0, c.Len(EntityAnime))

	_, err := c.Get(ctx, "alice", EntityAnime)
	require.NoError(t, err)
	_, cached = c.Cached("alice", EntityAnime)
	assert.True(t, cached)
	assert.Equal(t, 2, f.callCount("alice", EntityAnime))
}
