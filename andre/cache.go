package andre

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// malFetcher is the part of MALClient the list cache needs
type malFetcher interface {
	FetchList(ctx context.Context, username string, entity Entity) (*UserList, error)
	FetchAiring(ctx context.Context) ([]AiringAnime, error)
}

// ListFetchError is returned for a single member's failed download
type ListFetchError struct {
	Username string
	Entity   Entity
	Err      error
}

func (e *ListFetchError) Error() string {
	return fmt.Sprintf("Error getting %s's %slist: %v", e.Username, e.Entity, e.Err)
}

func (e *ListFetchError) Unwrap() error {
	return e.Err
}

type cachedList struct {
	list    *UserList
	fetched time.Time
}

// ListCache holds members' MAL lists and the airing schedule.
//
// Lists are fetched on demand and kept until Clear, Reload or the
// background refresh replaces them. When ttl is set, older entries
// are refetched on the next Get.
type ListCache struct {
	mal         malFetcher
	ttl         time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.RWMutex
	lists         map[Entity]map[string]cachedList
	airing        []AiringAnime
	airingFetched time.Time
	lastUpdate    time.Time
	// generation changes on Clear and Forget, so downloads started
	// before them don't store their result
	generation uint64

	group singleflight.Group
}

func NewListCache(
	mal malFetcher,
	ttl time.Duration,
	concurrency int,
	logger *slog.Logger,
) *ListCache {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	c := &ListCache{
		mal:         mal,
		ttl:         ttl,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
	c.reset()
	return c
}

func (c *ListCache) reset() {
	c.generation++
	c.lists = map[Entity]map[string]cachedList{}
	for _, e := range entities {
		c.lists[e] = map[string]cachedList{}
		cachedLists.WithLabelValues(string(e)).Set(0)
	}
	c.airing = nil
	c.airingFetched = time.Time{}
}

func (c *ListCache) expired(fetched time.Time) bool {
	return c.ttl > 0 && c.now().Sub(fetched) > c.ttl
}

func (c *ListCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// store caches list, unless the cache was cleared since generation
func (c *ListCache) store(username string, entity Entity, list *UserList, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.lists[entity][username] = cachedList{list: list, fetched: c.now()}
	c.lastUpdate = c.now()
	cachedLists.WithLabelValues(string(entity)).Set(float64(len(c.lists[entity])))
}

// Cached returns a list only if it's already cached
func (c *ListCache) Cached(username string, entity Entity) (*UserList, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.lists[entity][username]
	if !ok || c.expired(entry.fetched) {
		return nil, false
	}
	return entry.list, true
}

func listKey(username string, entity Entity) string {
	return string(entity) + "/" + username
}

// fetch downloads a list, sharing the request with concurrent callers
// for the same list
func (c *ListCache) fetch(ctx context.Context, username string, entity Entity) (*UserList, error) {
	ch := c.group.DoChan(
		listKey(username, entity), func() (any, error) {
			// not tied to the first caller, since other callers may be waiting
			fetchCtx := context.WithoutCancel(ctx)
			generation := c.currentGeneration()
			list, err := c.mal.FetchList(fetchCtx, username, entity)
			if err != nil {
				return nil, err
			}
			c.store(username, entity, list, generation)
			return list, nil
		},
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, &ListFetchError{Username: username, Entity: entity, Err: res.Err}
		}
		return res.Val.(*UserList), nil
	}
}

// Get returns the cached list, fetching it if needed
func (c *ListCache) Get(ctx context.Context, username string, entity Entity) (*UserList, error) {
	if list, ok := c.Cached(username, entity); ok {
		return list, nil
	}
	return c.fetch(ctx, username, entity)
}

// Reload refetches a list even if it's cached
func (c *ListCache) Reload(ctx context.Context, username string, entity Entity) (*UserList, error) {
	c.group.Forget(listKey(username, entity))
	return c.fetch(ctx, username, entity)
}

// cleanup drops lists of usernames that aren't registered anymore
func (c *ListCache) cleanup(usernames []string) {
	keep := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		keep[u] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for entity, lists := range c.lists {
		maps.DeleteFunc(
			lists, func(username string, _ cachedList) bool {
				_, ok := keep[username]
				return !ok
			},
		)
		cachedLists.WithLabelValues(string(entity)).Set(float64(len(lists)))
	}
}

// FetchAll makes sure every username has a cached list, and returns the
// cached lists. Lists of usernames not in usernames are dropped first.
// Per-user failures are returned as *ListFetchError, and don't stop
// other downloads. progress, if set, is called after each download
// with the number of lists loaded so far and the number of usernames.
func (c *ListCache) FetchAll(
	ctx context.Context,
	entity Entity,
	usernames []string,
	progress func(loaded, total int),
) (map[string]*UserList, []error) {
	c.cleanup(usernames)

	var missing []string
	for _, u := range usernames {
		if _, ok := c.Cached(u, entity); !ok {
			missing = append(missing, u)
		}
	}
	if len(missing) == 0 {
		return c.Lists(entity), nil
	}

	var (
		errMu  sync.Mutex
		errs   []error
		loaded atomic.Int64
	)

	g := errgroup.Group{}
	g.SetLimit(c.concurrency)
	for _, username := range missing {
		g.Go(
			func() error {
				if _, err := c.fetch(ctx, username, entity); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
					c.logger.WarnContext(
						ctx, "error fetching list",
						"username", username,
						"entity", entity,
						tint.Err(err),
					)
					return nil
				}
				n := loaded.Add(1)
				if progress != nil {
					progress(int(n), len(usernames))
				}
				return nil
			},
		)
	}
	_ = g.Wait()
	return c.Lists(entity), errs
}

// PreloadAll refetches every list of every username, then the airing
// schedule. A list that fails to download keeps its previous value.
func (c *ListCache) PreloadAll(ctx context.Context, usernames []string) error {
	c.cleanup(usernames)

	var failures atomic.Int64
	for _, entity := range entities {
		g := errgroup.Group{}
		g.SetLimit(c.concurrency)
		for _, username := range usernames {
			g.Go(
				func() error {
					if _, err := c.Reload(ctx, username, entity); err != nil {
						failures.Add(1)
						c.logger.WarnContext(
							ctx, "error preloading list",
							"username", username,
							"entity", entity,
							tint.Err(err),
						)
					}
					return nil
				},
			)
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if _, err := c.refreshAiring(ctx); err != nil {
		return fmt.Errorf("preloading airing: %w", err)
	}
	c.logger.InfoContext(
		ctx, "lists preloaded",
		"users", len(usernames),
		"failures", failures.Load(),
	)
	return nil
}

func (c *ListCache) refreshAiring(ctx context.Context) ([]AiringAnime, error) {
	ch := c.group.DoChan(
		"airing", func() (any, error) {
			generation := c.currentGeneration()
			airing, err := c.mal.FetchAiring(context.WithoutCancel(ctx))
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			if generation == c.generation {
				c.airing = airing
				c.airingFetched = c.now()
			}
			c.mu.Unlock()
			return airing, nil
		},
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]AiringAnime), nil
	}
}

// Airing returns the airing schedule, fetching it if needed
func (c *ListCache) Airing(ctx context.Context) ([]AiringAnime, error) {
	c.mu.RLock()
	airing, fetched := c.airing, c.airingFetched
	c.mu.RUnlock()
	if len(airing) > 0 && !c.expired(fetched) {
		return airing, nil
	}
	return c.refreshAiring(ctx)
}

// Lists returns a snapshot of the cached lists for entity
func (c *ListCache) Lists(entity Entity) map[string]*UserList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rv := make(map[string]*UserList, len(c.lists[entity]))
	for username, entry := range c.lists[entity] {
		if !c.expired(entry.fetched) {
			rv[username] = entry.list
		}
	}
	return rv
}

// Len returns the number of cached lists for entity
func (c *ListCache) Len(entity Entity) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lists[entity])
}

// LastUpdate is when a list was last stored
func (c *ListCache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Forget drops a username's lists
func (c *ListCache) Forget(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for entity, lists := range c.lists {
		delete(lists, username)
		cachedLists.WithLabelValues(string(entity)).Set(float64(len(lists)))
	}
}

// Clear empties the cache
func (c *ListCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.lastUpdate = time.Time{}
}
