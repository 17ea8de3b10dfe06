package andre

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"strings"
)

const (
	maxScore = 10

	// minAffinityScores is the number of shared scores affinity needs,
	// exclusive
	minAffinityScores = 10
)

var (
	ErrEmptySeries      = errors.New("empty or mismatched series")
	ErrZeroVariance     = errors.New("series has no variance")
	ErrNotEnoughScores  = errors.New("not enough shared scores")
	ErrUnknownSortOrder = errors.New("unknown sort order")
)

func mean(x []float64) float64 {
	total := 0.0
	for _, v := range x {
		total += v
	}
	return total / float64(len(x))
}

// Pearson returns the population correlation coefficient of x and y
func Pearson(x, y []float64) (float64, error) {
	if len(x) == 0 || len(x) != len(y) {
		return 0, ErrEmptySeries
	}
	mx, my := mean(x), mean(y)
	var num, sx, sy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		num += dx * dy
		sx += dx * dx
		sy += dy * dy
	}
	den := math.Sqrt(sx * sy)
	if den == 0 {
		return 0, ErrZeroVariance
	}
	return num / den, nil
}

// Affinity pairs the entries both lists scored, and returns how many
// there are along with their Pearson coefficient as a percentage. ok is
// false with 10 shared scores or fewer, or when a side has no variance.
func Affinity(list1, list2 []ListItem) (shared int, score float64, ok bool) {
	lookup := make(map[int]int, len(list1))
	for _, item := range list1 {
		if item.Score > 0 {
			lookup[item.ID] = item.Score
		}
	}
	var scores1, scores2 []float64
	for _, item := range list2 {
		s1, found := lookup[item.ID]
		if found && item.Score > 0 {
			scores1 = append(scores1, float64(s1))
			scores2 = append(scores2, float64(item.Score))
		}
	}
	shared = len(scores1)
	if shared <= minAffinityScores {
		return shared, 0, false
	}
	p, err := Pearson(scores1, scores2)
	if err != nil {
		return shared, 0, false
	}
	return shared, p * 100, true
}

// ListStats summarizes a member's list
type ListStats struct {
	Entity   Entity
	ByStatus map[string][]ListItem

	// Scores[n] are the items scored n, 0 being unscored
	Scores      [maxScore + 1][]ListItem
	Total       int
	TotalScored int
	MeanScore   float64
	Days        float64

	// Episodes watched, or chapters and volumes read
	Episodes int
	Chapters int
	Volumes  int

	// FirstDate is the earliest start (or finish) date in the list
	FirstDate string
}

func ComputeListStats(entity Entity, list *UserList) ListStats {
	stats := ListStats{Entity: entity, ByStatus: map[string][]ListItem{}}
	if list == nil {
		return stats
	}
	stats.Days = list.Days

	totalScore := 0
	for _, item := range list.Items {
		stats.ByStatus[item.Status] = append(stats.ByStatus[item.Status], item)
		stats.Total++

		score := item.Score
		if score < 0 || score > maxScore {
			score = 0
		}
		stats.Scores[score] = append(stats.Scores[score], item)
		if score > 0 {
			stats.TotalScored++
			totalScore += score
		}

		if entity == EntityAnime {
			stats.Episodes += item.Progress
		} else {
			stats.Chapters += item.Progress
			stats.Volumes += item.VolumesRead
		}

		date := item.Started
		if date == "" {
			date = item.Finished
		}
		if date != "" && (stats.FirstDate == "" || date < stats.FirstDate) {
			stats.FirstDate = date
		}
	}
	if stats.TotalScored > 0 {
		stats.MeanScore = float64(totalScore) / float64(stats.TotalScored)
	}
	return stats
}

// StatusCounts returns the per-status item counts in display order
func (s ListStats) StatusCounts() []StatusCount {
	rv := make([]StatusCount, 0, 5)
	for _, status := range s.Entity.Statuses() {
		rv = append(rv, StatusCount{Status: status, Count: len(s.ByStatus[status])})
	}
	return rv
}

// StatusCount is a number of items with a given status
type StatusCount struct {
	Status string
	Count  int
}

// Score distribution sort orders
const (
	sortAmount   = "amount"
	sortPercent  = "percent"
	sortWeighted = "weighted"
)

// ScoreRank is a member's share of a given score
type ScoreRank struct {
	Name    string
	Score   int
	Count   int
	Percent float64

	// Weighted is Count * Percent / 100
	Weighted float64
}

// Value returns the value the rank is sorted on
func (r ScoreRank) Value(order string) float64 {
	switch order {
	case sortAmount:
		return float64(r.Count)
	case sortPercent:
		return r.Percent
	default:
		return r.Weighted
	}
}

// NamedStats is a member's display name and list stats
type NamedStats struct {
	Name  string
	Stats ListStats
}

// RankScore ranks members by how much they gave the score, by amount,
// percent of their scored items, or the product of both
func RankScore(score int, members []NamedStats, order string) []ScoreRank {
	ranks := make([]ScoreRank, 0, len(members))
	for _, m := range members {
		count := len(m.Stats.Scores[score])
		percent := 0.0
		if m.Stats.TotalScored > 0 {
			percent = float64(count) * 100 / float64(m.Stats.TotalScored)
		}
		ranks = append(
			ranks, ScoreRank{
				Name:     m.Name,
				Score:    score,
				Count:    count,
				Percent:  percent,
				Weighted: percent / 100 * float64(count),
			},
		)
	}
	slices.SortStableFunc(
		ranks, func(a, b ScoreRank) int {
			return cmp.Compare(b.Value(order), a.Value(order))
		},
	)
	return ranks
}

// CompareOptions filters and orders Compare's results
type CompareOptions struct {
	MinScore int
	MaxScore int

	// DiffScore only keeps pairs with this score difference. Negative
	// keeps every pair.
	DiffScore int

	// Different sorts the largest differences first
	Different bool
}

func DefaultCompareOptions() CompareOptions {
	return CompareOptions{MinScore: 1, MaxScore: maxScore, DiffScore: -1}
}

// ComparedPair is an entry both members have, with both their items
type ComparedPair struct {
	Left  ListItem
	Right ListItem
}

func (p ComparedPair) Diff() int {
	d := p.Left.Score - p.Right.Score
	if d < 0 {
		return -d
	}
	return d
}

// Compare returns the entries both lists scored within bounds, sorted by
// score difference
func Compare(list1, list2 []ListItem, opts CompareOptions) []ComparedPair {
	inBounds := func(score int) bool {
		return score >= opts.MinScore && score <= opts.MaxScore
	}
	lookup := make(map[int]ListItem, len(list1))
	for _, item := range list1 {
		if inBounds(item.Score) {
			lookup[item.ID] = item
		}
	}
	var pairs []ComparedPair
	for _, item := range list2 {
		left, ok := lookup[item.ID]
		if !ok || !inBounds(item.Score) {
			continue
		}
		pair := ComparedPair{Left: left, Right: item}
		if opts.DiffScore >= 0 && pair.Diff() != opts.DiffScore {
			continue
		}
		pairs = append(pairs, pair)
	}
	slices.SortStableFunc(
		pairs, func(a, b ComparedPair) int {
			if opts.Different {
				return cmp.Compare(b.Diff(), a.Diff())
			}
			return cmp.Compare(a.Diff(), b.Diff())
		},
	)
	return pairs
}

// UniqueItem is an entry from the first list that the other member
// hasn't seen. Planned is set when it's in their plan-to list.
type UniqueItem struct {
	Item    ListItem
	Planned bool
}

// Unique returns the entries of list1 missing from list2, or only
// planned in list2, best scored first
func Unique(entity Entity, list1, list2 []ListItem) []UniqueItem {
	lookup := make(map[int]ListItem, len(list2))
	for _, item := range list2 {
		lookup[item.ID] = item
	}
	var rv []UniqueItem
	for _, item := range list1 {
		other, ok := lookup[item.ID]
		switch {
		case !ok:
			rv = append(rv, UniqueItem{Item: item})
		case other.Status == entity.Planned():
			rv = append(rv, UniqueItem{Item: item, Planned: true})
		}
	}
	slices.SortStableFunc(
		rv, func(a, b UniqueItem) int {
			return cmp.Compare(b.Item.Score, a.Item.Score)
		},
	)
	return rv
}

// GroupMember is a member's item in an EntityGroup
type GroupMember struct {
	User string
	Item ListItem
}

// EntityGroup is every member that has a given entry in their list
type EntityGroup struct {
	ID      int
	Title   string
	Members []GroupMember
}

// Completed counts the members who completed it
func (g EntityGroup) Completed() int {
	n := 0
	for _, m := range g.Members {
		if m.Item.Status == statusCompleted {
			n++
		}
	}
	return n
}

// AverageScore is the mean of the members' scores. ok is false unless
// more than minMembers members scored it.
func (g EntityGroup) AverageScore(minMembers int) (avg float64, ok bool) {
	total, n := 0, 0
	for _, m := range g.Members {
		if m.Item.Score > 0 {
			total += m.Item.Score
			n++
		}
	}
	if n == 0 || n <= minMembers {
		return 0, false
	}
	return float64(total) / float64(n), true
}

// sortedUsers returns the map's usernames in case-insensitive order
func sortedUsers(lists map[string]*UserList) []string {
	users := make([]string, 0, len(lists))
	for u := range lists {
		users = append(users, u)
	}
	slices.SortFunc(
		users, func(a, b string) int {
			return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
		},
	)
	return users
}

// GroupByEntity maps every entry in lists to the members that have it
func GroupByEntity(lists map[string]*UserList) []EntityGroup {
	index := map[int]int{}
	var groups []EntityGroup
	for _, user := range sortedUsers(lists) {
		for _, item := range lists[user].Items {
			i, ok := index[item.ID]
			if !ok {
				i = len(groups)
				index[item.ID] = i
				groups = append(groups, EntityGroup{ID: item.ID, Title: item.Title})
			}
			groups[i].Members = append(groups[i].Members, GroupMember{User: user, Item: item})
		}
	}
	return groups
}

// Shared sort orders
const (
	sharedSortMembers   = "members"
	sharedSortCompleted = "completed"
	sharedSortScore     = "score"
)

// SortGroups orders groups by member count, completed count or average
// score, largest first unless reverse is set. Groups without enough
// scores go last.
func SortGroups(groups []EntityGroup, order string, reverse bool, minMembers int) error {
	var key func(EntityGroup) float64
	switch order {
	case sharedSortMembers:
		key = func(g EntityGroup) float64 { return float64(len(g.Members)) }
	case sharedSortCompleted:
		key = func(g EntityGroup) float64 { return float64(g.Completed()) }
	case sharedSortScore:
		missing := -1.0
		if reverse {
			missing = 100
		}
		key = func(g EntityGroup) float64 {
			avg, ok := g.AverageScore(minMembers)
			if !ok {
				return missing
			}
			return avg
		}
	default:
		return ErrUnknownSortOrder
	}
	slices.SortStableFunc(
		groups, func(a, b EntityGroup) int {
			if reverse {
				return cmp.Compare(key(a), key(b))
			}
			return cmp.Compare(key(b), key(a))
		},
	)
	return nil
}

// UserScore is a member's mean score
type UserScore struct {
	User  string
	Score float64
}

// MeanScores returns every member's mean score, highest first
func MeanScores(entity Entity, lists map[string]*UserList) []UserScore {
	rv := make([]UserScore, 0, len(lists))
	for _, user := range sortedUsers(lists) {
		rv = append(rv, UserScore{User: user, Score: ComputeListStats(entity, lists[user]).MeanScore})
	}
	slices.SortStableFunc(
		rv, func(a, b UserScore) int {
			return cmp.Compare(b.Score, a.Score)
		},
	)
	return rv
}

// findItem returns the list's entry with the given ID
func findItem(list *UserList, id int) (ListItem, bool) {
	if list == nil {
		return ListItem{}, false
	}
	for _, item := range list.Items {
		if item.ID == id {
			return item, true
		}
	}
	return ListItem{}, false
}

// EntityAverageScore is the members' average score for an entry. ok is
// false if nobody scored it.
func EntityAverageScore(lists map[string]*UserList, id int) (avg float64, ok bool) {
	total, n := 0, 0
	for _, list := range lists {
		if item, found := findItem(list, id); found && item.Score > 0 {
			total += item.Score
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(total) / float64(n), true
}

// ScoreFilter matches scores against a comparison like ">=7" or "5"
type ScoreFilter struct {
	Op    string
	Value int
}

// parseScoreFilter parses >=n, >n, <=n, <n, =n or n
func parseScoreFilter(s string) (ScoreFilter, bool) {
	s = strings.TrimSpace(s)
	for _, op := range []string{">=", "<=", ">", "<", "="} {
		if rest, found := strings.CutPrefix(s, op); found {
			n, ok := atoi(rest)
			return ScoreFilter{Op: op, Value: n}, ok
		}
	}
	n, ok := atoi(s)
	return ScoreFilter{Op: "=", Value: n}, ok
}

func (f ScoreFilter) Match(score int) bool {
	switch f.Op {
	case ">=":
		return score >= f.Value
	case "<=":
		return score <= f.Value
	case ">":
		return score > f.Value
	case "<":
		return score < f.Value
	default:
		return score == f.Value
	}
}
