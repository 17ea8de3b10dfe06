package andre

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
)

// airingShow is an airing anime that at least one member has in
// their list
type airingShow struct {
	ID       int
	Title    string
	Members  []GroupMember
	upcoming []AiringEpisode
	previous []AiringEpisode
}

// buildAiringShows matches the airing schedule with the members' lists
func buildAiringShows(airing []AiringAnime, lists map[string]*UserList, now time.Time) []airingShow {
	byID := map[int][]GroupMember{}
	for _, user := range sortedUsers(lists) {
		for _, item := range lists[user].Items {
			byID[item.ID] = append(byID[item.ID], GroupMember{User: user, Item: item})
		}
	}

	var shows []airingShow
	for _, anime := range airing {
		members, ok := byID[int(anime.MALID)]
		if !ok {
			continue
		}
		show := airingShow{ID: int(anime.MALID), Title: members[0].Item.Title, Members: members}
		for _, ep := range anime.Episodes {
			if ep.At().After(now) {
				show.upcoming = append(show.upcoming, ep)
			} else {
				show.previous = append(show.previous, ep)
			}
		}
		slices.SortFunc(show.upcoming, func(a, b AiringEpisode) int { return cmp.Compare(a.Time, b.Time) })
		slices.SortFunc(show.previous, func(a, b AiringEpisode) int { return cmp.Compare(a.Time, b.Time) })
		shows = append(shows, show)
	}
	return shows
}

// lastAired is the number of the last episode that aired, or 0
func (s airingShow) lastAired() int {
	switch {
	case len(s.upcoming) > 0:
		return s.upcoming[0].Number - 1
	case len(s.previous) > 0:
		return s.previous[len(s.previous)-1].Number
	}
	return 0
}

// airedTotal is "/n", n being the last aired episode
func (s airingShow) airedTotal() string {
	if n := s.lastAired(); n > 0 {
		return fmt.Sprintf("/%d", n)
	}
	return ""
}

// firstAiring is the first known episode air time
func (s airingShow) firstAiring() time.Time {
	if len(s.previous) > 0 {
		return s.previous[0].At()
	}
	if len(s.upcoming) > 0 {
		return s.upcoming[0].At()
	}
	return time.Time{}
}

// nextEpisode describes the last and next episodes, relative to now. ok
// is false when nothing is scheduled.
func (s airingShow) nextEpisode(now time.Time) (string, bool) {
	if len(s.upcoming) == 0 {
		return "", false
	}
	next := s.upcoming[0]
	var sb strings.Builder
	if len(s.previous) > 0 {
		prev := s.previous[len(s.previous)-1]
		fmt.Fprintf(&sb, "Last episode (%d) aired %s\n", prev.Number, humanize.RelTime(prev.At(), now, "ago", "from now"))
	}
	fmt.Fprintf(&sb, "Next episode (%d) in %s", next.Number, humanize.RelTime(now, next.At(), "", ""))
	return strings.TrimSpace(sb.String()), true
}

func matchesTitle(title, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(title), filter)
}

// airingMemberStatus renders a member's progress on an airing show
func airingMemberStatus(show airingShow, item ListItem) string {
	if item.Progress <= 0 {
		return "PTW"
	}
	if item.Status == statusDropped || item.Status == statusOnHold {
		return fmt.Sprintf("%s (%d %s)", item.Status, item.Progress, pluralize(item.Progress, "ep", "eps"))
	}
	s := fmt.Sprintf("%d%s", item.Progress, show.airedTotal())
	if item.Episodes > 0 {
		s += fmt.Sprintf(" (%d total)", item.Episodes)
	}
	return s
}

// airingLayout is the order statuses are displayed in
var airingLayout = []string{statusWatching, statusPlanToWatch, statusCompleted, statusOnHold, statusDropped}

// airingMemberLines lists a single member's airing shows, grouped by
// status
func airingMemberLines(
	shows []airingShow,
	member string,
	displayName string,
	filter string,
	watchingOnly bool,
) []string {
	byStatus := map[string][]string{}
	type entry struct {
		title string
		line  string
	}
	grouped := map[string][]entry{}
	for _, show := range shows {
		if !matchesTitle(show.Title, filter) {
			continue
		}
		for _, m := range show.Members {
			if !strings.EqualFold(m.User, member) {
				continue
			}
			if watchingOnly && m.Item.Status != statusWatching {
				continue
			}
			grouped[m.Item.Status] = append(
				grouped[m.Item.Status],
				entry{title: m.Item.Title, line: fmt.Sprintf("**%s**: %s", m.Item.Title, airingMemberStatus(show, m.Item))},
			)
		}
	}
	for status, entries := range grouped {
		slices.SortFunc(entries, func(a, b entry) int {
			return cmp.Compare(strings.ToLower(a.title), strings.ToLower(b.title))
		})
		for _, e := range entries {
			byStatus[status] = append(byStatus[status], e.line)
		}
	}

	lines := []string{fmt.Sprintf("%s's airing list:", displayName), ""}
	for i, status := range airingLayout {
		lines = append(lines, byStatus[status]...)
		// watching and ptw+completed are separated from the rest
		if i == 0 || i == 2 {
			lines = append(lines, "")
		}
	}
	return lines
}

// airingLines lists every airing show with the members watching it.
// self, the requester's MAL name, is highlighted.
func airingLines(
	shows []airingShow,
	lookup *UserLookup,
	filter string,
	watchingOnly bool,
	self string,
	now time.Time,
) []string {
	tomorrow := now.Add(24 * time.Hour)
	var started []airingShow
	for _, show := range shows {
		if !matchesTitle(show.Title, filter) {
			continue
		}
		if first := show.firstAiring(); !first.IsZero() && first.After(tomorrow) {
			continue
		}
		started = append(started, show)
	}
	slices.SortStableFunc(started, func(a, b airingShow) int {
		return b.firstAiring().Compare(a.firstAiring())
	})

	var lines []string
	for _, show := range started {
		byStatus := map[string][]string{}
		for _, m := range show.Members {
			if watchingOnly && m.Item.Status != statusWatching {
				continue
			}
			name := lookup.Name(m.User)
			var s string
			switch {
			case m.Item.Progress <= 0:
				s = fmt.Sprintf("%s (PTW)", name)
			case m.Item.Status == statusDropped || m.Item.Status == statusOnHold:
				s = fmt.Sprintf(
					"%s (%s %d %s)",
					name, m.Item.Status, m.Item.Progress, pluralize(m.Item.Progress, "ep", "eps"),
				)
			default:
				s = fmt.Sprintf("%s (%d%s)", name, m.Item.Progress, show.airedTotal())
			}
			if self != "" && strings.EqualFold(m.User, self) {
				s = "`" + s + "`"
			}
			byStatus[m.Item.Status] = append(byStatus[m.Item.Status], s)
		}
		var statuses []string
		for _, status := range airingLayout {
			statuses = append(statuses, byStatus[status]...)
		}
		if len(statuses) > 0 {
			lines = append(lines, fmt.Sprintf("**%s**: %s", show.Title, strings.Join(statuses, ", ")))
		}
	}
	return lines
}

// findAiringShow returns the schedule of an anime, if it's airing
func (a *Andre) findAiringShow(ctx context.Context, id int) (airingShow, bool) {
	airing, err := a.cache.Airing(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "error getting airing schedule", tint.Err(err))
		return airingShow{}, false
	}
	for _, anime := range airing {
		if int(anime.MALID) != id {
			continue
		}
		shows := buildAiringShows(
			[]AiringAnime{anime},
			map[string]*UserList{"": {Items: []ListItem{{ID: id}}}},
			a.now(),
		)
		if len(shows) == 1 {
			return shows[0], true
		}
	}
	return airingShow{}, false
}

func (a *Andre) airingCommands() []*Command {
	run := func(watchingOnly bool) func(c *CommandContext) error {
		return func(c *CommandContext) error {
			return a.runAiring(c, strings.TrimSpace(c.Rest), watchingOnly)
		}
	}
	return []*Command{
		{
			Name:     "airing",
			Aliases:  []string{"Airing"},
			Usage:    "[watching] [anime filter|member]",
			Help:     "Shows the airing anime members are watching, or a member's airing list.",
			Category: categoryLists,
			Run:      run(false),
			Subcommands: []*Command{
				{
					Name:     "watching",
					Aliases:  []string{"Watching"},
					Usage:    "[anime filter|member]",
					Help:     "Same as `airing`, only showing members currently watching.",
					Category: categoryLists,
					Run:      run(true),
				},
			},
		},
	}
}

func (a *Andre) runAiring(c *CommandContext, input string, watchingOnly bool) error {
	ctx := c.Context()
	var (
		memberMAL string
		filter    string
	)
	if input != "" {
		member, err := a.ResolveMember(ctx, c.Message, input)
		if err == nil {
			user, malErr := a.memberMALUser(ctx, member)
			if malErr != nil {
				return malErr
			}
			memberMAL = user.MALName
		} else {
			filter = strings.ToLower(input)
		}
	}

	airing, err := a.cache.Airing(ctx)
	if err != nil {
		return err
	}

	var lists map[string]*UserList
	if memberMAL != "" {
		list, fetchErr := a.cache.Get(ctx, memberMAL, EntityAnime)
		if fetchErr != nil {
			return fetchErr
		}
		lists = map[string]*UserList{memberMAL: list}
	} else {
		lists, err = a.memberLists(c, EntityAnime)
		if err != nil {
			return err
		}
	}

	lookup, err := a.userLookup(ctx, a.guildFor(c.Message))
	if err != nil {
		return err
	}
	shows := buildAiringShows(airing, lists, a.now())

	if memberMAL != "" {
		lines := airingMemberLines(shows, memberMAL, lookup.Name(memberMAL), filter, watchingOnly)
		return c.SafeSay(strings.Join(lines, "\n"))
	}

	self := ""
	if author, authorErr := a.getAuthorMAL(ctx, c.AuthorID()); authorErr == nil {
		self = author
	}
	return c.SafeSay(strings.Join(airingLines(shows, lookup, filter, watchingOnly, self, a.now()), "\n"))
}
