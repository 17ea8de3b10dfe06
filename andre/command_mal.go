package andre

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
)

const (
	malColor = 0x2E51A2

	// entity embeds fetched by ID show the start of the synopsis
	synopsisPreviewLength = 200

	saoTitle = "Sword Art Online"
)

// clannadIDs are Clannad and Clannad: After Story. Everyone loves them.
var clannadIDs = []int{2167, 4181}

// getAuthorMAL returns the MAL username of the discord user
func (a *Andre) getAuthorMAL(ctx context.Context, discordID string) (string, error) {
	user, err := getUserByDiscordID(ctx, a.db, discordID)
	if err != nil {
		return "", err
	}
	if user.MALName == "" {
		return "", ErrNoMALUsername
	}
	return user.MALName, nil
}

// memberMAL resolves raw (or the author, if empty) and returns the
// member with their MAL username
func (a *Andre) memberMAL(c *CommandContext, raw string) (*discordgo.Member, string, error) {
	member, err := a.resolveMemberOrAuthor(c.Context(), c.Message, raw)
	if err != nil {
		return nil, "", err
	}
	user, err := a.memberMALUser(c.Context(), member)
	if err != nil {
		return nil, "", err
	}
	return member, user.MALName, nil
}

// requiredMemberMAL is memberMAL, without falling back on the author
func (a *Andre) requiredMemberMAL(c *CommandContext, raw string) (*discordgo.Member, string, error) {
	member, err := a.ResolveMember(c.Context(), c.Message, raw)
	if err != nil {
		return nil, "", err
	}
	user, err := a.memberMALUser(c.Context(), member)
	if err != nil {
		return nil, "", err
	}
	return member, user.MALName, nil
}

// memberLists returns the lists of every member with a MAL username,
// downloading the missing ones. While downloading, a message in the
// channel shows the progress.
func (a *Andre) memberLists(c *CommandContext, entity Entity) (map[string]*UserList, error) {
	ctx := c.Context()
	users, err := usersWithMAL(ctx, a.db)
	if err != nil {
		return nil, err
	}
	names := malNames(users)

	missing := 0
	for _, name := range names {
		if _, ok := a.cache.Cached(name, entity); !ok {
			missing++
		}
	}
	if missing == 0 {
		lists, _ := a.cache.FetchAll(ctx, entity, names, nil)
		return lists, nil
	}

	session := a.discord.session
	channelID := c.Message.ChannelID
	status := fmt.Sprintf("Refreshing cached %slists...", entity)
	loading, err := session.ChannelMessageSend(channelID, status)
	if err != nil {
		c.Logger().WarnContext(ctx, "error sending progress message", tint.Err(err))
		loading = nil
	}

	var mu sync.Mutex
	progress := func(loaded, total int) {
		if loading == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, editErr := session.ChannelMessageEdit(
			channelID,
			loading.ID,
			fmt.Sprintf("%s (%d/%d)", status, loaded, total),
		)
		logErr(ctx, c.Logger(), "error editing progress message", editErr)
	}

	lists, errs := a.cache.FetchAll(ctx, entity, names, progress)
	if loading != nil {
		logErr(
			ctx, c.Logger(), "error deleting progress message",
			session.ChannelMessageDelete(channelID, loading.ID),
		)
	}
	if len(errs) > 0 {
		c.Logger().WarnContext(
			ctx, "some lists failed to load",
			"entity", entity,
			"failed", len(errs),
			tint.Err(errors.Join(errs...)),
		)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return lists, nil
}

// optionalEntity reads an optional leading entity from args, defaulting
// to anime. The remaining words are returned joined.
func optionalEntity(args []string) (Entity, string) {
	if len(args) > 0 {
		if entity, ok := parseEntity(args[0]); ok {
			return entity, strings.Join(args[1:], " ")
		}
	}
	return EntityAnime, strings.Join(args, " ")
}

// findEntry returns the entry with the given ID, or the best search
// match for name. fromSearch is set for search results, which come with
// a plain text synopsis.
func (a *Andre) findEntry(ctx context.Context, entity Entity, name string) (
	entry *Entry,
	fromSearch bool,
	err error,
) {
	name = strings.TrimSpace(name)
	if id, isID := atoi(name); isID && id > 0 {
		entry, err = a.mal.Details(ctx, entity, id)
		return entry, false, err
	}
	results, err := a.mal.Search(ctx, entity, name)
	if err != nil {
		return nil, true, err
	}
	if len(results) == 0 {
		return nil, true, userError(ErrBadArgument, "No match for %s", name)
	}
	return &results[0], true, nil
}

// entryMemberStatuses lists members grouped by their status for the
// entry, ex: "**Completed**: name (8\*), other"
func entryMemberStatuses(
	entity Entity,
	id int,
	lists map[string]*UserList,
	lookup *UserLookup,
	clannad bool,
) string {
	special := []string{entity.InProgress(), statusOnHold, statusDropped}
	byStatus := map[string][]string{}
	for _, user := range sortedUsers(lists) {
		name := lookup.Name(user)
		item, found := findItem(lists[user], id)
		status := statusNotInList
		if found {
			status = item.Status
		}

		label := name
		switch {
		case clannad:
			label = name + ` (10\*)`
		case !found:
		case slices.Contains(special, item.Status):
			switch {
			case entity == EntityAnime:
				label = fmt.Sprintf("%s (%d eps.)", name, item.Progress)
			case item.VolumesRead > 0:
				label = fmt.Sprintf("%s (%d vol.)", name, item.VolumesRead)
			default:
				label = fmt.Sprintf("%s (%d ch.)", name, item.Progress)
			}
		case item.Score > 0:
			label = fmt.Sprintf(`%s (%d\*)`, name, item.Score)
		}
		byStatus[status] = append(byStatus[status], label)
	}

	var sb strings.Builder
	for _, status := range append(entity.Statuses(), statusNotInList) {
		if names := byStatus[status]; len(names) > 0 {
			fmt.Fprintf(&sb, "**%s**: %s\n", titleCase(status), strings.Join(names, ", "))
		}
	}
	return sb.String()
}

// entryEmbed describes the entry, with the members' average score and
// statuses
func entryEmbed(
	entity Entity,
	entry *Entry,
	fromSearch bool,
	lists map[string]*UserList,
	lookup *UserLookup,
	clannad bool,
) *discordgo.MessageEmbed {
	var sb strings.Builder
	if fromSearch {
		sb.WriteString(synopsisText(entry.Synopsis, 0))
	} else {
		sb.WriteString(synopsisText(entry.Synopsis, synopsisPreviewLength))
	}
	fmt.Fprintf(&sb, "\n\n*Type:* %s\n", entry.Type)

	switch entity {
	case EntityAnime:
		if entry.Episodes > 0 {
			fmt.Fprintf(&sb, "*Episodes:* %d\n", entry.Episodes)
		}
	case EntityManga:
		if entry.Volumes > 0 {
			fmt.Fprintf(&sb, "*Volumes:* %d\n", entry.Volumes)
		}
		if entry.Chapters > 0 {
			fmt.Fprintf(&sb, "*Chapters:* %d\n", entry.Chapters)
		}
	}

	malScore := "?"
	if entry.MembersScore != nil {
		malScore = strconv.FormatFloat(*entry.MembersScore, 'f', -1, 64)
	}
	fmt.Fprintf(&sb, "*MAL score:* %s\n", malScore)

	avg, ok := EntityAverageScore(lists, entry.ID)
	if clannad {
		avg, ok = 10, true
	}
	nullsScore := "?"
	if ok {
		nullsScore = fmt.Sprintf("%.2f", avg)
	}
	fmt.Fprintf(&sb, "*nulls score:* %s\n\n", nullsScore)
	sb.WriteString(entryMemberStatuses(entity, entry.ID, lists, lookup, clannad))

	embed := &discordgo.MessageEmbed{
		Title:       string(entry.Title),
		URL:         entry.URL(entity),
		Description: sb.String(),
	}
	if entry.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: entry.ImageURL}
	}
	return embed
}

// isClannad is the Clannad easter egg: searching for it shows a perfect
// score from everyone
func isClannad(query string, id int) bool {
	return strings.Contains(strings.ToLower(query), "clannad") && slices.Contains(clannadIDs, id)
}

// showEntry finds the entry named by query and sends its embed
func (a *Andre) showEntry(c *CommandContext, entity Entity, query string) error {
	ctx := c.Context()
	if strings.TrimSpace(query) == "" {
		return userError(ErrBadArgument, "No %s specified", entity)
	}
	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	entry, fromSearch, err := a.findEntry(ctx, entity, query)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(ctx, a.guildFor(c.Message))
	if err != nil {
		return err
	}
	embed := entryEmbed(entity, entry, fromSearch, lists, lookup, isClannad(query, entry.ID))
	if entity == EntityAnime {
		if show, ok := a.findAiringShow(ctx, entry.ID); ok {
			if next, ok := show.nextEpisode(a.now()); ok {
				embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Airing", Value: next})
			}
		}
	}
	return c.SayEmbed(embed)
}

// malProfileEmbed links a member's profile and lists, with stats for
// the lists already in the cache
func (a *Andre) malProfileEmbed(title, malName string) *discordgo.MessageEmbed {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Profile: <https://myanimelist.net/profile/%s>\n", malName)
	for _, entity := range entities {
		fmt.Fprintf(
			&sb, "%slist (<https://myanimelist.net/%slist/%s>)\n",
			titleCase(string(entity)), entity, malName,
		)
		list, ok := a.cache.Cached(malName, entity)
		if !ok {
			continue
		}
		stats := ComputeListStats(entity, list)
		sb.WriteString("\n")
		for _, sc := range stats.StatusCounts() {
			fmt.Fprintf(&sb, "*%s:* %d\n", titleCase(sc.Status), sc.Count)
		}
		fmt.Fprintf(&sb, "\n*Mean score* %.2f\n", stats.MeanScore)
		fmt.Fprintf(&sb, "*Days* %s\n\n", strconv.FormatFloat(stats.Days, 'f', -1, 64))
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Color:       malColor,
		Description: sb.String(),
		Image: &discordgo.MessageEmbedImage{
			URL: strings.ReplaceAll(a.malEmbedTemplate(), "<username>", malName),
		},
	}
}

// saoMessage lists the Sword Art Online entries of a list
func saoMessage(name string, list *UserList) string {
	var sb strings.Builder
	for _, item := range list.Items {
		if !strings.Contains(item.Title, saoTitle) {
			continue
		}
		fmt.Fprintf(&sb, "**%s** (%d): ", item.Title, item.ID)
		switch {
		case item.Score > 0:
			sb.WriteString(strconv.Itoa(item.Score))
			if item.Status != statusCompleted {
				fmt.Fprintf(&sb, " (%s)", item.Status)
			}
		case item.Status == statusCompleted:
			sb.WriteString("Completed")
		default:
			sb.WriteString(" " + item.Status)
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("%s has never seen SAO.", name)
	}
	return fmt.Sprintf("%s's SAO tasts:\n\n%s", name, sb.String())
}

// whenLines lists when each member started and finished the entry,
// oldest first
func whenLines(id int, lists map[string]*UserList, lookup *UserLookup, now time.Time) []string {
	relative := func(date string) string {
		t, err := time.ParseInLocation(birthdateLayout, date, time.Local)
		if err != nil {
			return date
		}
		return humanize.RelTime(t, now, "ago", "from now")
	}

	type dated struct {
		date string
		line string
	}
	var items []dated
	for _, user := range sortedUsers(lists) {
		item, found := findItem(lists[user], id)
		if !found || (item.Started == "" && item.Finished == "") {
			continue
		}
		name := lookup.Name(user)
		var d dated
		switch {
		case item.Started != "" && item.Finished != "":
			d = dated{
				date: item.Finished,
				line: fmt.Sprintf(
					"**%s**: %s - %s to %s (%s)",
					name, item.Status, item.Started, item.Finished, relative(item.Finished),
				),
			}
		case item.Started != "":
			d = dated{
				date: item.Started,
				line: fmt.Sprintf("**%s**: %s - %s (%s)", name, item.Status, item.Started, relative(item.Started)),
			}
		default:
			d = dated{
				date: item.Finished,
				line: fmt.Sprintf("**%s**: %s - %s (%s)", name, item.Status, item.Finished, relative(item.Finished)),
			}
		}
		items = append(items, d)
	}
	slices.SortStableFunc(items, func(a, b dated) int { return cmp.Compare(a.date, b.date) })

	lines := make([]string, 0, len(items))
	for _, d := range items {
		lines = append(lines, d.line)
	}
	return lines
}

// airedDescription is when the entry started and finished airing (or
// publishing)
func airedDescription(entity Entity, entry *Entry) string {
	if entry.StartDate == "" {
		return ""
	}
	if entry.EndDate != "" {
		verb := "Aired"
		if entity == EntityManga {
			verb = "Published"
		}
		return fmt.Sprintf("%s from %s to %s\n\n", verb, entry.StartDate, entry.EndDate)
	}
	verb := "Started airing"
	if entity == EntityManga {
		verb = "Started publishing"
	}
	return fmt.Sprintf("%s: %s\n\n", verb, entry.StartDate)
}

// listItemLine renders an item of a member's list, with their progress
func listItemLine(entity Entity, item ListItem, status string) string {
	var line string
	progress := func(done, total int) string {
		if total > 0 {
			return fmt.Sprintf("%d/%d", done, total)
		}
		return strconv.Itoa(done)
	}

	switch {
	case entity == EntityAnime && item.Progress > 0:
		line = fmt.Sprintf("**%s**: %s", item.Title, progress(item.Progress, item.Episodes))
	case entity == EntityManga && item.VolumesRead > 0:
		line = fmt.Sprintf("**%s**: %s vol.", item.Title, progress(item.VolumesRead, item.Volumes))
	case entity == EntityManga && item.Progress > 0:
		line = fmt.Sprintf("**%s**: %s ch.", item.Title, progress(item.Progress, item.Chapters))
	case status == statusCompleted || status == entity.Planned():
		line = item.Title
	default:
		line = fmt.Sprintf("**%s**", item.Title)
	}
	if status == "" {
		line += fmt.Sprintf(" (%s)", item.Status)
	}
	return line
}

// memberListMessage lists the member's entries with the given status
// (every entry if empty), last updated first
func memberListMessage(entity Entity, name, malName, status string, list *UserList) string {
	var items []ListItem
	for _, item := range list.Items {
		if status == "" || item.Status == status {
			items = append(items, item)
		}
	}
	label := status
	if label == "" {
		label = "whole"
	}
	if len(items) == 0 {
		return fmt.Sprintf("No entry in %s's %s list!", malName, label)
	}
	slices.SortStableFunc(items, func(a, b ListItem) int { return cmp.Compare(b.LastUpdated, a.LastUpdated) })

	kind := "shows"
	if entity == EntityManga {
		kind = "manga"
	}
	header := fmt.Sprintf("%d %s in %s's %s list:\n\n", len(items), kind, name, label)
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, listItemLine(entity, item, status))
	}
	return cutLines(header, lines, discordMaxMessageLength)
}

// Shared display styles
const (
	sharedStyleShort   = "short"
	sharedStyleDetails = "details"
	sharedStyleFull    = "full"
)

var sharedDefaults = map[string]string{
	"style":       sharedStyleDetails,
	"sort":        sharedSortMembers,
	"results":     "5",
	"reverse":     "0",
	"min_members": "0",
}

func isTrue(s string) bool {
	switch strings.ToLower(s) {
	case "1", "yes", "true":
		return true
	}
	return false
}

// sharedLines lists the entries most members have, ordered and styled
// by settings (see sharedDefaults)
func sharedLines(lists map[string]*UserList, settings map[string]string, lookup *UserLookup) ([]string, error) {
	style := settings["style"]
	switch style {
	case sharedStyleShort, sharedStyleDetails, sharedStyleFull:
	default:
		return nil, userError(ErrBadArgument, "Unknown style `%s`", style)
	}
	order := settings["sort"]
	reverse := isTrue(settings["reverse"])
	minMembers := toInt(settings["min_members"], 0)

	groups := GroupByEntity(lists)
	if err := SortGroups(groups, order, reverse, minMembers); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArgument, err)
	}

	details := func(g EntityGroup) string {
		switch order {
		case sharedSortCompleted:
			return fmt.Sprintf("%d members", g.Completed())
		case sharedSortScore:
			if avg, ok := g.AverageScore(minMembers); ok {
				return fmt.Sprintf("%.2f", avg)
			}
			return "?"
		default:
			return fmt.Sprintf("%d members", len(g.Members))
		}
	}

	if results := toInt(settings["results"], 5); results > 0 && results < len(groups) {
		groups = groups[:results]
	}
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		switch style {
		case sharedStyleShort:
			lines = append(lines, g.Title)
		case sharedStyleDetails:
			lines = append(lines, fmt.Sprintf("**%s**: %s", g.Title, details(g)))
		case sharedStyleFull:
			names := make([]string, 0, len(g.Members))
			for _, m := range g.Members {
				names = append(names, lookup.Name(m.User))
			}
			lines = append(lines, fmt.Sprintf("**%s**: %s (%s)", g.Title, strings.Join(names, ", "), details(g)))
		}
	}
	return lines, nil
}

// formatScoreRank renders a member's share of a score. With the score
// shown, the line is for the per-score summary.
func formatScoreRank(r ScoreRank, order string, withScore bool) string {
	percent := fmt.Sprintf("%.1f%%", r.Percent)
	var main, extra string
	switch order {
	case sortAmount:
		main, extra = strconv.Itoa(r.Count), percent
	case sortPercent:
		main, extra = percent, strconv.Itoa(r.Count)
	default:
		main, extra = fmt.Sprintf("%.2f", r.Weighted), fmt.Sprintf("%d - %s", r.Count, percent)
	}
	if withScore {
		return fmt.Sprintf("**%d**: %s (**%s** - %s)", r.Score, r.Name, main, extra)
	}
	return fmt.Sprintf("%s: **%s** (%s)", r.Name, main, extra)
}

// scoreDistributionMessage ranks members by how much they gave score,
// or shows the top member for each score when score is 0
func scoreDistributionMessage(entity Entity, members []NamedStats, score int, order string) string {
	var sb strings.Builder
	if score != 0 {
		fmt.Fprintf(&sb, "Users with the most **%d** in their %s list:\n\n", score, entity)
		for _, r := range RankScore(score, members, order) {
			sb.WriteString(formatScoreRank(r, order, false) + "\n")
		}
		return sb.String()
	}

	switch order {
	case sortAmount:
		fmt.Fprintf(&sb, "Users with the most %s of each score in their list:\n\n", entity)
	case sortPercent:
		fmt.Fprintf(&sb, "Users with the highest percentage of each score in their %s list:\n\n", entity)
	default:
		fmt.Fprintf(&sb, "Users with the most of each score in their %s list:\n\n", entity)
	}
	for s := maxScore; s > 0; s-- {
		if ranks := RankScore(s, members, order); len(ranks) > 0 {
			sb.WriteString(formatScoreRank(ranks[0], order, true) + "\n")
		}
	}
	return sb.String()
}

var compareDefaults = map[string]string{
	"entity":     string(EntityAnime),
	"sort":       "similar",
	"results":    "20",
	"min_score":  "1",
	"max_score":  "10",
	"diff_score": "-1",
	"group":      "true",
}

// compareMessage lists the entries both members scored, grouped by
// score difference
func compareMessage(entity Entity, mal1, mal2 string, pairs []ComparedPair, results int, group bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s* - *%s*\n\n", mal1, mal2)
	if results > 0 && results < len(pairs) {
		pairs = pairs[:results]
	}
	lastDiff := -1
	for _, p := range pairs {
		diff := p.Diff()
		if group && diff != lastDiff {
			if lastDiff != -1 {
				sb.WriteString("\n")
			}
			if diff == 0 {
				fmt.Fprintf(&sb, "**%s with the same score:**\n", titleCase(string(entity)))
			} else {
				fmt.Fprintf(&sb, "**%s with a difference of %d:**\n", titleCase(string(entity)), diff)
			}
		}
		fmt.Fprintf(&sb, "%s: **%d", p.Left.Title, p.Left.Score)
		if diff != 0 {
			fmt.Fprintf(&sb, " - %d", p.Right.Score)
		}
		sb.WriteString("**\n")
		lastDiff = diff
	}
	return sb.String()
}

// uniqueMessage lists the entries of mal1's list that mal2 hasn't seen
func uniqueMessage(entity Entity, mal1, mal2 string, items []UniqueItem) string {
	header := fmt.Sprintf(
		"%s in **%s**'s list that **%s** hasn't %s yet.\n"+
			"If `%s` is specified, it means the %s is in **%s**'s %s list\n\n",
		titleCase(string(entity)), mal1, mal2, entity.Verb(),
		entity.PlannedShort(), entity, mal2, entity.PlannedShort(),
	)
	lines := make([]string, 0, len(items))
	for _, u := range items {
		score := "?"
		if u.Item.Score > 0 {
			score = strconv.Itoa(u.Item.Score)
		}
		line := fmt.Sprintf("%s: **%s**", u.Item.Title, score)
		if u.Planned {
			line += fmt.Sprintf(" (%s)", entity.PlannedShort())
		}
		lines = append(lines, line)
	}
	return cutLines(header, lines, discordMaxMessageLength)
}

// affinityRank is another member's affinity with the requester
type affinityRank struct {
	User   string
	Shared int
	Score  float64
	OK     bool
}

// affinityRanking computes the affinity of list with every other list,
// best first. Members without enough shared scores go last.
func affinityRanking(self string, list *UserList, lists map[string]*UserList) []affinityRank {
	var ranks []affinityRank
	for _, user := range sortedUsers(lists) {
		if strings.EqualFold(user, self) {
			continue
		}
		shared, score, ok := Affinity(list.Items, lists[user].Items)
		ranks = append(ranks, affinityRank{User: user, Shared: shared, Score: score, OK: ok})
	}
	slices.SortStableFunc(
		ranks, func(a, b affinityRank) int {
			if a.OK != b.OK {
				if a.OK {
					return -1
				}
				return 1
			}
			return cmp.Compare(b.Score, a.Score)
		},
	)
	return ranks
}

func affinityMessage(ranks []affinityRank, lookup *UserLookup) string {
	var sb strings.Builder
	separated := false
	for _, r := range ranks {
		if !r.OK && !separated {
			sb.WriteString("\n")
			separated = true
		}
		fmt.Fprintf(&sb, "**%s**: %d shared scores", lookup.Name(r.User), r.Shared)
		if r.OK {
			fmt.Fprintf(&sb, ", **%.1f%%** affinity\n", r.Score)
		} else {
			sb.WriteString(", can't compute affinity\n")
		}
	}
	return sb.String()
}

func (a *Andre) malCommands() []*Command {
	listCommand := func(entity Entity) *Command {
		return &Command{
			Name:     fmt.Sprintf("%slist", entity),
			Aliases:  []string{titleCase(string(entity)) + "list"},
			Usage:    "status [user]",
			Help:     fmt.Sprintf("Prints the %s with the given status in a member's list (`all` for every status).", entity),
			Category: categoryLists,
			Run: func(c *CommandContext) error {
				return a.runMemberList(c, entity)
			},
		}
	}
	sharedCommand := func(entity Entity) *Command {
		return &Command{
			Name:     string(entity),
			Usage:    "[style=details|short|full] [sort=members|completed|score] [results=5] [reverse=0] [min_members=0]",
			Help:     fmt.Sprintf("Prints the %s most shared between members.", entity),
			Category: categoryLists,
			Run: func(c *CommandContext) error {
				return a.runShared(c, entity)
			},
		}
	}

	return []*Command{
		{
			Name:     "mal",
			Aliases:  []string{"MAL"},
			Usage:    "[user]",
			Help:     "Shows a member's MAL profile.",
			Category: categoryMAL,
			Run:      a.runMAL,
		},
		{
			Name:     "sao",
			Aliases:  []string{"SAO"},
			Usage:    "[user]",
			Help:     "Shows what a member thinks of Sword Art Online.",
			Category: categoryMAL,
			Run:      a.runSAO,
		},
		{
			Name:     "search",
			Aliases:  []string{"Search"},
			Usage:    "[anime|manga] name",
			Help:     "Searches MAL and prints the first results with their IDs.",
			Category: categoryMAL,
			Run:      a.runSearch,
		},
		{
			Name:     "anime",
			Aliases:  []string{"Anime"},
			Usage:    "name|id",
			Help:     "Shows an anime, with the members' scores and statuses.",
			Category: categoryMAL,
			Run: func(c *CommandContext) error {
				return a.showEntry(c, EntityAnime, c.Rest)
			},
		},
		{
			Name:     "manga",
			Aliases:  []string{"Manga"},
			Usage:    "name|id",
			Help:     "Shows a manga, with the members' scores and statuses.",
			Category: categoryMAL,
			Run: func(c *CommandContext) error {
				return a.showEntry(c, EntityManga, c.Rest)
			},
		},
		{
			Name:     "when",
			Aliases:  []string{"When", "start", "Start"},
			Usage:    "[anime|manga] name|id",
			Help:     "Shows when members started and finished an anime or manga.",
			Category: categoryMAL,
			Run:      a.runWhen,
		},
		{
			Name:     "nextmal",
			Aliases:  []string{"nextMAL"},
			Usage:    "[user]",
			Help:     "Picks a random anime from a member's PTW list.",
			Category: categoryMAL,
			Run:      a.runNextMAL,
		},
		{
			Name:     "updatelist",
			Aliases:  []string{"Updatelist", "updatelists"},
			Usage:    "[user]",
			Help:     "Reloads a member's cached lists.",
			Category: categoryMAL,
			Level:    PermissionUserData,
			Run:      a.runUpdateList,
		},
		listCommand(EntityAnime),
		listCommand(EntityManga),
		{
			Name:        "shared",
			Aliases:     []string{"Shared"},
			Category:    categoryLists,
			Subcommands: []*Command{sharedCommand(EntityAnime), sharedCommand(EntityManga)},
		},
		{
			Name: "scoredistribution",
			Aliases: []string{
				"Scoredistribution", "ScoreDistribution", "sdistribution",
				"scoresdistribution", "Scoresdistribution", "ScoresDistribution",
			},
			Usage:    "[entity=anime] [score=1-10] [sort=percent|amount|weighted]",
			Help:     "Shows which members gave the most of each score (or the given score).",
			Category: categoryLists,
			Run:      a.runScoreDistribution,
		},
		{
			Name:     "compare",
			Aliases:  []string{"Compare"},
			Usage:    "user1 user2 [entity=anime] [sort=similar|different] [results=20] [min_score=1] [max_score=10] [diff_score=-1] [group=true]",
			Help:     "Compares the scores of two members.",
			Category: categoryLists,
			Run:      a.runCompare,
		},
		{
			Name:     "unique",
			Aliases:  []string{"Unique"},
			Usage:    "[anime|manga] [user1] user2",
			Help:     "Lists the entries of user1's list (yours by default) that user2 hasn't seen.",
			Category: categoryLists,
			Run:      a.runUnique,
		},
		{
			Name:     "affinity",
			Aliases:  []string{"Affinity"},
			Usage:    "[user1] [user2] [anime|manga]",
			Help:     "Computes the affinity between two members, or between a member and everyone else.",
			Category: categoryLists,
			Run:      a.runAffinity,
		},
		{
			Name:     "meanscores",
			Aliases:  []string{"Meanscores", "meanscore", "Meanscore"},
			Usage:    "[anime|manga]",
			Help:     "Lists the members' mean scores.",
			Category: categoryLists,
			Run:      a.runMeanScores,
		},
	}
}

func (a *Andre) runMAL(c *CommandContext) error {
	member, malName, err := a.memberMAL(c, c.Rest)
	if err != nil {
		return err
	}
	title := malName
	if name := a.displayName(member); name != "" && !strings.EqualFold(name, malName) {
		title = fmt.Sprintf("%s - %s", name, malName)
	}
	return c.SayEmbed(a.malProfileEmbed(title, malName))
}

func (a *Andre) runSAO(c *CommandContext) error {
	member, malName, err := a.memberMAL(c, c.Rest)
	if err != nil {
		return err
	}
	list, err := a.cache.Get(c.Context(), malName, EntityAnime)
	if err != nil {
		return err
	}
	return c.Say(saoMessage(a.displayName(member), list))
}

func (a *Andre) runSearch(c *CommandContext) error {
	entity, name := optionalEntity(strings.Fields(c.Rest))
	if name == "" {
		return userError(ErrBadArgument, "No %s specified", entity)
	}
	results, err := a.mal.Search(c.Context(), entity, name)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return c.Sayf("No match for %s", name)
	}
	var sb strings.Builder
	for _, e := range results[:min(len(results), malSearchResults)] {
		fmt.Fprintf(&sb, "`%d`: %s (%s)\n", e.ID, e.Title, e.Type)
	}
	return c.Say(sb.String())
}

func (a *Andre) runWhen(c *CommandContext) error {
	ctx := c.Context()
	entity, name := optionalEntity(strings.Fields(c.Rest))
	if name == "" {
		return userError(ErrBadArgument, "No %s specified", entity)
	}
	entry, _, err := a.findEntry(ctx, entity, name)
	if err != nil {
		return err
	}
	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(ctx, a.guildFor(c.Message))
	if err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{
		Title: string(entry.Title),
		URL:   entry.URL(entity),
		Description: airedDescription(entity, entry) +
			strings.Join(whenLines(entry.ID, lists, lookup, a.now()), "\n"),
	}
	if entry.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: entry.ImageURL}
	}
	return c.SayEmbed(embed)
}

func (a *Andre) runNextMAL(c *CommandContext) error {
	_, malName, err := a.memberMAL(c, c.Rest)
	if err != nil {
		return err
	}
	list, err := a.cache.Get(c.Context(), malName, EntityAnime)
	if err != nil {
		return err
	}
	planned := ComputeListStats(EntityAnime, list).ByStatus[statusPlanToWatch]
	if len(planned) == 0 {
		return c.Say("Your PTW list is empty. Go watch Clannad.")
	}
	pick := planned[a.randN(len(planned))]
	return a.showEntry(c, EntityAnime, strconv.Itoa(pick.ID))
}

func (a *Andre) runUpdateList(c *CommandContext) error {
	_, malName, err := a.memberMAL(c, c.Rest)
	if err != nil {
		return err
	}
	var errs []error
	for _, entity := range entities {
		if _, reloadErr := a.cache.Reload(c.Context(), malName, entity); reloadErr != nil {
			errs = append(errs, reloadErr)
		}
	}
	if err = errors.Join(errs...); err != nil {
		logErr(c.Context(), c.Logger(), "error adding reaction", c.React(reactionKO))
		return err
	}
	return c.OK()
}

func (a *Andre) runMemberList(c *CommandContext, entity Entity) error {
	if len(c.Args) == 0 {
		return userError(ErrBadArgument, "No status specified")
	}
	status, ok := entity.normalizeStatus(c.Args[0])
	if !ok {
		return userError(ErrBadArgument, "Unknown status `%s`", c.Args[0])
	}
	member, malName, err := a.memberMAL(c, strings.Join(c.Args[1:], " "))
	if err != nil {
		return err
	}
	list, err := a.cache.Get(c.Context(), malName, entity)
	if err != nil {
		return err
	}
	return c.Say(memberListMessage(entity, a.displayName(member), malName, status, list))
}

func (a *Andre) runShared(c *CommandContext, entity Entity) error {
	settings := parseKeyValues(c.Rest, sharedDefaults)
	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	var lookup *UserLookup
	if settings["style"] == sharedStyleFull {
		lookup, err = a.userLookup(c.Context(), a.guildFor(c.Message))
		if err != nil {
			return err
		}
	}
	lines, err := sharedLines(lists, settings, lookup)
	if err != nil {
		return err
	}
	return c.Say(cutLines("", lines, discordMaxMessageLength))
}

func (a *Andre) runScoreDistribution(c *CommandContext) error {
	settings := parseKeyValues(
		c.Rest, map[string]string{
			"entity": string(EntityAnime),
			"score":  "",
			"sort":   sortPercent,
		},
	)
	entity, ok := parseEntity(settings["entity"])
	if !ok {
		return userError(ErrBadArgument, "Unknown entity `%s`", settings["entity"])
	}
	order := settings["sort"]
	score := 0
	if n, isInt := atoi(settings["score"]); isInt {
		score = n
		if score <= 0 || score > maxScore {
			score = maxScore
		}
	}

	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(c.Context(), a.guildFor(c.Message))
	if err != nil {
		return err
	}
	members := make([]NamedStats, 0, len(lists))
	for _, user := range sortedUsers(lists) {
		members = append(members, NamedStats{Name: lookup.Name(user), Stats: ComputeListStats(entity, lists[user])})
	}
	return c.SafeSay(scoreDistributionMessage(entity, members, score, order))
}

func (a *Andre) runCompare(c *CommandContext) error {
	if len(c.Args) < 2 {
		return userError(ErrBadArgument, "Two members are needed")
	}
	_, mal1, err := a.requiredMemberMAL(c, c.Args[0])
	if err != nil {
		return err
	}
	_, mal2, err := a.requiredMemberMAL(c, c.Args[1])
	if err != nil {
		return err
	}

	settings := parseKeyValues(strings.Join(c.Args[2:], " "), compareDefaults)
	entity, entityOK := parseEntity(settings["entity"])
	order := settings["sort"]
	group := strings.ToLower(settings["group"])
	if !entityOK ||
		(order != "similar" && order != "different") ||
		!slices.Contains([]string{"yes", "true", "no", "false"}, group) {
		return fmt.Errorf("%w: invalid compare settings", ErrBadArgument)
	}

	list1, err := a.cache.Get(c.Context(), mal1, entity)
	if err != nil {
		return err
	}
	list2, err := a.cache.Get(c.Context(), mal2, entity)
	if err != nil {
		return err
	}

	opts := DefaultCompareOptions()
	opts.MinScore = toInt(settings["min_score"], opts.MinScore)
	opts.MaxScore = toInt(settings["max_score"], opts.MaxScore)
	opts.DiffScore = toInt(settings["diff_score"], opts.DiffScore)
	opts.Different = order == "different"
	pairs := Compare(list1.Items, list2.Items, opts)
	results := toInt(settings["results"], len(pairs))
	return c.SafeSay(compareMessage(entity, mal1, mal2, pairs, results, isTrue(group)))
}

func (a *Andre) runUnique(c *CommandContext) error {
	args := c.Args
	entity := EntityAnime
	if len(args) > 0 {
		if e, ok := parseEntity(args[0]); ok {
			entity = e
			args = args[1:]
		}
	}

	var (
		mal1, mal2 string
		err        error
	)
	switch len(args) {
	case 0:
		return userError(ErrBadArgument, "No member specified")
	case 1:
		if _, mal1, err = a.memberMAL(c, ""); err != nil {
			return err
		}
		if _, mal2, err = a.requiredMemberMAL(c, args[0]); err != nil {
			return err
		}
	default:
		if _, mal1, err = a.requiredMemberMAL(c, args[0]); err != nil {
			return err
		}
		if _, mal2, err = a.requiredMemberMAL(c, args[1]); err != nil {
			return err
		}
	}

	list1, err := a.cache.Get(c.Context(), mal1, entity)
	if err != nil {
		return err
	}
	list2, err := a.cache.Get(c.Context(), mal2, entity)
	if err != nil {
		return err
	}
	return c.Say(uniqueMessage(entity, mal1, mal2, Unique(entity, list1.Items, list2.Items)))
}

func (a *Andre) runAffinity(c *CommandContext) error {
	entity := EntityAnime
	var members []string
	for _, arg := range c.Args {
		if e, ok := parseEntity(arg); ok {
			entity = e
			continue
		}
		members = append(members, arg)
	}

	var raw1 string
	if len(members) > 0 {
		raw1 = members[0]
	}
	_, mal1, err := a.memberMAL(c, raw1)
	if err != nil {
		return err
	}
	list1, err := a.cache.Get(c.Context(), mal1, entity)
	if err != nil {
		return err
	}

	if len(members) > 1 {
		_, mal2, memberErr := a.requiredMemberMAL(c, members[1])
		if memberErr != nil {
			return memberErr
		}
		list2, fetchErr := a.cache.Get(c.Context(), mal2, entity)
		if fetchErr != nil {
			return fetchErr
		}
		shared, score, ok := Affinity(list1.Items, list2.Items)
		msg := fmt.Sprintf("Shared %s: **%d**\n", entity, shared)
		if ok {
			msg += fmt.Sprintf("Affinity: **%.1f%%**\n", score)
		} else {
			msg += "Not enough shared scores to compute affinity\n"
		}
		return c.SafeSay(msg)
	}

	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(c.Context(), a.guildFor(c.Message))
	if err != nil {
		return err
	}
	return c.SafeSay(affinityMessage(affinityRanking(mal1, list1, lists), lookup))
}

func (a *Andre) runMeanScores(c *CommandContext) error {
	entity := EntityAnime
	if arg := c.Arg(0); arg != "" {
		e, ok := parseEntity(arg)
		if !ok {
			return userError(ErrBadArgument, "Unknown entity `%s`", arg)
		}
		entity = e
	}
	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(c.Context(), a.guildFor(c.Message))
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, s := range MeanScores(entity, lists) {
		fmt.Fprintf(&sb, "**%s**: %.2f\n", lookup.Name(s.User), s.Score)
	}
	return c.SafeSay(sb.String())
}
