package andre

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"gorm.io/gorm"
)

const (
	malProfileURL = "https://myanimelist.net/profile/"

	// tzDayLayout groups users by local day, sorted
	tzDayLayout = "20060102"
)

var profileExtrasFlags = []string{"extra", "extras", "+extra", "+extras"}

// profileArgs finds the member and the extras flag, in either order
func profileArgs(args []string) (memberRaw, extrasFlag string) {
	isFlag := func(s string) bool {
		return slices.Contains(profileExtrasFlags, strings.ToLower(s))
	}
	first, second := "", ""
	if len(args) > 0 {
		first = args[0]
	}
	if len(args) > 1 {
		second = args[1]
	}
	switch {
	case isFlag(first):
		return second, strings.ToLower(first)
	case isFlag(second):
		return first, strings.ToLower(second)
	}
	return strings.Join(args, " "), ""
}

// profileSummary is the extra information shown below a profile
type profileSummary struct {
	HasExtras bool
	Badges    int64
	Prefix    string

	// ShowingExtras hides the extras hint
	ShowingExtras bool
}

func profileTitle(name, malName string) string {
	switch {
	case malName == "":
		return name
	case name != "" && !strings.EqualFold(name, malName):
		return name + " - " + malName
	}
	return malName
}

// profileDescription renders the profile fields, the projects and the
// hints
func profileDescription(user *User, name string, now time.Time, summary profileSummary) string {
	var sb strings.Builder
	sb.WriteString("\n")
	if user.Gender != "" {
		fmt.Fprintf(&sb, "**Gender**: %s\n", user.Gender)
	}
	if age, ok := user.Age(now); ok {
		fmt.Fprintf(&sb, "**Age**: %d\n", age)
	}
	if user.Country != nil {
		fmt.Fprintf(&sb, "**Country**: %s\n", countryName(user.Country.Code))
	}
	if loc, ok := user.Location(); ok {
		fmt.Fprintf(&sb, "**Local time**: %s (%s)\n", now.In(loc).Format(time.TimeOnly), user.Timezone)
	}
	if len(user.Languages) > 0 {
		names := make([]string, len(user.Languages))
		for i, l := range user.Languages {
			names[i] = l.Display()
		}
		fmt.Fprintf(&sb, "**Spoken languages**: %s\n", strings.Join(names, ", "))
	}
	if len(user.ProgrammingLanguages) > 0 {
		names := make([]string, len(user.ProgrammingLanguages))
		for i, l := range user.ProgrammingLanguages {
			names[i] = l.Display()
		}
		fmt.Fprintf(&sb, "**Programming languages**: %s\n", strings.Join(names, ", "))
	}
	if user.Bio != "" {
		fmt.Fprintf(&sb, "**About %s**: %s\n", name, user.Bio)
	}

	sb.WriteString("\n")
	if len(user.Projects) > 0 {
		contents := make([]string, len(user.Projects))
		for i, p := range user.Projects {
			contents[i] = p.Content()
		}
		sb.WriteString("Project(s):\n" + strings.Join(contents, "\n\n"))
	} else {
		fmt.Fprintf(&sb, "There are no projects listed for %s.", name)
	}

	hinted := false
	hint := func(format string, args ...any) {
		if !hinted {
			sb.WriteString("\n")
			hinted = true
		}
		sb.WriteString("\n" + fmt.Sprintf(format, args...))
	}
	if summary.HasExtras && !summary.ShowingExtras {
		hint("%s has extra infos available. Run **%sprofile %s extras** to see them.", name, summary.Prefix, name)
	}
	if summary.Badges > 0 {
		hint(
			"%s has collected %d %s. Run **%sbadges %s** to see %s.",
			name, summary.Badges, pluralize(int(summary.Badges), "badge", "badges"),
			summary.Prefix, name, pluralize(int(summary.Badges), "it", "them"),
		)
	}
	return sb.String()
}

func profileEmbed(user *User, name string, now time.Time, summary profileSummary) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       profileTitle(name, user.MALName),
		Color:       malColor,
		Description: profileDescription(user, name, now, summary),
	}
	if user.MALName != "" {
		embed.URL = malProfileURL + user.MALName
	}
	return embed
}

// profileExtrasMessage lists the user's answers. It's empty when they
// have none.
func profileExtrasMessage(name string, answers []UserExtras) string {
	var lines []string
	for _, answer := range answers {
		if answer.Extras == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("**%s** %s", answer.Extras.Question, answer.Response))
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("*%s's extra profile*\n\n%s", name, strings.Join(lines, "\n"))
}

// memberNames maps discord IDs to member display names
type memberNames map[string]string

func (a *Andre) memberNames(guildID string) (memberNames, error) {
	members, err := a.discord.guildMembers(guildID)
	if err != nil {
		return nil, err
	}
	names := make(memberNames, len(members))
	for _, m := range members {
		if m.User != nil {
			names[m.User.ID] = a.displayName(m)
		}
	}
	return names, nil
}

// name is the user's display name, falling back on their MAL name
func (n memberNames) name(u User) string {
	if name, ok := n[u.DiscordID]; ok {
		return name
	}
	if u.MALName != "" {
		return u.MALName
	}
	return u.DiscordID
}

// tzMessage lists users by local day, then by local time
func tzMessage(users []User, names memberNames, now time.Time) string {
	type slot struct {
		local time.Time
		users []string
	}
	slots := map[string]*slot{}
	for _, u := range users {
		loc, ok := u.Location()
		if !ok {
			continue
		}
		local := now.In(loc)
		key := local.Format(tzDayLayout + " " + time.TimeOnly)
		s, exists := slots[key]
		if !exists {
			s = &slot{local: local}
			slots[key] = s
		}
		s.users = append(s.users, fmt.Sprintf("%s *(%s)*", names.name(u), u.Timezone))
	}

	var sb strings.Builder
	day := ""
	for _, key := range sortedKeys(slots) {
		s := slots[key]
		if d := key[:len(tzDayLayout)]; d != day {
			day = d
			fmt.Fprintf(&sb, "**%s:**\n\n", s.local.Weekday())
		}
		fmt.Fprintf(&sb, "%s:\n%s\n\n", s.local.Format(time.TimeOnly), strings.Join(s.users, ", "))
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// usersMessage lists registered members, members without a profile,
// and profiles of users who left. withExtras is only shown when
// showExtras is set.
func usersMessage(registered, unregistered, absent, withExtras []string, showExtras bool, prefix string) string {
	var sb strings.Builder
	section := func(title string, names []string) {
		fmt.Fprintf(&sb, "%s:\n%s\n\n", title, strings.Join(names, ", "))
	}
	if len(registered) > 0 {
		section("**Registered users**", registered)
	}
	if len(unregistered) > 0 {
		section(
			fmt.Sprintf("**Users who have not filled their profile yet** (type `%suser setup`)", prefix),
			unregistered,
		)
	}
	if len(absent) > 0 {
		section("**Registered users who are not in this server**", absent)
	}
	if showExtras {
		section("Registered users with an extras profile", withExtras)
	}
	return sb.String()
}

// projectsListMessage lists every project with its owners
func projectsListMessage(projects []Project, owners map[uint][]string, prefix string) string {
	lines := make([]string, 0, len(projects))
	for _, p := range projects {
		if names := owners[p.ID]; len(names) > 0 {
			lines = append(lines, fmt.Sprintf("%s *(%s)*", p.Name, strings.Join(names, ", ")))
		} else {
			lines = append(lines, p.Name)
		}
	}
	return fmt.Sprintf(
		"Use `%sproject [project_name]` to get details about a project.\n\n%s",
		prefix, strings.Join(lines, "\n"),
	)
}

// projectDetailMessage shows the first project matching query
func projectDetailMessage(query string, matches []Project, owners []string) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No project found with the name `%s`", query)
	}
	var sb strings.Builder
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, p := range matches {
			names[i] = p.Name
		}
		fmt.Fprintf(
			&sb, "Multiple projects found for *%s*: %s\nPrinting first match only:\n\n",
			query, strings.Join(names, ", "),
		)
	}
	project := matches[0]
	fmt.Fprintf(&sb, "**%s** by %s", project.Name, strings.Join(owners, ", "))
	if project.Description != "" {
		sb.WriteString("\n" + project.Description)
	}
	if project.Link != "" {
		sb.WriteString("\n" + project.Link)
	}
	return sb.String()
}

// countsAsCompleted tells if a scored item was seen enough to deserve
// its score. Unscored items only count when completed.
func countsAsCompleted(entity Entity, item ListItem, score int) bool {
	if score == 0 {
		return item.Status == statusCompleted
	}
	switch item.Status {
	case statusCompleted, statusWatching, statusReading, statusOnHold:
		return true
	case statusDropped:
		if entity != EntityAnime {
			return false
		}
		return (item.Episodes > 0 && float64(item.Progress)/float64(item.Episodes) >= 0.8) ||
			item.Progress > 50
	}
	return false
}

// scoresOverview counts items per score, flagging scores given to
// items that weren't finished
func scoresOverview(entity Entity, name string, stats ListStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s's list:\n\n", name)
	for score := maxScore; score >= 0; score-- {
		items := stats.Scores[score]
		completed := 0
		for _, item := range items {
			if countsAsCompleted(entity, item, score) {
				completed++
			}
		}

		if score == 0 {
			reaction := reactionOK
			if completed > 0 {
				reaction = reactionKO
			}
			fmt.Fprintf(&sb, "**No score**: %d \\%s\n", completed, reaction)
			continue
		}

		percent := 0.0
		if stats.TotalScored > 0 {
			percent = float64(len(items)) * 100 / float64(stats.TotalScored)
		}
		fmt.Fprintf(&sb, "**%d**: %d (%.1f%%)", score, len(items), percent)
		if missing := len(items) - completed; missing > 0 {
			fmt.Fprintf(&sb, " \\%s (%d)\n", reactionKO, missing)
		} else {
			fmt.Fprintf(&sb, " \\%s\n", reactionOK)
		}
	}
	return sb.String()
}

// filterScores lists the scores matching the filter. Lower bounds list
// the highest scores first.
func filterScores(f ScoreFilter) []int {
	var scores []int
	switch f.Op {
	case ">=", ">":
		for score := maxScore; score >= 0; score-- {
			if f.Match(score) {
				scores = append(scores, score)
			}
		}
	case "<=", "<":
		for score := 1; score <= maxScore; score++ {
			if f.Match(score) {
				scores = append(scores, score)
			}
		}
	default:
		scores = []int{f.Value}
	}
	return scores
}

// scoresFilteredMessage lists the titles of items matching the filter
func scoresFilteredMessage(name string, stats ListStats, f ScoreFilter) string {
	var lines []string
	for _, score := range filterScores(f) {
		if score < 0 || score > maxScore || len(stats.Scores[score]) == 0 {
			continue
		}
		lines = append(lines, "", fmt.Sprintf("**%d**:", score))
		for _, item := range stats.Scores[score] {
			if item.Status == statusCompleted {
				lines = append(lines, item.Title)
			} else {
				lines = append(lines, fmt.Sprintf("%s (%s)", item.Title, item.Status))
			}
		}
	}
	if len(lines) == 0 {
		return "No match for your filter."
	}
	return cutLines(name+"'s list:\n", lines, discordMaxMessageLength)
}

// statEntry is a member's value for a profile stat. Entries are grouped
// by key, and the group is named after the title of its first entry.
type statEntry struct {
	key   string
	title string
	name  string
}

type statGroup struct {
	title string
	names []string
}

// groupStats groups entries by key, sorted by key or by descending
// group size
func groupStats(entries []statEntry, byCount bool) []statGroup {
	byKey := map[string]*statGroup{}
	for _, e := range entries {
		g, ok := byKey[e.key]
		if !ok {
			g = &statGroup{title: e.title}
			byKey[e.key] = g
		}
		g.names = append(g.names, e.name)
	}
	groups := make([]statGroup, 0, len(byKey))
	for _, key := range sortedKeys(byKey) {
		groups = append(groups, *byKey[key])
	}
	if byCount {
		slices.SortStableFunc(
			groups, func(a, b statGroup) int {
				return cmp.Compare(len(b.names), len(a.names))
			},
		)
	}
	return groups
}

// statLines renders groups as "**title**: names", or with their size
// instead of the names when counting
func statLines(groups []statGroup, byCount bool) []string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		if byCount {
			lines = append(lines, fmt.Sprintf("**%s**: %d", g.title, len(g.names)))
		} else {
			lines = append(lines, fmt.Sprintf("**%s**: %s", g.title, strings.Join(g.names, ", ")))
		}
	}
	return lines
}

func isCountArg(s string) bool {
	s = strings.ToLower(s)
	return s == "count" || s == "total"
}

func ageStatLines(users []User, lookup *UserLookup, now time.Time) []string {
	var entries []statEntry
	for _, u := range users {
		if u.MALName == "" || u.Birthdate == "" {
			continue
		}
		e := statEntry{key: "~", title: "Unknown", name: lookup.Name(u.MALName)}
		if age, ok := u.Age(now); ok {
			e.key = fmt.Sprintf("%03d", age)
			e.title = strconv.Itoa(age)
		}
		entries = append(entries, e)
	}
	groups := groupStats(entries, false)
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("`%s: ` **%d** *(%s)*", g.title, len(g.names), strings.Join(g.names, ", ")))
	}
	return lines
}

func genderStatEntries(users []User, lookup *UserLookup) []statEntry {
	var entries []statEntry
	for _, u := range users {
		if u.MALName == "" {
			continue
		}
		gender := strings.ToLower(cmp.Or(u.Gender, "unknown"))
		entries = append(entries, statEntry{key: gender, title: gender, name: lookup.Name(u.MALName)})
	}
	return entries
}

func countryStatEntries(users []User, lookup *UserLookup) []statEntry {
	var entries []statEntry
	for _, u := range users {
		if u.MALName == "" || u.Country == nil {
			continue
		}
		name := countryName(u.Country.Code)
		entries = append(entries, statEntry{key: name, title: name, name: lookup.Name(u.MALName)})
	}
	return entries
}

func languageStatEntries(users []User, lookup *UserLookup) []statEntry {
	var entries []statEntry
	for _, u := range users {
		if u.MALName == "" {
			continue
		}
		for _, l := range u.Languages {
			name := lookup.Name(u.MALName)
			key := languageName(l.Code)
			switch {
			case l.Code == languageUncoded:
				key = l.Extra
			case l.Extra != "":
				name += " (" + l.Extra + ")"
			}
			entries = append(entries, statEntry{key: key, title: key, name: name})
		}
	}
	return entries
}

func progStatEntries(users []User, lookup *UserLookup) []statEntry {
	var entries []statEntry
	for _, u := range users {
		if u.MALName == "" {
			continue
		}
		for _, l := range u.ProgrammingLanguages {
			name := lookup.Name(u.MALName)
			if l.Extra != "" {
				name += " (" + l.Extra + ")"
			}
			entries = append(entries, statEntry{key: strings.ToLower(l.Name), title: l.Name, name: name})
		}
	}
	return entries
}

// memberStats is a member's list statistics
type memberStats struct {
	Name  string
	Stats ListStats
}

func entityStatsHelp(entity Entity) string {
	if entity == EntityManga {
		return "Available manga stats: `score`, `volumes`, `chapters`, `days`, " +
			"`reading`, `completed`, `on-hold`, `dropped`, `ptr`, `start`"
	}
	return "Available anime stats: `score`, `episodes`, `days`, " +
		"`watching`, `completed`, `on-hold`, `dropped`, `ptw`, `start`"
}

// entityStatLines ranks members by the requested stat. ok is false for
// unknown stats.
func entityStatLines(entity Entity, stat string, members []memberStats, now time.Time) (lines []string, ok bool) {
	members = slices.Clone(members)
	slices.SortFunc(members, func(a, b memberStats) int { return cmp.Compare(a.Name, b.Name) })

	ranked := func(value func(ListStats) float64, format func(ListStats) string) []string {
		slices.SortStableFunc(
			members, func(a, b memberStats) int {
				return cmp.Compare(value(b.Stats), value(a.Stats))
			},
		)
		rv := make([]string, 0, len(members))
		for _, m := range members {
			rv = append(rv, fmt.Sprintf("**%s**: %s", m.Name, format(m.Stats)))
		}
		return rv
	}
	count := func(n func(ListStats) int) []string {
		return ranked(
			func(s ListStats) float64 { return float64(n(s)) },
			func(s ListStats) string { return strconv.Itoa(n(s)) },
		)
	}

	stat = strings.ToLower(strings.TrimSpace(stat))
	switch {
	case stat == "score" || stat == "scores":
		return ranked(
			func(s ListStats) float64 { return s.MeanScore },
			func(s ListStats) string { return fmt.Sprintf("%.2f (%d scores)", s.MeanScore, s.TotalScored) },
		), true
	case entity == EntityAnime && (stat == "episodes" || stat == "episode" || stat == "count"):
		return count(func(s ListStats) int { return s.Episodes }), true
	case entity == EntityManga && (stat == "chapters" || stat == "chapter"):
		return count(func(s ListStats) int { return s.Chapters }), true
	case entity == EntityManga && (stat == "volumes" || stat == "volume"):
		return count(func(s ListStats) int { return s.Volumes }), true
	case stat == "days" || stat == "day" || stat == "time":
		return ranked(
			func(s ListStats) float64 { return s.Days },
			func(s ListStats) string { return strconv.FormatFloat(s.Days, 'f', -1, 64) },
		), true
	case stat == "start" || stat == "started":
		slices.SortStableFunc(
			members, func(a, b memberStats) int {
				x, y := a.Stats.FirstDate, b.Stats.FirstDate
				switch {
				case x == y:
					return 0
				case x == "":
					return 1
				case y == "":
					return -1
				}
				return cmp.Compare(x, y)
			},
		)
		for _, m := range members {
			lines = append(lines, fmt.Sprintf("**%s**: %s", m.Name, startDateString(m.Stats.FirstDate, now)))
		}
		return lines, true
	}

	if status, isStatus := entity.normalizeStatus(stat); isStatus && status != "" {
		return count(func(s ListStats) int { return len(s.ByStatus[status]) }), true
	}
	return nil, false
}

func startDateString(date string, now time.Time) string {
	started, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "*Unknown*"
	}
	return fmt.Sprintf("%s *(%s)*", humanize.RelTime(started, now, "ago", "from now"), date)
}

func (a *Andre) profileViewCommands() []*Command {
	stat := func(name string, aliases []string, run func(c *CommandContext) error) *Command {
		return &Command{
			Name:     name,
			Aliases:  aliases,
			Usage:    "[count]",
			Category: categoryUserStats,
			Run:      run,
		}
	}
	entityStat := func(entity Entity, aliases []string) *Command {
		return &Command{
			Name:     string(entity),
			Aliases:  aliases,
			Usage:    "[stat]",
			Category: categoryUserStats,
			Run: func(c *CommandContext) error {
				return a.runEntityStats(c, entity)
			},
		}
	}
	profileStat := func(entries func([]User, *UserLookup) []statEntry) func(c *CommandContext) error {
		return func(c *CommandContext) error {
			users, lookup, err := a.statUsers(c)
			if err != nil {
				return err
			}
			byCount := isCountArg(c.Arg(0))
			return c.SafeSay(strings.Join(statLines(groupStats(entries(users, lookup), byCount), byCount), "\n"))
		}
	}

	return []*Command{
		{
			Name:     "profile",
			Aliases:  []string{"Profile"},
			Usage:    "[[+]extras] [user]",
			Help:     "Shows a member's profile. `extras` shows their extra profile instead, `+extras` shows both.",
			Category: categoryProfile,
			Run:      a.runProfile,
		},
		{
			Name:     "tz",
			Aliases:  []string{"Tz", "timezone"},
			Usage:    "[user]",
			Help:     "Shows a member's local time, or everyone's.",
			Category: categoryProfile,
			Run:      a.runTZ,
		},
		{
			Name:     "users",
			Aliases:  []string{"Users"},
			Usage:    "[extras]",
			Help:     "Lists the members with and without a profile.",
			Category: categoryProfile,
			Run:      a.runUsers,
		},
		{
			Name:     "projects",
			Aliases:  []string{"Projects", "Project", "project"},
			Usage:    "[name]",
			Help:     "Lists the members' projects, or shows the details of a project.",
			Category: categoryProfile,
			Run:      a.runProjects,
		},
		{
			Name:     "scores",
			Aliases:  []string{"score", "Scores", "Score"},
			Usage:    "[anime|manga] [user] [filter]",
			Help:     "Shows a member's score distribution, or the titles matching a filter like `>=8`, `<5` or `7`.",
			Category: categoryUserStats,
			Run:      a.runScores,
		},
		{
			Name:     "stats",
			Aliases:  []string{"Stats", "Stat", "stat"},
			Usage:    "age|gender|country|language|prog|anime|manga",
			Help:     "Groups members by a profile field, or ranks them by list stats.",
			Category: categoryUserStats,
			Run: func(c *CommandContext) error {
				return c.Say("Available stats: `age`, `gender`, `country`, `language`, `prog`, `anime`, `manga`")
			},
			Subcommands: []*Command{
				{
					Name:     "age",
					Aliases:  []string{"ages"},
					Category: categoryUserStats,
					Run: func(c *CommandContext) error {
						users, lookup, err := a.statUsers(c)
						if err != nil {
							return err
						}
						return c.SafeSay(strings.Join(ageStatLines(users, lookup, a.now()), "\n"))
					},
				},
				stat("gender", []string{"genders"}, profileStat(genderStatEntries)),
				stat("country", []string{"countries"}, profileStat(countryStatEntries)),
				stat("language", []string{"languages"}, profileStat(languageStatEntries)),
				stat(
					"prog",
					[]string{"programming", "prog_language", "prog_languages"},
					profileStat(progStatEntries),
				),
				entityStat(EntityAnime, []string{"a", "animelist"}),
				entityStat(EntityManga, []string{"m", "mangalist"}),
			},
		},
	}
}

func (a *Andre) runProfile(c *CommandContext) error {
	ctx := c.Context()
	memberRaw, flag := profileArgs(c.Args)
	member, err := a.resolveMemberOrAuthor(ctx, c.Message, memberRaw)
	if err != nil {
		return err
	}
	user, err := getUserByDiscordID(ctx, a.db, member.User.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Sayf("No data recorded for %s", member.User.Username)
		}
		return err
	}
	name := a.displayName(member)

	answers, err := userExtras(ctx, a.db, user.ID)
	if err != nil {
		return err
	}

	if flag == "" || strings.HasPrefix(flag, "+") {
		badges, countErr := countUserBadges(ctx, a.db, user.ID)
		if countErr != nil {
			return countErr
		}
		embed := profileEmbed(
			user, name, a.now(), profileSummary{
				HasExtras:     len(answers) > 0,
				Badges:        badges,
				Prefix:        a.router.prefix,
				ShowingExtras: flag != "",
			},
		)
		if user.MALName != "" {
			if picture, picErr := a.mal.ProfilePicture(ctx, user.MALName); picErr == nil && picture != "" {
				embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: picture}
			}
		}
		if err = c.SayEmbed(embed); err != nil {
			return err
		}
	}
	if flag != "" {
		return c.SafeSay(profileExtrasMessage(name, answers))
	}
	return nil
}

func (a *Andre) runTZ(c *CommandContext) error {
	ctx := c.Context()
	if strings.TrimSpace(c.Rest) == "" {
		var users []User
		err := a.db.WithContext(ctx).
			Where("timezone IS NOT NULL AND timezone <> ''").
			Order("id").
			Find(&users).Error
		if err != nil {
			return err
		}
		names, err := a.memberNames(a.guildFor(c.Message))
		if err != nil {
			return err
		}
		return c.SafeSay(tzMessage(users, names, a.now()))
	}

	member, err := a.ResolveMember(ctx, c.Message, c.Rest)
	if err != nil {
		return err
	}
	notSet := fmt.Sprintf("%s has not set their timezone!", a.displayName(member))
	user, err := getUserByDiscordID(ctx, a.db, member.User.ID)
	if errors.Is(err, ErrNotFound) {
		return c.Say(notSet)
	}
	if err != nil {
		return err
	}
	loc, ok := user.Location()
	if !ok {
		return c.Say(notSet)
	}
	return c.Sayf("%s (%s)\n", a.now().In(loc).Format("Monday "+time.TimeOnly), user.Timezone)
}

func (a *Andre) runUsers(c *CommandContext) error {
	ctx := c.Context()
	var users []User
	if err := a.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return err
	}
	members, err := a.discord.guildMembers(a.guildFor(c.Message))
	if err != nil {
		return err
	}

	var withExtrasIDs []uint
	err = a.db.WithContext(ctx).Model(&UserExtras{}).Distinct("user_id").Pluck("user_id", &withExtrasIDs).Error
	if err != nil {
		return err
	}

	byDiscordID := make(map[string]*User, len(users))
	for i := range users {
		byDiscordID[users[i].DiscordID] = &users[i]
	}
	present := map[string]bool{}
	var registered, unregistered, withExtras []string
	for _, m := range members {
		if m.User == nil || m.User.Bot {
			continue
		}
		name := a.displayName(m)
		u, ok := byDiscordID[m.User.ID]
		if !ok {
			unregistered = append(unregistered, name)
			continue
		}
		present[u.DiscordID] = true
		if name == u.MALName {
			registered = append(registered, name)
		} else {
			registered = append(registered, fmt.Sprintf("%s *(%s)*", name, u.MALName))
		}
		if slices.Contains(withExtrasIDs, u.ID) {
			withExtras = append(withExtras, name)
		}
	}
	var absent []string
	for _, u := range users {
		if !present[u.DiscordID] {
			absent = append(absent, u.MALName)
		}
	}

	showExtras := strings.EqualFold(c.Arg(0), "extra") || strings.EqualFold(c.Arg(0), "extras")
	return c.SafeSay(usersMessage(registered, unregistered, absent, withExtras, showExtras, a.router.prefix))
}

func (a *Andre) runProjects(c *CommandContext) error {
	ctx := c.Context()
	lookup, err := a.userLookup(ctx, a.guildFor(c.Message))
	if err != nil {
		return err
	}
	query := strings.TrimSpace(c.Rest)

	if query == "" {
		var projects []Project
		if err = a.db.WithContext(ctx).Order("name").Find(&projects).Error; err != nil {
			return err
		}
		users, usersErr := allUsers(ctx, a.db)
		if usersErr != nil {
			return usersErr
		}
		owners := map[uint][]string{}
		for _, u := range users {
			if u.MALName == "" {
				continue
			}
			for _, p := range u.Projects {
				owners[p.ID] = append(owners[p.ID], lookup.Name(u.MALName))
			}
		}
		return c.SafeSay(projectsListMessage(projects, owners, a.router.prefix))
	}

	matches, err := searchProjects(ctx, a.db, query)
	if err != nil {
		return err
	}
	var owners []string
	if len(matches) > 0 {
		users, ownersErr := projectOwners(ctx, a.db, matches[0].ID)
		if ownersErr != nil {
			return ownersErr
		}
		for _, u := range users {
			owners = append(owners, lookup.Name(u.MALName))
		}
	}
	return c.Say(projectDetailMessage(query, matches, owners))
}

// searchProjects matches project names containing query,
// case-insensitively
func searchProjects(ctx context.Context, db *gorm.DB, query string) ([]Project, error) {
	var projects []Project
	err := db.WithContext(ctx).
		Where("LOWER(name) LIKE LOWER(?)", "%"+query+"%").
		Order("id").
		Find(&projects).Error
	return projects, err
}

func (a *Andre) runScores(c *CommandContext) error {
	ctx := c.Context()
	args := c.Args
	entity := EntityAnime
	if len(args) > 0 {
		if e, ok := parseEntity(args[0]); ok {
			entity = e
			args = args[1:]
		}
	}
	memberRaw, filterRaw := "", ""
	if len(args) > 0 {
		memberRaw = args[0]
	}
	if len(args) > 1 {
		filterRaw = args[1]
	}
	if _, isFilter := parseScoreFilter(memberRaw); isFilter && filterRaw == "" {
		memberRaw, filterRaw = "", memberRaw
	}

	member, malName, err := a.memberMAL(c, memberRaw)
	if err != nil {
		return err
	}
	list, err := a.cache.Get(ctx, malName, entity)
	if err != nil {
		return err
	}
	stats := ComputeListStats(entity, list)
	name := a.displayName(member)

	if filterRaw == "" {
		return c.Say(scoresOverview(entity, name, stats))
	}
	filter, ok := parseScoreFilter(filterRaw)
	if !ok {
		filter.Value = maxScore
	}
	return c.Say(scoresFilteredMessage(name, stats, filter))
}

// statUsers returns every profile, and the lookup to name them
func (a *Andre) statUsers(c *CommandContext) ([]User, *UserLookup, error) {
	users, err := allUsers(c.Context(), a.db)
	if err != nil {
		return nil, nil, err
	}
	lookup, err := a.userLookup(c.Context(), a.guildFor(c.Message))
	if err != nil {
		return nil, nil, err
	}
	return users, lookup, nil
}

func (a *Andre) runEntityStats(c *CommandContext, entity Entity) error {
	stat := c.Arg(0)
	if stat == "" {
		return c.Say(entityStatsHelp(entity))
	}
	lists, err := a.memberLists(c, entity)
	if err != nil {
		return err
	}
	lookup, err := a.userLookup(c.Context(), a.guildFor(c.Message))
	if err != nil {
		return err
	}
	members := make([]memberStats, 0, len(lists))
	for malName, list := range lists {
		members = append(members, memberStats{Name: lookup.Name(malName), Stats: ComputeListStats(entity, list)})
	}
	lines, ok := entityStatLines(entity, stat, members, a.now())
	if !ok {
		return nil
	}
	return c.SafeSay(strings.Join(lines, "\n"))
}
