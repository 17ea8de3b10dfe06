package andre

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
)

const vndbNotFound = "Not found"

// embed descriptions are capped at 4096 characters
const embedDescriptionLimit = 4096

func vndbHelp(prefix string) string {
	return strings.ReplaceAll(
		"**Commands**:\n"+
			"`!vn [options] [id|name]` Displays a VN.\n"+
			"`!vnsearch [name]` Searches for a VN. *Alias: vns*\n"+
			"`!vntags [options] [id|name]` Displays a VN's tags. *Alias: vnt*\n"+
			"`!vncharacter [options] [id|name]` Displays a VN character. *Alias: vnc*\n"+
			"`!vncharactersearch [name]` Searches for a VN character. *Aliases: vnsc, vncs*\n"+
			"`!vncharactertraits [options] [id|name]` Displays a character's traits. *Aliases: vntc, vnct*\n\n"+
			"**Options**:\n"+
			"*[option]* can be any combination of the following options, and can be placed anywhere in the string:\n"+
			"`+spoil` Enables spoiler info **[PLEASE AVOID IN PUBLIC CHANNELS]**\n"+
			"`+tags` On !vn, also show the VN's tags\n"+
			"`+traits` On !vnc, also show the character's traits\n"+
			"`+related` On !vn, also show related VNs\n"+
			"`+vns` On !vnc, also show the VNs the character appears in\n\n"+
			"`+tags` can also be modified with a list of allowed tag categories in a comma-separated list. "+
			"Categories are `regular`, `nsfw` and `tech`. Defaults to regular.\n\n"+
			"Examples: ```\n!vn clannad\n!vnc +traits archer\n!vnt +spoil fsn +tags=nsfw,tech```\n\n"+
			"**Meta commands**:\n"+vndbAliasHelp,
		DefaultCommandPrefix, prefix,
	)
}

const vndbAliasHelp = "`!vndbalias set [alias] => [id|name]` Set an alias to an ID or name. " +
	"Any vndb command that takes a name as an argument will try to substitute an alias first (only exact-match work)\n" +
	"`!vndbalias unset [alias]` Remove an existing alias\n" +
	"`!vndbalias list` List existing aliases"

func vndbThumbnail(img *VNImage) *discordgo.MessageEmbedThumbnail {
	if img == nil || img.URL == "" || img.Sexual >= 1 {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: img.URL}
}

func vnEmbed(vn *VN, opts vndbOptions) *discordgo.MessageEmbed {
	var sb strings.Builder
	if vn.AltTitle != "" {
		fmt.Fprintf(&sb, "Original title: %s\n", vn.AltTitle)
	}
	if len(vn.Aliases) > 0 {
		fmt.Fprintf(&sb, "Aliases: %s\n", strings.Join(vn.Aliases, ", "))
	}
	fmt.Fprintf(&sb, "Length: %s\n\n", gameLength(vn.Length))
	fmt.Fprintf(&sb, "Rating: %.2f\n", vn.Rating/10)
	fmt.Fprintf(&sb, "Votes: %d\n", vn.VoteCount)

	if d := strings.TrimSpace(vn.Description); d != "" {
		sb.WriteString("\n" + purgeBBCode(d, opts.Spoil) + "\n")
	}
	if opts.Related && len(vn.Relations) > 0 {
		sb.WriteString("\n**Related**:\n")
		for _, r := range vn.Relations {
			fmt.Fprintf(&sb, "%s: %s\n", r.Relation, r.Title)
		}
	}
	if opts.Tags {
		if tags := displayTags(vn.Tags, opts); len(tags) > 0 {
			sb.WriteString("\n" + strings.Join(tags, ", "))
		}
	}

	return &discordgo.MessageEmbed{
		Title:       vn.Title,
		URL:         vndbURL + vn.ID,
		Description: truncate(sb.String(), embedDescriptionLimit),
		Thumbnail:   vndbThumbnail(vn.Image),
		Footer:      &discordgo.MessageEmbedFooter{Text: "id: " + vn.ID},
	}
}

func vnTagsEmbed(vn *VN, opts vndbOptions) *discordgo.MessageEmbed {
	description := "No tags"
	if tags := displayTags(vn.Tags, opts); len(tags) > 0 {
		description = strings.Join(tags, "\n")
	}
	return &discordgo.MessageEmbed{
		Title:       vn.Title,
		URL:         vndbURL + vn.ID,
		Description: truncate(description, embedDescriptionLimit),
		Thumbnail:   vndbThumbnail(vn.Image),
	}
}

func characterEmbed(chara *VNCharacter, opts vndbOptions) *discordgo.MessageEmbed {
	var sb strings.Builder
	sb.WriteString(genderSymbol(chara.Sex))
	if chara.Original != "" {
		sb.WriteString(" " + chara.Original)
	}
	sb.WriteString("\n")
	if len(chara.Aliases) > 0 {
		fmt.Fprintf(&sb, "Aliases: %s\n", strings.Join(chara.Aliases, ", "))
	}
	sb.WriteString("\n")

	if chara.BloodType != "" {
		fmt.Fprintf(&sb, "Blood type: %s\n", strings.ToUpper(chara.BloodType))
	}
	if len(chara.Birthday) == 2 {
		fmt.Fprintf(&sb, "Birthday: %s\n", characterBirthday(chara.Birthday))
	}
	if m := measurements(chara); m != "" {
		sb.WriteString(m + "\n")
	}
	if d := strings.TrimSpace(chara.Description); d != "" {
		sb.WriteString("\n" + purgeBBCode(d, opts.Spoil) + "\n")
	}
	if opts.VNs && len(chara.VNs) > 0 {
		sb.WriteString("\n**VNs**:\n")
		for _, vn := range chara.VNs {
			if vn.Spoiler > 0 && !opts.Spoil {
				continue
			}
			fmt.Fprintf(&sb, "%s (%s)\n", vn.Title, vn.Role)
		}
	}
	if opts.Traits {
		if traits := displayTraits(chara.Traits, opts.Spoil); traits != "" {
			sb.WriteString("\n" + traits)
		}
	}

	return &discordgo.MessageEmbed{
		Title:       chara.Name,
		URL:         vndbURL + chara.ID,
		Description: truncate(sb.String(), embedDescriptionLimit),
		Thumbnail:   vndbThumbnail(chara.Image),
		Footer:      &discordgo.MessageEmbedFooter{Text: "id: " + chara.ID},
	}
}

func characterTraitsEmbed(chara *VNCharacter, opts vndbOptions) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       chara.Name,
		URL:         vndbURL + chara.ID,
		Description: truncate(displayTraits(chara.Traits, opts.Spoil), embedDescriptionLimit),
		Thumbnail:   vndbThumbnail(chara.Image),
	}
}

// characterAPIJSON is the `!vndbapi` output
type characterAPIJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Image       string           `json:"image"`
	Description string           `json:"description"`
	VNs         []characterAPIVN `json:"vns"`
}

type characterAPIVN struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func characterAPI(chara *VNCharacter) characterAPIJSON {
	out := characterAPIJSON{
		ID:          chara.ID,
		Name:        chara.Name,
		Description: purgeBBCode(strings.TrimSpace(chara.Description), false),
	}
	out.VNs = make([]characterAPIVN, 0, len(chara.VNs))
	if chara.Image != nil {
		out.Image = chara.Image.URL
	}
	for _, vn := range chara.VNs {
		if vn.Spoiler > 0 {
			continue
		}
		out.VNs = append(out.VNs, characterAPIVN{ID: vn.ID, Name: vn.Title, Role: vn.Role})
	}
	return out
}

func searchLines[T any](items []T, line func(T) string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = line(item)
	}
	return strings.Join(lines, "\n")
}

func (a *Andre) vndbCommands() []*Command {
	return []*Command{
		{
			Name:     "vndb",
			Aliases:  []string{"vndbhelp", "VNDB", "VNDBHelp"},
			Help:     "Lists the VNDB commands.",
			Category: categoryVNDB,
			Run: func(c *CommandContext) error {
				return c.Say(vndbHelp(a.router.prefix))
			},
		},
		{
			Name:     "vn",
			Aliases:  []string{"VN"},
			Usage:    "[options] id|name",
			Help:     "Displays a VN.",
			Category: categoryVNDB,
			Run:      a.runVN,
		},
		{
			Name:     "vnsearch",
			Aliases:  []string{"VNSearch", "vns"},
			Usage:    "name",
			Help:     "Searches for a VN.",
			Category: categoryVNDB,
			Run:      a.runVNSearch,
		},
		{
			Name:     "vntags",
			Aliases:  []string{"VNTags", "vnt"},
			Usage:    "[options] id|name",
			Help:     "Displays a VN's tags.",
			Category: categoryVNDB,
			Run:      a.runVNTags,
		},
		{
			Name:     "vncharacter",
			Aliases:  []string{"VNCharacter", "vnc"},
			Usage:    "[options] id|name",
			Help:     "Displays a VN character.",
			Category: categoryVNDB,
			Run:      a.runVNCharacter,
		},
		{
			Name:     "vncharactersearch",
			Aliases:  []string{"VNCharacterSearch", "vncs", "vnsc"},
			Usage:    "name",
			Help:     "Searches for a VN character.",
			Category: categoryVNDB,
			Run:      a.runVNCharacterSearch,
		},
		{
			Name:     "vncharactertraits",
			Aliases:  []string{"VNCharacterTraits", "vnct", "vntc"},
			Usage:    "[options] id|name",
			Help:     "Displays a character's traits.",
			Category: categoryVNDB,
			Run:      a.runVNCharacterTraits,
		},
		{
			Name:     "vndbalias",
			Category: categoryVNDB,
			Run: func(c *CommandContext) error {
				return c.Say(strings.ReplaceAll(vndbAliasHelp, DefaultCommandPrefix, a.router.prefix))
			},
			Subcommands: []*Command{
				{Name: "set", Usage: "alias => id|name", Level: PermissionUnsafe, Run: a.runVNDBAliasSet},
				{Name: "unset", Usage: "alias", Level: PermissionUnsafe, Run: a.runVNDBAliasUnset},
				{Name: "list", Run: a.runVNDBAliasList},
			},
		},
		{
			Name:     "vndbapi",
			Usage:    "character_id",
			Category: categoryVNDB,
			Hidden:   true,
			Run:      a.runVNDBAPI,
		},
	}
}

// findVN returns the first VN matching the query, after alias
// substitution
func (a *Andre) findVN(c *CommandContext, query string, fields ...string) (*VN, error) {
	filter := vndbFilter("v", a.applyVNDBAlias(query))
	vns, err := a.vndb.VNs(c.Context(), filter, strings.Join(fields, ","), 1)
	if err != nil {
		return nil, err
	}
	if len(vns) == 0 {
		return nil, nil
	}
	return &vns[0], nil
}

func (a *Andre) findCharacter(c *CommandContext, query string, fields ...string) (*VNCharacter, error) {
	filter := vndbFilter("c", a.applyVNDBAlias(query))
	charas, err := a.vndb.Characters(c.Context(), filter, strings.Join(fields, ","), 1)
	if err != nil {
		return nil, err
	}
	if len(charas) == 0 {
		return nil, nil
	}
	return &charas[0], nil
}

func (a *Andre) runVN(c *CommandContext) error {
	query, opts := extractVNDBOptions(c.Rest)
	fields := []string{vnFieldsDetails}
	if opts.Tags {
		fields = append(fields, vnFieldsTags)
	}
	if opts.Related {
		fields = append(fields, vnFieldsRelations)
	}
	vn, err := a.findVN(c, query, fields...)
	if err != nil {
		return err
	}
	if vn == nil {
		return c.Say(vndbNotFound)
	}
	return c.SayEmbed(vnEmbed(vn, opts))
}

func (a *Andre) runVNTags(c *CommandContext) error {
	query, opts := extractVNDBOptions(c.Rest)
	vn, err := a.findVN(c, query, vnFieldsDetails, vnFieldsTags)
	if err != nil {
		return err
	}
	if vn == nil {
		return c.Say(vndbNotFound)
	}
	return c.SayEmbed(vnTagsEmbed(vn, opts))
}

func (a *Andre) runVNSearch(c *CommandContext) error {
	vns, err := a.vndb.VNs(
		c.Context(), vndbFilter("v", a.applyVNDBAlias(c.Rest)), vnFieldsBasic, vndbSearchResults,
	)
	if err != nil {
		return err
	}
	if len(vns) == 0 {
		return c.Say(vndbNotFound)
	}
	return c.SafeSay(searchLines(vns, func(vn VN) string { return fmt.Sprintf("`%s`: %s", vn.ID, vn.Title) }))
}

func (a *Andre) runVNCharacter(c *CommandContext) error {
	query, opts := extractVNDBOptions(c.Rest)
	fields := []string{charFieldsDetails}
	if opts.Traits {
		fields = append(fields, charFieldsTraits)
	}
	if opts.VNs {
		fields = append(fields, charFieldsVNs)
	}
	chara, err := a.findCharacter(c, query, fields...)
	if err != nil {
		return err
	}
	if chara == nil {
		return c.Say(vndbNotFound)
	}
	return c.SayEmbed(characterEmbed(chara, opts))
}

func (a *Andre) runVNCharacterSearch(c *CommandContext) error {
	charas, err := a.vndb.Characters(
		c.Context(), vndbFilter("c", a.applyVNDBAlias(c.Rest)), charFieldsBasic, vndbSearchResults,
	)
	if err != nil {
		return err
	}
	if len(charas) == 0 {
		return c.Say(vndbNotFound)
	}
	return c.SafeSay(
		searchLines(charas, func(ch VNCharacter) string { return fmt.Sprintf("`%s`: %s", ch.ID, ch.Name) }),
	)
}

func (a *Andre) runVNCharacterTraits(c *CommandContext) error {
	query, opts := extractVNDBOptions(c.Rest)
	chara, err := a.findCharacter(c, query, charFieldsDetails, charFieldsTraits)
	if err != nil {
		return err
	}
	if chara == nil {
		return c.Say(vndbNotFound)
	}
	return c.SayEmbed(characterTraitsEmbed(chara, opts))
}

func (a *Andre) runVNDBAliasSet(c *CommandContext) error {
	parts := strings.Split(c.Rest, "=>")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return c.React(reactionKO)
	}
	if err := a.setVNDBAlias(c.Context(), strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])); err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runVNDBAliasUnset(c *CommandContext) error {
	ok, err := a.unsetVNDBAlias(c.Context(), strings.TrimSpace(c.Rest))
	if err != nil {
		return err
	}
	if !ok {
		return c.React(reactionKO)
	}
	return c.OK()
}

func vndbAliasList(aliases map[string]string) string {
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	var sb strings.Builder
	for _, alias := range names {
		fmt.Fprintf(&sb, "**%s**: %s\n", alias, aliases[alias])
	}
	return sb.String()
}

func (a *Andre) runVNDBAliasList(c *CommandContext) error {
	message := vndbAliasList(a.VNDBAliases())
	if message == "" {
		return c.Say("No alias")
	}
	return c.SafeSay(message)
}

func (a *Andre) runVNDBAPI(c *CommandContext) error {
	const notFoundJSON = "```{\"error\": \"not found\"}```"
	id := strings.TrimSpace(c.Arg(0))
	if _, ok := atoi(strings.TrimPrefix(strings.ToLower(id), "c")); !ok {
		return c.Say(notFoundJSON)
	}
	charas, err := a.vndb.Characters(
		c.Context(), vndbFilter("c", id),
		charFieldsDetails+","+charFieldsVNs+",vns.id",
		1,
	)
	if err != nil {
		logErr(c.Context(), c.Logger(), "vndbapi lookup failed", err, "id", id)
		return c.Say(notFoundJSON)
	}
	if len(charas) == 0 {
		return c.Say(notFoundJSON)
	}
	data, err := json.Marshal(characterAPI(&charas[0]))
	if err != nil {
		return err
	}
	return c.Say("```" + string(data) + "```")
}
