package andre

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	quoteClientName = "inspirobot"

	maturityTrigger = "b/maturity"
	maturityReply   = "no, just the maturity level in here is generally that of a 10 year old."
	maturityDelay   = time.Second

	// welcomeBackUserID gets a different welcome, they've joined a few times
	welcomeBackUserID = "242276581039538178"

	aboutColor = 0xF1CCB0
)

type schoolYear struct {
	age, france, uk, usa string
}

var schoolYears = []schoolYear{
	{"3", "Petite section de maternelle", "Nursery", "Nursery"},
	{"4", "Moyenne section de maternelle", "Reception", "Pre-K"},
	{"5", "Grande section de maternelle", "Year 1", "Kindergarten"},
	{"6", "CP", "Year 2", "1st grade"},
	{"7", "CE1", "Year 3", "2nd grade"},
	{"8", "CE2", "Year 4", "3rd grade"},
	{"9", "CM1", "Year 5", "4th grade"},
	{"10", "CM2", "Year 6", "5th grade"},
	{"11", "6ème", "Year 7", "6th grade"},
	{"12", "5ème", "Year 8", "7th grade"},
	{"13", "4ème", "Year 9", "8th grade"},
	{"14", "3ème", "Year 10", "9th grade"},
	{"15", "Seconde", "Year 11", "10th grade"},
	{"16", "Première", "Year 12", "11th grade"},
	{"17", "Terminale", "Year 13", "12th grade"},
}

// schoolMessage returns the conversion table, or the row matching the
// grade. ok is false when nothing matches.
func schoolMessage(grade string) (string, bool) {
	grade = strings.ToLower(strings.TrimSpace(grade))
	if grade == "" {
		lines := make([]string, 0, len(schoolYears))
		for _, y := range schoolYears {
			lines = append(
				lines,
				fmt.Sprintf("Age: **%s**, France: **%s**, UK: **%s**, USA: **%s**", y.age, y.france, y.uk, y.usa),
			)
		}
		return strings.Join(lines, "\n"), true
	}
	for _, y := range schoolYears {
		if grade == y.age ||
			grade == strings.ToLower(y.france) ||
			grade == strings.ToLower(y.uk) ||
			grade == strings.ToLower(y.usa) {
			return fmt.Sprintf("Age: %s\nFrance: %s\nUK: %s\nUSA: %s", y.age, y.france, y.uk, y.usa), true
		}
	}
	return "", false
}

type botInfo struct {
	name, user, description, prefix, about, help string
}

var serverBots = []botInfo{
	{
		"André", "IATGOF#9154",
		"Its purpose is mainly to store profiles for members of this discord and offer some stats and utility around those profiles.",
		"!", "about", "help",
	},
	{"Kaneda", "Benpai#9772", "It offers a lot of general utility commands.", "k/", "about", "help"},
	{
		"Neko-Hime", "Xaetral - アロヒス#3486",
		"Its main uses are to provide custom reaction image and youtube search, but it also has some more utility commands.",
		"n:", "infos", "help",
	},
	{
		"Sakanya", "FoxInFlame#9833",
		"Its primary goal is to reverse-search images, however it also offers utility commands, some of which help Fox manage this server efficiently.",
		">", "about", "help",
	},
	{"Margarine", "Butterstroke#7150", "It's a lovely and helpful bot (he can't math though).", "m~", "about", "help"},
	{
		"BobDono", "Drutol#5419",
		"Bob is waifu connoisseur. He is here for your all waifu needs. If you ever need to make others wail in despair because of your waifu's superiority he can make waifu wars just for you!",
		"b/", "bob", "bob",
	},
}

func (a *Andre) miscCommands() []*Command {
	return []*Command{
		{
			Name:     "school",
			Aliases:  []string{"School"},
			Usage:    "[year]",
			Help:     "Translates a school year (grade). If *year* is not specified, prints the entire conversion table.",
			Category: categoryRandom,
			Run: func(c *CommandContext) error {
				msg, ok := schoolMessage(c.Rest)
				if !ok {
					return nil
				}
				return c.Say(msg)
			},
		},
		{
			Name:     "ping",
			Help:     "It's a ping command. It pings the bot. What pings commands are supposed to do.",
			Category: categoryRandom,
			Run: func(c *CommandContext) error {
				took := a.now().Sub(c.Message.Timestamp)
				return c.Sayf("%d ms", took.Milliseconds())
			},
		},
		{
			Name:     "hello",
			Category: categoryRandom,
			Hidden:   true,
			Run: func(c *CommandContext) error {
				return c.Say(">hello")
			},
		},
		{
			Name:     "quote",
			Help:     "Get a random inspirational quote.",
			Category: categoryRandom,
			Run:      a.runQuote,
		},
		{
			Name:     "bc",
			Usage:    "[expr]",
			Help:     "Evaluates the expression. You may wrap your expression around backquotes.",
			Category: categoryRandom,
			Level:    PermissionUnsafe,
			Run: func(c *CommandContext) error {
				result, err := evaluateExpression(c.Rest)
				if err != nil {
					return err
				}
				return c.Say(result)
			},
		},
		{
			Name:     "welcome",
			Aliases:  []string{"Welcome"},
			Usage:    "user",
			Category: categoryRandom,
			Hidden:   true,
			Run: func(c *CommandContext) error {
				member, err := a.ResolveMember(c.Context(), c.Message, c.Rest)
				if err != nil {
					return err
				}
				return a.welcome(c.Message.ChannelID, a.guildFor(c.Message), member)
			},
		},
		{
			Name:     "help",
			Aliases:  []string{"andre", "andré", "Andre", "André", "Help"},
			Usage:    "[command]",
			Category: categoryRandom,
			Hidden:   true,
			Run: func(c *CommandContext) error {
				return c.SafeSay(a.helpMessage(c.Rest, c.IsOwner()))
			},
		},
		{
			Name:     "about",
			Aliases:  []string{"About"},
			Help:     "Prints info about André",
			Category: categoryRandom,
			Run: func(c *CommandContext) error {
				return c.SayEmbed(a.aboutEmbed())
			},
		},
		{
			Name:     "bots",
			Help:     "Prints a short description of this server's bots.",
			Category: categoryRandom,
			Run: func(c *CommandContext) error {
				var sb strings.Builder
				for _, b := range serverBots {
					fmt.Fprintf(
						&sb,
						"**%s** is a bot made by **%s**.\n%s\nFor more details, type `%s%s`\n"+
							"For a list of **%s**'s commands, type `%s%s`\n\n",
						b.name, b.user, b.description, b.prefix, b.about, b.name, b.prefix, b.help,
					)
				}
				return c.SafeSay(sb.String())
			},
		},
	}
}

func (a *Andre) runQuote(c *CommandContext) error {
	body, err := a.quotes.get(c.Context(), a.config.QuoteURL)
	if err != nil {
		return err
	}
	return c.SayEmbed(
		&discordgo.MessageEmbed{
			Color: a.randN(0xFFFFFF),
			Image: &discordgo.MessageEmbedImage{URL: strings.TrimSpace(string(body))},
		},
	)
}

// welcome greets the member in the channel
func (a *Andre) welcome(channelID, guildID string, member *discordgo.Member) error {
	if member == nil || member.User == nil {
		return nil
	}
	if member.User.ID == welcomeBackUserID {
		return a.say(channelID, fmt.Sprintf("Hey look it's %s again.", member.User.Mention()))
	}

	guildName := "the server"
	if guildID != "" {
		guild, err := a.discord.session.Guild(guildID)
		if err != nil {
			a.logger.Warn("error getting guild", "guild_id", guildID, tint.Err(err))
		} else if guild != nil && guild.Name != "" {
			guildName = guild.Name
		}
	}

	prefix := a.router.prefix
	return a.say(
		channelID,
		fmt.Sprintf(
			"Hello %s and welcome to %s! %s\n\n"+
				"When you're ready, you can send me `%suser setup` (or type it in any channel), "+
				"and I will ask you a few questions to build you a profile!\n"+
				"Please take a minute or two to do it \\:)",
			member.User.Mention(), guildName, emoteKanna, prefix,
		),
	)
}

// maturity answers 'b/maturity', once in a while
func (a *Andre) maturity(ctx context.Context, m *discordgo.Message) {
	if a.randN(4) != 0 {
		return
	}
	reply := []rune(maturityReply)
	for i, r := range reply {
		if a.randN(2) == 0 {
			reply[i] = unicode.ToUpper(r)
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(maturityDelay):
	}
	logErr(ctx, a.logger, "error sending message", a.say(m.ChannelID, string(reply)))
}

// helpMessage describes a single command, or lists the available ones
func (a *Andre) helpMessage(command string, owner bool) string {
	prefix := a.router.prefix
	command = strings.ToLower(strings.TrimSpace(command))

	var sb strings.Builder
	if command != "" {
		fields := strings.Fields(command)
		if cmd, ok := a.router.Lookup(strings.TrimPrefix(fields[0], prefix)); ok && !cmd.Hidden {
			name := cmd.Name
			for _, f := range fields[1:] {
				sub, isSub := cmd.subcommand(f)
				if !isSub {
					break
				}
				cmd = sub
				name += " " + sub.Name
			}
			if cmd.OwnerOnly && !owner {
				return "This is top secret, sorry."
			}
			usage := ""
			if cmd.Usage != "" {
				usage = " " + cmd.Usage
			}
			help := cmd.Help
			if help == "" && len(cmd.Subcommands) > 0 {
				help = cmd.groupUsage(prefix)
			}
			return fmt.Sprintf("`%s%s%s`\n\n%s", prefix, name, usage, help)
		}
		fmt.Fprintf(&sb, "Unknown command `%s`\n\n", command)
	}

	byCategory := map[string][]string{}
	for _, cmd := range a.router.Commands() {
		if cmd.Hidden || (cmd.OwnerOnly && !owner) {
			continue
		}
		category := cmd.Category
		if cmd.OwnerOnly {
			category = categoryAdmin
		}
		byCategory[category] = append(byCategory[category], "*"+cmd.Name+"*")
	}

	sb.WriteString("```Available commands```\n")
	for _, category := range helpCategories {
		names := byCategory[category]
		if len(names) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "**%s** - %s\n", category, strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, "\nType `%shelp [command]` to get more info for a specific command.", prefix)
	return sb.String()
}

func (a *Andre) aboutEmbed() *discordgo.MessageEmbed {
	description := fmt.Sprintf(
		"Hello, I am アンドレ, a discord bot made by IATGOF.\n\n"+
			"**Version**: %s (%s)\n"+
			"**Commands**: %d\n"+
			"**Up since**: %s\n",
		Version, CommitSHA,
		len(a.router.Commands()),
		a.startedAt.UTC().Format(time.RFC1123),
	)
	return &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "André",
			IconURL: "http://cecc.at/discord/andre.png",
		},
		Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: "http://cecc.at/discord/andre-thumb.png"},
		Color:       aboutColor,
		Description: description,
	}
}
