package andre

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	relayQuit          = "?quit"
	relaySwitchChannel = "?chan"
	relayTimedOut      = "_Timed out_"

	// discord caps UserGuilds pages at 200
	relayGuildLimit = 200
)

var errRelayQuit = errors.New("relay quit")

func (a *Andre) adminCommands() []*Command {
	return []*Command{
		{
			Name:      "shutdown",
			Help:      "Shuts the bot down.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runShutdown,
		},
		{
			Name:      "restart",
			Usage:     "[force]",
			Help:      "Restarts the bot. Refused while user commands are running, unless forced.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runRestart,
		},
		{
			Name:      "newgame",
			Usage:     "[name]",
			Help:      "Sets a new status, random when no name is given, and enables the rotation.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runNewGame,
		},
		{
			Name:      "setgame",
			Usage:     "type name",
			Help:      "Sets a status and disables the rotation. Types: 0 playing, 1 streaming, 2 listening, 3 watching.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runSetGame,
		},
		{
			Name:      "clearcache",
			Help:      "Drops every cached list and remote result.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				a.clearCaches()
				a.notifyPeers(c.Context(), clearPeerCaches)
				return c.OK()
			},
		},
		{
			Name:      "admin",
			Help:      "Interactive mode: relays your DMs to a channel.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runRelay,
		},
		{
			Name:      "say",
			Usage:     "message",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				if c.Rest == "" {
					return userError(ErrBadArgument, "Nothing to say")
				}
				return c.Say(c.Rest)
			},
		},
		{
			Name:      "foreach",
			Aliases:   []string{"for"},
			Usage:     "n command",
			Help:      "Runs a command n times.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runForEach,
		},
		{
			Name:      "exec",
			Usage:     "command [;; command]...",
			Help:      "Runs several commands in a row.",
			Category:  categorySpecial,
			Level:     PermissionSafe,
			Hidden:    true,
			Run: func(c *CommandContext) error {
				a.runSubcommands(c.Context(), c.Message, c.Rest)
				return nil
			},
		},
		{
			Name:      "avatar",
			Help:      "Changes the bot's avatar now.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				if err := a.rotateAvatar(c.Context()); err != nil {
					return err
				}
				return c.OK()
			},
		},
		{
			Name:      "ignorenickname",
			Usage:     "member [true|false]",
			Help:      "Shows the member's username instead of their nickname.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runIgnoreNickname,
		},
		{
			Name:     "whois",
			Usage:    "member",
			Help:     "Prints the names a member is known by.",
			Category: categoryAdmin,
			Level:    PermissionSafe,
			Run:      a.runWhois,
		},
		{
			Name:      "botstate",
			Help:      "Lists the users currently running an interactive command.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runBotState,
		},
		{
			Name:      "clearbotstate",
			Help:      "Releases every interactive command lock.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				a.state.Clear()
				lockedUsers.Set(0)
				return c.OK()
			},
		},
		{
			Name:      "setmalembed",
			Usage:     "template",
			Help:      "Sets the image URL template appended by !mal. <username> is replaced by the MAL name.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				tmpl := strings.Trim(c.Rest, " `")
				if err := a.writeProperty(c.Context(), propMALEmbedTemplate, tmpl); err != nil {
					return err
				}
				return c.OK()
			},
		},
		{
			Name:      "bans",
			Help:      "Lists banned members.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runBans,
		},
		{
			Name:      "ban",
			Usage:     "member [level]",
			Help:      "Bans a member from the commands at or above level (default 0).",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runBan,
		},
		{
			Name:      "unban",
			Usage:     "member",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run:       a.runUnban,
		},
	}
}

func (a *Andre) runShutdown(c *CommandContext) error {
	if n := a.state.Len(); n > 0 {
		return fmt.Errorf("%w: %d user commands running", ErrForbidden, n)
	}
	logErr(c.Context(), c.Logger(), "error reacting to shutdown", c.OK())
	a.Stop()
	return nil
}

func (a *Andre) runRestart(c *CommandContext) error {
	force := strings.EqualFold(c.Arg(0), "force")
	if n := a.state.Len(); n > 0 && !force {
		logErr(
			c.Context(), c.Logger(), "error sending restart refusal",
			c.Say("There are user commands running, use `"+a.router.prefix+"botstate` to see them or `"+
				a.router.prefix+"restart force` to restart anyway."),
		)
		return fmt.Errorf("%w: %d user commands running", ErrForbidden, n)
	}
	logErr(c.Context(), c.Logger(), "error reacting to restart", c.OK())

	err := errors.Join(
		a.properties.Write(propRestarting, true),
		a.properties.Write(propRestartingChannel, c.Message.ChannelID),
		a.properties.Write(propRestartingTime, a.now().Unix()),
	)
	if err != nil {
		return fmt.Errorf("error saving restart state: %w", err)
	}
	a.requestRestart()
	return nil
}

func (a *Andre) runNewGame(c *CommandContext) error {
	var activity *discordgo.Activity
	if c.Rest == "" {
		activity = a.randomActivity()
	} else {
		activity = &discordgo.Activity{Name: c.Rest, Type: discordgo.ActivityTypeGame}
	}
	if err := a.setRotation(c.Context(), true); err != nil {
		return err
	}
	a.setActivity(c.Context(), activity)
	c.Logger().InfoContext(c.Context(), "status changed", "activity", activityString(activity))
	return c.OK()
}

func (a *Andre) runSetGame(c *CommandContext) error {
	kind, name, _ := strings.Cut(c.Rest, " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return userError(ErrBadArgument, "Usage: `%ssetgame type name`", a.router.prefix)
	}
	if err := a.setRotation(c.Context(), false); err != nil {
		return err
	}
	a.setActivity(c.Context(), &discordgo.Activity{Name: name, Type: parseActivityType(kind)})
	return c.OK()
}

func (a *Andre) runForEach(c *CommandContext) error {
	raw, command, _ := strings.Cut(c.Rest, " ")
	n, ok := atoi(raw)
	command = strings.TrimSpace(command)
	if !ok || n < 1 || command == "" {
		return userError(ErrBadArgument, "Usage: `%sforeach n command`", a.router.prefix)
	}
	if !strings.HasPrefix(command, a.router.prefix) {
		command = a.router.prefix + command
	}
	for range n {
		if err := c.Context().Err(); err != nil {
			return err
		}
		a.dispatch(c.Context(), c.Message, command, true)
	}
	return nil
}

func (a *Andre) runIgnoreNickname(c *CommandContext) error {
	member, err := a.ResolveMember(c.Context(), c.Message, c.Arg(0))
	if err != nil {
		return err
	}
	restricted := slices.Contains([]string{"true", "yes"}, strings.ToLower(c.Arg(1)))
	if err = a.setNameRestriction(c.Context(), member.User.ID, restricted); err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runWhois(c *CommandContext) error {
	ctx := c.Context()
	member, err := a.ResolveMember(ctx, c.Message, c.Rest)
	if err != nil {
		return err
	}
	var malName string
	user, err := getUserByDiscordID(ctx, a.db, member.User.ID)
	switch {
	case err == nil:
		malName = user.MALName
	case !errors.Is(err, ErrNotFound):
		return err
	}

	fromMAL := ""
	if malName != "" {
		lookup, lookupErr := a.userLookup(ctx, a.guildFor(c.Message))
		if lookupErr != nil {
			return lookupErr
		}
		fromMAL = lookup.Name(malName)
	}

	return c.SafeSay(
		fmt.Sprintf(
			"MAL name: %s\nDiscord name: %s\nDiscord nick: %s\nDisplay name (with ctx): %s\nDisplay name (from mal): %s",
			malName,
			member.User.Username,
			member.Nick,
			a.displayName(member),
			fromMAL,
		),
	)
}

// memberName resolves a user ID to a display name, falling back on
// the ID
func (a *Andre) memberName(ctx context.Context, m *discordgo.Message, userID string) string {
	member, err := a.ResolveMember(ctx, m, userID)
	if err != nil {
		return userID
	}
	return a.displayName(member)
}

// botStateMessage lists name: `command` pairs, sorted by name
func botStateMessage(running map[string]string) string {
	if len(running) == 0 {
		return "No user command running"
	}
	lines := make([]string, 0, len(running))
	for name, command := range running {
		lines = append(lines, fmt.Sprintf("%s: `%s`", name, command))
	}
	slices.Sort(lines)
	return strings.Join(lines, "\n")
}

func (a *Andre) runBotState(c *CommandContext) error {
	named := map[string]string{}
	for userID, command := range a.state.Running() {
		named[a.memberName(c.Context(), c.Message, userID)] = command
	}
	return c.SafeSay(botStateMessage(named))
}

// bansMessage lists name - level pairs, followed by the level values
func bansMessage(bans map[string]PermissionLevel) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Banned members: %d\n", len(bans))
	names := make([]string, 0, len(bans))
	for name := range bans {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s - %d\n", name, bans[name])
	}
	sb.WriteString("\nBan values:")
	for _, level := range permissionLevels {
		fmt.Fprintf(&sb, "\n%s: %d", level, level)
	}
	return sb.String()
}

func (a *Andre) runBans(c *CommandContext) error {
	named := map[string]PermissionLevel{}
	for userID, level := range a.Banlist() {
		named[a.memberName(c.Context(), c.Message, userID)] = level
	}
	return c.SafeSay(bansMessage(named))
}

func (a *Andre) runBan(c *CommandContext) error {
	member, err := a.ResolveMember(c.Context(), c.Message, c.Arg(0))
	if err != nil {
		return err
	}
	level := PermissionSafe
	if raw := c.Arg(1); raw != "" {
		n, ok := atoi(raw)
		if !ok || n < int(PermissionSafe) || n > int(PermissionUnsafe) {
			return userError(ErrBadArgument, "Invalid ban level: %s", raw)
		}
		level = PermissionLevel(n)
	}
	if err = a.ban(c.Context(), member.User.ID, level); err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runUnban(c *CommandContext) error {
	member, err := a.ResolveMember(c.Context(), c.Message, c.Rest)
	if err != nil {
		return err
	}
	ok, err := a.unban(c.Context(), member.User.ID)
	if err != nil {
		return err
	}
	if !ok {
		return c.React(reactionKO)
	}
	return c.OK()
}

// relayWait waits for the owner's next DM, whispering a short notice
// on timeout
func (a *Andre) relayWait(f *dmFlow) (string, error) {
	m, err := f.next()
	if errors.Is(err, ErrConversationTimeout) {
		logErr(f.ctx, a.logger, "error sending timeout notice", f.say(relayTimedOut))
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(m.Content), nil
}

// pickOption lists the options and waits until one is chosen by ID or
// name. ?quit returns errRelayQuit.
func (a *Andre) pickOption(f *dmFlow, title string, ids, names []string) (int, error) {
	var sb strings.Builder
	sb.WriteString(title)
	for i := range ids {
		fmt.Fprintf(&sb, "\n%s (%s)", names[i], ids[i])
	}
	if err := f.say(sb.String()); err != nil {
		return 0, err
	}
	for {
		answer, err := a.relayWait(f)
		if err != nil {
			return 0, err
		}
		if answer == relayQuit {
			return 0, errRelayQuit
		}
		for i := range ids {
			if answer == ids[i] || strings.EqualFold(answer, names[i]) {
				return i, nil
			}
		}
	}
}

func (a *Andre) relayTarget(f *dmFlow) (guild *discordgo.UserGuild, channel *discordgo.Channel, err error) {
	session := a.discord.session
	guilds, err := session.UserGuilds(relayGuildLimit, "", "", false)
	if err != nil {
		return nil, nil, fmt.Errorf("error listing guilds: %w", err)
	}
	ids := make([]string, len(guilds))
	names := make([]string, len(guilds))
	for i, g := range guilds {
		ids[i], names[i] = g.ID, g.Name
	}
	i, err := a.pickOption(f, "Select a server:", ids, names)
	if err != nil {
		return nil, nil, err
	}
	guild = guilds[i]

	all, err := session.GuildChannels(guild.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("error listing channels: %w", err)
	}
	var channels []*discordgo.Channel
	for _, ch := range all {
		if ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews {
			channels = append(channels, ch)
		}
	}
	ids = make([]string, len(channels))
	names = make([]string, len(channels))
	for i, ch := range channels {
		ids[i], names[i] = ch.ID, ch.Name
	}
	i, err = a.pickOption(f, "Select a channel:", ids, names)
	if err != nil {
		return nil, nil, err
	}
	return guild, channels[i], nil
}

// runRelay forwards the owner's DMs to a channel of their choice until
// ?quit
func (a *Andre) runRelay(c *CommandContext) error {
	flow, release, err := a.startFlow(c, "admin", a.config.Conversation.AdminTimeout)
	if err != nil {
		return err
	}
	defer release()
	flow.skipPrefix = ""

	if err = flow.say("Starting interactive mode... (type `" + relayQuit + "` to quit)"); err != nil {
		return err
	}

	for {
		guild, channel, targetErr := a.relayTarget(flow)
		if errors.Is(targetErr, errRelayQuit) {
			return flow.say("Stopping interactive mode...")
		}
		if targetErr != nil {
			return targetErr
		}
		err = flow.sayf(
			"Interactive mode in %s (%s): (type `%s` to quit, `%s` to switch channels)",
			channel.Name, guild.Name, relayQuit, relaySwitchChannel,
		)
		if err != nil {
			return err
		}

	relay:
		for {
			content, waitErr := a.relayWait(flow)
			if waitErr != nil {
				return waitErr
			}
			switch content {
			case relayQuit:
				return flow.say("Stopping interactive mode...")
			case relaySwitchChannel:
				break relay
			case "":
			default:
				if sayErr := a.say(channel.ID, content); sayErr != nil {
					logErr(c.Context(), c.Logger(), "error relaying message", sayErr)
					logErr(c.Context(), c.Logger(), "error sending relay error", flow.say("Could not send that message."))
				}
			}
		}
	}
}
