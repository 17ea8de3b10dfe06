package andre

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	ErrBadArgument     = errors.New("bad argument")
	ErrForbidden       = errors.New("forbidden")
	ErrCommandNotFound = errors.New("command not found")
	ErrNoMALUsername   = errors.New("no MAL username")
)

// PermissionLevel is the ban level a command requires. A user banned at
// level L can't run commands whose level is >= L.
type PermissionLevel int

const (
	PermissionSafe PermissionLevel = iota
	PermissionUserData
	PermissionUnsafe
)

var permissionLevels = []PermissionLevel{PermissionSafe, PermissionUserData, PermissionUnsafe}

func (p PermissionLevel) String() string {
	switch p {
	case PermissionSafe:
		return "Safe"
	case PermissionUserData:
		return "UserData"
	case PermissionUnsafe:
		return "Unsafe"
	default:
		return strconv.Itoa(int(p))
	}
}

// commandError carries a message shown to the user
type commandError struct {
	msg string
	err error
}

func (e *commandError) Error() string {
	return e.msg
}

func (e *commandError) Unwrap() error {
	return e.err
}

// userError returns an error whose message is sent to the channel.
// kind is the sentinel it wraps, which picks the reaction.
func userError(kind error, format string, args ...any) error {
	return &commandError{msg: fmt.Sprintf(format, args...), err: kind}
}

// Command is a chat command. Commands with Subcommands are groups:
// the first argument picks the subcommand, and Run (or the usage) is
// used when it doesn't match one.
type Command struct {
	Name    string
	Aliases []string

	// Usage lists the arguments, Help describes the command in !help
	Usage    string
	Help     string
	Category string

	Level     PermissionLevel
	OwnerOnly bool
	Hidden    bool

	Run         func(c *CommandContext) error
	Subcommands []*Command
}

func (cmd *Command) names() []string {
	return append([]string{cmd.Name}, cmd.Aliases...)
}

func (cmd *Command) subcommand(name string) (*Command, bool) {
	name = strings.ToLower(name)
	for _, sub := range cmd.Subcommands {
		for _, n := range sub.names() {
			if strings.ToLower(n) == name {
				return sub, true
			}
		}
	}
	return nil, false
}

// groupUsage lists the usage of every subcommand
func (cmd *Command) groupUsage(prefix string) string {
	lines := make([]string, 0, len(cmd.Subcommands))
	for _, sub := range cmd.Subcommands {
		line := fmt.Sprintf("`%s%s %s", prefix, cmd.Name, sub.Name)
		if sub.Usage != "" {
			line += " " + sub.Usage
		}
		lines = append(lines, line+"`")
	}
	return strings.Join(lines, "\n")
}

// Router maps command names and aliases to commands, case-insensitively
type Router struct {
	prefix   string
	commands map[string]*Command
	ordered  []*Command

	// expansions rewrite a command into another message
	expansions map[string]string
}

func newRouter(prefix string) *Router {
	return &Router{
		prefix:     prefix,
		commands:   map[string]*Command{},
		expansions: map[string]string{},
	}
}

// Register adds the commands under their names and aliases. Two
// commands sharing a name panics.
func (r *Router) Register(cmds ...*Command) {
	for _, cmd := range cmds {
		for _, name := range cmd.names() {
			key := strings.ToLower(name)
			if existing, exists := r.commands[key]; exists {
				if existing == cmd {
					continue
				}
				panic(fmt.Sprintf("duplicate command name: %s", name))
			}
			r.commands[key] = cmd
		}
		r.ordered = append(r.ordered, cmd)
	}
}

// Expand registers a command name that's rewritten into content.
// An empty content makes the command a no-op.
func (r *Router) Expand(name string, content string) {
	r.expansions[strings.ToLower(name)] = content
}

func (r *Router) Lookup(name string) (*Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Commands returns the registered commands, sorted by name
func (r *Router) Commands() []*Command {
	rv := append([]*Command(nil), r.ordered...)
	sort.Slice(rv, func(i, j int) bool { return rv[i].Name < rv[j].Name })
	return rv
}

// splitCommand splits "name rest" after the prefix. ok is false when
// content doesn't start with the prefix or has no name.
func (r *Router) splitCommand(content string) (name, rest string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, r.prefix) {
		return "", "", false
	}
	content = strings.TrimPrefix(content, r.prefix)
	idx := strings.IndexFunc(content, unicode.IsSpace)
	if idx == -1 {
		return content, "", content != ""
	}
	return content[:idx], strings.TrimLeftFunc(content[idx:], unicode.IsSpace), idx > 0
}

// splitArgs splits on whitespace, with double quotes grouping words
func splitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case unicode.IsSpace(r) && !quoted:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}

// parseKeyValues reads key=value words into a copy of defaults
func parseKeyValues(s string, defaults map[string]string) map[string]string {
	rv := make(map[string]string, len(defaults))
	for k, v := range defaults {
		rv[k] = v
	}
	for _, item := range strings.Split(s, " ") {
		parts := strings.Split(item, "=")
		if len(parts) == 2 {
			rv[parts[0]] = parts[1]
		}
	}
	return rv
}

// atoi parses a base 10 int
func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

// toInt parses s, returning def when it isn't an int
func toInt(s string, def int) int {
	if n, ok := atoi(s); ok {
		return n
	}
	return def
}

// CommandContext is passed to each command run
type CommandContext struct {
	ctx     context.Context
	bot     *Andre
	logger  *slog.Logger
	Message *discordgo.Message
	Command *Command

	// Invoked is the name or alias the command was called with
	Invoked string
	Args    []string

	// Rest is the raw text after the command name
	Rest string

	// Inline is set for commands run from another message (inline `!!`
	// commands, !exec), which don't get reactions
	Inline bool
}

func (c *CommandContext) Context() context.Context {
	return c.ctx
}

func (c *CommandContext) Logger() *slog.Logger {
	return c.logger
}

func (c *CommandContext) Author() *discordgo.User {
	return messageAuthor(c.Message)
}

func (c *CommandContext) AuthorID() string {
	if u := c.Author(); u != nil {
		return u.ID
	}
	return ""
}

func (c *CommandContext) IsOwner() bool {
	return c.bot.isOwner(c.AuthorID())
}

// Arg returns the nth argument, or an empty string
func (c *CommandContext) Arg(n int) string {
	if n < len(c.Args) {
		return c.Args[n]
	}
	return ""
}

// Say sends content to the message's channel, truncated to the max
// message size
func (c *CommandContext) Say(content string) error {
	return c.bot.say(c.Message.ChannelID, content)
}

func (c *CommandContext) Sayf(format string, args ...any) error {
	return c.Say(fmt.Sprintf(format, args...))
}

// SafeSay sends content split on line boundaries
func (c *CommandContext) SafeSay(content string) error {
	return c.bot.safeSay(c.Message.ChannelID, content)
}

func (c *CommandContext) SayEmbed(embed *discordgo.MessageEmbed) error {
	return c.bot.sayEmbed(c.Message.ChannelID, embed)
}

// Whisper sends a DM to the author
func (c *CommandContext) Whisper(content string) error {
	return c.bot.whisper(c.AuthorID(), content)
}

// React adds a reaction to the message, unless the command runs inline
func (c *CommandContext) React(emoji string) error {
	if c.Inline {
		return nil
	}
	return c.bot.discord.session.MessageReactionAdd(c.Message.ChannelID, c.Message.ID, emoji)
}

// OK reacts with the success reaction
func (c *CommandContext) OK() error {
	return c.React(reactionOK)
}

// dispatch runs the command in content (which starts with the prefix).
// Commands run from another message (sub) don't react on failures.
func (a *Andre) dispatch(ctx context.Context, m *discordgo.Message, content string, sub bool) {
	err := a.execute(ctx, m, content, sub, 0)
	if err != nil {
		a.reportError(ctx, m, err, sub)
	}
}

const maxExpansionDepth = 3

func (a *Andre) execute(
	ctx context.Context,
	m *discordgo.Message,
	content string,
	sub bool,
	depth int,
) error {
	name, rest, ok := a.router.splitCommand(content)
	if !ok {
		return nil
	}

	if expansion, isExpansion := a.router.expansions[strings.ToLower(name)]; isExpansion {
		if expansion == "" || depth >= maxExpansionDepth {
			return nil
		}
		return a.execute(ctx, m, expansion, sub, depth+1)
	}

	cmd, found := a.router.Lookup(name)
	if !found {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, name)
	}
	invoked := name

	for len(cmd.Subcommands) > 0 {
		subName, subRest, _ := strings.Cut(rest, " ")
		subCmd, isSub := cmd.subcommand(subName)
		if !isSub {
			break
		}
		cmd = subCmd
		invoked = subName
		rest = strings.TrimSpace(subRest)
	}

	c := &CommandContext{
		ctx:     ctx,
		bot:     a,
		Message: m,
		Command: cmd,
		Invoked: invoked,
		Args:    splitArgs(rest),
		Rest:    rest,
		Inline:  sub,
	}
	c.logger = a.logger.With(
		slog.Group(
			"command",
			"name", cmd.Name,
			"invoked", invoked,
			"user_id", c.AuthorID(),
			"channel_id", m.ChannelID,
		),
	)
	c.ctx = WithLogger(ctx, c.logger)

	if err := a.checkPermission(c.AuthorID(), cmd); err != nil {
		recordCommand(cmd.Name, resultForbidden, 0)
		return err
	}

	run := cmd.Run
	if run == nil {
		run = func(c *CommandContext) error {
			return c.Say(cmd.groupUsage(a.router.prefix))
		}
	}

	start := time.Now()
	err := a.runCommand(c, run)
	took := time.Since(start)

	recordCommand(cmd.Name, commandResult(err), took)
	a.logCommand(c, took, err)
	return err
}

// runCommand runs the command, recovering from panics
func (a *Andre) runCommand(c *CommandContext, run func(c *CommandContext) error) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(c.ctx, rc)
			err = fmt.Errorf("panic running %s: %v", c.Command.Name, rc)
		}
	}()
	return run(c)
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrForbidden):
		return resultForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMemberNotFound):
		return resultNotFound
	default:
		return resultError
	}
}

// checkPermission refuses owner commands to anyone but the owner, and
// commands at or above the user's ban level
func (a *Andre) checkPermission(userID string, cmd *Command) error {
	if cmd.OwnerOnly && !a.isOwner(userID) {
		return fmt.Errorf("%w: %s is owner-only", ErrForbidden, cmd.Name)
	}
	if a.isBanned(userID, cmd.Level) {
		return fmt.Errorf("%w: banned from %s commands", ErrForbidden, cmd.Level)
	}
	return nil
}

// reportError prints user-facing errors and reacts to the message
// depending on the kind of error
func (a *Andre) reportError(ctx context.Context, m *discordgo.Message, err error, sub bool) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = a.logger
	}

	var cmdErr *commandError
	var fetchErr *ListFetchError
	switch {
	case errors.As(err, &cmdErr):
		logErr(ctx, logger, "error sending error message", a.say(m.ChannelID, cmdErr.msg))
	case errors.As(err, &fetchErr):
		logErr(ctx, logger, "error sending error message", a.say(m.ChannelID, fetchErr.Error()))
	case errors.Is(err, ErrRemoteUnavailable), errors.Is(err, ErrCouldNotReadData):
		logErr(ctx, logger, "error sending error message", a.say(m.ChannelID, "Could not read data"))
	}

	level := slog.LevelWarn
	var reaction string
	switch {
	case errors.Is(err, ErrCommandNotFound):
		level = slog.LevelDebug
		reaction = reactionNotFound
	case errors.Is(err, ErrForbidden):
		reaction = reactionForbidden
	case errors.Is(err, ErrBadArgument), errors.Is(err, ErrNoMALUsername), errors.Is(err, ErrNotFound):
		reaction = reactionKO
	case errors.Is(err, ErrUserLocked), errors.Is(err, ErrConversationTimeout):
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	logger.Log(ctx, level, "command error", tint.Err(err))

	if sub || reaction == "" {
		return
	}
	if e := a.discord.session.MessageReactionAdd(m.ChannelID, m.ID, reaction); e != nil {
		logger.WarnContext(ctx, "error adding reaction", tint.Err(e))
	}
}

// runInline runs the `!!` commands embedded in a message. Only the
// owner can run more than the configured limit.
func (a *Andre) runInline(ctx context.Context, m *discordgo.Message) {
	content := m.Content
	limit := a.config.Discord.InlineCommandLimit
	owner := a.isOwner(messageAuthor(m).ID)
	for loops := 0; ; loops++ {
		if !owner && loops >= limit {
			return
		}
		pos := strings.Index(content, a.router.prefix+a.router.prefix)
		if pos == -1 {
			return
		}
		content = content[pos+len(a.router.prefix):]
		command := content
		if end := strings.Index(content[len(a.router.prefix):], a.router.prefix+a.router.prefix); end != -1 {
			command = content[:end+len(a.router.prefix)]
		}
		a.dispatch(ctx, m, strings.TrimSpace(command), true)
		content = content[len(a.router.prefix):]
	}
}

// runSubcommands runs each ';;'-separated command
func (a *Andre) runSubcommands(ctx context.Context, m *discordgo.Message, raw string) {
	for _, content := range strings.Split(raw, ";;") {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		a.dispatch(ctx, m, content, true)
	}
}
