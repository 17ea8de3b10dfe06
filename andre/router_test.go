package andre

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRouter_SplitCommand(t *testing.T) {
	t.Parallel()
	r := newRouter("!")

	tests := []struct {
		content string
		name    string
		rest    string
		ok      bool
	}{
		{content: "!hello", name: "hello", ok: true},
		{content: "  !anime  Steins;Gate ", name: "anime", rest: "Steins;Gate", ok: true},
		{content: "!compare\tfoo bar", name: "compare", rest: "foo bar", ok: true},
		{content: "hello", ok: false},
		{content: "!", ok: false},
		{content: "! hello", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.content, func(t *testing.T) {
			t.Parallel()
			name, rest, ok := r.splitCommand(tc.content)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.name, name)
				assert.Equal(t, tc.rest, rest)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []string
	}{
		{input: "", want: nil},
		{input: "a b  c", want: []string{"a", "b", "c"}},
		{input: `set "Favorite anime" Clannad`, want: []string{"set", "Favorite anime", "Clannad"}},
		{input: `""`, want: []string{""}},
		{input: `"unterminated quote`, want: []string{"unterminated quote"}},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, splitArgs(tc.input))
		})
	}
}

func TestParseKeyValues(t *testing.T) {
	t.Parallel()

	defaults := map[string]string{"min_score": "1", "results": "10"}
	got := parseKeyValues("min_score=5 order=different junk a=b=c", defaults)
	assert.Equal(
		t,
		map[string]string{"min_score": "5", "results": "10", "order": "different"},
		got,
	)
	assert.Equal(t, "1", defaults["min_score"], "defaults are copied")
}

func TestToInt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 42, toInt(" 42 ", 1))
	assert.Equal(t, -3, toInt("-3", 1))
	assert.Equal(t, 1, toInt("forty", 1))
	assert.Equal(t, 7, toInt("", 7))
}

func TestRouter_Register(t *testing.T) {
	t.Parallel()

	r := newRouter("!")
	cmd := &Command{Name: "help", Aliases: []string{"Help", "andre", "André"}}
	r.Register(cmd)

	for _, name := range []string{"help", "HELP", "andre", "andré"} {
		got, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Same(t, cmd, got)
	}
	assert.Len(t, r.Commands(), 1)

	assert.Panics(t, func() {
		r.Register(&Command{Name: "Andre"})
	})
}

func TestRouter_Commands(t *testing.T) {
	t.Parallel()

	r := newRouter("!")
	r.Register(&Command{Name: "zeta"}, &Command{Name: "alpha"}, &Command{Name: "mid"})

	var names []string
	for _, cmd := range r.Commands() {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestCommand_GroupUsage(t *testing.T) {
	t.Parallel()

	cmd := &Command{
		Name: "extras",
		Subcommands: []*Command{
			{Name: "list"},
			{Name: "set", Usage: "field value"},
		},
	}
	assert.Equal(t, "`!extras list`\n`!extras set field value`", cmd.groupUsage("!"))

	sub, ok := cmd.subcommand("SET")
	require.True(t, ok)
	assert.Equal(t, "set", sub.Name)

	_, ok = cmd.subcommand("delete")
	assert.False(t, ok)
}

func TestCommandResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, resultOK, commandResult(nil))
	assert.Equal(t, resultForbidden, commandResult(userError(ErrForbidden, "no")))
	assert.Equal(t, resultNotFound, commandResult(notFound(gorm.ErrRecordNotFound, "user %s", "1")))
	assert.Equal(t, resultError, commandResult(errors.New("boom")))
}

func TestExecute(t *testing.T) {
	t.Parallel()

	newBot := func(t *testing.T) (*Andre, *mockDiscordSession) {
		t.Helper()
		bot, session := newTestBot(t)
		bot.router.Register(
			&Command{
				Name: "testgroup",
				Subcommands: []*Command{
					{
						Name: "echo",
						Run: func(c *CommandContext) error {
							return c.Say(strings.Join(c.Args, "|"))
						},
					},
				},
			},
			&Command{
				Name: "testpanic",
				Run: func(c *CommandContext) error {
					panic("oops")
				},
			},
			&Command{
				Name: "testfail",
				Run: func(c *CommandContext) error {
					return userError(ErrBadArgument, "That's not right")
				},
			},
			&Command{
				Name:  "testunsafe",
				Level: PermissionUnsafe,
				Run: func(c *CommandContext) error {
					return c.OK()
				},
			},
		)
		bot.router.Expand("testalias", "!testgroup echo expanded")
		bot.router.Expand("testloop", "!testloop")
		return bot, session
	}

	t.Run("subcommand", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		sendTestMessage(t, bot, testMemberID, `!testgroup ECHO a "b c"`)
		assert.Equal(t, []string{"a|b c"}, session.Sent(testChannelID))
	})

	t.Run("group usage", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		sendTestMessage(t, bot, testMemberID, "!testgroup nope")
		assert.Equal(t, []string{"`!testgroup echo`"}, session.Sent(testChannelID))
	})

	t.Run("expansion", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		sendTestMessage(t, bot, testMemberID, "!testalias")
		assert.Equal(t, []string{"expanded"}, session.Sent(testChannelID))
	})

	t.Run("expansion depth is limited", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!testloop")
		assert.Empty(t, session.Sent(testChannelID))
		assert.Empty(t, session.Reactions(m.ID))
	})

	t.Run("empty expansion", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!eva")
		assert.Empty(t, session.Sent(testChannelID))
		assert.Empty(t, session.Reactions(m.ID))
	})

	t.Run("panic is recovered", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!testpanic")
		assert.Empty(t, session.Reactions(m.ID))

		sendTestMessage(t, bot, testMemberID, "!hello")
		assert.Equal(t, []string{">hello"}, session.Sent(testChannelID))
	})

	t.Run("user error", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!testfail")
		assert.Equal(t, []string{"That's not right"}, session.Sent(testChannelID))
		assert.Equal(t, []string{reactionKO}, session.Reactions(m.ID))
	})

	t.Run("ban levels", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		require.NoError(t, bot.ban(context.Background(), testMemberID, PermissionUnsafe))

		m := sendTestMessage(t, bot, testMemberID, "!testunsafe")
		assert.Equal(t, []string{reactionForbidden}, session.Reactions(m.ID))

		sendTestMessage(t, bot, testMemberID, "!hello")
		assert.Equal(t, []string{">hello"}, session.Sent(testChannelID))

		require.NoError(t, bot.ban(context.Background(), testMemberID, PermissionSafe))
		sendTestMessage(t, bot, testMemberID, "!hello")
		assert.Len(t, session.Sent(testChannelID), 1)
	})

	t.Run("inline commands", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		sendTestMessage(t, bot, testMemberID, "so !!testgroup echo one and !!testgroup echo two")
		assert.Equal(t, []string{"one|and", "two"}, session.Sent(testChannelID))
	})

	t.Run("inline command limit", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		bot.config.Discord.InlineCommandLimit = 1
		sendTestMessage(t, bot, testMemberID, "!!hello !!hello")
		assert.Equal(t, []string{">hello"}, session.Sent(testChannelID))

		sendTestMessage(t, bot, testOwnerID, "!!hello !!hello")
		assert.Len(t, session.Sent(testChannelID), 3)
	})

	t.Run("inline commands disabled", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		rc := bot.RuntimeConfig()
		rc.InlineCommandsEnabled = false
		bot.setRuntimeConfig(&rc)
		sendTestMessage(t, bot, testMemberID, "hey !!hello")
		assert.Empty(t, session.Sent(testChannelID))
	})

	t.Run("exec", func(t *testing.T) {
		t.Parallel()
		bot, session := newBot(t)
		m := sendTestMessage(t, bot, testMemberID, "!exec !hello ;; !nope ;; !testgroup echo x")
		assert.Equal(t, []string{">hello", "x"}, session.Sent(testChannelID))
		assert.Empty(t, session.Reactions(m.ID), "sub commands don't react")
	})
}
