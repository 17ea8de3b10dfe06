package andre

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// extrasQuit stops an extras flow
const extrasQuit = "!quit"

// errFlowQuit is returned by extras questions when the user typed
// extrasQuit
var errFlowQuit = errors.New("flow stopped by user")

// answeredExtra is a question with the user's answer
type answeredExtra struct {
	Extras Extras
	Answer *UserExtras
}

func allExtras(ctx context.Context, db *gorm.DB) ([]Extras, error) {
	var extras []Extras
	err := db.WithContext(ctx).Order("id").Find(&extras).Error
	return extras, err
}

func userExtras(ctx context.Context, db *gorm.DB, userID uint) ([]UserExtras, error) {
	var answers []UserExtras
	err := db.WithContext(ctx).
		Preload("Extras").
		Where("user_id = ?", userID).
		Order("extras_id").
		Find(&answers).Error
	return answers, err
}

// sortExtras splits extras into answered and unanswered questions
func sortExtras(extras []Extras, answers []UserExtras) (done []answeredExtra, pending []Extras) {
	byID := make(map[uint]*UserExtras, len(answers))
	for i := range answers {
		byID[answers[i].ExtrasID] = &answers[i]
	}
	for _, e := range extras {
		if answer, ok := byID[e.ID]; ok {
			done = append(done, answeredExtra{Extras: e, Answer: answer})
		} else {
			pending = append(pending, e)
		}
	}
	return done, pending
}

// extrasQuestion is the question, its options and the current answer
func extrasQuestion(e Extras, previous *UserExtras) string {
	question := e.Question
	if e.Options != "" {
		question += "\nPossible answers: " + e.Options
	}
	if previous != nil {
		question += "\n*Current answer:* " + previous.Response
	}
	return question
}

// validExtrasAnswer checks the answer against the question's options,
// case-insensitively
func validExtrasAnswer(e Extras, answer string) bool {
	options := e.OptionList()
	if len(options) == 0 {
		return true
	}
	return slices.ContainsFunc(
		options, func(o string) bool {
			return strings.EqualFold(o, answer)
		},
	)
}

func extrasListLine(e Extras) string {
	return fmt.Sprintf("**%d** - %s", e.ID, e.Question)
}

// extrasEditor asks extras questions in a DM flow
type extrasEditor struct {
	bot  *Andre
	flow *dmFlow
	user *User
}

// quit reacts to the message that stopped the flow
func (e *extrasEditor) quit(m *discordgo.Message) error {
	err := e.bot.discord.session.MessageReactionAdd(m.ChannelID, m.ID, reactionOK)
	logErr(e.flow.ctx, e.bot.logger, "error adding reaction", err)
	return errFlowQuit
}

// ask asks a single question until the answer is valid. A nil answer
// means the question was skipped, and the previous answer removed.
func (e *extrasEditor) ask(extra Extras, previous *UserExtras) (*UserExtras, error) {
	for {
		if err := e.flow.say(extrasQuestion(extra, previous)); err != nil {
			return nil, err
		}
		m, err := e.flow.waitMessage()
		if err != nil {
			return nil, err
		}
		content := strings.TrimSpace(m.Content)

		switch {
		case content == extrasQuit:
			return nil, e.quit(m)
		case content == "-":
			if previous != nil {
				if _, err = e.bot.writeDB.Delete(e.flow.ctx, previous); err != nil {
					return nil, err
				}
			}
			return nil, nil
		case !validExtrasAnswer(extra, content):
			if err = e.flow.say("Invalid response, please choose from the specified list."); err != nil {
				return nil, err
			}
			continue
		}

		answer := &UserExtras{UserID: e.user.ID, ExtrasID: extra.ID, Response: content}
		err = e.bot.writeDB.Transaction(
			e.flow.ctx, func(tx *gorm.DB) error {
				txErr := tx.Where("user_id = ? AND extras_id = ?", e.user.ID, extra.ID).
					Delete(&UserExtras{}).Error
				if txErr != nil {
					return txErr
				}
				return tx.Create(answer).Error
			},
		)
		return answer, err
	}
}

// extrasProfile loads the author's profile and the questions. A
// missing profile or an empty question bank is reported in DMs, with a
// nil user.
func (a *Andre) extrasProfile(c *CommandContext, flow *dmFlow) (*User, []answeredExtra, []Extras, error) {
	ctx := c.Context()
	user, err := getUserByDiscordID(ctx, a.db, c.AuthorID())
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil, flow.sayf(
			"Hello %s, your profile doesn't exist yet. Please run `%suser setup` to get started!",
			flow.user.Username, a.router.prefix,
		)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	extras, err := allExtras(ctx, a.db)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(extras) == 0 {
		return nil, nil, nil, flow.say("No extras available")
	}
	answers, err := userExtras(ctx, a.db, user.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	done, pending := sortExtras(extras, answers)
	return user, done, pending, nil
}

func (a *Andre) startExtrasFlow(c *CommandContext, name string) (*dmFlow, func(), error) {
	flow, release, err := a.startFlow(
		c,
		a.router.prefix+"user extras "+name,
		a.config.Conversation.ExtrasTimeout,
	)
	if err != nil {
		return nil, nil, err
	}
	// !quit has to reach the flow
	flow.skipPrefix = ""
	return flow, release, nil
}

func (a *Andre) runExtrasSetup(c *CommandContext) error {
	flow, release, err := a.startExtrasFlow(c, "setup")
	if err != nil {
		return err
	}
	defer release()

	user, _, pending, err := a.extrasProfile(c, flow)
	if err != nil || user == nil {
		return err
	}
	if len(pending) == 0 {
		return flow.sayf(
			"You've already answered all extra questions. To edit them, use `%sextras update`.",
			a.router.prefix,
		)
	}

	err = flow.say(
		"I will now ask you some random questions.\n" +
			"If you do not want to answer a question, simply type `-` and I will skip it.\n" +
			"If possible answers are specified, you can only use one of them. " +
			"Otherwise, you're free to write what you want.\n" +
			"If at any point you want to stop answering these questions, type `" + extrasQuit + "`.",
	)
	if err != nil {
		return err
	}

	editor := &extrasEditor{bot: a, flow: flow, user: user}
	for _, extra := range pending {
		if _, err = editor.ask(extra, nil); err != nil {
			if errors.Is(err, errFlowQuit) {
				return nil
			}
			return err
		}
	}
	return flow.sayf(
		"Annnnnnd done! Thank you! You can use `%sprofile extras [user]` to view other people's answers.",
		a.router.prefix,
	)
}

func extrasUpdateMessage(done []answeredExtra, pending []Extras) string {
	doneLines := make([]string, 0, len(done))
	for _, d := range done {
		doneLines = append(doneLines, extrasListLine(d.Extras))
	}
	pendingLines := make([]string, 0, len(pending))
	for _, e := range pending {
		pendingLines = append(pendingLines, extrasListLine(e))
	}
	orNone := func(lines []string) string {
		if len(lines) == 0 {
			return "None"
		}
		return strings.Join(lines, "\n")
	}
	return fmt.Sprintf(
		"To answer a question, simply type its identifier.\n"+
			"If you do not want to answer a question, simply type `-` "+
			"and I will skip it (and remove your previous answer if any).\n"+
			"If at any point you want to stop editing questions, "+
			"type `%s` (or `done` when selecting questions).\n"+
			"Questions you've already answered:\n%s\n\nNew questions:\n%s",
		extrasQuit, orNone(doneLines), orNone(pendingLines),
	)
}

func (a *Andre) runExtrasUpdate(c *CommandContext) error {
	flow, release, err := a.startExtrasFlow(c, "update")
	if err != nil {
		return err
	}
	defer release()

	user, done, pending, err := a.extrasProfile(c, flow)
	if err != nil || user == nil {
		return err
	}
	if err = flow.say(extrasUpdateMessage(done, pending)); err != nil {
		return err
	}

	editor := &extrasEditor{bot: a, flow: flow, user: user}
	for {
		m, waitErr := flow.waitMessage()
		if waitErr != nil {
			return waitErr
		}
		content := strings.TrimSpace(m.Content)
		if content == extrasQuit || content == "done" {
			_ = editor.quit(m)
			return nil
		}

		id, convErr := strconv.ParseUint(content, 10, 64)
		found := false
		if convErr == nil {
			done, pending, found, err = editor.answerByID(uint(id), done, pending)
			if errors.Is(err, errFlowQuit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		reply := "Invalid ID"
		if found {
			reply = "Saved! To answer another question, simply type its identifier."
		}
		if err = flow.say(reply); err != nil {
			return err
		}
	}
}

// answerByID asks the question with the given ID, moving it to the
// answered questions
func (e *extrasEditor) answerByID(id uint, done []answeredExtra, pending []Extras) (
	[]answeredExtra,
	[]Extras,
	bool,
	error,
) {
	if i := slices.IndexFunc(done, func(d answeredExtra) bool { return d.Extras.ID == id }); i >= 0 {
		item := done[i]
		answer, err := e.ask(item.Extras, item.Answer)
		if err != nil {
			return done, pending, true, err
		}
		done = slices.Delete(done, i, i+1)
		if answer != nil {
			done = append(done, answeredExtra{Extras: item.Extras, Answer: answer})
		} else {
			pending = append(pending, item.Extras)
		}
		return done, pending, true, nil
	}
	if i := slices.IndexFunc(pending, func(e Extras) bool { return e.ID == id }); i >= 0 {
		extra := pending[i]
		answer, err := e.ask(extra, nil)
		if err != nil {
			return done, pending, true, err
		}
		if answer != nil {
			pending = slices.Delete(pending, i, i+1)
			done = append(done, answeredExtra{Extras: extra, Answer: answer})
		}
		return done, pending, true, nil
	}
	return done, pending, false, nil
}

// splitDefinition splits "text => extra"
func splitDefinition(raw string) (text, extra string, hasExtra bool) {
	text, extra, hasExtra = strings.Cut(raw, "=>")
	return strings.TrimSpace(text), strings.TrimSpace(extra), hasExtra
}

// parseID reads a database ID argument
func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrBadArgument, s)
	}
	return uint(id), nil
}

func (a *Andre) extrasCommands() []*Command {
	return []*Command{
		{
			Name:      "extrasdb",
			Aliases:   []string{"extradb"},
			Category:  categoryDatabase,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				return c.Sayf(
					"Usage:\n\n"+
						"`%[1]sextrasdb list` lists the existing extras\n"+
						"`%[1]sextrasdb add [question] [=> [options]]` adds a question to the extras. "+
						"If *=>* is present, what follows is a comma-separated list representing the possible options\n"+
						"`%[1]sextrasdb edit [id] [new_question]` edits an existing question\n"+
						"`%[1]sextrasdb rm [id]` removes the specified extra and all user answers",
					a.router.prefix,
				)
			},
			Subcommands: []*Command{
				{
					Name:      "list",
					OwnerOnly: true,
					Run:       a.runExtrasList,
				},
				{
					Name:      "add",
					Usage:     "question [=> options]",
					OwnerOnly: true,
					Run:       a.runExtrasAdd,
				},
				{
					Name:      "edit",
					Aliases:   []string{"update"},
					Usage:     "id question [=> options]",
					OwnerOnly: true,
					Run:       a.runExtrasEdit,
				},
				{
					Name:      "rm",
					Aliases:   []string{"remove"},
					Usage:     "id",
					OwnerOnly: true,
					Run:       a.runExtrasRemove,
				},
			},
		},
	}
}

func (a *Andre) runExtrasList(c *CommandContext) error {
	extras, err := allExtras(c.Context(), a.db)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(extras))
	for _, e := range extras {
		line := extrasListLine(e)
		if e.Options != "" {
			line += " => " + e.Options
		}
		lines = append(lines, line)
	}
	return c.SafeSay(strings.Join(lines, "\n"))
}

func (a *Andre) runExtrasAdd(c *CommandContext) error {
	question, options, _ := splitDefinition(c.Rest)
	if question == "" {
		return userError(ErrBadArgument, "No question specified")
	}
	if _, err := a.writeDB.Create(c.Context(), &Extras{Question: question, Options: options}); err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runExtrasEdit(c *CommandContext) error {
	rawID, raw, _ := strings.Cut(c.Rest, " ")
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	var extra Extras
	if err = a.db.WithContext(c.Context()).First(&extra, id).Error; err != nil {
		return notFound(err, "extras %d", id)
	}
	question, options, _ := splitDefinition(raw)
	_, err = a.writeDB.Updates(
		c.Context(), &extra, map[string]any{
			"question": question,
			"options":  options,
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runExtrasRemove(c *CommandContext) error {
	id, err := parseID(c.Arg(0))
	if err != nil {
		return err
	}
	var extra Extras
	if err = a.db.WithContext(c.Context()).First(&extra, id).Error; err != nil {
		return notFound(err, "extras %d", id)
	}
	err = a.writeDB.Transaction(
		c.Context(), func(tx *gorm.DB) error {
			if txErr := tx.Where("extras_id = ?", extra.ID).Delete(&UserExtras{}).Error; txErr != nil {
				return txErr
			}
			return tx.Delete(&extra).Error
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}
