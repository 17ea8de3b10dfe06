package andre

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	profileFieldCountry       = "country"
	profileFieldLanguages     = "languages"
	profileFieldProgLanguages = "prog_languages"
	profileFieldProjects      = "projects"
)

// profileQuestion is asked for a profile field. def is used when the
// answer is "-".
type profileQuestion struct {
	question string
	def      string
}

var profileQuestions = map[string]profileQuestion{
	columnUserMALName: {"What is your MAL username?", "unknown"},
	columnUserGender:  {"What is your gender?", "unknown"},
	columnUserBirthdate: {
		"When were you born? (yyyy-mm-dd)",
		"1900-01-01",
	},
	profileFieldCountry: {"Where are you from? (country)", "United States"},
	profileFieldLanguages: {
		"What languages do you speak? Make a comma-separated list with the following format:\n" +
			"`name or code (optional extra info)`\n" +
			"Examples: `english`, `french (learning)`, `deu`, or for exotic languages, " +
			"use the special code mis and specify the language after: `mis (BSL)`",
		"mis (none)",
	},
	profileFieldProgLanguages: {
		"What are some programming languages that you know and like?\n" +
			"Make a comma-separated list, mark extra info in parenthesis. " +
			"Examples: `C++ (my favourite one), Javascript (learning), WhiteSpace (weird though), Lua`",
		"none",
	},
	columnUserBio: {"Tell me about yourself!", "nothing"},
	columnUserTimezone: {
		"What is your current timezone?\n" +
			"The timezone should look like `Region/City`. " +
			"You can find your timezone here: http://www.timezoneconverter.com/cgi-bin/findzone",
		"UTC",
	},
}

// setupFields is the order `user setup` asks in
var setupFields = []string{
	columnUserMALName,
	columnUserBirthdate,
	columnUserGender,
	profileFieldCountry,
	columnUserTimezone,
	profileFieldLanguages,
	profileFieldProgLanguages,
	columnUserBio,
	profileFieldProjects,
}

// updateFields is the order fields are listed in by `user update`
var updateFields = []string{
	columnUserMALName,
	columnUserGender,
	columnUserBirthdate,
	profileFieldCountry,
	profileFieldLanguages,
	profileFieldProgLanguages,
	columnUserBio,
	columnUserTimezone,
}

func updateFieldList() string {
	names := make([]string, len(updateFields))
	for i, f := range updateFields {
		names[i] = "`" + f + "`"
	}
	return fmt.Sprintf(
		"You can edit any of the following fields "+
			"(just type its name, or `done` to stop updating your profile):\n%s and `%s`",
		strings.Join(names, ", "), profileFieldProjects,
	)
}

// profileEditor asks profile questions in a DM flow and saves each
// answer as it comes
type profileEditor struct {
	bot  *Andre
	flow *dmFlow
	user *User
}

func (e *profileEditor) ctx() context.Context {
	return e.flow.ctx
}

func (e *profileEditor) askField(field string) (string, error) {
	q := profileQuestions[field]
	return e.flow.ask(q.question, q.def)
}

// reload refreshes the user and their associations
func (e *profileEditor) reload() error {
	user, err := getUserByDiscordID(e.ctx(), e.bot.writeDB.DB(), e.user.DiscordID)
	if err != nil {
		return err
	}
	e.user = user
	return nil
}

func (e *profileEditor) setColumn(column, value string) error {
	_, err := e.bot.writeDB.Update(e.ctx(), e.user, column, value)
	return err
}

// edit asks for a single field. Unknown fields are ignored.
func (e *profileEditor) edit(field string) error {
	switch field {
	case columnUserMALName:
		return e.editMALName()
	case columnUserGender, columnUserBio:
		answer, err := e.askField(field)
		if err != nil {
			return err
		}
		return e.setColumn(field, answer)
	case columnUserBirthdate:
		return e.editBirthdate()
	case profileFieldCountry:
		return e.editCountry()
	case columnUserTimezone:
		return e.editTimezone()
	case profileFieldLanguages:
		return e.editLanguages()
	case profileFieldProgLanguages:
		return e.editProgrammingLanguages()
	case profileFieldProjects:
		return e.editProjects()
	}
	return nil
}

func (e *profileEditor) editMALName() error {
	answer, err := e.askField(columnUserMALName)
	if err != nil {
		return err
	}
	previous := e.user.MALName
	if err = e.setColumn(columnUserMALName, answer); err != nil {
		return err
	}
	e.user.MALName = answer
	if previous != "" && !strings.EqualFold(previous, answer) {
		e.bot.cache.Forget(previous)
	}
	return nil
}

func (e *profileEditor) editBirthdate() error {
	for {
		answer, err := e.askField(columnUserBirthdate)
		if err != nil {
			return err
		}
		if _, err = time.Parse(birthdateLayout, answer); err != nil {
			if err = e.flow.say("You need to enter a valid date"); err != nil {
				return err
			}
			continue
		}
		e.user.Birthdate = answer
		return e.setColumn(columnUserBirthdate, answer)
	}
}

func (e *profileEditor) editCountry() error {
	for {
		answer, err := e.askField(profileFieldCountry)
		if err != nil {
			return err
		}
		code, ok := lookupCountry(answer)
		if !ok {
			err = e.flow.say(
				"Country not found. Please enter the english name of the country or its alpha-3 code.",
			)
			if err != nil {
				return err
			}
			continue
		}
		return e.bot.writeDB.Transaction(
			e.ctx(), func(tx *gorm.DB) error {
				country, txErr := fetchOrCreateCountry(tx, code)
				if txErr != nil {
					return txErr
				}
				e.user.CountryID = &country.ID
				e.user.Country = country
				return tx.Model(e.user).Update(columnUserCountryID, country.ID).Error
			},
		)
	}
}

// loadTimezone refuses the empty and "Local" names, which
// time.LoadLocation accepts
func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: invalid timezone %q", ErrBadArgument, name)
	}
	return time.LoadLocation(name)
}

func (e *profileEditor) editTimezone() error {
	for {
		answer, err := e.askField(columnUserTimezone)
		if err != nil {
			return err
		}
		loc, err := loadTimezone(answer)
		if err != nil {
			if err = e.flow.say("This is not a valid timezone, please try again."); err != nil {
				return err
			}
			continue
		}
		local := e.bot.now().In(loc).Format(time.TimeOnly)
		correct, err := e.flow.confirm(fmt.Sprintf("Is this your current time: %s?", local))
		if err != nil {
			return err
		}
		if correct {
			e.user.Timezone = answer
			return e.setColumn(columnUserTimezone, answer)
		}
	}
}

func (e *profileEditor) editLanguages() error {
	for {
		answer, err := e.askField(profileFieldLanguages)
		if err != nil {
			return err
		}
		languages := parseLanguages(answer)
		names := make([]string, len(languages))
		for i, l := range languages {
			names[i] = l.Display()
		}
		correct, err := e.flow.confirm(fmt.Sprintf("Is this correct: %s?", strings.Join(names, ", ")))
		if err != nil {
			return err
		}
		if !correct {
			continue
		}
		return e.bot.writeDB.Transaction(
			e.ctx(), func(tx *gorm.DB) error {
				return replaceLanguages(tx, e.user.ID, languages)
			},
		)
	}
}

func (e *profileEditor) editProgrammingLanguages() error {
	answer, err := e.askField(profileFieldProgLanguages)
	if err != nil {
		return err
	}
	languages := parseProgrammingLanguages(answer)
	return e.bot.writeDB.Transaction(
		e.ctx(), func(tx *gorm.DB) error {
			return replaceProgrammingLanguages(tx, e.user.ID, languages)
		},
	)
}

// projectsStatus lists the user's projects
func projectsStatus(projects []Project) string {
	if len(projects) == 0 {
		return "You currently have no project"
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return fmt.Sprintf("You have %d project(s): %s", len(projects), strings.Join(names, ", "))
}

func (e *profileEditor) ownProject(name string) (*Project, bool) {
	for i := range e.user.Projects {
		if strings.EqualFold(e.user.Projects[i].Name, name) {
			return &e.user.Projects[i], true
		}
	}
	return nil, false
}

func (e *profileEditor) editProjects() error {
	for {
		if err := e.reload(); err != nil {
			return err
		}
		answer, err := e.flow.ask(
			projectsStatus(e.user.Projects)+
				"\nYou can `add`, `update` or `remove` a project. "+
				"Enter the corresponding action or `done` to stop editing projects.",
			"",
		)
		if err != nil {
			return err
		}

		switch strings.ToLower(answer) {
		case "done":
			return nil
		case "add":
			err = e.addProject()
		case "update":
			err = e.updateProject()
		case "remove":
			err = e.removeProject()
		}
		if err != nil {
			return err
		}
	}
}

func (e *profileEditor) addProject() error {
	name, err := e.flow.ask("What is the name of your project?", "")
	if err != nil {
		return err
	}
	existing, err := findProjectByName(e.ctx(), e.bot.writeDB.DB(), name)
	switch {
	case err == nil:
		add, confirmErr := e.flow.confirm(existing.Content() + "\nDo you want to add this project?")
		if confirmErr != nil || !add {
			return confirmErr
		}
		return e.bot.writeDB.Transaction(
			e.ctx(), func(tx *gorm.DB) error {
				return tx.Model(e.user).Association("Projects").Append(existing)
			},
		)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	project := &Project{Name: name}
	if err = e.askProjectContent(project); err != nil {
		return err
	}
	return e.bot.writeDB.Transaction(
		e.ctx(), func(tx *gorm.DB) error {
			if txErr := tx.Create(project).Error; txErr != nil {
				return txErr
			}
			return tx.Model(e.user).Association("Projects").Append(project)
		},
	)
}

func (e *profileEditor) askProjectContent(project *Project) error {
	description, err := e.flow.ask("Describe your project", "")
	if err != nil {
		return err
	}
	link, err := e.flow.ask("Provide a link for your project (or `-` if you have no link)", "")
	if err != nil {
		return err
	}
	if link == "-" {
		link = ""
	}
	project.Description = description
	project.Link = link
	return nil
}

func (e *profileEditor) updateProject() error {
	name, err := e.flow.ask("What is the name of your project?", "")
	if err != nil {
		return err
	}
	project, ok := e.ownProject(name)
	if !ok {
		return e.flow.say("Project not found.")
	}
	if err = e.askProjectContent(project); err != nil {
		return err
	}
	_, err = e.bot.writeDB.Save(e.ctx(), project)
	return err
}

func (e *profileEditor) removeProject() error {
	name, err := e.flow.ask("What is the name of your project?", "")
	if err != nil {
		return err
	}
	project, ok := e.ownProject(name)
	if !ok {
		return e.flow.say("Project not found.")
	}
	return e.bot.writeDB.Transaction(
		e.ctx(), func(tx *gorm.DB) error {
			return removeUserProject(tx, e.user, project)
		},
	)
}

func (a *Andre) userUsage() string {
	return fmt.Sprintf(
		"Usage:\n\n"+
			"`%[1]suser setup` starts the q/a to fill your profile\n"+
			"`%[1]suser update` lets you update part of your profile\n"+
			"`%[1]suser extras setup` starts the q/a to fill your extras profile\n"+
			"`%[1]suser extras update` lets you update part of your extras profile",
		a.router.prefix,
	)
}

func (a *Andre) profileCommands() []*Command {
	usage := func(c *CommandContext) error {
		return c.Say(a.userUsage())
	}
	extrasSetup := &Command{
		Name:     "setup",
		Help:     "Answer the extra profile questions you haven't answered yet.",
		Category: categoryProfile,
		Level:    PermissionUserData,
		Run:      a.runExtrasSetup,
	}
	extrasUpdate := &Command{
		Name:     "update",
		Help:     "Edit your answers to the extra profile questions.",
		Category: categoryProfile,
		Level:    PermissionUserData,
		Run:      a.runExtrasUpdate,
	}
	return []*Command{
		{
			Name:     "user",
			Aliases:  []string{"User"},
			Help:     "Create or edit your profile.",
			Category: categoryProfile,
			Level:    PermissionUserData,
			Run:      usage,
			Subcommands: []*Command{
				{
					Name:     "setup",
					Usage:    "[force]",
					Help:     "Starts the q/a to fill your profile, in DMs.",
					Category: categoryProfile,
					Level:    PermissionUserData,
					Run:      a.runUserSetup,
				},
				{
					Name:     "update",
					Help:     "Lets you update part of your profile, in DMs.",
					Category: categoryProfile,
					Level:    PermissionSafe,
					Run:      a.runUserUpdate,
				},
				{
					Name:        "extras",
					Aliases:     []string{"extra"},
					Category:    categoryProfile,
					Level:       PermissionUserData,
					Run:         usage,
					Subcommands: []*Command{extrasSetup, extrasUpdate},
				},
			},
		},
		{
			Name:     "extras",
			Aliases:  []string{"Extras", "extra", "Extra"},
			Help:     "Answer or edit the extra profile questions.",
			Category: categoryProfile,
			Level:    PermissionUserData,
			Run:      usage,
			Subcommands: []*Command{
				extrasSetup,
				extrasUpdate,
			},
		},
	}
}

func (a *Andre) runUserSetup(c *CommandContext) error {
	ctx := c.Context()
	prefix := a.router.prefix

	user, err := getUserByDiscordID(ctx, a.db, c.AuthorID())
	switch {
	case err == nil && !strings.EqualFold(c.Arg(0), "force"):
		return c.Whisper(
			fmt.Sprintf(
				"You already have a profile, did you mean to edit it using `%[1]suser update`?\n"+
					"If you want to go through the setup again, use `%[1]suser setup force`",
				prefix,
			),
		)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	flow, release, err := a.startFlow(c, prefix+"user setup", a.config.Conversation.ProfileTimeout)
	if err != nil {
		return err
	}
	defer release()

	err = flow.sayf(
		"Hello %s, let's get started!\n"+
			"I'm going to ask a few questions so we can get to know you. "+
			"This is just to get a general idea of who you are, it's not for the NSA, I swear.\n"+
			"If you don't want to answer one of these question, just type `-` "+
			"and I'll ignore it or put some default value if needed.\n"+
			"You can edit this later using `%suser update`.",
		flow.user.Username, prefix,
	)
	if err != nil {
		return err
	}

	if user == nil {
		user = &User{DiscordID: c.AuthorID()}
		if _, err = a.writeDB.Create(ctx, user); err != nil {
			return err
		}
	}

	editor := &profileEditor{bot: a, flow: flow, user: user}
	for _, field := range setupFields {
		if err = editor.edit(field); err != nil {
			return err
		}
	}
	c.Logger().InfoContext(ctx, "profile set up", "user", editor.user)

	return flow.sayf(
		"That's all for now, thank you!\n"+
			"You can see your profile or other people's profile by using `%[1]sprofile [user]`\n\n"+
			"If you still want to tell us about you, here are some additional commands you can run:\n"+
			"`%[1]suser extras setup`: Lets you answer some additional random questions\n"+
			"`b/waifuset`: A command by BobDono to let you set your waifu\n\n"+
			"You can also run `%[1]sbots` for more info about bots, don't hesitate to play with us.\n"+
			"Lastly, keep an eye on the channels under ELECTIONS, we run very important waifu wars in them. "+
			"Yes, this server is for Intellectuals™.\n\n"+
			"Also, please avoid using `@everyone` or `@here` unless it's a real emergency.\n"+
			"Instead, you should use `@AMA` if you have a question or need some help.",
		prefix,
	)
}

func (a *Andre) runUserUpdate(c *CommandContext) error {
	ctx := c.Context()
	prefix := a.router.prefix

	flow, release, err := a.startFlow(c, prefix+"user update", a.config.Conversation.ProfileTimeout)
	if err != nil {
		return err
	}
	defer release()

	user, err := getUserByDiscordID(ctx, a.db, c.AuthorID())
	if errors.Is(err, ErrNotFound) {
		return flow.sayf(
			"Hello %s, your profile doesn't exist yet. Please run `%suser setup` to get started!",
			flow.user.Username, prefix,
		)
	}
	if err != nil {
		return err
	}

	editor := &profileEditor{bot: a, flow: flow, user: user}
	fields := updateFieldList()
	if err = flow.sayf("Hello %s, %s", flow.user.Username, fields); err != nil {
		return err
	}
	for {
		answer, waitErr := flow.wait("")
		if waitErr != nil {
			return waitErr
		}
		field := strings.ToLower(answer)
		if field == "done" {
			break
		}
		if err = editor.edit(field); err != nil {
			return err
		}
		if err = flow.say(fields); err != nil {
			return err
		}
	}
	return flow.say("Thank you!")
}
