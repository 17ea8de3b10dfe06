package andre

import "strings"

// Help categories, in display order
const (
	categoryProfile   = "Profile"
	categoryUserStats = "User stats"
	categoryMAL       = "MAL"
	categoryVNDB      = "VNDB"
	categoryLists     = "User lists"
	categoryRandom    = "Random"
	categorySpecial   = "Special"
	categoryDatabase  = "Database"
	categoryAdmin     = "Admin"
)

var helpCategories = []string{
	categoryProfile,
	categoryUserStats,
	categoryMAL,
	categoryVNDB,
	categoryLists,
	categoryRandom,
	categorySpecial,
	categoryDatabase,
	categoryAdmin,
}

const (
	emoteKanna = "<:kanna:335316999569670145>"
	emoteHumm  = "<:humm:332142122700505088>"
)

// commandExpansions are commands that rewrite the message into
// other commands
var commandExpansions = map[string]string{
	"eva":      "",
	"noop":     "",
	"quit":     "",
	"meesterP": "!exec !updatelist ;; !airing @me",
	"election": "!say " + emoteHumm + " do you mean `b/election votes`? " + emoteHumm,
	"votes":    "!say " + emoteHumm + " do you mean `b/election votes`? " + emoteHumm,
}

func (a *Andre) registerCommands() {
	groups := [][]*Command{
		a.profileCommands(),
		a.profileViewCommands(),
		a.extrasCommands(),
		a.badgeCommands(),
		a.malCommands(),
		a.airingCommands(),
		a.vndbCommands(),
		a.adminCommands(),
		a.adminDBCommands(),
		a.birthdayCommands(),
		a.miscCommands(),
	}
	for _, cmds := range groups {
		a.router.Register(cmds...)
	}
	for name, content := range commandExpansions {
		a.router.Expand(name, strings.ReplaceAll(content, DefaultCommandPrefix, a.router.prefix))
	}
}
