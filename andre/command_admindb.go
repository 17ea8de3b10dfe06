package andre

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

const (
	backupTimeLayout   = "2006-01-02-15-04-05"
	defaultUsersFormat = "{0}:{1}"
	purgeAllFields     = "*"
)

// backupPath is {dir}/users-{time}{suffix}.db
func backupPath(dir string, suffix string, t string) string {
	return filepath.Join(dir, fmt.Sprintf("users-%s%s.db", t, suffix))
}

// backupDB writes a consistent copy of the sqlite database to the
// backup directory, and returns its path
func (a *Andre) backupDB(ctx context.Context, suffix string) (string, error) {
	if a.config.DatabaseType != dbTypeSQLite {
		return "", fmt.Errorf("%w: backups are only supported with sqlite", ErrForbidden)
	}
	dir := a.config.BackupDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("error creating backup dir: %w", err)
	}
	path := backupPath(dir, suffix, a.now().Format(backupTimeLayout))
	if err := a.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return "", fmt.Errorf("error backing up database: %w", err)
	}
	a.logger.InfoContext(ctx, "database backed up", "path", path)
	return path, nil
}

// formatUserLine replaces {0} with the discord ID and {1} with the MAL
// name
func formatUserLine(format string, u User) string {
	return strings.NewReplacer("{0}", u.DiscordID, "{1}", u.MALName).Replace(format)
}

func isPurgeableField(field string) bool {
	switch field {
	case purgeAllFields, "languages", "prog_languages", "projects", "extras":
		return true
	}
	for _, c := range purgeableColumns {
		if c == field {
			return true
		}
	}
	return false
}

// findUserByMALOrDiscordID looks the user up by MAL name first, then by
// discord ID
func findUserByMALOrDiscordID(ctx context.Context, db *gorm.DB, s string) (*User, error) {
	var user User
	err := db.WithContext(ctx).Where("mal_name = ?", s).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return getUserByDiscordID(ctx, db, s)
}

func (a *Andre) adminDBCommands() []*Command {
	return []*Command{
		{
			Name:      "backupdb",
			Help:      "Backs the database up.",
			Category:  categoryDatabase,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				if _, err := a.backupDB(c.Context(), ""); err != nil {
					return err
				}
				return c.OK()
			},
		},
		{
			Name:      "purgedb",
			Usage:     "mal_name_or_discord_id field|*",
			Help:      "Clears a profile field, or deletes the whole profile with *. The database is backed up first.",
			Category:  categoryDatabase,
			OwnerOnly: true,
			Run:       a.runPurgeDB,
		},
		{
			Name:     "db",
			Category: categoryDatabase,
			Level:    PermissionSafe,
			Subcommands: []*Command{
				{
					Name:  "users",
					Usage: "[format]",
					Help:  "Lists the profiles. {0} is the discord ID and {1} the MAL name.",
					Level: PermissionSafe,
					Run:   a.runDBUsers,
				},
			},
		},
	}
}

func (a *Andre) runPurgeDB(c *CommandContext) error {
	ctx := c.Context()
	if len(c.Args) < 2 {
		return userError(ErrBadArgument, "Usage: `%spurgedb mal_name field`", a.router.prefix)
	}
	name, field := c.Args[0], c.Args[1]

	user, err := findUserByMALOrDiscordID(ctx, a.db, name)
	if errors.Is(err, ErrNotFound) {
		return c.Sayf("No user found for name \"%s\"", name)
	}
	if err != nil {
		return err
	}
	if !isPurgeableField(field) {
		return c.Sayf("Unrecognized field \"%s\"", field)
	}

	if _, err = a.backupDB(ctx, fmt.Sprintf("-purge-%s-%s", name, field)); err != nil && !errors.Is(err, ErrForbidden) {
		return err
	}

	err = a.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if field == purgeAllFields {
				return purgeUser(tx, user)
			}
			return purgeUserField(tx, user, field)
		},
	)
	if err != nil {
		return err
	}
	if user.MALName != "" && (field == purgeAllFields || field == columnUserMALName) {
		a.cache.Forget(user.MALName)
	}
	c.Logger().InfoContext(ctx, "purged user data", "user", user.String(), "field", field)
	return c.OK()
}

func (a *Andre) runDBUsers(c *CommandContext) error {
	format := c.Rest
	if format == "" {
		format = defaultUsersFormat
	}
	users, err := allUsers(c.Context(), a.db)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, u := range users {
		sb.WriteString(formatUserLine(format, u))
		sb.WriteByte('\n')
	}
	return c.Say("```" + sb.String() + "```")
}
