package andre

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

func allBadges(ctx context.Context, db *gorm.DB) ([]Badge, error) {
	var badges []Badge
	err := db.WithContext(ctx).Order("id").Find(&badges).Error
	return badges, err
}

// userBadges returns the user's badges, ordered by badge ID
func userBadges(ctx context.Context, db *gorm.DB, userID uint) ([]UserBadge, error) {
	var awards []UserBadge
	err := db.WithContext(ctx).
		Preload("Badge").
		Where("user_id = ?", userID).
		Order("badge_id").
		Find(&awards).Error
	return awards, err
}

func countUserBadges(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&UserBadge{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// badgesMessage lists a user's badges, numbered from 1
func badgesMessage(name string, awards []UserBadge) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s's badges*\n\n", name)
	n := 0
	for _, award := range awards {
		if award.Badge == nil {
			continue
		}
		n++
		fmt.Fprintf(&sb, "**%d.** %s\n", n, award.Badge.Description)
	}
	if n == 0 {
		return name + " has no badge."
	}
	return sb.String()
}

func badgeListLine(b Badge) string {
	line := fmt.Sprintf("**%d** - %s", b.ID, b.Description)
	if b.Link != "" {
		line += fmt.Sprintf(" (%s)", b.Link)
	}
	return line
}

func (a *Andre) badgeCommands() []*Command {
	return []*Command{
		{
			Name:     "badges",
			Aliases:  []string{"Badges"},
			Usage:    "[user]",
			Help:     "Lists the badges collected by a member.",
			Category: categoryProfile,
			Run:      a.runBadges,
		},
		{
			Name:      "badgesdb",
			Aliases:   []string{"badgedb"},
			Category:  categoryDatabase,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				return c.Sayf(
					"Usage:\n\n"+
						"`%[1]sbadgesdb list` lists the existing badges\n"+
						"`%[1]sbadgesdb count` prints the number of existing badges\n"+
						"`%[1]sbadgesdb add [description] [=> link]` adds a badge to the db. "+
						"If *=>* is present, what follows is link to the badge image "+
						"(its filename without the extension)\n"+
						"`%[1]sbadgesdb edit [id] [description [=> link]]` edits an existing badge\n"+
						"`%[1]sbadgesdb rm [id]` removes the specified badge\n\n"+
						"`%[1]sbadgesdb assign [id] [member]+` Adds a badge to some members\n"+
						"`%[1]sbadgesdb revoke [id] [member]+` Removes a badge from some members",
					a.router.prefix,
				)
			},
			Subcommands: []*Command{
				{Name: "list", OwnerOnly: true, Run: a.runBadgesList},
				{Name: "count", OwnerOnly: true, Run: a.runBadgesCount},
				{Name: "add", Usage: "description [=> link]", OwnerOnly: true, Run: a.runBadgesAdd},
				{
					Name:      "edit",
					Aliases:   []string{"update"},
					Usage:     "id description [=> link]",
					OwnerOnly: true,
					Run:       a.runBadgesEdit,
				},
				{Name: "rm", Aliases: []string{"remove"}, Usage: "id", OwnerOnly: true, Run: a.runBadgesRemove},
				{Name: "assign", Usage: "id member...", OwnerOnly: true, Run: a.runBadgesAssign},
				{Name: "revoke", Usage: "id member...", OwnerOnly: true, Run: a.runBadgesRevoke},
			},
		},
	}
}

func (a *Andre) runBadges(c *CommandContext) error {
	ctx := c.Context()
	member, err := a.resolveMemberOrAuthor(ctx, c.Message, c.Rest)
	if err != nil {
		member, err = a.resolveMemberOrAuthor(ctx, c.Message, "")
		if err != nil {
			return err
		}
	}

	user, err := getUserByDiscordID(ctx, a.db, member.User.ID)
	if errors.Is(err, ErrNotFound) {
		return c.Sayf("%s has not set their profile!", member.User.Username)
	}
	if err != nil {
		return err
	}
	awards, err := userBadges(ctx, a.db, user.ID)
	if err != nil {
		return err
	}
	return c.SafeSay(badgesMessage(a.displayName(member), awards))
}

func (a *Andre) runBadgesList(c *CommandContext) error {
	badges, err := allBadges(c.Context(), a.db)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(badges))
	for _, b := range badges {
		lines = append(lines, badgeListLine(b))
	}
	return c.SafeSay(strings.Join(lines, "\n"))
}

func (a *Andre) runBadgesCount(c *CommandContext) error {
	var n int64
	if err := a.db.WithContext(c.Context()).Model(&Badge{}).Count(&n).Error; err != nil {
		return err
	}
	return c.Sayf("There are %d unique badges available.", n)
}

func (a *Andre) runBadgesAdd(c *CommandContext) error {
	description, link, _ := splitDefinition(c.Rest)
	if description == "" {
		return userError(ErrBadArgument, "No description specified")
	}
	if _, err := a.writeDB.Create(c.Context(), &Badge{Description: description, Link: link}); err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) findBadge(ctx context.Context, raw string) (*Badge, error) {
	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	var badge Badge
	if err = a.db.WithContext(ctx).First(&badge, id).Error; err != nil {
		return nil, notFound(err, "badge %d", id)
	}
	return &badge, nil
}

func (a *Andre) runBadgesEdit(c *CommandContext) error {
	rawID, raw, _ := strings.Cut(c.Rest, " ")
	badge, err := a.findBadge(c.Context(), rawID)
	if err != nil {
		return err
	}
	description, link, _ := splitDefinition(raw)
	_, err = a.writeDB.Updates(
		c.Context(), badge, map[string]any{
			"description": description,
			"link":        link,
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runBadgesRemove(c *CommandContext) error {
	badge, err := a.findBadge(c.Context(), c.Arg(0))
	if err != nil {
		return err
	}
	err = a.writeDB.Transaction(
		c.Context(), func(tx *gorm.DB) error {
			if txErr := tx.Where("badge_id = ?", badge.ID).Delete(&UserBadge{}).Error; txErr != nil {
				return txErr
			}
			return tx.Delete(badge).Error
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}

// badgeTargets resolves the badge and every member argument to a
// profile. Any member without a profile fails the whole command.
func (a *Andre) badgeTargets(c *CommandContext) (*Badge, []User, error) {
	if len(c.Args) < 2 {
		return nil, nil, userError(ErrBadArgument, "No member specified")
	}
	badge, err := a.findBadge(c.Context(), c.Args[0])
	if err != nil {
		return nil, nil, err
	}
	users := make([]User, 0, len(c.Args)-1)
	for _, raw := range c.Args[1:] {
		member, resolveErr := a.ResolveMember(c.Context(), c.Message, raw)
		if resolveErr != nil {
			return nil, nil, resolveErr
		}
		user, userErr := getUserByDiscordID(c.Context(), a.db, member.User.ID)
		if errors.Is(userErr, ErrNotFound) {
			return nil, nil, userError(ErrBadArgument, "%s not found", raw)
		}
		if userErr != nil {
			return nil, nil, userErr
		}
		users = append(users, *user)
	}
	return badge, users, nil
}

func (a *Andre) runBadgesAssign(c *CommandContext) error {
	badge, users, err := a.badgeTargets(c)
	if err != nil {
		return err
	}
	now := a.now().Unix()
	err = a.writeDB.Transaction(
		c.Context(), func(tx *gorm.DB) error {
			for _, u := range users {
				award := &UserBadge{UserID: u.ID, BadgeID: badge.ID, Timestamp: now}
				if txErr := tx.Save(award).Error; txErr != nil {
					return txErr
				}
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}

func (a *Andre) runBadgesRevoke(c *CommandContext) error {
	badge, users, err := a.badgeTargets(c)
	if err != nil {
		return err
	}
	err = a.writeDB.Transaction(
		c.Context(), func(tx *gorm.DB) error {
			for i, u := range users {
				rv := tx.Where("user_id = ? AND badge_id = ?", u.ID, badge.ID).Delete(&UserBadge{})
				if rv.Error != nil {
					return rv.Error
				}
				if rv.RowsAffected == 0 {
					return userError(ErrBadArgument, "%s doesn't have this badge", c.Args[i+1])
				}
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	return c.OK()
}
