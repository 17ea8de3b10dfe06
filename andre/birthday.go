package andre

import (
	"context"
	"fmt"
	"slices"
	"time"
)

const lastBirthdayCheckLayout = "2006-01-02"

// untilNextBirthdayCheck returns 0 when no check ran today (UTC),
// otherwise the time left until tomorrow's check hour
func untilNextBirthdayCheck(lastCheck string, now time.Time, hour int) time.Duration {
	now = now.UTC()
	if lastCheck == "" || lastCheck != now.Format(lastBirthdayCheckLayout) {
		return 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}

func (a *Andre) untilNextBirthdayCheck() time.Duration {
	var last string
	_, err := a.properties.Read(propLastBirthdayCheck, &last)
	logErr(context.Background(), a.logger, "error reading last birthday check", err)
	return untilNextBirthdayCheck(last, a.now(), a.config.Background.BirthdayHour)
}

// birthdayUsers filters the users whose birthday is today. Placeholder
// birthdates (invalid ages) and blacklisted members are skipped.
func birthdayUsers(users []User, now time.Time, blacklist []string) []User {
	var rv []User
	for _, u := range users {
		born, ok := u.BirthdateTime()
		if !ok || born.Month() != now.Month() || born.Day() != now.Day() {
			continue
		}
		if slices.Contains(blacklist, u.DiscordID) {
			continue
		}
		if _, valid := u.Age(now); !valid {
			continue
		}
		rv = append(rv, u)
	}
	return rv
}

func birthdayMessage(discordID string) string {
	return fmt.Sprintf("Happy birthday <@%s>! %s%s%s", discordID, emoteTada, emoteTada, emoteTada)
}

// checkBirthdays records today's check and wishes a happy birthday in
// the general channel
func (a *Andre) checkBirthdays(ctx context.Context) error {
	now := a.now().UTC()
	a.logger.InfoContext(ctx, "checking birthdays", "now", now)
	if err := a.properties.Write(propLastBirthdayCheck, now.Format(lastBirthdayCheckLayout)); err != nil {
		return fmt.Errorf("error saving birthday check: %w", err)
	}

	var users []User
	err := a.db.WithContext(ctx).Where("birthdate IS NOT NULL AND birthdate != ''").Find(&users).Error
	if err != nil {
		return err
	}
	channelID := a.config.Discord.GeneralChannelID
	if channelID == "" {
		return nil
	}
	var errs []error
	for _, u := range birthdayUsers(users, now, a.config.Discord.BirthdayBlacklist) {
		if sayErr := a.say(channelID, birthdayMessage(u.DiscordID)); sayErr != nil {
			errs = append(errs, sayErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("error wishing birthdays: %w", errs[0])
	}
	return nil
}

func (a *Andre) birthdayCommands() []*Command {
	return []*Command{
		{
			Name:      "birthday",
			Help:      "Checks for birthdays now.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				logErr(c.Context(), c.Logger(), "error reacting to birthday", c.OK())
				return a.checkBirthdays(c.Context())
			},
		},
		{
			Name:      "birthdaytime",
			Help:      "Prints the time left until the next birthday check.",
			Category:  categoryAdmin,
			OwnerOnly: true,
			Run: func(c *CommandContext) error {
				return c.Sayf("Seconds until next check: %d", int(a.untilNextBirthdayCheck().Seconds()))
			},
		},
	}
}
