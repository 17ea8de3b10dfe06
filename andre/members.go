package andre

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ErrMemberNotFound is returned when a member argument matches nobody
var ErrMemberNotFound = fmt.Errorf("%w: member not found", ErrBadArgument)

const memberSelf = "@me"

var (
	mentionPattern   = regexp.MustCompile(`^<@!?(\d+)>$`)
	snowflakePattern = regexp.MustCompile(`^\d{15,21}$`)
)

// guildFor returns the message's guild, or the main guild for DMs
func (a *Andre) guildFor(m *discordgo.Message) string {
	if m != nil && m.GuildID != "" {
		return m.GuildID
	}
	return a.config.Discord.GuildID
}

// ResolveMember finds the member named by raw in the message's guild
func (a *Andre) ResolveMember(ctx context.Context, m *discordgo.Message, raw string) (
	*discordgo.Member,
	error,
) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, userError(ErrBadArgument, "No member specified")
	}
	members, err := a.discord.guildMembers(a.guildFor(m))
	if err != nil {
		return nil, err
	}
	return a.matchMember(ctx, members, messageAuthor(m), raw)
}

// resolveMemberOrAuthor resolves raw, or returns the author when raw
// is empty
func (a *Andre) resolveMemberOrAuthor(ctx context.Context, m *discordgo.Message, raw string) (
	*discordgo.Member,
	error,
) {
	if strings.TrimSpace(raw) == "" {
		raw = memberSelf
	}
	return a.ResolveMember(ctx, m, raw)
}

func (a *Andre) matchMember(
	ctx context.Context,
	members []*discordgo.Member,
	author *discordgo.User,
	raw string,
) (*discordgo.Member, error) {
	byID := func(id string) *discordgo.Member {
		for _, member := range members {
			if member.User != nil && member.User.ID == id {
				return member
			}
		}
		return nil
	}

	if raw == memberSelf && author != nil {
		if member := byID(author.ID); member != nil {
			return member, nil
		}
		return &discordgo.Member{User: author}, nil
	}

	id := raw
	if match := mentionPattern.FindStringSubmatch(raw); match != nil {
		id = match[1]
	}
	if snowflakePattern.MatchString(id) {
		if member := byID(id); member != nil {
			return member, nil
		}
	}

	if name, discriminator, ok := strings.Cut(raw, "#"); ok {
		for _, member := range members {
			if member.User != nil &&
				member.User.Username == name &&
				member.User.Discriminator == discriminator {
				return member, nil
			}
		}
	}

	lower := strings.ToLower(raw)
	for _, member := range members {
		if member.User == nil {
			continue
		}
		if strings.ToLower(member.Nick) == lower || strings.ToLower(member.User.Username) == lower {
			return member, nil
		}
	}

	matchMAL := func(partial bool) (*discordgo.Member, error) {
		user, err := getUserByMALName(ctx, a.db, raw, partial)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, nil
		case err != nil:
			return nil, err
		}
		return byID(user.DiscordID), nil
	}

	if member, err := matchMAL(false); member != nil || err != nil {
		return member, err
	}

	for _, member := range members {
		if member.User == nil {
			continue
		}
		if (member.Nick != "" && strings.Contains(strings.ToLower(member.Nick), lower)) ||
			strings.Contains(strings.ToLower(member.User.Username), lower) {
			return member, nil
		}
	}

	if member, err := matchMAL(true); member != nil || err != nil {
		return member, err
	}
	return nil, userError(ErrMemberNotFound, "Member \"%s\" not found", raw)
}

// displayName is the member's nick, or their username if they're in
// the name restriction list
func (a *Andre) displayName(member *discordgo.Member) string {
	if member == nil {
		return ""
	}
	if member.User != nil && a.nameRestricted(member.User.ID) {
		return member.User.Username
	}
	return memberDisplayName(member)
}

// memberUser returns the member's profile, or an ErrNoMALUsername
// error if they haven't set their MAL username
func (a *Andre) memberMALUser(ctx context.Context, member *discordgo.Member) (*User, error) {
	noMAL := userError(
		ErrNoMALUsername,
		"%s has not set their MAL username!",
		a.displayName(member),
	)
	if member == nil || member.User == nil {
		return nil, noMAL
	}
	user, err := getUserByDiscordID(ctx, a.db, member.User.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, noMAL
	case err != nil:
		return nil, err
	case user.MALName == "":
		return nil, noMAL
	}
	return user, nil
}

// UserLookup maps MAL usernames to the display names of their
// discord members
type UserLookup struct {
	names map[string]string
}

// Name returns the display name for the MAL username, falling back on
// the MAL username itself
func (l *UserLookup) Name(malName string) string {
	if l != nil {
		if name, ok := l.names[strings.ToLower(malName)]; ok {
			return name
		}
	}
	return malName
}

func (a *Andre) userLookup(ctx context.Context, guildID string) (*UserLookup, error) {
	users, err := usersWithMAL(ctx, a.db)
	if err != nil {
		return nil, err
	}
	members, err := a.discord.guildMembers(guildID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*discordgo.Member, len(members))
	for _, member := range members {
		if member.User != nil {
			byID[member.User.ID] = member
		}
	}

	lookup := &UserLookup{names: make(map[string]string, len(users))}
	for _, u := range users {
		if member, ok := byID[u.DiscordID]; ok {
			lookup.names[strings.ToLower(u.MALName)] = a.displayName(member)
		}
	}
	return lookup, nil
}
