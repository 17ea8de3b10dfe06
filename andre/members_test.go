package andre

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserByMALName(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	for _, u := range []User{
		{DiscordID: "1", MALName: "Axb"},
		{DiscordID: "2", MALName: "100%done"},
		{DiscordID: "3", MALName: `back\slash`},
	} {
		require.NoError(t, db.Create(&u).Error)
	}

	tests := []struct {
		name    string
		partial bool
		want    string
	}{
		{name: "axb", want: "1"},
		{name: "a_b"},
		{name: "a%"},
		{name: "x", partial: true, want: "1"},
		{name: "_", partial: true},
		{name: "%", partial: true, want: "2"},
		{name: "0%d", partial: true, want: "2"},
		{name: `\s`, partial: true, want: "3"},
		{name: `back\slash`, want: "3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			user, err := getUserByMALName(ctx, db, tc.name, tc.partial)
			if tc.want == "" {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, user.DiscordID)
		})
	}
}

func TestMatchMember_MALNameIsLiteral(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()
	require.NoError(t, bot.db.Create(&User{DiscordID: "1", MALName: "abc"}).Error)
	members := []*discordgo.Member{
		{User: &discordgo.User{ID: "1", Username: "someone"}},
	}

	member, err := bot.matchMember(ctx, members, nil, "ABC")
	require.NoError(t, err)
	assert.Equal(t, "1", member.User.ID)

	member, err = bot.matchMember(ctx, members, nil, "b")
	require.NoError(t, err)
	assert.Equal(t, "1", member.User.ID)

	_, err = bot.matchMember(ctx, members, nil, "a_c")
	assert.ErrorIs(t, err, ErrMemberNotFound)
	_, err = bot.matchMember(ctx, members, nil, "%")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
