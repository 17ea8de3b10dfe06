package andre

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortExtras(t *testing.T) {
	t.Parallel()

	extras := []Extras{
		{ModelUintID: ModelUintID{ID: 1}, Question: "Favorite anime?"},
		{ModelUintID: ModelUintID{ID: 2}, Question: "Sub or dub?", Options: "sub, dub"},
		{ModelUintID: ModelUintID{ID: 3}, Question: "Favorite VN?"},
	}
	answers := []UserExtras{{ExtrasID: 2, Response: "sub"}}

	done, pending := sortExtras(extras, answers)
	require.Len(t, done, 1)
	assert.Equal(t, uint(2), done[0].Extras.ID)
	assert.Equal(t, "sub", done[0].Answer.Response)
	assert.Equal(t, []Extras{extras[0], extras[2]}, pending)

	msg := extrasUpdateMessage(done, pending)
	assert.Contains(t, msg, "Questions you've already answered:\n**2** - Sub or dub?\n\n")
	assert.Contains(t, msg, "New questions:\n**1** - Favorite anime?\n**3** - Favorite VN?")
	assert.Contains(t, extrasUpdateMessage(nil, nil), "New questions:\nNone")
}

func TestExtrasQuestion(t *testing.T) {
	t.Parallel()

	e := Extras{Question: "Sub or dub?", Options: "sub, dub,"}
	assert.Equal(t, []string{"sub", "dub"}, e.OptionList())
	assert.Equal(t, "Sub or dub?\nPossible answers: sub, dub,", extrasQuestion(e, nil))
	assert.Equal(
		t,
		"Sub or dub?\nPossible answers: sub, dub,\n*Current answer:* dub",
		extrasQuestion(e, &UserExtras{Response: "dub"}),
	)

	assert.True(t, validExtrasAnswer(e, "SUB"))
	assert.False(t, validExtrasAnswer(e, "raw"))
	assert.True(t, validExtrasAnswer(Extras{Question: "Anything?"}, "raw"))
}

func TestSplitDefinition(t *testing.T) {
	t.Parallel()

	text, extra, ok := splitDefinition(" Sub or dub? => sub,dub ")
	assert.Equal(t, "Sub or dub?", text)
	assert.Equal(t, "sub,dub", extra)
	assert.True(t, ok)

	text, extra, ok = splitDefinition("Favorite anime?")
	assert.Equal(t, "Favorite anime?", text)
	assert.Empty(t, extra)
	assert.False(t, ok)
}

func TestParseID(t *testing.T) {
	t.Parallel()

	id, err := parseID(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, uint(12), id)

	for _, s := range []string{"0", "-1", "abc", ""} {
		_, err = parseID(s)
		assert.ErrorIs(t, err, ErrBadArgument, s)
	}
}

func TestBadges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)

	user := &User{DiscordID: "123", MALName: "bob"}
	require.NoError(t, db.Create(user).Error)
	badges := []Badge{
		{Description: "First!"},
		{Description: "Wrote a VN", Link: "https://vndb.org/v17"},
	}
	require.NoError(t, db.Create(&badges).Error)
	require.NoError(
		t,
		db.Create(
			&[]UserBadge{
				{UserID: user.ID, BadgeID: badges[1].ID, Timestamp: 1700000000},
				{UserID: user.ID, BadgeID: badges[0].ID, Timestamp: 1600000000},
			},
		).Error,
	)

	all, err := allBadges(ctx, db)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "**2** - Wrote a VN (https://vndb.org/v17)", badgeListLine(all[1]))

	awards, err := userBadges(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "*bob's badges*\n\n**1.** First!\n**2.** Wrote a VN\n", badgesMessage("bob", awards))

	n, err := countUserBadges(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, "alice has no badge.", badgesMessage("alice", nil))
}

func TestSchoolMessage(t *testing.T) {
	t.Parallel()

	msg, ok := schoolMessage("Terminale")
	require.True(t, ok)
	assert.Equal(t, "Age: 17\nFrance: Terminale\nUK: Year 13\nUSA: 12th grade", msg)

	msg, ok = schoolMessage("")
	require.True(t, ok)
	assert.Contains(t, msg, "Age: **3**, France: **Petite section de maternelle**")

	_, ok = schoolMessage("college")
	assert.False(t, ok)
}
