package andre

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntilNextBirthdayCheck(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastCheck string
		want      time.Duration
	}{
		{name: "never checked", lastCheck: "", want: 0},
		{name: "checked yesterday", lastCheck: "2024-03-09", want: 0},
		{name: "checked today", lastCheck: "2024-03-10", want: 14*time.Hour + 30*time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, untilNextBirthdayCheck(tc.lastCheck, now, 6))
		})
	}
}

func TestBirthdayUsers(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	users := []User{
		{DiscordID: "1", Birthdate: "1990-03-10"},
		{DiscordID: "2", Birthdate: "1990-03-11"},
		{DiscordID: "3", Birthdate: "2020-03-10"},
		{DiscordID: "4", Birthdate: "1990-03-10"},
		{DiscordID: "5", Birthdate: "not a date"},
		{DiscordID: "6"},
	}

	got := birthdayUsers(users, now, []string{"4"})
	if assert.Len(t, got, 1) {
		assert.Equal(t, "1", got[0].DiscordID)
	}
}

func TestUser_Age(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		birthdate string
		age       int
		ok        bool
	}{
		{birthdate: "1990-03-10", age: 34, ok: true},
		{birthdate: "1990-03-11", age: 33, ok: true},
		{birthdate: "1900-01-01", age: 124, ok: false},
		{birthdate: "2018-01-01", age: 6, ok: false},
		{birthdate: "", age: 0, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.birthdate, func(t *testing.T) {
			t.Parallel()
			u := User{Birthdate: tc.birthdate}
			age, ok := u.Age(now)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.age, age)
		})
	}
}

func TestBirthdayMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Happy birthday <@42>! 🎉🎉🎉", birthdayMessage("42"))
}
