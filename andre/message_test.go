package andre

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		limit int
		want  []string
	}{
		{
			name:  "short",
			input: "hi",
			limit: 10,
			want:  []string{"hi"},
		},
		{
			name:  "blank",
			input: "   ",
			limit: 10,
			want:  nil,
		},
		{
			name:  "split on lines",
			input: "aaaa\nbbbb\ncccc",
			limit: 10,
			want:  []string{"aaaa\nbbbb", "cccc"},
		},
		{
			name:  "long line is cut",
			input: "abcdefghijklmnop",
			limit: 10,
			want:  []string{"abcdefghij", "klmnop"},
		},
		{
			name:  "runes",
			input: "ééééé\nààààà",
			limit: 6,
			want:  []string{"ééééé", "ààààà"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitMessage(tc.input, tc.limit)
			assert.Equal(t, tc.want, got)
			for _, chunk := range got {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), tc.limit)
			}
		})
	}
}

func TestCutLines(t *testing.T) {
	t.Parallel()

	lines := []string{"a", "b", "c"}
	assert.Equal(t, "H:\na\nb\nc", cutLines("H:\n", lines, 100))
	assert.Equal(t, "H:\na\nb\n[...]", cutLines("H:\n", lines, 12))
	assert.Equal(t, "H:\n", cutLines("H:\n", nil, 12))
}

func TestPluralize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ep", pluralize(1, "ep", "eps"))
	assert.Equal(t, "eps", pluralize(0, "ep", "eps"))
	assert.Equal(t, "eps", pluralize(12, "ep", "eps"))
}

func TestLimitEmbed(t *testing.T) {
	t.Parallel()

	assert.Nil(t, limitEmbed(nil))

	e := limitEmbed(
		&discordgo.MessageEmbed{
			Title:       strings.Repeat("t", 300),
			Description: strings.Repeat("d", 3000),
		},
	)
	assert.Equal(t, discordMaxEmbedTitle, utf8.RuneCountInString(e.Title))
	assert.True(t, strings.HasSuffix(e.Title, truncatedSuffix))
	assert.Equal(t, discordMaxEmbedDescription, utf8.RuneCountInString(e.Description))
}
