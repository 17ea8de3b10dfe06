package andre

import (
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// limitEmbed caps the embed's title and description to what discord
// accepts
func limitEmbed(e *discordgo.MessageEmbed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	e.Title = forceMaxSize(e.Title, discordMaxEmbedTitle)
	e.Description = forceMaxSize(e.Description, discordMaxEmbedDescription)
	return e
}

// splitMessage splits s in chunks of at most limit characters, cutting on
// line boundaries. Lines longer than limit are cut as-is.
func splitMessage(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{s}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			chunks = append(chunks, current.String())
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.Split(s, "\n") {
		n := utf8.RuneCountInString(line)
		for n > limit {
			flush()
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
			n = utf8.RuneCountInString(line)
		}
		extra := n
		if size > 0 {
			extra++
		}
		if size+extra > limit {
			flush()
			extra = n
		}
		if size > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		size += extra
	}
	flush()
	return chunks
}

// cutLines joins lines until the next one would make the message
// exceed limit, ending it with "\n[...]" when lines were dropped
func cutLines(header string, lines []string, limit int) string {
	const more = "\n" + truncatedSuffix
	var sb strings.Builder
	sb.WriteString(header)
	size := utf8.RuneCountInString(header)
	budget := limit - utf8.RuneCountInString(more)
	for i, line := range lines {
		n := utf8.RuneCountInString(line)
		if i > 0 {
			n++
		}
		if size+n > budget {
			sb.WriteString(more)
			return sb.String()
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
		size += n
	}
	return sb.String()
}

// pluralize returns singular or plural depending on n
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
