package andre

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Entity is a MAL list kind
type Entity string

const (
	EntityAnime Entity = "anime"
	EntityManga Entity = "manga"
)

var entities = []Entity{EntityAnime, EntityManga}

// parseEntity accepts "anime" or "manga", case-insensitively
func parseEntity(s string) (Entity, bool) {
	switch Entity(strings.ToLower(strings.TrimSpace(s))) {
	case EntityAnime:
		return EntityAnime, true
	case EntityManga:
		return EntityManga, true
	}
	return "", false
}

// User list statuses
const (
	statusWatching    = "watching"
	statusReading     = "reading"
	statusCompleted   = "completed"
	statusOnHold      = "on-hold"
	statusDropped     = "dropped"
	statusPlanToWatch = "plan to watch"
	statusPlanToRead  = "plan to read"
	statusNotInList   = "not in list"
)

// InProgress is "watching" or "reading"
func (e Entity) InProgress() string {
	if e == EntityManga {
		return statusReading
	}
	return statusWatching
}

// Planned is "plan to watch" or "plan to read"
func (e Entity) Planned() string {
	if e == EntityManga {
		return statusPlanToRead
	}
	return statusPlanToWatch
}

// PlannedShort is PTW or PTR
func (e Entity) PlannedShort() string {
	if e == EntityManga {
		return "PTR"
	}
	return "PTW"
}

// Verb is "seen" or "read"
func (e Entity) Verb() string {
	if e == EntityManga {
		return "read"
	}
	return "seen"
}

// Statuses lists user statuses in display order
func (e Entity) Statuses() []string {
	return []string{e.InProgress(), statusCompleted, statusOnHold, statusDropped, e.Planned()}
}

// normalizeStatus maps user input to a status. An empty result with ok
// means every status.
func (e Entity) normalizeStatus(s string) (status string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "watching":
		return statusWatching, e == EntityAnime
	case "reading":
		return statusReading, e == EntityManga
	case "completed":
		return statusCompleted, true
	case "on-hold", "onhold", "on hold":
		return statusOnHold, true
	case "dropped":
		return statusDropped, true
	case "ptw", "plan to watch":
		return statusPlanToWatch, e == EntityAnime
	case "ptr", "plan to read":
		return statusPlanToRead, e == EntityManga
	case "planned":
		return e.Planned(), true
	case "*", "all":
		return "", true
	}
	return "", false
}

// ListItem is one entry of a member's MAL list
type ListItem struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`
	Type     string `json:"type,omitempty"`

	Episodes int `json:"episodes,omitempty"`
	Chapters int `json:"chapters,omitempty"`
	Volumes  int `json:"volumes,omitempty"`

	// SeriesStatus is the airing/publishing status
	SeriesStatus string `json:"series_status,omitempty"`

	// Status is the member's status: watching, completed, plan to read...
	Status string `json:"status"`

	// Progress is the number of episodes watched, or chapters read
	Progress    int `json:"progress"`
	VolumesRead int `json:"volumes_read,omitempty"`
	Score       int `json:"score"`

	// Started and Finished are yyyy-mm-dd, or empty
	Started     string `json:"started,omitempty"`
	Finished    string `json:"finished,omitempty"`
	LastUpdated int64  `json:"last_updated,omitempty"`
}

// UserList is a member's list, plus summary statistics
type UserList struct {
	Items []ListItem `json:"items"`
	Days  float64    `json:"days"`
}

// flexString decodes JSON strings and numbers. MAL sends numeric titles
// ("86", "1984") as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexInt decodes JSON numbers, numeric strings and empty strings
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// malListEntry is a load.json list entry. Field names are prefixed by
// the entity, so both sets are declared.
type malListEntry struct {
	AnimeID              flexInt    `json:"anime_id"`
	MangaID              flexInt    `json:"manga_id"`
	AnimeTitle           flexString `json:"anime_title"`
	MangaTitle           flexString `json:"manga_title"`
	AnimeImagePath       string     `json:"anime_image_path"`
	MangaImagePath       string     `json:"manga_image_path"`
	AnimeMediaTypeString string     `json:"anime_media_type_string"`
	MangaMediaTypeString string     `json:"manga_media_type_string"`

	AnimeNumEpisodes      flexInt `json:"anime_num_episodes"`
	MangaNumChapters      flexInt `json:"manga_num_chapters"`
	MangaNumVolumes       flexInt `json:"manga_num_volumes"`
	AnimeAiringStatus     flexInt `json:"anime_airing_status"`
	MangaPublishingStatus flexInt `json:"manga_publishing_status"`

	Status             flexInt `json:"status"`
	NumWatchedEpisodes flexInt `json:"num_watched_episodes"`
	NumReadChapters    flexInt `json:"num_read_chapters"`
	NumReadVolumes     flexInt `json:"num_read_volumes"`
	Score              flexInt `json:"score"`

	StartDateString  string  `json:"start_date_string"`
	FinishDateString string  `json:"finish_date_string"`
	UpdatedAt        flexInt `json:"updated_at"`
}

var (
	animeAiringStatuses = map[int]string{
		1: "currently airing",
		2: "finished airing",
		3: "not yet aired",
	}
	mangaPublishingStatuses = map[int]string{
		1: "publishing",
		2: "finished",
		3: "not yet published",
	}
)

func userStatus(entity Entity, status int) string {
	switch status {
	case 1:
		return entity.InProgress()
	case 2:
		return statusCompleted
	case 3:
		return statusOnHold
	case 4:
		return statusDropped
	case 6:
		return entity.Planned()
	}
	return ""
}

// malDateLayouts are the formats MAL uses for list dates, depending on
// the user's settings
var malDateLayouts = []string{"01-02-06", "02-01-06", "2006-01-02", "01-02-2006"}

// normalizeMALDate converts a MAL date string to yyyy-mm-dd
func normalizeMALDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range malDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(birthdateLayout)
		}
	}
	return ""
}

// translate converts a load.json entry to a ListItem
func (m malListEntry) translate(entity Entity) ListItem {
	item := ListItem{
		Status:      userStatus(entity, int(m.Status)),
		Score:       int(m.Score),
		Started:     normalizeMALDate(m.StartDateString),
		Finished:    normalizeMALDate(m.FinishDateString),
		LastUpdated: int64(m.UpdatedAt),
	}
	switch entity {
	case EntityAnime:
		item.ID = int(m.AnimeID)
		item.Title = string(m.AnimeTitle)
		item.ImageURL = fullSizeImage(m.AnimeImagePath)
		item.Type = m.AnimeMediaTypeString
		item.Episodes = int(m.AnimeNumEpisodes)
		item.SeriesStatus = animeAiringStatuses[int(m.AnimeAiringStatus)]
		item.Progress = int(m.NumWatchedEpisodes)
	case EntityManga:
		item.ID = int(m.MangaID)
		item.Title = string(m.MangaTitle)
		item.ImageURL = fullSizeImage(m.MangaImagePath)
		item.Type = m.MangaMediaTypeString
		item.Chapters = int(m.MangaNumChapters)
		item.Volumes = int(m.MangaNumVolumes)
		item.SeriesStatus = mangaPublishingStatuses[int(m.MangaPublishingStatus)]
		item.Progress = int(m.NumReadChapters)
		item.VolumesRead = int(m.NumReadVolumes)
	}
	if item.Score < 0 || item.Score > 10 {
		item.Score = 0
	}
	return item
}

// Entry is an anime or manga from the MAL search/details API
type Entry struct {
	ID           int        `json:"id"`
	Title        flexString `json:"title"`
	ImageURL     string     `json:"image_url,omitempty"`
	Type         string     `json:"type,omitempty"`
	Synopsis     string     `json:"synopsis,omitempty"`
	Episodes     flexInt    `json:"episodes,omitempty"`
	Chapters     flexInt    `json:"chapters,omitempty"`
	Volumes      flexInt    `json:"volumes,omitempty"`
	MembersScore *float64   `json:"members_score,omitempty"`
	StartDate    string     `json:"start_date,omitempty"`
	EndDate      string     `json:"end_date,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// URL is the entry's MAL page
func (e Entry) URL(entity Entity) string {
	return fmt.Sprintf("https://myanimelist.net/%s/%d", entity, e.ID)
}

// AiringAnime is one show from the airing schedule
type AiringAnime struct {
	MALID    flexInt         `json:"mal_id"`
	Episodes []AiringEpisode `json:"airing"`
}

// AiringEpisode is episode N airing at unix time T
type AiringEpisode struct {
	Number int   `json:"n"`
	Time   int64 `json:"t"`
}

func (e AiringEpisode) At() time.Time {
	return time.Unix(e.Time, 0)
}

// malAPIError is the error envelope returned by the imal API
type malAPIError struct {
	Error  string `json:"error"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e malAPIError) message() string {
	if e.Error != "" {
		return e.Error
	}
	if len(e.Errors) > 0 {
		return e.Errors[0].Message
	}
	return ""
}

// fullSizeImage drops the thumbnail resize segment from a MAL cdn URL
func fullSizeImage(url string) string {
	return strings.Replace(url, "/r/96x136/", "/", 1)
}
