package andre

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	vndbClientName    = "vndb"
	vndbSearchResults = 10
	vndbURL           = "https://vndb.org/"
)

// VNDB API fields requested for each view
const (
	vnFieldsBasic     = "id,title"
	vnFieldsDetails   = "id,title,alttitle,aliases,length,rating,votecount,description,image.url,image.sexual"
	vnFieldsTags      = "tags.name,tags.category,tags.rating,tags.spoiler"
	vnFieldsRelations = "relations.relation,relations.title"

	charFieldsBasic   = "id,name"
	charFieldsDetails = "id,name,original,aliases,description,image.url,blood_type,height,weight,bust,waist,hips,birthday,sex"
	charFieldsTraits  = "traits.name,traits.group_name,traits.spoiler"
	charFieldsVNs     = "vns.title,vns.role,vns.spoiler"
)

// VNImage is a cover or character image. Sexual is the average
// sexual content vote, from 0 (safe) to 2 (explicit).
type VNImage struct {
	URL    string  `json:"url"`
	Sexual float64 `json:"sexual"`
}

type VNTag struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Rating   float64 `json:"rating"`
	Spoiler  float64 `json:"spoiler"`
}

type VNRelation struct {
	Relation string `json:"relation"`
	Title    string `json:"title"`
}

// VN is a visual novel
type VN struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	AltTitle    string       `json:"alttitle"`
	Aliases     []string     `json:"aliases"`
	Length      int          `json:"length"`
	Rating      float64      `json:"rating"`
	VoteCount   int          `json:"votecount"`
	Description string       `json:"description"`
	Image       *VNImage     `json:"image"`
	Tags        []VNTag      `json:"tags"`
	Relations   []VNRelation `json:"relations"`
}

type VNTrait struct {
	Name      string `json:"name"`
	GroupName string `json:"group_name"`
	Spoiler   int    `json:"spoiler"`
}

// CharacterVN is a VN a character appears in
type CharacterVN struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Role    string `json:"role"`
	Spoiler int    `json:"spoiler"`
}

// VNCharacter is a visual novel character. Birthday is [day, month].
type VNCharacter struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Original    string        `json:"original"`
	Aliases     []string      `json:"aliases"`
	Description string        `json:"description"`
	Image       *VNImage      `json:"image"`
	BloodType   string        `json:"blood_type"`
	Height      int           `json:"height"`
	Weight      int           `json:"weight"`
	Bust        int           `json:"bust"`
	Waist       int           `json:"waist"`
	Hips        int           `json:"hips"`
	Birthday    []int         `json:"birthday"`
	Sex         []string      `json:"sex"`
	Traits      []VNTrait     `json:"traits"`
	VNs         []CharacterVN `json:"vns"`
}

type vndbQuery struct {
	Filters []any  `json:"filters"`
	Fields  string `json:"fields"`
	Results int    `json:"results"`
}

type vndbResponse[T any] struct {
	Results []T  `json:"results"`
	More    bool `json:"more"`
}

// VNDBClient queries the VNDB HTTP API. Responses are cached by request.
type VNDBClient struct {
	config *VNDBConfig
	remote *remoteClient
	cache  *expirable.LRU[string, []byte]
	logger *slog.Logger
}

func NewVNDBClient(cfg *VNDBConfig, httpClient *http.Client, logger *slog.Logger) *VNDBClient {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultVNDBCacheSize
	}
	return &VNDBClient{
		config: cfg,
		remote: newRemoteClient(vndbClientName, httpClient, cfg.RequestsPerSecond, cfg.Timeout, logger),
		cache:  expirable.NewLRU[string, []byte](size, nil, cfg.CacheTTL),
		logger: logger,
	}
}

// Clear drops every cached response
func (v *VNDBClient) Clear() {
	v.cache.Purge()
}

func (v *VNDBClient) post(ctx context.Context, endpoint string, q vndbQuery) ([]byte, error) {
	key, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	cacheKey := endpoint + " " + string(key)
	if body, ok := v.cache.Get(cacheKey); ok {
		return body, nil
	}
	u := strings.TrimRight(v.config.APIURL, "/") + "/" + endpoint
	body, err := v.remote.postJSON(ctx, u, q)
	if err != nil {
		return nil, err
	}
	v.cache.Add(cacheKey, body)
	return body, nil
}

func vndbQueryResults[T any](ctx context.Context, v *VNDBClient, endpoint string, q vndbQuery) ([]T, error) {
	body, err := v.post(ctx, endpoint, q)
	if err != nil {
		return nil, err
	}
	var resp vndbResponse[T]
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCouldNotReadData, err)
	}
	return resp.Results, nil
}

// VNs returns the VNs matching filters
func (v *VNDBClient) VNs(ctx context.Context, filters []any, fields string, results int) ([]VN, error) {
	return vndbQueryResults[VN](ctx, v, "vn", vndbQuery{Filters: filters, Fields: fields, Results: results})
}

// Characters returns the characters matching filters
func (v *VNDBClient) Characters(ctx context.Context, filters []any, fields string, results int) (
	[]VNCharacter,
	error,
) {
	return vndbQueryResults[VNCharacter](
		ctx, v, "character",
		vndbQuery{Filters: filters, Fields: fields, Results: results},
	)
}

var vndbIDPattern = regexp.MustCompile(`^[a-z]?\d+$`)

// vndbFilter builds a filter from user input: an ID, with or without
// its prefix, or a search string
func vndbFilter(prefix string, s string) []any {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if vndbIDPattern.MatchString(strings.ToLower(s)) {
		id := strings.ToLower(s)
		if id[0] >= '0' && id[0] <= '9' {
			id = prefix + id
		}
		return []any{"id", "=", id}
	}
	return []any{"search", "=", s}
}

// vndbOptions are the `+option` flags of the vn commands
type vndbOptions struct {
	Spoil   bool
	Tags    bool
	Traits  bool
	Related bool
	VNs     bool

	// TagCategories are the tag categories shown: cont, ero and tech
	TagCategories []string
}

// extractVNDBOptions removes the +options from s
func extractVNDBOptions(s string) (string, vndbOptions) {
	opts := vndbOptions{TagCategories: []string{"cont"}}
	var rest []string
	for _, item := range strings.Split(strings.TrimSpace(s), " ") {
		switch {
		case item == "+spoil":
			opts.Spoil = true
		case item == "+tags":
			opts.Tags = true
		case item == "+traits":
			opts.Traits = true
		case item == "+related":
			opts.Related = true
		case item == "+vns":
			opts.VNs = true
		case strings.HasPrefix(item, "+tags="):
			opts.Tags = true
			opts.TagCategories = nil
			for _, cat := range strings.Split(strings.TrimPrefix(item, "+tags="), ",") {
				switch cat {
				case "regular":
					cat = "cont"
				case "nsfw":
					cat = "ero"
				}
				opts.TagCategories = append(opts.TagCategories, cat)
			}
		case item != "":
			rest = append(rest, item)
		}
	}
	return strings.Join(rest, " "), opts
}

var gameLengths = map[int]string{
	1: "Very short (< 2 hours)",
	2: "Short (2 - 10 hours)",
	3: "Medium (10 - 30 hours)",
	4: "Long (30 - 50 hours)",
	5: "Very long (> 50 hours)",
}

func gameLength(n int) string {
	if s, ok := gameLengths[n]; ok {
		return s
	}
	return "Unknown"
}

func genderSymbol(sex []string) string {
	if len(sex) == 0 {
		return "?"
	}
	switch sex[0] {
	case "f":
		return "♀"
	case "m":
		return "♂"
	case "b":
		return "⚤"
	default:
		return "?"
	}
}

var vndbMonths = []string{
	"Unknown", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// characterBirthday renders a [day, month] birthday
func characterBirthday(birthday []int) string {
	if len(birthday) != 2 {
		return "Unknown"
	}
	day := ""
	if birthday[0] > 0 {
		day = strconv.Itoa(birthday[0])
	}
	month := "?"
	if birthday[1] >= 0 && birthday[1] < len(vndbMonths) {
		month = vndbMonths[birthday[1]]
	}
	return day + " " + month
}

func measurements(c *VNCharacter) string {
	var items []string
	if c.Height > 0 {
		items = append(items, fmt.Sprintf("Height: %dcm", c.Height))
	}
	if c.Weight > 0 {
		items = append(items, fmt.Sprintf("Weight: %dkg", c.Weight))
	}
	if c.Bust > 0 && c.Waist > 0 && c.Hips > 0 {
		items = append(items, fmt.Sprintf("Bust-Waist-Hips: %d-%d-%dcm", c.Bust, c.Waist, c.Hips))
	}
	return strings.Join(items, "\n")
}

var (
	bbcodeURL        = regexp.MustCompile(`(?is)\[url(?:=[^\]]*)?\](.*?)\[/url\]`)
	bbcodeSpoiler    = regexp.MustCompile(`(?is)\[spoiler\](.*?)\[/spoiler\]`)
	bbcodeRaw        = regexp.MustCompile(`(?is)\[raw\](.*?)\[/raw\]`)
	bbcodeQuote      = regexp.MustCompile(`(?is)\[quote\](.*?)\[/quote\]`)
	bbcodeCode       = regexp.MustCompile(`(?is)\[code\](.*?)\[/code\]`)
	bbcodeAnyTag     = regexp.MustCompile(`\[/?[a-zA-Z]+(?:=[^\]]*)?\]`)
	spoilerPlacehold = "~~spoiler~~"
)

// purgeBBCode converts VNDB bbcode to discord markdown. Links are bold,
// spoilers are hidden unless spoil is set, and unknown tags are dropped.
func purgeBBCode(s string, spoil bool) string {
	if spoil {
		s = bbcodeSpoiler.ReplaceAllString(s, "*$1*")
	} else {
		s = bbcodeSpoiler.ReplaceAllLiteralString(s, spoilerPlacehold)
	}
	s = bbcodeURL.ReplaceAllString(s, "**$1**")
	s = bbcodeRaw.ReplaceAllString(s, "`$1`")
	s = bbcodeQuote.ReplaceAllString(s, "```$1```")
	s = bbcodeCode.ReplaceAllString(s, "```$1```")
	return bbcodeAnyTag.ReplaceAllString(s, "")
}

// displayTags returns the tag names to show, by descending rating
func displayTags(tags []VNTag, opts vndbOptions) []string {
	shown := make([]VNTag, 0, len(tags))
	for _, t := range tags {
		if t.Spoiler > 0 && !opts.Spoil {
			continue
		}
		if !slices.Contains(opts.TagCategories, t.Category) {
			continue
		}
		shown = append(shown, t)
	}
	slices.SortStableFunc(
		shown, func(a, b VNTag) int {
			switch {
			case a.Rating > b.Rating:
				return -1
			case a.Rating < b.Rating:
				return 1
			}
			return 0
		},
	)
	names := make([]string, len(shown))
	for i, t := range shown {
		names[i] = t.Name
	}
	return names
}

// displayTraits groups trait names under their root group, in the
// order the groups first appear
func displayTraits(traits []VNTrait, spoil bool) string {
	var groups []string
	byGroup := map[string][]string{}
	for _, t := range traits {
		if t.Spoiler > 0 && !spoil {
			continue
		}
		group := t.GroupName
		if group == "" {
			group = "Unknown"
		}
		if _, ok := byGroup[group]; !ok {
			groups = append(groups, group)
		}
		byGroup[group] = append(byGroup[group], t.Name)
	}
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("**%s**: %s", g, strings.Join(byGroup[g], ", ")))
	}
	return strings.Join(lines, "\n")
}
