package andre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/microcosm-cc/bluemonday"
)

const (
	malClientName    = "mal"
	malDetailsSize   = 256
	malSearchResults = 10
)

// ErrCouldNotReadData is returned when a MAL response can't be decoded
var ErrCouldNotReadData = errors.New("Could not read data") //nolint:stylecheck // shown to users

// MALAPIError is an error reported in a MAL API response body
type MALAPIError struct {
	Message string
}

func (e *MALAPIError) Error() string {
	return e.Message
}

// MALClient fetches lists from MyAnimeList, and entries, profiles and
// the airing schedule from the MAL proxy API.
type MALClient struct {
	config  *MALConfig
	remote  *remoteClient
	details *expirable.LRU[string, *Entry]
	logger  *slog.Logger
}

func NewMALClient(cfg *MALConfig, httpClient *http.Client, logger *slog.Logger) *MALClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MALClient{
		config: cfg,
		remote: newRemoteClient(
			malClientName,
			httpClient,
			cfg.RequestsPerSecond,
			cfg.Timeout,
			logger,
		),
		details: expirable.NewLRU[string, *Entry](malDetailsSize, nil, cfg.DetailsCacheTTL),
		logger:  logger,
	}
}

// decodeMAL decodes a MAL response into dst. A JSON object carrying
// `error` or `errors` is returned as a *MALAPIError.
func decodeMAL(body []byte, dst any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var apiErr malAPIError
		if json.Unmarshal(trimmed, &apiErr) == nil {
			if msg := apiErr.message(); msg != "" {
				return &MALAPIError{Message: msg}
			}
		}
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrCouldNotReadData, err)
	}
	return nil
}

// getJSON fetches url and decodes it. Error responses from MAL often come
// with a 4xx status and a JSON body, so the body is checked for an error
// message first.
func (m *MALClient) getJSON(ctx context.Context, u string, dst any) error {
	body, err := m.remote.get(ctx, u)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			var apiErr malAPIError
			if json.Unmarshal([]byte(statusErr.Body), &apiErr) == nil && apiErr.message() != "" {
				return &MALAPIError{Message: apiErr.message()}
			}
		}
		return err
	}
	return decodeMAL(body, dst)
}

func (m *MALClient) listURL(username string, entity Entity, offset int) string {
	base := fmt.Sprintf(m.config.ListURL, entity, url.PathEscape(username))
	return fmt.Sprintf("%s?status=7&offset=%d", base, offset)
}

func (m *MALClient) apiURL(path string) string {
	return strings.TrimRight(m.config.APIURL, "/") + "/" + path
}

// FetchList downloads a member's whole list, page by page
func (m *MALClient) FetchList(ctx context.Context, username string, entity Entity) (*UserList, error) {
	pageSize := m.config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultMALPageSize
	}
	list := &UserList{Items: []ListItem{}}
	offset := 0
	for {
		var page []malListEntry
		if err := m.getJSON(ctx, m.listURL(username, entity, offset), &page); err != nil {
			return nil, err
		}
		for _, entry := range page {
			list.Items = append(list.Items, entry.translate(entity))
		}
		if len(page) < pageSize {
			break
		}
		offset += len(page)
	}
	m.logger.DebugContext(
		ctx,
		"fetched list",
		"username", username,
		"entity", entity,
		"items", len(list.Items),
	)
	return list, nil
}

// Search returns the entries matching query, best match first
func (m *MALClient) Search(ctx context.Context, entity Entity, query string) ([]Entry, error) {
	var results []Entry
	u := m.apiURL(fmt.Sprintf("%s/search?q=%s", entity, url.QueryEscape(query)))
	if err := m.getJSON(ctx, u, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Details returns a single entry. Results are cached.
func (m *MALClient) Details(ctx context.Context, entity Entity, id int) (*Entry, error) {
	key := fmt.Sprintf("%s/%d", entity, id)
	if e, ok := m.details.Get(key); ok {
		return e, nil
	}
	var entry Entry
	if err := m.getJSON(ctx, m.apiURL(key), &entry); err != nil {
		return nil, err
	}
	m.details.Add(key, &entry)
	return &entry, nil
}

// ProfilePicture returns a member's MAL avatar URL
func (m *MALClient) ProfilePicture(ctx context.Context, username string) (string, error) {
	var profile struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := m.getJSON(ctx, m.apiURL("profile/"+url.PathEscape(username)), &profile); err != nil {
		return "", err
	}
	return profile.AvatarURL, nil
}

// FetchAiring downloads the airing schedule
func (m *MALClient) FetchAiring(ctx context.Context) ([]AiringAnime, error) {
	var airing []AiringAnime
	if err := m.getJSON(ctx, m.config.AiringURL, &airing); err != nil {
		return nil, err
	}
	return airing, nil
}

// ClearDetails empties the entry details cache
func (m *MALClient) ClearDetails() {
	m.details.Purge()
}

var (
	synopsisPolicy = bluemonday.StrictPolicy()
	brTag          = regexp.MustCompile(`(?i)<br\s*/?>`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// synopsisText converts an HTML synopsis to a single line of plain text,
// cut to maxLen characters followed by "..."
func synopsisText(s string, maxLen int) string {
	s = brTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(synopsisPolicy.Sanitize(s))
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
	if maxLen > 0 && len([]rune(s)) > maxLen {
		s = truncate(s, maxLen) + "..."
	}
	return s
}
