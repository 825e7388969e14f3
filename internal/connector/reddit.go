package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

const (
	defaultRedditURL = "https://www.reddit.com"
	redditPageSize   = 25
)

// RedditConnector reads a subreddit's /new listing. Its cursor is the
// fullname of the newest post seen, used as the listing's `before` anchor.
type RedditConnector struct {
	f       *fetcher
	baseURL string
}

// NewRedditConnector creates a forum feed connector. An empty baseURL uses reddit.com.
func NewRedditConnector(client *http.Client, baseURL string, opts Options) *RedditConnector {
	opts = opts.withDefaults()
	if baseURL == "" {
		baseURL = defaultRedditURL
	}
	return &RedditConnector{f: newFetcher(client, opts), baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *RedditConnector) Type() model.SourceType {
	return model.SourceForumFeed
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	IsSelf     bool    `json:"is_self"`
}

func (c *RedditConnector) Fetch(ctx context.Context, src model.SourceConfig, cursor string) (FetchResult, error) {
	sub := subredditName(src.Address)
	if sub == "" {
		return FetchResult{}, Auth(src.ID, fmt.Errorf("invalid subreddit %q", src.Address))
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprint(redditPageSize))
	q.Set("raw_json", "1")
	if cursor != "" {
		q.Set("before", cursor)
	}
	listingURL := fmt.Sprintf("%s/r/%s/new.json?%s", c.baseURL, url.PathEscape(sub), q.Encode())

	body, err := c.f.get(ctx, src.ID, listingURL, "application/json")
	if err != nil {
		return FetchResult{}, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return FetchResult{}, Transient(src.ID, fmt.Errorf("decode listing: %w", err))
	}

	children := listing.Data.Children
	result := FetchResult{NextCursor: cursor, HasMore: len(children) >= redditPageSize}
	if len(children) > 0 {
		result.NextCursor = children[0].Data.Name
	}

	// listing is newest first; hand items over oldest first
	for i := len(children) - 1; i >= 0; i-- {
		post := children[i].Data
		if post.Name == "" {
			continue
		}
		text := post.Selftext
		if text == "" {
			text = post.Title
		}
		item := model.RawItem{
			NativeID:    post.Name,
			Title:       post.Title,
			Text:        text,
			URL:         c.baseURL + post.Permalink,
			PublishedAt: time.Unix(int64(post.CreatedUTC), 0).UTC(),
		}
		if !post.IsSelf {
			item.MediaURL = post.URL
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// subredditName accepts "golang", "r/golang" or "/r/golang/"
func subredditName(address string) string {
	name := strings.Trim(strings.TrimSpace(address), "/")
	name = strings.TrimPrefix(name, "r/")
	if name == "" || strings.ContainsAny(name, "/?# ") {
		return ""
	}
	return name
}
