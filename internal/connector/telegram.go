package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ppiankov/sentinel/internal/model"
)

const (
	defaultTelegramURL = "https://t.me"
	telegramPageSize   = 20
)

var backgroundURL = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)

// TelegramConnector scrapes the public web preview of a channel
// (t.me/s/<channel>). Its cursor is the newest numeric post id.
type TelegramConnector struct {
	f       *fetcher
	baseURL string
}

// NewTelegramConnector creates a channel feed connector. An empty baseURL uses t.me.
func NewTelegramConnector(client *http.Client, baseURL string, opts Options) *TelegramConnector {
	opts = opts.withDefaults()
	if baseURL == "" {
		baseURL = defaultTelegramURL
	}
	return &TelegramConnector{f: newFetcher(client, opts), baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *TelegramConnector) Type() model.SourceType {
	return model.SourceChannelFeed
}

func (c *TelegramConnector) Fetch(ctx context.Context, src model.SourceConfig, cursor string) (FetchResult, error) {
	channel := strings.TrimPrefix(strings.Trim(strings.TrimSpace(src.Address), "/"), "@")
	if channel == "" || strings.ContainsAny(channel, "/?# ") {
		return FetchResult{}, Auth(src.ID, fmt.Errorf("invalid channel %q", src.Address))
	}

	var after int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return FetchResult{}, Transient(src.ID, fmt.Errorf("invalid cursor %q: %w", cursor, err))
		}
		after = n
	}

	pageURL := fmt.Sprintf("%s/s/%s", c.baseURL, channel)
	if after > 0 {
		pageURL += "?after=" + strconv.FormatInt(after, 10)
	}

	body, err := c.f.get(ctx, src.ID, pageURL, "text/html")
	if err != nil {
		return FetchResult{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return FetchResult{}, Transient(src.ID, fmt.Errorf("parse preview page: %w", err))
	}

	// private or missing channels redirect to a landing page without history
	if doc.Find(".tgme_channel_history").Length() == 0 && doc.Find(".tgme_widget_message").Length() == 0 {
		return FetchResult{}, Auth(src.ID, errors.New("channel preview unavailable"))
	}

	result := FetchResult{NextCursor: cursor}
	newest := after
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, msg *goquery.Selection) {
		post, _ := msg.Attr("data-post")
		id, ok := postID(post)
		if !ok || id <= after {
			return
		}
		if id > newest {
			newest = id
		}
		result.Items = append(result.Items, c.rawFromMessage(msg, post, id))
	})

	if newest > after {
		result.NextCursor = strconv.FormatInt(newest, 10)
	}
	result.HasMore = after > 0 && len(result.Items) >= telegramPageSize
	return result, nil
}

func (c *TelegramConnector) rawFromMessage(msg *goquery.Selection, post string, id int64) model.RawItem {
	textSel := msg.Find(".tgme_widget_message_text").First()
	html, _ := textSel.Html()

	item := model.RawItem{
		NativeID: strconv.FormatInt(id, 10),
		Text:     html,
		URL:      c.baseURL + "/" + post,
	}
	if stamp, ok := msg.Find(".tgme_widget_message_date time").Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			item.PublishedAt = t.UTC()
		}
	}
	if style, ok := msg.Find(".tgme_widget_message_photo_wrap").Attr("style"); ok {
		if m := backgroundURL.FindStringSubmatch(style); m != nil {
			item.MediaURL = m[1]
		}
	}
	return item
}

// postID extracts 123 from "channel/123"
func postID(post string) (int64, bool) {
	idx := strings.LastIndex(post, "/")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
