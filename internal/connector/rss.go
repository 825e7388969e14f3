package connector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/sirupsen/logrus"
)

// maxClockSkew is how far in the future a time cursor may be before it is
// treated as corrupt and dropped
const maxClockSkew = 10 * time.Minute

// RSSConnector reads RSS and Atom feeds. Its cursor is the newest publish
// time seen, RFC 3339.
type RSSConnector struct {
	f      *fetcher
	robots *RobotsChecker
	parser *gofeed.Parser
	now    func() time.Time
	log    *logrus.Entry
}

// NewRSSConnector creates a syndication feed connector
func NewRSSConnector(client *http.Client, opts Options) *RSSConnector {
	opts = opts.withDefaults()
	return &RSSConnector{
		f:      newFetcher(client, opts),
		robots: opts.Robots,
		parser: gofeed.NewParser(),
		now:    opts.Now,
		log:    opts.Log.WithField("connector", string(model.SourceSyndicationFeed)),
	}
}

func (c *RSSConnector) Type() model.SourceType {
	return model.SourceSyndicationFeed
}

func (c *RSSConnector) Fetch(ctx context.Context, src model.SourceConfig, cursor string) (FetchResult, error) {
	feedURL, err := url.Parse(src.Address)
	if err != nil || feedURL.Host == "" {
		return FetchResult{}, Auth(src.ID, fmt.Errorf("invalid feed URL %q", src.Address))
	}

	if c.robots != nil {
		allowed, delay, err := c.robots.CanFetch(ctx, src.Address)
		if err != nil {
			return FetchResult{}, Transient(src.ID, err)
		}
		if !allowed {
			return FetchResult{}, Auth(src.ID, errors.New("disallowed by robots.txt"))
		}
		c.f.limiter.ApplyCrawlDelay(feedURL.Host, delay)
	}

	body, err := c.f.get(ctx, src.ID, src.Address, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5")
	if err != nil {
		return FetchResult{}, err
	}

	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return FetchResult{}, Transient(src.ID, fmt.Errorf("parse feed: %w", err))
	}

	since := c.validCursor(src.ID, cursor)
	newest := since

	var items []model.RawItem
	for _, entry := range feed.Items {
		published := entryTime(entry)
		if !since.IsZero() && !published.IsZero() && !published.After(since) {
			continue
		}
		if published.After(newest) {
			newest = published
		}
		items = append(items, rawFromEntry(entry, published))
	}

	next := ""
	if !newest.IsZero() {
		next = newest.UTC().Format(time.RFC3339Nano)
	}
	return FetchResult{Items: items, NextCursor: next}, nil
}

// validCursor parses a time cursor, dropping it when it is unreadable or
// lies in the future
func (c *RSSConnector) validCursor(sourceID, cursor string) time.Time {
	if cursor == "" {
		return time.Time{}
	}
	since, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		c.log.WithError(err).WithField("source_id", sourceID).Warn("Discarding unreadable cursor")
		return time.Time{}
	}
	if since.After(c.now().Add(maxClockSkew)) {
		c.log.WithFields(logrus.Fields{
			"source_id": sourceID,
			"cursor":    cursor,
		}).Warn("Discarding cursor from the future")
		return time.Time{}
	}
	return since
}

func entryTime(entry *gofeed.Item) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		return entry.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

func rawFromEntry(entry *gofeed.Item, published time.Time) model.RawItem {
	text := entry.Content
	if text == "" {
		text = entry.Description
	}

	item := model.RawItem{
		NativeID:    entryID(entry),
		Title:       entry.Title,
		Text:        text,
		URL:         entry.Link,
		PublishedAt: published,
	}
	if entry.Image != nil {
		item.MediaURL = entry.Image.URL
	} else if len(entry.Enclosures) > 0 && entry.Enclosures[0] != nil {
		item.MediaURL = entry.Enclosures[0].URL
	}
	return item
}

func entryID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	if entry.Link != "" {
		return entry.Link
	}
	sum := sha256.Sum256([]byte(entry.Title + "\x00" + entry.Description))
	return hex.EncodeToString(sum[:16])
}
