package model

import (
	"fmt"
	"time"
)

// SourceType identifies which connector serves a source
type SourceType string

const (
	SourceChannelFeed     SourceType = "channel-feed"     // public messaging channel (Telegram preview)
	SourceForumFeed       SourceType = "forum-feed"       // forum listing (Reddit subreddit)
	SourceSyndicationFeed SourceType = "syndication-feed" // RSS / Atom
)

// SourceTypes lists every known source type in a stable order
var SourceTypes = []SourceType{SourceChannelFeed, SourceForumFeed, SourceSyndicationFeed}

// Valid reports whether t is a known source type
func (t SourceType) Valid() bool {
	for _, known := range SourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseSourceType accepts the canonical names plus the short aliases used in configs
func ParseSourceType(s string) (SourceType, error) {
	switch s {
	case "channel-feed", "telegram", "channel":
		return SourceChannelFeed, nil
	case "forum-feed", "reddit", "forum":
		return SourceForumFeed, nil
	case "syndication-feed", "rss", "atom", "syndication":
		return SourceSyndicationFeed, nil
	default:
		return "", fmt.Errorf("unknown source type: %q (supported: channel-feed, forum-feed, syndication-feed)", s)
	}
}

// SourceConfig is one ingestion source as managed by the admin control plane.
// The pipeline only reads it, except for Cursor which the ingestion job owns.
type SourceConfig struct {
	ID        string        `json:"id" yaml:"id" mapstructure:"id"`
	Type      SourceType    `json:"type" yaml:"type" mapstructure:"type"`
	Address   string        `json:"address" yaml:"address" mapstructure:"address"` // channel name, subreddit or feed URL
	Name      string        `json:"name" yaml:"name" mapstructure:"name"`
	Enabled   bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Interval  time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Cursor    string        `json:"cursor,omitempty" yaml:"-" mapstructure:"-"` // opaque, connector-owned
	CreatedAt time.Time     `json:"created_at" yaml:"-" mapstructure:"-"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"-" mapstructure:"-"`
}

// Validate checks the fields a source needs before it can be scheduled
func (s SourceConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("source %s: unknown type %q", s.ID, s.Type)
	}
	if s.Address == "" {
		return fmt.Errorf("source %s: address is required", s.ID)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("source %s: interval must be positive", s.ID)
	}
	return nil
}

// RawItem is what a connector returns for one upstream post. It is never persisted.
type RawItem struct {
	NativeID    string    `json:"native_id"`
	Title       string    `json:"title,omitempty"`
	Text        string    `json:"text"`
	URL         string    `json:"url,omitempty"`
	MediaURL    string    `json:"media_url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}
