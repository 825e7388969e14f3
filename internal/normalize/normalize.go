// Package normalize turns connector output into canonical content records.
package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/store"
	"golang.org/x/net/html"
)

// recordNamespace seeds the UUIDv5 record ids
var recordNamespace = uuid.MustParse("6f1c3b8e-3d55-4c6a-9a8e-0b7f2f9d2a41")

// SkipReason explains why an item produced no candidate
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipEmpty          SkipReason = "empty"           // nothing left after canonicalization
	SkipReplay         SkipReason = "replay"          // record with this id already exists
	SkipExactDuplicate SkipReason = "exact-duplicate" // same hash already stored for this source
)

// Lookup is the read access the normalizer needs
type Lookup interface {
	GetRecord(ctx context.Context, id string) (model.ContentRecord, error)
	FindByHash(ctx context.Context, sourceID, hash string) (model.ContentRecord, bool, error)
}

// Normalizer canonicalizes raw items and filters replays
type Normalizer struct {
	lookup   Lookup
	maxChars int
	now      func() time.Time
}

// New creates a normalizer. maxChars <= 0 disables truncation.
func New(lookup Lookup, maxChars int) *Normalizer {
	return &Normalizer{lookup: lookup, maxChars: maxChars, now: time.Now}
}

// Normalize builds a pending candidate from raw, or reports why it was skipped
func (n *Normalizer) Normalize(ctx context.Context, src model.SourceConfig, raw model.RawItem) (model.ContentRecord, SkipReason, error) {
	text := Truncate(CanonicalText(raw.Text), n.maxChars)
	title := CanonicalText(raw.Title)
	if text == "" {
		text = title
	}
	if text == "" {
		return model.ContentRecord{}, SkipEmpty, nil
	}

	id := RecordID(src.ID, raw.NativeID)
	if _, err := n.lookup.GetRecord(ctx, id); err == nil {
		return model.ContentRecord{}, SkipReplay, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.ContentRecord{}, SkipNone, fmt.Errorf("lookup record %s: %w", id, err)
	}

	hash := Hash(text)
	if _, found, err := n.lookup.FindByHash(ctx, src.ID, hash); err != nil {
		return model.ContentRecord{}, SkipNone, fmt.Errorf("lookup hash: %w", err)
	} else if found {
		return model.ContentRecord{}, SkipExactDuplicate, nil
	}

	now := n.now().UTC()
	return model.ContentRecord{
		ID:          id,
		SourceID:    src.ID,
		SourceType:  src.Type,
		NativeID:    raw.NativeID,
		Title:       title,
		URL:         raw.URL,
		Text:        text,
		ContentHash: hash,
		Dedup:       model.DedupPending,
		Score:       model.ScoreUnscored,
		Attribution: []string{src.ID},
		PublishedAt: raw.PublishedAt,
		FirstSeen:   now,
		UpdatedAt:   now,
	}, SkipNone, nil
}

// RecordID derives the stable record id for (source, native id)
func RecordID(sourceID, nativeID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(sourceID+"\x00"+nativeID)).String()
}

// Hash is the hex sha256 of the case-folded canonical text
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(canonical)))
	return hex.EncodeToString(sum[:])
}

// CanonicalText strips markup, unescapes entities and collapses whitespace
func CanonicalText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		if doc, err := html.Parse(strings.NewReader(s)); err == nil {
			s = visibleText(doc)
		}
	}
	s = strings.ToValidUTF8(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most maxChars runes
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxChars]))
}

// visibleText extracts text nodes, skipping scripts/styles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template":
				return
			case "br", "p", "div", "li":
				buf.WriteString(" ")
			}
		}

		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return buf.String()
}
