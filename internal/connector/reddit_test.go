package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/sentinel/internal/model"
)

const redditFixture = `{"kind":"Listing","data":{"children":[
 {"kind":"t3","data":{"name":"t3_new","title":"Outage postmortem","selftext":"","url":"https://status.example/pm","permalink":"/r/sre/comments/new/outage/","created_utc":1760436000,"is_self":false}},
 {"kind":"t3","data":{"name":"t3_old","title":"On-call tips","selftext":"Rotate weekly.","url":"https://www.reddit.com/r/sre/comments/old/","permalink":"/r/sre/comments/old/tips/","created_utc":1760432400,"is_self":true}}
]}}`

func TestRedditConnector_Fetch(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/sre/new.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(redditFixture))
	}))
	defer server.Close()

	c := NewRedditConnector(server.Client(), server.URL, testOptions())
	res, err := c.Fetch(context.Background(), newSource(model.SourceForumFeed, "r/sre"), "t3_prev")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !strings.Contains(gotQuery, "before=t3_prev") || !strings.Contains(gotQuery, "limit=25") {
		t.Errorf("unexpected query %s", gotQuery)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	if res.Items[0].NativeID != "t3_old" || res.Items[1].NativeID != "t3_new" {
		t.Errorf("items should be oldest first, got %s, %s", res.Items[0].NativeID, res.Items[1].NativeID)
	}
	if res.Items[0].Text != "Rotate weekly." || res.Items[0].MediaURL != "" {
		t.Errorf("unexpected self post %+v", res.Items[0])
	}
	if res.Items[1].Text != "Outage postmortem" || res.Items[1].MediaURL != "https://status.example/pm" {
		t.Errorf("link post should fall back to title and carry its url, got %+v", res.Items[1])
	}
	if res.NextCursor != "t3_new" {
		t.Errorf("expected cursor t3_new, got %s", res.NextCursor)
	}
	if res.HasMore {
		t.Error("short page should not report more")
	}
}

func TestRedditConnector_FullPageHasMore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var children []string
		for i := redditPageSize; i > 0; i-- {
			children = append(children, fmt.Sprintf(`{"kind":"t3","data":{"name":"t3_%d","title":"post %d","permalink":"/p/%d","is_self":true}}`, i, i, i))
		}
		_, _ = fmt.Fprintf(w, `{"data":{"children":[%s]}}`, strings.Join(children, ","))
	}))
	defer server.Close()

	c := NewRedditConnector(server.Client(), server.URL, testOptions())
	res, err := c.Fetch(context.Background(), newSource(model.SourceForumFeed, "golang"), "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasMore || res.NextCursor != fmt.Sprintf("t3_%d", redditPageSize) {
		t.Errorf("expected HasMore with newest cursor, got %v %s", res.HasMore, res.NextCursor)
	}
}

func TestRedditConnector_EmptyKeepsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"children":[]}}`))
	}))
	defer server.Close()

	c := NewRedditConnector(server.Client(), server.URL, testOptions())
	res, err := c.Fetch(context.Background(), newSource(model.SourceForumFeed, "golang"), "t3_keep")
	if err != nil {
		t.Fatal(err)
	}
	if res.NextCursor != "t3_keep" || len(res.Items) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRedditConnector_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "private"):
			w.WriteHeader(http.StatusForbidden)
		case strings.Contains(r.URL.Path, "busy"):
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte("{not json"))
		}
	}))
	defer server.Close()

	c := NewRedditConnector(server.Client(), server.URL, testOptions())
	tests := []struct {
		address string
		want    Kind
	}{
		{"private", KindAuth},
		{"busy", KindRateLimited},
		{"garbled", KindTransient},
		{"a/b/c", KindAuth},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			_, err := c.Fetch(context.Background(), newSource(model.SourceForumFeed, tt.address), "")
			if err == nil || KindOf(err) != tt.want {
				t.Errorf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestSubredditName(t *testing.T) {
	tests := map[string]string{
		"golang":     "golang",
		"r/golang":   "golang",
		"/r/golang/": "golang",
		"":           "",
		"a b":        "",
	}
	for in, want := range tests {
		if got := subredditName(in); got != want {
			t.Errorf("subredditName(%q) = %q, want %q", in, got, want)
		}
	}
}
