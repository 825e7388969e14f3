package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestDoJSON_StatusError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"provider message", `{"error":"model not found"}`, "model not found"},
		{"raw body fallback", `upstream exploded`, "upstream exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := doJSON(context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil, nil, ollamaErrorMessage)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("doJSON() error = %v, want *StatusError", err)
			}
			if statusErr.StatusCode != http.StatusBadGateway || statusErr.Message != tt.wantMsg {
				t.Errorf("StatusError = %+v, want 502 %q", statusErr, tt.wantMsg)
			}
		})
	}
}

func TestDoJSON_InvalidBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	var out ollamaResponse
	err := doJSON(context.Background(), server.Client(), http.MethodPost, server.URL, nil, ollamaRequest{Model: "m"}, &out, nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("doJSON() error = %v, want ErrInvalidResponse", err)
	}
}

func TestNewHTTPClient_Proxy(t *testing.T) {
	client := newHTTPClient(Config{HTTPSProxy: "http://proxy.internal:3128", NoProxy: "localhost"}, 0)
	proxy := client.Transport.(*http.Transport).Proxy

	tests := []struct {
		target string
		want   string
	}{
		{"https://api.anthropic.com/v1/messages", "http://proxy.internal:3128"},
		{"https://localhost/v1/messages", ""},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.target)
		got, err := proxy(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("proxy(%s) error = %v", tt.target, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.target, gotStr, tt.want)
		}
	}
}
