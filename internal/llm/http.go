package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// maxResponseBytes caps how much of a provider reply is read
const maxResponseBytes = 4 << 20

// newHTTPClient builds the client for providers talking plain JSON over HTTP.
// Explicit proxy settings win over the environment.
func newHTTPClient(config Config, fallback time.Duration) *http.Client {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = fallback
	}

	proxy := http.ProxyFromEnvironment
	if config.HTTPProxy != "" || config.HTTPSProxy != "" {
		pc := &httpproxy.Config{
			HTTPProxy:  config.HTTPProxy,
			HTTPSProxy: config.HTTPSProxy,
			NoProxy:    config.NoProxy,
		}
		fn := pc.ProxyFunc()
		proxy = func(req *http.Request) (*url.URL, error) { return fn(req.URL) }
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy
	return &http.Client{Timeout: timeout, Transport: transport}
}

// apiErrorFunc extracts a readable message from a provider error body
type apiErrorFunc func(body []byte) string

// doJSON sends in as JSON (or nothing when in is nil) and decodes a 200
// reply into out. Any other status becomes a *StatusError.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, in, out any, apiErr apiErrorFunc) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if apiErr != nil {
			if m := apiErr(respBody); m != "" {
				msg = m
			}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %w", ErrInvalidResponse, err)
	}
	return nil
}
