package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/worker"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpproxy"
)

const maxBodyBytes = 8 << 20

// Options is shared by all HTTP connectors
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
	Limiter    *worker.Limiter
	Robots     *RobotsChecker // nil skips robots.txt checks
	Now        func() time.Time
	Log        *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "sentinel/0.1"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Limiter == nil {
		o.Limiter = worker.NewLimiter(0, 1)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = logging.New("connector")
	}
	return o
}

// NewProxyFunc builds the transport proxy func. Without explicit proxies
// the environment is used.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}
	cfg := httpproxy.Config{HTTPProxy: httpProxy, HTTPSProxy: httpsProxy, NoProxy: noProxy}
	proxy := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxy(req.URL)
	}
}

// NewHTTPClient returns the client connectors share
func NewHTTPClient(opts Options) *http.Client {
	opts = opts.withDefaults()
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *worker.Limiter
}

func newFetcher(client *http.Client, opts Options) *fetcher {
	if client == nil {
		client = NewHTTPClient(opts)
	}
	return &fetcher{client: client, userAgent: opts.UserAgent, limiter: opts.Limiter}
}

// get performs a rate-limited GET and classifies the failure
func (f *fetcher) get(ctx context.Context, sourceID, rawURL, accept string) ([]byte, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, Transient(sourceID, fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Transient(sourceID, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Transient(sourceID, fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("fetch %s: HTTP %d: %s", rawURL, resp.StatusCode, string(snippet))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, Auth(sourceID, statusErr)
		case http.StatusTooManyRequests:
			return nil, RateLimited(sourceID, statusErr)
		default:
			return nil, Transient(sourceID, statusErr)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, Transient(sourceID, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
