// Package firecrawl fetches page markdown through the Firecrawl scrape API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/metrics"
)

// excludedTags are stripped before markdown conversion.
var excludedTags = []string{"nav", "footer", "header", "script", "style"}

const (
	// maxErrorBody bounds how much of an error response ends up in logs.
	maxErrorBody = 512
	// defaultMaxBody caps a scrape response held in memory.
	defaultMaxBody int64 = 32 << 20
)

// Config holds scraper client settings.
type Config struct {
	URL        string
	APIKey     string
	WaitForMS  int
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	// MaxBodyBytes caps the response size. Zero selects 32 MiB.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Client scrapes pages through Firecrawl. Requests are rate limited client-side.
type Client struct {
	url        string
	apiKey     string
	waitFor    int
	maxBody    int64
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Firecrawl client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := max(cfg.Burst, 1)
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Client{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		waitFor: cfg.WaitForMS,
		maxBody: maxBody,
		limiter: rate.NewLimiter(limit, burst),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: cfg.Logger,
	}
}

type scrapeRequest struct {
	URL         string   `json:"url"`
	Formats     []string `json:"formats"`
	ExcludeTags []string `json:"excludeTags"`
	BlockAds    bool     `json:"blockAds"`
	WaitFor     int      `json:"waitFor"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error"`
}

// Scrape returns the markdown rendering of pageURL. An empty string means the
// page had no extractable content.
func (c *Client) Scrape(ctx context.Context, pageURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("scrape %s: wait for rate limiter: %w", pageURL, err)
	}

	body, err := json.Marshal(scrapeRequest{
		URL:         pageURL,
		Formats:     []string{"markdown"},
		ExcludeTags: excludedTags,
		BlockAds:    true,
		WaitFor:     c.waitFor,
	})
	if err != nil {
		return "", fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("scrape %s: %w: %w", pageURL, domain.ErrScrapeFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("read scrape response: %w: %w", domain.ErrScrapeFailed, err)
	}
	if int64(len(raw)) > c.maxBody {
		metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("scrape %s: response exceeds %d bytes: %w", pageURL, c.maxBody, domain.ErrScrapeFailed)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Firecrawl returned error status",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), maxErrorBody)),
		)
		err := fmt.Errorf("scrape %s: status %d: %w", pageURL, resp.StatusCode, domain.ErrScrapeFailed)
		if resp.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
		return "", err
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.ScrapeRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("decode scrape response: %w: %w", domain.ErrScrapeFailed, err)
	}

	metrics.ScrapeRequestsTotal.WithLabelValues("success").Inc()
	return strings.TrimSpace(parsed.Data.Markdown), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
