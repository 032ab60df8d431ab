package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"token-harvester/internal/observability"
)

// HTTPConfig configures an upstream HTTP client.
type HTTPConfig struct {
	BaseURL           string        `koanf:"base_url" json:"base_url"`
	Timeout           time.Duration `koanf:"timeout" json:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" json:"requests_per_second"`
	Burst             int           `koanf:"burst" json:"burst"`
	RetryMax          int           `koanf:"retry_max" json:"retry_max"`
	RetryWaitMin      time.Duration `koanf:"retry_wait_min" json:"retry_wait_min"`
	RetryWaitMax      time.Duration `koanf:"retry_wait_max" json:"retry_wait_max"`
}

func (c HTTPConfig) withDefaults(baseURL string) HTTPConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = 500 * time.Millisecond
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = 3 * time.Second
	}
	return c
}

// httpClient is a paced, retrying JSON GET client shared by the providers.
type httpClient struct {
	name    string
	base    string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

func newHTTPClient(name string, cfg HTTPConfig, metrics *observability.Metrics, logger *zap.Logger) *httpClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// Hand the last response back so rate limiting can be told apart from other failures.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpClient{
		name:    name,
		base:    cfg.BaseURL,
		client:  rc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics: metrics,
		logger:  logger.Named(name),
	}
}

// get fetches base+path. A 404 returns (nil, nil).
func (c *httpClient) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(c.name, "error", time.Since(start))
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordProviderRequest(c.name, strconv.Itoa(resp.StatusCode), time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", c.name, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s API error: status %d, body: %s", c.name, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}
	return body, nil
}
