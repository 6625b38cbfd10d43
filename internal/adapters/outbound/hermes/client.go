// Package hermes implements the price source ports against a Pyth Hermes
// endpoint. Every request goes through the shared rate-limited, retrying
// HTTP client.
package hermes

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/clock"
	"github.com/archon-research/oracle-pusher/internal/pkg/httpclient"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

const latestPath = "/v2/updates/price/latest"

var (
	_ outbound.PriceSource      = (*Client)(nil)
	_ outbound.UpdateDataSource = (*Client)(nil)
)

// HTTPRecorder records request latency. telemetry.Metrics satisfies it.
type HTTPRecorder interface {
	RecordHTTP(ctx context.Context, endpoint string, duration time.Duration, err error)
}

// ClientConfig holds configuration for the Hermes client.
type ClientConfig struct {
	// BaseURL is the Hermes endpoint. Defaults to https://hermes.pyth.network
	BaseURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// RateLimitPerSec caps requests per second.
	RateLimitPerSec float64

	// Metrics is optional.
	Metrics HTTPRecorder

	Clock  clock.Clock
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://hermes.pyth.network",
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		RateLimitPerSec: 5,
		Clock:           clock.Real{},
		Logger:          slog.Default(),
	}
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Client fetches quotes and update data from Hermes.
type Client struct {
	baseURL string
	http    *httpclient.Client
	metrics HTTPRecorder
	clock   clock.Clock
	logger  *slog.Logger
}

// NewClient creates a new Hermes client.
func NewClient(config ClientConfig) (*Client, error) {
	applyDefaults(&config, ClientConfigDefaults())

	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Hermes base URL %q", config.BaseURL)
	}

	logger := config.Logger.With("component", "hermes-client")
	limit := rate.Limit(config.RateLimitPerSec)
	if config.RateLimitPerSec < 0 {
		limit = rate.Inf
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			RateLimit:      limit,
			RateBurst:      1,
		}, logger),
		metrics: config.Metrics,
		clock:   config.Clock,
		logger:  logger,
	}, nil
}

// FetchQuotes fetches the latest quote of every feed in one request. Feeds
// Hermes does not know are absent from the result.
func (c *Client) FetchQuotes(ctx context.Context, feedIDs []string) (*entity.QuoteSet, error) {
	resp, err := c.latest(ctx, "quotes", feedIDs, true)
	if err != nil {
		return nil, err
	}

	set := &entity.QuoteSet{
		Quotes:    make(map[string]entity.PriceQuote, len(resp.Parsed)),
		FetchedAt: c.clock.Now(),
	}
	for _, p := range resp.Parsed {
		quote, err := toQuote(p)
		if err != nil {
			return nil, &outbound.FetchError{Op: "quotes", Err: err}
		}
		set.Quotes[quote.FeedID] = quote
	}

	c.logger.Debug("quotes fetched", "requested", len(feedIDs), "received", set.Len())
	return set, nil
}

// FetchUpdateData returns the signed update blobs covering exactly feedIDs.
func (c *Client) FetchUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error) {
	resp, err := c.latest(ctx, "update_data", feedIDs, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Binary.Data) == 0 {
		return nil, &outbound.FetchError{Op: "update_data", Err: errors.New("response carries no update data")}
	}
	if resp.Binary.Encoding != "" && resp.Binary.Encoding != "hex" {
		return nil, &outbound.FetchError{Op: "update_data", Err: fmt.Errorf("unsupported encoding %q", resp.Binary.Encoding)}
	}

	blobs := make([][]byte, len(resp.Binary.Data))
	for i, s := range resp.Binary.Data {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, &outbound.FetchError{Op: "update_data", Err: fmt.Errorf("decoding blob %d: %w", i, err)}
		}
		blobs[i] = b
	}
	return blobs, nil
}

func (c *Client) latest(ctx context.Context, op string, feedIDs []string, parsed bool) (*latestResponse, error) {
	if len(feedIDs) == 0 {
		return nil, &outbound.FetchError{Op: op, Err: errors.New("no feed ids requested")}
	}

	query := url.Values{
		"encoding": {"hex"},
		"parsed":   {strconv.FormatBool(parsed)},
	}
	for _, id := range feedIDs {
		query.Add("ids[]", "0x"+strings.TrimPrefix(strings.ToLower(id), "0x"))
	}

	start := c.clock.Now()
	var resp latestResponse
	err := c.http.GetJSON(ctx, httpclient.RequestConfig{
		URL:   c.baseURL + latestPath,
		Query: query,
	}, &resp)
	if c.metrics != nil {
		c.metrics.RecordHTTP(ctx, op, c.clock.Now().Sub(start), err)
	}
	if err != nil {
		fetchErr := &outbound.FetchError{Op: op, Err: err}
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			fetchErr.StatusCode = statusErr.StatusCode
		}
		return nil, fetchErr
	}
	return &resp, nil
}

func toQuote(p parsedPrice) (entity.PriceQuote, error) {
	id, err := entity.NormalizeFeedID(p.ID)
	if err != nil {
		return entity.PriceQuote{}, err
	}
	price, err := strconv.ParseInt(p.Price.Price, 10, 64)
	if err != nil {
		return entity.PriceQuote{}, fmt.Errorf("feed %s: invalid price %q: %w", id, p.Price.Price, err)
	}
	var conf uint64
	if p.Price.Conf != "" {
		conf, err = strconv.ParseUint(p.Price.Conf, 10, 64)
		if err != nil {
			return entity.PriceQuote{}, fmt.Errorf("feed %s: invalid confidence %q: %w", id, p.Price.Conf, err)
		}
	}
	return entity.NewPriceQuote(id, price, conf, p.Price.Expo, time.Unix(p.Price.PublishTime, 0).UTC()), nil
}
