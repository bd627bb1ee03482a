package crawler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fund-arbitrage-bot/internal/types"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

const (
	// DefaultPacing is the mandatory wait between two category requests
	DefaultPacing = 60 * time.Second

	defaultTimeout       = 30 * time.Second
	defaultCategoryParam = "type"
	tokenHeader          = "token"
)

// Config holds the upstream connection settings
type Config struct {
	BaseURL       string
	Token         string
	CategoryParam string
	Timeout       time.Duration
}

// Client fetches fund listings from the upstream source
type Client struct {
	http          *resty.Client
	token         string
	categoryParam string
	categories    []types.Category
	pacing        time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithPacing overrides the delay between category requests
func WithPacing(d time.Duration) Option {
	return func(c *Client) {
		c.pacing = d
	}
}

// WithSleeper replaces the pacing wait, mostly for tests
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithCategories overrides the fetch order
func WithCategories(categories ...types.Category) Option {
	return func(c *Client) {
		c.categories = categories
	}
}

// NewClient creates an upstream client
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	param := cfg.CategoryParam
	if param == "" {
		param = defaultCategoryParam
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "zh-CN,zh;q=0.9",
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
		})

	c := &Client{
		http:          httpClient,
		token:         cfg.Token,
		categoryParam: param,
		categories:    types.AllCategories,
		pacing:        DefaultPacing,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.http.Close()
}

// FetchCategory retrieves the raw listing of one category
func (c *Client) FetchCategory(ctx context.Context, category types.Category) ([]RawRecord, error) {
	logger := log.WithField("category", int(category))
	logger.Debug("fetching fund listing")

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam(c.categoryParam, strconv.Itoa(int(category)))
	if c.token != "" {
		req.SetHeader(tokenHeader, c.token)
	}

	resp, err := req.Get("")
	if err != nil {
		return nil, newTransportError(0, "request failed", err)
	}
	if !resp.IsSuccess() {
		return nil, newTransportError(resp.StatusCode(), fmt.Sprintf("unexpected status %q", resp.Status()), nil)
	}

	payload, err := decodePayload(resp.Bytes())
	if err != nil {
		return nil, newTransportError(resp.StatusCode(), "malformed payload", err)
	}
	if payload == nil {
		logger.Warn("upstream returned an empty body")
		return []RawRecord{}, nil
	}

	if err := checkEnvelope(payload); err != nil {
		return nil, err
	}

	records, path := extractListing(payload)
	if path == "" {
		logger.Warn("no listing array found in upstream payload")
		if log.IsLevelEnabled(log.DebugLevel) {
			logger.Debugf("payload: %s", spew.Sdump(payload))
		}
		return []RawRecord{}, nil
	}
	if path != "data."+listingField {
		logger.Debugf("listing found under fallback field %q", path)
	}

	logger.WithField("count", len(records)).Info("fetched fund listing")
	return records, nil
}

// FetchAllCategories fetches every category in order, waiting the pacing
// delay between two requests. A failure of the first category aborts the run;
// later failures are logged and skipped.
func (c *Client) FetchAllCategories(ctx context.Context) ([]RawRecord, error) {
	var all []RawRecord

	for i, category := range c.categories {
		records, err := c.FetchCategory(ctx, category)
		if err != nil {
			if i == 0 {
				return nil, errors.Wrapf(err, "fetch category %d", category)
			}
			log.WithError(err).WithField("category", int(category)).Warn("category fetch failed, continuing with the next one")
		} else {
			all = append(all, records...)
		}

		if i < len(c.categories)-1 {
			log.Debugf("waiting %s before the next category", c.pacing)
			if err := c.sleep(ctx, c.pacing); err != nil {
				return all, errors.Wrap(err, "pacing wait interrupted")
			}
		}
	}

	log.WithField("count", len(all)).Info("all categories fetched")
	return all, nil
}

// TestConnection reports whether the first category can be fetched
func (c *Client) TestConnection(ctx context.Context) bool {
	if _, err := c.FetchCategory(ctx, types.CategoryLOF); err != nil {
		log.WithError(err).Error("upstream connection test failed")
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
