// Package ingest pulls OCDS release packages from the Find a Tender feed,
// normalises them, and drives the enrichment and alerting pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"

	"github.com/tendermatch/tendermatch/internal/ocds"
)

const pageSize = 100

// Client fetches OCDS release packages from a Find a Tender compatible API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   uint
	logger     *slog.Logger
}

// NewClient creates an OCDS feed client.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   uint(retries),
		logger:     logger,
	}
}

type releasePackage struct {
	Releases []ocds.Release `json:"releases"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// FetchUpdated returns releases updated since the given time, following
// pagination links until the feed is exhausted or maxReleases is reached.
// A maxReleases of 0 means no cap.
func (c *Client) FetchUpdated(ctx context.Context, since time.Time, maxReleases int) ([]ocds.Release, error) {
	params := url.Values{}
	// The feed expects a midnight-anchored stamp, so the watermark is
	// truncated to its UTC day.
	params.Set("updatedFrom", since.UTC().Format("2006-01-02")+"T00:00:00Z")
	params.Set("limit", fmt.Sprint(pageSize))
	return c.fetchPages(ctx, c.baseURL+"?"+params.Encode(), maxReleases)
}

// FetchKeyword returns releases matching a keyword published inside
// [from, to]. Used for historical backfills.
func (c *Client) FetchKeyword(ctx context.Context, keyword string, from, to time.Time, maxReleases int) ([]ocds.Release, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("publishedFrom", from.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("publishedTo", to.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("limit", fmt.Sprint(pageSize))
	return c.fetchPages(ctx, c.baseURL+"?"+params.Encode(), maxReleases)
}

func (c *Client) fetchPages(ctx context.Context, pageURL string, maxReleases int) ([]ocds.Release, error) {
	var out []ocds.Release
	for pageURL != "" {
		pkg, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg.Releases...)
		c.logger.Debug("fetched release page", "releases", len(pkg.Releases), "total", len(out))

		if maxReleases > 0 && len(out) >= maxReleases {
			return out[:maxReleases], nil
		}
		if len(pkg.Releases) == 0 {
			break
		}
		pageURL = pkg.Links.Next
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*releasePackage, error) {
	var pkg releasePackage
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("ingest: create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return retry.Unrecoverable(err)
				}
				return fmt.Errorf("ingest: fetch page: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("ingest: read page: %w", err)
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("ingest: transient status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("ingest: unexpected status %d", resp.StatusCode))
			}

			pkg = releasePackage{}
			if err := json.Unmarshal(body, &pkg); err != nil {
				return retry.Unrecoverable(fmt.Errorf("ingest: decode release package: %w", err))
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
