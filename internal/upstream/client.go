// Package upstream is the client for the market-analytics query service.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/casafind/market-stats-cache/internal/core/httpclient"
	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/core/observability"
)

// Query describes one sub-window request: a date range plus scope filters.
type Query struct {
	From     time.Time
	To       time.Time // inclusive
	Area     string
	AreaKind model.AreaKind
	SubArea  string
	Category string
	GroupBy  string // "" or "property_type"
}

// Querier is the seam the aggregator fans out over.
type Querier interface {
	Query(ctx context.Context, q Query) (Stats, error)
}

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func New(rawURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("analytics url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse analytics url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    u,
		http:    httpclient.NewOutbound(),
		timeout: timeout,
		logger:  logger,
	}, nil
}

const dateLayout = "2006-01-02"

func (c *Client) Query(ctx context.Context, q Query) (Stats, error) {
	params := url.Values{}
	params.Set("from", q.From.UTC().Format(dateLayout))
	params.Set("to", q.To.UTC().Format(dateLayout))
	if q.Area != "" {
		params.Set("area", q.Area)
		params.Set("area_kind", string(q.AreaKind))
	}
	if q.SubArea != "" {
		params.Set("sub_area", q.SubArea)
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.GroupBy != "" {
		params.Set("group_by", q.GroupBy)
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	u := *c.base
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, u.String(), nil)
	if err != nil {
		return Stats{}, &QueryError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("analytics", time.Since(start).Seconds())

	if err != nil {
		return Stats{}, &QueryError{Err: fmt.Errorf("fetch: %w", err)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", "err", cerr)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Stats{}, &QueryError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("body=%q", strings.TrimSpace(string(b))),
		}
	}

	var out Stats
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Stats{}, &QueryError{Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}
