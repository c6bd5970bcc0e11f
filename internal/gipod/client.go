// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package gipod implements the client for the GIPOD open-data REST API.
//
// The API serves two paginated list endpoints (/workassignment,
// /manifestation) and per-id detail endpoints. Pagination via offset is
// documented as inconsistent: pages may repeat or skip records. Callers
// must treat per-record updates as idempotent and rely on the next full
// sync to catch missed records.
package gipod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// ErrNotFound is returned by Detail when the upstream serves a 404 for the
// requested record. During cleanup this is an expected signal, not a fault.
var ErrNotFound = errors.New("gipod: record not found")

// maxErrorBodySize bounds how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// Client is the operation contract of the upstream API. Implemented by
// HTTPClient for production and by test doubles in package tests.
type Client interface {
	// List fetches one page of summary items for a kind. An empty page ends
	// the pagination walk.
	List(ctx context.Context, kind models.Kind, endDate time.Time, limit, offset int) ([]models.ListItem, error)

	// Detail fetches the full payload of a record. Returns ErrNotFound on
	// upstream 404.
	Detail(ctx context.Context, kind models.Kind, gipodID int64) (*models.ItemData, error)

	// Probe checks record existence without deserializing the body and
	// returns the upstream status code.
	Probe(ctx context.Context, kind models.Kind, gipodID int64) (int, error)
}

// HTTPClient talks to the GIPOD API over HTTP with a bounded request rate.
// Safe for concurrent use.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a client from the upstream configuration.
func NewHTTPClient(cfg *config.UpstreamConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
}

// kindPath maps a record kind to its API path segment.
func kindPath(kind models.Kind) string {
	if kind == models.KindManifestation {
		return "/manifestation"
	}
	return "/workassignment"
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, kind models.Kind, endDate time.Time, limit, offset int) ([]models.ListItem, error) {
	params := url.Values{}
	params.Set("enddate", endDate.Format("2006-01-02"))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var items []models.ListItem
	if err := c.getJSON(ctx, "list", kindPath(kind)+"?"+params.Encode(), &items); err != nil {
		return nil, fmt.Errorf("list %s (offset=%d): %w", kind, offset, err)
	}
	return items, nil
}

// Detail implements Client.
func (c *HTTPClient) Detail(ctx context.Context, kind models.Kind, gipodID int64) (*models.ItemData, error) {
	data := &models.ItemData{}
	if err := c.getJSON(ctx, "detail", fmt.Sprintf("%s/%d", kindPath(kind), gipodID), data); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("detail %s-%d: %w", kind, gipodID, err)
	}
	return data, nil
}

// Probe implements Client. Any reachable status code is a valid result; only
// transport failures are errors.
func (c *HTTPClient) Probe(ctx context.Context, kind models.Kind, gipodID int64) (int, error) {
	resp, err := c.do(ctx, "probe", fmt.Sprintf("%s/%d", kindPath(kind), gipodID))
	if err != nil {
		return 0, fmt.Errorf("probe %s-%d: %w", kind, gipodID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return resp.StatusCode, nil
}

// getJSON performs a GET and decodes a 200 response into out. Non-200 is a
// hard error for the call; 404 maps to ErrNotFound.
func (c *HTTPClient) getJSON(ctx context.Context, operation, relativeURL string, out any) error {
	resp, err := c.do(ctx, operation, relativeURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, operation, relativeURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + relativeURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logging.Debug().Str("url", reqURL).Str("operation", operation).Msg("GIPOD request")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	metrics.UpstreamRequests.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// readBodyForError reads at most maxErrorBodySize bytes for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
