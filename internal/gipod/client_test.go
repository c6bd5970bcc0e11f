// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package gipod

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(&config.UpstreamConfig{
		BaseURL:       srv.URL,
		Timeout:       5 * time.Second,
		RatePerSecond: 1000,
		RateBurst:     100,
	})
}

func TestListBuildsQuery(t *testing.T) {
	var gotPath, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"gipodId": 1, "latestUpdate": "2024-01-01T10:00:00"}]`))
	})

	endDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items, err := client.List(context.Background(), models.KindWorkAssignment, endDate, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].GipodID)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), items[0].LatestUpdate.Time)

	assert.Equal(t, "/workassignment", gotPath)
	assert.Equal(t, "enddate=2025-01-01&limit=1000&offset=2000", gotQuery)
}

func TestListManifestationPath(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[]`))
	})

	items, err := client.List(context.Background(), models.KindManifestation, time.Now(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, "/manifestation", gotPath)
}

func TestDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workassignment/123", r.URL.Path)
		_, _ = w.Write([]byte(`{"gipodId": 123, "description": "Wegenwerken", "location": {}}`))
	})

	data, err := client.Detail(context.Background(), models.KindWorkAssignment, 123)
	require.NoError(t, err)
	assert.Equal(t, int64(123), data.GipodID)
	assert.Equal(t, "Wegenwerken", data.Description)
}

func TestDetailNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := client.Detail(context.Background(), models.KindManifestation, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetailServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Detail(context.Background(), models.KindWorkAssignment, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "500")
}

func TestProbeStatuses(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable} {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		got, err := client.Probe(context.Background(), models.KindWorkAssignment, 1)
		require.NoError(t, err)
		assert.Equal(t, status, got)
	}
}

func TestCircuitBreakerPassesNotFoundThrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	breaker := NewCircuitBreakerClient(client)

	// A long run of 404s is a valid answer, not a fault: the breaker must
	// stay closed.
	for i := 0; i < 20; i++ {
		_, err := breaker.Detail(context.Background(), models.KindWorkAssignment, int64(i))
		assert.ErrorIs(t, err, ErrNotFound)
	}

	status, err := breaker.Probe(context.Background(), models.KindWorkAssignment, 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

// wrappingClient returns a wrapped not-found error from Detail.
type wrappingClient struct {
	Client
}

func (wrappingClient) Detail(context.Context, models.Kind, int64) (*models.ItemData, error) {
	return nil, fmt.Errorf("detail 1: %w", ErrNotFound)
}

func TestCircuitBreakerMatchesWrappedNotFound(t *testing.T) {
	breaker := NewCircuitBreakerClient(wrappingClient{})

	for i := 0; i < 20; i++ {
		_, err := breaker.Detail(context.Background(), models.KindWorkAssignment, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}
