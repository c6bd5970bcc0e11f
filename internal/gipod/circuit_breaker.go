// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package gipod

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// CircuitBreakerClient wraps a Client with the circuit breaker pattern so a
// slow or unavailable upstream does not pile up blocked sync tasks. Tripped
// calls fail fast; the task queue retries them later.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerClient wraps client with a breaker that opens at a 60%
// failure rate over at least 10 requests and probes recovery after 2
// minutes.
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	metrics.CircuitBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "gipod-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// List implements Client.
func (c *CircuitBreakerClient) List(ctx context.Context, kind models.Kind, endDate time.Time, limit, offset int) ([]models.ListItem, error) {
	result, err := c.cb.Execute(func() (any, error) {
		return c.client.List(ctx, kind, endDate, limit, offset)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.ListItem), nil
}

// Detail implements Client. A 404 counts as a success for the breaker: the
// upstream answered, the record is simply gone.
func (c *CircuitBreakerClient) Detail(ctx context.Context, kind models.Kind, gipodID int64) (*models.ItemData, error) {
	result, err := c.cb.Execute(func() (any, error) {
		data, err := c.client.Detail(ctx, kind, gipodID)
		if errors.Is(err, ErrNotFound) {
			return (*models.ItemData)(nil), nil
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	data := result.(*models.ItemData)
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// Probe implements Client.
func (c *CircuitBreakerClient) Probe(ctx context.Context, kind models.Kind, gipodID int64) (int, error) {
	result, err := c.cb.Execute(func() (any, error) {
		return c.client.Probe(ctx, kind, gipodID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
