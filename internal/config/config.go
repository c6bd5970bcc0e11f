// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package config loads configuration from layered sources using Koanf:
// built-in defaults, an optional YAML file, then GIPOD_-prefixed environment
// variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Logging   LoggingConfig    `koanf:"logging"`
	Upstream  UpstreamConfig   `koanf:"upstream"`
	Store     StoreConfig      `koanf:"store"`
	Index     IndexConfig      `koanf:"index"`
	Sync      SyncConfig       `koanf:"sync"`
	API       APIConfig        `koanf:"api"`
	Consumers []ConsumerConfig `koanf:"consumers"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CronKey guards the /admin/cron endpoints. Requests must carry it in
	// the X-Cron-Key header. Empty disables the endpoints.
	CronKey string `koanf:"cron_key"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// UpstreamConfig configures the GIPOD open-data API client.
type UpstreamConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`

	// PageSize is the list page size; the upstream caps at 2000.
	PageSize int `koanf:"page_size" validate:"gte=1,lte=2000"`

	// LookaheadMonths bounds the enddate filter on list calls: only records
	// ending within this window are synced.
	LookaheadMonths int `koanf:"lookahead_months" validate:"gte=1,lte=24"`

	// RatePerSecond and RateBurst bound the request rate against the
	// upstream API across all workers.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gt=0"`
	RateBurst     int     `koanf:"rate_burst" validate:"gte=1"`
}

// StoreConfig configures the Badger record store.
type StoreConfig struct {
	Path string `koanf:"path"`

	// InMemory runs Badger without disk persistence. Tests only.
	InMemory bool `koanf:"in_memory"`
}

// IndexConfig configures the DuckDB search index.
type IndexConfig struct {
	Path string `koanf:"path"`
}

// SyncConfig configures scheduling and the task queue.
type SyncConfig struct {
	// Cron expressions, evaluated in UTC.
	Schedule         string `koanf:"schedule" validate:"required"`
	TimedOutSchedule string `koanf:"timed_out_schedule" validate:"required"`
	DeletedSchedule  string `koanf:"deleted_schedule" validate:"required"`

	// QueueBuffer is the gochannel output buffer per topic.
	QueueBuffer int `koanf:"queue_buffer" validate:"gte=1"`

	// RetryMaxRetries bounds per-task retries before a message is routed to
	// the poison queue.
	RetryMaxRetries      int           `koanf:"retry_max_retries" validate:"gte=0"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
}

// APIConfig configures the map query API.
type APIConfig struct {
	// RateLimitRequests per RateLimitWindow, applied per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// MaxLimit caps the per-request result limit.
	MaxLimit int `koanf:"max_limit" validate:"gte=1"`
}

// ConsumerConfig is one API consumer bootstrapped into the registry at
// startup.
type ConsumerConfig struct {
	Key  string `koanf:"key" validate:"required"`
	Name string `koanf:"name" validate:"required"`
}

// defaultConfig returns the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://api.gipod.vlaanderen.be/ws/v1",
			Timeout:         30 * time.Second,
			PageSize:        1000,
			LookaheadMonths: 12,
			RatePerSecond:   10,
			RateBurst:       5,
		},
		Store: StoreConfig{
			Path: "/data/gipod/records",
		},
		Index: IndexConfig{
			Path: "/data/gipod/index.db",
		},
		Sync: SyncConfig{
			Schedule:             "0 4 * * *",
			TimedOutSchedule:     "30 */6 * * *",
			DeletedSchedule:      "0 2 * * *",
			QueueBuffer:          1024,
			RetryMaxRetries:      5,
			RetryInitialInterval: time.Second,
			RetryMaxInterval:     time.Minute,
		},
		API: APIConfig{
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			MaxLimit:          1000,
		},
	}
}

// Validate checks the configuration with go-playground/validator plus the
// cron expressions with gronx.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, expr := range map[string]string{
		"sync.schedule":           c.Sync.Schedule,
		"sync.timed_out_schedule": c.Sync.TimedOutSchedule,
		"sync.deleted_schedule":   c.Sync.DeletedSchedule,
	} {
		if !gronx.IsValid(expr) {
			return fmt.Errorf("invalid cron expression for %s: %q", name, expr)
		}
	}
	return nil
}
