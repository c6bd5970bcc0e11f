// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/logging"
)

// Consumer is one registered API client. Requests must present the key in
// the consumer_key header.
type Consumer struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetConsumer looks up a consumer by key, returning ErrNotFound for unknown
// keys.
func (s *Store) GetConsumer(key string) (*Consumer, error) {
	var consumer Consumer
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, []byte(consumerKeyPrefix+key), &consumer)
	})
	if err != nil {
		return nil, err
	}
	return &consumer, nil
}

// PutConsumer registers or updates a consumer.
func (s *Store) PutConsumer(consumer *Consumer) error {
	data, err := json.Marshal(consumer)
	if err != nil {
		return fmt.Errorf("marshal consumer %s: %w", consumer.Name, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(consumerKeyPrefix+consumer.Key), data)
	})
}

// BootstrapConsumers registers the consumers from configuration, keeping
// creation timestamps of already-known keys.
func (s *Store) BootstrapConsumers(consumers []config.ConsumerConfig) error {
	for _, c := range consumers {
		existing, err := s.GetConsumer(c.Key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			if existing.Name != c.Name {
				existing.Name = c.Name
				if err := s.PutConsumer(existing); err != nil {
					return err
				}
			}
			continue
		}
		consumer := &Consumer{Key: c.Key, Name: c.Name, CreatedAt: time.Now().UTC()}
		if err := s.PutConsumer(consumer); err != nil {
			return err
		}
		logging.Info().Str("name", c.Name).Msg("Registered API consumer")
	}
	return nil
}
