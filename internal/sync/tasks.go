// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package sync

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/our-city-app/plugin-gipod/internal/models"
)

// Task queue topics. Every unit of sync work is one message; the router's
// retry middleware re-runs failed units without restarting the whole sync.
const (
	// TopicSyncPage carries one list-page fetch per message.
	TopicSyncPage = "gipod.sync.page"

	// TopicSyncUpdate carries one record refresh per message.
	TopicSyncUpdate = "gipod.sync.update"

	// TopicCleanupDelete carries one deletion candidate per message.
	TopicCleanupDelete = "gipod.cleanup.delete"

	// TopicPoison receives messages that exhausted their retries.
	TopicPoison = "gipod.poison"
)

// PageTask asks for one page of the upstream list endpoint. A non-empty
// page re-enqueues itself with the offset advanced, so a sync run walks the
// full listing one message at a time.
type PageTask struct {
	Kind    models.Kind `json:"kind"`
	Offset  int         `json:"offset"`
	EndDate time.Time   `json:"end_date"`

	// Watermark is the synced-until timestamp captured when the run was
	// triggered. Nil means first run: every listed record is refreshed
	// unconditionally.
	Watermark *time.Time `json:"watermark,omitempty"`
}

// UpdateTask asks for one record to be fetched, normalized and re-indexed.
type UpdateTask struct {
	Kind    models.Kind `json:"kind"`
	GipodID int64       `json:"gipod_id"`

	// SkipIfExists marks records not updated since the watermark: they are
	// only fetched when missing locally.
	SkipIfExists bool `json:"skip_if_exists,omitempty"`
}

// DeleteTask asks for one locally-known record, absent from the upstream
// listing, to be confirmed gone and removed.
type DeleteTask struct {
	UID string `json:"uid"`
}

// Publish marshals a task payload and publishes it on the given topic.
func Publish(pub message.Publisher, topic string, task any) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal %s task: %w", topic, err)
	}
	if err := pub.Publish(topic, message.NewMessage(uuid.NewString(), payload)); err != nil {
		return fmt.Errorf("publish %s task: %w", topic, err)
	}
	return nil
}

func decodeTask(msg *message.Message, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("decode task %s: %w", msg.UUID, err)
	}
	return nil
}
