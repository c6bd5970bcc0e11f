// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package cleanup runs the two reconciliation sweeps. The timed-out sweep
// re-projects records whose earliest future period end has passed, expiring
// stale search documents. The deleted sweep diffs the full upstream listing
// against the local store and removes records the upstream no longer serves,
// confirming each candidate with a probe first.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/gipod"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
	"github.com/our-city-app/plugin-gipod/internal/projection"
	"github.com/our-city-app/plugin-gipod/internal/store"
	"github.com/our-city-app/plugin-gipod/internal/sync"
)

// Sweeper implements the timed-out and deleted sweeps.
type Sweeper struct {
	cfg       *config.Config
	client    gipod.Client
	store     *store.Store
	reindexer *projection.Reindexer
	publisher message.Publisher
}

// NewSweeper wires a sweeper. The publisher feeds deletion candidates onto
// the task queue so each one retries independently.
func NewSweeper(cfg *config.Config, client gipod.Client, st *store.Store, reindexer *projection.Reindexer, pub message.Publisher) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		client:    client,
		store:     st,
		reindexer: reindexer,
		publisher: pub,
	}
}

// SweepTimedOut re-projects every record whose cleanup date has passed.
// Re-projection either advances the cleanup date to the next future period
// end or, when none remains, drops the record's search documents and marks
// it invisible. The record itself is kept.
//
// Records are processed as the cleanup index scan yields them, so the sweep
// holds one record in memory at a time no matter how many have expired. An
// error aborts the sweep; work already done is persisted and the next run
// resumes from the remaining expired keys.
func (s *Sweeper) SweepTimedOut(ctx context.Context) error {
	now := time.Now().UTC()

	expired := 0
	err := s.store.ScanTimedOut(now, func(uid string) error {
		record, err := s.store.Get(uid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load timed out record %s: %w", uid, err)
		}
		if err := s.reindexer.Reindex(ctx, record, now); err != nil {
			return err
		}
		metrics.CleanupRecordsExpired.WithLabelValues(record.Kind.String()).Inc()
		expired++
		return nil
	})
	if err != nil {
		return fmt.Errorf("timed-out sweep: %w", err)
	}

	logging.Info().Int("count", expired).Msg("Timed-out sweep finished")
	return nil
}

// SweepDeleted finds records the upstream listing no longer contains and
// schedules a deletion task for each. The listing is walked in full per
// kind; a candidate is only an absence hypothesis until the delete handler
// confirms it with a probe.
func (s *Sweeper) SweepDeleted(ctx context.Context) error {
	endDate := time.Now().UTC().AddDate(0, s.cfg.Upstream.LookaheadMonths, 0)

	for _, kind := range models.Kinds {
		upstream, err := s.listAllUIDs(ctx, kind, endDate)
		if err != nil {
			return err
		}
		local, err := s.store.UIDSet(kind)
		if err != nil {
			return fmt.Errorf("load local %s uid set: %w", kind, err)
		}

		candidates := 0
		for uid := range local {
			if _, ok := upstream[uid]; ok {
				continue
			}
			if err := sync.Publish(s.publisher, sync.TopicCleanupDelete, sync.DeleteTask{UID: uid}); err != nil {
				return err
			}
			candidates++
		}
		logging.Info().
			Str("kind", kind.String()).
			Int("upstream", len(upstream)).
			Int("local", len(local)).
			Int("candidates", candidates).
			Msg("Deleted sweep scheduled")
	}
	return nil
}

// listAllUIDs walks the full upstream listing for one kind. Any page
// failure aborts the sweep: a partial listing would mark live records as
// deletion candidates.
func (s *Sweeper) listAllUIDs(ctx context.Context, kind models.Kind, endDate time.Time) (map[string]struct{}, error) {
	uids := make(map[string]struct{})
	offset := 0
	for {
		items, err := s.client.List(ctx, kind, endDate, s.cfg.Upstream.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list %s page at offset %d: %w", kind, offset, err)
		}
		if len(items) == 0 {
			return uids, nil
		}
		for _, item := range items {
			uids[models.MakeUID(kind, item.GipodID)] = struct{}{}
		}
		offset += len(items)
	}
}

// HandleDelete processes one deletion candidate. The record is only removed
// after the upstream explicitly answers 404 for it; any other answer leaves
// it untouched, erring on the side of keeping data.
func (s *Sweeper) HandleDelete(msg *message.Message) error {
	var task sync.DeleteTask
	if err := decodeDeleteTask(msg, &task); err != nil {
		return err
	}

	record, err := s.store.Get(task.UID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load deletion candidate %s: %w", task.UID, err)
	}

	_, gipodID, err := models.SplitUID(task.UID)
	if err != nil {
		return err
	}

	ctx := msg.Context()
	status, err := s.client.Probe(ctx, record.Kind, gipodID)
	if err != nil {
		return fmt.Errorf("probe %s: %w", task.UID, err)
	}

	switch status {
	case http.StatusNotFound:
		if err := s.reindexer.Remove(ctx, record); err != nil {
			return err
		}
		metrics.CleanupRecordsDeleted.WithLabelValues(record.Kind.String()).Inc()
		logging.Info().Str("uid", task.UID).Msg("Record deleted after upstream removal")
	case http.StatusOK:
		// Still served upstream; the listing diff was stale.
	default:
		logging.Warn().Str("uid", task.UID).Int("status", status).Msg("Inconclusive probe, keeping record")
	}
	return nil
}

func decodeDeleteTask(msg *message.Message, out *sync.DeleteTask) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("decode delete task %s: %w", msg.UUID, err)
	}
	return nil
}
