// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package projection derives search-index documents from records and keeps
// the record store and the search index in step. The store is the source of
// truth; the index always lags it by at most one failed (and retried)
// replace.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/our-city-app/plugin-gipod/internal/index"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/models"
	"github.com/our-city-app/plugin-gipod/internal/store"
)

// Project recomputes a record's index documents from its current data and
// returns the full document set that should replace whatever the index
// holds for the record's uid. The record itself is mutated in place
// (CleanupDate, SearchKeys, Visible).
//
// Future periods (end after now) each become one document; work assignments
// use the bare uid as document id, manifestation periods get a positional
// suffix. A record with no future periods becomes invisible: its document
// set is empty and its cleanup date cleared. Otherwise the cleanup date is
// the earliest future period end.
//
// Project is idempotent: running it twice against unchanged data yields the
// same record state and the same document set.
func Project(record *models.Record, now time.Time) []index.Document {
	record.CleanupDate = nil
	record.SearchKeys = nil
	record.Visible = false

	lat, lon, hasCoordinate := record.Data.Location.LatLon()

	var docs []index.Document
	var earliestEnd *time.Time
	for i, period := range record.AllPeriods() {
		start, end := period.StartDateTime.Time, period.EndDateTime.Time
		if start.IsZero() || end.IsZero() || !end.After(now) {
			continue
		}
		if earliestEnd == nil || end.Before(*earliestEnd) {
			e := end
			earliestEnd = &e
		}
		if !hasCoordinate {
			continue
		}
		docID := record.UID
		if record.Kind == models.KindManifestation {
			docID = fmt.Sprintf("%s-%d", record.UID, i)
		}
		record.SearchKeys = append(record.SearchKeys, docID)
		docs = append(docs, index.Document{
			DocID:     docID,
			UID:       record.UID,
			Lat:       lat,
			Lon:       lon,
			StartDate: start,
			EndDate:   end,
		})
	}

	if earliestEnd != nil {
		record.CleanupDate = earliestEnd
		record.Visible = true
	}
	if record.Visible && !hasCoordinate {
		logging.Warn().Str("uid", record.UID).Msg("Record has active periods but no coordinate")
	}

	return docs
}

// Reindexer persists a record and applies its projection to the search
// index, store first. An index failure is returned to the caller so the
// task can retry; the index replace keys off the record's uid, so a retry
// clears whatever generation the index holds, which heals any partial
// state.
type Reindexer struct {
	store *store.Store
	index index.Index
}

// NewReindexer wires a reindexer over the given store and index.
func NewReindexer(s *store.Store, idx index.Index) *Reindexer {
	return &Reindexer{store: s, index: idx}
}

// Reindex projects the record, writes it to the store and replaces its
// document set in the search index.
func (r *Reindexer) Reindex(ctx context.Context, record *models.Record, now time.Time) error {
	docs := Project(record, now)
	if err := r.store.Put(record); err != nil {
		return fmt.Errorf("store record %s: %w", record.UID, err)
	}
	if err := r.index.Replace(ctx, record.UID, docs); err != nil {
		return fmt.Errorf("index record %s: %w", record.UID, err)
	}
	return nil
}

// Remove deletes a record and its index documents after upstream confirmed
// the item is gone.
func (r *Reindexer) Remove(ctx context.Context, record *models.Record) error {
	if err := r.index.Delete(ctx, record.UID); err != nil {
		return fmt.Errorf("deindex record %s: %w", record.UID, err)
	}
	if err := r.store.Delete([]string{record.UID}); err != nil {
		return fmt.Errorf("delete record %s: %w", record.UID, err)
	}
	return nil
}
