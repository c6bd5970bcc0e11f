// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(uid string, cleanupDate *time.Time) *models.Record {
	kind, gipodID, _ := models.SplitUID(uid)
	return &models.Record{
		UID:         uid,
		Kind:        kind,
		Data:        models.ItemData{GipodID: gipodID, Description: "Wegenwerken " + uid},
		CleanupDate: cleanupDate,
		Visible:     cleanupDate != nil,
	}
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	cleanup := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(testRecord("w-1", &cleanup)))

	got, err := s.Get("w-1")
	require.NoError(t, err)
	assert.Equal(t, "w-1", got.UID)
	assert.Equal(t, models.KindWorkAssignment, got.Kind)
	require.NotNil(t, got.CleanupDate)
	assert.True(t, got.CleanupDate.Equal(cleanup))

	_, err = s.Get("w-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchGetOmitsMissing(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(testRecord("w-1", nil)))
	require.NoError(t, s.Put(testRecord("m-2", nil)))

	records, err := s.BatchGet([]string{"w-1", "w-99", "m-2"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "w-1", records[0].UID)
	assert.Equal(t, "m-2", records[1].UID)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	cleanup := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(testRecord("w-1", &cleanup)))

	require.NoError(t, s.Delete([]string{"w-1", "w-99"}))

	_, err := s.Get("w-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The cleanup index entry must be gone too.
	var timedOut []string
	require.NoError(t, s.ScanTimedOut(cleanup.Add(time.Hour), func(uid string) error {
		timedOut = append(timedOut, uid)
		return nil
	}))
	assert.Empty(t, timedOut)
}

func TestScanTimedOutOrderAndCutoff(t *testing.T) {
	s := openTestStore(t)

	d1 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	d3 := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(testRecord("m-3", &d3)))
	require.NoError(t, s.Put(testRecord("w-1", &d2)))
	require.NoError(t, s.Put(testRecord("w-2", &d1)))

	var uids []string
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.ScanTimedOut(now, func(uid string) error {
		uids = append(uids, uid)
		return nil
	}))

	// Expired records only, cleanup date ascending.
	assert.Equal(t, []string{"w-2", "w-1"}, uids)
}

func TestPutReplacesCleanupIndex(t *testing.T) {
	s := openTestStore(t)

	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(testRecord("w-1", &d1)))
	require.NoError(t, s.Put(testRecord("w-1", &d2)))

	var uids []string
	require.NoError(t, s.ScanTimedOut(d1.Add(24*time.Hour), func(uid string) error {
		uids = append(uids, uid)
		return nil
	}))
	// Old index entry removed; the record only expires at its new date.
	assert.Empty(t, uids)

	uids = nil
	require.NoError(t, s.ScanTimedOut(d2.Add(24*time.Hour), func(uid string) error {
		uids = append(uids, uid)
		return nil
	}))
	assert.Equal(t, []string{"w-1"}, uids)
}

func TestUIDSet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(testRecord("w-1", nil)))
	require.NoError(t, s.Put(testRecord("w-2", nil)))
	require.NoError(t, s.Put(testRecord("m-1", nil)))

	uids, err := s.UIDSet(models.KindWorkAssignment)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"w-1": {}, "w-2": {}}, uids)
}

func TestScanKind(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(testRecord("m-1", nil)))
	require.NoError(t, s.Put(testRecord("w-1", nil)))

	var seen []string
	require.NoError(t, s.ScanKind(models.KindManifestation, func(r *models.Record) error {
		seen = append(seen, r.UID)
		return nil
	}))
	assert.Equal(t, []string{"m-1"}, seen)
}

func TestAdvanceWatermark(t *testing.T) {
	s := openTestStore(t)

	first := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	previous, err := s.AdvanceWatermark(first)
	require.NoError(t, err)
	assert.Nil(t, previous, "first run has no previous watermark")

	second := first.Add(24 * time.Hour)
	previous, err = s.AdvanceWatermark(second)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.True(t, previous.Equal(first))

	current, err := s.Watermark()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.True(t, current.Equal(second))
}

func TestWatermarkEmpty(t *testing.T) {
	s := openTestStore(t)
	wm, err := s.Watermark()
	require.NoError(t, err)
	assert.Nil(t, wm)
}
