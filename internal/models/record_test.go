// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/our-city-app/plugin-gipod/internal/geometry"
)

func TestMakeUID(t *testing.T) {
	assert.Equal(t, "w-123", MakeUID(KindWorkAssignment, 123))
	assert.Equal(t, "m-9000000", MakeUID(KindManifestation, 9000000))
}

func TestSplitUID(t *testing.T) {
	tests := []struct {
		name    string
		uid     string
		kind    Kind
		gipodID int64
		wantErr bool
	}{
		{name: "work assignment", uid: "w-123", kind: KindWorkAssignment, gipodID: 123},
		{name: "manifestation", uid: "m-456", kind: KindManifestation, gipodID: 456},
		{name: "document id with period suffix", uid: "m-123-2", kind: KindManifestation, gipodID: 123},
		{name: "unknown kind", uid: "x-123", wantErr: true},
		{name: "no separator", uid: "w123", wantErr: true},
		{name: "non numeric id", uid: "w-abc", wantErr: true},
		{name: "too many parts", uid: "m-1-2-3", wantErr: true},
		{name: "empty", uid: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, err := SplitUID(tt.uid)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.gipodID, id)
		})
	}
}

func TestGipodTimeUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "plain", in: `"2020-03-01T08:30:00"`, want: time.Date(2020, 3, 1, 8, 30, 0, 0, time.UTC)},
		{name: "fractional seconds", in: `"2020-03-01T08:30:00.123456"`, want: time.Date(2020, 3, 1, 8, 30, 0, 123456000, time.UTC)},
		{name: "empty", in: `""`, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gt GipodTime
			require.NoError(t, json.Unmarshal([]byte(tt.in), &gt))
			assert.True(t, gt.Equal(tt.want), "got %v want %v", gt.Time, tt.want)
		})
	}

	var gt GipodTime
	assert.Error(t, json.Unmarshal([]byte(`"03/01/2020"`), &gt))
}

func TestGipodTimeMarshal(t *testing.T) {
	gt := GipodTime{Time: time.Date(2020, 3, 1, 8, 30, 0, 123456000, time.UTC)}
	data, err := json.Marshal(gt)
	require.NoError(t, err)
	assert.Equal(t, `"2020-03-01T08:30:00"`, string(data))
}

func TestLocationLatLon(t *testing.T) {
	loc := &Location{Coordinate: &geometry.Geometry{
		Type:        geometry.TypePoint,
		Coordinates: json.RawMessage(`[4.35, 50.85]`),
	}}
	lat, lon, ok := loc.LatLon()
	require.True(t, ok)
	// GeoJSON stores (lon, lat); LatLon flips the order.
	assert.Equal(t, 50.85, lat)
	assert.Equal(t, 4.35, lon)

	_, _, ok = (&Location{}).LatLon()
	assert.False(t, ok)

	_, _, ok = (*Location)(nil).LatLon()
	assert.False(t, ok)

	_, _, ok = (&Location{Coordinate: &geometry.Geometry{Type: geometry.TypePolygon}}).LatLon()
	assert.False(t, ok)
}

func TestRecordAllPeriods(t *testing.T) {
	start := GipodTime{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	end := GipodTime{Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}

	w := &Record{Kind: KindWorkAssignment, Data: ItemData{StartDateTime: &start, EndDateTime: &end}}
	require.Len(t, w.AllPeriods(), 1)
	assert.Equal(t, start, w.AllPeriods()[0].StartDateTime)

	incomplete := &Record{Kind: KindWorkAssignment, Data: ItemData{StartDateTime: &start}}
	assert.Empty(t, incomplete.AllPeriods())

	m := &Record{Kind: KindManifestation, Data: ItemData{Periods: []Period{
		{StartDateTime: start, EndDateTime: end},
		{StartDateTime: end, EndDateTime: end},
	}}}
	assert.Len(t, m.AllPeriods(), 2)
}
