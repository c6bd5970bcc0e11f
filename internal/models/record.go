// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package models defines the record types shared by the sync pipeline, the
// record store, the search index and the map query API.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/geometry"
)

// Kind discriminates the two record variants served by GIPOD.
type Kind string

const (
	// KindWorkAssignment tags roadworks records ("w").
	KindWorkAssignment Kind = "w"
	// KindManifestation tags event records ("m").
	KindManifestation Kind = "m"
)

// Kinds lists all record kinds in sync order.
var Kinds = []Kind{KindWorkAssignment, KindManifestation}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindWorkAssignment || k == KindManifestation
}

// String returns the one-letter kind tag.
func (k Kind) String() string { return string(k) }

// MakeUID builds the composite record key {kind}-{gipodId}. The mapping is
// stable: the same upstream id and kind always yield the same uid.
func MakeUID(kind Kind, gipodID int64) string {
	return fmt.Sprintf("%s-%d", kind, gipodID)
}

// SplitUID parses a uid back into kind and upstream id. Search document ids
// carry an extra per-period suffix ({kind}-{id}-{n}); the suffix is ignored
// so callers can feed document ids straight back in.
func SplitUID(uid string) (Kind, int64, error) {
	parts := strings.Split(uid, "-")
	if len(parts) != 2 && len(parts) != 3 {
		return "", 0, fmt.Errorf("malformed uid %q", uid)
	}
	kind := Kind(parts[0])
	if !kind.Valid() {
		return "", 0, fmt.Errorf("unknown kind in uid %q", uid)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed gipod id in uid %q: %w", uid, err)
	}
	return kind, id, nil
}

// GipodTime wraps time.Time with the timezone-less layout the GIPOD API
// uses ("2006-01-02T15:04:05", optionally with fractional seconds). Values
// are interpreted as UTC.
type GipodTime struct {
	time.Time
}

const gipodTimeLayout = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON parses both "2020-01-02T03:04:05" and
// "2020-01-02T03:04:05.123456".
func (t *GipodTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(gipodTimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("parse gipod time %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON formats without fractional seconds, matching the upstream
// canonical form.
func (t GipodTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format("2006-01-02T15:04:05"))
}

// ListItem is a summary entry from the paginated list endpoints.
type ListItem struct {
	GipodID      int64     `json:"gipodId"`
	LatestUpdate GipodTime `json:"latestUpdate"`
	Description  string    `json:"description,omitempty"`
}

// Period is one (start, end) interval during which a record is active.
type Period struct {
	StartDateTime GipodTime `json:"startDateTime"`
	EndDateTime   GipodTime `json:"endDateTime"`
}

// Location carries the representative coordinate plus the full outline
// geometry of a record. Coordinate is a GeoJSON Point in (lon, lat) order.
type Location struct {
	Coordinate *geometry.Geometry `json:"coordinate,omitempty"`
	Geometry   *geometry.Geometry `json:"geometry,omitempty"`
}

// LatLon returns the representative coordinate as (lat, lon). ok is false
// when the coordinate is missing or not a valid point.
func (l *Location) LatLon() (lat, lon float64, ok bool) {
	if l == nil || l.Coordinate == nil || l.Coordinate.Type != geometry.TypePoint {
		return 0, 0, false
	}
	var coords []float64
	if err := json.Unmarshal(l.Coordinate.Coordinates, &coords); err != nil || len(coords) < 2 {
		return 0, 0, false
	}
	// GeoJSON point order is (lon, lat)
	return coords[1], coords[0], true
}

// Hindrance describes the traffic impact of a record.
type Hindrance struct {
	Important   bool     `json:"important,omitempty"`
	Description string   `json:"description,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	Effects     []string `json:"effects,omitempty"`
}

// Diversion is one signposted detour attached to a record.
type Diversion struct {
	Reference      string             `json:"reference,omitempty"`
	DiversionTypes []string           `json:"diversionTypes,omitempty"`
	Streets        []string           `json:"streets,omitempty"`
	Geometry       *geometry.Geometry `json:"geometry,omitempty"`
}

// ItemData is the detail payload of a record as served by the GIPOD detail
// endpoints. It is replaced wholesale on every sync. Kind-specific fields:
// work assignments carry StartDateTime/EndDateTime, manifestations carry
// EventType and Periods.
type ItemData struct {
	GipodID        int64           `json:"gipodId"`
	Description    string          `json:"description,omitempty"`
	Comment        string          `json:"comment,omitempty"`
	Owner          string          `json:"owner,omitempty"`
	EventType      string          `json:"eventType,omitempty"`
	Location       Location        `json:"location"`
	StartDateTime  *GipodTime      `json:"startDateTime,omitempty"`
	EndDateTime    *GipodTime      `json:"endDateTime,omitempty"`
	Periods        []Period        `json:"periods,omitempty"`
	Hindrance      *Hindrance      `json:"hindrance,omitempty"`
	Diversions     []Diversion     `json:"diversions,omitempty"`
	ContactDetails json.RawMessage `json:"contactDetails,omitempty"`
	LatestUpdate   *GipodTime      `json:"latestUpdate,omitempty"`
}

// Record is a locally stored work assignment or manifestation.
type Record struct {
	UID  string   `json:"uid"`
	Kind Kind     `json:"kind"`
	Data ItemData `json:"data"`

	// CleanupDate is the earliest future period end; nil when no future
	// period exists. Recomputed on every re-index.
	CleanupDate *time.Time `json:"cleanup_date,omitempty"`

	// SearchKeys are the document ids of the record's latest projection.
	// The index replaces documents by uid, so these are informational.
	SearchKeys []string `json:"search_keys,omitempty"`

	// Visible is true iff at least one non-expired period exists.
	Visible bool `json:"visible"`
}

// AllPeriods returns the record's period list regardless of expiry: the
// single start/end pair for a work assignment, the period list for a
// manifestation.
func (r *Record) AllPeriods() []Period {
	switch r.Kind {
	case KindWorkAssignment:
		if r.Data.StartDateTime == nil || r.Data.EndDateTime == nil {
			return nil
		}
		return []Period{{StartDateTime: *r.Data.StartDateTime, EndDateTime: *r.Data.EndDateTime}}
	case KindManifestation:
		return r.Data.Periods
	}
	return nil
}
