// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package geometry cleans GeoJSON-like geometry trees coming from the GIPOD
// open-data API. Upstream coordinates carry up to 16 decimal digits of
// floating-point noise; rounding to 6 digits (~0.11 m) bounds storage size
// without losing useful precision.
package geometry

import (
	"math"

	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
)

// Recognized GeoJSON geometry types.
const (
	TypePoint              = "Point"
	TypeLineString         = "LineString"
	TypeMultiLineString    = "MultiLineString"
	TypePolygon            = "Polygon"
	TypeMultiPolygon       = "MultiPolygon"
	TypeGeometryCollection = "GeometryCollection"
)

// Geometry is a GeoJSON geometry object. Coordinates stays raw JSON so the
// exact tree shape survives a decode/encode round trip; Geometries is only
// set for GeometryCollection.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometries  []Geometry      `json:"geometries,omitempty"`
}

// Round6 rounds a coordinate to 6 decimal digits. Idempotent.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Normalize recursively rounds every coordinate in the geometry tree to
// 6 decimal digits. The tree shape is preserved exactly; coordinates are
// never reordered or dropped.
//
// Unrecognized geometry types are a data-quality anomaly, not an error: they
// are logged and left untouched so a malformed shape never blocks the sync
// of an otherwise valid record.
func Normalize(g *Geometry, uid string) {
	if g == nil {
		return
	}

	switch g.Type {
	case TypePoint:
		g.Coordinates = roundCoordinates[[]float64](g.Coordinates, g.Type, uid)
	case TypeLineString:
		g.Coordinates = roundCoordinates[[][]float64](g.Coordinates, g.Type, uid)
	case TypeMultiLineString, TypePolygon:
		g.Coordinates = roundCoordinates[[][][]float64](g.Coordinates, g.Type, uid)
	case TypeMultiPolygon:
		g.Coordinates = roundCoordinates[[][][][]float64](g.Coordinates, g.Type, uid)
	case TypeGeometryCollection:
		for i := range g.Geometries {
			Normalize(&g.Geometries[i], uid)
		}
	default:
		logging.Warn().Str("type", g.Type).Str("uid", uid).Msg("Unknown geometry type, leaving untouched")
		metrics.GeometryAnomalies.WithLabelValues(g.Type).Inc()
	}
}

// coordinateTree is any nesting level of coordinate arrays that GeoJSON uses.
type coordinateTree interface {
	[]float64 | [][]float64 | [][][]float64 | [][][][]float64
}

// roundCoordinates decodes raw coordinates into the expected nesting for the
// geometry type, rounds every number and re-encodes. A decode failure means
// the upstream payload does not match its declared type; the raw value is
// kept as-is in that case.
func roundCoordinates[T coordinateTree](raw json.RawMessage, geomType, uid string) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var coords T
	if err := json.Unmarshal(raw, &coords); err != nil {
		logging.Warn().Err(err).Str("type", geomType).Str("uid", uid).Msg("Coordinates do not match geometry type, leaving untouched")
		metrics.GeometryAnomalies.WithLabelValues(geomType).Inc()
		return raw
	}

	roundTree(any(coords))

	rounded, err := json.Marshal(coords)
	if err != nil {
		return raw
	}
	return rounded
}

func roundTree(coords any) {
	switch c := coords.(type) {
	case []float64:
		for i := range c {
			c[i] = Round6(c[i])
		}
	case [][]float64:
		for i := range c {
			roundTree(c[i])
		}
	case [][][]float64:
		for i := range c {
			roundTree(c[i])
		}
	case [][][][]float64:
		for i := range c {
			roundTree(c[i])
		}
	}
}
