// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package models

// ItemFilterType selects the temporal filter mode of a map query.
type ItemFilterType string

const (
	// FilterRange matches records whose validity interval intersects the
	// queried window.
	FilterRange ItemFilterType = "range"
	// FilterStartDate matches records whose first start date falls inside
	// the queried window ("what's new since X").
	FilterStartDate ItemFilterType = "start_date"
)

// GeoPoint is a (lat, lon) pair in the client wire format.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MapIcon identifies the pin icon and its color for a map item.
type MapIcon struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// MapGeometryCoords is one closed or open coordinate run of a map geometry.
type MapGeometryCoords struct {
	Coords []GeoPoint `json:"coords"`
}

// MapGeometry is a drawable shape attached to a map item detail.
type MapGeometry struct {
	Type   string              `json:"type"`
	Color  string              `json:"color"`
	Coords []MapGeometryCoords `json:"coords"`
}

// MapItem is a single search hit in the map items response.
type MapItem struct {
	ID          string   `json:"id"`
	Coords      GeoPoint `json:"coords"`
	Icon        MapIcon  `json:"icon"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
}

// MapItemDetailSection is one block of the detail view: plain text, or text
// with an attached geometry (e.g. a diversion line).
type MapItemDetailSection struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Geometry    *MapGeometry `json:"geometry,omitempty"`
}

// MapItemDetail is the expanded view of a single record.
type MapItemDetail struct {
	ID       string                 `json:"id"`
	Geometry []MapGeometry          `json:"geometry"`
	Sections []MapItemDetailSection `json:"sections"`
}

// GetMapItemsResponse is the wire response of POST /items.
type GetMapItemsResponse struct {
	Items    []MapItem `json:"items"`
	Cursor   *string   `json:"cursor"`
	Distance int64     `json:"distance"`
}

// GetNewMapItemsResponse is the wire response of POST /items/new.
type GetNewMapItemsResponse struct {
	IDs    []string `json:"ids"`
	Cursor *string  `json:"cursor"`
}

// GetMapItemDetailsResponse is the wire response of POST /items/detail.
// Records that no longer exist locally are omitted.
type GetMapItemDetailsResponse struct {
	Items []MapItemDetail `json:"items"`
}
