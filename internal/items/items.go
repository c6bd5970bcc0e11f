// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package items renders stored records into the map wire format: pin items
// for the overview, detail views with outline polygons, period texts,
// hindrance and diversion sections. User-facing strings are Dutch, matching
// the Flemish municipal apps this service feeds.
package items

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/geometry"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// Pin colors. Work assignments split on hindrance importance; all
// manifestations share one color and vary by icon.
const (
	colorImportant     = "#f10812"
	colorNonImportant  = "#eeb309"
	colorManifestation = "#263583"

	colorOutline   = "#FF0000"
	colorDiversion = "#00FF00"
)

// manifestationIcons maps the upstream eventType to a pin icon id.
var manifestationIcons = map[string]string{
	"(Werf)kraan":                          "crane",
	"Andere":                               "other",
	"Betoging":                             "manifestation",
	"Container/Werfkeet":                   "container",
	"Feest/Kermis":                         "balloon",
	"Markt":                                "basket",
	"Speelstraat":                          "play_street",
	"Sportwedstrijd":                       "cup",
	"Stelling":                             "ladder",
	"Terras":                               "glass_martini",
	"Verhuislift":                          "moving_lift",
	"Wielerwedstrijd - gesloten criterium": "cycling_circle",
	"Wielerwedstrijd - open criterium":     "cycling_line",
}

// detailPeriodLimit caps how many future periods the detail view lists.
const detailPeriodLimit = 3

// Period is a resolved (start, end) pair attached to a search hit, carried
// from the index into the item description.
type Period struct {
	Start time.Time
	End   time.Time
}

// Icon returns the pin icon for a record. Unknown manifestation types fall
// back to the generic icon.
func Icon(record *models.Record) models.MapIcon {
	switch record.Kind {
	case models.KindWorkAssignment:
		if record.Data.Hindrance != nil && record.Data.Hindrance.Important {
			return models.MapIcon{ID: "important", Color: colorImportant}
		}
		return models.MapIcon{ID: "non_important", Color: colorNonImportant}
	case models.KindManifestation:
		if id, ok := manifestationIcons[record.Data.EventType]; ok {
			return models.MapIcon{ID: id, Color: colorManifestation}
		}
		if record.Data.EventType != "" {
			logging.Error().Str("event_type", record.Data.EventType).Str("uid", record.UID).Msg("Unknown manifestation type")
		}
		return models.MapIcon{ID: "other", Color: colorManifestation}
	}
	return models.MapIcon{ID: "other", Color: colorManifestation}
}

// ToMapItem renders one record as a map pin. periods are the matched search
// documents for this record; they drive the description text. ok is false
// when the record has no usable coordinate.
func ToMapItem(record *models.Record, periods []Period) (models.MapItem, bool) {
	lat, lon, ok := record.Data.Location.LatLon()
	if !ok {
		logging.Warn().Str("uid", record.UID).Msg("Record without coordinate in search results")
		return models.MapItem{}, false
	}

	var lines []string
	for _, p := range periods {
		if sameDay(p.Start, p.End) {
			lines = append(lines, fmt.Sprintf("Op %s", p.Start.Format("02/01")))
		} else {
			lines = append(lines, fmt.Sprintf("Van %s tot %s", p.Start.Format("02/01"), p.End.Format("02/01")))
		}
	}
	if len(lines) > 0 && record.Data.Hindrance != nil && len(record.Data.Hindrance.Effects) > 0 {
		lines = append(lines, "")
		lines = append(lines, record.Data.Hindrance.Effects...)
	}

	return models.MapItem{
		ID:          record.UID,
		Coords:      models.GeoPoint{Lat: lat, Lon: lon},
		Icon:        Icon(record),
		Title:       record.Data.Description,
		Description: strings.Join(lines, "\n"),
	}, true
}

// ToMapItemDetail renders the expanded view of one record: the outline
// geometry, the upcoming periods, the hindrance text and one section per
// diversion.
func ToMapItemDetail(record *models.Record, now time.Time) models.MapItemDetail {
	detail := models.MapItemDetail{
		ID:       record.UID,
		Geometry: []models.MapGeometry{},
		Sections: []models.MapItemDetailSection{},
	}

	if outline := outlineGeometry(record); outline != nil {
		detail.Geometry = append(detail.Geometry, *outline)
	}

	if section := periodsSection(record, now); section != nil {
		detail.Sections = append(detail.Sections, *section)
	}

	if record.Data.Hindrance != nil && len(record.Data.Hindrance.Effects) > 0 {
		detail.Sections = append(detail.Sections, models.MapItemDetailSection{
			Title:       "Hinder",
			Description: strings.Join(record.Data.Hindrance.Effects, "\n"),
		})
	}

	for i, diversion := range record.Data.Diversions {
		detail.Sections = append(detail.Sections, diversionSection(record.UID, i, &diversion))
	}

	return detail
}

// outlineGeometry flattens the record's Polygon or MultiPolygon outline into
// the drawable wire shape. Other geometry types are logged and skipped.
func outlineGeometry(record *models.Record) *models.MapGeometry {
	g := record.Data.Location.Geometry
	if g == nil {
		return nil
	}

	switch g.Type {
	case geometry.TypePolygon:
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			logging.Warn().Err(err).Str("uid", record.UID).Msg("Malformed polygon outline")
			return nil
		}
		// All rings of the polygon collapse into a single coordinate run.
		run := models.MapGeometryCoords{}
		for _, ring := range rings {
			appendPoints(&run, ring)
		}
		return &models.MapGeometry{
			Type:   geometry.TypePolygon,
			Color:  colorOutline,
			Coords: []models.MapGeometryCoords{run},
		}

	case geometry.TypeMultiPolygon:
		var polygons [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polygons); err != nil {
			logging.Warn().Err(err).Str("uid", record.UID).Msg("Malformed multipolygon outline")
			return nil
		}
		var runs []models.MapGeometryCoords
		for _, polygon := range polygons {
			run := models.MapGeometryCoords{}
			for _, ring := range polygon {
				appendPoints(&run, ring)
			}
			if len(run.Coords) > 0 {
				runs = append(runs, run)
			}
		}
		return &models.MapGeometry{
			Type:   geometry.TypeMultiPolygon,
			Color:  colorOutline,
			Coords: runs,
		}

	default:
		logging.Error().Str("type", g.Type).Str("uid", record.UID).Msg("Unknown outline geometry type")
		return nil
	}
}

// periodsSection lists the record's upcoming periods, soonest first. For
// manifestations only periods ending today or later count, capped at
// detailPeriodLimit; a work assignment's single interval is always shown.
func periodsSection(record *models.Record, now time.Time) *models.MapItemDetailSection {
	today := now.UTC().Truncate(24 * time.Hour)

	var periods []Period
	switch record.Kind {
	case models.KindWorkAssignment:
		for _, p := range record.AllPeriods() {
			periods = append(periods, Period{Start: p.StartDateTime.Time, End: p.EndDateTime.Time})
		}
	case models.KindManifestation:
		for _, p := range record.Data.Periods {
			if p.EndDateTime.Before(today) {
				continue
			}
			periods = append(periods, Period{Start: p.StartDateTime.Time, End: p.EndDateTime.Time})
			if len(periods) == detailPeriodLimit {
				break
			}
		}
	}
	if len(periods) == 0 {
		return nil
	}

	sortPeriods(periods)
	lines := make([]string, 0, len(periods))
	for _, p := range periods {
		lines = append(lines, fmt.Sprintf("Van %s tot %s", detailDate(p.Start), detailDate(p.End)))
	}
	return &models.MapItemDetailSection{Description: strings.Join(lines, "\n")}
}

// diversionSection renders one signposted detour: its validity, alternate
// streets and line geometry.
func diversionSection(uid string, i int, d *models.Diversion) models.MapItemDetailSection {
	var parts []string
	if len(d.DiversionTypes) > 0 {
		parts = append(parts, "Deze omleiding is geldig voor:\n"+strings.Join(d.DiversionTypes, "\n"))
	}
	if len(d.Streets) > 0 {
		parts = append(parts, "U kan ook volgende straten volgen:\n"+strings.Join(d.Streets, "\n"))
	}

	section := models.MapItemDetailSection{
		Title:       fmt.Sprintf("Omleiding %d", i+1),
		Description: strings.Join(parts, "\n"),
	}

	if d.Geometry != nil {
		if d.Geometry.Type == geometry.TypeLineString {
			var points [][]float64
			if err := json.Unmarshal(d.Geometry.Coordinates, &points); err == nil {
				run := models.MapGeometryCoords{}
				appendPoints(&run, points)
				if len(run.Coords) > 0 {
					section.Geometry = &models.MapGeometry{
						Type:   geometry.TypeLineString,
						Color:  colorDiversion,
						Coords: []models.MapGeometryCoords{run},
					}
				}
			}
		} else {
			logging.Error().Str("type", d.Geometry.Type).Str("uid", uid).Msg("Unknown diversion geometry type")
		}
	}
	return section
}

// appendPoints converts GeoJSON (lon, lat) pairs into wire points.
func appendPoints(run *models.MapGeometryCoords, points [][]float64) {
	for _, c := range points {
		if len(c) < 2 {
			continue
		}
		run.Coords = append(run.Coords, models.GeoPoint{Lat: c[1], Lon: c[0]})
	}
}

// detailDate renders "dd/mm" or "dd/mm hh:mm" when the timestamp has a time
// of day.
func detailDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("02/01")
	}
	return t.Format("02/01 15:04")
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sortPeriods(periods []Period) {
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Start.Before(periods[j].Start)
	})
}
