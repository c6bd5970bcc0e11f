// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/index"
	"github.com/our-city-app/plugin-gipod/internal/items"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// itemsRequest is the shared body of POST /items and /items/new. Pointer
// fields distinguish "absent" from zero; any absent or malformed required
// field fails empty.
type itemsRequest struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Distance *int64   `json:"distance"`
	Start    string   `json:"start"`
	End      string   `json:"end,omitempty"`
	Limit    *int     `json:"limit"`
	Cursor   string   `json:"cursor,omitempty"`
}

// itemsQuery is a validated items request.
type itemsQuery struct {
	lat, lon float64
	distance int64
	start    time.Time
	end      *time.Time
	limit    int
	cursor   string
}

// handleItems serves POST /plugins/gipod/items: records active within the
// queried window around a point, rendered as map pins.
func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseItemsRequest(r)
	if !ok {
		metrics.QueryRequests.WithLabelValues("items", "empty").Inc()
		writeJSON(w, models.GetMapItemsResponse{Items: []models.MapItem{}})
		return
	}

	hits, cursor, err := h.index.Search(r.Context(), index.Query{
		Lat:            q.lat,
		Lon:            q.lon,
		DistanceMeters: q.distance,
		Start:          q.start,
		End:            q.end,
		Filter:         models.FilterRange,
		Cursor:         q.cursor,
		Limit:          q.limit,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Items search failed")
		metrics.QueryRequests.WithLabelValues("items", "empty").Inc()
		writeJSON(w, models.GetMapItemsResponse{Items: []models.MapItem{}, Distance: q.distance})
		return
	}

	uids, extras := collectHits(hits)
	records, err := h.store.BatchGet(uids)
	if err != nil {
		logging.Error().Err(err).Msg("Record lookup failed")
		metrics.QueryRequests.WithLabelValues("items", "empty").Inc()
		writeJSON(w, models.GetMapItemsResponse{Items: []models.MapItem{}, Distance: q.distance})
		return
	}

	result := make([]models.MapItem, 0, len(records))
	for _, record := range records {
		if item, ok := items.ToMapItem(record, extras[record.UID]); ok {
			result = append(result, item)
		}
	}

	metrics.QueryRequests.WithLabelValues("items", "ok").Inc()
	writeJSON(w, models.GetMapItemsResponse{Items: result, Cursor: cursor, Distance: q.distance})
}

// handleNewItems serves POST /plugins/gipod/items/new: ids of records whose
// first start date falls inside the queried window.
func (h *Handler) handleNewItems(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseItemsRequest(r)
	if !ok {
		metrics.QueryRequests.WithLabelValues("items_new", "empty").Inc()
		writeJSON(w, models.GetNewMapItemsResponse{IDs: []string{}})
		return
	}

	hits, cursor, err := h.index.Search(r.Context(), index.Query{
		Lat:            q.lat,
		Lon:            q.lon,
		DistanceMeters: q.distance,
		Start:          q.start,
		End:            q.end,
		Filter:         models.FilterStartDate,
		Cursor:         q.cursor,
		Limit:          q.limit,
	})
	if err != nil {
		logging.Error().Err(err).Msg("New items search failed")
		metrics.QueryRequests.WithLabelValues("items_new", "empty").Inc()
		writeJSON(w, models.GetNewMapItemsResponse{IDs: []string{}})
		return
	}

	uids, _ := collectHits(hits)
	metrics.QueryRequests.WithLabelValues("items_new", "ok").Inc()
	writeJSON(w, models.GetNewMapItemsResponse{IDs: uids, Cursor: cursor})
}

// detailsRequest is the body of POST /items/detail.
type detailsRequest struct {
	IDs []string `json:"ids"`
}

// handleItemDetails serves POST /plugins/gipod/items/detail. Ids that are
// malformed or no longer stored are omitted from the response.
func (h *Handler) handleItemDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		metrics.QueryRequests.WithLabelValues("items_detail", "empty").Inc()
		writeJSON(w, models.GetMapItemDetailsResponse{Items: []models.MapItemDetail{}})
		return
	}

	var uids []string
	seen := make(map[string]struct{})
	for _, id := range req.IDs {
		// Only bare record ids are valid here, not per-period document ids.
		if strings.Count(id, "-") != 1 {
			continue
		}
		if _, _, err := models.SplitUID(id); err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uids = append(uids, id)
	}

	records, err := h.store.BatchGet(uids)
	if err != nil {
		logging.Error().Err(err).Msg("Detail lookup failed")
		metrics.QueryRequests.WithLabelValues("items_detail", "empty").Inc()
		writeJSON(w, models.GetMapItemDetailsResponse{Items: []models.MapItemDetail{}})
		return
	}

	now := time.Now().UTC()
	result := make([]models.MapItemDetail, 0, len(records))
	for _, record := range records {
		result = append(result, items.ToMapItemDetail(record, now))
	}

	metrics.QueryRequests.WithLabelValues("items_detail", "ok").Inc()
	writeJSON(w, models.GetMapItemDetailsResponse{Items: result})
}

// parseItemsRequest decodes and validates the shared items request body.
// ok is false when any required field is absent or malformed.
func (h *Handler) parseItemsRequest(r *http.Request) (itemsQuery, bool) {
	var req itemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logging.Debug().Err(err).Msg("Malformed items request body")
		return itemsQuery{}, false
	}
	if req.Lat == nil || req.Lon == nil || req.Distance == nil || req.Start == "" || req.Limit == nil {
		logging.Debug().Msg("Items request missing required parameters")
		return itemsQuery{}, false
	}
	if *req.Distance <= 0 || *req.Limit <= 0 {
		return itemsQuery{}, false
	}

	start, err := parseQueryTime(req.Start)
	if err != nil {
		logging.Debug().Err(err).Msg("Malformed start parameter")
		return itemsQuery{}, false
	}

	q := itemsQuery{
		lat:      *req.Lat,
		lon:      *req.Lon,
		distance: *req.Distance,
		start:    start,
		limit:    *req.Limit,
		cursor:   req.Cursor,
	}
	if req.End != "" {
		end, err := parseQueryTime(req.End)
		if err != nil {
			logging.Debug().Err(err).Msg("Malformed end parameter")
			return itemsQuery{}, false
		}
		q.end = &end
	}
	if q.limit > h.cfg.API.MaxLimit {
		q.limit = h.cfg.API.MaxLimit
	}
	return q, true
}

// collectHits deduplicates search documents to record uids, preserving hit
// order, and gathers the matched periods per uid for the description text.
func collectHits(hits []index.Hit) ([]string, map[string][]items.Period) {
	var uids []string
	extras := make(map[string][]items.Period)
	for _, hit := range hits {
		kind, gipodID, err := models.SplitUID(hit.DocID)
		if err != nil {
			logging.Warn().Str("doc_id", hit.DocID).Msg("Malformed document id in search results")
			continue
		}
		uid := models.MakeUID(kind, gipodID)
		if _, seen := extras[uid]; !seen {
			uids = append(uids, uid)
		}
		extras[uid] = append(extras[uid], items.Period{Start: hit.StartDate, End: hit.EndDate})
	}
	return uids, extras
}

// parseQueryTime accepts the upstream timestamp layout and RFC 3339.
func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Response encoding failed")
	}
}
