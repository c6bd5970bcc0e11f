// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package index maintains the geospatial+temporal search index in DuckDB.
//
// Every record projects to zero or more documents, one per future-or-present
// period. Work assignments use doc_id = uid; manifestation periods use
// doc_id = {uid}-{n}. Queries combine a haversine geo-distance filter with
// one of two temporal modes and page by ascending distance with an
// offset-based cursor capped at 10,000 reachable results.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// maxSearchWindow caps how deep offset pagination can reach. Past this
// bound the cursor becomes nil, signaling clients to stop paging.
const maxSearchWindow = 10000

// Document is one search-index projection of a record period.
type Document struct {
	DocID     string
	UID       string
	Lat       float64
	Lon       float64
	StartDate time.Time
	EndDate   time.Time
}

// Query is a geo+temporal search request.
type Query struct {
	Lat            float64
	Lon            float64
	DistanceMeters int64

	// Start and End bound the temporal filter; End may be nil.
	Start time.Time
	End   *time.Time

	// Filter selects RANGE (interval intersects [Start, End)) or
	// START_DATE (start_date within [Start, End)).
	Filter models.ItemFilterType

	// Cursor is an opaque continuation token from a previous page, empty
	// for the first page.
	Cursor string
	Limit  int
}

// Hit is one search result.
type Hit struct {
	DocID          string
	StartDate      time.Time
	EndDate        time.Time
	DistanceMeters float64
}

// Index is the search-index adapter contract used by the projection and
// cleanup engines and by the map query API.
type Index interface {
	// Replace swaps every document belonging to uid for docs within one
	// transaction. Keying the removal on uid rather than on remembered
	// document ids makes replacement safe to retry after a partial
	// failure: stale generations cannot survive. If any item fails,
	// nothing is committed.
	Replace(ctx context.Context, uid string, docs []Document) error

	// Delete removes every document belonging to uid; an unknown uid is
	// not an error.
	Delete(ctx context.Context, uid string) error

	// Search returns hits sorted by ascending distance plus the cursor for
	// the next page (nil when exhausted or past the pagination cap).
	Search(ctx context.Context, q Query) ([]Hit, *string, error)
}

// DuckDB implements Index on an embedded DuckDB database.
type DuckDB struct {
	conn *sql.DB
}

// Open opens the index database and ensures the schema exists.
func Open(cfg *config.IndexConfig) (*DuckDB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", cfg.Path, err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	db := &DuckDB{conn: conn}
	if err := db.ensureSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the database handle.
func (db *DuckDB) Close() error {
	return db.conn.Close()
}

func (db *DuckDB) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projections (
		doc_id     VARCHAR PRIMARY KEY,
		uid        VARCHAR NOT NULL,
		lat        DOUBLE NOT NULL,
		lon        DOUBLE NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projections_uid ON projections(uid);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create projections schema: %w", err)
	}
	return nil
}

// Replace implements Index. The uid's existing documents are cleared
// before the inserts so the committed state is exactly the new generation.
func (db *DuckDB) Replace(ctx context.Context, uid string, docs []Document) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM projections WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("clear documents for %s: %w", uid, err)
	}
	deleted, _ := res.RowsAffected()

	for _, doc := range docs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections (doc_id, uid, lat, lon, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?)`,
			doc.DocID, doc.UID, doc.Lat, doc.Lon, doc.StartDate.UTC(), doc.EndDate.UTC())
		if err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.DocID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index transaction: %w", err)
	}

	metrics.IndexBulkOperations.WithLabelValues("delete").Add(float64(deleted))
	metrics.IndexBulkOperations.WithLabelValues("upsert").Add(float64(len(docs)))
	return nil
}

// Delete implements Index.
func (db *DuckDB) Delete(ctx context.Context, uid string) error {
	return db.Replace(ctx, uid, nil)
}

// Search implements Index.
func (db *DuckDB) Search(ctx context.Context, q Query) ([]Hit, *string, error) {
	offset := 0
	if q.Cursor != "" {
		parsed, err := strconv.Atoi(q.Cursor)
		if err != nil || parsed < 0 {
			return nil, nil, fmt.Errorf("invalid cursor %q", q.Cursor)
		}
		offset = parsed
	}

	limit := q.Limit
	if offset+limit > maxSearchWindow {
		limit = maxSearchWindow - offset
	}
	if limit <= 0 {
		return nil, nil, nil
	}

	temporal, args := temporalFilter(q)
	query := fmt.Sprintf(`
		WITH candidates AS (
			SELECT doc_id, start_date, end_date,
			       2 * 6371000.0 * asin(sqrt(
			           pow(sin(radians(lat - ?) / 2), 2) +
			           cos(radians(?)) * cos(radians(lat)) *
			           pow(sin(radians(lon - ?) / 2), 2)
			       )) AS distance_m
			FROM projections
			WHERE %s
		)
		SELECT doc_id, start_date, end_date, distance_m, count(*) OVER () AS total
		FROM candidates
		WHERE distance_m < ?
		ORDER BY distance_m ASC, doc_id ASC
		LIMIT ? OFFSET ?`, temporal)

	queryArgs := append([]any{q.Lat, q.Lat, q.Lon}, args...)
	queryArgs = append(queryArgs, float64(q.DistanceMeters), limit, offset)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, queryArgs...)
	metrics.IndexSearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("search projections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	var total int64
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocID, &h.StartDate, &h.EndDate, &h.DistanceMeters, &total); err != nil {
			return nil, nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate search hits: %w", err)
	}

	var nextCursor *string
	nextOffset := offset + len(hits)
	if total > int64(nextOffset) && nextOffset < maxSearchWindow {
		cursor := strconv.Itoa(nextOffset)
		nextCursor = &cursor
	}

	logging.Debug().Int("hits", len(hits)).Int64("total", total).Msg("Search executed")
	return hits, nextCursor, nil
}

// temporalFilter builds the time condition for the query's filter mode.
func temporalFilter(q Query) (string, []any) {
	if q.Filter == models.FilterStartDate {
		if q.End != nil {
			return "start_date >= ? AND start_date < ?", []any{q.Start.UTC(), q.End.UTC()}
		}
		return "start_date >= ?", []any{q.Start.UTC()}
	}

	// RANGE mode: the document interval must intersect [Start, End), or
	// [Start, inf) when End is absent.
	if q.End != nil {
		return "end_date >= ? AND start_date < ?", []any{q.Start.UTC(), q.End.UTC()}
	}
	return "end_date >= ?", []any{q.Start.UTC()}
}
