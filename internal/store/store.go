// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package store persists records, sync settings and the consumer registry
// in BadgerDB.
//
// Key layout:
//
//	record!{uid}                     -> Record JSON
//	cleanup!{cleanup_date}!{uid}     -> empty (expiry index)
//	settings!sync                    -> SyncSettings JSON
//	consumer!{key}                   -> Consumer JSON
//
// Badger iterates keys in byte order, so the cleanup index (fixed-width
// RFC 3339 UTC timestamps) yields records ordered by (cleanup_date, uid)
// ascending, which is exactly what the timed-out sweep needs.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

const (
	recordKeyPrefix   = "record!"
	cleanupKeyPrefix  = "cleanup!"
	consumerKeyPrefix = "consumer!"
	syncSettingsKey   = "settings!sync"

	// cleanupTimeLayout is fixed-width so index keys sort chronologically.
	cleanupTimeLayout = "2006-01-02T15:04:05Z"
)

// Store is the BadgerDB-backed record store adapter.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the configured path.
func Open(cfg *config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(uid string) []byte {
	return []byte(recordKeyPrefix + uid)
}

func cleanupKey(cleanupDate time.Time, uid string) []byte {
	return []byte(cleanupKeyPrefix + cleanupDate.UTC().Format(cleanupTimeLayout) + "!" + uid)
}

// Get returns the record for uid, or ErrNotFound.
func (s *Store) Get(uid string) (*models.Record, error) {
	var record models.Record
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, recordKey(uid), &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// BatchGet returns the records for the given uids. Missing uids are silently
// omitted; the result preserves the order of found records.
func (s *Store) BatchGet(uids []string) ([]*models.Record, error) {
	records := make([]*models.Record, 0, len(uids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, uid := range uids {
			var record models.Record
			if err := readJSON(txn, recordKey(uid), &record); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Put upserts a record and keeps the cleanup-date index in step, all within
// one transaction.
func (s *Store) Put(record *models.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.UID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := removeCleanupIndex(txn, record.UID); err != nil {
			return err
		}
		if err := txn.Set(recordKey(record.UID), data); err != nil {
			return fmt.Errorf("set record %s: %w", record.UID, err)
		}
		if record.CleanupDate != nil {
			if err := txn.Set(cleanupKey(*record.CleanupDate, record.UID), nil); err != nil {
				return fmt.Errorf("set cleanup index %s: %w", record.UID, err)
			}
		}
		return nil
	})
}

// Delete removes records and their index entries. Missing uids are not an
// error.
func (s *Store) Delete(uids []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, uid := range uids {
			if err := removeCleanupIndex(txn, uid); err != nil {
				return err
			}
			if err := txn.Delete(recordKey(uid)); err != nil {
				return fmt.Errorf("delete record %s: %w", uid, err)
			}
		}
		return nil
	})
}

// removeCleanupIndex drops the cleanup index entry of the stored version of
// uid, if any.
func removeCleanupIndex(txn *badger.Txn, uid string) error {
	var previous models.Record
	err := readJSON(txn, recordKey(uid), &previous)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if previous.CleanupDate == nil {
		return nil
	}
	if err := txn.Delete(cleanupKey(*previous.CleanupDate, uid)); err != nil {
		return fmt.Errorf("delete cleanup index %s: %w", uid, err)
	}
	return nil
}

// ScanKind streams every record of a kind to fn, in no particular order.
// Returning an error from fn aborts the scan.
func (s *Store) ScanKind(kind models.Kind, fn func(*models.Record) error) error {
	prefix := []byte(recordKeyPrefix + kind.String() + "-")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record models.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			if err := fn(&record); err != nil {
				return err
			}
		}
		return nil
	})
}

// UIDSet returns every stored uid of a kind.
func (s *Store) UIDSet(kind models.Kind) (map[string]struct{}, error) {
	uids := make(map[string]struct{})
	prefix := []byte(recordKeyPrefix + kind.String() + "-")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			uids[key[len(recordKeyPrefix):]] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// ScanTimedOut streams the uids of records whose cleanup_date has passed,
// ordered by (cleanup_date, uid) ascending.
func (s *Store) ScanTimedOut(now time.Time, fn func(uid string) error) error {
	cutoff := cleanupKeyPrefix + now.UTC().Format(cleanupTimeLayout)
	prefix := []byte(cleanupKeyPrefix)

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			// Key shape: cleanup!{timestamp}!{uid}; keys at or past the
			// cutoff belong to records that have not expired yet.
			if key >= cutoff {
				break
			}
			sep := len(cleanupKeyPrefix) + len(cleanupTimeLayout)
			if sep+1 >= len(key) {
				logging.Warn().Str("key", key).Msg("Malformed cleanup index key")
				continue
			}
			if err := fn(key[sep+1:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// readJSON fetches a key and decodes it, mapping badger.ErrKeyNotFound to
// ErrNotFound.
func readJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// SyncSettings is the single-row sync state: the watermark of the last
// successfully scheduled full sync.
type SyncSettings struct {
	SyncedUntil *time.Time `json:"synced_until,omitempty"`
}

// AdvanceWatermark atomically reads the current watermark and replaces it
// with now. The read-modify-write runs inside one Badger transaction, so
// two overlapping sync triggers cannot both observe the same previous
// value and lose an update.
func (s *Store) AdvanceWatermark(now time.Time) (previous *time.Time, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		var settings SyncSettings
		readErr := readJSON(txn, []byte(syncSettingsKey), &settings)
		if readErr != nil && !errors.Is(readErr, ErrNotFound) {
			return readErr
		}
		previous = settings.SyncedUntil

		next := now.UTC()
		settings.SyncedUntil = &next
		data, marshalErr := json.Marshal(&settings)
		if marshalErr != nil {
			return fmt.Errorf("marshal sync settings: %w", marshalErr)
		}
		return txn.Set([]byte(syncSettingsKey), data)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// Watermark returns the current watermark without modifying it, or nil when
// no sync ever ran.
func (s *Store) Watermark() (*time.Time, error) {
	var settings SyncSettings
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, []byte(syncSettingsKey), &settings)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return settings.SyncedUntil, nil
}
