// Package store is the persistence adapter. It owns every durable record:
// search requests and results, fetch events, flagged payloads and the
// runtime domain lists. All mutations are serialized through bbolt's
// single-writer transactions; readers see the last completed write.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hyperifyio/clawrubber/internal/policy"
)

// ErrNotFound is returned for unknown or expired records.
var ErrNotFound = errors.New("record not found")

var (
	bucketSearchRequests  = []byte("searchRequests")
	bucketSearchResults   = []byte("searchResults")
	bucketFetchEvents     = []byte("fetchEvents")
	bucketFlaggedPayloads = []byte("flaggedPayloads")
	bucketAllowlist       = []byte("allowlist")
	bucketBlocklist       = []byte("blocklist")
)

var allBuckets = [][]byte{
	bucketSearchRequests,
	bucketSearchResults,
	bucketFetchEvents,
	bucketFlaggedPayloads,
	bucketAllowlist,
	bucketBlocklist,
}

// Store wraps a bbolt database file.
type Store struct {
	db *bbolt.DB

	// now is swappable for tests.
	now func() time.Time
}

// Open creates or opens the database at path and ensures all buckets
// exist. The file is created with owner-only permissions because flagged
// payloads contain page content.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsHealthy reports whether the database answers a trivial read.
func (s *Store) IsHealthy() bool {
	if s == nil || s.db == nil {
		return false
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketFetchEvents) == nil {
			return errors.New("missing bucket")
		}
		return nil
	})
	return err == nil
}

// StoreSearchRequest persists one search request record.
func (s *Store) StoreSearchRequest(rec *SearchRequestRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	return s.putJSON(bucketSearchRequests, []byte(rec.RequestID), rec)
}

// StoreSearchResult persists one search result record.
func (s *Store) StoreSearchResult(rec *SearchResultRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	return s.putJSON(bucketSearchResults, []byte(rec.ResultID), rec)
}

// GetSearchResult returns the record for id, or ErrNotFound when the id is
// unknown or the record has expired.
func (s *Store) GetSearchResult(id string) (*SearchResultRecord, error) {
	var rec SearchResultRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSearchResults).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// StoreFetchEvent persists ev, assigning it the next monotonically
// increasing id, and returns that id.
func (s *Store) StoreFetchEvent(ev *FetchEvent) (uint64, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketFetchEvents)
		id, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		ev.ID = id
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal fetch event: %w", err)
		}
		return bkt.Put(itob(id), raw)
	})
	if err != nil {
		return 0, err
	}
	return ev.ID, nil
}

// GetFetchEvent returns the event with the given id, or ErrNotFound.
func (s *Store) GetFetchEvent(id uint64) (*FetchEvent, error) {
	var ev FetchEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketFetchEvents).Get(itob(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// StoreFlaggedPayload persists the evidence behind a block, keyed by its
// fetch event id.
func (s *Store) StoreFlaggedPayload(p *FlaggedPayload) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	return s.putJSON(bucketFlaggedPayloads, itob(p.FetchEventID), p)
}

// GetFlaggedPayload returns the stored payload for a fetch event id, or
// ErrNotFound when the event produced no flagged payload.
func (s *Store) GetFlaggedPayload(fetchEventID uint64) (*FlaggedPayload, error) {
	var p FlaggedPayload
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketFlaggedPayloads).Get(itob(fetchEventID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddAllowlistDomain persists a runtime allowlist entry. The domain must
// already be normalized.
func (s *Store) AddAllowlistDomain(domain, note string) error {
	return s.addDomain(bucketAllowlist, domain, note)
}

// AddBlocklistDomain persists a runtime blocklist entry.
func (s *Store) AddBlocklistDomain(domain, note string) error {
	return s.addDomain(bucketBlocklist, domain, note)
}

func (s *Store) addDomain(bucket []byte, domain, note string) error {
	entry := RuntimeDomainEntry{Domain: domain, Note: note, AddedAt: s.now().UTC()}
	return s.putJSON(bucket, []byte(domain), &entry)
}

// ListAllowlistDomains returns all runtime allowlist entries in key order.
func (s *Store) ListAllowlistDomains() ([]RuntimeDomainEntry, error) {
	return s.listDomains(bucketAllowlist)
}

// ListBlocklistDomains returns all runtime blocklist entries in key order.
func (s *Store) ListBlocklistDomains() ([]RuntimeDomainEntry, error) {
	return s.listDomains(bucketBlocklist)
}

func (s *Store) listDomains(bucket []byte) ([]RuntimeDomainEntry, error) {
	var entries []RuntimeDomainEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			var e RuntimeDomainEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal domain entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EffectiveAllowlist merges the static allowlist with the persisted
// runtime entries, deduplicated by normalized domain.
func (s *Store) EffectiveAllowlist(static []string) ([]string, error) {
	return s.effectiveList(bucketAllowlist, static)
}

// EffectiveBlocklist merges the static blocklist with the persisted
// runtime entries.
func (s *Store) EffectiveBlocklist(static []string) ([]string, error) {
	return s.effectiveList(bucketBlocklist, static)
}

func (s *Store) effectiveList(bucket []byte, static []string) ([]string, error) {
	entries, err := s.listDomains(bucket)
	if err != nil {
		return nil, err
	}
	runtime := make([]string, 0, len(entries))
	for _, e := range entries {
		runtime = append(runtime, e.Domain)
	}
	return policy.MergeLists(static, runtime), nil
}

// PurgeStats counts the records removed by one purge pass.
type PurgeStats struct {
	SearchResults   int
	SearchRequests  int
	FetchEvents     int
	FlaggedPayloads int
}

// PurgeExpiredData removes expired search results and trims request, event
// and payload records older than retentionDays.
func (s *Store) PurgeExpiredData(retentionDays int) (PurgeStats, error) {
	var stats PurgeStats
	now := s.now()
	cutoff := now.AddDate(0, 0, -retentionDays)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteWhere(tx.Bucket(bucketSearchResults), &stats.SearchResults, func(v []byte) (bool, error) {
			var rec SearchResultRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return true, nil // drop undecodable rows
			}
			return rec.Expired(now) || rec.CreatedAt.Before(cutoff), nil
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx.Bucket(bucketSearchRequests), &stats.SearchRequests, func(v []byte) (bool, error) {
			var rec SearchRequestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return true, nil
			}
			return rec.CreatedAt.Before(cutoff), nil
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx.Bucket(bucketFetchEvents), &stats.FetchEvents, func(v []byte) (bool, error) {
			var rec FetchEvent
			if err := json.Unmarshal(v, &rec); err != nil {
				return true, nil
			}
			return rec.CreatedAt.Before(cutoff), nil
		}); err != nil {
			return err
		}
		return deleteWhere(tx.Bucket(bucketFlaggedPayloads), &stats.FlaggedPayloads, func(v []byte) (bool, error) {
			var rec FlaggedPayload
			if err := json.Unmarshal(v, &rec); err != nil {
				return true, nil
			}
			return rec.CreatedAt.Before(cutoff), nil
		})
	})
	return stats, err
}

func deleteWhere(bkt *bbolt.Bucket, count *int, pred func(v []byte) (bool, error)) error {
	c := bkt.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		drop, err := pred(v)
		if err != nil {
			return err
		}
		if !drop {
			continue
		}
		if err := c.Delete(); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		*count++
	}
	return nil
}

func (s *Store) putJSON(bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, raw)
	})
}

func itob(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}
