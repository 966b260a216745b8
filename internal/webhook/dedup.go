package webhook

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEvents      = []byte("webhook_events")
	bucketEventsByAge = []byte("webhook_events_by_age")
)

// DedupStore remembers which webhook event ids have already been processed,
// so redelivered events become no-ops. Entries carry a time index for
// cleanup of old ids.
type DedupStore struct {
	db *bolt.DB
}

// OpenDedupStore opens (or creates) the dedup database at path.
func OpenDedupStore(path string) (*DedupStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketEventsByAge} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event buckets: %w", err)
	}

	return &DedupStore{db: db}, nil
}

func (s *DedupStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying BoltDB instance so other components can share
// the same file.
func (s *DedupStore) DB() *bolt.DB {
	return s.db
}

// CheckAndMark atomically tests whether eventID was seen before and marks
// it seen. Returns true when the event is a duplicate.
func (s *DedupStore) CheckAndMark(eventID string) (bool, error) {
	seen := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		if events.Get([]byte(eventID)) != nil {
			seen = true
			return nil
		}

		now := time.Now().UTC()
		stamp := []byte(now.Format(time.RFC3339Nano))
		if err := events.Put([]byte(eventID), stamp); err != nil {
			return err
		}
		return tx.Bucket(bucketEventsByAge).Put(makeAgeKey(now, eventID), []byte(eventID))
	})
	if err != nil {
		return false, fmt.Errorf("failed to record event id: %w", err)
	}
	return seen, nil
}

// Unmark forgets an event id so a later redelivery of the same event is
// processed again. Unknown ids are a no-op.
func (s *DedupStore) Unmark(eventID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		stamp := events.Get([]byte(eventID))
		if stamp == nil {
			return nil
		}
		if err := tx.Bucket(bucketEventsByAge).Delete([]byte(string(stamp) + ":" + eventID)); err != nil {
			return err
		}
		return events.Delete([]byte(eventID))
	})
	if err != nil {
		return fmt.Errorf("failed to release event id: %w", err)
	}
	return nil
}

// Cleanup removes event ids older than maxAge via the time index and
// returns how many were dropped.
func (s *DedupStore) Cleanup(maxAge time.Duration) (int, error) {
	cutoff := []byte(time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano))
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		byAge := tx.Bucket(bucketEventsByAge)
		c := byAge.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(k) >= string(cutoff) {
				break
			}
			if err := events.Delete(v); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clean up event ids: %w", err)
	}
	return removed, nil
}

func makeAgeKey(t time.Time, id string) []byte {
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}
