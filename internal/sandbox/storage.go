// Package sandbox captures outbound messages instead of delivering them,
// for development and staging environments.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/piquet/courier/internal/provider"
)

var bucketSandbox = []byte("sandbox")

// Message is a captured outbound message.
type Message struct {
	ID           string            `json:"id"`
	From         string            `json:"from"`
	To           []string          `json:"to"`
	Subject      string            `json:"subject"`
	Payload      *provider.Payload `json:"payload"`
	CapturedAt   time.Time         `json:"captured_at"`
	SimulatedErr string            `json:"simulated_error,omitempty"`
}

// Storage persists captured messages in BoltDB.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates sandbox storage on an existing BoltDB instance.
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save stores a captured message.
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)

		// Index key carries the timestamp for ordering
		indexKey := makeIndexKey(msg.CapturedAt, msg.ID)

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bucket.Put(indexKey, data)
	})
}

// List returns up to limit captured messages, newest first.
func (s *Storage) List(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var messages []*Message
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			messages = append(messages, &msg)
		}
		return nil
	})
	return messages, err
}

// Clear removes all captured messages.
func (s *Storage) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSandbox); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}
