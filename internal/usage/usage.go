// Package usage persists per-model request and token counters in a small
// bbolt database next to the config file.
package usage

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/zeroai-dev/zeroai/internal/chat"
)

var (
	bucketRequests     = []byte("requests")
	bucketInputTokens  = []byte("input_tokens")
	bucketOutputTokens = []byte("output_tokens")
)

// Store owns the usage database. All methods are safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the usage database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRequests, bucketInputTokens, bucketOutputTokens} {
			if _, errBucket := tx.CreateBucketIfNotExists(name); errBucket != nil {
				return errBucket
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise usage database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record adds one request and its token counts to the model's counters.
// Failures are logged, not returned; accounting must never fail a request.
func (s *Store) Record(fullModelID string, usage chat.Usage) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(fullModelID)
		if err := addCounter(tx.Bucket(bucketRequests), key, 1); err != nil {
			return err
		}
		if err := addCounter(tx.Bucket(bucketInputTokens), key, usage.InputTokens); err != nil {
			return err
		}
		return addCounter(tx.Bucket(bucketOutputTokens), key, usage.OutputTokens)
	})
	if err != nil {
		log.Warnf("failed to record usage for %s: %v", fullModelID, err)
	}
}

// ModelUsage is the accumulated counters for one full model id.
type ModelUsage struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Snapshot returns the counters for every model seen so far.
func (s *Store) Snapshot() (map[string]ModelUsage, error) {
	out := make(map[string]ModelUsage)
	err := s.db.View(func(tx *bolt.Tx) error {
		errFor := tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			key := string(k)
			out[key] = ModelUsage{
				Requests:     readCounter(v),
				InputTokens:  readCounter(tx.Bucket(bucketInputTokens).Get(k)),
				OutputTokens: readCounter(tx.Bucket(bucketOutputTokens).Get(k)),
			}
			return nil
		})
		return errFor
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read usage database: %w", err)
	}
	return out, nil
}

func addCounter(bucket *bolt.Bucket, key []byte, delta int64) error {
	next := readCounter(bucket.Get(key)) + delta
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	return bucket.Put(key, buf)
}

func readCounter(v []byte) int64 {
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}
