package checkpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMempoolEvictions = []byte("mempool_evictions")
	bucketJobSupersessions = []byte("job_supersessions")
)

// BoltCheckpointer is the reference Checkpointer, backed by a
// single-file bbolt database with CBOR-encoded records — the same
// encoding the teacher uses for its wire messages, repurposed here for
// on-disk snapshots rather than network frames.
type BoltCheckpointer struct {
	db *bolt.DB
}

// OpenBoltCheckpointer opens (creating if absent) a bbolt database at
// path and ensures both record buckets exist.
func OpenBoltCheckpointer(path string) (*BoltCheckpointer, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMempoolEvictions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketJobSupersessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: init buckets: %w", err)
	}

	return &BoltCheckpointer{db: db}, nil
}

func (c *BoltCheckpointer) RecordMempoolEviction(ev MempoolEviction) error {
	return c.appendRecord(bucketMempoolEvictions, ev)
}

func (c *BoltCheckpointer) RecordJobSupersession(sup JobSupersession) error {
	return c.appendRecord(bucketJobSupersessions, sup)
}

func (c *BoltCheckpointer) appendRecord(bucket []byte, record interface{}) error {
	encoded, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("checkpoint: encode record: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), encoded)
	})
}

// MempoolEvictions replays every recorded eviction in insertion order.
func (c *BoltCheckpointer) MempoolEvictions() ([]MempoolEviction, error) {
	var out []MempoolEviction
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMempoolEvictions).ForEach(func(_, v []byte) error {
			var ev MempoolEviction
			if err := cbor.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	return out, err
}

// JobSupersessions replays every recorded job supersession in
// insertion order.
func (c *BoltCheckpointer) JobSupersessions() ([]JobSupersession, error) {
	var out []JobSupersession
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobSupersessions).ForEach(func(_, v []byte) error {
			var sup JobSupersession
			if err := cbor.Unmarshal(v, &sup); err != nil {
				return err
			}
			out = append(out, sup)
			return nil
		})
	})
	return out, err
}

func (c *BoltCheckpointer) Close() error {
	return c.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
