package session

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionBucket = []byte("sessions")

// Bolt is a Backend in a bbolt file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at filename.
func OpenBolt(filename string) (*Bolt, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) Path() string { return b.db.Path() }

func (b *Bolt) Get(_ context.Context, key string) (Record, bool, error) {
	var rec Record
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	return rec, found && err == nil, err
}

func (b *Bolt) Put(_ context.Context, key string, rec Record) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), v)
	})
}

// Sweep deletes expired and unreadable records.
func (b *Bolt) Sweep(_ context.Context, now time.Time) (int, error) {
	var n int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionBucket)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var rec Record
			if json.Unmarshal(v, &rec) != nil || !rec.Expires.After(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}
