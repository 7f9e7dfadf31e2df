package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("checkpoint")
	boltKey    = []byte("notes")
)

// BoltBackend keeps the document under a single key of a bbolt file.
type BoltBackend struct {
	db   *bolt.DB
	path string
}

// OpenBoltBackend opens (or creates) the database at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt checkpoint: %w", err)
	}
	return &BoltBackend{db: db, path: path}, nil
}

func (b *BoltBackend) Load(ctx context.Context) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get(boltKey); v != nil {
			// v is only valid for the life of the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read bolt checkpoint: %w", err)
	}
	return out, nil
}

func (b *BoltBackend) Save(ctx context.Context, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put(boltKey, data)
	})
	if err != nil {
		return fmt.Errorf("write bolt checkpoint: %w", err)
	}
	return nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

func (b *BoltBackend) String() string { return "bolt:" + b.path }
