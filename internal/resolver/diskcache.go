package resolver

import (
	"bytes"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// diskCache persists built export indexes across process restarts, so a
// CLI invocation doesn't re-derive a package's export index on every run.
// Grounded on the teacher's internal/mcp/identity_resolver.go, which
// caches resolved file identities in a bbolt bucket keyed by repo path.
var exportIndexBucket = []byte("export_index")

func openDiskCache(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open resolver cache db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(exportIndexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init resolver cache bucket: %w", err)
	}
	return db, nil
}

func loadDiskCache(db *bolt.DB, packageDir string) (*ExportIndex, bool) {
	var idx ExportIndex
	found := false
	db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(exportIndexBucket)
		raw := b.Get([]byte(packageDir))
		if raw == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&idx); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return nil, false
	}
	return &idx, true
}

func saveDiskCache(db *bolt.DB, packageDir string, idx *ExportIndex) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(idx); err != nil {
		return
	}
	db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(exportIndexBucket)
		return b.Put([]byte(packageDir), buf.Bytes())
	})
}

func deleteDiskCache(db *bolt.DB, packageDir string) {
	db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(exportIndexBucket)
		return b.Delete([]byte(packageDir))
	})
}

func clearDiskCache(db *bolt.DB) {
	db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(exportIndexBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(exportIndexBucket)
		return err
	})
}
