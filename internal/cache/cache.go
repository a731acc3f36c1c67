// Package cache keeps raw listing pages on disk so an interrupted tag can be
// resumed without requesting its pages again.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// PageCache is a badger-backed page store with per-entry expiry.
type PageCache struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) a cache in dir. Entries expire after ttl; a zero
// ttl keeps them forever.
func Open(dir string, ttl time.Duration) (*PageCache, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening page cache: %w", err)
	}
	return &PageCache{db: db, ttl: ttl}, nil
}

// OpenInMemory opens a cache that lives only as long as the process.
func OpenInMemory(ttl time.Duration) (*PageCache, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening page cache: %w", err)
	}
	return &PageCache{db: db, ttl: ttl}, nil
}

// Get returns the cached page for key, if present and not expired.
func (c *PageCache) Get(key string) ([]byte, bool, error) {
	var page []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		page, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return page, true, nil
}

// Put stores page under key.
func (c *PageCache) Put(key string, page []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), page)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Clear drops every cached page.
func (c *PageCache) Clear() error {
	return c.db.DropAll()
}

// Close flushes and closes the cache.
func (c *PageCache) Close() error {
	return c.db.Close()
}
