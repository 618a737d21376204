package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// warmStore is the larger, slower exact-tier backing: a badger key-value
// store with native TTL expiry. Entries are JSON-encoded; the warm tier
// trades lookup latency for surviving hot-tier eviction and restarts.
type warmStore struct {
	db *badger.DB
}

// badgerSlogAdapter routes badger's internal logging through slog.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerSlogAdapter)(nil)

func (bl *badgerSlogAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerSlogAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerSlogAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerSlogAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func openWarmStore(path string) (*warmStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = &badgerSlogAdapter{logger: slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open warm cache store: %w", err)
	}
	return &warmStore{db: db}, nil
}

func warmKey(fingerprint string) []byte {
	return []byte("result/" + fingerprint)
}

// get returns the entry for a fingerprint, or (nil, nil) when absent.
func (w *warmStore) get(ctx context.Context, fingerprint string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(warmKey(fingerprint))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode warm entry: %w", err)
			}
			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("warm cache get (%s): %w", err, model.ErrCacheUnavailable)
	}
	return entry, nil
}

func (w *warmStore) put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode warm entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(warmKey(entry.Fingerprint), val).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("warm cache put: %w", err)
	}
	return nil
}

func (w *warmStore) close() error {
	return w.db.Close()
}
