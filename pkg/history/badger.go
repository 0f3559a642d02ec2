package history

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixRun is the prefix for encoded runs.
	// Key format: prefixRun + runKey
	prefixRun = []byte{0x01}

	// prefixRunID maps a run ID to its run key.
	// Key format: prefixRunID + id (16 bytes)
	prefixRunID = []byte{0x02}
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger creates or opens a badger store. With cfg.InMemory nothing
// is written to disk.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if cfg.Path == "" {
		return nil, errors.New("history: empty path")
	}
	opts = opts.
		WithSyncWrites(!cfg.NoSync && !cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db}, nil
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// Record implements Store.
func (s *BadgerStore) Record(run *Run) error {
	if s.closed.Load() {
		return ErrClosed
	}

	prepare(run)
	data, err := encodeRun(run)
	if err != nil {
		return errors.Wrap(err, "encode run")
	}
	key := prefixed(prefixRun, runKey(run))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(prefixed(prefixRunID, run.ID[:]), key)
	})
}

// Get implements Store.
func (s *BadgerStore) Get(id uuid.UUID) (*Run, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var run *Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(prefixRunID, id[:]))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrNotFound, "%s", id)
		} else if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrNotFound, "%s", id)
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeRun(val)
			if err != nil {
				return err
			}
			run = r
			return nil
		})
	})
	return run, err
}

// List implements Store.
func (s *BadgerStore) List(limit int) ([]*Run, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var runs []*Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixRun
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix range.
		seek := append(append([]byte(nil), prefixRun...), bytes.Repeat([]byte{0xff}, 8+16+1)...)
		for it.Seek(seek); it.ValidForPrefix(prefixRun); it.Next() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				r, err := decodeRun(val)
				if err != nil {
					return err
				}
				runs = append(runs, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return runs, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
