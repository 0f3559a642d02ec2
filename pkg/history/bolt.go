package history

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for BoltDB.
var (
	// bucketRuns stores encoded runs keyed by runKey.
	bucketRuns = []byte("runs")

	// bucketRunByID maps a run ID to its runKey.
	bucketRunByID = []byte("run_by_id")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// OpenBolt creates or opens a bolt store at cfg.Path.
func OpenBolt(cfg Config) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("history: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketRunByID} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Record implements Store.
func (s *BoltStore) Record(run *Run) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	prepare(run)
	data, err := encodeRun(run)
	if err != nil {
		return errors.Wrap(err, "encode run")
	}
	key := runKey(run)

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketRunByID).Put(run.ID[:], key)
	})
}

// Get implements Store.
func (s *BoltStore) Get(id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var run *Run
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketRunByID).Get(id[:])
		if key == nil {
			return errors.Wrapf(ErrNotFound, "%s", id)
		}
		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return errors.Wrapf(ErrNotFound, "%s", id)
		}
		r, err := decodeRun(data)
		if err != nil {
			return err
		}
		run = r
		return nil
	})
	return run, err
}

// List implements Store.
func (s *BoltStore) List(limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var runs []*Run
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			r, err := decodeRun(v)
			if err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

// Close implements Store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
