// Package history records patch session runs in an embedded key-value
// store.
package history

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a run doesn't exist.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("history store closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown history backend")
)

// Backends accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// OutcomeRecord is the stored form of one patch outcome.
type OutcomeRecord struct {
	Name     string        `cbor:"1,keyasint"`
	OK       bool          `cbor:"2,keyasint"`
	Error    string        `cbor:"3,keyasint,omitempty"`
	Duration time.Duration `cbor:"4,keyasint"`
}

// Run is one session run.
type Run struct {
	ID        uuid.UUID `cbor:"1,keyasint"`
	Container string    `cbor:"2,keyasint,omitempty"`
	Started   time.Time `cbor:"3,keyasint"`

	// Signatures maps signature name to its fingerprint.
	Signatures map[string]string `cbor:"4,keyasint"`
	Outcomes   []OutcomeRecord   `cbor:"5,keyasint"`
}

// Failed returns the number of failed outcomes.
func (r *Run) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK {
			n++
		}
	}
	return n
}

// Store persists runs.
type Store interface {
	// Record stores run. A zero ID is replaced by a fresh one.
	Record(run *Run) error
	Get(id uuid.UUID) (*Run, error)
	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(limit int) ([]*Run, error)
	Close() error
}

// Config selects and configures a store.
type Config struct {
	// Backend is "bolt" or "badger".
	Backend string

	// Path is the database file (bolt) or directory (badger).
	Path string

	// InMemory runs badger without touching disk. Ignored by bolt.
	InMemory bool

	// NoSync disables fsync after each write.
	NoSync bool
}

// DefaultConfig returns a bolt store at path.
func DefaultConfig(path string) Config {
	return Config{
		Backend: BackendBolt,
		Path:    path,
	}
}

// Open creates or opens the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendBolt, "":
		return OpenBolt(cfg)
	case BackendBadger:
		return OpenBadger(cfg)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("history: cbor enc mode: %v", err))
	}
	encMode = em
}

func encodeRun(r *Run) ([]byte, error) {
	return encMode.Marshal(r)
}

func decodeRun(data []byte) (*Run, error) {
	var r Run
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decode run")
	}
	return &r, nil
}

// prepare fills in the ID and start time.
func prepare(r *Run) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	r.Started = r.Started.UTC()
}

// runKey orders runs by start time. The ID breaks ties.
//
// Format: unix nanos (8 bytes, big-endian) + run ID (16 bytes).
func runKey(r *Run) []byte {
	key := make([]byte, 8+16)
	binary.BigEndian.PutUint64(key[:8], uint64(r.Started.UnixNano()))
	copy(key[8:], r.ID[:])
	return key
}
