package resolver

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Patcher/pkg/bytecode"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
	"github.com/fortiblox/X1-Patcher/pkg/signature"
)

var (
	// ErrNotFound is returned when a name has no cache entry.
	ErrNotFound = errors.New("signature not resolved")

	// ErrDuplicateName is returned when a name is already taken.
	ErrDuplicateName = errors.New("duplicate signature name")

	// ErrStale is returned by Rescan when the pattern no longer matches at
	// the matched instruction.
	ErrStale = errors.New("pattern no longer matches")
)

// Match is one resolved signature. Method is shared with every patch unit
// and with the provider, so edits to its body are visible everywhere.
type Match struct {
	Name       string
	Method     *classfile.Method
	StartIndex int // index at resolution time
}

type entry struct {
	match Match
	sig   *signature.Signature // nil for derived entries
	start *bytecode.Label      // bound to the first matched instruction
}

// Cache maps signature names to matches. Lookups are safe for concurrent
// use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
	log     *zap.Logger
}

func newCache(log *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		log:     log,
	}
}

// NewCache returns an empty cache. Most callers get one from Resolve.
func NewCache() *Cache {
	return newCache(zap.NewNop())
}

func (c *Cache) put(name string, e entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	c.entries[name] = e
	c.order = append(c.order, name)
	return nil
}

// Put adds a derived entry. Existing names are never overwritten.
func (c *Cache) Put(name string, m Match) error {
	if m.Method == nil {
		return errors.Newf("put %q: nil method", name)
	}
	m.Name = name
	if err := c.put(name, entry{match: m}); err != nil {
		return err
	}
	c.log.Debug("cache entry added",
		zap.String("name", name),
		zap.String("method", m.Method.ID()),
		zap.Int("start", m.StartIndex))
	return nil
}

// Lookup returns the match recorded under name.
func (c *Cache) Lookup(name string) (Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Match{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return e.match, nil
}

// MustLookup is like Lookup but panics when name is missing. Patch units
// run under panic recovery, so a missing dependency still ends up as a
// failure outcome.
func (c *Cache) MustLookup(name string) Match {
	m, err := c.Lookup(name)
	if err != nil {
		panic(err)
	}
	return m
}

// Rescan returns the current index of the instruction matched at
// resolution time. It follows that instruction through edits elsewhere in
// the body, so copies of the pattern inserted by other units are never
// picked up. If the pattern no longer matches there, the error wraps
// ErrStale. Derived entries have no pattern and return the recorded
// index.
func (c *Cache) Rescan(name string) (int, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return -1, errors.Wrapf(ErrNotFound, "%q", name)
	}
	if e.sig == nil || e.start == nil {
		return e.match.StartIndex, nil
	}
	code := e.match.Method.Code
	idx, err := code.Resolve(e.start)
	if err != nil || e.start.IsEnd() || !signature.MatchesAt(code, e.sig.Pattern(), idx) {
		return -1, errors.Wrapf(ErrStale, "%q in %s", name, e.match.Method.ID())
	}
	return idx, nil
}

// Names returns every name in insertion order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Methods returns the distinct methods referenced by the cache, sorted by
// ID.
func (c *Cache) Methods() []*classfile.Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[*classfile.Method]struct{}, len(c.entries))
	var out []*classfile.Method
	for _, e := range c.entries {
		if _, ok := seen[e.match.Method]; ok {
			continue
		}
		seen[e.match.Method] = struct{}{}
		out = append(out, e.match.Method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
