// Package resolver locates the method each signature describes and keeps
// the results in a session-scoped cache.
package resolver

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Patcher/pkg/classfile"
	"github.com/fortiblox/X1-Patcher/pkg/signature"
)

// ResolutionError lists the signatures that matched no method.
type ResolutionError struct {
	Unresolved []string
}

func (e *ResolutionError) Error() string {
	return "unresolved signatures: " + strings.Join(e.Unresolved, ", ")
}

// Option configures Resolve.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger used by Resolve and by the returned cache.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Resolve matches every signature against the provider's methods and
// returns the populated cache.
//
// For each signature, methods are tried in provider order and the first
// one whose shape matches and whose body contains the pattern wins. The
// matched instruction gets a label in the method body, which Cache.Rescan
// follows through later edits.
// Resolution is all or nothing: if any signature is left unresolved the
// result is a *ResolutionError naming all of them, and no cache.
func Resolve(provider classfile.ClassProvider, sigs []*signature.Signature, opts ...Option) (*Cache, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(sigs))
	for _, s := range sigs {
		if s == nil {
			return nil, errors.New("nil signature")
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, errors.Wrapf(ErrDuplicateName, "%q", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}

	methods := classfile.Methods(provider)
	cache := newCache(o.log)
	var unresolved []string

	for _, s := range sigs {
		m, idx, ok := first(methods, s)
		if !ok {
			o.log.Debug("signature unresolved", zap.String("name", s.Name()))
			unresolved = append(unresolved, s.Name())
			continue
		}
		start, err := m.Code.LabelAt(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "label match of %q", s.Name())
		}
		if err := cache.put(s.Name(), entry{
			match: Match{Name: s.Name(), Method: m, StartIndex: idx},
			sig:   s,
			start: start,
		}); err != nil {
			return nil, err
		}
		o.log.Debug("signature resolved",
			zap.String("name", s.Name()),
			zap.String("method", m.ID()),
			zap.Int("start", idx))
	}

	if len(unresolved) > 0 {
		return nil, &ResolutionError{Unresolved: unresolved}
	}
	return cache, nil
}

func first(methods []*classfile.Method, s *signature.Signature) (*classfile.Method, int, bool) {
	for _, m := range methods {
		if idx, ok := s.Match(m); ok {
			return m, idx, true
		}
	}
	return nil, -1, false
}
