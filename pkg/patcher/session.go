// Package patcher ties resolution, patch units and export together into a
// one-shot session.
package patcher

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Patcher/pkg/classfile"
	"github.com/fortiblox/X1-Patcher/pkg/history"
	"github.com/fortiblox/X1-Patcher/pkg/patch"
	"github.com/fortiblox/X1-Patcher/pkg/resolver"
	"github.com/fortiblox/X1-Patcher/pkg/signature"
)

var (
	// ErrAlreadyRun is returned by RunE after the first run and by
	// RegisterPatch once the session has run.
	ErrAlreadyRun = errors.New("session already run")

	// ErrDuplicatePatch is returned when a unit name is registered twice.
	ErrDuplicatePatch = errors.New("duplicate patch name")

	// ErrNotRun is returned by ExportVia before Run.
	ErrNotRun = errors.New("session has not run")
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. It is passed down to the resolver
// and the orchestrator.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHistory records every run in store.
func WithHistory(store history.Store) Option {
	return func(s *Session) {
		s.history = store
	}
}

// WithContainerName labels history records.
func WithContainerName(name string) Option {
	return func(s *Session) {
		s.container = name
	}
}

// Session owns one resolution cache and the units registered against it.
type Session struct {
	provider  classfile.ClassProvider
	sigs      []*signature.Signature
	cache     *resolver.Cache
	units     []patch.Unit
	names     map[string]struct{}
	ran       atomic.Bool
	outcomes  patch.Outcomes
	log       *zap.Logger
	history   history.Store
	container string
}

// New resolves every signature against provider. If any is unresolved
// the error is a *resolver.ResolutionError and no session is returned.
func New(provider classfile.ClassProvider, sigs []*signature.Signature, opts ...Option) (*Session, error) {
	s := &Session{
		provider: provider,
		sigs:     append([]*signature.Signature(nil), sigs...),
		names:    make(map[string]struct{}),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := resolver.Resolve(provider, sigs, resolver.WithLogger(s.log))
	if err != nil {
		s.log.Error("resolution failed", zap.Error(err))
		return nil, err
	}
	s.cache = cache
	s.log.Info("signatures resolved", zap.Int("count", cache.Len()))
	return s, nil
}

// Cache returns the resolution cache.
func (s *Session) Cache() *resolver.Cache {
	return s.cache
}

// RegisterPatch appends u to the run order.
func (s *Session) RegisterPatch(u patch.Unit) error {
	if u == nil {
		return errors.New("nil patch unit")
	}
	if s.ran.Load() {
		return ErrAlreadyRun
	}
	if _, dup := s.names[u.Name()]; dup {
		return errors.Wrapf(ErrDuplicatePatch, "%q", u.Name())
	}
	s.names[u.Name()] = struct{}{}
	s.units = append(s.units, u)
	return nil
}

// Run is RunE without the error. A second call returns the outcomes of
// the first run.
func (s *Session) Run() patch.Outcomes {
	out, err := s.RunE()
	if errors.Is(err, ErrAlreadyRun) {
		return s.outcomes
	}
	return out
}

// RunE runs every registered unit once, in registration order.
func (s *Session) RunE() (patch.Outcomes, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	started := time.Now()
	out, err := patch.NewOrchestrator(s.log).Run(s.units, s.cache)
	if err != nil {
		return nil, err
	}
	s.outcomes = out
	s.log.Info("patch run completed",
		zap.Int("patches", len(out)),
		zap.Int("failed", len(out.Failed())),
		zap.Duration("took", time.Since(started)))

	if s.history != nil {
		if err := s.history.Record(s.record(started, out)); err != nil {
			s.log.Warn("record run history", zap.Error(err))
		}
	}
	return out, nil
}

// Outcomes returns the outcomes of the run, or nil before it.
func (s *Session) Outcomes() patch.Outcomes {
	return s.outcomes
}

// ExportVia hands every class of the provider to w. It is meant to be
// called after Run.
func (s *Session) ExportVia(w classfile.ContainerWriter) error {
	if !s.ran.Load() {
		return ErrNotRun
	}
	classes := s.provider.Classes()
	if err := w.WriteClasses(classes); err != nil {
		return errors.Wrap(err, "export classes")
	}
	s.log.Info("classes exported", zap.Int("count", len(classes)))
	return nil
}

func (s *Session) record(started time.Time, out patch.Outcomes) *history.Run {
	run := &history.Run{
		Container:  s.container,
		Started:    started,
		Signatures: make(map[string]string, len(s.sigs)),
		Outcomes:   make([]history.OutcomeRecord, 0, len(out)),
	}
	for _, sig := range s.sigs {
		run.Signatures[sig.Name()] = sig.Fingerprint().String()
	}
	for _, oc := range out {
		rec := history.OutcomeRecord{Name: oc.Name, OK: oc.Result.OK(), Duration: oc.Duration}
		if !rec.OK {
			rec.Error = oc.Result.Err().Error()
		}
		run.Outcomes = append(run.Outcomes, rec)
	}
	return run
}
