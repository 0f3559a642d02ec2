package patch

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Patcher/pkg/resolver"
)

// State is the lifecycle of an orchestrator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrNotIdle is returned when an orchestrator is run twice.
var ErrNotIdle = errors.New("orchestrator already started")

// Orchestrator runs units sequentially. Later units see the edits of
// earlier ones. Nothing is rolled back.
type Orchestrator struct {
	log   *zap.Logger
	state atomic.Int32
	now   func() time.Time
}

// NewOrchestrator returns an idle orchestrator. A nil logger discards.
func NewOrchestrator(log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{log: log, now: time.Now}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run applies units in order and returns one outcome per unit. It can be
// called once. A nil unit fails under the name "#<index>".
func (o *Orchestrator) Run(units []Unit, cache *resolver.Cache) (Outcomes, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, errors.Wrapf(ErrNotIdle, "state %s", o.State())
	}
	defer o.state.Store(int32(StateCompleted))

	out := make(Outcomes, 0, len(units))
	for i, u := range units {
		if u == nil {
			name := fmt.Sprintf("#%d", i)
			err := &PatchFailure{Unit: name, Cause: errors.New("nil patch unit")}
			out = append(out, Outcome{Name: name, Result: Failure(err)})
			o.log.Warn("patch failed", zap.String("patch", name), zap.Error(err))
			continue
		}
		start := o.now()
		res := o.apply(u, cache)
		oc := Outcome{Name: u.Name(), Result: res, Duration: o.now().Sub(start)}
		out = append(out, oc)

		if res.OK() {
			o.log.Info("patch applied", zap.String("patch", oc.Name), zap.Duration("took", oc.Duration))
		} else {
			o.log.Warn("patch failed", zap.String("patch", oc.Name), zap.Error(res.Err()))
		}
	}
	return out, nil
}

// apply invokes one unit and folds both returned failures and panics into
// a *PatchFailure.
func (o *Orchestrator) apply(u Unit, cache *resolver.Cache) (res Result) {
	name := u.Name()
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = errors.Newf("%v", r)
			}
			res = Failure(&PatchFailure{Unit: name, Cause: cause, Panicked: true})
		}
	}()

	res = u.Apply(cache)
	if !res.OK() {
		var pf *PatchFailure
		if errors.As(res.Err(), &pf) && pf.Unit == name {
			return res
		}
		return Failure(&PatchFailure{Unit: name, Cause: res.Err()})
	}
	return res
}
