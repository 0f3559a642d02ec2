// Package patch runs named patch units against a resolution cache and
// collects one outcome per unit.
package patch

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fortiblox/X1-Patcher/pkg/resolver"
)

// Result is what a unit reports: success, or failure with a cause.
type Result struct {
	err error
}

// Success returns the success result.
func Success() Result {
	return Result{}
}

// Failure returns a failed result. A nil cause still counts as failure.
func Failure(cause error) Result {
	if cause == nil {
		cause = errors.New("patch failed")
	}
	return Result{err: cause}
}

// FromError is Success for nil and Failure otherwise.
func FromError(err error) Result {
	if err == nil {
		return Success()
	}
	return Failure(err)
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.err == nil
}

// Err returns the failure cause, or nil.
func (r Result) Err() error {
	return r.err
}

func (r Result) String() string {
	if r.OK() {
		return "success"
	}
	return "failure: " + r.err.Error()
}

// Unit is one named patch. Apply edits resolved methods in place.
type Unit interface {
	Name() string
	Apply(cache *resolver.Cache) Result
}

type funcUnit struct {
	name string
	fn   func(*resolver.Cache) Result
}

// New adapts fn into a Unit.
func New(name string, fn func(cache *resolver.Cache) Result) Unit {
	return &funcUnit{name: name, fn: fn}
}

func (u *funcUnit) Name() string                       { return u.name }
func (u *funcUnit) Apply(cache *resolver.Cache) Result { return u.fn(cache) }

// PatchFailure is the cause recorded for a failed unit.
type PatchFailure struct {
	Unit     string
	Cause    error
	Panicked bool
}

func (f *PatchFailure) Error() string {
	if f.Panicked {
		return fmt.Sprintf("patch %q panicked: %v", f.Unit, f.Cause)
	}
	return fmt.Sprintf("patch %q: %v", f.Unit, f.Cause)
}

func (f *PatchFailure) Unwrap() error {
	return f.Cause
}

// Outcome is the result of one unit in one run.
type Outcome struct {
	Name     string
	Result   Result
	Duration time.Duration
}

// Outcomes holds one outcome per unit in run order.
type Outcomes []Outcome

// Get returns the outcome for name.
func (o Outcomes) Get(name string) (Outcome, bool) {
	for _, oc := range o {
		if oc.Name == name {
			return oc, true
		}
	}
	return Outcome{}, false
}

// Failed returns the outcomes that did not succeed.
func (o Outcomes) Failed() Outcomes {
	var out Outcomes
	for _, oc := range o {
		if !oc.Result.OK() {
			out = append(out, oc)
		}
	}
	return out
}

// Err joins every failure cause, or returns nil when all units succeeded.
func (o Outcomes) Err() error {
	var err error
	for _, oc := range o.Failed() {
		err = errors.CombineErrors(err, oc.Result.Err())
	}
	return err
}

// Map returns outcomes keyed by unit name.
func (o Outcomes) Map() map[string]Result {
	m := make(map[string]Result, len(o))
	for _, oc := range o {
		m[oc.Name] = oc.Result
	}
	return m
}
