// Package signature describes methods by shape and opcode pattern and
// matches those descriptions against decoded methods.
package signature

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/fortiblox/X1-Patcher/internal/types"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

var (
	// ErrEmptyName is returned for a signature without a name.
	ErrEmptyName = errors.New("signature name is empty")

	// ErrEmptyPattern is returned for a signature without an opcode pattern.
	ErrEmptyPattern = errors.New("signature pattern is empty")
)

// ParamType is one parameter slot of a signature: a concrete type, or
// the ArrayAny placeholder.
type ParamType struct {
	typ      classfile.Type
	anyArray bool
}

// ArrayAny matches any array-typed parameter regardless of element type.
var ArrayAny = ParamType{anyArray: true}

// Param returns a slot that matches exactly t.
func Param(t classfile.Type) ParamType {
	return ParamType{typ: t}
}

// Params converts types into exact slots.
func Params(ts ...classfile.Type) []ParamType {
	out := make([]ParamType, len(ts))
	for i, t := range ts {
		out[i] = Param(t)
	}
	return out
}

// Accepts reports whether the slot matches t.
func (p ParamType) Accepts(t classfile.Type) bool {
	if p.anyArray {
		return t.IsArray()
	}
	return p.typ == t
}

func (p ParamType) String() string {
	if p.anyArray {
		return "[*"
	}
	return p.typ.Descriptor()
}

// Signature is an immutable description of a method to locate.
type Signature struct {
	name    string
	ret     classfile.Type
	access  classfile.AccessFlags
	params  []ParamType
	pattern Pattern
}

// New builds a signature. The name and the pattern must be non-empty.
func New(name string, ret classfile.Type, access classfile.AccessFlags, params []ParamType, pattern Pattern) (*Signature, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if len(pattern) == 0 {
		return nil, errors.Wrapf(ErrEmptyPattern, "signature %q", name)
	}
	s := &Signature{
		name:    name,
		ret:     ret,
		access:  access,
		params:  append([]ParamType(nil), params...),
		pattern: append(Pattern(nil), pattern...),
	}
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(name string, ret classfile.Type, access classfile.AccessFlags, params []ParamType, pattern Pattern) *Signature {
	s, err := New(name, ret, access, params, pattern)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the cache key of the signature.
func (s *Signature) Name() string { return s.name }

// ReturnType returns the declared return type.
func (s *Signature) ReturnType() classfile.Type { return s.ret }

// Access returns the access-flag mask.
func (s *Signature) Access() classfile.AccessFlags { return s.access }

// Params returns a copy of the parameter slots.
func (s *Signature) Params() []ParamType {
	return append([]ParamType(nil), s.params...)
}

// Pattern returns a copy of the opcode pattern.
func (s *Signature) Pattern() Pattern {
	return append(Pattern(nil), s.pattern...)
}

// MatchesShape reports whether m has the declared return type, exactly
// the declared access flags, and structurally equal parameters.
func (s *Signature) MatchesShape(m *classfile.Method) bool {
	if m.Access != s.access {
		return false
	}
	ret, params, err := m.Shape()
	if err != nil {
		return false
	}
	if ret != s.ret || len(params) != len(s.params) {
		return false
	}
	for i, p := range s.params {
		if !p.Accepts(params[i]) {
			return false
		}
	}
	return true
}

// Match checks shape and body. It returns the earliest start index of
// the pattern in m's body.
func (s *Signature) Match(m *classfile.Method) (int, bool) {
	if !m.HasCode() || !s.MatchesShape(m) {
		return -1, false
	}
	return Find(m.Code, s.pattern)
}

// String renders the signature as name: access ret(params) pattern.
func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.name)
	b.WriteString(": ")
	b.WriteString(s.access.String())
	b.WriteString(" (")
	for _, p := range s.params {
		b.WriteString(p.String())
	}
	b.WriteString(")")
	b.WriteString(s.ret.Descriptor())
	b.WriteString(" ")
	b.WriteString(s.pattern.String())
	return b.String()
}

// Fingerprint is a stable digest of everything that affects matching.
func (s *Signature) Fingerprint() types.Digest {
	return types.Blake3Sum([]byte(s.String()))
}
