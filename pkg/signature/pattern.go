package signature

import (
	"strings"

	"github.com/fortiblox/X1-Patcher/pkg/bytecode"
)

// PatternElem is one position of an opcode pattern: a fixed opcode or
// the wildcard.
type PatternElem struct {
	op  bytecode.Opcode
	any bool
}

// Any matches every opcode.
var Any = PatternElem{any: true}

// Op returns a pattern element that matches exactly op.
func Op(op bytecode.Opcode) PatternElem {
	return PatternElem{op: op}
}

// Matches reports whether the element accepts op.
func (e PatternElem) Matches(op bytecode.Opcode) bool {
	return e.any || e.op == op
}

// IsWildcard reports whether e is Any.
func (e PatternElem) IsWildcard() bool {
	return e.any
}

// Opcode returns the fixed opcode. It is meaningless for the wildcard.
func (e PatternElem) Opcode() bytecode.Opcode {
	return e.op
}

func (e PatternElem) String() string {
	if e.any {
		return "*"
	}
	return e.op.String()
}

// Pattern is a contiguous opcode pattern.
type Pattern []PatternElem

// Ops builds a pattern without wildcards.
func Ops(ops ...bytecode.Opcode) Pattern {
	p := make(Pattern, len(ops))
	for i, op := range ops {
		p[i] = Op(op)
	}
	return p
}

// ParsePattern reads mnemonics, with "*" or "?" for the wildcard.
func ParsePattern(items []string) (Pattern, error) {
	p := make(Pattern, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "*" || it == "?" {
			p = append(p, Any)
			continue
		}
		op, err := bytecode.ParseOpcode(it)
		if err != nil {
			return nil, err
		}
		p = append(p, Op(op))
	}
	return p, nil
}

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FindOpcodes returns the lowest index at which pattern matches ops.
//
// The scan is a plain sliding window, O(len(ops)·len(pattern)). Method
// bodies are short and matching runs once per signature.
func FindOpcodes(ops []bytecode.Opcode, pattern Pattern) (int, bool) {
	m := len(pattern)
	if m == 0 || m > len(ops) {
		return -1, false
	}
outer:
	for i := 0; i <= len(ops)-m; i++ {
		for j, e := range pattern {
			if !e.Matches(ops[i+j]) {
				continue outer
			}
		}
		return i, true
	}
	return -1, false
}

// Find returns the lowest index at which pattern matches the opcodes of
// list.
func Find(list *bytecode.List, pattern Pattern) (int, bool) {
	if list == nil {
		return -1, false
	}
	return FindOpcodes(list.Opcodes(), pattern)
}

// MatchesAt reports whether pattern matches list starting exactly at i.
func MatchesAt(list *bytecode.List, pattern Pattern, i int) bool {
	if list == nil || len(pattern) == 0 || i < 0 || i+len(pattern) > list.Len() {
		return false
	}
	for j, e := range pattern {
		in, err := list.At(i + j)
		if err != nil || !e.Matches(in.Op) {
			return false
		}
	}
	return true
}

// FindFrom is Find restricted to start indices >= from.
func FindFrom(list *bytecode.List, pattern Pattern, from int) (int, bool) {
	if list == nil || from < 0 {
		return -1, false
	}
	ops := list.Opcodes()
	if from > len(ops) {
		return -1, false
	}
	idx, ok := FindOpcodes(ops[from:], pattern)
	if !ok {
		return -1, false
	}
	return from + idx, true
}
