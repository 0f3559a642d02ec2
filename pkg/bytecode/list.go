package bytecode

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Instruction list errors.
var (
	ErrOutOfRange     = errors.New("instruction index out of range")
	ErrNilInsn        = errors.New("nil instruction")
	ErrDuplicateInsn  = errors.New("instruction already in list")
	ErrForeignLabel   = errors.New("label does not belong to this list")
	ErrDanglingLabel  = errors.New("label bound to instruction not in list")
	ErrOperandKind    = errors.New("operand does not match opcode")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrEmptyTryCatch  = errors.New("exception range is empty")
	ErrInvalidHandler = errors.New("exception handler is the end marker")
)

// Label is an opaque handle on an instruction node. A label bound to nil
// is the end marker, which sits after the last instruction.
type Label struct {
	id   int
	node *Insn
	list *List
}

// Node returns the instruction the label is bound to, or nil for the end
// marker.
func (l *Label) Node() *Insn {
	return l.node
}

// IsEnd reports whether the label is the end marker.
func (l *Label) IsEnd() bool {
	return l.node == nil
}

func (l *Label) String() string {
	if l == nil {
		return "L?"
	}
	return fmt.Sprintf("L%d", l.id)
}

// TryCatch is one exception-table entry. Start is inclusive, End is
// exclusive.
type TryCatch struct {
	Start   *Label
	End     *Label
	Handler *Label
	Type    string // internal name, empty for finally
}

// List is the instruction sequence of one method body.
//
// Nodes are addressed by index for editing. Labels and exception ranges
// hold node handles, so they survive edits that shift positions.
type List struct {
	insns  []*Insn
	labels []*Label
	tries  []*TryCatch
}

// NewList creates a list holding insns in order.
func NewList(insns ...*Insn) *List {
	l := &List{insns: make([]*Insn, 0, len(insns))}
	for _, in := range insns {
		if in == nil {
			continue
		}
		l.insns = append(l.insns, in)
	}
	return l
}

// Len returns the number of instructions.
func (l *List) Len() int {
	return len(l.insns)
}

// At returns the instruction at index i.
func (l *List) At(i int) (*Insn, error) {
	if i < 0 || i >= len(l.insns) {
		return nil, errors.Wrapf(ErrOutOfRange, "index %d, len %d", i, len(l.insns))
	}
	return l.insns[i], nil
}

// Insns returns a copy of the instruction slice.
func (l *List) Insns() []*Insn {
	out := make([]*Insn, len(l.insns))
	copy(out, l.insns)
	return out
}

// Opcodes returns the opcode of every instruction in order.
func (l *List) Opcodes() []Opcode {
	ops := make([]Opcode, len(l.insns))
	for i, in := range l.insns {
		ops[i] = in.Op
	}
	return ops
}

// IndexOf returns the current index of node, or -1.
func (l *List) IndexOf(node *Insn) int {
	for i, in := range l.insns {
		if in == node {
			return i
		}
	}
	return -1
}

// Contains reports whether node is in the list.
func (l *List) Contains(node *Insn) bool {
	return l.IndexOf(node) >= 0
}

// NewLabel creates a label bound to node. Pass nil for the end marker.
func (l *List) NewLabel(node *Insn) (*Label, error) {
	if node != nil && !l.Contains(node) {
		return nil, errors.Wrapf(ErrDanglingLabel, "new label on %s", node)
	}
	lbl := &Label{id: len(l.labels), node: node, list: l}
	l.labels = append(l.labels, lbl)
	return lbl, nil
}

// EndLabel creates a label on the end marker.
func (l *List) EndLabel() *Label {
	lbl, _ := l.NewLabel(nil)
	return lbl
}

// LabelAt creates a label bound to the instruction at index i. Index
// Len() yields the end marker.
func (l *List) LabelAt(i int) (*Label, error) {
	if i == len(l.insns) {
		return l.NewLabel(nil)
	}
	node, err := l.At(i)
	if err != nil {
		return nil, err
	}
	return l.NewLabel(node)
}

// Labels returns the labels of the list in creation order.
func (l *List) Labels() []*Label {
	out := make([]*Label, len(l.labels))
	copy(out, l.labels)
	return out
}

// Resolve returns the current index of lbl. The end marker resolves to
// Len().
func (l *List) Resolve(lbl *Label) (int, error) {
	if lbl == nil || lbl.list != l {
		return -1, ErrForeignLabel
	}
	if lbl.node == nil {
		return len(l.insns), nil
	}
	idx := l.IndexOf(lbl.node)
	if idx < 0 {
		return -1, errors.Wrapf(ErrDanglingLabel, "%s", lbl)
	}
	return idx, nil
}

// AddTryCatch registers an exception range. All three labels must belong
// to the list.
func (l *List) AddTryCatch(tc *TryCatch) error {
	for _, lbl := range []*Label{tc.Start, tc.End, tc.Handler} {
		if lbl == nil || lbl.list != l {
			return ErrForeignLabel
		}
	}
	if tc.Handler.IsEnd() {
		return ErrInvalidHandler
	}
	l.tries = append(l.tries, tc)
	return nil
}

// TryCatches returns the exception table.
func (l *List) TryCatches() []*TryCatch {
	out := make([]*TryCatch, len(l.tries))
	copy(out, l.tries)
	return out
}

func (l *List) checkNew(nodes []*Insn) error {
	seen := make(map[*Insn]struct{}, len(nodes))
	for _, n := range nodes {
		if n == nil {
			return ErrNilInsn
		}
		if _, dup := seen[n]; dup || l.Contains(n) {
			return errors.Wrapf(ErrDuplicateInsn, "%s", n)
		}
		seen[n] = struct{}{}
		for _, lbl := range operandLabels(n.Operand) {
			if lbl == nil || lbl.list != l {
				return errors.Wrapf(ErrForeignLabel, "%s", n)
			}
		}
	}
	return nil
}

// rebind moves every label bound to from onto to.
func (l *List) rebind(from, to *Insn) {
	for _, lbl := range l.labels {
		if lbl.node == from {
			lbl.node = to
		}
	}
}

// ReplaceAt swaps the instruction at index i for node. The length does
// not change. Labels bound to the old instruction move to node.
func (l *List) ReplaceAt(i int, node *Insn) error {
	if i < 0 || i >= len(l.insns) {
		return errors.Wrapf(ErrOutOfRange, "replace at %d, len %d", i, len(l.insns))
	}
	if node == l.insns[i] {
		return nil
	}
	if err := l.checkNew([]*Insn{node}); err != nil {
		return err
	}
	old := l.insns[i]
	l.insns[i] = node
	l.rebind(old, node)
	return nil
}

// InsertAt splices nodes in front of the instruction at index i, or
// appends them when i == Len(). Every instruction at or after i shifts by
// len(nodes). Labels keep their node, not their index.
//
// Indices held outside the list are not adjusted.
func (l *List) InsertAt(i int, nodes ...*Insn) error {
	if i < 0 || i > len(l.insns) {
		return errors.Wrapf(ErrOutOfRange, "insert at %d, len %d", i, len(l.insns))
	}
	if len(nodes) == 0 {
		return nil
	}
	if err := l.checkNew(nodes); err != nil {
		return err
	}
	grown := make([]*Insn, 0, len(l.insns)+len(nodes))
	grown = append(grown, l.insns[:i]...)
	grown = append(grown, nodes...)
	grown = append(grown, l.insns[i:]...)
	l.insns = grown
	return nil
}

// RemoveAt deletes the instruction at index i. Labels bound to it move to
// the instruction that followed it, or to the end marker.
//
// An exception range that covered only the removed instruction is
// dropped from the table. Removing the last instruction while it is a
// handler fails with ErrInvalidHandler and leaves the list unchanged.
func (l *List) RemoveAt(i int) error {
	if i < 0 || i >= len(l.insns) {
		return errors.Wrapf(ErrOutOfRange, "remove at %d, len %d", i, len(l.insns))
	}
	old := l.insns[i]
	var next *Insn
	if i+1 < len(l.insns) {
		next = l.insns[i+1]
	}
	if next == nil {
		for k, tc := range l.tries {
			if tc.Handler.node == old {
				return errors.Wrapf(ErrInvalidHandler, "remove at %d: handler of range %d", i, k)
			}
		}
	}

	kept := make([]*TryCatch, 0, len(l.tries))
	for _, tc := range l.tries {
		start, _ := l.Resolve(tc.Start)
		end, _ := l.Resolve(tc.End)
		if start == i && end == i+1 {
			continue
		}
		kept = append(kept, tc)
	}
	l.tries = kept

	l.insns = append(l.insns[:i], l.insns[i+1:]...)
	l.rebind(old, next)
	return nil
}

// Validate checks that every operand matches its opcode and that every
// label, jump target and exception endpoint resolves inside the list.
func (l *List) Validate() error {
	pos := make(map[*Insn]int, len(l.insns))
	for i, in := range l.insns {
		if in == nil {
			return errors.Wrapf(ErrNilInsn, "at %d", i)
		}
		if _, dup := pos[in]; dup {
			return errors.Wrapf(ErrDuplicateInsn, "at %d", i)
		}
		pos[in] = i
	}
	resolves := func(lbl *Label) bool {
		if lbl == nil || lbl.list != l {
			return false
		}
		if lbl.node == nil {
			return true
		}
		_, ok := pos[lbl.node]
		return ok
	}
	for _, lbl := range l.labels {
		if !resolves(lbl) {
			return errors.Wrapf(ErrDanglingLabel, "%s", lbl)
		}
	}
	for i, in := range l.insns {
		if !in.Op.Valid() {
			return errors.Wrapf(ErrUnknownOpcode, "0x%02x at %d", uint8(in.Op), i)
		}
		if operandOrNone(in.Operand).Kind() != in.Op.Kind() {
			return errors.Wrapf(ErrOperandKind, "%s at %d", in, i)
		}
		for _, lbl := range operandLabels(in.Operand) {
			if !resolves(lbl) {
				return errors.Wrapf(ErrDanglingLabel, "target of %s at %d", in.Op, i)
			}
		}
	}
	for i, tc := range l.tries {
		if !resolves(tc.Start) || !resolves(tc.End) || !resolves(tc.Handler) {
			return errors.Wrapf(ErrDanglingLabel, "exception range %d", i)
		}
		if tc.Handler.IsEnd() {
			return errors.Wrapf(ErrInvalidHandler, "exception range %d", i)
		}
		start, _ := l.Resolve(tc.Start)
		end, _ := l.Resolve(tc.End)
		if start >= end {
			return errors.Wrapf(ErrEmptyTryCatch, "range %d: %d..%d", i, start, end)
		}
	}
	return nil
}

// String disassembles the list, one instruction per line, with label
// definitions on their own line.
func (l *List) String() string {
	byNode := make(map[*Insn][]*Label)
	var end []*Label
	for _, lbl := range l.labels {
		if lbl.node == nil {
			end = append(end, lbl)
			continue
		}
		byNode[lbl.node] = append(byNode[lbl.node], lbl)
	}
	var b strings.Builder
	for i, in := range l.insns {
		for _, lbl := range byNode[in] {
			fmt.Fprintf(&b, "%s:\n", lbl)
		}
		fmt.Fprintf(&b, "%4d: %s\n", i, in)
	}
	for _, lbl := range end {
		fmt.Fprintf(&b, "%s:\n", lbl)
	}
	for _, tc := range l.tries {
		typ := tc.Type
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&b, "  try %s..%s -> %s (%s)\n", tc.Start, tc.End, tc.Handler, typ)
	}
	return b.String()
}
