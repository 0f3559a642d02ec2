package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Insn is one instruction node. Its identity is its pointer: labels,
// jump targets and exception ranges hold *Insn handles, never indices.
type Insn struct {
	Op      Opcode
	Operand Operand
}

// Operand is the payload of an instruction. The set of implementations
// is closed.
type Operand interface {
	Kind() OperandKind
	String() string
}

// NoOperand is the payload of instructions that take no operand.
type NoOperand struct{}

func (NoOperand) Kind() OperandKind { return KindNone }
func (NoOperand) String() string    { return "" }

// IntOperand carries an immediate integer (bipush, sipush, newarray).
type IntOperand struct {
	Value int32
}

func (IntOperand) Kind() OperandKind  { return KindInt }
func (o IntOperand) String() string { return strconv.Itoa(int(o.Value)) }

// ConstTag identifies what a ConstOperand holds.
type ConstTag uint8

const (
	ConstString ConstTag = iota
	ConstType
	ConstInt
	ConstLong
	ConstFloat
	ConstDouble
)

// ConstOperand is the operand of ldc.
type ConstOperand struct {
	Tag   ConstTag
	Str   string  // ConstString, ConstType (descriptor)
	Int   int64   // ConstInt, ConstLong
	Float float64 // ConstFloat, ConstDouble
}

func (ConstOperand) Kind() OperandKind { return KindConst }

func (o ConstOperand) String() string {
	switch o.Tag {
	case ConstString:
		return strconv.Quote(o.Str)
	case ConstType:
		return o.Str + ".class"
	case ConstInt:
		return strconv.FormatInt(o.Int, 10)
	case ConstLong:
		return strconv.FormatInt(o.Int, 10) + "L"
	case ConstFloat:
		return strconv.FormatFloat(o.Float, 'g', -1, 32) + "F"
	case ConstDouble:
		return strconv.FormatFloat(o.Float, 'g', -1, 64) + "D"
	default:
		return fmt.Sprintf("const(%d)", o.Tag)
	}
}

// TypeOperand names a class or array type (new, checkcast, anewarray...).
type TypeOperand struct {
	Desc string
	Dims uint8 // multianewarray only
}

func (TypeOperand) Kind() OperandKind { return KindType }

func (o TypeOperand) String() string {
	if o.Dims > 0 {
		return fmt.Sprintf("%s %d", o.Desc, o.Dims)
	}
	return o.Desc
}

// FieldRef is a symbolic field reference.
type FieldRef struct {
	Owner string
	Name  string
	Desc  string
}

func (FieldRef) Kind() OperandKind  { return KindField }
func (o FieldRef) String() string { return o.Owner + "." + o.Name + ":" + o.Desc }

// MethodRef is a symbolic method reference.
type MethodRef struct {
	Owner     string
	Name      string
	Desc      string
	Interface bool
}

func (MethodRef) Kind() OperandKind  { return KindMethod }
func (o MethodRef) String() string { return o.Owner + "." + o.Name + o.Desc }

// JumpOperand targets a label in the same list.
type JumpOperand struct {
	Target *Label
}

func (JumpOperand) Kind() OperandKind  { return KindJump }
func (o JumpOperand) String() string { return o.Target.String() }

// VarOperand is a local variable slot.
type VarOperand struct {
	Index uint16
}

func (VarOperand) Kind() OperandKind  { return KindVar }
func (o VarOperand) String() string { return strconv.Itoa(int(o.Index)) }

// IincOperand is the operand of iinc.
type IincOperand struct {
	Index uint16
	Delta int16
}

func (IincOperand) Kind() OperandKind { return KindIinc }

func (o IincOperand) String() string {
	return fmt.Sprintf("%d %+d", o.Index, o.Delta)
}

// SwitchOperand is the operand of tableswitch and lookupswitch.
// For tableswitch, Keys holds the consecutive range low..high.
type SwitchOperand struct {
	Default *Label
	Keys    []int32
	Targets []*Label
}

func (SwitchOperand) Kind() OperandKind { return KindSwitch }

func (o SwitchOperand) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range o.Keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: %s", k, o.Targets[i])
	}
	fmt.Fprintf(&b, "; default: %s}", o.Default)
	return b.String()
}

// operandLabels returns every label referenced by the operand.
func operandLabels(op Operand) []*Label {
	switch o := op.(type) {
	case JumpOperand:
		return []*Label{o.Target}
	case SwitchOperand:
		out := make([]*Label, 0, len(o.Targets)+1)
		out = append(out, o.Default)
		return append(out, o.Targets...)
	}
	return nil
}

// Op creates an instruction without operand.
func Op(op Opcode) *Insn {
	return &Insn{Op: op, Operand: NoOperand{}}
}

// Int creates an instruction with an immediate integer.
func Int(op Opcode, v int32) *Insn {
	return &Insn{Op: op, Operand: IntOperand{Value: v}}
}

// LdcString creates ldc with a string constant.
func LdcString(s string) *Insn {
	return &Insn{Op: OpLdc, Operand: ConstOperand{Tag: ConstString, Str: s}}
}

// LdcType creates ldc with a class constant.
func LdcType(desc string) *Insn {
	return &Insn{Op: OpLdc, Operand: ConstOperand{Tag: ConstType, Str: desc}}
}

// LdcInt creates ldc with an int constant.
func LdcInt(v int32) *Insn {
	return &Insn{Op: OpLdc, Operand: ConstOperand{Tag: ConstInt, Int: int64(v)}}
}

// Type creates a type instruction.
func Type(op Opcode, desc string) *Insn {
	return &Insn{Op: op, Operand: TypeOperand{Desc: desc}}
}

// Field creates a field access instruction.
func Field(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Op: op, Operand: FieldRef{Owner: owner, Name: name, Desc: desc}}
}

// Method creates a method invocation.
func Method(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Op: op, Operand: MethodRef{
		Owner:     owner,
		Name:      name,
		Desc:      desc,
		Interface: op == OpInvokeinterface,
	}}
}

// Jump creates a branch to target.
func Jump(op Opcode, target *Label) *Insn {
	return &Insn{Op: op, Operand: JumpOperand{Target: target}}
}

// Var creates a local variable instruction.
func Var(op Opcode, index uint16) *Insn {
	return &Insn{Op: op, Operand: VarOperand{Index: index}}
}

// Iinc creates an iinc instruction.
func Iinc(index uint16, delta int16) *Insn {
	return &Insn{Op: OpIinc, Operand: IincOperand{Index: index, Delta: delta}}
}

func (in *Insn) String() string {
	if in == nil {
		return "<nil>"
	}
	if in.Operand == nil {
		return in.Op.String()
	}
	if s := in.Operand.String(); s != "" {
		return in.Op.String() + " " + s
	}
	return in.Op.String()
}

// Equal reports whether a and b have the same opcode and operand.
// Jump and switch targets are compared by label identity.
func Equal(a, b *Insn) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Op != b.Op {
		return false
	}
	sa, ok := a.Operand.(SwitchOperand)
	if !ok {
		return operandOrNone(a.Operand) == operandOrNone(b.Operand)
	}
	sb, ok := b.Operand.(SwitchOperand)
	if !ok || sa.Default != sb.Default || len(sa.Keys) != len(sb.Keys) || len(sa.Targets) != len(sb.Targets) {
		return false
	}
	for i := range sa.Keys {
		if sa.Keys[i] != sb.Keys[i] {
			return false
		}
	}
	for i := range sa.Targets {
		if sa.Targets[i] != sb.Targets[i] {
			return false
		}
	}
	return true
}

func operandOrNone(op Operand) Operand {
	if op == nil {
		return NoOperand{}
	}
	return op
}
