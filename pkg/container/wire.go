package container

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"

	bc "github.com/fortiblox/X1-Patcher/pkg/bytecode"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

// Wire forms. Labels are stored in a per-method table of node indices,
// with Len() meaning the end marker; operands and exception ranges refer
// to labels by their position in that table.

type wireClass struct {
	Name       string       `cbor:"1,keyasint"`
	Super      string       `cbor:"2,keyasint,omitempty"`
	Interfaces []string     `cbor:"3,keyasint,omitempty"`
	Access     uint16       `cbor:"4,keyasint"`
	Methods    []wireMethod `cbor:"5,keyasint"`
}

type wireMethod struct {
	Name       string    `cbor:"1,keyasint"`
	Descriptor string    `cbor:"2,keyasint"`
	Access     uint16    `cbor:"3,keyasint"`
	MaxStack   uint16    `cbor:"4,keyasint,omitempty"`
	MaxLocals  uint16    `cbor:"5,keyasint,omitempty"`
	Code       *wireCode `cbor:"6,keyasint,omitempty"`
}

type wireCode struct {
	Insns  []wireInsn `cbor:"1,keyasint"`
	Labels []int      `cbor:"2,keyasint,omitempty"`
	Tries  []wireTry  `cbor:"3,keyasint,omitempty"`
}

type wireInsn struct {
	Op      uint8   `cbor:"1,keyasint"`
	Int     int64   `cbor:"2,keyasint,omitempty"`
	Tag     uint8   `cbor:"3,keyasint,omitempty"`
	Str     string  `cbor:"4,keyasint,omitempty"`
	Float   float64 `cbor:"5,keyasint,omitempty"`
	Owner   string  `cbor:"6,keyasint,omitempty"`
	Name    string  `cbor:"7,keyasint,omitempty"`
	Desc    string  `cbor:"8,keyasint,omitempty"`
	Iface   bool    `cbor:"9,keyasint,omitempty"`
	Dims    uint8   `cbor:"10,keyasint,omitempty"`
	Var     uint16  `cbor:"11,keyasint,omitempty"`
	Delta   int16   `cbor:"12,keyasint,omitempty"`
	Target  int     `cbor:"13,keyasint,omitempty"`
	Keys    []int32 `cbor:"14,keyasint,omitempty"`
	Targets []int   `cbor:"15,keyasint,omitempty"`
}

type wireTry struct {
	Start   int    `cbor:"1,keyasint"`
	End     int    `cbor:"2,keyasint"`
	Handler int    `cbor:"3,keyasint"`
	Type    string `cbor:"4,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("container: cbor enc mode: %v", err))
	}
	encMode = em
}

// marshalClass encodes c deterministically, so equal classes hash equal.
func marshalClass(c *classfile.Class) ([]byte, error) {
	wc := wireClass{
		Name:       c.Name,
		Super:      c.Super,
		Interfaces: c.Interfaces,
		Access:     uint16(c.Access),
		Methods:    make([]wireMethod, 0, len(c.Methods)),
	}
	for _, m := range c.Methods {
		wm := wireMethod{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Access:     uint16(m.Access),
			MaxStack:   m.MaxStack,
			MaxLocals:  m.MaxLocals,
		}
		if m.Code != nil {
			code, err := encodeCode(m.Code)
			if err != nil {
				return nil, errors.Wrapf(err, "method %s", m.ID())
			}
			wm.Code = code
		}
		wc.Methods = append(wc.Methods, wm)
	}
	return encMode.Marshal(wc)
}

func encodeCode(l *bc.List) (*wireCode, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	labels := l.Labels()
	index := make(map[*bc.Label]int, len(labels))
	code := &wireCode{
		Insns:  make([]wireInsn, 0, l.Len()),
		Labels: make([]int, len(labels)),
	}
	for i, lbl := range labels {
		pos, err := l.Resolve(lbl)
		if err != nil {
			return nil, err
		}
		index[lbl] = i
		code.Labels[i] = pos
	}

	for _, in := range l.Insns() {
		w := wireInsn{Op: uint8(in.Op)}
		switch o := in.Operand.(type) {
		case nil, bc.NoOperand:
		case bc.IntOperand:
			w.Int = int64(o.Value)
		case bc.ConstOperand:
			w.Tag, w.Str, w.Int, w.Float = uint8(o.Tag), o.Str, o.Int, o.Float
		case bc.TypeOperand:
			w.Desc, w.Dims = o.Desc, o.Dims
		case bc.FieldRef:
			w.Owner, w.Name, w.Desc = o.Owner, o.Name, o.Desc
		case bc.MethodRef:
			w.Owner, w.Name, w.Desc, w.Iface = o.Owner, o.Name, o.Desc, o.Interface
		case bc.JumpOperand:
			w.Target = index[o.Target]
		case bc.VarOperand:
			w.Var = o.Index
		case bc.IincOperand:
			w.Var, w.Delta = o.Index, o.Delta
		case bc.SwitchOperand:
			w.Target = index[o.Default]
			w.Keys = o.Keys
			w.Targets = make([]int, len(o.Targets))
			for i, t := range o.Targets {
				w.Targets[i] = index[t]
			}
		default:
			return nil, errors.Newf("unsupported operand %T", o)
		}
		code.Insns = append(code.Insns, w)
	}

	for _, tc := range l.TryCatches() {
		code.Tries = append(code.Tries, wireTry{
			Start:   index[tc.Start],
			End:     index[tc.End],
			Handler: index[tc.Handler],
			Type:    tc.Type,
		})
	}
	return code, nil
}

func unmarshalClass(data []byte) (*classfile.Class, error) {
	var wc wireClass
	if err := cbor.Unmarshal(data, &wc); err != nil {
		return nil, errors.Wrap(err, "decode class")
	}
	c := classfile.NewClass(wc.Name, wc.Super, classfile.AccessFlags(wc.Access))
	c.Interfaces = wc.Interfaces
	for _, wm := range wc.Methods {
		m := &classfile.Method{
			Name:       wm.Name,
			Descriptor: wm.Descriptor,
			Access:     classfile.AccessFlags(wm.Access),
			MaxStack:   wm.MaxStack,
			MaxLocals:  wm.MaxLocals,
		}
		if wm.Code != nil {
			code, err := decodeCode(wm.Code)
			if err != nil {
				return nil, errors.Wrapf(err, "method %s.%s%s", wc.Name, wm.Name, wm.Descriptor)
			}
			m.Code = code
		}
		c.AddMethod(m)
	}
	return c, nil
}

// decodeCode builds the nodes first, then the labels, then patches the
// label operands in.
func decodeCode(wc *wireCode) (*bc.List, error) {
	nodes := make([]*bc.Insn, len(wc.Insns))
	for i, w := range wc.Insns {
		op := bc.Opcode(w.Op)
		if !op.Valid() {
			return nil, errors.Wrapf(ErrCorruptedData, "opcode 0x%02x at %d", w.Op, i)
		}
		in := &bc.Insn{Op: op, Operand: bc.NoOperand{}}
		switch op.Kind() {
		case bc.KindInt:
			in.Operand = bc.IntOperand{Value: int32(w.Int)}
		case bc.KindConst:
			in.Operand = bc.ConstOperand{Tag: bc.ConstTag(w.Tag), Str: w.Str, Int: w.Int, Float: w.Float}
		case bc.KindType:
			in.Operand = bc.TypeOperand{Desc: w.Desc, Dims: w.Dims}
		case bc.KindField:
			in.Operand = bc.FieldRef{Owner: w.Owner, Name: w.Name, Desc: w.Desc}
		case bc.KindMethod:
			in.Operand = bc.MethodRef{Owner: w.Owner, Name: w.Name, Desc: w.Desc, Interface: w.Iface}
		case bc.KindVar:
			in.Operand = bc.VarOperand{Index: w.Var}
		case bc.KindIinc:
			in.Operand = bc.IincOperand{Index: w.Var, Delta: w.Delta}
		}
		nodes[i] = in
	}
	list := bc.NewList(nodes...)

	labels := make([]*bc.Label, len(wc.Labels))
	for i, pos := range wc.Labels {
		lbl, err := list.LabelAt(pos)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptedData, "label %d at %d", i, pos)
		}
		labels[i] = lbl
	}
	label := func(i int) (*bc.Label, error) {
		if i < 0 || i >= len(labels) {
			return nil, errors.Wrapf(ErrCorruptedData, "label index %d", i)
		}
		return labels[i], nil
	}

	for i, w := range wc.Insns {
		switch nodes[i].Op.Kind() {
		case bc.KindJump:
			t, err := label(w.Target)
			if err != nil {
				return nil, err
			}
			nodes[i].Operand = bc.JumpOperand{Target: t}
		case bc.KindSwitch:
			def, err := label(w.Target)
			if err != nil {
				return nil, err
			}
			so := bc.SwitchOperand{Default: def, Keys: w.Keys, Targets: make([]*bc.Label, len(w.Targets))}
			for j, ti := range w.Targets {
				if so.Targets[j], err = label(ti); err != nil {
					return nil, err
				}
			}
			nodes[i].Operand = so
		}
	}

	for i, wt := range wc.Tries {
		start, err := label(wt.Start)
		if err != nil {
			return nil, err
		}
		end, err := label(wt.End)
		if err != nil {
			return nil, err
		}
		handler, err := label(wt.Handler)
		if err != nil {
			return nil, err
		}
		if err := list.AddTryCatch(&bc.TryCatch{Start: start, End: end, Handler: handler, Type: wt.Type}); err != nil {
			return nil, errors.Wrapf(err, "exception range %d", i)
		}
	}

	if err := list.Validate(); err != nil {
		return nil, errors.Mark(err, ErrCorruptedData)
	}
	return list, nil
}
