package patch

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	bc "github.com/fortiblox/X1-Patcher/pkg/bytecode"
	"github.com/fortiblox/X1-Patcher/pkg/resolver"
)

// Edit actions.
const (
	ActionReplace = "replace"
	ActionInsert  = "insert"
	ActionRemove  = "remove"
)

// ErrBadEdit is returned for edits that cannot be turned into
// instructions.
var ErrBadEdit = errors.New("invalid edit")

// InsnDef is one instruction in a script. Which fields are read depends
// on the operand kind of Op. Target is a jump offset relative to the
// match start.
type InsnDef struct {
	Op     string   `toml:"op"`
	Int    *int32   `toml:"int"`
	Long   *int64   `toml:"long"`
	Float  *float64 `toml:"float"`
	Double *float64 `toml:"double"`
	String *string  `toml:"string"`
	Type   string   `toml:"type"`
	Owner  string   `toml:"owner"`
	Name   string   `toml:"name"`
	Desc   string   `toml:"desc"`
	Var    uint16   `toml:"var"`
	Delta  int16    `toml:"delta"`
	Target *int     `toml:"target"`
}

// Edit is one positional change. Offset is relative to the match start.
type Edit struct {
	Action string    `toml:"action"`
	Offset int       `toml:"offset"`
	Count  int       `toml:"count"` // remove only, default 1
	Insns  []InsnDef `toml:"insns"`
}

// Script is a declarative patch against one resolved signature.
//
//	[[patch]]
//	name      = "greeting"
//	signature = "mainMethod"
//
//	  [[patch.edit]]
//	  action = "replace"
//	  offset = 0
//	  insns  = [{ op = "ldc", string = "y" }]
type Script struct {
	Name      string `toml:"name"`
	Signature string `toml:"signature"`
	Edits     []Edit `toml:"edit"`
}

type scriptFile struct {
	Patches []Script `toml:"patch"`
}

// LoadScripts reads scripts from a TOML file.
func LoadScripts(path string) ([]Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scripts %s", path)
	}
	scripts, err := ParseScripts(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse scripts %s", path)
	}
	return scripts, nil
}

// ParseScripts decodes scripts in file order and checks their structure.
func ParseScripts(data []byte) ([]Script, error) {
	var f scriptFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode toml")
	}
	for i, s := range f.Patches {
		if err := s.check(); err != nil {
			return nil, errors.Wrapf(err, "patch #%d (%s)", i, s.Name)
		}
	}
	return f.Patches, nil
}

func (s Script) check() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.Wrap(ErrBadEdit, "missing name")
	}
	if s.Signature == "" {
		return errors.Wrap(ErrBadEdit, "missing signature")
	}
	for i, e := range s.Edits {
		switch e.Action {
		case ActionReplace:
			if len(e.Insns) != 1 {
				return errors.Wrapf(ErrBadEdit, "edit %d: replace takes one instruction", i)
			}
		case ActionInsert:
			if len(e.Insns) == 0 {
				return errors.Wrapf(ErrBadEdit, "edit %d: insert without instructions", i)
			}
		case ActionRemove:
			if e.Count < 0 || len(e.Insns) > 0 {
				return errors.Wrapf(ErrBadEdit, "edit %d: remove takes a count only", i)
			}
		default:
			return errors.Wrapf(ErrBadEdit, "edit %d: unknown action %q", i, e.Action)
		}
		for _, in := range e.Insns {
			if _, err := bc.ParseOpcode(in.Op); err != nil {
				return errors.Wrapf(err, "edit %d", i)
			}
		}
	}
	return nil
}

// Unit turns the script into a patch unit.
func (s Script) Unit() Unit {
	return New(s.Name, s.apply)
}

// apply reads the match index fresh, then runs the edits in order. The
// base index is moved past the script's own edits that land before it.
func (s Script) apply(cache *resolver.Cache) Result {
	m, err := cache.Lookup(s.Signature)
	if err != nil {
		return Failure(err)
	}
	if !m.Method.HasCode() {
		return Failure(errors.Newf("%s has no code", m.Method.ID()))
	}
	base, err := cache.Rescan(s.Signature)
	if err != nil {
		return Failure(err)
	}

	list := m.Method.Code
	for i, e := range s.Edits {
		pos := base + e.Offset
		switch e.Action {
		case ActionReplace:
			nodes, err := buildAll(list, base, e.Insns)
			if err != nil {
				return Failure(errors.Wrapf(err, "edit %d", i))
			}
			err = list.ReplaceAt(pos, nodes[0])
			if err != nil {
				return Failure(errors.Wrapf(err, "edit %d", i))
			}
		case ActionInsert:
			nodes, err := buildAll(list, base, e.Insns)
			if err != nil {
				return Failure(errors.Wrapf(err, "edit %d", i))
			}
			if err := list.InsertAt(pos, nodes...); err != nil {
				return Failure(errors.Wrapf(err, "edit %d", i))
			}
			if pos <= base {
				base += len(nodes)
			}
		case ActionRemove:
			n := e.Count
			if n == 0 {
				n = 1
			}
			for k := 0; k < n; k++ {
				if err := list.RemoveAt(pos); err != nil {
					return Failure(errors.Wrapf(err, "edit %d", i))
				}
				if pos < base {
					base--
				}
			}
		default:
			return Failure(errors.Wrapf(ErrBadEdit, "edit %d: unknown action %q", i, e.Action))
		}
	}
	return Success()
}

func buildAll(list *bc.List, base int, defs []InsnDef) ([]*bc.Insn, error) {
	nodes := make([]*bc.Insn, len(defs))
	for i, sp := range defs {
		in, err := sp.Build(list, base)
		if err != nil {
			return nil, err
		}
		nodes[i] = in
	}
	return nodes, nil
}

// Build creates the instruction. list and base are used only for jumps,
// whose label is bound to the instruction currently at base+Target.
func (sp InsnDef) Build(list *bc.List, base int) (*bc.Insn, error) {
	op, err := bc.ParseOpcode(sp.Op)
	if err != nil {
		return nil, err
	}
	switch op.Kind() {
	case bc.KindNone:
		return bc.Op(op), nil
	case bc.KindInt:
		if sp.Int == nil {
			return nil, errors.Wrapf(ErrBadEdit, "%s needs int", op)
		}
		return bc.Int(op, *sp.Int), nil
	case bc.KindConst:
		return sp.constant()
	case bc.KindType:
		if sp.Type == "" {
			return nil, errors.Wrapf(ErrBadEdit, "%s needs type", op)
		}
		return bc.Type(op, sp.Type), nil
	case bc.KindField:
		if sp.Owner == "" || sp.Name == "" || sp.Desc == "" {
			return nil, errors.Wrapf(ErrBadEdit, "%s needs owner, name and desc", op)
		}
		return bc.Field(op, sp.Owner, sp.Name, sp.Desc), nil
	case bc.KindMethod:
		if sp.Owner == "" || sp.Name == "" || sp.Desc == "" {
			return nil, errors.Wrapf(ErrBadEdit, "%s needs owner, name and desc", op)
		}
		return bc.Method(op, sp.Owner, sp.Name, sp.Desc), nil
	case bc.KindVar:
		return bc.Var(op, sp.Var), nil
	case bc.KindIinc:
		return bc.Iinc(sp.Var, sp.Delta), nil
	case bc.KindJump:
		if sp.Target == nil || list == nil {
			return nil, errors.Wrapf(ErrBadEdit, "%s needs target", op)
		}
		lbl, err := list.LabelAt(base + *sp.Target)
		if err != nil {
			return nil, err
		}
		return bc.Jump(op, lbl), nil
	default:
		return nil, errors.Wrapf(ErrBadEdit, "%s is not supported in scripts", op)
	}
}

func (sp InsnDef) constant() (*bc.Insn, error) {
	var c bc.ConstOperand
	switch {
	case sp.String != nil:
		c = bc.ConstOperand{Tag: bc.ConstString, Str: *sp.String}
	case sp.Type != "":
		c = bc.ConstOperand{Tag: bc.ConstType, Str: sp.Type}
	case sp.Int != nil:
		c = bc.ConstOperand{Tag: bc.ConstInt, Int: int64(*sp.Int)}
	case sp.Long != nil:
		c = bc.ConstOperand{Tag: bc.ConstLong, Int: *sp.Long}
	case sp.Float != nil:
		c = bc.ConstOperand{Tag: bc.ConstFloat, Float: *sp.Float}
	case sp.Double != nil:
		c = bc.ConstOperand{Tag: bc.ConstDouble, Float: *sp.Double}
	default:
		return nil, errors.Wrap(ErrBadEdit, "ldc needs a constant")
	}
	return &bc.Insn{Op: bc.OpLdc, Operand: c}, nil
}
