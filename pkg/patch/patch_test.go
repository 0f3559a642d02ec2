package patch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	bc "github.com/fortiblox/X1-Patcher/pkg/bytecode"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
	"github.com/fortiblox/X1-Patcher/pkg/resolver"
	"github.com/fortiblox/X1-Patcher/pkg/signature"
)

const pubStatic = classfile.AccPublic | classfile.AccStatic

// fixture resolves "main" against a body of [ldc "x", invokevirtual].
func fixture(t *testing.T) (*resolver.Cache, *classfile.Method) {
	t.Helper()
	m := &classfile.Method{
		Name:       "main",
		Descriptor: "([Ljava/lang/String;)V",
		Access:     pubStatic,
		Code: bc.NewList(
			bc.LdcString("x"),
			bc.Method(bc.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
		),
	}
	cls := classfile.NewClass("Main", "java/lang/Object", classfile.AccPublic, m)
	sig := signature.MustNew("main", classfile.Void, pubStatic,
		[]signature.ParamType{signature.ArrayAny}, signature.Ops(bc.OpLdc, bc.OpInvokevirtual))
	cache, err := resolver.Resolve(classfile.StaticProvider{cls}, []*signature.Signature{sig})
	require.NoError(t, err)
	return cache, m
}

func TestResult(t *testing.T) {
	assert.True(t, Success().OK())
	assert.NoError(t, Success().Err())
	assert.Equal(t, "success", Success().String())

	f := Failure(errors.New("boom"))
	assert.False(t, f.OK())
	assert.EqualError(t, f.Err(), "boom")

	assert.False(t, Failure(nil).OK())
	assert.True(t, FromError(nil).OK())
	assert.False(t, FromError(errors.New("x")).OK())
}

func TestRunOrdering(t *testing.T) {
	cache, m := fixture(t)
	var seen string

	a := New("A", func(c *resolver.Cache) Result {
		list := c.MustLookup("main").Method.Code
		return FromError(list.ReplaceAt(0, bc.LdcString("from A")))
	})
	b := New("B", func(c *resolver.Cache) Result {
		in, err := c.MustLookup("main").Method.Code.At(0)
		if err != nil {
			return Failure(err)
		}
		seen = in.Operand.(bc.ConstOperand).Str
		return Success()
	})

	o := NewOrchestrator(zaptest.NewLogger(t))
	assert.Equal(t, StateIdle, o.State())
	out, err := o.Run([]Unit{a, b}, cache)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, o.State())

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Name)
	assert.Equal(t, "B", out[1].Name)
	assert.NoError(t, out.Err())
	assert.Equal(t, "from A", seen)
	assert.Equal(t, 2, m.Code.Len())
}

func TestRunFailureIsolation(t *testing.T) {
	cache, _ := fixture(t)
	bRan := false

	tests := []struct {
		name     string
		unit     Unit
		panicked bool
	}{
		{
			name: "returned failure",
			unit: New("A", func(*resolver.Cache) Result { return Failure(errors.New("nope")) }),
		},
		{
			name:     "panic with error",
			unit:     New("A", func(c *resolver.Cache) Result { c.MustLookup("missing"); return Success() }),
			panicked: true,
		},
		{
			name:     "panic with value",
			unit:     New("A", func(*resolver.Cache) Result { panic("bad state") }),
			panicked: true,
		},
		{
			name: "out of range edit",
			unit: New("A", func(c *resolver.Cache) Result {
				return FromError(c.MustLookup("main").Method.Code.ReplaceAt(99, bc.Op(bc.OpNop)))
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bRan = false
			b := New("B", func(*resolver.Cache) Result { bRan = true; return Success() })

			out, err := NewOrchestrator(nil).Run([]Unit{tt.unit, b}, cache)
			require.NoError(t, err)

			a, ok := out.Get("A")
			require.True(t, ok)
			assert.False(t, a.Result.OK())

			var pf *PatchFailure
			require.True(t, errors.As(a.Result.Err(), &pf))
			assert.Equal(t, "A", pf.Unit)
			assert.Equal(t, tt.panicked, pf.Panicked)

			bo, ok := out.Get("B")
			require.True(t, ok)
			assert.True(t, bo.Result.OK())
			assert.True(t, bRan)

			assert.Len(t, out.Failed(), 1)
			assert.Error(t, out.Err())
		})
	}
}

func TestRunNilUnit(t *testing.T) {
	cache, _ := fixture(t)
	ran := false
	b := New("B", func(*resolver.Cache) Result { ran = true; return Success() })

	var out Outcomes
	require.NotPanics(t, func() {
		var err error
		out, err = NewOrchestrator(nil).Run([]Unit{nil, b}, cache)
		require.NoError(t, err)
	})
	require.Len(t, out, 2)
	assert.Equal(t, "#0", out[0].Name)
	assert.False(t, out[0].Result.OK())
	var pf *PatchFailure
	assert.True(t, errors.As(out[0].Result.Err(), &pf))
	assert.True(t, out[1].Result.OK())
	assert.True(t, ran)
}

func TestRunOutOfRangeCause(t *testing.T) {
	cache, _ := fixture(t)
	u := New("edit", func(c *resolver.Cache) Result {
		return FromError(c.MustLookup("main").Method.Code.InsertAt(3, bc.Op(bc.OpNop)))
	})
	out, err := NewOrchestrator(nil).Run([]Unit{u}, cache)
	require.NoError(t, err)
	assert.True(t, errors.Is(out[0].Result.Err(), bc.ErrOutOfRange))
}

func TestRunOnce(t *testing.T) {
	cache, _ := fixture(t)
	o := NewOrchestrator(nil)
	_, err := o.Run(nil, cache)
	require.NoError(t, err)
	_, err = o.Run(nil, cache)
	assert.True(t, errors.Is(err, ErrNotIdle))
}

func TestOutcomesHelpers(t *testing.T) {
	out := Outcomes{
		{Name: "a", Result: Success()},
		{Name: "b", Result: Failure(errors.New("b failed"))},
		{Name: "c", Result: Failure(errors.New("c failed"))},
	}
	_, ok := out.Get("zzz")
	assert.False(t, ok)
	assert.Len(t, out.Failed(), 2)
	assert.Contains(t, out.Err().Error(), "b failed")
	assert.Len(t, out.Map(), 3)
	assert.True(t, out.Map()["a"].OK())
	assert.NoError(t, Outcomes{{Name: "a", Result: Success()}}.Err())
}

const greetingScript = `
[[patch]]
name      = "greeting"
signature = "main"

  [[patch.edit]]
  action = "replace"
  offset = 0
  insns  = [{ op = "ldc", string = "y" }]

  [[patch.edit]]
  action = "insert"
  offset = 2
  insns  = [
    { op = "getstatic", owner = "java/lang/System", name = "out", desc = "Ljava/io/PrintStream;" },
    { op = "ldc", string = "z" },
    { op = "invokevirtual", owner = "java/io/PrintStream", name = "println", desc = "(Ljava/lang/String;)V" },
  ]
`

func TestScriptEndToEnd(t *testing.T) {
	cache, m := fixture(t)
	scripts, err := ParseScripts([]byte(greetingScript))
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	out, err := NewOrchestrator(nil).Run([]Unit{scripts[0].Unit()}, cache)
	require.NoError(t, err)
	require.NoError(t, out.Err())

	want := []bc.Opcode{bc.OpLdc, bc.OpInvokevirtual, bc.OpGetstatic, bc.OpLdc, bc.OpInvokevirtual}
	assert.Equal(t, want, m.Code.Opcodes())
	first, _ := m.Code.At(0)
	assert.Equal(t, "y", first.Operand.(bc.ConstOperand).Str)
	third, _ := m.Code.At(3)
	assert.Equal(t, "z", third.Operand.(bc.ConstOperand).Str)
	require.NoError(t, m.Code.Validate())
}

func TestScriptTracksOwnInserts(t *testing.T) {
	cache, m := fixture(t)
	scripts, err := ParseScripts([]byte(`
[[patch]]
name = "prefix"
signature = "main"
  [[patch.edit]]
  action = "insert"
  offset = 0
  insns = [{ op = "nop" }, { op = "nop" }]
  [[patch.edit]]
  action = "remove"
  offset = 1
  [[patch.edit]]
  action = "insert"
  offset = 1
  insns = [{ op = "pop" }]
  [[patch.edit]]
  action = "insert"
  offset = 0
  insns = [{ op = "dup" }]
`))
	require.NoError(t, err)

	out, err := NewOrchestrator(nil).Run([]Unit{scripts[0].Unit()}, cache)
	require.NoError(t, err)
	require.NoError(t, out.Err())

	// nop nop | ldc (invokevirtual removed) pop, then dup before ldc.
	want := []bc.Opcode{bc.OpNop, bc.OpNop, bc.OpDup, bc.OpLdc, bc.OpPop}
	assert.Equal(t, want, m.Code.Opcodes())
}

func TestScriptAfterPrologueUnit(t *testing.T) {
	cache, m := fixture(t)
	original, _ := m.Code.At(0)
	prologue := New("prologue", func(c *resolver.Cache) Result {
		return FromError(c.MustLookup("main").Method.Code.InsertAt(0,
			bc.LdcString("pre"),
			bc.Method(bc.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
		))
	})
	scripts, err := ParseScripts([]byte(`
[[patch]]
name = "greeting"
signature = "main"
  [[patch.edit]]
  action = "replace"
  offset = 0
  insns = [{ op = "ldc", string = "y" }]
`))
	require.NoError(t, err)

	out, err := NewOrchestrator(nil).Run([]Unit{prologue, scripts[0].Unit()}, cache)
	require.NoError(t, err)
	require.NoError(t, out.Err())

	first, _ := m.Code.At(0)
	assert.Equal(t, "pre", first.Operand.(bc.ConstOperand).Str)
	patched, _ := m.Code.At(2)
	assert.Equal(t, "y", patched.Operand.(bc.ConstOperand).Str)
	assert.False(t, m.Code.Contains(original))
	assert.Equal(t, 4, m.Code.Len())
}

func TestScriptJump(t *testing.T) {
	cache, m := fixture(t)
	scripts, err := ParseScripts([]byte(`
[[patch]]
name = "skip"
signature = "main"
  [[patch.edit]]
  action = "insert"
  offset = 0
  insns = [{ op = "goto", target = 1 }]
`))
	require.NoError(t, err)

	out, err := NewOrchestrator(nil).Run([]Unit{scripts[0].Unit()}, cache)
	require.NoError(t, err)
	require.NoError(t, out.Err())

	jump, _ := m.Code.At(0)
	target := jump.Operand.(bc.JumpOperand).Target
	idx, err := m.Code.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, bc.OpInvokevirtual, target.Node().Op)
}

func TestScriptFailures(t *testing.T) {
	tests := map[string]string{
		"unknown signature": "[[patch]]\nname = \"p\"\nsignature = \"nope\"\n",
		"out of range":      "[[patch]]\nname = \"p\"\nsignature = \"main\"\n[[patch.edit]]\naction = \"remove\"\noffset = 5\n",
		"missing operand":   "[[patch]]\nname = \"p\"\nsignature = \"main\"\n[[patch.edit]]\naction = \"insert\"\noffset = 0\ninsns = [{ op = \"getstatic\" }]\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			cache, _ := fixture(t)
			scripts, err := ParseScripts([]byte(data))
			require.NoError(t, err)
			out, err := NewOrchestrator(nil).Run([]Unit{scripts[0].Unit()}, cache)
			require.NoError(t, err)
			assert.Error(t, out.Err())
		})
	}
}

func TestParseScriptsErrors(t *testing.T) {
	tests := map[string]string{
		"no name":        "[[patch]]\nsignature = \"main\"\n",
		"no signature":   "[[patch]]\nname = \"p\"\n",
		"unknown action": "[[patch]]\nname = \"p\"\nsignature = \"m\"\n[[patch.edit]]\naction = \"swap\"\n",
		"bad opcode":     "[[patch]]\nname = \"p\"\nsignature = \"m\"\n[[patch.edit]]\naction = \"insert\"\ninsns = [{ op = \"zzz\" }]\n",
		"empty insert":   "[[patch]]\nname = \"p\"\nsignature = \"m\"\n[[patch.edit]]\naction = \"insert\"\n",
		"two replaces":   "[[patch]]\nname = \"p\"\nsignature = \"m\"\n[[patch.edit]]\naction = \"replace\"\ninsns = [{ op = \"nop\" }, { op = \"nop\" }]\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScripts([]byte(data))
			assert.Error(t, err)
		})
	}
}
