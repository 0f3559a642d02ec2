package bytecode

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helloList() *List {
	return NewList(
		Field(OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;"),
		LdcString("Hello, world!"),
		Method(OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
		Op(OpReturn),
	)
}

func TestReplaceAtKeepsLength(t *testing.T) {
	l := helloList()
	before := l.Len()

	repl := LdcString("patched")
	require.NoError(t, l.ReplaceAt(1, repl))

	assert.Equal(t, before, l.Len())
	got, err := l.At(1)
	require.NoError(t, err)
	assert.Same(t, repl, got)
}

func TestReplaceAtRebindsLabels(t *testing.T) {
	l := helloList()
	old, _ := l.At(1)
	lbl, err := l.NewLabel(old)
	require.NoError(t, err)
	other, err := l.LabelAt(3)
	require.NoError(t, err)
	ret, _ := l.At(3)

	repl := LdcString("patched")
	require.NoError(t, l.ReplaceAt(1, repl))

	assert.Same(t, repl, lbl.Node())
	assert.Same(t, ret, other.Node())
	require.NoError(t, l.Validate())
}

func TestReplaceAtOutOfRange(t *testing.T) {
	l := helloList()
	for _, idx := range []int{-1, 4, 100} {
		err := l.ReplaceAt(idx, Op(OpNop))
		assert.True(t, errors.Is(err, ErrOutOfRange), "index %d: %v", idx, err)
	}
	assert.Equal(t, 4, l.Len())
}

func TestInsertAt(t *testing.T) {
	tests := []struct {
		name  string
		index int
		count int
	}{
		{"front", 0, 1},
		{"middle", 2, 3},
		{"append", 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := helloList()
			nodes := make([]*Insn, tt.count)
			for i := range nodes {
				nodes[i] = Op(OpNop)
			}
			require.NoError(t, l.InsertAt(tt.index, nodes...))
			assert.Equal(t, 4+tt.count, l.Len())
			got, err := l.At(tt.index)
			require.NoError(t, err)
			assert.Same(t, nodes[0], got)
		})
	}
}

func TestInsertAtOutOfRange(t *testing.T) {
	l := helloList()
	err := l.InsertAt(5, Op(OpNop))
	assert.True(t, errors.Is(err, ErrOutOfRange))
	err = l.InsertAt(-1, Op(OpNop))
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Equal(t, 4, l.Len())
}

func TestInsertAtPreservesLabelIdentity(t *testing.T) {
	l := helloList()
	labels := make([]*Label, l.Len())
	nodes := l.Insns()
	for i := range labels {
		lbl, err := l.LabelAt(i)
		require.NoError(t, err)
		labels[i] = lbl
	}
	end, err := l.LabelAt(l.Len())
	require.NoError(t, err)

	require.NoError(t, l.InsertAt(2, Op(OpNop), Op(OpNop)))

	for i, lbl := range labels {
		assert.Same(t, nodes[i], lbl.Node(), "label %d", i)
	}
	idx, err := l.Resolve(labels[2])
	require.NoError(t, err)
	assert.Equal(t, 4, idx)
	idx, err = l.Resolve(end)
	require.NoError(t, err)
	assert.Equal(t, l.Len(), idx)
}

func TestInsertAtPreservesTryCatch(t *testing.T) {
	l := helloList()
	start, _ := l.LabelAt(1)
	end, _ := l.LabelAt(3)
	handler, _ := l.LabelAt(3)
	require.NoError(t, l.AddTryCatch(&TryCatch{Start: start, End: end, Handler: handler, Type: "java/lang/Exception"}))

	startNode := start.Node()
	require.NoError(t, l.InsertAt(0, Op(OpNop)))
	require.NoError(t, l.InsertAt(2, Op(OpNop)))

	assert.Same(t, startNode, start.Node())
	s, _ := l.Resolve(start)
	e, _ := l.Resolve(end)
	assert.Equal(t, 3, s)
	assert.Equal(t, 5, e)
	require.NoError(t, l.Validate())
}

func TestInsertRejectsDuplicatesAndForeignLabels(t *testing.T) {
	l := helloList()
	first, _ := l.At(0)
	assert.True(t, errors.Is(l.InsertAt(0, first), ErrDuplicateInsn))

	n := Op(OpNop)
	assert.True(t, errors.Is(l.InsertAt(0, n, n), ErrDuplicateInsn))
	assert.True(t, errors.Is(l.InsertAt(0, nil), ErrNilInsn))

	other := helloList()
	foreign, _ := other.LabelAt(0)
	assert.True(t, errors.Is(l.InsertAt(0, Jump(OpGoto, foreign)), ErrForeignLabel))
	assert.Equal(t, 4, l.Len())
}

func TestRemoveAtMovesLabels(t *testing.T) {
	l := helloList()
	mid, _ := l.LabelAt(1)
	last, _ := l.LabelAt(3)
	call, _ := l.At(2)

	require.NoError(t, l.RemoveAt(1))
	assert.Same(t, call, mid.Node())

	require.NoError(t, l.RemoveAt(2))
	assert.True(t, last.IsEnd())
	assert.Equal(t, 2, l.Len())
	require.NoError(t, l.Validate())

	assert.True(t, errors.Is(l.RemoveAt(2), ErrOutOfRange))
}

func TestJumpTargetsSurviveEdits(t *testing.T) {
	l := NewList(
		Var(OpIload, 0),
		Op(OpIconst0),
		Op(OpIreturn),
	)
	target, err := l.LabelAt(2)
	require.NoError(t, err)
	branch := Jump(OpIfeq, target)
	require.NoError(t, l.InsertAt(1, branch))
	require.NoError(t, l.InsertAt(0, Op(OpNop)))

	idx, err := l.Resolve(branch.Operand.(JumpOperand).Target)
	require.NoError(t, err)
	got, _ := l.At(idx)
	assert.Equal(t, OpIreturn, got.Op)
	require.NoError(t, l.Validate())
}

func TestValidate(t *testing.T) {
	l := helloList()
	require.NoError(t, l.Validate())

	bad := NewList(&Insn{Op: OpLdc, Operand: VarOperand{Index: 1}})
	assert.True(t, errors.Is(bad.Validate(), ErrOperandKind))

	unknown := NewList(&Insn{Op: Opcode(0xfe)})
	assert.True(t, errors.Is(unknown.Validate(), ErrUnknownOpcode))

	empty := helloList()
	a, _ := empty.LabelAt(1)
	b, _ := empty.LabelAt(1)
	h, _ := empty.LabelAt(3)
	require.NoError(t, empty.AddTryCatch(&TryCatch{Start: a, End: b, Handler: h}))
	assert.True(t, errors.Is(empty.Validate(), ErrEmptyTryCatch))
}

func TestAddTryCatchRejectsEndHandler(t *testing.T) {
	l := helloList()
	s, _ := l.LabelAt(0)
	e, _ := l.LabelAt(2)
	end, _ := l.LabelAt(l.Len())
	assert.ErrorIs(t, l.AddTryCatch(&TryCatch{Start: s, End: e, Handler: end}), ErrInvalidHandler)
}

func TestEditSequenceFromMatch(t *testing.T) {
	l := NewList(
		LdcString("x"),
		Method(OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
	)
	require.NoError(t, l.ReplaceAt(0, LdcString("y")))
	require.NoError(t, l.InsertAt(2,
		Field(OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;"),
		LdcString("z"),
		Method(OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
	))

	want := []*Insn{
		LdcString("y"),
		Method(OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
		Field(OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;"),
		LdcString("z"),
		Method(OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
	}
	require.Equal(t, len(want), l.Len())
	for i, w := range want {
		got, _ := l.At(i)
		assert.True(t, Equal(w, got), "insn %d: got %s, want %s", i, got, w)
	}
}

func TestString(t *testing.T) {
	l := helloList()
	_, _ = l.LabelAt(3)
	out := l.String()
	assert.Contains(t, out, `ldc "Hello, world!"`)
	assert.Contains(t, out, "L0:\n   3: return")
}

func guardedList(t *testing.T) (*List, *TryCatch) {
	t.Helper()
	l := NewList(Op(OpNop), Op(OpIconst0), Op(OpPop), Op(OpReturn))
	start, _ := l.LabelAt(1)
	end, _ := l.LabelAt(2)
	handler, _ := l.LabelAt(3)
	tc := &TryCatch{Start: start, End: end, Handler: handler, Type: "java/lang/Exception"}
	require.NoError(t, l.AddTryCatch(tc))
	return l, tc
}

func TestRemoveAtDropsEmptiedTryCatch(t *testing.T) {
	l, _ := guardedList(t)

	require.NoError(t, l.RemoveAt(1))
	assert.Empty(t, l.TryCatches())
	assert.Equal(t, 3, l.Len())
	require.NoError(t, l.Validate())
}

func TestRemoveAtShrinksTryCatch(t *testing.T) {
	l, tc := guardedList(t)
	wide, _ := l.LabelAt(3)
	tc.End = wide

	require.NoError(t, l.RemoveAt(1))
	require.Len(t, l.TryCatches(), 1)
	s, _ := l.Resolve(tc.Start)
	e, _ := l.Resolve(tc.End)
	assert.Equal(t, 1, s)
	assert.Equal(t, 2, e)
	require.NoError(t, l.Validate())
}

func TestRemoveAtRefusesTrailingHandler(t *testing.T) {
	l, tc := guardedList(t)
	before := l.String()

	err := l.RemoveAt(3)
	assert.ErrorIs(t, err, ErrInvalidHandler)
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, before, l.String())
	assert.False(t, tc.Handler.IsEnd())
	require.NoError(t, l.Validate())

	// A handler that is not last moves to the next instruction.
	require.NoError(t, l.InsertAt(4, Op(OpAthrow)))
	require.NoError(t, l.RemoveAt(3))
	got, _ := l.At(3)
	assert.Same(t, got, tc.Handler.Node())
	require.NoError(t, l.Validate())
}

func TestValidateRejectsEndHandler(t *testing.T) {
	l, tc := guardedList(t)
	tc.Handler.node = nil
	assert.ErrorIs(t, l.Validate(), ErrInvalidHandler)
}
