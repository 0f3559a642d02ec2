package container

import (
	"archive/tar"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Patcher/internal/types"
	bc "github.com/fortiblox/X1-Patcher/pkg/bytecode"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

// sampleClasses builds a class with a loop, a switch and an exception
// range, plus a second class with an abstract method.
func sampleClasses(t *testing.T) []*classfile.Class {
	t.Helper()

	body := bc.NewList(
		bc.Op(bc.OpIconst0),
		bc.Var(bc.OpIstore, 1),
		bc.Var(bc.OpIload, 1),
		bc.Int(bc.OpBipush, 10),
		bc.Iinc(1, 1),
		bc.Field(bc.OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;"),
		bc.LdcString("tick"),
		bc.Method(bc.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
		bc.Type(bc.OpNew, "java/lang/Object"),
		bc.Op(bc.OpPop),
		bc.Op(bc.OpReturn),
	)
	loop, err := body.LabelAt(2)
	require.NoError(t, err)
	ret, err := body.LabelAt(10)
	require.NoError(t, err)
	require.NoError(t, body.InsertAt(4, bc.Jump(bc.OpIfIcmpge, ret)))
	require.NoError(t, body.InsertAt(10, bc.Jump(bc.OpGoto, loop)))

	sw := &bc.Insn{Op: bc.OpLookupswitch, Operand: bc.SwitchOperand{
		Default: ret,
		Keys:    []int32{1, 7},
		Targets: []*bc.Label{loop, ret},
	}}
	require.NoError(t, body.InsertAt(0, bc.Op(bc.OpIconst1), sw))

	start, err := body.LabelAt(7)
	require.NoError(t, err)
	end, err := body.LabelAt(10)
	require.NoError(t, err)
	require.NoError(t, body.AddTryCatch(&bc.TryCatch{Start: start, End: end, Handler: ret, Type: "java/lang/Exception"}))
	require.NoError(t, body.Validate())

	main := &classfile.Method{
		Name:       "main",
		Descriptor: "([Ljava/lang/String;)V",
		Access:     classfile.AccPublic | classfile.AccStatic,
		MaxStack:   3,
		MaxLocals:  2,
		Code:       body,
	}
	a := classfile.NewClass("com/example/Main", "java/lang/Object", classfile.AccPublic|classfile.AccSynchronized, main)
	a.Interfaces = []string{"java/lang/Runnable"}

	b := classfile.NewClass("com/example/Shape", "java/lang/Object", classfile.AccPublic|classfile.AccAbstract,
		&classfile.Method{Name: "area", Descriptor: "()D", Access: classfile.AccPublic | classfile.AccAbstract},
		&classfile.Method{
			Name:       "<init>",
			Descriptor: "()V",
			Access:     classfile.AccProtected,
			Code: bc.NewList(
				bc.Var(bc.OpAload, 0),
				bc.Method(bc.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
				bc.Op(bc.OpReturn),
			),
		},
	)
	return []*classfile.Class{a, b}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"plain blake3", Options{Algorithm: types.Blake3}},
		{"zstd blake3", DefaultOptions()},
		{"zstd sha3 level 19", Options{Compress: true, Level: 19, Algorithm: types.SHA3256}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classes := sampleClasses(t)
			var buf bytes.Buffer
			w := NewWriter(&buf, tt.opts)
			require.NoError(t, w.WriteClasses(classes))
			require.Len(t, w.Manifest.Classes, 2)

			a, err := Read(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, tt.opts.Compress, a.Compressed)
			assert.Equal(t, w.Manifest, a.Manifest)

			got := a.Classes()
			require.Len(t, got, 2)
			for i, want := range classes {
				assertClassEqual(t, want, got[i])
			}
			assert.NotNil(t, a.Class("com/example/Shape"))
			assert.Nil(t, a.Class("nope"))
		})
	}
}

func assertClassEqual(t *testing.T, want, got *classfile.Class) {
	t.Helper()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Super, got.Super)
	assert.Equal(t, want.Interfaces, got.Interfaces)
	assert.Equal(t, want.Access, got.Access)
	require.Len(t, got.Methods, len(want.Methods))
	for i, wm := range want.Methods {
		gm := got.Methods[i]
		assert.Same(t, got, gm.Owner)
		assert.Equal(t, wm.ID(), gm.ID())
		assert.Equal(t, wm.Access, gm.Access)
		assert.Equal(t, wm.MaxStack, gm.MaxStack)
		assert.Equal(t, wm.MaxLocals, gm.MaxLocals)
		if wm.Code == nil {
			assert.Nil(t, gm.Code)
			continue
		}
		require.NotNil(t, gm.Code)
		// Disassembly covers operands, label positions and exception ranges.
		assert.Equal(t, wm.Code.String(), gm.Code.String())
		assert.NoError(t, gm.Code.Validate())
	}
}

func TestWriteDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, NewWriter(&a, DefaultOptions()).WriteClasses(sampleClasses(t)))
	require.NoError(t, NewWriter(&b, DefaultOptions()).WriteClasses(sampleClasses(t)))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestFileWriterAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "app.tar.zst")
	require.NoError(t, FileWriter{Path: path, Opts: DefaultOptions()}.WriteClasses(sampleClasses(t)))

	a, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, a.Path)
	assert.True(t, a.Compressed)
	assert.Len(t, a.Classes(), 2)

	_, err = Open(filepath.Join(t.TempDir(), "missing.tar"))
	assert.True(t, errors.Is(err, ErrArchiveNotFound))
}

// rawArchive writes a tar with the given entries in order.
func rawArchive(t *testing.T, entries map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range order {
		data := entries[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestReadErrors(t *testing.T) {
	c := classfile.NewClass("A", "java/lang/Object", classfile.AccPublic)
	classData, err := marshalClass(c)
	require.NoError(t, err)
	digest := types.Blake3Sum(classData)

	manifest := func(version int, algo string, d []byte) []byte {
		data, err := encMode.Marshal(wireManifest{
			Version:   version,
			Algorithm: algo,
			Classes:   []wireClassEntry{{Name: "A", Digest: d}},
		})
		require.NoError(t, err)
		return data
	}
	wrong := types.Blake3Sum([]byte("other"))

	tests := []struct {
		name    string
		entries map[string][]byte
		order   []string
		want    error
	}{
		{
			name:    "valid",
			entries: map[string][]byte{manifestName: manifest(1, "blake3", digest.Bytes()), "classes/A.cbor": classData},
			order:   []string{manifestName, "classes/A.cbor"},
		},
		{
			name:    "no manifest",
			entries: map[string][]byte{"classes/A.cbor": classData},
			order:   []string{"classes/A.cbor"},
			want:    ErrMissingManifest,
		},
		{
			name:    "missing class",
			entries: map[string][]byte{manifestName: manifest(1, "blake3", digest.Bytes())},
			order:   []string{manifestName},
			want:    ErrMissingClass,
		},
		{
			name:    "digest mismatch",
			entries: map[string][]byte{manifestName: manifest(1, "blake3", wrong.Bytes()), "classes/A.cbor": classData},
			order:   []string{manifestName, "classes/A.cbor"},
			want:    ErrDigestMismatch,
		},
		{
			name:    "algorithm mismatch",
			entries: map[string][]byte{manifestName: manifest(1, "sha3-256", digest.Bytes()), "classes/A.cbor": classData},
			order:   []string{manifestName, "classes/A.cbor"},
			want:    ErrDigestMismatch,
		},
		{
			name:    "future version",
			entries: map[string][]byte{manifestName: manifest(2, "blake3", digest.Bytes())},
			order:   []string{manifestName},
			want:    ErrUnsupportedVersion,
		},
		{
			name:    "unknown algorithm",
			entries: map[string][]byte{manifestName: manifest(1, "md5", digest.Bytes())},
			order:   []string{manifestName},
			want:    types.ErrUnknownAlgorithm,
		},
		{
			name:    "garbage manifest",
			entries: map[string][]byte{manifestName: []byte("not cbor at all")},
			order:   []string{manifestName},
			want:    ErrCorruptedData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(rawArchive(t, tt.entries, tt.order)))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestWriteRejectsDuplicateClass(t *testing.T) {
	c := classfile.NewClass("A", "java/lang/Object", classfile.AccPublic)
	for _, opts := range []Options{{}, DefaultOptions()} {
		var buf bytes.Buffer
		w := NewWriter(&buf, opts)
		assert.Error(t, w.WriteClasses([]*classfile.Class{c, c}))
		assert.Empty(t, w.Manifest.Classes)
	}
}

func TestRoundTripAfterRemovingGuardedCode(t *testing.T) {
	code := bc.NewList(bc.Op(bc.OpNop), bc.Op(bc.OpIconst0), bc.Op(bc.OpPop), bc.Op(bc.OpReturn))
	start, _ := code.LabelAt(1)
	end, _ := code.LabelAt(2)
	handler, _ := code.LabelAt(3)
	require.NoError(t, code.AddTryCatch(&bc.TryCatch{Start: start, End: end, Handler: handler}))
	m := &classfile.Method{Name: "f", Descriptor: "()V", Access: classfile.AccStatic, Code: code}
	c := classfile.NewClass("P", "java/lang/Object", classfile.AccPublic, m)

	// The trailing handler stays; the guarded instruction goes with its range.
	assert.ErrorIs(t, code.RemoveAt(3), bc.ErrInvalidHandler)
	require.NoError(t, code.RemoveAt(1))
	assert.Empty(t, code.TryCatches())

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, DefaultOptions()).WriteClasses([]*classfile.Class{c}))
	a, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assertClassEqual(t, c, a.Classes()[0])
}
