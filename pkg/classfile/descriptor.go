package classfile

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidDescriptor is returned for malformed type or method descriptors.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// Sort is the category of a Type.
type Sort uint8

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// Type is a field or return type in descriptor form, e.g. "I",
// "Ljava/lang/String;" or "[[B".
type Type struct {
	desc string
}

// Primitive types.
var (
	Void    = Type{"V"}
	Boolean = Type{"Z"}
	Char    = Type{"C"}
	Byte    = Type{"B"}
	Short   = Type{"S"}
	Int     = Type{"I"}
	Float   = Type{"F"}
	Long    = Type{"J"}
	Double  = Type{"D"}
)

// ObjectType returns the type of the class with the given internal name.
func ObjectType(internalName string) Type {
	return Type{"L" + internalName + ";"}
}

// ArrayOf returns a one-dimensional array of elem.
func ArrayOf(elem Type) Type {
	return Type{"[" + elem.desc}
}

// ParseType parses a single field descriptor. The whole string must be
// consumed.
func ParseType(desc string) (Type, error) {
	t, n, err := scanType(desc, 0, false)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) {
		return Type{}, errors.Wrapf(ErrInvalidDescriptor, "trailing data in %q", desc)
	}
	return t, nil
}

// ParseReturnType is ParseType that also accepts "V".
func ParseReturnType(desc string) (Type, error) {
	t, n, err := scanType(desc, 0, true)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) {
		return Type{}, errors.Wrapf(ErrInvalidDescriptor, "trailing data in %q", desc)
	}
	return t, nil
}

// MustParseType is like ParseType but panics on error. For constants in
// tests and tables.
func MustParseType(desc string) Type {
	t, err := ParseType(desc)
	if err != nil {
		panic(err)
	}
	return t
}

// scanType reads one type starting at off and returns it with the offset
// just past it. void is accepted only when allowVoid is set.
func scanType(desc string, off int, allowVoid bool) (Type, int, error) {
	if off >= len(desc) {
		return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "unexpected end of %q", desc)
	}
	start := off
	for off < len(desc) && desc[off] == '[' {
		off++
	}
	dims := off - start
	if dims > 255 {
		return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "too many dimensions in %q", desc)
	}
	if off >= len(desc) {
		return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "missing array element in %q", desc)
	}
	switch c := desc[off]; c {
	case 'Z', 'C', 'B', 'S', 'I', 'F', 'J', 'D':
		off++
	case 'V':
		if dims > 0 || !allowVoid {
			return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "void not allowed in %q", desc)
		}
		off++
	case 'L':
		end := strings.IndexByte(desc[off:], ';')
		if end <= 1 {
			return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "bad class name in %q", desc)
		}
		off += end + 1
	default:
		return Type{}, off, errors.Wrapf(ErrInvalidDescriptor, "unexpected %q in %q", c, desc)
	}
	return Type{desc[start:off]}, off, nil
}

// Descriptor returns the descriptor form.
func (t Type) Descriptor() string {
	return t.desc
}

// Sort returns the category of t.
func (t Type) Sort() Sort {
	if t.desc == "" {
		return SortVoid
	}
	switch t.desc[0] {
	case 'V':
		return SortVoid
	case 'Z':
		return SortBoolean
	case 'C':
		return SortChar
	case 'B':
		return SortByte
	case 'S':
		return SortShort
	case 'I':
		return SortInt
	case 'F':
		return SortFloat
	case 'J':
		return SortLong
	case 'D':
		return SortDouble
	case '[':
		return SortArray
	default:
		return SortObject
	}
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return t.Sort() == SortArray
}

// Elem returns the element type of an array, or t itself.
func (t Type) Elem() Type {
	if !t.IsArray() {
		return t
	}
	return Type{t.desc[1:]}
}

// InternalName returns the internal name of an object type, e.g.
// "java/lang/String", or the descriptor for any other type.
func (t Type) InternalName() string {
	if t.Sort() == SortObject {
		return t.desc[1 : len(t.desc)-1]
	}
	return t.desc
}

func (t Type) String() string {
	switch t.Sort() {
	case SortVoid:
		return "void"
	case SortBoolean:
		return "boolean"
	case SortChar:
		return "char"
	case SortByte:
		return "byte"
	case SortShort:
		return "short"
	case SortInt:
		return "int"
	case SortFloat:
		return "float"
	case SortLong:
		return "long"
	case SortDouble:
		return "double"
	case SortArray:
		return t.Elem().String() + "[]"
	default:
		return strings.ReplaceAll(t.InternalName(), "/", ".")
	}
}

// ParseMethodDescriptor splits a method descriptor such as
// "([Ljava/lang/String;)V" into return and parameter types.
func ParseMethodDescriptor(desc string) (Type, []Type, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return Type{}, nil, errors.Wrapf(ErrInvalidDescriptor, "method %q", desc)
	}
	var params []Type
	off := 1
	for off < len(desc) && desc[off] != ')' {
		t, next, err := scanType(desc, off, false)
		if err != nil {
			return Type{}, nil, err
		}
		params = append(params, t)
		off = next
	}
	if off >= len(desc) {
		return Type{}, nil, errors.Wrapf(ErrInvalidDescriptor, "unterminated parameters in %q", desc)
	}
	ret, end, err := scanType(desc, off+1, true)
	if err != nil {
		return Type{}, nil, err
	}
	if end != len(desc) {
		return Type{}, nil, errors.Wrapf(ErrInvalidDescriptor, "trailing data in %q", desc)
	}
	return ret, params, nil
}

// MethodDescriptor builds a method descriptor.
func MethodDescriptor(ret Type, params ...Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(p.desc)
	}
	b.WriteByte(')')
	b.WriteString(ret.desc)
	return b.String()
}
