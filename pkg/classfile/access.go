package classfile

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// AccessFlags is a class or method access flag mask.
type AccessFlags uint16

// Access flags.
const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSynchronized AccessFlags = 0x0020 // methods; ACC_SUPER on classes
	AccBridge       AccessFlags = 0x0040
	AccVarargs      AccessFlags = 0x0080
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
	AccStrict       AccessFlags = 0x0800
	AccSynthetic    AccessFlags = 0x1000
	AccAnnotation   AccessFlags = 0x2000
	AccEnum         AccessFlags = 0x4000
)

// ErrUnknownAccessFlag is returned by ParseAccess for unknown names.
var ErrUnknownAccessFlag = errors.New("unknown access flag")

var accessNames = []struct {
	flag AccessFlags
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccBridge, "bridge"},
	{AccVarargs, "varargs"},
	{AccNative, "native"},
	{AccInterface, "interface"},
	{AccAbstract, "abstract"},
	{AccStrict, "strict"},
	{AccSynthetic, "synthetic"},
	{AccAnnotation, "annotation"},
	{AccEnum, "enum"},
}

// ParseAccess combines flag names into a mask.
func ParseAccess(names []string) (AccessFlags, error) {
	var flags AccessFlags
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, an := range accessNames {
			if an.name == n {
				flags |= an.flag
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Wrapf(ErrUnknownAccessFlag, "%q", n)
		}
	}
	return flags, nil
}

// Has reports whether all bits of f are set.
func (a AccessFlags) Has(f AccessFlags) bool {
	return a&f == f
}

func (a AccessFlags) String() string {
	var parts []string
	rest := a
	for _, an := range accessNames {
		if a&an.flag != 0 {
			parts = append(parts, an.name)
			rest &^= an.flag
		}
	}
	if rest != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("0x%04x", uint16(rest)))
	}
	return strings.Join(parts, " ")
}
