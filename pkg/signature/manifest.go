package signature

import (
	"math"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"

	"github.com/fortiblox/X1-Patcher/pkg/classfile"
)

// ArrayAnyToken is the manifest spelling of ArrayAny.
const ArrayAnyToken = "[*"

// manifest is the TOML layout of a signature file:
//
//	[[signature]]
//	name    = "mainMethod"
//	returns = "V"
//	access  = ["public", "static"]   # or a numeric mask
//	params  = ["[*"]
//	pattern = ["ldc", "invokevirtual"]
type manifest struct {
	Signatures []entry `toml:"signature"`
}

type entry struct {
	Name    string   `toml:"name"`
	Returns string   `toml:"returns"`
	Access  any      `toml:"access"`
	Params  []string `toml:"params"`
	Pattern []string `toml:"pattern"`
}

// LoadFile reads signatures from a TOML file.
func LoadFile(path string) ([]*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read signatures %s", path)
	}
	sigs, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse signatures %s", path)
	}
	return sigs, nil
}

// Parse decodes signatures from TOML in file order.
func Parse(data []byte) ([]*Signature, error) {
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode toml")
	}
	sigs := make([]*Signature, 0, len(m.Signatures))
	for i, e := range m.Signatures {
		s, err := e.build()
		if err != nil {
			return nil, errors.Wrapf(err, "signature #%d (%s)", i, e.Name)
		}
		sigs = append(sigs, s)
	}
	return sigs, nil
}

func (e entry) build() (*Signature, error) {
	ret := classfile.Void
	if e.Returns != "" {
		t, err := classfile.ParseReturnType(e.Returns)
		if err != nil {
			return nil, errors.Wrap(err, "returns")
		}
		ret = t
	}

	access, err := parseAccess(e.Access)
	if err != nil {
		return nil, err
	}

	params := make([]ParamType, 0, len(e.Params))
	for _, p := range e.Params {
		if p == ArrayAnyToken {
			params = append(params, ArrayAny)
			continue
		}
		t, err := classfile.ParseType(p)
		if err != nil {
			return nil, errors.Wrapf(err, "param %q", p)
		}
		params = append(params, Param(t))
	}

	pattern, err := ParsePattern(e.Pattern)
	if err != nil {
		return nil, err
	}
	return New(e.Name, ret, access, params, pattern)
}

// parseAccess accepts a numeric mask, a single flag name or a list of
// flag names.
func parseAccess(v any) (classfile.AccessFlags, error) {
	switch v.(type) {
	case nil:
		return 0, nil
	case []any, []string:
		names, err := cast.ToStringSliceE(v)
		if err != nil {
			return 0, errors.Wrap(err, "access")
		}
		return classfile.ParseAccess(names)
	case string:
		if n, err := cast.ToInt64E(v); err == nil {
			return accessMask(n)
		}
		return classfile.ParseAccess([]string{v.(string)})
	default:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return 0, errors.Wrap(err, "access")
		}
		return accessMask(n)
	}
}

func accessMask(n int64) (classfile.AccessFlags, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, errors.Newf("access mask %d out of range", n)
	}
	return classfile.AccessFlags(n), nil
}
