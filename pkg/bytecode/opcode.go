// Package bytecode defines JVM opcodes and the mutable instruction list
// that patches edit.
package bytecode

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Opcode is a single JVM instruction opcode.
type Opcode uint8

// Constants.
const (
	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0a
	OpFconst0    Opcode = 0x0b
	OpFconst1    Opcode = 0x0c
	OpFconst2    Opcode = 0x0d
	OpDconst0    Opcode = 0x0e
	OpDconst1    Opcode = 0x0f
	OpBipush     Opcode = 0x10 // push byte
	OpSipush     Opcode = 0x11 // push short
	OpLdc        Opcode = 0x12 // push constant from pool
)

// Loads and stores.
const (
	OpIload   Opcode = 0x15
	OpLload   Opcode = 0x16
	OpFload   Opcode = 0x17
	OpDload   Opcode = 0x18
	OpAload   Opcode = 0x19
	OpIaload  Opcode = 0x2e
	OpLaload  Opcode = 0x2f
	OpFaload  Opcode = 0x30
	OpDaload  Opcode = 0x31
	OpAaload  Opcode = 0x32
	OpBaload  Opcode = 0x33
	OpCaload  Opcode = 0x34
	OpSaload  Opcode = 0x35
	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3a
	OpIastore Opcode = 0x4f
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56
)

// Stack manipulation.
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5a
	OpDupX2  Opcode = 0x5b
	OpDup2   Opcode = 0x5c
	OpDup2X1 Opcode = 0x5d
	OpDup2X2 Opcode = 0x5e
	OpSwap   Opcode = 0x5f
)

// Arithmetic and conversions.
const (
	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6a
	OpDmul  Opcode = 0x6b
	OpIdiv  Opcode = 0x6c
	OpLdiv  Opcode = 0x6d
	OpFdiv  Opcode = 0x6e
	OpDdiv  Opcode = 0x6f
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7a
	OpLshr  Opcode = 0x7b
	OpIushr Opcode = 0x7c
	OpLushr Opcode = 0x7d
	OpIand  Opcode = 0x7e
	OpLand  Opcode = 0x7f
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // increment local by constant
	OpI2l   Opcode = 0x85
	OpI2f   Opcode = 0x86
	OpI2d   Opcode = 0x87
	OpL2i   Opcode = 0x88
	OpL2f   Opcode = 0x89
	OpL2d   Opcode = 0x8a
	OpF2i   Opcode = 0x8b
	OpF2l   Opcode = 0x8c
	OpF2d   Opcode = 0x8d
	OpD2i   Opcode = 0x8e
	OpD2l   Opcode = 0x8f
	OpD2f   Opcode = 0x90
	OpI2b   Opcode = 0x91
	OpI2c   Opcode = 0x92
	OpI2s   Opcode = 0x93
	OpLcmp  Opcode = 0x94
	OpFcmpl Opcode = 0x95
	OpFcmpg Opcode = 0x96
	OpDcmpl Opcode = 0x97
	OpDcmpg Opcode = 0x98
)

// Control flow.
const (
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9a
	OpIflt         Opcode = 0x9b
	OpIfge         Opcode = 0x9c
	OpIfgt         Opcode = 0x9d
	OpIfle         Opcode = 0x9e
	OpIfIcmpeq     Opcode = 0x9f
	OpIfIcmpne     Opcode = 0xa0
	OpIfIcmplt     Opcode = 0xa1
	OpIfIcmpge     Opcode = 0xa2
	OpIfIcmpgt     Opcode = 0xa3
	OpIfIcmple     Opcode = 0xa4
	OpIfAcmpeq     Opcode = 0xa5
	OpIfAcmpne     Opcode = 0xa6
	OpGoto         Opcode = 0xa7
	OpJsr          Opcode = 0xa8
	OpRet          Opcode = 0xa9
	OpTableswitch  Opcode = 0xaa
	OpLookupswitch Opcode = 0xab
	OpIreturn      Opcode = 0xac
	OpLreturn      Opcode = 0xad
	OpFreturn      Opcode = 0xae
	OpDreturn      Opcode = 0xaf
	OpAreturn      Opcode = 0xb0
	OpReturn       Opcode = 0xb1
)

// References.
const (
	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9
	OpInvokedynamic   Opcode = 0xba
	OpNew             Opcode = 0xbb
	OpNewarray        Opcode = 0xbc
	OpAnewarray       Opcode = 0xbd
	OpArraylength     Opcode = 0xbe
	OpAthrow          Opcode = 0xbf
	OpCheckcast       Opcode = 0xc0
	OpInstanceof      Opcode = 0xc1
	OpMonitorenter    Opcode = 0xc2
	OpMonitorexit     Opcode = 0xc3
	OpMultianewarray  Opcode = 0xc5
	OpIfnull          Opcode = 0xc6
	OpIfnonnull       Opcode = 0xc7
)

// OperandKind classifies the operand an opcode carries.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindInt
	KindConst
	KindType
	KindField
	KindMethod
	KindJump
	KindVar
	KindIinc
	KindSwitch
)

var kindNames = [...]string{
	KindNone:   "none",
	KindInt:    "int",
	KindConst:  "const",
	KindType:   "type",
	KindField:  "field",
	KindMethod: "method",
	KindJump:   "jump",
	KindVar:    "var",
	KindIinc:   "iinc",
	KindSwitch: "switch",
}

func (k OperandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("OperandKind(%d)", k)
}

type opInfo struct {
	name string
	kind OperandKind
}

var opTable [256]opInfo

func def(kind OperandKind, names map[Opcode]string) {
	for op, name := range names {
		opTable[op] = opInfo{name: name, kind: kind}
	}
}

func init() {
	def(KindNone, map[Opcode]string{
		OpNop: "nop", OpAconstNull: "aconst_null", OpIconstM1: "iconst_m1",
		OpIconst0: "iconst_0", OpIconst1: "iconst_1", OpIconst2: "iconst_2",
		OpIconst3: "iconst_3", OpIconst4: "iconst_4", OpIconst5: "iconst_5",
		OpLconst0: "lconst_0", OpLconst1: "lconst_1", OpFconst0: "fconst_0",
		OpFconst1: "fconst_1", OpFconst2: "fconst_2", OpDconst0: "dconst_0",
		OpDconst1: "dconst_1",
		OpIaload: "iaload", OpLaload: "laload", OpFaload: "faload", OpDaload: "daload",
		OpAaload: "aaload", OpBaload: "baload", OpCaload: "caload", OpSaload: "saload",
		OpIastore: "iastore", OpLastore: "lastore", OpFastore: "fastore", OpDastore: "dastore",
		OpAastore: "aastore", OpBastore: "bastore", OpCastore: "castore", OpSastore: "sastore",
		OpPop: "pop", OpPop2: "pop2", OpDup: "dup", OpDupX1: "dup_x1", OpDupX2: "dup_x2",
		OpDup2: "dup2", OpDup2X1: "dup2_x1", OpDup2X2: "dup2_x2", OpSwap: "swap",
		OpIadd: "iadd", OpLadd: "ladd", OpFadd: "fadd", OpDadd: "dadd",
		OpIsub: "isub", OpLsub: "lsub", OpFsub: "fsub", OpDsub: "dsub",
		OpImul: "imul", OpLmul: "lmul", OpFmul: "fmul", OpDmul: "dmul",
		OpIdiv: "idiv", OpLdiv: "ldiv", OpFdiv: "fdiv", OpDdiv: "ddiv",
		OpIrem: "irem", OpLrem: "lrem", OpFrem: "frem", OpDrem: "drem",
		OpIneg: "ineg", OpLneg: "lneg", OpFneg: "fneg", OpDneg: "dneg",
		OpIshl: "ishl", OpLshl: "lshl", OpIshr: "ishr", OpLshr: "lshr",
		OpIushr: "iushr", OpLushr: "lushr", OpIand: "iand", OpLand: "land",
		OpIor: "ior", OpLor: "lor", OpIxor: "ixor", OpLxor: "lxor",
		OpI2l: "i2l", OpI2f: "i2f", OpI2d: "i2d", OpL2i: "l2i", OpL2f: "l2f",
		OpL2d: "l2d", OpF2i: "f2i", OpF2l: "f2l", OpF2d: "f2d", OpD2i: "d2i",
		OpD2l: "d2l", OpD2f: "d2f", OpI2b: "i2b", OpI2c: "i2c", OpI2s: "i2s",
		OpLcmp: "lcmp", OpFcmpl: "fcmpl", OpFcmpg: "fcmpg", OpDcmpl: "dcmpl", OpDcmpg: "dcmpg",
		OpIreturn: "ireturn", OpLreturn: "lreturn", OpFreturn: "freturn",
		OpDreturn: "dreturn", OpAreturn: "areturn", OpReturn: "return",
		OpArraylength: "arraylength", OpAthrow: "athrow",
		OpMonitorenter: "monitorenter", OpMonitorexit: "monitorexit",
	})
	def(KindInt, map[Opcode]string{
		OpBipush: "bipush", OpSipush: "sipush", OpNewarray: "newarray",
	})
	def(KindConst, map[Opcode]string{
		OpLdc: "ldc",
	})
	def(KindVar, map[Opcode]string{
		OpIload: "iload", OpLload: "lload", OpFload: "fload", OpDload: "dload", OpAload: "aload",
		OpIstore: "istore", OpLstore: "lstore", OpFstore: "fstore", OpDstore: "dstore", OpAstore: "astore",
		OpRet: "ret",
	})
	def(KindIinc, map[Opcode]string{
		OpIinc: "iinc",
	})
	def(KindJump, map[Opcode]string{
		OpIfeq: "ifeq", OpIfne: "ifne", OpIflt: "iflt", OpIfge: "ifge", OpIfgt: "ifgt", OpIfle: "ifle",
		OpIfIcmpeq: "if_icmpeq", OpIfIcmpne: "if_icmpne", OpIfIcmplt: "if_icmplt",
		OpIfIcmpge: "if_icmpge", OpIfIcmpgt: "if_icmpgt", OpIfIcmple: "if_icmple",
		OpIfAcmpeq: "if_acmpeq", OpIfAcmpne: "if_acmpne", OpGoto: "goto", OpJsr: "jsr",
		OpIfnull: "ifnull", OpIfnonnull: "ifnonnull",
	})
	def(KindSwitch, map[Opcode]string{
		OpTableswitch: "tableswitch", OpLookupswitch: "lookupswitch",
	})
	def(KindField, map[Opcode]string{
		OpGetstatic: "getstatic", OpPutstatic: "putstatic", OpGetfield: "getfield", OpPutfield: "putfield",
	})
	def(KindMethod, map[Opcode]string{
		OpInvokevirtual: "invokevirtual", OpInvokespecial: "invokespecial",
		OpInvokestatic: "invokestatic", OpInvokeinterface: "invokeinterface",
		OpInvokedynamic: "invokedynamic",
	})
	def(KindType, map[Opcode]string{
		OpNew: "new", OpAnewarray: "anewarray", OpCheckcast: "checkcast",
		OpInstanceof: "instanceof", OpMultianewarray: "multianewarray",
	})

	for i, info := range opTable {
		if info.name != "" {
			opByName[info.name] = Opcode(i)
		}
	}
}

var opByName = make(map[string]Opcode)

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool {
	return opTable[op].name != ""
}

// String returns the lower-case mnemonic.
func (op Opcode) String() string {
	if info := opTable[op]; info.name != "" {
		return info.name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(op))
}

// Kind returns the operand kind the opcode expects.
func (op Opcode) Kind() OperandKind {
	return opTable[op].kind
}

// ParseOpcode looks up an opcode by mnemonic. Case is ignored.
func ParseOpcode(name string) (Opcode, error) {
	op, ok := opByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownOpcode, "%q", name)
	}
	return op, nil
}
