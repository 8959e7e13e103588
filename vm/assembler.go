package vm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Assembler is C8: a textual, table-driven bytecode assembler. It is a
// stand-in for the (out of THE CORE's scope) source-to-bytecode lowering
// pass — tests and the demo binary hand it mnemonic text instead of parsing
// and type-checking full source. The two-pass label-resolution scheme
// (collect labels against a placeholder address, substitute, then encode)
// is carried over directly from the teacher's CompileSourceFromBuffer /
// preprocessLine in vm/compile.go; mnemonic table driven decoding/encoding
// of operands replaces the teacher's fixed two-register-plus-immediate
// Instruction shape with program.go's opcodeTable, since this instruction
// set's operand counts vary per opcode instead of being uniformly 0-2.
type Assembler struct {
	code      []byte
	labels       map[string]int
	pending      []pendingLabelRef
	pendingFuncs []pendingFuncWordRef
	functions []Function
	natives   []NativeFunction
	auxTypes  []Datatype
}

type pendingLabelRef struct {
	codeOffset int // where the 4-byte operand lives in code
	label      string
}

type pendingFuncWordRef struct {
	codeOffset int // where the 8-byte PUSH_8 immediate lives in code
	label      string
}

var labelDefRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):$`)

// NewAssembler starts an empty program under construction.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// AddAuxiliaryDatatype registers a Datatype referenced by instructions via
// its index (CREATE_LIST's elem type, CREATE_STRUCT_OR_ENUM's type, etc.)
// and returns that index.
func (a *Assembler) AddAuxiliaryDatatype(t Datatype) int {
	a.auxTypes = append(a.auxTypes, t)
	return len(a.auxTypes) - 1
}

// AddNativeFunction registers a native function and returns its id for use
// as a CALL function word's native-function-id operand.
func (a *Assembler) AddNativeFunction(name string, t Datatype, cb NativeCallback) int32 {
	id := int32(len(a.natives))
	a.natives = append(a.natives, NativeFunction{Name: name, Type: t, Callback: cb})
	return id
}

// Label marks the current code offset with name, for later jump/call
// operands given as that name instead of a numeric ip.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.code)
	return a
}

// BeginFunction records a Function table entry starting at the current code
// offset; call EndFunction once its body has been emitted.
func (a *Assembler) BeginFunction(name string, t Datatype, stack *ScopeNode) *Assembler {
	a.labels[name] = len(a.code)
	a.functions = append(a.functions, Function{Name: name, Offset: len(a.code), Type: t, Stack: stack})
	return a
}

// EndFunction closes out the most recently begun function's Length.
func (a *Assembler) EndFunction() *Assembler {
	f := &a.functions[len(a.functions)-1]
	f.Length = len(a.code) - f.Offset
	return a
}

// Emit appends one instruction. Operands that are jump/call targets may be
// given as a label name registered with Label/BeginFunction instead of a
// numeric literal by passing a string; everything else must be int32.
func (a *Assembler) Emit(op Opcode, operands ...interface{}) *Assembler {
	widths := op.operandWidths()
	if len(widths) != len(operands) {
		panic(fmt.Sprintf("%s expects %d operands, got %d", op, len(widths), len(operands)))
	}
	a.code = append(a.code, byte(op))
	for i, raw := range operands {
		width := widths[i]
		switch v := raw.(type) {
		case string:
			if width != 4 {
				panic(fmt.Sprintf("%s operand %d is a label reference but is not 4 bytes wide", op, i))
			}
			a.pending = append(a.pending, pendingLabelRef{codeOffset: len(a.code), label: v})
			a.code = append(a.code, make([]byte, 4)...)
		case int32:
			a.code = appendOperand(a.code, width, uint64(uint32(v)))
		case int:
			a.code = appendOperand(a.code, width, uint64(uint32(int32(v))))
		case uint64:
			a.code = appendOperand(a.code, width, v)
		default:
			panic(fmt.Sprintf("%s operand %d has unsupported type %T", op, i, raw))
		}
	}
	return a
}

// EmitPushDefaultFunctionRef pushes a PUSH_8 whose 8-byte immediate is the
// tagged default-function word {low32=1, high32=label's entry ip}, resolved
// once Build() knows every label's address.
func (a *Assembler) EmitPushDefaultFunctionRef(label string) *Assembler {
	a.code = append(a.code, byte(OpPush8))
	a.pendingFuncs = append(a.pendingFuncs, pendingFuncWordRef{codeOffset: len(a.code), label: label})
	a.code = append(a.code, make([]byte, 8)...)
	return a
}

func appendOperand(code []byte, width int, v uint64) []byte {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 4:
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
	case 8:
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
	default:
		panic(fmt.Sprintf("unsupported operand width %d", width))
	}
	return append(code, buf...)
}

// Build resolves every pending label reference against the final label
// table and returns the assembled Program.
func (a *Assembler) Build() (*Program, error) {
	for _, ref := range a.pending {
		addr, ok := a.labels[ref.label]
		if !ok {
			return nil, newVMError(ErrCompileError, "undefined label %q", ref.label)
		}
		a.code[ref.codeOffset] = byte(addr)
		a.code[ref.codeOffset+1] = byte(addr >> 8)
		a.code[ref.codeOffset+2] = byte(addr >> 16)
		a.code[ref.codeOffset+3] = byte(addr >> 24)
	}
	for _, ref := range a.pendingFuncs {
		addr, ok := a.labels[ref.label]
		if !ok {
			return nil, newVMError(ErrCompileError, "undefined label %q", ref.label)
		}
		word := uint64(uint32(1)) | uint64(uint32(int32(addr)))<<32
		for i := 0; i < 8; i++ {
			a.code[ref.codeOffset+i] = byte(word >> (8 * i))
		}
	}
	return &Program{
		Code:               a.code,
		Functions:          a.functions,
		NativeFunctions:    a.natives,
		AuxiliaryDatatypes: a.auxTypes,
	}, nil
}

// ParseMnemonicLine is a thin convenience for a trivial textual format
// (exercised by assembler tests): "mnemonic op0 op1" with operands as
// decimal integers or label names. It does not support the teacher's string
// literal expansion or escape sequences (no byte-at-a-time CONST pseudo-op
// exists in this instruction set — CREATE_LIST/PUSH_8 cover those cases).
func ParseMnemonicLine(line string) (mnemonic string, operands []string, isLabel bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, false, nil
	}
	if m := labelDefRe.FindStringSubmatch(line); m != nil {
		return m[1], nil, true, nil
	}
	fields := strings.Fields(line)
	mnemonic = fields[0]
	operands = fields[1:]
	return mnemonic, operands, false, nil
}

// ResolveMnemonic looks up an opcode by mnemonic text, for a text-format
// loader built on top of ParseMnemonicLine.
func ResolveMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicToOpcode[name]
	return op, ok
}

// ParseIntOperand parses a decimal or 0x-prefixed hexadecimal literal
// operand, mirroring the teacher's inputArgToUint32 minus its float and
// character-literal cases (neither applies to this instruction set's
// operands, which are always counts, offsets, or ids).
func ParseIntOperand(s string) (int32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") {
		base = 16
		s = s[2:]
	}
	n, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, errorsWrap(err, "invalid integer operand %q", s)
	}
	return int32(n), nil
}

func errorsWrap(err error, format string, args ...interface{}) error {
	return wrapVMError(ErrCompileError, err, fmt.Sprintf(format, args...))
}
