package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ExternalKind tags the shape of an ExternalValue, following the same
// byte-backed-enum idiom as DatatypeCategory and Opcode.
type ExternalKind uint8

const (
	ExtUnit ExternalKind = iota
	ExtBool
	ExtI32
	ExtI64
	ExtF64
	ExtByte
	ExtChar
	ExtString
	ExtByteArray
	ExtTuple
	ExtList
	ExtStruct
	ExtEnum
	ExtFunctionRef
)

// ExternalValue is C7: the host-facing bridge between Go values and the raw
// bytes the interpreter operates on. It completes the variant the original
// ExternalVMValue left as `assert(false)` TODOs for every category beyond
// int32/int64/tuple (SPEC_FULL.md §6), at the cost of carrying one field per
// possible shape instead of a std::variant — the idiomatic Go rendering of a
// tagged union is a flat struct gated by Kind, not an interface{} per case.
type ExternalValue struct {
	Kind ExternalKind

	Bool bool
	I32  int32
	I64  int64
	F64  float64
	Byte byte
	Char rune

	// Bytes backs ExtString (UTF-8) and ExtByteArray.
	Bytes []byte

	// Elems backs ExtTuple, ExtList (in head-to-tail order), ExtStruct (in
	// declaration order), and ExtEnum (the chosen variant's payload, in
	// declaration order).
	Elems []ExternalValue

	// EnumVariant names the chosen variant for ExtEnum.
	EnumVariant string

	// Function fields, meaningful only for ExtFunctionRef. Exactly one of
	// FunctionIsNative / (neither, meaning "default") / FunctionLambdaPtr!=0
	// describes which of the three CALL-time shapes this value has.
	FunctionIsNative bool
	FunctionNativeID int32
	FunctionEntryIP  int32
	FunctionLambdaPtr uint64
}

func WrapUnit() ExternalValue               { return ExternalValue{Kind: ExtUnit} }
func WrapBool(b bool) ExternalValue         { return ExternalValue{Kind: ExtBool, Bool: b} }
func WrapI32(v int32) ExternalValue         { return ExternalValue{Kind: ExtI32, I32: v} }
func WrapI64(v int64) ExternalValue         { return ExternalValue{Kind: ExtI64, I64: v} }
func WrapF64(v float64) ExternalValue       { return ExternalValue{Kind: ExtF64, F64: v} }
func WrapByte(v byte) ExternalValue         { return ExternalValue{Kind: ExtByte, Byte: v} }
func WrapChar(v rune) ExternalValue         { return ExternalValue{Kind: ExtChar, Char: v} }
func WrapString(s string) ExternalValue     { return ExternalValue{Kind: ExtString, Bytes: []byte(s)} }
func WrapByteArray(b []byte) ExternalValue  { return ExternalValue{Kind: ExtByteArray, Bytes: b} }
func WrapTuple(elems ...ExternalValue) ExternalValue {
	return ExternalValue{Kind: ExtTuple, Elems: elems}
}
func WrapList(elems ...ExternalValue) ExternalValue {
	return ExternalValue{Kind: ExtList, Elems: elems}
}
func WrapStruct(fields ...ExternalValue) ExternalValue {
	return ExternalValue{Kind: ExtStruct, Elems: fields}
}
func WrapEnum(variant string, payload ...ExternalValue) ExternalValue {
	return ExternalValue{Kind: ExtEnum, EnumVariant: variant, Elems: payload}
}
func WrapNativeFunctionRef(id int32) ExternalValue {
	return ExternalValue{Kind: ExtFunctionRef, FunctionIsNative: true, FunctionNativeID: id}
}
func WrapDefaultFunctionRef(entryIP int32) ExternalValue {
	return ExternalValue{Kind: ExtFunctionRef, FunctionEntryIP: entryIP}
}

// ToStackValue marshals v into canonical on-stack bytes for type t,
// allocating any heap cells it needs (list cons cells, pointer boxes) from
// heap. The byte layout within an aggregate matches scanAggregate's
// convention: the LAST declared element occupies window offset 0, since
// that is how values actually end up arranged once pushed onto the stack.
// A list is built from v.Elems only: the Bytes of an ExtString or
// ExtByteArray value are not converted into list cells.
func ToStackValue(heap *Heap, v ExternalValue, t Datatype) []byte {
	switch t.Category {
	case CategoryBool:
		return wordBytes(boolToWord(v.Bool))
	case CategoryI32:
		return wordBytes(uint64(uint32(v.I32)))
	case CategoryI64:
		return wordBytes(uint64(v.I64))
	case CategoryF64:
		return wordBytes(math.Float64bits(v.F64))
	case CategoryChar:
		return wordBytes(uint64(uint32(v.Char)))
	case CategoryByte:
		return wordBytes(uint64(v.Byte))
	case CategoryTuple:
		return buildAggregate(heap, v.Elems, t.TupleElems)
	case CategoryStruct:
		fieldTypes := make([]Datatype, len(t.StructFields))
		for i, f := range t.StructFields {
			fieldTypes[i] = f.Type
		}
		return buildAggregate(heap, v.Elems, fieldTypes)
	case CategoryEnum:
		return buildEnum(heap, v, t)
	case CategoryList:
		return wordBytes(buildList(heap, v.Elems, *t.ListElem))
	case CategoryFunction:
		return wordBytes(buildFunctionWord(v))
	case CategoryPointer:
		elemBytes := ToStackValue(heap, v.Elems[0], *t.PointerElem)
		ptr := heap.Alloc(len(elemBytes))
		copy(heap.At(ptr)[:len(elemBytes)], elemBytes)
		return wordBytes(ptr)
	default:
		panicVM(ErrBytecodeError, "cannot marshal an external value of category %s onto the stack", t.Category)
		return nil
	}
}

func wordBytes(v uint64) []byte {
	buf := make([]byte, WordSize)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func buildAggregate(heap *Heap, vals []ExternalValue, elemTypes []Datatype) []byte {
	total := 0
	for _, t := range elemTypes {
		total += t.StackSize()
	}
	buf := make([]byte, total)
	offset := 0
	for i := len(elemTypes) - 1; i >= 0; i-- {
		sz := elemTypes[i].StackSize()
		copy(buf[offset:offset+sz], ToStackValue(heap, vals[i], elemTypes[i]))
		offset += sz
	}
	return buf
}

func buildEnum(heap *Heap, v ExternalValue, t Datatype) []byte {
	idx := t.VariantIndex(v.EnumVariant)
	if idx < 0 {
		panicVM(ErrBytecodeError, "enum %s has no variant named %q", t.Name, v.EnumVariant)
	}
	variant := t.EnumVariants[idx]
	variantSize := 0
	for _, p := range variant.Params {
		variantSize += p.StackSize()
	}
	buf := make([]byte, WordSize+t.largestVariantPayload())
	binary.LittleEndian.PutUint64(buf[:WordSize], uint64(idx))
	payload := buf[WordSize:]
	start := len(payload) - variantSize
	copy(payload[start:], buildAggregate(heap, v.Elems, variant.Params))
	return buf
}

func buildList(heap *Heap, elems []ExternalValue, elemType Datatype) uint64 {
	elemSize := elemType.StackSize()
	cellSize := WordSize + elemSize
	var tail uint64
	for i := len(elems) - 1; i >= 0; i-- {
		cellPtr := heap.Alloc(cellSize)
		cell := heap.At(cellPtr)[:cellSize]
		binary.LittleEndian.PutUint64(cell[:WordSize], tail)
		copy(cell[WordSize:], ToStackValue(heap, elems[i], elemType))
		tail = cellPtr
	}
	return tail
}

func buildFunctionWord(v ExternalValue) uint64 {
	if v.FunctionLambdaPtr != 0 {
		return v.FunctionLambdaPtr
	}
	if v.FunctionIsNative {
		return uint64(uint32(3)) | uint64(uint32(v.FunctionNativeID))<<32
	}
	return uint64(uint32(1)) | uint64(uint32(v.FunctionEntryIP))<<32
}

// FromStackValue unmarshals the bytes at window (a stack or aggregate
// window, per the same offset convention ToStackValue writes) back into an
// ExternalValue, following pointers through heap as needed. window must be
// at least t.StackSize() bytes.
func FromStackValue(heap *Heap, window []byte, t Datatype) ExternalValue {
	switch t.Category {
	case CategoryBool:
		return WrapBool(binary.LittleEndian.Uint64(window) != 0)
	case CategoryI32:
		return WrapI32(int32(binary.LittleEndian.Uint32(window[:4])))
	case CategoryI64:
		return WrapI64(int64(binary.LittleEndian.Uint64(window)))
	case CategoryF64:
		return WrapF64(math.Float64frombits(binary.LittleEndian.Uint64(window)))
	case CategoryChar:
		return WrapChar(rune(binary.LittleEndian.Uint32(window[:4])))
	case CategoryByte:
		return WrapByte(window[0])
	case CategoryTuple:
		return ExternalValue{Kind: ExtTuple, Elems: readAggregate(heap, window, t.TupleElems)}
	case CategoryStruct:
		fieldTypes := make([]Datatype, len(t.StructFields))
		for i, f := range t.StructFields {
			fieldTypes[i] = f.Type
		}
		return ExternalValue{Kind: ExtStruct, Elems: readAggregate(heap, window, fieldTypes)}
	case CategoryEnum:
		return readEnum(heap, window, t)
	case CategoryList:
		ptr := binary.LittleEndian.Uint64(window)
		return ExternalValue{Kind: ExtList, Elems: readList(heap, ptr, *t.ListElem)}
	case CategoryFunction:
		return readFunctionWord(binary.LittleEndian.Uint64(window))
	case CategoryPointer:
		ptr := binary.LittleEndian.Uint64(window)
		if ptr == 0 {
			panicVM(ErrNullDeref, "dereference of null pointer")
		}
		elemSize := t.PointerElem.StackSize()
		return ExternalValue{Kind: ExtTuple, Elems: []ExternalValue{FromStackValue(heap, heap.At(ptr)[:elemSize], *t.PointerElem)}}
	default:
		panicVM(ErrBytecodeError, "cannot unmarshal an external value of category %s from the stack", t.Category)
		return ExternalValue{}
	}
}

func readAggregate(heap *Heap, window []byte, elemTypes []Datatype) []ExternalValue {
	out := make([]ExternalValue, len(elemTypes))
	offset := 0
	for i := len(elemTypes) - 1; i >= 0; i-- {
		sz := elemTypes[i].StackSize()
		out[i] = FromStackValue(heap, window[offset:offset+sz], elemTypes[i])
		offset += sz
	}
	return out
}

func readEnum(heap *Heap, window []byte, t Datatype) ExternalValue {
	discriminant := int(binary.LittleEndian.Uint64(window[:WordSize]))
	if discriminant < 0 || discriminant >= len(t.EnumVariants) {
		panicVM(ErrBytecodeError, "enum %s: discriminant %d out of range", t.Name, discriminant)
	}
	variant := t.EnumVariants[discriminant]
	variantSize := 0
	for _, p := range variant.Params {
		variantSize += p.StackSize()
	}
	payload := window[WordSize:]
	start := len(payload) - variantSize
	return ExternalValue{
		Kind:        ExtEnum,
		EnumVariant: variant.Name,
		Elems:       readAggregate(heap, payload[start:], variant.Params),
	}
}

func readList(heap *Heap, head uint64, elemType Datatype) []ExternalValue {
	elemSize := elemType.StackSize()
	cellSize := WordSize + elemSize
	var out []ExternalValue
	for head != 0 {
		cell := heap.At(head)[:cellSize]
		out = append(out, FromStackValue(heap, cell[WordSize:], elemType))
		head = binary.LittleEndian.Uint64(cell[:WordSize])
	}
	return out
}

func readFunctionWord(word uint64) ExternalValue {
	low32 := uint32(word)
	if low32&1 == 0 {
		return ExternalValue{Kind: ExtFunctionRef, FunctionLambdaPtr: word}
	}
	if low32 == 3 {
		return ExternalValue{Kind: ExtFunctionRef, FunctionIsNative: true, FunctionNativeID: int32(word >> 32)}
	}
	return ExternalValue{Kind: ExtFunctionRef, FunctionEntryIP: int32(word >> 32)}
}

// valuesDeepEqual implements COMPARE_COMPLEX_EQUALITY: structural value
// equality across tuples/lists/structs/enums, rather than the pointer
// identity a plain word-for-word comparison of their heap addresses would
// give (two freshly-built lists with the same elements live at different
// addresses).
func valuesDeepEqual(a, b ExternalValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ExtUnit:
		return true
	case ExtBool:
		return a.Bool == b.Bool
	case ExtI32:
		return a.I32 == b.I32
	case ExtI64:
		return a.I64 == b.I64
	case ExtF64:
		return a.F64 == b.F64
	case ExtByte:
		return a.Byte == b.Byte
	case ExtChar:
		return a.Char == b.Char
	case ExtString, ExtByteArray:
		return string(a.Bytes) == string(b.Bytes)
	case ExtTuple, ExtList, ExtStruct:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !valuesDeepEqual(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case ExtEnum:
		if a.EnumVariant != b.EnumVariant || len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !valuesDeepEqual(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case ExtFunctionRef:
		return a.FunctionIsNative == b.FunctionIsNative && a.FunctionNativeID == b.FunctionNativeID &&
			a.FunctionEntryIP == b.FunctionEntryIP && a.FunctionLambdaPtr == b.FunctionLambdaPtr
	default:
		return false
	}
}

// String renders v for diagnostics, mirroring the original's
// ExternalVMValue::dump in spirit (a debug-only recursive pretty-printer,
// not a stable serialization format).
func (v ExternalValue) String() string {
	switch v.Kind {
	case ExtUnit:
		return "()"
	case ExtBool:
		return fmt.Sprintf("%t", v.Bool)
	case ExtI32:
		return fmt.Sprintf("%di32", v.I32)
	case ExtI64:
		return fmt.Sprintf("%di64", v.I64)
	case ExtF64:
		return fmt.Sprintf("%g", v.F64)
	case ExtByte:
		return fmt.Sprintf("%#02x", v.Byte)
	case ExtChar:
		return fmt.Sprintf("%q", v.Char)
	case ExtString:
		return fmt.Sprintf("%q", string(v.Bytes))
	case ExtByteArray:
		return fmt.Sprintf("bytes[%d]", len(v.Bytes))
	case ExtTuple:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ExtList:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ExtStruct:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ExtEnum:
		if len(v.Elems) == 0 {
			return v.EnumVariant
		}
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return v.EnumVariant + "(" + strings.Join(parts, ", ") + ")"
	case ExtFunctionRef:
		switch {
		case v.FunctionLambdaPtr != 0:
			return "<lambda>"
		case v.FunctionIsNative:
			return fmt.Sprintf("<native #%d>", v.FunctionNativeID)
		default:
			return fmt.Sprintf("<function @%d>", v.FunctionEntryIP)
		}
	default:
		return "<unknown>"
	}
}
