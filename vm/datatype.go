package vm

import "fmt"

// DatatypeCategory tags the shape of a Datatype the same way Bytecode tags an
// opcode in the teacher repo: a small byte-backed enum with a String method
// and a reverse lookup table built once in init.
type DatatypeCategory uint8

const (
	CategoryBool DatatypeCategory = iota
	CategoryI32
	CategoryI64
	CategoryF64
	CategoryChar
	CategoryByte
	CategoryTuple
	CategoryList
	CategoryStruct
	CategoryEnum
	CategoryFunction
	CategoryPointer
	CategoryUndeterminedIdentifier
)

var categoryNames = map[DatatypeCategory]string{
	CategoryBool:                   "bool",
	CategoryI32:                    "i32",
	CategoryI64:                    "i64",
	CategoryF64:                    "f64",
	CategoryChar:                   "char",
	CategoryByte:                   "byte",
	CategoryTuple:                  "tuple",
	CategoryList:                   "list",
	CategoryStruct:                 "struct",
	CategoryEnum:                   "enum",
	CategoryFunction:               "function",
	CategoryPointer:                "pointer",
	CategoryUndeterminedIdentifier: "undetermined_identifier",
}

func (c DatatypeCategory) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "?unknown-category?"
}

// WordSize is the width of every scalar and every pointer/function value in
// the canonical 64-bit ABI mode (see SPEC_FULL.md §3 and §9's resolution of
// the packed-mode open question: this implementation ships canonical mode
// only).
const WordSize = 8

// StructField is one named, typed field of a struct, in declaration order.
type StructField struct {
	Name string
	Type Datatype
}

// EnumVariant is one named variant of an enum, carrying zero or more
// payload types.
type EnumVariant struct {
	Name   string
	Params []Datatype
}

// Datatype is the canonical, immutable-after-construction representation of
// a type as it appears anywhere in a Program: on the instruction stream (by
// auxiliary-datatype id), in a Function's signature, or in a stack-shape
// variable entry.
type Datatype struct {
	Category DatatypeCategory

	// Name identifies a Struct or Enum by declared name; informational only
	// for other categories.
	Name string

	TupleElems []Datatype

	ListElem *Datatype

	StructFields []StructField
	EnumVariants []EnumVariant

	FunctionParams []Datatype
	FunctionReturn *Datatype

	PointerElem *Datatype
}

func Bool() Datatype { return Datatype{Category: CategoryBool} }
func I32() Datatype  { return Datatype{Category: CategoryI32} }
func I64() Datatype  { return Datatype{Category: CategoryI64} }
func F64() Datatype  { return Datatype{Category: CategoryF64} }
func Char() Datatype { return Datatype{Category: CategoryChar} }
func Byte() Datatype { return Datatype{Category: CategoryByte} }

func Tuple(elems ...Datatype) Datatype {
	return Datatype{Category: CategoryTuple, TupleElems: elems}
}

func List(elem Datatype) Datatype {
	return Datatype{Category: CategoryList, ListElem: &elem}
}

func Struct(name string, fields ...StructField) Datatype {
	return Datatype{Category: CategoryStruct, Name: name, StructFields: fields}
}

func Enum(name string, variants ...EnumVariant) Datatype {
	return Datatype{Category: CategoryEnum, Name: name, EnumVariants: variants}
}

func Function(params []Datatype, ret Datatype) Datatype {
	return Datatype{Category: CategoryFunction, FunctionParams: params, FunctionReturn: &ret}
}

func Pointer(elem Datatype) Datatype {
	return Datatype{Category: CategoryPointer, PointerElem: &elem}
}

// StackSize is the number of bytes this type occupies on the value stack in
// canonical 64-bit mode (SPEC_FULL.md §3).
func (d Datatype) StackSize() int {
	switch d.Category {
	case CategoryBool, CategoryI32, CategoryI64, CategoryF64, CategoryChar, CategoryByte:
		return WordSize
	case CategoryFunction, CategoryPointer, CategoryList:
		return WordSize
	case CategoryTuple:
		total := 0
		for _, e := range d.TupleElems {
			total += e.StackSize()
		}
		return total
	case CategoryStruct:
		total := 0
		for _, f := range d.StructFields {
			total += f.Type.StackSize()
		}
		return total
	case CategoryEnum:
		return WordSize + d.largestVariantPayload()
	default:
		panicVM(ErrBytecodeError, "datatype %s has no stack representation (undetermined_identifier must be resolved before use)", d.Category)
		return 0
	}
}

func (d Datatype) largestVariantPayload() int {
	max := 0
	for _, v := range d.EnumVariants {
		size := 0
		for _, p := range v.Params {
			size += p.StackSize()
		}
		if size > max {
			max = size
		}
	}
	return max
}

// VariantIndex returns the discriminant of the named variant, or -1.
func (d Datatype) VariantIndex(name string) int {
	for i, v := range d.EnumVariants {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports structural equality of two type descriptors.
func (d Datatype) Equal(o Datatype) bool {
	if d.Category != o.Category {
		return false
	}
	switch d.Category {
	case CategoryTuple:
		if len(d.TupleElems) != len(o.TupleElems) {
			return false
		}
		for i := range d.TupleElems {
			if !d.TupleElems[i].Equal(o.TupleElems[i]) {
				return false
			}
		}
		return true
	case CategoryList:
		return d.ListElem.Equal(*o.ListElem)
	case CategoryStruct:
		if d.Name != o.Name || len(d.StructFields) != len(o.StructFields) {
			return false
		}
		for i := range d.StructFields {
			if d.StructFields[i].Name != o.StructFields[i].Name || !d.StructFields[i].Type.Equal(o.StructFields[i].Type) {
				return false
			}
		}
		return true
	case CategoryEnum:
		if d.Name != o.Name || len(d.EnumVariants) != len(o.EnumVariants) {
			return false
		}
		for i := range d.EnumVariants {
			a, b := d.EnumVariants[i], o.EnumVariants[i]
			if a.Name != b.Name || len(a.Params) != len(b.Params) {
				return false
			}
			for j := range a.Params {
				if !a.Params[j].Equal(b.Params[j]) {
					return false
				}
			}
		}
		return true
	case CategoryFunction:
		if len(d.FunctionParams) != len(o.FunctionParams) {
			return false
		}
		for i := range d.FunctionParams {
			if !d.FunctionParams[i].Equal(o.FunctionParams[i]) {
				return false
			}
		}
		return d.FunctionReturn.Equal(*o.FunctionReturn)
	case CategoryPointer:
		return d.PointerElem.Equal(*o.PointerElem)
	default:
		return true
	}
}

func (d Datatype) String() string {
	switch d.Category {
	case CategoryTuple:
		return fmt.Sprintf("tuple%v", d.TupleElems)
	case CategoryList:
		return fmt.Sprintf("list<%s>", d.ListElem)
	case CategoryStruct:
		return fmt.Sprintf("struct %s", d.Name)
	case CategoryEnum:
		return fmt.Sprintf("enum %s", d.Name)
	case CategoryFunction:
		return fmt.Sprintf("function%v->%s", d.FunctionParams, d.FunctionReturn)
	case CategoryPointer:
		return fmt.Sprintf("pointer<%s>", d.PointerElem)
	default:
		return d.Category.String()
	}
}
