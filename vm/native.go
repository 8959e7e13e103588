package vm

import "github.com/dolthub/swiss"

// NativeRegistry is C11: a builder for a Program's native function table,
// mirroring the teacher's hardware-device table (vm/devices.go's
// deviceRegistry, indexed by device id) but keyed by name at build time and
// resolved to a dense []NativeFunction + an id lookup once Build is called.
// The name -> id map is a swiss.Map, read only through ID: CALL never
// consults the registry, since execCall resolves a native function by the
// id carried in its function word.
type NativeRegistry struct {
	funcs   []NativeFunction
	idsByName *swiss.Map[string, int32]
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{idsByName: swiss.NewMap[string, int32](8)}
}

// Register adds a native function and returns the id it will have in the
// built Program's NativeFunctions slice — the id a compiler-or-assembler
// must bake into a CALL's function word (high32, with low32 fixed at 3).
func (r *NativeRegistry) Register(name string, t Datatype, cb NativeCallback) int32 {
	if t.Category != CategoryFunction {
		panic("native function " + name + " must be registered with a Function datatype")
	}
	id := int32(len(r.funcs))
	r.funcs = append(r.funcs, NativeFunction{Name: name, Type: t, Callback: cb})
	r.idsByName.Put(name, id)
	return id
}

// ID looks up a previously registered native function's id by name, for an
// assembler resolving a `call_native <name>` pseudo-instruction.
func (r *NativeRegistry) ID(name string) (int32, bool) {
	return r.idsByName.Get(name)
}

// Build finalizes the registry into the slice a Program embeds.
func (r *NativeRegistry) Build() []NativeFunction {
	out := make([]NativeFunction, len(r.funcs))
	copy(out, r.funcs)
	return out
}

// NativeFunctionWord encodes the CALL-time tagged function value for the native
// function with the given id: low32 == 3, high32 == id.
func NativeFunctionWord(id int32) uint64 {
	return buildFunctionWord(ExternalValue{Kind: ExtFunctionRef, FunctionIsNative: true, FunctionNativeID: id})
}
