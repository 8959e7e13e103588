package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNativeRegistryRegisterAndID(t *testing.T) {
	r := NewNativeRegistry()
	i32 := I32()
	id := r.Register("double", Function([]Datatype{i32}, i32), func(vm *VM, args []ExternalValue) (ExternalValue, error) {
		return WrapI32(args[0].I32 * 2), nil
	})
	require.Equal(t, int32(0), id)

	got, ok := r.ID("double")
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = r.ID("missing")
	require.False(t, ok)

	funcs := r.Build()
	require.Len(t, funcs, 1)
	require.Equal(t, "double", funcs[0].Name)
}

// Calling through a tagged native function word (the low32==3 branch of
// execCall) marshals arguments, invokes the host callback synchronously (no
// frame pushed), and pushes its result back in the function word's slot.
func TestCallThroughNativeFunction(t *testing.T) {
	a := NewAssembler()
	i32 := I32()
	nativeID := a.AddNativeFunction("double", Function([]Datatype{i32}, i32),
		func(vm *VM, args []ExternalValue) (ExternalValue, error) {
			return WrapI32(args[0].I32 * 2), nil
		})

	fnType := Function([]Datatype{i32}, i32)
	a.BeginFunction("call_double", fnType, NewScopeNode(0, 0))
	nativeWord := uint64(uint32(3)) | uint64(uint32(nativeID))<<32
	a.Emit(OpPush8, nativeWord)
	a.Emit(OpRepushFromN, int32(8), int32(8)) // dup declared arg on top of the function word
	a.Emit(OpCall, int32(8))
	a.Emit(OpPopNBelow, int32(8), int32(8))
	a.Emit(OpReturn, int32(8))
	a.EndFunction()

	p, err := a.Build()
	require.NoError(t, err)

	vm := NewVM(p, DefaultStackReservation, 1<<12, 0, nil)
	result, err := vm.Run("call_double", WrapI32(21))
	require.NoError(t, err)
	require.Equal(t, int32(42), result.I32)
}
