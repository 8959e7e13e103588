// Command samalvm is a minimal demo driver for the vm package: build a
// tiny recursive fib(n) program by hand with the assembler and run it,
// printing the result. It stands in for the (out of scope) source-language
// CLI — no parser, type checker, or bytecode file format lives here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/samal-lang/samalvm/vm"
)

// buildFib assembles:
//
//	fn fib(n: i32) -> i32:
//	    if n < 2 { return n }
//	    return fib(n - 1) + fib(n - 2)
func buildFib() (*vm.Program, error) {
	a := vm.NewAssembler()
	i32 := vm.I32()
	fibType := vm.Function([]vm.Datatype{i32}, i32)

	a.BeginFunction("fib", fibType, vm.NewScopeNode(0, 0))

	// if n < 2 return n
	a.Emit(vm.OpRepushFromN, int32(0), int32(8))
	a.Emit(vm.OpPush4, int32(2))
	a.Emit(vm.OpCompareLtI32)
	a.Emit(vm.OpJumpIfFalse, "fib_recurse")
	a.Emit(vm.OpReturn, int32(8))

	a.Label("fib_recurse")
	// fib(n - 1)
	a.EmitPushDefaultFunctionRef("fib")
	a.Emit(vm.OpRepushFromN, int32(8), int32(8))
	a.Emit(vm.OpPush4, int32(1))
	a.Emit(vm.OpSubI32)
	a.Emit(vm.OpCall, int32(8))
	// fib(n - 2), with fib(n-1)'s result and n still beneath it
	a.EmitPushDefaultFunctionRef("fib")
	a.Emit(vm.OpRepushFromN, int32(16), int32(8))
	a.Emit(vm.OpPush4, int32(2))
	a.Emit(vm.OpSubI32)
	a.Emit(vm.OpCall, int32(8))
	// sum them, drop the now-unneeded n, return
	a.Emit(vm.OpAddI32)
	a.Emit(vm.OpPopNBelow, int32(8), int32(8))
	a.Emit(vm.OpReturn, int32(8))

	a.EndFunction()
	return a.Build()
}

func main() {
	n := flag.Int("n", 10, "which fibonacci number to compute")
	verbose := flag.Bool("v", false, "enable debug logging")
	timeout := flag.Duration("timeout", 0, "abort before running if nonzero and already expired (cooperative cancellation demo)")
	flag.Parse()

	level := logrus.WarnLevel
	if *verbose {
		level = logrus.DebugLevel
	}
	logger := vm.NewLogger(level)

	program, err := buildFib()
	if err != nil {
		fmt.Fprintln(os.Stderr, "assemble error:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	machine := vm.NewVM(program, vm.DefaultStackReservation, 1<<20, 64, logger)
	result, err := machine.RunContext(ctx, "fib", vm.WrapI32(int32(*n)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "run error:", err)
		os.Exit(1)
	}
	fmt.Println(result)
}
