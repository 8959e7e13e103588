package vm

import "encoding/binary"

// DefaultStackReservation mirrors the original Stack's "reserve a huge
// virtual range up front" design (SPEC_FULL.md §4.1): a 1 GiB Go slice is
// cheap because the OS does not back pages until touched, the same
// trade-off the teacher makes with its fixed [StackSize]byte array, just at
// a size appropriate for a heap-using language instead of a 64KiB toy CPU.
const DefaultStackReservation = 1 << 30

// Stack is a downward-growing byte stack. Following the teacher's stack
// helpers (peekStack/popStack/pushStack in vm/vm.go), all access goes
// through a small, fully-tested method surface; no other package code is
// permitted to index the backing array directly (SPEC_FULL.md §9,
// "Manual pointer arithmetic on the stack").
//
// Internally `top` is an index into data: data[top:] is the live portion of
// the stack, data[0:top] is unused reservation. This matches the original
// Stack::mDataTop/mDataEnd scheme with mDataEnd == len(data).
type Stack struct {
	data []byte
	top  int
}

// NewStack reserves a stack of the given byte capacity.
func NewStack(capacity int) *Stack {
	return &Stack{data: make([]byte, capacity), top: capacity}
}

// Size is the number of bytes currently pushed.
func (s *Stack) Size() int { return len(s.data) - s.top }

// SetSize adjusts the logical size directly, used by RunContext to clear the
// stack before each run.
func (s *Stack) SetSize(n int) {
	s.top = len(s.data) - n
	if s.top < 0 {
		panicVM(ErrStackOverflow, "set_size(%d) exceeds stack reservation of %d bytes", n, len(s.data))
	}
}

// Push copies b onto the top of the stack, growing it by len(b).
func (s *Stack) Push(b []byte) {
	s.ensureSpace(len(b))
	s.top -= len(b)
	copy(s.data[s.top:], b)
}

// PushUint64 pushes a canonical 8-byte word. Every scalar push in canonical
// mode goes through this helper.
func (s *Stack) PushUint64(v uint64) {
	s.ensureSpace(WordSize)
	s.top -= WordSize
	binary.LittleEndian.PutUint64(s.data[s.top:], v)
}

// Pop shrinks the stack by n bytes without returning them (the caller must
// have already read whatever it needed via Get).
func (s *Stack) Pop(n int) {
	if s.Size() < n {
		panicVM(ErrBytecodeError, "pop(%d) underflows stack of size %d", n, s.Size())
	}
	s.top += n
}

// Get returns a slice giving direct access to the `offset` bytes-above-top
// window, i.e. addresses [top+offset, dataEnd). Mutating the returned slice
// mutates the stack in place, matching Stack::get in the original.
func (s *Stack) Get(offset int) []byte {
	idx := s.top + offset
	if idx < 0 || idx > len(s.data) {
		panicVM(ErrBytecodeError, "get(%d) out of stack bounds (size=%d)", offset, s.Size())
	}
	return s.data[idx:]
}

// Repush copies `len` bytes from `top+off` (measured BEFORE the push, i.e.
// after accounting for the len bytes the push itself reserves) onto the new
// top. This is property P-repush and the single most important off-by-len
// trap named in SPEC_FULL.md §9: the source window is computed as
// oldTop+off, equivalently newTop+len+off once newTop = oldTop-len.
func (s *Stack) Repush(off, length int) {
	s.ensureSpace(length)
	s.top -= length
	srcIdx := s.top + length + off
	if srcIdx < 0 || srcIdx+length > len(s.data) {
		panicVM(ErrBytecodeError, "repush(off=%d, len=%d) out of stack bounds", off, length)
	}
	copy(s.data[s.top:s.top+length], s.data[srcIdx:srcIdx+length])
}

// PopBelow keeps the `keep` bytes currently at the top of stack (a
// freshly-produced return value) and discards the `drop` bytes immediately
// below them — the POP_N_BELOW/RETURN primitive. Grounded on
// Stack::popBelow in the original VM.cpp: memmove the kept region up by
// `drop`, then advance top by `drop`.
func (s *Stack) PopBelow(keep, drop int) {
	if s.Size() < keep+drop {
		panicVM(ErrBytecodeError, "pop_below(keep=%d, drop=%d) underflows stack of size %d", keep, drop, s.Size())
	}
	copy(s.data[s.top+drop:s.top+drop+keep], s.data[s.top:s.top+keep])
	s.top += drop
}

func (s *Stack) ensureSpace(additional int) {
	if s.top-additional < 0 {
		panicVM(ErrStackOverflow, "stack reservation of %d bytes exhausted (requested %d more, have %d)", len(s.data), additional, s.Size())
	}
}

// TopOffset exposes the raw top index. Nothing in this package calls it: the
// stack-shape walker reaches variables through Get.
func (s *Stack) TopOffset() int { return s.top }
