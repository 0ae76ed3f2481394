// Package mmio provides 32-bit register access to memory-mapped peripherals.
//
// Registers is the seam every controller driver is written against. Map
// implements it over a physical base address for firmware builds; tests and
// simulators substitute their own register model.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Registers reads and writes 32-bit registers at byte offsets from a base.
//
// Each call is exactly one load or one store. Implementations never retry
// or interpret values; ordering between registers is the caller's concern.
type Registers interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// Map accesses registers at a fixed physical base address.
type Map struct {
	base uintptr
}

// New returns a register map rooted at base.
func New(base uintptr) Map {
	return Map{base: base}
}

// Base returns the base address of the map.
func (m Map) Base() uintptr {
	return m.base
}

// Read32 performs one atomic 32-bit load at base+offset.
func (m Map) Read32(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(m.base + uintptr(offset))))
}

// Write32 performs one atomic 32-bit store at base+offset.
func (m Map) Write32(offset uint32, value uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(m.base+uintptr(offset))), value)
}

// SetBits performs a read-modify-write that sets mask.
func SetBits(r Registers, offset, mask uint32) {
	r.Write32(offset, r.Read32(offset)|mask)
}

// ClearBits performs a read-modify-write that clears mask.
func ClearBits(r Registers, offset, mask uint32) {
	r.Write32(offset, r.Read32(offset)&^mask)
}

// Field extracts the bit field of width bits starting at shift.
func Field(value uint32, shift, width uint) uint32 {
	return (value >> shift) & (1<<width - 1)
}
