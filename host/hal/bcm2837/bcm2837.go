// Package bcm2837 provides the Raspberry Pi 3 peripheral addresses and the
// system timer delay used by the USB host stack.
package bcm2837

import "github.com/ardnew/dwc2host/host/hal/mmio"

// Peripheral addresses as seen by the ARM cores.
const (
	PeripheralBase uintptr = 0x3F000000
	TimerBase              = PeripheralBase + 0x3000
	USBBase                = PeripheralBase + 0x980000
)

// System timer register offsets.
const (
	timerCS  = 0x00
	timerCLO = 0x04
	timerCHI = 0x08
)

// SystemTimer is the free-running 1 MHz system timer.
type SystemTimer struct {
	regs mmio.Registers
}

// NewSystemTimer returns a timer over the system timer registers.
func NewSystemTimer(regs mmio.Registers) *SystemTimer {
	return &SystemTimer{regs: regs}
}

// Now returns the 64-bit counter in microseconds. CHI is read on both sides
// of CLO so a carry between the halves is never observed.
func (t *SystemTimer) Now() uint64 {
	for {
		hi := t.regs.Read32(timerCHI)
		lo := t.regs.Read32(timerCLO)
		if t.regs.Read32(timerCHI) == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// DelayMicroseconds busy-waits for at least us microseconds.
func (t *SystemTimer) DelayMicroseconds(us uint32) {
	start := t.Now()
	for t.Now()-start < uint64(us) {
	}
}
