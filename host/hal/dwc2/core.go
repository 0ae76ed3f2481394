package dwc2

import (
	"context"
	"fmt"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/host/hal/mmio"
	"github.com/ardnew/dwc2host/pkg"
)

// Init brings the core out of reset into full-speed host mode.
//
// Every wait is bounded by Config.ResetPolls. A core that does not answer
// with the DWC2 signature, or never finishes its soft reset, is reported as
// pkg.ErrHardwareAbsent.
func (h *HAL) Init(ctx context.Context) error {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	id := h.regs.Read32(RegGSNPSID)
	if id&SNPSIDMask != SNPSIDSignature {
		pkg.LogError(pkg.ComponentHAL, "core ID mismatch", "gsnpsid", fmt.Sprintf("%#08x", id))
		return fmt.Errorf("%w: GSNPSID %#08x", pkg.ErrHardwareAbsent, id)
	}

	if err := h.waitRegister(ctx, RegGRSTCTL, GRSTCTLAHBIdle, GRSTCTLAHBIdle); err != nil {
		return fmt.Errorf("%w: AHB master not idle: %w", pkg.ErrHardwareAbsent, err)
	}

	h.regs.Write32(RegGRSTCTL, GRSTCTLCoreSoftReset)
	if err := h.waitRegister(ctx, RegGRSTCTL, GRSTCTLCoreSoftReset, 0); err != nil {
		pkg.LogError(pkg.ComponentHAL, "core soft reset stuck")
		return fmt.Errorf("%w: core soft reset: %w", pkg.ErrHardwareAbsent, err)
	}
	if err := h.waitRegister(ctx, RegGRSTCTL, GRSTCTLAHBIdle, GRSTCTLAHBIdle); err != nil {
		return fmt.Errorf("%w: AHB master not idle after reset: %w", pkg.ErrHardwareAbsent, err)
	}

	usbcfg := h.regs.Read32(RegGUSBCFG)
	usbcfg &^= gusbcfgModeSelectMask
	usbcfg |= GUSBCFGForceHostMode
	h.regs.Write32(RegGUSBCFG, usbcfg)
	h.delay.DelayMicroseconds(h.cfg.HostModeSettle)

	if h.regs.Read32(RegGINTSTS)&GINTSTSCurrentMode == 0 {
		pkg.LogWarn(pkg.ComponentHAL, "core did not report host mode")
	}

	if err := h.flushFIFOs(ctx); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrHardwareAbsent, err)
	}

	// Completion is polled, but the global enable must be set for the core
	// to latch channel status.
	h.regs.Write32(RegGINTMSK, 0)
	h.regs.Write32(RegGINTSTS, 0xFFFFFFFF)
	mmio.SetBits(h.regs, RegGAHBCFG, GAHBCFGGlobalIntr)

	hcfg := h.regs.Read32(RegHCFG)
	hcfg &^= hcfgClockSelMask
	hcfg |= HCFGClock48MHz | HCFGFSLSOnly
	h.regs.Write32(RegHCFG, hcfg)
	h.regs.Write32(RegHFIR, hfirFullSpeed48Hz)

	for ch := Channel(0); ch < numChannels; ch++ {
		h.regs.Write32(HCINTMSK(ch), 0)
		h.regs.Write32(HCINT(ch), hcintAll)
	}
	h.regs.Write32(RegHAINTMSK, 0)

	h.writePort(HPRTPower, 0)

	h.stateMu.Lock()
	h.address = 0
	h.maxPacketSize0 = DefaultMaxPacketSize0
	h.speed = hal.SpeedUnknown
	h.stateMu.Unlock()
	h.resetToggles()

	pkg.LogInfo(pkg.ComponentHAL, "controller initialized",
		"gsnpsid", fmt.Sprintf("%#08x", id))
	return nil
}

// flushFIFOs flushes every TX FIFO and the RX FIFO.
func (h *HAL) flushFIFOs(ctx context.Context) error {
	h.regs.Write32(RegGRSTCTL, GRSTCTLTxFIFOFlush|GRSTCTLTxFIFOAll)
	if err := h.waitRegister(ctx, RegGRSTCTL, GRSTCTLTxFIFOFlush, 0); err != nil {
		return fmt.Errorf("TX FIFO flush: %w", err)
	}
	h.regs.Write32(RegGRSTCTL, GRSTCTLRxFIFOFlush)
	if err := h.waitRegister(ctx, RegGRSTCTL, GRSTCTLRxFIFOFlush, 0); err != nil {
		return fmt.Errorf("RX FIFO flush: %w", err)
	}
	return nil
}

// waitRegister polls offset until the bits in mask equal want.
func (h *HAL) waitRegister(ctx context.Context, offset, mask, want uint32) error {
	for i := 0; i < h.cfg.ResetPolls; i++ {
		if h.regs.Read32(offset)&mask == want {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		h.delay.DelayMicroseconds(h.cfg.PollInterval)
	}
	return pkg.ErrTimeout
}

// writePort performs a read-modify-write of HPRT that sets set and clears
// clear. Write-1-to-clear bits are zeroed first so the write neither
// acknowledges pending events nor disables the port.
func (h *HAL) writePort(set, clear uint32) {
	v := h.regs.Read32(RegHPRT)
	v &^= HPRTWriteClearMask
	v &^= clear
	v |= set
	h.regs.Write32(RegHPRT, v)
}

// PortConnected reports whether a device is attached to the root port.
func (h *HAL) PortConnected() bool {
	return h.regs.Read32(RegHPRT)&HPRTConnectStatus != 0
}

// PortSpeed returns the speed of the attached device as reported by HPRT.
func (h *HAL) PortSpeed() hal.Speed {
	v := h.regs.Read32(RegHPRT)
	if v&HPRTConnectStatus == 0 {
		return hal.SpeedUnknown
	}
	switch mmio.Field(v, HPRTSpeedShift, HPRTSpeedWidth) {
	case HPRTSpeedHigh:
		return hal.SpeedHigh
	case HPRTSpeedFull:
		return hal.SpeedFull
	case HPRTSpeedLow:
		return hal.SpeedLow
	default:
		return hal.SpeedUnknown
	}
}

// ResetPort drives USB reset on the root port for Config.PortResetHold,
// releases it, and waits Config.PortResetRecovery before returning.
func (h *HAL) ResetPort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.PortConnected() {
		return pkg.ErrNotConnected
	}

	h.busMu.Lock()
	h.writePort(HPRTReset, 0)
	h.delay.DelayMicroseconds(h.cfg.PortResetHold)
	h.writePort(0, HPRTReset)
	h.busMu.Unlock()

	h.delay.DelayMicroseconds(h.cfg.PortResetRecovery)

	// Acknowledge the connect and enable events raised by the reset.
	h.busMu.Lock()
	h.writePort(HPRTConnectDetect|HPRTEnableChange, 0)
	h.busMu.Unlock()

	speed := h.PortSpeed()
	h.stateMu.Lock()
	h.speed = speed
	h.stateMu.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "port reset complete",
		"speed", speed.String(),
		"enabled", h.regs.Read32(RegHPRT)&HPRTEnable != 0)
	return ctx.Err()
}
