package dwc2

import (
	"context"
	"fmt"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/host/hal/mmio"
	"github.com/ardnew/dwc2host/pkg"
)

// ChannelRequest describes one transfer on a host channel.
type ChannelRequest struct {
	Channel   Channel
	Address   hal.DeviceAddress
	Endpoint  uint8 // endpoint number, 0-15
	Type      hal.EndpointType
	Direction hal.Direction
	MaxPacket uint16
	PID       hal.PID // PID of the first packet
	Data      []byte  // payload for OUT, destination for IN
}

// ExecuteChannelTransfer runs req to completion on its channel and returns
// the number of bytes moved and the PID the endpoint expects next.
//
// The channel must not already have a transfer outstanding; if it does,
// pkg.ErrBusy is returned without touching the hardware.
func (h *HAL) ExecuteChannelTransfer(ctx context.Context, req *ChannelRequest) (int, hal.PID, error) {
	if req == nil || req.Channel >= numChannels {
		return 0, 0, pkg.ErrInvalidParameter
	}
	if !h.channelMu[req.Channel].TryLock() {
		return 0, req.PID, pkg.ErrBusy
	}
	defer h.channelMu[req.Channel].Unlock()

	return h.transfer(ctx, req)
}

// transfer splits req into single-packet transactions. The caller owns the
// channel.
func (h *HAL) transfer(ctx context.Context, req *ChannelRequest) (int, hal.PID, error) {
	mps := int(req.MaxPacket)
	if mps == 0 || mps > HCCHARMaxPacketMask {
		return 0, req.PID, fmt.Errorf("%w: max packet %d", pkg.ErrInvalidParameter, mps)
	}

	pid := req.PID
	done := 0
	for {
		chunk := min(mps, len(req.Data)-done)
		n, err := h.transaction(ctx, req, pid, req.Data[done:done+chunk])
		if err != nil {
			return done, pid, err
		}
		done += n
		pid = pid.Toggle()

		if req.Direction == hal.DirectionIn && n < chunk {
			break // short packet
		}
		if done >= len(req.Data) {
			break
		}
	}
	return done, pid, nil
}

// transaction moves one packet, resubmitting on NAK and transaction errors
// within the configured budgets.
func (h *HAL) transaction(ctx context.Context, req *ChannelRequest, pid hal.PID, buf []byte) (int, error) {
	naks, xacts := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, status := h.submit(ctx, req, pid, buf)
		if status != pkg.TransferStatusSuccess {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		switch {
		case status == pkg.TransferStatusSuccess:
			pkg.LogTrace(pkg.ComponentChannel, "transaction complete",
				"ch", req.Channel, "ep", req.Endpoint, "dir", req.Direction.String(),
				"pid", pid.String(), "len", n)
			return n, nil

		case status.Retryable():
			budget, count := h.cfg.NAKRetries, &naks
			if status == pkg.TransferStatusTransactionError {
				budget, count = h.cfg.TransactionRetries, &xacts
				pkg.LogDebug(pkg.ComponentChannel, "transaction error, retrying",
					"ch", req.Channel, "ep", req.Endpoint, "attempt", xacts+1)
			}
			*count++
			if *count > budget {
				return 0, h.transactionError(req, pid, status)
			}
			if status == pkg.TransferStatusNAK {
				h.delay.DelayMicroseconds(h.cfg.PollInterval)
			}

		default:
			return 0, h.transactionError(req, pid, status)
		}
	}
}

func (h *HAL) transactionError(req *ChannelRequest, pid hal.PID, status pkg.TransferStatus) error {
	pkg.LogDebug(pkg.ComponentChannel, "transaction failed",
		"ch", req.Channel, "addr", req.Address, "ep", req.Endpoint,
		"dir", req.Direction.String(), "pid", pid.String(), "status", status.String())
	return fmt.Errorf("%w: ch%d ep%d %s", status.Error(), req.Channel, req.Endpoint, req.Direction)
}

// submit programs the channel for one packet, starts it, and waits for the
// channel to halt.
func (h *HAL) submit(ctx context.Context, req *ChannelRequest, pid hal.PID, buf []byte) (int, pkg.TransferStatus) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	ch := req.Channel
	h.regs.Write32(HCINT(ch), hcintAll)
	h.regs.Write32(HCTSIZ(ch),
		uint32(len(buf))&HCTSIZSizeMask|
			1<<HCTSIZPacketsShift|
			uint32(pid)<<HCTSIZPIDShift)

	char := h.characteristics(req)
	h.regs.Write32(HCCHAR(ch), char)

	if req.Direction == hal.DirectionOut && len(buf) > 0 {
		if err := h.writeFIFO(ctx, ch, buf); err != nil {
			pkg.LogWarn(pkg.ComponentChannel, "TX FIFO stalled", "ch", ch, "error", err)
			return 0, pkg.TransferStatusTimeout
		}
	}

	h.regs.Write32(HCCHAR(ch), char|HCCHAREnable)

	n, status := h.waitChannel(ctx, ch, buf, req.Direction)
	if req.Direction == hal.DirectionOut && status == pkg.TransferStatusSuccess {
		n = len(buf)
	}
	return n, status
}

// characteristics builds HCCHAR for req without the enable bit.
func (h *HAL) characteristics(req *ChannelRequest) uint32 {
	v := uint32(req.MaxPacket)&HCCHARMaxPacketMask |
		uint32(req.Endpoint&0x0F)<<HCCHAREndpointShift |
		uint32(req.Type&0x3)<<HCCHARTypeShift |
		1<<HCCHARMultiShift |
		uint32(req.Address&0x7F)<<HCCHARAddressShift
	if req.Direction == hal.DirectionIn {
		v |= HCCHARDirIn
	}
	if _, _, speed := h.target(); speed == hal.SpeedLow {
		v |= HCCHARLowSpeed
	}
	return v
}

// waitChannel polls HCINT until the channel halts, draining the RX FIFO into
// buf as IN data arrives. On poll budget exhaustion the channel is disabled.
func (h *HAL) waitChannel(ctx context.Context, ch Channel, buf []byte, dir hal.Direction) (int, pkg.TransferStatus) {
	received := 0
	overflow := false

	for i := 0; i < h.cfg.ChannelPolls; i++ {
		if dir == hal.DirectionIn {
			n, over := h.drainRx(ch, buf[received:])
			received += n
			overflow = overflow || over
		}

		hcint := h.regs.Read32(HCINT(ch))
		if status, done := classify(hcint); done {
			if dir == hal.DirectionIn {
				n, over := h.drainRx(ch, buf[received:])
				received += n
				overflow = overflow || over
			}
			h.regs.Write32(HCINT(ch), hcint)
			if status == pkg.TransferStatusSuccess && overflow {
				status = pkg.TransferStatusBabble
			}
			if status != pkg.TransferStatusSuccess {
				received = 0
			}
			return received, status
		}

		if ctx.Err() != nil {
			break
		}
		h.delay.DelayMicroseconds(h.cfg.PollInterval)
	}

	pkg.LogWarn(pkg.ComponentChannel, "channel did not halt", "ch", ch)
	h.halt(ch)
	return 0, pkg.TransferStatusTimeout
}

// classify maps HCINT to a transaction outcome. done is false while the
// channel is still busy.
func classify(hcint uint32) (status pkg.TransferStatus, done bool) {
	switch {
	case hcint&HCINTStall != 0:
		return pkg.TransferStatusStall, true
	case hcint&HCINTBabble != 0:
		return pkg.TransferStatusBabble, true
	case hcint&(HCINTTransactionError|HCINTToggleError) != 0:
		return pkg.TransferStatusTransactionError, true
	case hcint&HCINTNAK != 0:
		return pkg.TransferStatusNAK, true
	case hcint&(HCINTTransferComplete|HCINTACK) != 0:
		return pkg.TransferStatusSuccess, true
	case hcint&(HCINTAHBError|HCINTFrameOverrun|HCINTHalted) != 0:
		return pkg.TransferStatusError, true
	default:
		return pkg.TransferStatusSuccess, false
	}
}

// drainRx pops RX status entries for ch and copies IN data into buf.
// over reports data that did not fit.
func (h *HAL) drainRx(ch Channel, buf []byte) (n int, over bool) {
	for h.regs.Read32(RegGINTSTS)&GINTSTSRxFIFOLevel != 0 {
		sts := h.regs.Read32(RegGRXSTSP)
		src := Channel(sts & GRXSTSChannelMask)
		count := int(mmio.Field(sts, GRXSTSCountShift, GRXSTSCountWidth))
		kind := mmio.Field(sts, GRXSTSStatusShift, GRXSTSStatusWidth)

		if kind != RxStatusInData || count == 0 {
			continue
		}

		// The data must be popped even when it is not ours.
		words := (count + 3) / 4
		for w := 0; w < words; w++ {
			word := h.regs.Read32(FIFO(src))
			if src != ch {
				continue
			}
			for b := 0; b < 4 && w*4+b < count; b++ {
				if n < len(buf) {
					buf[n] = byte(word >> (8 * b))
					n++
				} else {
					over = true
				}
			}
		}
		if src != ch {
			pkg.LogWarn(pkg.ComponentChannel, "discarded RX data for idle channel",
				"ch", src, "len", count)
		}
	}
	return n, over
}

// writeFIFO pushes buf into the channel's TX FIFO one little-endian word at
// a time, waiting for space.
func (h *HAL) writeFIFO(ctx context.Context, ch Channel, buf []byte) error {
	words := (len(buf) + 3) / 4

	for i := 0; ; i++ {
		if int(h.regs.Read32(RegGNPTXSTS)&GNPTXSTSSpaceMask) >= words {
			break
		}
		if i >= h.cfg.ChannelPolls {
			return pkg.ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		h.delay.DelayMicroseconds(h.cfg.PollInterval)
	}

	for w := 0; w < words; w++ {
		var word uint32
		for b := 0; b < 4 && w*4+b < len(buf); b++ {
			word |= uint32(buf[w*4+b]) << (8 * b)
		}
		h.regs.Write32(FIFO(ch), word)
	}
	return nil
}

// halt disables an enabled channel and waits for it to report halted.
func (h *HAL) halt(ch Channel) {
	char := h.regs.Read32(HCCHAR(ch))
	if char&HCCHAREnable == 0 {
		h.regs.Write32(HCINT(ch), hcintAll)
		return
	}
	h.regs.Write32(HCCHAR(ch), char|HCCHAREnable|HCCHARDisable)
	for i := 0; i < h.cfg.ResetPolls; i++ {
		if h.regs.Read32(HCINT(ch))&HCINTHalted != 0 {
			break
		}
		h.delay.DelayMicroseconds(h.cfg.PollInterval)
	}
	h.regs.Write32(HCINT(ch), hcintAll)
}
