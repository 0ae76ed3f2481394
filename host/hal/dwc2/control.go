package dwc2

import (
	"context"
	"fmt"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// Stage identifies a control transfer stage.
type Stage uint8

// Control transfer stages.
const (
	StageSetup Stage = iota
	StageData
	StageStatus
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "SETUP"
	case StageData:
		return "DATA"
	case StageStatus:
		return "STATUS"
	default:
		return "?"
	}
}

// StageError reports the control transfer stage that failed. It matches
// both pkg.ErrControlTransfer and the underlying cause with errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %s stage: %v", pkg.ErrControlTransfer, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{pkg.ErrControlTransfer, e.Err}
}

const requestSetConfiguration = 0x09

// ControlTransfer performs a control transfer on endpoint 0 of the recorded
// device address using the control channel.
//
// The DATA stage runs only when setup.Length is nonzero, in the direction
// given by bit 7 of setup.RequestType. The zero-length STATUS stage runs in
// the opposite direction, or IN when there is no DATA stage. A failed stage
// aborts the transfer and later stages are not attempted.
//
// For IN transfers data receives up to setup.Length bytes and the count is
// returned; for OUT transfers the first setup.Length bytes of data are sent.
func (h *HAL) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	if setup == nil {
		return 0, pkg.ErrInvalidParameter
	}
	length := int(setup.Length)
	if len(data) < length {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", pkg.ErrBufferTooSmall, length, len(data))
	}

	if !h.channelMu[ChannelControl].TryLock() {
		return 0, pkg.ErrBusy
	}
	defer h.channelMu[ChannelControl].Unlock()

	addr, mps0, _ := h.target()
	req := ChannelRequest{
		Channel:   ChannelControl,
		Address:   addr,
		Endpoint:  0,
		Type:      hal.EndpointControl,
		MaxPacket: mps0,
	}

	var raw [hal.SetupPacketSize]byte
	setup.MarshalTo(raw[:])

	req.Direction = hal.DirectionOut
	req.PID = hal.PIDSetup
	req.Data = raw[:]
	if _, _, err := h.transfer(ctx, &req); err != nil {
		return 0, h.stageFailed(setup, StageSetup, err)
	}

	n := 0
	status := hal.DirectionIn
	if length > 0 {
		req.Direction = setup.Direction()
		req.PID = hal.PIDData1
		req.Data = data[:length]

		var err error
		n, _, err = h.transfer(ctx, &req)
		if err != nil {
			return 0, h.stageFailed(setup, StageData, err)
		}
		status = req.Direction.Opposite()
	}

	req.Direction = status
	req.PID = hal.PIDData1
	req.Data = nil
	if _, _, err := h.transfer(ctx, &req); err != nil {
		return 0, h.stageFailed(setup, StageStatus, err)
	}

	if setup.RequestType == 0x00 && setup.Request == requestSetConfiguration {
		h.resetToggles()
	}

	pkg.LogDebug(pkg.ComponentControl, "control transfer complete",
		"addr", addr,
		"bmRequestType", fmt.Sprintf("0x%02x", setup.RequestType),
		"bRequest", setup.Request,
		"wValue", fmt.Sprintf("%#04x", setup.Value),
		"wLength", setup.Length,
		"len", n)
	return n, nil
}

func (h *HAL) stageFailed(setup *hal.SetupPacket, stage Stage, err error) error {
	pkg.LogDebug(pkg.ComponentControl, "control transfer failed",
		"stage", stage.String(),
		"bRequest", setup.Request,
		"wValue", fmt.Sprintf("%#04x", setup.Value),
		"error", err)
	return &StageError{Stage: stage, Err: err}
}
