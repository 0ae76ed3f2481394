package host

import (
	"context"
	"fmt"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// state is an enumeration step.
type state uint8

const (
	stateIdle state = iota
	statePortReset
	stateGetDevDescShort
	stateSetAddress
	stateGetDevDescFull
	stateGetConfigDesc
	stateSetConfiguration
	stateReady
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case statePortReset:
		return "PortReset"
	case stateGetDevDescShort:
		return "GetDevDescShort"
	case stateSetAddress:
		return "SetAddress"
	case stateGetDevDescFull:
		return "GetDevDescFull"
	case stateGetConfigDesc:
		return "GetConfigDesc"
	case stateSetConfiguration:
		return "SetConfiguration"
	case stateReady:
		return "Ready"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Poll advances enumeration by at most one step.
//
// A step that fails leaves the state unchanged and returns the error; the
// same step is attempted on the next call. A device that does not match the
// expected vendor and product ID is abandoned without error and no further
// transfers are issued until Initialize is called again.
//
// Once the port has been reset, a disconnect returns enumeration to the port
// reset step and clears the device model.
func (h *Host) Poll(ctx context.Context) error {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	st, armed := h.state, h.armed
	h.mu.RUnlock()

	if st > statePortReset && !h.hal.PortConnected() {
		h.disconnected(st)
		return nil
	}

	var (
		next state
		err  error
	)
	switch st {
	case stateIdle:
		if !armed {
			return nil
		}
		next = statePortReset
	case statePortReset:
		next, err = h.resetPort(ctx)
	case stateGetDevDescShort:
		next, err = h.getDeviceDescriptorShort(ctx)
	case stateSetAddress:
		next, err = h.setAddress(ctx)
	case stateGetDevDescFull:
		next, err = h.getDeviceDescriptorFull(ctx)
	case stateGetConfigDesc:
		next, err = h.getConfigDescriptor(ctx)
	case stateSetConfiguration:
		next, err = h.setConfiguration(ctx)
	default:
		return nil
	}

	if err != nil {
		pkg.LogWarn(pkg.ComponentEnum, "enumeration step failed",
			"state", st.String(), "error", err)
		return err
	}
	if next != st {
		h.transition(st, next)
	}
	return nil
}

func (h *Host) transition(from, to state) {
	h.mu.Lock()
	h.state = to
	h.mu.Unlock()
	pkg.LogDebug(pkg.ComponentEnum, "state transition", "from", from.String(), "to", to.String())
}

func (h *Host) disconnected(from state) {
	h.mu.Lock()
	h.clear()
	h.state = statePortReset
	h.mu.Unlock()

	h.hal.SetDeviceAddress(0)
	h.hal.SetMaxPacketSize0(DefaultMaxPacketSize0)
	pkg.LogInfo(pkg.ComponentEnum, "device disconnected", "state", from.String())
}

func (h *Host) resetPort(ctx context.Context) (state, error) {
	if !h.hal.PortConnected() {
		return statePortReset, nil
	}

	h.hal.SetDeviceAddress(0)
	h.hal.SetMaxPacketSize0(DefaultMaxPacketSize0)
	if err := h.hal.ResetPort(ctx); err != nil {
		return statePortReset, err
	}

	speed := h.hal.PortSpeed()
	h.mu.Lock()
	h.speed = speed
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentEnum, "device detected", "speed", speed.String())
	return stateGetDevDescShort, nil
}

func (h *Host) getDeviceDescriptorShort(ctx context.Context) (state, error) {
	buf := h.buf[:ShortDeviceDescriptorSize]
	n, err := h.getDescriptor(ctx, DescriptorTypeDevice, buf)
	if err != nil {
		return stateGetDevDescShort, err
	}

	var mps0 uint16
	if n >= ShortDeviceDescriptorSize {
		mps0 = uint16(buf[7])
	} else {
		pkg.LogWarn(pkg.ComponentEnum, "device descriptor truncated", "length", n)
	}
	if mps0 == 0 {
		mps0 = DefaultMaxPacketSize0
	}
	h.hal.SetMaxPacketSize0(mps0)

	pkg.LogDebug(pkg.ComponentEnum, "endpoint 0 max packet size", "size", mps0)
	return stateSetAddress, nil
}

func (h *Host) setAddress(ctx context.Context) (state, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetAddress,
		Value:       AssignedAddress,
	}
	if _, err := h.hal.ControlTransfer(ctx, &setup, nil); err != nil {
		return stateSetAddress, err
	}
	h.hal.SetDeviceAddress(AssignedAddress)

	pkg.LogDebug(pkg.ComponentEnum, "assigned address", "address", AssignedAddress)
	return stateGetDevDescFull, nil
}

func (h *Host) getDeviceDescriptorFull(ctx context.Context) (state, error) {
	buf := h.buf[:DeviceDescriptorSize]
	n, err := h.getDescriptor(ctx, DescriptorTypeDevice, buf)
	if err != nil {
		return stateGetDevDescFull, err
	}

	var desc DeviceDescriptor
	if !ParseDeviceDescriptor(buf[:n], &desc) {
		return stateGetDevDescFull, fmt.Errorf("%w: device descriptor %d bytes", pkg.ErrDescriptorTooShort, n)
	}

	vid, pid := h.Match()
	if desc.VendorID != vid || desc.ProductID != pid {
		pkg.LogInfo(pkg.ComponentEnum, "device not supported",
			"vendorID", fmt.Sprintf("%04x", desc.VendorID),
			"productID", fmt.Sprintf("%04x", desc.ProductID))
		h.mu.Lock()
		h.armed = false
		h.mu.Unlock()
		return stateIdle, nil
	}

	h.mu.Lock()
	h.descriptor = desc
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentEnum, "device descriptor",
		"vendorID", fmt.Sprintf("%04x", desc.VendorID),
		"productID", fmt.Sprintf("%04x", desc.ProductID),
		"class", desc.DeviceClass)
	return stateGetConfigDesc, nil
}

func (h *Host) getConfigDescriptor(ctx context.Context) (state, error) {
	buf := h.buf[:MaxConfigDescriptorSize]
	n, err := h.getDescriptor(ctx, DescriptorTypeConfiguration, buf)
	if err != nil {
		return stateGetConfigDesc, err
	}

	// A truncated header still leaves whatever endpoints fit in the reply.
	var config ConfigurationDescriptor
	total := n
	if ParseConfigurationDescriptor(buf[:n], &config) {
		if int(config.TotalLength) >= ConfigurationDescriptorSize && int(config.TotalLength) < total {
			total = int(config.TotalLength)
		}
	} else {
		pkg.LogWarn(pkg.ComponentEnum, "configuration descriptor truncated", "length", n)
	}

	var model DeviceModel
	found := ParseEndpoints(buf[:total], &model)

	h.mu.Lock()
	h.config = config
	h.model = model
	h.mu.Unlock()

	pkg.LogDebug(pkg.ComponentEnum, "configuration descriptor",
		"length", total,
		"endpoints", found,
		"bulkIn", model.BulkIn.String(),
		"bulkOut", model.BulkOut.String(),
		"interruptIn", model.InterruptIn.String())
	return stateSetConfiguration, nil
}

func (h *Host) setConfiguration(ctx context.Context) (state, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetConfiguration,
		Value:       ConfigurationValue,
	}
	if _, err := h.hal.ControlTransfer(ctx, &setup, nil); err != nil {
		return stateSetConfiguration, err
	}

	h.mu.Lock()
	h.model.Ready = true
	model := h.model
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentEnum, "device configured",
		"bulkIn", model.BulkIn.String(),
		"bulkOut", model.BulkOut.String(),
		"interruptIn", model.InterruptIn.String())
	return stateReady, nil
}

// getDescriptor issues GET_DESCRIPTOR for index 0 of descType, requesting
// len(buf) bytes.
func (h *Host) getDescriptor(ctx context.Context, descType uint8, buf []byte) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType) << 8,
		Length:      uint16(len(buf)),
	}
	return h.hal.ControlTransfer(ctx, &setup, buf)
}
