package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// Host enumerates the single device on the root port and moves data on its
// endpoints.
//
// Enumeration advances only from Poll, one step per call. Bulk and interrupt
// calls may run concurrently with Poll; they use a separate controller
// channel and read the device model under a lock.
type Host struct {
	hal hal.HostHAL

	// Serializes Initialize, Reset and Poll.
	pollMu sync.Mutex

	mu         sync.RWMutex
	state      state
	armed      bool
	vendorID   uint16
	productID  uint16
	speed      hal.Speed
	model      DeviceModel
	descriptor DeviceDescriptor
	config     ConfigurationDescriptor

	// Scratch buffer for descriptor reads. Owned by Poll.
	buf [MaxConfigDescriptorSize]byte
}

// New creates a host over h that accepts the CANable adapter.
func New(h hal.HostHAL) *Host {
	return &Host{
		hal:       h,
		state:     stateIdle,
		vendorID:  CANableVendorID,
		productID: CANableProductID,
	}
}

// SetMatch sets the vendor and product ID a device must report to be
// configured.
func (h *Host) SetMatch(vendorID, productID uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vendorID = vendorID
	h.productID = productID
}

// Match returns the vendor and product ID a device must report.
func (h *Host) Match() (vendorID, productID uint16) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vendorID, h.productID
}

// Initialize brings up the controller and arms enumeration; the next Poll
// starts the port reset.
//
// It fails with pkg.ErrAlreadyRunning unless enumeration is idle, either
// because it never started, was Reset, or abandoned a mismatched device.
func (h *Host) Initialize(ctx context.Context) error {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()

	h.mu.RLock()
	st := h.state
	h.mu.RUnlock()
	if st != stateIdle {
		return fmt.Errorf("%w: enumeration in state %s", pkg.ErrAlreadyRunning, st)
	}

	if err := h.hal.Init(ctx); err != nil {
		pkg.LogError(pkg.ComponentHost, "controller initialization failed", "error", err)
		return err
	}

	h.mu.Lock()
	h.clear()
	h.state = stateIdle
	h.armed = true
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "host initialized")
	return nil
}

// Reset abandons enumeration and returns to idle. The device model is
// cleared and Initialize must be called again.
func (h *Host) Reset() {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()

	h.mu.Lock()
	h.clear()
	h.state = stateIdle
	h.armed = false
	h.mu.Unlock()

	pkg.LogDebug(pkg.ComponentHost, "host reset")
}

// clear forgets the attached device. The caller holds mu.
func (h *Host) clear() {
	h.model = DeviceModel{}
	h.descriptor = DeviceDescriptor{}
	h.config = ConfigurationDescriptor{}
	h.speed = hal.SpeedUnknown
}

// DeviceReady reports whether enumeration has completed.
func (h *Host) DeviceReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model.Ready
}

// Device returns a copy of the device model.
func (h *Host) Device() DeviceModel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model
}

// Descriptor returns the device descriptor read during enumeration.
func (h *Host) Descriptor() DeviceDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.descriptor
}

// Configuration returns the configuration descriptor header read during
// enumeration.
func (h *Host) Configuration() ConfigurationDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Speed returns the port speed observed after the last port reset.
func (h *Host) Speed() hal.Speed {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.speed
}

// BulkIn reads from the bulk IN endpoint into buf.
func (h *Host) BulkIn(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	ep, err := h.endpoint(endpoint, func(m *DeviceModel) Endpoint { return m.BulkIn })
	if err != nil {
		return 0, err
	}
	return h.hal.BulkTransfer(ctx, ep.Address, ep.MaxPacketSize, buf)
}

// BulkOut writes buf to the bulk OUT endpoint.
func (h *Host) BulkOut(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	ep, err := h.endpoint(endpoint, func(m *DeviceModel) Endpoint { return m.BulkOut })
	if err != nil {
		return 0, err
	}
	return h.hal.BulkTransfer(ctx, ep.Address, ep.MaxPacketSize, buf)
}

// InterruptIn reads from the interrupt IN endpoint into buf.
func (h *Host) InterruptIn(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	ep, err := h.endpoint(endpoint, func(m *DeviceModel) Endpoint { return m.InterruptIn })
	if err != nil {
		return 0, err
	}
	return h.hal.InterruptTransfer(ctx, ep.Address, ep.MaxPacketSize, buf)
}

// endpoint returns the model endpoint selected by pick if it matches the
// requested address.
func (h *Host) endpoint(address uint8, pick func(*DeviceModel) Endpoint) (Endpoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.model.Ready {
		return Endpoint{}, pkg.ErrNotReady
	}
	ep := pick(&h.model)
	if !ep.Valid() || ep.Address != address {
		return Endpoint{}, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidEndpoint, address)
	}
	return ep, nil
}
