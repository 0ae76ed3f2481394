// Package dwc2 drives a DesignWare USB 2.0 OTG core (DWC2) in host mode
// without interrupts or DMA.
//
// The driver uses two statically assigned host channels: channel 0 carries
// every control transfer and channel 1 carries bulk and interrupt traffic.
// Each transfer is split into single-packet transactions programmed through
// HCCHAR/HCTSIZ, completed by polling HCINT, with payload moved through the
// slave-mode FIFOs.
//
// # Usage
//
//	regs := mmio.New(bcm2837.USBBase)
//	h := dwc2.New(regs, bcm2837.NewSystemTimer(mmio.New(bcm2837.TimerBase)))
//	if err := h.Init(ctx); err != nil {
//	    // controller absent or stuck in reset
//	}
//
// HAL implements [hal.HostHAL] and is normally driven by [host.Host].
package dwc2

import (
	"sync"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/host/hal/mmio"
	"github.com/ardnew/dwc2host/pkg"
)

// Channel is a host channel number.
type Channel uint8

// Statically assigned channels.
const (
	ChannelControl Channel = 0
	ChannelBulk    Channel = 1

	numChannels = 2
)

// DefaultMaxPacketSize0 is the endpoint 0 max packet size used until the
// device descriptor reports its own.
const DefaultMaxPacketSize0 = 8

// Config holds timing and retry budgets. All durations are microseconds.
type Config struct {
	// ResetPolls bounds the wait for AHB idle, core soft reset, and FIFO
	// flush completion.
	ResetPolls int

	// PollInterval is the delay between status register polls.
	PollInterval uint32

	// ChannelPolls bounds the wait for a channel to halt.
	ChannelPolls int

	// NAKRetries is how many NAKs one transaction absorbs before failing.
	NAKRetries int

	// TransactionRetries is how many bus errors one transaction absorbs.
	TransactionRetries int

	// PortResetHold is how long PRTRST is asserted.
	PortResetHold uint32

	// PortResetRecovery is the settle time after PRTRST is released.
	PortResetRecovery uint32

	// HostModeSettle is the wait after forcing host mode.
	HostModeSettle uint32
}

// DefaultConfig returns budgets suitable for a full-speed device.
func DefaultConfig() Config {
	return Config{
		ResetPolls:         10000,
		PollInterval:       10,
		ChannelPolls:       50000,
		NAKRetries:         1000,
		TransactionRetries: 3,
		PortResetHold:      60000,
		PortResetRecovery:  10000,
		HostModeSettle:     25000,
	}
}

// HAL implements hal.HostHAL for a DWC2 core.
type HAL struct {
	regs  mmio.Registers
	delay hal.Delayer
	cfg   Config

	// Device address, endpoint 0 packet size and port speed used by channel
	// programming.
	stateMu        sync.Mutex
	address        hal.DeviceAddress
	maxPacketSize0 uint16
	speed          hal.Speed

	// One outstanding transfer per channel.
	channelMu [numChannels]sync.Mutex

	// Serializes register sequences that share the FIFOs.
	busMu sync.Mutex

	// Data toggles of bulk/interrupt endpoints, indexed [direction][number].
	toggleMu sync.Mutex
	toggles  [2][16]hal.PID
}

// New creates a DWC2 host HAL with DefaultConfig.
func New(regs mmio.Registers, delay hal.Delayer) *HAL {
	return NewWithConfig(regs, delay, DefaultConfig())
}

// NewWithConfig creates a DWC2 host HAL with the given budgets.
func NewWithConfig(regs mmio.Registers, delay hal.Delayer, cfg Config) *HAL {
	if delay == nil {
		delay = hal.SleepDelayer{}
	}
	return &HAL{
		regs:           regs,
		delay:          delay,
		cfg:            cfg,
		maxPacketSize0: DefaultMaxPacketSize0,
	}
}

// Config returns the budgets in use.
func (h *HAL) Config() Config {
	return h.cfg
}

// SetDeviceAddress records the address used for all subsequent channel
// programming.
func (h *HAL) SetDeviceAddress(addr hal.DeviceAddress) {
	h.stateMu.Lock()
	h.address = addr & 0x7F
	h.stateMu.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "device address set", "address", addr)
}

// DeviceAddress returns the recorded device address.
func (h *HAL) DeviceAddress() hal.DeviceAddress {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.address
}

// SetMaxPacketSize0 records the endpoint 0 max packet size.
func (h *HAL) SetMaxPacketSize0(size uint16) {
	if size == 0 {
		size = DefaultMaxPacketSize0
	}
	h.stateMu.Lock()
	h.maxPacketSize0 = size
	h.stateMu.Unlock()
}

// target returns a snapshot of the device parameters used to program a
// channel.
func (h *HAL) target() (hal.DeviceAddress, uint16, hal.Speed) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.address, h.maxPacketSize0, h.speed
}

// nextToggle returns the PID for the next transaction on endpoint.
func (h *HAL) nextToggle(endpoint uint8) hal.PID {
	h.toggleMu.Lock()
	defer h.toggleMu.Unlock()
	return h.toggles[hal.DirectionOf(endpoint)][endpoint&0x0F]
}

// storeToggle records the PID the endpoint expects next.
func (h *HAL) storeToggle(endpoint uint8, pid hal.PID) {
	h.toggleMu.Lock()
	h.toggles[hal.DirectionOf(endpoint)][endpoint&0x0F] = pid
	h.toggleMu.Unlock()
}

// resetToggles returns every data endpoint to DATA0.
func (h *HAL) resetToggles() {
	h.toggleMu.Lock()
	h.toggles = [2][16]hal.PID{}
	h.toggleMu.Unlock()
}

// Ensure HAL implements hal.HostHAL.
var _ hal.HostHAL = (*HAL)(nil)
