// Package hal defines the seam between the enumeration layer and a USB host
// controller driver.
//
// The host stack owns USB protocol sequencing; a driver implementing
// [HostHAL] owns the registers. The interface assumes one root port, one
// attached device, and polling: no method depends on interrupt delivery.
//
// # Interface Overview
//
//   - Init brings the controller into host mode.
//   - PortConnected, PortSpeed and ResetPort manage the root port.
//   - SetDeviceAddress and SetMaxPacketSize0 record the endpoint 0 target
//     learned during enumeration.
//   - ControlTransfer runs a SETUP, optional DATA, and STATUS sequence.
//   - BulkTransfer and InterruptTransfer move data on other endpoints.
//
// The package also holds the USB vocabulary shared by both sides:
// [SetupPacket] with its 8-byte codec, [PID] in the DWC2 encoding,
// [Direction], [EndpointType], [Speed], and the [Delayer] timing primitive.
//
// # Implementations
//
// [github.com/ardnew/dwc2host/host/hal/dwc2] drives a Synopsys DesignWare
// OTG core in slave mode. Its sim subpackage models the core at register
// level for tests and the dwc2sim command.
//
// # Example
//
//	regs := mmio.New(bcm2837.USBBase)
//	timer := bcm2837.NewSystemTimer(mmio.New(bcm2837.TimerBase))
//	var controller hal.HostHAL = dwc2.New(regs, timer)
package hal
