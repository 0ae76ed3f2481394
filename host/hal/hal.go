package hal

import (
	"context"
	"time"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// SetupPacket represents a USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes in the data stage
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// Direction returns the data stage direction encoded in bit 7 of RequestType.
func (s *SetupPacket) Direction() Direction {
	if s.RequestType&0x80 != 0 {
		return DirectionIn
	}
	return DirectionOut
}

// Direction is the data direction of a transaction relative to the host.
type Direction uint8

// Direction values.
const (
	DirectionOut Direction = 0 // Host to device
	DirectionIn  Direction = 1 // Device to host
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// DirectionOf returns the direction encoded in bit 7 of an endpoint address.
func DirectionOf(endpoint uint8) Direction {
	if endpoint&0x80 != 0 {
		return DirectionIn
	}
	return DirectionOut
}

// EndpointType is the transfer type of an endpoint, in the encoding used
// by both endpoint descriptors and the DWC2 HCCHAR register.
type EndpointType uint8

// Endpoint type constants.
const (
	EndpointControl     EndpointType = 0
	EndpointIsochronous EndpointType = 1
	EndpointBulk        EndpointType = 2
	EndpointInterrupt   EndpointType = 3
)

// String returns the transfer type name.
func (t EndpointType) String() string {
	switch t {
	case EndpointControl:
		return "control"
	case EndpointIsochronous:
		return "isochronous"
	case EndpointBulk:
		return "bulk"
	case EndpointInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// PID is a packet identifier in the encoding of the DWC2 HCTSIZ.PID field.
type PID uint8

// PID values.
const (
	PIDData0 PID = 0
	PIDData2 PID = 1
	PIDData1 PID = 2
	PIDSetup PID = 3 // MDATA for non-control endpoints
)

// Toggle returns the next data toggle. Only DATA0 and DATA1 alternate.
func (p PID) Toggle() PID {
	switch p {
	case PIDData0:
		return PIDData1
	case PIDData1:
		return PIDData0
	default:
		return p
	}
}

// String returns the PID name.
func (p PID) String() string {
	switch p {
	case PIDData0:
		return "DATA0"
	case PIDData1:
		return "DATA1"
	case PIDData2:
		return "DATA2"
	case PIDSetup:
		return "SETUP"
	default:
		return "?"
	}
}

// DeviceAddress represents a USB device address (0-127).
type DeviceAddress uint8

// Delayer provides the microsecond busy-wait the stack uses for reset
// timing and completion polling.
type Delayer interface {
	DelayMicroseconds(us uint32)
}

// SleepDelayer implements Delayer with time.Sleep for hosted builds.
type SleepDelayer struct{}

// DelayMicroseconds sleeps for us microseconds.
func (SleepDelayer) DelayMicroseconds(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// HostHAL defines the controller operations the enumeration layer needs.
//
// There is one root port and one device. Implementations poll; no method
// depends on interrupt delivery. Control transfers always target endpoint 0
// at the address recorded by SetDeviceAddress.
type HostHAL interface {
	// Init brings the controller out of reset into host mode.
	Init(ctx context.Context) error

	// PortConnected reports whether a device is attached to the root port.
	PortConnected() bool

	// PortSpeed returns the speed of the attached device.
	PortSpeed() Speed

	// ResetPort drives a bus reset on the root port and waits for recovery.
	ResetPort(ctx context.Context) error

	// SetDeviceAddress records the address used for subsequent channel
	// programming. It does not talk to the device.
	SetDeviceAddress(addr DeviceAddress)

	// SetMaxPacketSize0 records the endpoint 0 max packet size.
	SetMaxPacketSize0(size uint16)

	// ControlTransfer performs SETUP, optional DATA, and STATUS stages.
	// Returns the number of bytes moved in the data stage.
	ControlTransfer(ctx context.Context, setup *SetupPacket, data []byte) (int, error)

	// BulkTransfer moves data on a bulk endpoint. Bit 7 of endpoint
	// selects the direction.
	BulkTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error)

	// InterruptTransfer moves data on an interrupt endpoint.
	InterruptTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error)
}
