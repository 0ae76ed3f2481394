package sim

import (
	"encoding/binary"

	"github.com/ardnew/dwc2host/host/hal"
)

// CANable identifiers (candleLight firmware).
const (
	CANableVendorID  = 0x1D50
	CANableProductID = 0x606F
)

// EndpointSpec describes one endpoint descriptor.
type EndpointSpec struct {
	Address       uint8
	Type          hal.EndpointType
	MaxPacketSize uint16
	Interval      uint8
}

// DeviceDescriptor builds an 18-byte USB 2.0 device descriptor with one
// configuration.
func DeviceDescriptor(vendorID, productID uint16, maxPacketSize0 uint8) []byte {
	d := make([]byte, 18)
	d[0] = 18
	d[1] = 0x01
	binary.LittleEndian.PutUint16(d[2:], 0x0200)
	d[7] = maxPacketSize0
	binary.LittleEndian.PutUint16(d[8:], vendorID)
	binary.LittleEndian.PutUint16(d[10:], productID)
	binary.LittleEndian.PutUint16(d[12:], 0x0100)
	d[17] = 1
	return d
}

// ConfigDescriptor builds configuration 1 with a single vendor-specific
// interface holding the given endpoints. wTotalLength covers the whole
// returned buffer.
func ConfigDescriptor(endpoints ...EndpointSpec) []byte {
	total := 9 + 9 + 7*len(endpoints)
	d := make([]byte, 0, total)

	d = append(d, 9, 0x02, byte(total), byte(total>>8), 1, 1, 0, 0x80, 50)
	d = append(d, 9, 0x04, 0, 0, byte(len(endpoints)), 0xFF, 0xFF, 0xFF, 0)
	for _, ep := range endpoints {
		d = append(d, 7, 0x05, ep.Address, byte(ep.Type),
			byte(ep.MaxPacketSize), byte(ep.MaxPacketSize>>8), ep.Interval)
	}
	return d
}

// CANableEndpoints is the endpoint layout served by CANable.
var CANableEndpoints = []EndpointSpec{
	{Address: 0x81, Type: hal.EndpointBulk, MaxPacketSize: 64},
	{Address: 0x02, Type: hal.EndpointBulk, MaxPacketSize: 64},
	{Address: 0x83, Type: hal.EndpointInterrupt, MaxPacketSize: 8, Interval: 1},
}

// CANable returns a gadget that enumerates like a CANable adapter.
func CANable() *Gadget {
	return NewGadget(
		DeviceDescriptor(CANableVendorID, CANableProductID, 64),
		ConfigDescriptor(CANableEndpoints...),
	)
}
