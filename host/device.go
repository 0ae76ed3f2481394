package host

import "fmt"

// Endpoint is an endpoint address and its max packet size.
type Endpoint struct {
	Address       uint8
	MaxPacketSize uint16
}

// Valid reports whether the endpoint was found in a configuration
// descriptor.
func (e Endpoint) Valid() bool {
	return e.Address != 0 && e.MaxPacketSize != 0
}

// String returns the endpoint in "0x81/64" form.
func (e Endpoint) String() string {
	return fmt.Sprintf("0x%02x/%d", e.Address, e.MaxPacketSize)
}

// DeviceModel holds the endpoints of the attached adapter.
//
// Ready is true exactly when enumeration has completed; the endpoint fields
// are meaningful only then.
type DeviceModel struct {
	BulkIn      Endpoint
	BulkOut     Endpoint
	InterruptIn Endpoint
	Ready       bool
}

// ParseEndpoints walks concatenated descriptors in data and records every
// endpoint descriptor into model. It returns the number of endpoint
// descriptors recorded.
//
// IN endpoint 1 is the bulk IN endpoint, any other IN endpoint is the
// interrupt IN endpoint, and OUT endpoints are bulk OUT. A later descriptor
// of the same class replaces an earlier one.
//
// Parsing stops at the first descriptor whose length is zero or runs past
// the end of data. Nothing beyond len(data) is ever read.
func ParseEndpoints(data []byte, model *DeviceModel) int {
	found := 0
	off := 0
	for off+2 <= len(data) {
		length := int(data[off])
		if length == 0 || off+length > len(data) {
			break
		}

		if data[off+1] == DescriptorTypeEndpoint && length >= EndpointDescriptorSize {
			var desc EndpointDescriptor
			ParseEndpointDescriptor(data[off:off+length], &desc)

			ep := Endpoint{Address: desc.EndpointAddress, MaxPacketSize: desc.MaxPacketSize}
			switch {
			case desc.IsIn() && desc.Number() == 1:
				model.BulkIn = ep
			case desc.IsIn():
				model.InterruptIn = ep
			default:
				model.BulkOut = ep
			}
			found++
		}

		off += length
	}
	return found
}
