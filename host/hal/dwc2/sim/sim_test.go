package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/host/hal/dwc2"
)

func setupBytes(s hal.SetupPacket) []byte {
	var b [hal.SetupPacketSize]byte
	s.MarshalTo(b[:])
	return b[:]
}

// =============================================================================
// Descriptor Tests
// =============================================================================

func TestDeviceDescriptor(t *testing.T) {
	d := DeviceDescriptor(0x1D50, 0x606F, 64)

	require.Len(t, d, 18)
	assert.Equal(t, byte(18), d[0])
	assert.Equal(t, byte(0x01), d[1])
	assert.Equal(t, byte(64), d[7])
	assert.Equal(t, []byte{0x50, 0x1D, 0x6F, 0x60}, d[8:12])
	assert.Equal(t, byte(1), d[17])
}

func TestConfigDescriptor(t *testing.T) {
	d := ConfigDescriptor(CANableEndpoints...)

	require.Len(t, d, 39)
	assert.Equal(t, []byte{39, 0}, d[2:4], "wTotalLength")
	assert.Equal(t, byte(3), d[9+4], "bNumEndpoints")
	assert.Equal(t, []byte{7, 0x05, 0x81, 0x02, 64, 0, 0}, d[18:25])
	assert.Equal(t, []byte{7, 0x05, 0x83, 0x03, 8, 0, 1}, d[32:39])
}

// =============================================================================
// Gadget Tests
// =============================================================================

func TestGadget_GetDescriptorTruncates(t *testing.T) {
	g := CANable()

	resp := g.Setup(setupBytes(hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 8}))
	require.Equal(t, ACK, resp)

	data, resp := g.In(0, 64)
	assert.Equal(t, ACK, resp)
	assert.Len(t, data, 8)

	// Status stage.
	assert.Equal(t, ACK, g.Out(0, nil))
}

func TestGadget_SetAddressAfterStatus(t *testing.T) {
	g := CANable()

	g.Setup(setupBytes(hal.SetupPacket{RequestType: 0x00, Request: 0x05, Value: 7}))
	assert.Equal(t, uint8(0), g.Address(), "not applied before status")

	_, resp := g.In(0, 0)
	require.Equal(t, ACK, resp)
	assert.Equal(t, uint8(7), g.Address())

	g.Reset()
	assert.Equal(t, uint8(0), g.Address())
}

func TestGadget_WrongStatusDirectionStalls(t *testing.T) {
	g := CANable()

	g.Setup(setupBytes(hal.SetupPacket{RequestType: 0x00, Request: 0x09, Value: 1}))
	assert.Equal(t, Stall, g.Out(0, nil))
	assert.Equal(t, uint8(0), g.Configuration())
}

func TestGadget_DataEndpoints(t *testing.T) {
	g := CANable()

	// Unconfigured devices stall data endpoints.
	_, resp := g.In(0x81, 64)
	assert.Equal(t, Stall, resp)

	g.Setup(setupBytes(hal.SetupPacket{RequestType: 0x00, Request: 0x09, Value: 1}))
	g.In(0, 0)
	require.Equal(t, uint8(1), g.Configuration())

	_, resp = g.In(0x81, 64)
	assert.Equal(t, NAK, resp, "empty queue")

	g.Queue(0x81, make([]byte, 64))
	data, resp := g.In(0x81, 64)
	assert.Equal(t, ACK, resp)
	assert.Len(t, data, 64)

	data, resp = g.In(0x81, 64)
	assert.Equal(t, ACK, resp)
	assert.Empty(t, data, "zero-length packet terminates a full-sized message")

	_, resp = g.In(0x81, 64)
	assert.Equal(t, NAK, resp)

	assert.Equal(t, ACK, g.Out(0x02, []byte{1, 2}))
	assert.Equal(t, ACK, g.Out(0x02, []byte{3}))
	assert.Equal(t, []byte{1, 2, 3}, g.Received(0x02))
}

// =============================================================================
// Fault Tests
// =============================================================================

func TestFault_Matches(t *testing.T) {
	tests := []struct {
		name     string
		fault    Fault
		token    Token
		endpoint uint8
		want     bool
	}{
		{"any token control", Fault{}, TokenIn, 0x80, true},
		{"token mismatch", Fault{Token: TokenSetup}, TokenIn, 0x80, false},
		{"control endpoint ignores direction", Fault{Token: TokenIn}, TokenIn, 0x80, true},
		{"data endpoint exact", Fault{Endpoint: 0x81}, TokenIn, 0x81, true},
		{"data endpoint other", Fault{Endpoint: 0x81}, TokenIn, 0x83, false},
		{"control fault skips data", Fault{}, TokenIn, 0x81, false},
		{"any endpoint", Fault{Endpoint: AnyEndpoint}, TokenOut, 0x02, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fault.matches(tt.token, tt.endpoint))
		})
	}
}

func TestParseFault(t *testing.T) {
	tests := []struct {
		in   string
		want Fault
	}{
		{"in:0:nak:3", Fault{Token: TokenIn, Endpoint: 0, Response: NAK, Count: 3}},
		{"OUT:0x02:stall", Fault{Token: TokenOut, Endpoint: 0x02, Response: Stall}},
		{"any:*:xact", Fault{Token: TokenAny, Endpoint: AnyEndpoint, Response: XactErr}},
		{"setup:0:none:1", Fault{Token: TokenSetup, Response: NoResponse, Count: 1}},
		{"in:129:babble", Fault{Token: TokenIn, Endpoint: 0x81, Response: Babble}},
	}
	for _, tt := range tests {
		got, err := ParseFault(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "in:0", "ping:0:nak", "in:0x100:nak", "in:0:maybe", "in:0:nak:x", "in:0:nak:1:2"} {
		_, err := ParseFault(bad)
		assert.ErrorIs(t, err, ErrBadFault, bad)
	}
}

// =============================================================================
// Controller Tests
// =============================================================================

func TestController_SoftReset(t *testing.T) {
	c := New(nil)

	c.Write32(dwc2.RegGRSTCTL, dwc2.GRSTCTLCoreSoftReset)
	for i := 0; i < softResetReads; i++ {
		assert.NotZero(t, c.Read32(dwc2.RegGRSTCTL)&dwc2.GRSTCTLCoreSoftReset)
	}
	v := c.Read32(dwc2.RegGRSTCTL)
	assert.Zero(t, v&dwc2.GRSTCTLCoreSoftReset)
	assert.NotZero(t, v&dwc2.GRSTCTLAHBIdle)
}

func TestController_PortEnableIsWriteOneToClear(t *testing.T) {
	c := New(CANable())

	c.Write32(dwc2.RegHPRT, dwc2.HPRTPower)
	c.Write32(dwc2.RegHPRT, dwc2.HPRTPower|dwc2.HPRTReset)
	c.Clock().DelayMicroseconds(50000)
	c.Write32(dwc2.RegHPRT, dwc2.HPRTPower)

	hprt := c.Read32(dwc2.RegHPRT)
	require.NotZero(t, hprt&dwc2.HPRTEnable)
	assert.Equal(t, uint64(50000), c.LastResetHold())
	assert.Equal(t, 1, c.PortResets())

	// Writing back what was read disables the port.
	c.Write32(dwc2.RegHPRT, hprt)
	assert.Zero(t, c.Read32(dwc2.RegHPRT)&dwc2.HPRTEnable)
}

func TestController_DisconnectRaisesEvents(t *testing.T) {
	c := New(CANable())
	c.Write32(dwc2.RegHPRT, dwc2.HPRTConnectDetect)
	assert.Zero(t, c.Read32(dwc2.RegHPRT)&dwc2.HPRTConnectDetect)

	c.Disconnect()
	hprt := c.Read32(dwc2.RegHPRT)
	assert.Zero(t, hprt&dwc2.HPRTConnectStatus)
	assert.NotZero(t, hprt&dwc2.HPRTConnectDetect)
	assert.NotZero(t, c.Read32(dwc2.RegGINTSTS)&dwc2.GINTSTSHostPort)
}

func TestPackWords(t *testing.T) {
	assert.Equal(t, []uint32{0x04030201, 0x05}, packWords([]byte{1, 2, 3, 4, 5}))
	assert.Empty(t, packWords(nil))
}

func TestClock(t *testing.T) {
	var c Clock
	c.DelayMicroseconds(10)
	c.DelayMicroseconds(5)
	assert.Equal(t, uint64(15), c.Now())
}

// Ensure Clock implements hal.Delayer.
var _ hal.Delayer = (*Clock)(nil)
