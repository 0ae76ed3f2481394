package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// canableConfig is configuration 1 of a CANable: one vendor interface with
// bulk IN 0x81, bulk OUT 0x02 and interrupt IN 0x83.
var canableConfig = []byte{
	9, 0x02, 39, 0, 1, 1, 0, 0x80, 50, // configuration
	9, 0x04, 0, 0, 3, 0xFF, 0xFF, 0xFF, 0, // interface
	7, 0x05, 0x81, 0x02, 64, 0, 0, // bulk IN
	7, 0x05, 0x02, 0x02, 64, 0, 0, // bulk OUT
	7, 0x05, 0x83, 0x03, 8, 0, 1, // interrupt IN
}

func TestParseEndpoints_CANable(t *testing.T) {
	var model DeviceModel
	n := ParseEndpoints(canableConfig, &model)

	assert.Equal(t, 3, n)
	assert.Equal(t, DeviceModel{
		BulkIn:      Endpoint{Address: 0x81, MaxPacketSize: 64},
		BulkOut:     Endpoint{Address: 0x02, MaxPacketSize: 64},
		InterruptIn: Endpoint{Address: 0x83, MaxPacketSize: 8},
	}, model)
}

func TestParseEndpoints_StopsAtZeroLength(t *testing.T) {
	data := append([]byte(nil), canableConfig[:25]...) // through bulk IN
	data = append(data, 0, 0x05)                       // zero-length header
	data = append(data, canableConfig[25:]...)

	var model DeviceModel
	n := ParseEndpoints(data, &model)

	assert.Equal(t, 1, n)
	assert.Equal(t, Endpoint{Address: 0x81, MaxPacketSize: 64}, model.BulkIn)
	assert.False(t, model.BulkOut.Valid())
	assert.False(t, model.InterruptIn.Valid())
}

func TestParseEndpoints_StopsAtTruncatedDescriptor(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		found int
	}{
		{"cut inside last endpoint", canableConfig[:len(canableConfig)-3], 2},
		{"cut after header byte", canableConfig[:33], 2},
		{"oversized length", append(append([]byte(nil), canableConfig[:18]...), 200, 0x05, 0x81, 0x02, 64, 0, 0), 0},
		{"empty", nil, 0},
		{"single byte", []byte{7}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var model DeviceModel
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.found, ParseEndpoints(tt.data, &model))
			})
		})
	}
}

func TestParseEndpoints_LastSeenWins(t *testing.T) {
	data := []byte{
		7, 0x05, 0x81, 0x02, 64, 0, 0,
		7, 0x05, 0x81, 0x02, 32, 0, 0,
		7, 0x05, 0x84, 0x03, 16, 0, 1,
		7, 0x05, 0x83, 0x03, 8, 0, 1,
	}

	var model DeviceModel
	assert.Equal(t, 4, ParseEndpoints(data, &model))
	assert.Equal(t, Endpoint{Address: 0x81, MaxPacketSize: 32}, model.BulkIn)
	assert.Equal(t, Endpoint{Address: 0x83, MaxPacketSize: 8}, model.InterruptIn)
}

func TestParseEndpoints_SkipsShortEndpointDescriptor(t *testing.T) {
	data := []byte{
		4, 0x05, 0x81, 0x02, // too short to be an endpoint
		7, 0x05, 0x02, 0x02, 64, 0, 0,
	}

	var model DeviceModel
	assert.Equal(t, 1, ParseEndpoints(data, &model))
	assert.False(t, model.BulkIn.Valid())
	assert.Equal(t, Endpoint{Address: 0x02, MaxPacketSize: 64}, model.BulkOut)
}

func TestParseEndpoints_IgnoresOtherDescriptors(t *testing.T) {
	data := []byte{
		5, 0x24, 0x00, 0x10, 0x01, // class-specific
		7, 0x05, 0x81, 0x02, 64, 0, 0,
	}

	var model DeviceModel
	assert.Equal(t, 1, ParseEndpoints(data, &model))
	assert.Equal(t, uint8(0x81), model.BulkIn.Address)
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "0x81/64", Endpoint{Address: 0x81, MaxPacketSize: 64}.String())
	assert.Equal(t, "0x02/64", Endpoint{Address: 0x02, MaxPacketSize: 64}.String())
	assert.False(t, Endpoint{}.Valid())
}

func FuzzParseEndpoints(f *testing.F) {
	f.Add(canableConfig)
	f.Add([]byte{0})
	f.Add([]byte{255, 5, 0x81})
	f.Add([]byte{1, 1, 1, 1})

	f.Fuzz(func(t *testing.T, data []byte) {
		var model DeviceModel
		n := ParseEndpoints(data, &model)
		if n < 0 || n > len(data)/EndpointDescriptorSize {
			t.Fatalf("found %d endpoints in %d bytes", n, len(data))
		}
	})
}
