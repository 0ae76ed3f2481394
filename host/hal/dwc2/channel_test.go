package dwc2

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		hcint  uint32
		status pkg.TransferStatus
		done   bool
	}{
		{"busy", 0, pkg.TransferStatusSuccess, false},
		{"complete", HCINTTransferComplete | HCINTACK | HCINTHalted, pkg.TransferStatusSuccess, true},
		{"ack only", HCINTACK, pkg.TransferStatusSuccess, true},
		{"nak", HCINTNAK | HCINTHalted, pkg.TransferStatusNAK, true},
		{"stall wins over nak", HCINTStall | HCINTNAK | HCINTHalted, pkg.TransferStatusStall, true},
		{"xact", HCINTTransactionError | HCINTHalted, pkg.TransferStatusTransactionError, true},
		{"toggle", HCINTToggleError | HCINTHalted, pkg.TransferStatusTransactionError, true},
		{"babble", HCINTBabble | HCINTHalted, pkg.TransferStatusBabble, true},
		{"ahb error", HCINTAHBError | HCINTHalted, pkg.TransferStatusError, true},
		{"halted without cause", HCINTHalted, pkg.TransferStatusError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, done := classify(tt.hcint)
			assert.Equal(t, tt.done, done)
			if done {
				assert.Equal(t, tt.status, status)
			}
		})
	}
}

func TestCharacteristics(t *testing.T) {
	h := New(nil, hal.SleepDelayer{})

	char := h.characteristics(&ChannelRequest{
		Address:   0x7F,
		Endpoint:  0x0F,
		Type:      hal.EndpointInterrupt,
		Direction: hal.DirectionIn,
		MaxPacket: 8,
	})

	assert.Equal(t, uint32(8), char&HCCHARMaxPacketMask)
	assert.Equal(t, uint32(0xF), (char&HCCHAREndpointMask)>>HCCHAREndpointShift)
	assert.Equal(t, uint32(3), (char&HCCHARTypeMask)>>HCCHARTypeShift)
	assert.Equal(t, uint32(0x7F), (char&HCCHARAddressMask)>>HCCHARAddressShift)
	assert.NotZero(t, char&HCCHARDirIn)
	assert.Zero(t, char&HCCHAREnable, "enable is set separately")
	assert.Zero(t, char&HCCHARLowSpeed)
}

func TestToggles(t *testing.T) {
	h := New(nil, nil)

	assert.Equal(t, hal.PIDData0, h.nextToggle(0x81))
	h.storeToggle(0x81, hal.PIDData1)
	assert.Equal(t, hal.PIDData1, h.nextToggle(0x81))
	assert.Equal(t, hal.PIDData0, h.nextToggle(0x01), "IN and OUT are tracked separately")

	h.resetToggles()
	assert.Equal(t, hal.PIDData0, h.nextToggle(0x81))
}

func TestSetMaxPacketSize0_ZeroFallsBack(t *testing.T) {
	h := New(nil, nil)

	h.SetMaxPacketSize0(64)
	_, mps, _ := h.target()
	assert.Equal(t, uint16(64), mps)

	h.SetMaxPacketSize0(0)
	_, mps, _ = h.target()
	assert.Equal(t, uint16(DefaultMaxPacketSize0), mps)
}
