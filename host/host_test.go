package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// =============================================================================
// Mock HAL for Testing
// =============================================================================

type bulkCall struct {
	interrupt bool
	endpoint  uint8
	maxPacket uint16
	length    int
}

// mockHAL implements hal.HostHAL with canned descriptors.
type mockHAL struct {
	mu sync.Mutex

	initErr   error
	connected bool
	speed     hal.Speed
	resetErr  error
	resets    int

	deviceDesc []byte
	configDesc []byte

	// failures maps a bRequest to the errors returned by its next attempts.
	failures map[uint8][]error
	// short truncates the next reply of a bRequest to the given length.
	short map[uint8]int

	setups    []hal.SetupPacket
	addresses []hal.DeviceAddress
	mps0      []uint16
	bulk      []bulkCall
	bulkData  []byte
}

func newMockHAL() *mockHAL {
	dev := []byte{18, 0x01, 0x00, 0x02, 0, 0, 0, 64, 0x50, 0x1D, 0x6F, 0x60, 0x00, 0x01, 1, 2, 3, 1}
	return &mockHAL{
		connected:  true,
		speed:      hal.SpeedFull,
		deviceDesc: dev,
		configDesc: append([]byte(nil), canableConfig...),
		failures:   make(map[uint8][]error),
		short:      make(map[uint8]int),
	}
}

func (m *mockHAL) Init(ctx context.Context) error { return m.initErr }

func (m *mockHAL) PortConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockHAL) PortSpeed() hal.Speed { return m.speed }

func (m *mockHAL) ResetPort(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return m.resetErr
}

func (m *mockHAL) SetDeviceAddress(addr hal.DeviceAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses = append(m.addresses, addr)
}

func (m *mockHAL) SetMaxPacketSize0(size uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mps0 = append(m.mps0, size)
}

func (m *mockHAL) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups = append(m.setups, *setup)

	if errs := m.failures[setup.Request]; len(errs) > 0 {
		m.failures[setup.Request] = errs[1:]
		return 0, errs[0]
	}

	var reply []byte
	if setup.Request == RequestGetDescriptor {
		switch setup.Value >> 8 {
		case DescriptorTypeDevice:
			reply = m.deviceDesc
		case DescriptorTypeConfiguration:
			reply = m.configDesc
		}
	}
	n := copy(data[:setup.Length], reply)
	if limit, ok := m.short[setup.Request]; ok {
		delete(m.short, setup.Request)
		n = min(n, limit)
	}
	return n, nil
}

func (m *mockHAL) BulkTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	return m.dataTransfer(false, endpoint, maxPacket, data)
}

func (m *mockHAL) InterruptTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	return m.dataTransfer(true, endpoint, maxPacket, data)
}

func (m *mockHAL) dataTransfer(interrupt bool, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulk = append(m.bulk, bulkCall{interrupt, endpoint, maxPacket, len(data)})
	if endpoint&0x80 != 0 {
		n := copy(data, m.bulkData)
		m.bulkData = m.bulkData[n:]
		return n, nil
	}
	return len(data), nil
}

func (m *mockHAL) fail(request uint8, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[request] = append(m.failures[request], errs...)
}

func (m *mockHAL) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *mockHAL) transfers() []hal.SetupPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hal.SetupPacket(nil), m.setups...)
}

// Ensure mockHAL implements hal.HostHAL.
var _ hal.HostHAL = (*mockHAL)(nil)

func newTestHost(t *testing.T) (*Host, *mockHAL) {
	t.Helper()
	m := newMockHAL()
	h := New(m)
	require.NoError(t, h.Initialize(context.Background()))
	return h, m
}

func pollN(t *testing.T, h *Host, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.Poll(context.Background()), "poll %d", i+1)
	}
}

func (h *Host) currentState() state {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// =============================================================================
// Enumeration Tests
// =============================================================================

func TestHost_SevenPollsToReady(t *testing.T) {
	h, m := newTestHost(t)
	ctx := context.Background()

	want := []state{
		statePortReset,
		stateGetDevDescShort,
		stateSetAddress,
		stateGetDevDescFull,
		stateGetConfigDesc,
		stateSetConfiguration,
		stateReady,
	}
	for i, st := range want {
		assert.False(t, h.DeviceReady(), "ready before poll %d", i+1)
		require.NoError(t, h.Poll(ctx))
		assert.Equal(t, st, h.currentState(), "after poll %d", i+1)
	}
	assert.True(t, h.DeviceReady())

	assert.Equal(t, DeviceModel{
		BulkIn:      Endpoint{Address: 0x81, MaxPacketSize: 64},
		BulkOut:     Endpoint{Address: 0x02, MaxPacketSize: 64},
		InterruptIn: Endpoint{Address: 0x83, MaxPacketSize: 8},
		Ready:       true,
	}, h.Device())
	assert.Equal(t, uint16(CANableVendorID), h.Descriptor().VendorID)
	assert.Equal(t, uint16(39), h.Configuration().TotalLength)
	assert.Equal(t, hal.SpeedFull, h.Speed())
	assert.Equal(t, 1, m.resets)

	// Ready is terminal.
	before := len(m.transfers())
	pollN(t, h, 3)
	assert.Len(t, m.transfers(), before)
	assert.Equal(t, stateReady, h.currentState())
}

func TestHost_EnumerationRequests(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 7)

	assert.Equal(t, []hal.SetupPacket{
		{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 8},
		{RequestType: 0x00, Request: 0x05, Value: 1},
		{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18},
		{RequestType: 0x80, Request: 0x06, Value: 0x0200, Length: 256},
		{RequestType: 0x00, Request: 0x09, Value: 1},
	}, m.transfers())

	// Address 0 and default packet size for the reset, then the learned values.
	assert.Equal(t, []hal.DeviceAddress{0, 1}, m.addresses)
	assert.Equal(t, []uint16{8, 64}, m.mps0)
}

func TestHost_IdleUntilInitialized(t *testing.T) {
	m := newMockHAL()
	h := New(m)

	pollN(t, h, 3)
	assert.Equal(t, stateIdle, h.currentState())
	assert.Empty(t, m.transfers())
	assert.Zero(t, m.resets)
}

func TestHost_VendorMismatch(t *testing.T) {
	h, m := newTestHost(t)
	m.deviceDesc[8], m.deviceDesc[9] = 0x34, 0x12

	pollN(t, h, 5)
	assert.Equal(t, stateIdle, h.currentState())
	assert.False(t, h.DeviceReady())
	assert.Zero(t, h.Descriptor().VendorID)

	// No further transfers until re-initialized.
	issued := len(m.transfers())
	assert.Equal(t, 3, issued)
	pollN(t, h, 5)
	assert.Len(t, m.transfers(), issued)
	assert.Equal(t, 1, m.resets)

	// Re-probe with a matching filter.
	h.SetMatch(0x1234, CANableProductID)
	require.NoError(t, h.Initialize(context.Background()))
	pollN(t, h, 7)
	assert.True(t, h.DeviceReady())
}

func TestHost_SetMatch(t *testing.T) {
	h := New(newMockHAL())

	vid, pid := h.Match()
	assert.Equal(t, uint16(CANableVendorID), vid)
	assert.Equal(t, uint16(CANableProductID), pid)

	h.SetMatch(0x0483, 0x5740)
	vid, pid = h.Match()
	assert.Equal(t, uint16(0x0483), vid)
	assert.Equal(t, uint16(0x5740), pid)
}

func TestHost_FailedStepDoesNotAdvance(t *testing.T) {
	stall := stallError()

	tests := []struct {
		name    string
		request uint8
		polls   int // polls before the failing step
		state   state
	}{
		{"short device descriptor", RequestGetDescriptor, 2, stateGetDevDescShort},
		{"set address", RequestSetAddress, 3, stateSetAddress},
		{"set configuration", RequestSetConfiguration, 6, stateSetConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m := newTestHost(t)
			pollN(t, h, tt.polls)
			require.Equal(t, tt.state, h.currentState())

			m.fail(tt.request, stall)
			err := h.Poll(context.Background())
			assert.ErrorIs(t, err, pkg.ErrStall)
			assert.Equal(t, tt.state, h.currentState())
			assert.False(t, h.DeviceReady())

			// The same step is retried and succeeds.
			require.NoError(t, h.Poll(context.Background()))
			assert.Equal(t, tt.state+1, h.currentState())
		})
	}
}

// stallError mimics the error a controller returns for a stalled stage.
func stallError() error {
	return errors.Join(pkg.ErrControlTransfer, pkg.ErrStall)
}

func TestHost_ShortDeviceDescriptorAdvances(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 2)

	m.short[RequestGetDescriptor] = 6
	require.NoError(t, h.Poll(context.Background()))
	assert.Equal(t, stateSetAddress, h.currentState())
	assert.Equal(t, []uint16{DefaultMaxPacketSize0, DefaultMaxPacketSize0}, m.mps0)

	pollN(t, h, 4)
	assert.True(t, h.DeviceReady())
}

func TestHost_ShortConfigDescriptorAdvances(t *testing.T) {
	tests := []struct {
		name   string
		reply  []byte
		bulkIn Endpoint
	}{
		{"truncated header", []byte{4, 0x02, 4, 0}, Endpoint{}},
		{"empty reply", []byte{}, Endpoint{}},
		{"bare endpoint", []byte{7, 0x05, 0x81, 0x02, 64, 0, 0}, Endpoint{Address: 0x81, MaxPacketSize: 64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m := newTestHost(t)
			m.configDesc = tt.reply
			pollN(t, h, 5)
			require.Equal(t, stateGetConfigDesc, h.currentState())

			require.NoError(t, h.Poll(context.Background()))
			assert.Equal(t, stateSetConfiguration, h.currentState())

			require.NoError(t, h.Poll(context.Background()))
			require.True(t, h.DeviceReady())
			assert.Equal(t, tt.bulkIn, h.Device().BulkIn)
			assert.False(t, h.Device().BulkOut.Valid())
			assert.Len(t, m.transfers(), 5)
		})
	}
}

func TestHost_ZeroMaxPacketSize0(t *testing.T) {
	h, m := newTestHost(t)
	m.deviceDesc[7] = 0

	pollN(t, h, 3)
	assert.Equal(t, []uint16{8, 8}, m.mps0)
}

func TestHost_ConfigTotalLengthBoundsParsing(t *testing.T) {
	h, m := newTestHost(t)

	// wTotalLength excludes the interrupt endpoint that follows.
	m.configDesc[2] = 32

	pollN(t, h, 7)
	model := h.Device()
	assert.True(t, model.BulkIn.Valid())
	assert.True(t, model.BulkOut.Valid())
	assert.False(t, model.InterruptIn.Valid())
}

func TestHost_MalformedConfigStillConfigures(t *testing.T) {
	h, m := newTestHost(t)
	m.configDesc[25] = 0 // zero-length descriptor where bulk OUT begins

	pollN(t, h, 7)
	model := h.Device()
	assert.True(t, model.Ready)
	assert.True(t, model.BulkIn.Valid())
	assert.False(t, model.BulkOut.Valid())
}

func TestHost_PortResetWaitsForConnect(t *testing.T) {
	h, m := newTestHost(t)
	m.setConnected(false)

	pollN(t, h, 4)
	assert.Equal(t, statePortReset, h.currentState())
	assert.Zero(t, m.resets)

	m.setConnected(true)
	pollN(t, h, 1)
	assert.Equal(t, stateGetDevDescShort, h.currentState())
	assert.Equal(t, 1, m.resets)
}

func TestHost_PortResetError(t *testing.T) {
	h, m := newTestHost(t)
	m.resetErr = pkg.ErrTimeout

	pollN(t, h, 1)
	assert.ErrorIs(t, h.Poll(context.Background()), pkg.ErrTimeout)
	assert.Equal(t, statePortReset, h.currentState())
}

func TestHost_Disconnect(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 7)
	require.True(t, h.DeviceReady())

	m.setConnected(false)
	require.NoError(t, h.Poll(context.Background()))

	assert.Equal(t, statePortReset, h.currentState())
	assert.False(t, h.DeviceReady())
	assert.Equal(t, DeviceModel{}, h.Device())
	assert.Equal(t, hal.DeviceAddress(0), m.addresses[len(m.addresses)-1])

	_, err := h.BulkIn(context.Background(), 0x81, make([]byte, 64))
	assert.ErrorIs(t, err, pkg.ErrNotReady)

	// Reconnect and enumerate again from the port reset.
	m.setConnected(true)
	pollN(t, h, 6)
	assert.True(t, h.DeviceReady())
	assert.Equal(t, 2, m.resets)
}

func TestHost_DisconnectMidEnumeration(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 4)

	m.setConnected(false)
	issued := len(m.transfers())
	require.NoError(t, h.Poll(context.Background()))
	assert.Equal(t, statePortReset, h.currentState())
	assert.Len(t, m.transfers(), issued, "no transfer to a missing device")
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestHost_Initialize(t *testing.T) {
	t.Run("controller failure", func(t *testing.T) {
		m := newMockHAL()
		m.initErr = pkg.ErrHardwareAbsent
		h := New(m)

		assert.ErrorIs(t, h.Initialize(context.Background()), pkg.ErrHardwareAbsent)
		pollN(t, h, 2)
		assert.Equal(t, stateIdle, h.currentState())
	})

	t.Run("while enumerating", func(t *testing.T) {
		h, _ := newTestHost(t)
		pollN(t, h, 2)
		assert.ErrorIs(t, h.Initialize(context.Background()), pkg.ErrAlreadyRunning)
	})

	t.Run("twice before polling", func(t *testing.T) {
		h, _ := newTestHost(t)
		assert.NoError(t, h.Initialize(context.Background()))
	})

	t.Run("after reset", func(t *testing.T) {
		h, _ := newTestHost(t)
		pollN(t, h, 7)
		require.ErrorIs(t, h.Initialize(context.Background()), pkg.ErrAlreadyRunning)

		h.Reset()
		assert.False(t, h.DeviceReady())
		assert.Equal(t, stateIdle, h.currentState())

		pollN(t, h, 2)
		assert.Equal(t, stateIdle, h.currentState(), "reset disarms")

		require.NoError(t, h.Initialize(context.Background()))
		pollN(t, h, 7)
		assert.True(t, h.DeviceReady())
	})
}

func TestHost_PollCanceled(t *testing.T) {
	h, _ := newTestHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.Poll(ctx), context.Canceled)
	assert.Equal(t, stateIdle, h.currentState())
}

// =============================================================================
// Bulk / Interrupt API Tests
// =============================================================================

func TestHost_TransfersBeforeReady(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 6)
	ctx := context.Background()
	buf := make([]byte, 64)

	_, err := h.BulkIn(ctx, 0x81, buf)
	assert.ErrorIs(t, err, pkg.ErrNotReady)
	_, err = h.BulkOut(ctx, 0x02, buf)
	assert.ErrorIs(t, err, pkg.ErrNotReady)
	_, err = h.InterruptIn(ctx, 0x83, buf)
	assert.ErrorIs(t, err, pkg.ErrNotReady)

	assert.Empty(t, m.bulk)
}

func TestHost_Transfers(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 7)
	ctx := context.Background()

	m.bulkData = []byte{1, 2, 3}
	buf := make([]byte, 64)
	n, err := h.BulkIn(ctx, 0x81, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])

	n, err = h.BulkOut(ctx, 0x02, []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.InterruptIn(ctx, 0x83, buf[:8])
	require.NoError(t, err)

	assert.Equal(t, []bulkCall{
		{false, 0x81, 64, 64},
		{false, 0x02, 64, 2},
		{true, 0x83, 8, 8},
	}, m.bulk)
}

func TestHost_InvalidEndpoint(t *testing.T) {
	h, m := newTestHost(t)
	pollN(t, h, 7)
	ctx := context.Background()
	buf := make([]byte, 64)

	_, err := h.BulkIn(ctx, 0x02, buf)
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = h.BulkOut(ctx, 0x81, buf)
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = h.InterruptIn(ctx, 0x81, buf)
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)

	assert.Empty(t, m.bulk)
}

func TestHost_MissingEndpoint(t *testing.T) {
	h, m := newTestHost(t)
	m.configDesc = m.configDesc[:32] // no interrupt endpoint
	m.configDesc[2] = 32

	pollN(t, h, 7)
	_, err := h.InterruptIn(context.Background(), 0x83, make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

// =============================================================================
// Pipe Tests
// =============================================================================

func TestPipe(t *testing.T) {
	h, m := newTestHost(t)

	_, err := NewPipe(h)
	require.ErrorIs(t, err, pkg.ErrNotReady)

	pollN(t, h, 7)
	p, err := NewPipe(h)
	require.NoError(t, err)
	ctx := context.Background()

	m.bulkData = []byte("abcdef")
	small := make([]byte, 4)
	n, err := p.Read(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(small[:n]))
	assert.Equal(t, 2, p.Buffered())

	n, err = p.Read(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(small[:n]))
	assert.Zero(t, p.Buffered())

	m.bulk = nil
	n, err = p.Write(ctx, make([]byte, 150))
	require.NoError(t, err)
	assert.Equal(t, 150, n)
	assert.Equal(t, []bulkCall{
		{false, 0x02, 64, 64},
		{false, 0x02, 64, 64},
		{false, 0x02, 64, 22},
	}, m.bulk)
}
