// Package sim models a DWC2 host controller at register level with one
// full-speed function attached to its root port.
//
// Controller implements mmio.Registers, so the real dwc2 driver runs against
// it unchanged. A transaction executes when the driver sets HCCHAR.CHENA:
// the staged TX FIFO words (or the RX FIFO, for IN) are exchanged with the
// attached Function and HCINT reports the handshake.
package sim

import (
	"sync"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/host/hal/dwc2"
	"github.com/ardnew/dwc2host/host/hal/mmio"
	"github.com/ardnew/dwc2host/pkg"
)

// DefaultCoreID is the GSNPSID value of a BCM2837 core (OTG 2.94a).
const DefaultCoreID = 0x4F54294A

// softResetReads is how many GRSTCTL reads a soft reset stays in progress.
const softResetReads = 3

// txFIFOWords is the non-periodic TX FIFO depth reported in GNPTXSTS.
const txFIFOWords = 0x100

// Transaction records one bus transaction.
type Transaction struct {
	Channel  dwc2.Channel
	Address  uint8
	Endpoint uint8 // includes the direction bit for IN
	Type     hal.EndpointType
	Token    Token
	PID      hal.PID
	Data     []byte // bytes moved on ACK
	Response Response
}

type channel struct {
	hcchar uint32
	hcint  uint32
	hctsiz uint32
	tx     []byte
}

type rxEntry struct {
	status uint32
	data   []byte
}

// Controller is a simulated DWC2 core.
type Controller struct {
	mu sync.Mutex

	clock  *Clock
	coreID uint32
	stuck  bool

	fn        Function
	connected bool
	lowSpeed  bool

	regs map[uint32]uint32

	resetting  bool
	resetReads int
	hostMode   bool

	portPower      bool
	portEnabled    bool
	portReset      bool
	connectChanged bool
	enableChanged  bool
	resetStart     uint64
	resetHold      uint64
	portResets     int

	channels [16]channel
	rx       []rxEntry
	rxWords  []uint32

	faults []Fault
	log    []Transaction
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock uses c to time port resets.
func WithClock(c *Clock) Option {
	return func(s *Controller) { s.clock = c }
}

// WithCoreID sets the GSNPSID value.
func WithCoreID(id uint32) Option {
	return func(s *Controller) { s.coreID = id }
}

// WithStuckReset makes the core soft reset never complete.
func WithStuckReset() Option {
	return func(s *Controller) { s.stuck = true }
}

// WithLowSpeed reports the attached function as low speed.
func WithLowSpeed() Option {
	return func(s *Controller) { s.lowSpeed = true }
}

// New creates a controller with fn attached. fn may be nil for an empty
// port.
func New(fn Function, opts ...Option) *Controller {
	c := &Controller{
		coreID: DefaultCoreID,
		regs:   make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = &Clock{}
	}
	if fn != nil {
		c.fn = fn
		c.connected = true
		c.connectChanged = true
	}
	return c
}

// Clock returns the controller's clock. Pass it to the driver as its
// hal.Delayer so reset timing can be measured.
func (c *Controller) Clock() *Clock {
	return c.clock
}

// Connect attaches fn to the root port.
func (c *Controller) Connect(fn Function) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	c.connected = fn != nil
	c.connectChanged = true
	c.portEnabled = false
}

// Disconnect detaches the function and disables the port.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = nil
	c.connected = false
	c.connectChanged = true
	if c.portEnabled {
		c.portEnabled = false
		c.enableChanged = true
	}
}

// Inject queues a fault. Faults are matched in injection order.
func (c *Controller) Inject(f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, f)
}

// ClearFaults removes every pending fault.
func (c *Controller) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = nil
}

// Transactions returns the transaction log.
func (c *Controller) Transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.log...)
}

// ClearTransactions empties the transaction log.
func (c *Controller) ClearTransactions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
}

// PortResets returns how many port resets completed.
func (c *Controller) PortResets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portResets
}

// LastResetHold returns how long, in microseconds, the most recent port
// reset was held.
func (c *Controller) LastResetHold() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetHold
}

// Register returns the raw stored value of a register without side effects.
func (c *Controller) Register(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, reg, ok := channelRegister(offset); ok {
		switch reg {
		case dwc2.OffHCCHAR:
			return c.channels[ch].hcchar
		case dwc2.OffHCINT:
			return c.channels[ch].hcint
		case dwc2.OffHCTSIZ:
			return c.channels[ch].hctsiz
		}
	}
	return c.regs[offset]
}

// channelRegister decodes a host channel register offset.
func channelRegister(offset uint32) (ch int, reg uint32, ok bool) {
	if offset < dwc2.RegHCBase || offset >= dwc2.RegHCBase+16*dwc2.RegHCStride {
		return 0, 0, false
	}
	rel := offset - dwc2.RegHCBase
	return int(rel / dwc2.RegHCStride), rel % dwc2.RegHCStride, true
}

// fifoChannel decodes a data FIFO window offset.
func fifoChannel(offset uint32) (int, bool) {
	if offset < dwc2.RegFIFOBase || offset >= dwc2.RegFIFOBase+16*dwc2.RegFIFOWidth {
		return 0, false
	}
	return int((offset - dwc2.RegFIFOBase) / dwc2.RegFIFOWidth), true
}

// Read32 implements mmio.Registers.
func (c *Controller) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, reg, ok := channelRegister(offset); ok {
		switch reg {
		case dwc2.OffHCCHAR:
			return c.channels[ch].hcchar
		case dwc2.OffHCINT:
			return c.channels[ch].hcint
		case dwc2.OffHCTSIZ:
			return c.channels[ch].hctsiz
		default:
			return c.regs[offset]
		}
	}
	if _, ok := fifoChannel(offset); ok {
		if len(c.rxWords) == 0 {
			return 0
		}
		w := c.rxWords[0]
		c.rxWords = c.rxWords[1:]
		return w
	}

	switch offset {
	case dwc2.RegGSNPSID:
		return c.coreID

	case dwc2.RegGRSTCTL:
		v := uint32(dwc2.GRSTCTLAHBIdle)
		if c.resetting {
			c.resetReads++
			if c.stuck || c.resetReads <= softResetReads {
				v |= dwc2.GRSTCTLCoreSoftReset
			} else {
				c.resetting = false
			}
		}
		return v

	case dwc2.RegGINTSTS:
		var v uint32
		if c.hostMode {
			v |= dwc2.GINTSTSCurrentMode
		}
		if len(c.rx) > 0 {
			v |= dwc2.GINTSTSRxFIFOLevel
		}
		if c.connectChanged || c.enableChanged {
			v |= dwc2.GINTSTSHostPort
		}
		return v

	case dwc2.RegGRXSTSR:
		if len(c.rx) == 0 {
			return 0
		}
		return c.rx[0].status

	case dwc2.RegGRXSTSP:
		if len(c.rx) == 0 {
			return 0
		}
		e := c.rx[0]
		c.rx = c.rx[1:]
		c.rxWords = packWords(e.data)
		return e.status

	case dwc2.RegGNPTXSTS:
		return 8<<16 | txFIFOWords

	case dwc2.RegHPRT:
		return c.hprt()
	}
	return c.regs[offset]
}

func (c *Controller) hprt() uint32 {
	var v uint32
	if c.connected {
		v |= dwc2.HPRTConnectStatus
		speed := uint32(dwc2.HPRTSpeedFull)
		if c.lowSpeed {
			speed = dwc2.HPRTSpeedLow
		}
		v |= speed << dwc2.HPRTSpeedShift
	}
	if c.connectChanged {
		v |= dwc2.HPRTConnectDetect
	}
	if c.portEnabled {
		v |= dwc2.HPRTEnable
	}
	if c.enableChanged {
		v |= dwc2.HPRTEnableChange
	}
	if c.portReset {
		v |= dwc2.HPRTReset
	}
	if c.portPower {
		v |= dwc2.HPRTPower
	}
	return v
}

// Write32 implements mmio.Registers.
func (c *Controller) Write32(offset uint32, value uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, reg, ok := channelRegister(offset); ok {
		c.writeChannel(ch, reg, offset, value)
		return
	}
	if ch, ok := fifoChannel(offset); ok {
		c.channels[ch].tx = append(c.channels[ch].tx,
			byte(value), byte(value>>8), byte(value>>16), byte(value>>24))
		return
	}

	switch offset {
	case dwc2.RegGRSTCTL:
		if value&dwc2.GRSTCTLCoreSoftReset != 0 {
			c.softReset()
		}
		if value&dwc2.GRSTCTLRxFIFOFlush != 0 {
			c.rx = nil
			c.rxWords = nil
		}
		if value&dwc2.GRSTCTLTxFIFOFlush != 0 {
			for i := range c.channels {
				c.channels[i].tx = nil
			}
		}

	case dwc2.RegGUSBCFG:
		c.regs[offset] = value
		c.hostMode = value&dwc2.GUSBCFGForceHostMode != 0

	case dwc2.RegGINTSTS:
		// Write-1-to-clear; every bit the model reports is derived state.

	case dwc2.RegHPRT:
		c.writePort(value)

	default:
		c.regs[offset] = value
	}
}

func (c *Controller) softReset() {
	c.resetting = true
	c.resetReads = 0
	c.hostMode = false
	c.rx = nil
	c.rxWords = nil
	for i := range c.channels {
		c.channels[i] = channel{}
	}
	for off := range c.regs {
		if off != dwc2.RegGUSBCFG {
			delete(c.regs, off)
		}
	}
}

func (c *Controller) writePort(value uint32) {
	if value&dwc2.HPRTConnectDetect != 0 {
		c.connectChanged = false
	}
	if value&dwc2.HPRTEnableChange != 0 {
		c.enableChanged = false
	}
	if value&dwc2.HPRTEnable != 0 && c.portEnabled {
		c.portEnabled = false
		c.enableChanged = true
		pkg.LogDebug(pkg.ComponentSim, "port disabled by write")
	}
	c.portPower = value&dwc2.HPRTPower != 0

	reset := value&dwc2.HPRTReset != 0
	switch {
	case reset && !c.portReset:
		c.portReset = true
		c.portEnabled = false
		c.resetStart = c.clock.Now()

	case !reset && c.portReset:
		c.portReset = false
		c.resetHold = c.clock.Now() - c.resetStart
		c.portResets++
		if c.connected && c.portPower {
			c.portEnabled = true
			c.enableChanged = true
			c.fn.Reset()
		}
		pkg.LogDebug(pkg.ComponentSim, "port reset released",
			"held_us", c.resetHold, "enabled", c.portEnabled)
	}
}

func (c *Controller) writeChannel(ch int, reg, offset, value uint32) {
	s := &c.channels[ch]
	switch reg {
	case dwc2.OffHCINT:
		s.hcint &^= value
	case dwc2.OffHCTSIZ:
		s.hctsiz = value
	case dwc2.OffHCCHAR:
		switch {
		case value&dwc2.HCCHAREnable != 0 && value&dwc2.HCCHARDisable != 0:
			s.hcchar = value &^ (dwc2.HCCHAREnable | dwc2.HCCHARDisable)
			s.hcint |= dwc2.HCINTHalted
			s.tx = nil
		case value&dwc2.HCCHAREnable != 0 && s.hcchar&dwc2.HCCHAREnable == 0:
			s.hcchar = value
			c.execute(ch)
		default:
			s.hcchar = value
		}
	default:
		c.regs[offset] = value
	}
}

// execute runs the transaction programmed on channel ch.
func (c *Controller) execute(ch int) {
	s := &c.channels[ch]
	char, tsiz := s.hcchar, s.hctsiz

	size := int(tsiz & dwc2.HCTSIZSizeMask)
	pid := hal.PID(mmio.Field(tsiz, dwc2.HCTSIZPIDShift, 2))
	num := uint8(mmio.Field(char, dwc2.HCCHAREndpointShift, 4))
	typ := hal.EndpointType(mmio.Field(char, dwc2.HCCHARTypeShift, 2))
	addr := uint8(mmio.Field(char, dwc2.HCCHARAddressShift, 7))
	in := char&dwc2.HCCHARDirIn != 0

	t := Transaction{
		Channel:  dwc2.Channel(ch),
		Address:  addr,
		Endpoint: num,
		Type:     typ,
		PID:      pid,
	}
	switch {
	case in:
		t.Token = TokenIn
		t.Endpoint |= 0x80
	case typ == hal.EndpointControl && pid == hal.PIDSetup:
		t.Token = TokenSetup
	default:
		t.Token = TokenOut
	}

	out := s.tx
	if len(out) > size {
		out = out[:size]
	}
	s.tx = nil

	t.Response = c.exchange(&t, out, size)

	var hcint uint32
	switch t.Response {
	case ACK:
		hcint = dwc2.HCINTTransferComplete | dwc2.HCINTACK | dwc2.HCINTHalted
		if in {
			c.pushIn(ch, pid, t.Data)
		}
	case NAK:
		hcint = dwc2.HCINTNAK | dwc2.HCINTHalted
	case Stall:
		hcint = dwc2.HCINTStall | dwc2.HCINTHalted
	case XactErr:
		hcint = dwc2.HCINTTransactionError | dwc2.HCINTHalted
	case Babble:
		hcint = dwc2.HCINTBabble | dwc2.HCINTHalted
	case NoResponse:
		// Channel stays enabled until the driver disables it.
		c.log = append(c.log, t)
		return
	}
	if t.Response != ACK {
		t.Data = nil
	}
	s.hcint |= hcint
	s.hcchar &^= dwc2.HCCHAREnable
	c.log = append(c.log, t)

	pkg.LogTrace(pkg.ComponentSim, "transaction",
		"ch", ch, "addr", addr, "ep", t.Endpoint, "token", t.Token.String(),
		"pid", pid.String(), "len", len(t.Data), "response", t.Response.String())
}

// exchange delivers one transaction to the attached function, applying
// faults first.
func (c *Controller) exchange(t *Transaction, out []byte, size int) Response {
	if !c.connected || !c.portEnabled || c.fn == nil {
		return XactErr
	}
	for i := range c.faults {
		f := &c.faults[i]
		if !f.matches(t.Token, t.Endpoint) {
			continue
		}
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				c.faults = append(c.faults[:i], c.faults[i+1:]...)
			}
		}
		return f.Response
	}
	if t.Address != c.fn.Address() {
		return XactErr
	}

	switch t.Token {
	case TokenSetup:
		if len(out) != hal.SetupPacketSize {
			return XactErr
		}
		t.Data = append([]byte(nil), out...)
		return c.fn.Setup(t.Data)

	case TokenIn:
		data, resp := c.fn.In(t.Endpoint, size)
		if resp == ACK && len(data) > size {
			return Babble
		}
		t.Data = append([]byte(nil), data...)
		return resp

	default:
		t.Data = append([]byte(nil), out...)
		return c.fn.Out(t.Endpoint, t.Data)
	}
}

// pushIn queues the RX status entries for a completed IN transaction.
func (c *Controller) pushIn(ch int, pid hal.PID, data []byte) {
	if len(data) > 0 {
		c.rx = append(c.rx, rxEntry{
			status: rxStatus(ch, len(data), pid, dwc2.RxStatusInData),
			data:   data,
		})
	}
	c.rx = append(c.rx, rxEntry{status: rxStatus(ch, 0, pid, dwc2.RxStatusInComplete)})
}

func rxStatus(ch, count int, pid hal.PID, kind uint32) uint32 {
	return uint32(ch)&dwc2.GRXSTSChannelMask |
		uint32(count)<<dwc2.GRXSTSCountShift |
		uint32(pid)<<dwc2.GRXSTSPIDShift |
		kind<<dwc2.GRXSTSStatusShift
}

func packWords(b []byte) []uint32 {
	words := make([]uint32, (len(b)+3)/4)
	for i, v := range b {
		words[i/4] |= uint32(v) << (8 * (i % 4))
	}
	return words
}

// Ensure Controller implements mmio.Registers.
var _ mmio.Registers = (*Controller)(nil)
