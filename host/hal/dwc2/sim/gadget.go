package sim

import (
	"sync"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// Function is the device side of the bus as seen by the controller.
type Function interface {
	// Reset returns the function to its default state after a bus reset.
	Reset()

	// Address is the device address the function currently answers on.
	Address() uint8

	// Setup receives an 8-byte SETUP packet on endpoint 0.
	Setup(packet []byte) Response

	// In asks endpoint for up to max bytes.
	In(endpoint uint8, max int) ([]byte, Response)

	// Out delivers data to endpoint.
	Out(endpoint uint8, data []byte) Response
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseDataIn
	phaseDataOut
	phaseStatusIn
	phaseStalled
)

// Standard requests the gadget answers.
const (
	requestGetStatus        = 0x00
	requestSetAddress       = 0x05
	requestGetDescriptor    = 0x06
	requestGetConfiguration = 0x08
	requestSetConfiguration = 0x09
)

// Gadget is a Function that answers standard requests from fixed
// descriptors and exchanges data through per-endpoint queues.
//
// SET_ADDRESS and SET_CONFIGURATION take effect when their status stage
// completes. Unsupported requests stall the data or status stage. Data
// endpoints answer NAK while their IN queue is empty.
type Gadget struct {
	mu sync.Mutex

	device []byte
	config []byte

	address       uint8
	configuration uint8

	phase   phase
	setup   hal.SetupPacket
	reply   []byte
	outData []byte
	pending func()

	requests []hal.SetupPacket
	inQueue  map[uint8][][]byte
	received map[uint8][]byte
}

// NewGadget creates a gadget serving the given device and configuration
// descriptors.
func NewGadget(device, config []byte) *Gadget {
	return &Gadget{
		device:   device,
		config:   config,
		inQueue:  make(map[uint8][][]byte),
		received: make(map[uint8][]byte),
	}
}

// Reset implements Function.
func (g *Gadget) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.address = 0
	g.configuration = 0
	g.phase = phaseIdle
	g.reply = nil
	g.outData = nil
	g.pending = nil
}

// Address implements Function.
func (g *Gadget) Address() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.address
}

// Configuration returns the active configuration value, 0 if unconfigured.
func (g *Gadget) Configuration() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configuration
}

// Requests returns every SETUP packet received since creation.
func (g *Gadget) Requests() []hal.SetupPacket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]hal.SetupPacket(nil), g.requests...)
}

// Queue appends a message to an IN endpoint. It is delivered in max packet
// sized pieces, ending with a short or zero-length packet.
func (g *Gadget) Queue(endpoint uint8, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inQueue[endpoint] = append(g.inQueue[endpoint], append([]byte(nil), data...))
}

// Received returns everything written to an OUT endpoint.
func (g *Gadget) Received(endpoint uint8) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]byte(nil), g.received[endpoint]...)
}

// Setup implements Function.
func (g *Gadget) Setup(packet []byte) Response {
	g.mu.Lock()
	defer g.mu.Unlock()

	var s hal.SetupPacket
	if !hal.ParseSetupPacket(packet, &s) {
		return XactErr
	}
	g.setup = s
	g.requests = append(g.requests, s)
	g.reply = nil
	g.outData = nil
	g.pending = nil

	switch {
	case s.RequestType == 0x80 && s.Request == requestGetDescriptor:
		var desc []byte
		switch s.Value >> 8 {
		case 0x01:
			desc = g.device
		case 0x02:
			desc = g.config
		}
		if desc == nil {
			g.phase = phaseStalled
			break
		}
		g.reply = truncate(desc, int(s.Length))
		g.phase = phaseDataIn

	case s.RequestType == 0x80 && s.Request == requestGetConfiguration:
		g.reply = truncate([]byte{g.configuration}, int(s.Length))
		g.phase = phaseDataIn

	case s.RequestType == 0x80 && s.Request == requestGetStatus:
		g.reply = truncate([]byte{0, 0}, int(s.Length))
		g.phase = phaseDataIn

	case s.RequestType == 0x00 && s.Request == requestSetAddress && s.Length == 0:
		addr := uint8(s.Value & 0x7F)
		g.pending = func() { g.address = addr }
		g.phase = phaseStatusIn

	case s.RequestType == 0x00 && s.Request == requestSetConfiguration && s.Length == 0:
		cfg := uint8(s.Value)
		if cfg > 1 {
			g.phase = phaseStalled
			break
		}
		g.pending = func() { g.configuration = cfg }
		g.phase = phaseStatusIn

	case s.RequestType&0x80 == 0 && s.Length > 0:
		// Accept and record class or vendor OUT data.
		g.phase = phaseDataOut

	default:
		g.phase = phaseStalled
	}

	if g.phase == phaseStalled {
		pkg.LogDebug(pkg.ComponentSim, "request not supported",
			"bmRequestType", s.RequestType, "bRequest", s.Request, "wValue", s.Value)
	}
	// SETUP is always acknowledged; unsupported requests stall later.
	return ACK
}

// In implements Function.
func (g *Gadget) In(endpoint uint8, max int) ([]byte, Response) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if endpoint&0x0F == 0 {
		return g.controlIn(max)
	}
	if g.configuration == 0 {
		return nil, Stall
	}

	q := g.inQueue[endpoint]
	if len(q) == 0 {
		return nil, NAK
	}
	msg := q[0]
	n := min(max, len(msg))
	chunk := msg[:n]
	rest := msg[n:]
	if len(rest) == 0 && n < max {
		g.inQueue[endpoint] = q[1:]
	} else {
		q[0] = rest
	}
	return chunk, ACK
}

func (g *Gadget) controlIn(max int) ([]byte, Response) {
	switch g.phase {
	case phaseDataIn:
		n := min(max, len(g.reply))
		chunk := g.reply[:n]
		g.reply = g.reply[n:]
		return chunk, ACK

	case phaseStatusIn:
		if g.pending != nil {
			g.pending()
			g.pending = nil
		}
		g.phase = phaseIdle
		return nil, ACK

	default:
		return nil, Stall
	}
}

// Out implements Function.
func (g *Gadget) Out(endpoint uint8, data []byte) Response {
	g.mu.Lock()
	defer g.mu.Unlock()

	if endpoint&0x0F == 0 {
		return g.controlOut(data)
	}
	if g.configuration == 0 {
		return Stall
	}
	g.received[endpoint] = append(g.received[endpoint], data...)
	return ACK
}

func (g *Gadget) controlOut(data []byte) Response {
	switch g.phase {
	case phaseDataIn:
		// Status stage of an IN request.
		if len(data) != 0 {
			return Stall
		}
		g.phase = phaseIdle
		return ACK

	case phaseDataOut:
		g.outData = append(g.outData, data...)
		if len(g.outData) >= int(g.setup.Length) {
			g.phase = phaseStatusIn
		}
		return ACK

	default:
		return Stall
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		b = b[:n]
	}
	return append([]byte(nil), b...)
}

// Ensure Gadget implements Function.
var _ Function = (*Gadget)(nil)
