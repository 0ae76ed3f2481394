package host

import (
	"context"
	"sync"

	"github.com/ardnew/dwc2host/pkg"
)

// Pipe is a buffered byte stream over the bulk endpoint pair of the
// configured device.
type Pipe struct {
	host *Host
	in   Endpoint
	out  Endpoint

	readBuf []byte
	readPos int
	readLen int

	mu sync.Mutex
}

// NewPipe creates a pipe over the device's bulk endpoints. The device must
// be ready.
func NewPipe(h *Host) (*Pipe, error) {
	model := h.Device()
	if !model.Ready {
		return nil, pkg.ErrNotReady
	}
	if !model.BulkIn.Valid() || !model.BulkOut.Valid() {
		return nil, pkg.ErrInvalidEndpoint
	}
	return &Pipe{
		host:    h,
		in:      model.BulkIn,
		out:     model.BulkOut,
		readBuf: make([]byte, model.BulkIn.MaxPacketSize),
	}, nil
}

// Read returns buffered data first, then reads one packet from the bulk IN
// endpoint.
func (p *Pipe) Read(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readPos < p.readLen {
		n := copy(data, p.readBuf[p.readPos:p.readLen])
		p.readPos += n
		return n, nil
	}

	n, err := p.host.BulkIn(ctx, p.in.Address, p.readBuf)
	if err != nil {
		return 0, err
	}

	copied := copy(data, p.readBuf[:n])
	p.readPos = copied
	p.readLen = n
	return copied, nil
}

// Write sends data on the bulk OUT endpoint in max packet sized pieces.
func (p *Pipe) Write(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := int(p.out.MaxPacketSize)
	total := 0
	for len(data) > 0 {
		n := min(len(data), size)
		written, err := p.host.BulkOut(ctx, p.out.Address, data[:n])
		total += written
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

// Buffered returns the number of bytes read from the device but not yet
// returned by Read.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLen - p.readPos
}
