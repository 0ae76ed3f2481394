package dwc2

import (
	"context"
	"fmt"

	"github.com/ardnew/dwc2host/host/hal"
	"github.com/ardnew/dwc2host/pkg"
)

// BulkTransfer moves data on a bulk endpoint using the bulk channel. Bit 7
// of endpoint selects the direction. The endpoint's data toggle carries over
// between calls.
func (h *HAL) BulkTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	return h.dataTransfer(ctx, hal.EndpointBulk, endpoint, maxPacket, data)
}

// InterruptTransfer moves data on an interrupt endpoint using the bulk
// channel. A device with nothing to report answers NAK, which surfaces as
// pkg.ErrNAK once the retry budget is spent.
func (h *HAL) InterruptTransfer(ctx context.Context, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	return h.dataTransfer(ctx, hal.EndpointInterrupt, endpoint, maxPacket, data)
}

func (h *HAL) dataTransfer(ctx context.Context, typ hal.EndpointType, endpoint uint8, maxPacket uint16, data []byte) (int, error) {
	if endpoint&0x0F == 0 {
		return 0, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	if maxPacket == 0 {
		return 0, fmt.Errorf("%w: zero max packet size", pkg.ErrInvalidParameter)
	}

	if !h.channelMu[ChannelBulk].TryLock() {
		return 0, pkg.ErrBusy
	}
	defer h.channelMu[ChannelBulk].Unlock()

	addr, _, _ := h.target()
	req := ChannelRequest{
		Channel:   ChannelBulk,
		Address:   addr,
		Endpoint:  endpoint & 0x0F,
		Type:      typ,
		Direction: hal.DirectionOf(endpoint),
		MaxPacket: maxPacket,
		PID:       h.nextToggle(endpoint),
		Data:      data,
	}

	n, next, err := h.transfer(ctx, &req)
	h.storeToggle(endpoint, next)
	if err != nil {
		return n, err
	}

	pkg.LogTrace(pkg.ComponentChannel, "data transfer complete",
		"type", typ.String(), "ep", fmt.Sprintf("0x%02x", endpoint), "len", n)
	return n, nil
}
