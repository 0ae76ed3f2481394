// Package host enumerates a single USB device on a polled host controller and
// exposes its bulk and interrupt endpoints.
//
// It is platform-agnostic and talks to hardware only through [hal.HostHAL].
// Nothing runs in the background: each call to [Host.Poll] advances
// enumeration by at most one step, so the caller's main loop decides when
// bus traffic happens.
//
// # Enumeration
//
// After [Host.Initialize], polls walk these steps:
//
//	Idle -> PortReset -> GetDevDescShort -> SetAddress -> GetDevDescFull
//	     -> GetConfigDesc -> SetConfiguration -> Ready
//
// A connected device reaches Ready on the seventh poll. A failed step keeps
// its state and is retried on the next poll. A device whose vendor and
// product ID do not match [Host.SetMatch] (the CANable adapter by default)
// is abandoned and the host idles until Initialize is called again. A
// disconnect after the port reset clears the device model and returns to
// PortReset.
//
// # Device Model
//
// The configuration descriptor is walked by [ParseEndpoints], which records
// the bulk IN, bulk OUT and interrupt IN endpoints. Walking stops at the
// first zero-length or truncated descriptor, so a malformed device cannot
// push the parser past the bytes it returned.
//
// # Transfers
//
// [Host.BulkIn], [Host.BulkOut] and [Host.InterruptIn] fail with
// pkg.ErrNotReady until enumeration completes and with pkg.ErrInvalidEndpoint
// for an address the model does not hold. [Pipe] wraps the bulk pair as a
// buffered byte stream.
//
// # Example
//
//	h := host.New(dwc2.New(regs, timer))
//	if err := h.Initialize(ctx); err != nil {
//	    return err
//	}
//	for !h.DeviceReady() {
//	    if err := h.Poll(ctx); err != nil {
//	        pkg.LogWarn(pkg.ComponentEnum, "poll", "error", err)
//	    }
//	}
//
//	buf := make([]byte, 64)
//	n, err := h.BulkIn(ctx, 0x81, buf)
//
// A register-level simulator for testing is available in
// [github.com/ardnew/dwc2host/host/hal/dwc2/sim].
package host
