// Package pkg provides shared utilities for the dwc2host USB stack.
//
// It contains the component logger every layer writes diagnostics through
// and the sentinel errors transfers report:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEnum, "address set", "address", 1)
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // endpoint halted
//	}
//
// The logger is the only sink the host stack requires; firmware builds
// point it at a UART, hosted builds at stderr or a file.
package pkg
