package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/lo"

	"github.com/ardnew/dwc2host/host"
	"github.com/ardnew/dwc2host/host/hal/dwc2"
	"github.com/ardnew/dwc2host/host/hal/dwc2/sim"
	"github.com/ardnew/dwc2host/internal/prof"
	"github.com/ardnew/dwc2host/internal/usbid"
	"github.com/ardnew/dwc2host/pkg"
)

// Enumerate runs the host stack against the register-level simulator.
type Enumerate struct {
	Device     string   `help:"vendor:product the simulated device reports" default:"1d50:606f"`
	Match      string   `help:"vendor:product the host accepts" default:"1d50:606f"`
	MaxPacket0 uint8    `name:"max-packet0" help:"Endpoint 0 max packet size of the simulated device" default:"64"`
	LowSpeed   bool     `help:"Attach the device at low speed"`
	StuckReset bool     `help:"Simulate a core whose soft reset never completes"`
	Fault      []string `help:"Inject a fault, token:endpoint:response[:count] (e.g. in:0:nak:3)" sep:"none"`
	Polls      int      `help:"Give up after this many polls" default:"32"`
	NAKRetries int      `help:"NAKs tolerated per transaction" default:"1000"`
	XactRetry  int      `name:"xact-retries" help:"Transaction errors tolerated per transaction" default:"3"`
	Read       []string `help:"Hex frame queued on bulk IN and read back" sep:"none"`
	Write      []string `help:"Hex frame written to bulk OUT" sep:"none"`
	USBIDs     string   `name:"usb-ids" help:"usb.ids database for vendor names" type:"path"`
	Output     string   `help:"Summary format" enum:"text,json" default:"text"`

	Profile ProfileConfig `embed:"" prefix:"profile."`
}

// ProfileConfig holds the profiling flags.
type ProfileConfig struct {
	CPU  string `help:"Write a CPU profile" type:"path"`
	Heap string `help:"Write a heap profile" type:"path"`
}

// Run is called by kong.
func (e *Enumerate) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := prof.Start(prof.Options{CPU: e.Profile.CPU, Heap: e.Profile.Heap})
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Stop(); err != nil {
			logger.Error("write profile", "error", err)
		}
	}()

	report, err := e.Execute(ctx, logger)
	if report != nil {
		if rerr := e.render(os.Stdout, report); rerr != nil {
			return rerr
		}
	}
	return err
}

// Report is the outcome of an enumerate run.
type Report struct {
	Device      string            `json:"device"`
	Speed       string            `json:"speed"`
	Ready       bool              `json:"ready"`
	Polls       int               `json:"polls"`
	Errors      []string          `json:"errors,omitempty"`
	Descriptor  *DescriptorReport `json:"descriptor,omitempty"`
	Endpoints   []EndpointReport  `json:"endpoints,omitempty"`
	Read        []string          `json:"read,omitempty"`
	Written     int               `json:"written,omitempty"`
	Received    string            `json:"received,omitempty"`
	Transfers   int               `json:"transactions"`
	PortResets  int               `json:"portResets"`
	ResetHoldUS uint64            `json:"resetHoldMicroseconds"`
}

// DescriptorReport summarizes the device and configuration descriptors.
type DescriptorReport struct {
	USB            string `json:"usb"`
	MaxPacketSize0 uint8  `json:"maxPacketSize0"`
	Configurations uint8  `json:"configurations"`
	TotalLength    uint16 `json:"totalLength"`
	MaxPowerMA     int    `json:"maxPowerMilliamps"`
}

// EndpointReport describes one endpoint of the device model.
type EndpointReport struct {
	Role          string `json:"role"`
	Address       string `json:"address"`
	MaxPacketSize uint16 `json:"maxPacketSize"`
}

// Execute enumerates the simulated device and runs the requested bulk
// exchanges. The report is returned even when enumeration fails.
func (e *Enumerate) Execute(ctx context.Context, logger *slog.Logger) (*Report, error) {
	devVID, devPID, err := parseID(e.Device)
	if err != nil {
		return nil, err
	}
	vid, pid, err := parseID(e.Match)
	if err != nil {
		return nil, err
	}
	faults, err := parseFaults(e.Fault)
	if err != nil {
		return nil, err
	}
	reads, err := decodeFrames(e.Read)
	if err != nil {
		return nil, err
	}
	writes, err := decodeFrames(e.Write)
	if err != nil {
		return nil, err
	}

	g := sim.NewGadget(
		sim.DeviceDescriptor(devVID, devPID, e.MaxPacket0),
		sim.ConfigDescriptor(sim.CANableEndpoints...),
	)
	var opts []sim.Option
	if e.LowSpeed {
		opts = append(opts, sim.WithLowSpeed())
	}
	if e.StuckReset {
		opts = append(opts, sim.WithStuckReset())
	}
	ctrl := sim.New(g, opts...)
	for _, f := range faults {
		ctrl.Inject(f)
	}

	cfg := dwc2.DefaultConfig()
	cfg.NAKRetries = e.NAKRetries
	cfg.TransactionRetries = e.XactRetry
	h := host.New(dwc2.NewWithConfig(ctrl, ctrl.Clock(), cfg))
	h.SetMatch(vid, pid)

	db := usbid.New()
	if e.USBIDs != "" {
		db = usbid.New(e.USBIDs)
	}
	db.Load()

	report := &Report{Device: db.Describe(devVID, devPID)}
	defer func() {
		report.Transfers = len(ctrl.Transactions())
		report.PortResets = ctrl.PortResets()
		report.ResetHoldUS = ctrl.LastResetHold()
	}()

	if err := h.Initialize(ctx); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}

	for report.Polls < e.Polls && !h.DeviceReady() {
		report.Polls++
		if err := h.Poll(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Errors = append(report.Errors, err.Error())
		}
	}

	report.Speed = h.Speed().String()
	if !h.DeviceReady() {
		return report, fmt.Errorf("%w: %s not configured after %d polls",
			pkg.ErrNotReady, report.Device, report.Polls)
	}
	report.Ready = true
	describe(report, h)
	logger.Info("device configured", "device", report.Device, "polls", report.Polls)

	var errs []error
	model := h.Device()
	for _, frame := range reads {
		g.Queue(model.BulkIn.Address, frame)
		buf := make([]byte, len(frame)+int(model.BulkIn.MaxPacketSize))
		n, err := h.BulkIn(ctx, model.BulkIn.Address, buf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Read = append(report.Read, hex.EncodeToString(buf[:n]))
	}
	if len(writes) > 0 {
		pipe, err := host.NewPipe(h)
		if err != nil {
			return report, err
		}
		for _, frame := range writes {
			n, err := pipe.Write(ctx, frame)
			report.Written += n
			if err != nil {
				errs = append(errs, err)
			}
		}
		report.Received = hex.EncodeToString(g.Received(model.BulkOut.Address))
	}

	for _, err := range errs {
		report.Errors = append(report.Errors, err.Error())
	}
	return report, errors.Join(errs...)
}

func describe(r *Report, h *host.Host) {
	desc := h.Descriptor()
	config := h.Configuration()
	r.Descriptor = &DescriptorReport{
		USB:            fmt.Sprintf("%x.%02x", desc.USBVersion>>8, desc.USBVersion&0xFF),
		MaxPacketSize0: desc.MaxPacketSize0,
		Configurations: desc.NumConfigurations,
		TotalLength:    config.TotalLength,
		MaxPowerMA:     int(config.MaxPower) * 2,
	}

	model := h.Device()
	roles := []endpointRole{
		{"bulk in", model.BulkIn},
		{"bulk out", model.BulkOut},
		{"interrupt in", model.InterruptIn},
	}
	r.Endpoints = lo.FilterMap(roles, func(x endpointRole, _ int) (EndpointReport, bool) {
		return EndpointReport{
			Role:          x.name,
			Address:       fmt.Sprintf("0x%02x", x.ep.Address),
			MaxPacketSize: x.ep.MaxPacketSize,
		}, x.ep.Valid()
	})
}

type endpointRole struct {
	name string
	ep   host.Endpoint
}

func parseFaults(specs []string) ([]sim.Fault, error) {
	faults := make([]sim.Fault, 0, len(specs))
	for _, s := range specs {
		f, err := sim.ParseFault(s)
		if err != nil {
			return nil, err
		}
		faults = append(faults, f)
	}
	return faults, nil
}

func decodeFrames(frames []string) ([][]byte, error) {
	out := make([][]byte, 0, len(frames))
	for _, s := range frames {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", s, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (e *Enumerate) render(w io.Writer, r *Report) error {
	if e.Output == "json" {
		return renderJSON(w, r)
	}
	_, err := io.WriteString(w, renderText(r)+"\n")
	return err
}
