// Package cmd implements the dwc2sim command line.
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ardnew/dwc2host/internal/log"
)

// CLI is the root command.
type CLI struct {
	Config string    `help:"Configuration file (JSON, YAML or TOML)" type:"path" env:"DWC2SIM_CONFIG"`
	Log    LogConfig `embed:"" prefix:"log."`

	Enumerate Enumerate     `cmd:"" default:"withargs" help:"Enumerate a simulated device and exchange data with it"`
	ConfigCmd ConfigCommand `cmd:"" name:"config" help:"Configuration file helpers"`
}

// LogConfig holds the logging flags.
type LogConfig struct {
	Level      string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"DWC2SIM_LOG_LEVEL"`
	Format     string `help:"Console format" enum:"auto,text,json" default:"auto"`
	File       string `help:"Also write JSON logs to this rotating file" type:"path"`
	MaxSize    int    `help:"Rotate the log file after this many megabytes" default:"10"`
	MaxBackups int    `help:"Rotated log files to keep" default:"3"`
	Serial     string `help:"Mirror logs to this serial port"`
	Baud       int    `help:"Serial baud rate" default:"115200"`
}

// Options converts the flags for log.SetupLogger.
func (c LogConfig) Options() log.Options {
	return log.Options{
		Level:      c.Level,
		Format:     log.Format(c.Format),
		File:       c.File,
		MaxSizeMB:  c.MaxSize,
		MaxBackups: c.MaxBackups,
		Serial:     c.Serial,
		Baud:       c.Baud,
	}
}

// parseID parses "vvvv:pppp" in hex.
func parseID(s string) (vendorID, productID uint16, err error) {
	v, p, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("device id %q: want vendor:product", s)
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("device id %q: vendor: %w", s, err)
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(p, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("device id %q: product: %w", s, err)
	}
	return uint16(vid), uint16(pid), nil
}
