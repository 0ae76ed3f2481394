// Command dwc2sim runs the DWC2 host stack against a simulated controller.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/dwc2host/internal/cmd"
	"github.com/ardnew/dwc2host/internal/configpaths"
	"github.com/ardnew/dwc2host/internal/log"
	"github.com/ardnew/dwc2host/pkg"
)

func main() {
	paths := configpaths.CandidatePaths(configpaths.FindUserConfig(os.Args[1:]))

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name(configpaths.AppName),
		kong.Description("Polling DWC2 USB host stack on a simulated controller"),
		kong.UsageOnError(),
		// Flags and environment override configuration file values.
		kong.Configuration(kong.JSON, paths.JSON...),
		kong.Configuration(kongyaml.Loader, paths.YAML...),
		kong.Configuration(kongtoml.Loader, paths.TOML...),
	)

	logger, closers, err := log.SetupLogger(os.Stderr, cli.Log.Options())
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	pkg.SetLogger(logger)

	ctx.Bind(logger)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
