package main

import (
	"io"
	"os"
	"strings"

	"github.com/JJeremyXu/licence-tool/internal/config"
	"github.com/JJeremyXu/licence-tool/internal/configpaths"
	"github.com/JJeremyXu/licence-tool/internal/log"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {
	userCfg := findUserConfig(os.Args[1:])
	paths := configpaths.ConfigCandidatePaths(userCfg)

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("licence-tool"),
		kong.Description("License provisioning for USB HID dongles and target boards"),
		kong.UsageOnError(),
		// Load configuration from JSON/YAML/TOML in priority order; flags/env override config values.
		kong.Configuration(config.JSON, paths.JSON...),
		kong.Configuration(kongyaml.Loader, paths.YAML...),
		kong.Configuration(kongtoml.Loader, paths.TOML...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}

	trace, traceFile, err := log.SetupTrace(cli.Log)
	if err != nil {
		logger.Error("failed to open trace file", "file", cli.Log.TraceFile, "error", err)
	}
	if traceFile != nil {
		closeFiles = append(closeFiles, traceFile)
	}

	ctx.Bind(logger)
	ctx.BindTo(trace, (*log.TraceLogger)(nil))
	ctx.Bind(&cli.Devices)

	err = ctx.Run()
	// FatalIfErrorf exits, so files are closed first.
	closeAll(closeFiles)
	ctx.FatalIfErrorf(err)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("LICENCE_TOOL_CONFIG"); v != "" {
		return v
	}
	return ""
}
