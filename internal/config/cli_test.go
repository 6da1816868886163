package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JJeremyXu/licence-tool/internal/cmd"
	"github.com/JJeremyXu/licence-tool/internal/config"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
	toml "github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"
)

func parse(t *testing.T, args []string, opts ...kong.Option) (*config.CLI, *kong.Context) {
	t.Helper()
	var cli config.CLI
	parser, err := kong.New(&cli, append([]kong.Option{kong.Name("licence-tool"), kong.Exit(func(int) { t.Fatal("exit") })}, opts...)...)
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestDefaults(t *testing.T) {
	cli, ctx := parse(t, []string{"counter"})
	assert.Equal(t, "counter", ctx.Command())

	d := cli.Devices
	assert.False(t, d.Simulate)
	assert.Equal(t, 64, d.ReportSize)
	assert.Equal(t, cmd.USBID(0x0483), d.Dongle.VendorID)
	assert.Equal(t, cmd.USBID(0x5750), d.Dongle.ProductID)
	assert.Equal(t, 0, d.Dongle.CounterOffset)
	assert.Equal(t, 2*time.Second, d.Dongle.CounterTimeout)
	assert.Equal(t, 3*time.Second, d.Dongle.LicenseTimeout)
	assert.Equal(t, cmd.USBID(0x5751), d.Target.ProductID)
	assert.Equal(t, "single", d.Target.IdentifierMode)
	assert.Equal(t, 20*time.Millisecond, d.Target.ChunkDelay)
	assert.Equal(t, "info", cli.Log.Level)
}

func TestFlags(t *testing.T) {
	cli, ctx := parse(t, []string{
		"provision", "--yes",
		"--simulate",
		"--dongle-counter-offset=10",
		"--dongle-vid=0x1209",
		"--target-identifier-mode=accumulate",
		"--target-any-device",
		"--log-level=trace",
	})
	assert.Equal(t, "provision", ctx.Command())
	assert.True(t, cli.Provision.Yes)
	assert.True(t, cli.Devices.Simulate)
	assert.Equal(t, 10, cli.Devices.Dongle.CounterOffset)
	assert.Equal(t, cmd.USBID(0x1209), cli.Devices.Dongle.VendorID)
	assert.Equal(t, "accumulate", cli.Devices.Target.IdentifierMode)
	assert.True(t, cli.Devices.Target.AnyDevice)
	assert.Equal(t, "trace", cli.Log.Level)
}

func TestPositionalArguments(t *testing.T) {
	cli, ctx := parse(t, []string{"exchange", "abcd"})
	assert.Equal(t, "exchange <uuid-hex>", ctx.Command())
	assert.Equal(t, "abcd", cli.Exchange.UUID)
}

func TestEnumIsEnforced(t *testing.T) {
	var cli config.CLI
	parser, err := kong.New(&cli, kong.Name("licence-tool"), kong.Exit(func(int) {}))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"read-id", "--target-identifier-mode=stream"})
	assert.Error(t, err)
}

func TestConfigFileFeedsFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
simulate: true
report-size: 65
dongle:
  vid: "0x1209"
  counter-offset: 10
target:
  identifier-mode: accumulate
log:
  level: debug
`), 0o644))

	cli, _ := parse(t, []string{"counter"}, kong.Configuration(kongyaml.Loader, path))
	assert.True(t, cli.Devices.Simulate)
	assert.Equal(t, 65, cli.Devices.ReportSize)
	assert.Equal(t, cmd.USBID(0x1209), cli.Devices.Dongle.VendorID)
	assert.Equal(t, 10, cli.Devices.Dongle.CounterOffset)
	assert.Equal(t, "accumulate", cli.Devices.Target.IdentifierMode)
	assert.Equal(t, "debug", cli.Log.Level)

	cli, _ = parse(t, []string{"counter", "--log-level=warn"}, kong.Configuration(kongyaml.Loader, path))
	assert.Equal(t, "warn", cli.Log.Level, "flags win over the config file")
}

func TestJSONSectionsAndFlatKeys(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested.json")
	require.NoError(t, os.WriteFile(nested, []byte(`{
  "dongle": {"counter_offset": 10, "pid": "0x1234"},
  "target": {"identifier-mode": "accumulate", "chunk_delay": "5ms"},
  "log": {"level": "debug"}
}`), 0o644))
	flat := filepath.Join(dir, "flat.json")
	require.NoError(t, os.WriteFile(flat, []byte(`{"dongle_counter_offset": 10, "log_level": "debug"}`), 0o644))

	cli, _ := parse(t, []string{"counter"}, kong.Configuration(config.JSON, nested))
	assert.Equal(t, 10, cli.Devices.Dongle.CounterOffset)
	assert.Equal(t, cmd.USBID(0x1234), cli.Devices.Dongle.ProductID)
	assert.Equal(t, "accumulate", cli.Devices.Target.IdentifierMode)
	assert.Equal(t, 5*time.Millisecond, cli.Devices.Target.ChunkDelay)
	assert.Equal(t, "debug", cli.Log.Level)

	cli, _ = parse(t, []string{"counter"}, kong.Configuration(config.JSON, flat))
	assert.Equal(t, 10, cli.Devices.Dongle.CounterOffset)
	assert.Equal(t, "debug", cli.Log.Level)
}

func TestTOMLRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[dongle]\ncounter_offset = 10\n"), 0o644))

	var cli config.CLI
	parser, err := kong.New(&cli, kong.Name("licence-tool"), kong.Exit(func(int) {}), kong.Configuration(kongtoml.Loader, path))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"counter"})
	assert.ErrorContains(t, err, "dongle-counter_offset")
}

// editTemplate sets dongle counter offset, target identifier mode and log
// level in a generated template, keeping every other key.
func editTemplate(t *testing.T, format string, data []byte) []byte {
	t.Helper()
	switch format {
	case "json":
		var root map[string]any
		require.NoError(t, json.Unmarshal(data, &root))
		root["dongle"].(map[string]any)["counter_offset"] = 10
		root["target"].(map[string]any)["identifier_mode"] = "accumulate"
		root["log"].(map[string]any)["level"] = "debug"
		out, err := json.Marshal(root)
		require.NoError(t, err)
		return out
	case "yaml":
		var root map[string]any
		require.NoError(t, yaml.Unmarshal(data, &root))
		root["dongle"].(map[string]any)["counter-offset"] = 10
		root["target"].(map[string]any)["identifier-mode"] = "accumulate"
		root["log"].(map[string]any)["level"] = "debug"
		out, err := yaml.Marshal(root)
		require.NoError(t, err)
		return out
	default:
		tree, err := toml.LoadBytes(data)
		require.NoError(t, err)
		tree.SetPath([]string{"dongle", "counter-offset"}, int64(10))
		tree.SetPath([]string{"target", "identifier-mode"}, "accumulate")
		tree.SetPath([]string{"log", "level"}, "debug")
		out, err := tree.ToTomlString()
		require.NoError(t, err)
		return []byte(out)
	}
}

func TestGeneratedTemplateLoads(t *testing.T) {
	loaders := map[string]kong.ConfigurationLoader{
		"json": config.JSON,
		"yaml": kongyaml.Loader,
		"toml": kongtoml.Loader,
	}
	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config."+format)
			require.NoError(t, (&cmd.ConfigInit{Format: format, Output: path}).Run())

			cli, _ := parse(t, []string{"counter"}, kong.Configuration(loaders[format], path))
			assert.Equal(t, cmd.USBID(0x5750), cli.Devices.Dongle.ProductID)
			assert.Equal(t, 2*time.Second, cli.Devices.Dongle.CounterTimeout)
			assert.Equal(t, 20*time.Millisecond, cli.Devices.Target.ChunkDelay)
			assert.Equal(t, uint16(10), cli.Devices.Sim.Credits)
			assert.Equal(t, "info", cli.Log.Level)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, editTemplate(t, format, data), 0o644))

			cli, _ = parse(t, []string{"counter"}, kong.Configuration(loaders[format], path))
			assert.Equal(t, 10, cli.Devices.Dongle.CounterOffset)
			assert.Equal(t, "accumulate", cli.Devices.Target.IdentifierMode)
			assert.Equal(t, "debug", cli.Log.Level)
			assert.Equal(t, cmd.USBID(0x0483), cli.Devices.Dongle.VendorID)
		})
	}
}
