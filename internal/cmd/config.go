package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/JJeremyXu/licence-tool/internal/configpaths"
	"github.com/JJeremyXu/licence-tool/internal/log"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"
)

// Settings are the flags every command shares and the content of the
// config file.
type Settings struct {
	Log     log.Config `embed:"" prefix:"log-"`
	Devices Devices    `embed:""`
}

// ConfigCommand groups config-related subcommands.
type ConfigCommand struct {
	Init ConfigInit `cmd:"" help:"Generate a configuration template"`
}

// ConfigInit scaffolds a configuration file holding every shared setting
// at its default.
type ConfigInit struct {
	Format string `help:"Output format" enum:"json,yaml,toml" default:"json"`
	Output string `help:"Destination file path (defaults to config.<format> in the current directory)"`
	Force  bool   `help:"Overwrite if the file already exists"`
	Global bool   `help:"Write to the user config directory instead of the current directory"`
}

// Run generates a configuration template dynamically via reflection of the
// settings struct and its tags.
func (c *ConfigInit) Run() error {
	format := normalizeFormat(c.Format)
	if format == "" {
		return fmt.Errorf("unsupported format: %s", c.Format)
	}

	root := buildMapFromStruct(reflect.TypeOf(Settings{}), keySeparator(format))

	dest := c.Output
	switch {
	case dest != "":
	case c.Global:
		p, err := configpaths.DefaultConfigPath(format)
		if err != nil {
			return err
		}
		dest = p
	default:
		dest = "config." + format
	}

	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return errors.New("destination exists; use --force to overwrite")
		}
	}
	if err := configpaths.EnsureDir(dest); err != nil {
		return err
	}

	data, err := marshalConfig(root, format)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func marshalConfig(root map[string]any, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(root, "", "  ")
	case "yaml":
		return yaml.Marshal(root)
	case "toml":
		return toml.Marshal(root)
	}
	return nil, fmt.Errorf("unsupported format: %s", format)
}

func normalizeFormat(f string) string {
	switch strings.ToLower(f) {
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return ""
	}
}

// keySeparator is the word separator config keys use in format. The YAML
// and TOML loaders split flag names on dashes while the JSON loader looks
// them up with underscores.
func keySeparator(format string) string {
	if format == "json" {
		return "_"
	}
	return "-"
}

// configKey is the flag name of f without its section prefix, words joined
// by sep.
func configKey(f reflect.StructField, sep string) string {
	if name := f.Tag.Get("name"); name != "" {
		return strings.ReplaceAll(name, "-", sep)
	}
	var b strings.Builder
	r := []rune(f.Name)
	for i, c := range r {
		if unicode.IsUpper(c) {
			if i > 0 && (unicode.IsLower(r[i-1]) || (i+1 < len(r) && unicode.IsLower(r[i+1]))) {
				b.WriteString(sep)
			}
			c = unicode.ToLower(c)
		}
		b.WriteRune(c)
	}
	return b.String()
}

// buildMapFromStruct mirrors the flag tree: an embedded struct with a prefix
// becomes a section named after the prefix, one without is merged inline.
func buildMapFromStruct(t reflect.Type, sep string) map[string]any {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Tag.Get("kong") == "-" {
			continue
		}
		if _, ok := f.Tag.Lookup("hidden"); ok {
			continue
		}
		if _, ok := f.Tag.Lookup("cmd"); ok {
			continue
		}
		if _, ok := f.Tag.Lookup("arg"); ok {
			continue
		}

		if _, ok := f.Tag.Lookup("embed"); ok {
			name := strings.TrimRight(f.Tag.Get("prefix"), "-.")
			sub := buildMapFromStruct(f.Type, sep)
			if name != "" {
				out[strings.ReplaceAll(name, "-", sep)] = sub
			} else {
				for k, v := range sub {
					out[k] = v
				}
			}
			continue
		}

		val := defaultValueForField(f.Type, f.Tag.Get("default"))
		if val != nil {
			out[configKey(f, sep)] = val
		}
	}
	return out
}

func defaultValueForField(t reflect.Type, def string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "time" && t.Name() == "Duration" {
		if def != "" {
			return def
		}
		return "0s"
	}
	// USB ids stay in the hex form they are written in.
	if t == reflect.TypeOf(USBID(0)) {
		return def
	}
	switch t.Kind() {
	case reflect.String:
		return def // may be empty
	case reflect.Bool:
		if def == "" {
			return false
		}
		b, err := strconv.ParseBool(def)
		if err != nil {
			return false
		}
		return b
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if def == "" {
			return 0
		}
		n, err := strconv.ParseInt(def, 0, 64)
		if err != nil {
			return 0
		}
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if def == "" {
			return 0
		}
		n, err := strconv.ParseUint(def, 0, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return nil
	}
}
