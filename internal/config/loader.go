package config

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/alecthomas/kong"
)

// JSON is kong.JSON with sections: {"dongle": {"counter_offset": 10}}
// resolves like the flat key dongle_counter_offset, the way the YAML and TOML
// loaders nest prefixed flags. Dashes in keys are read as underscores.
func JSON(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return nil, err
	}
	flat := map[string]any{}
	flatten("", values, flat)
	data, err := json.Marshal(flat)
	if err != nil {
		return nil, err
	}
	return kong.JSON(bytes.NewReader(data))
}

func flatten(prefix string, in, out map[string]any) {
	for k, v := range in {
		key := strings.ReplaceAll(k, "-", "_")
		if prefix != "" {
			key = prefix + "_" + key
		}
		if section, ok := v.(map[string]any); ok {
			flatten(key, section, out)
			continue
		}
		out[key] = v
	}
}
