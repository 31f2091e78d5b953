package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Overrides collects repeated -set key=value flags. Keys use the JSON names;
// nested keys are dotted, as in onnxBackbone.modelPath.
type Overrides []string

func (o *Overrides) String() string { return strings.Join(*o, " ") }

func (o *Overrides) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("override %q is not key=value", v)
	}
	*o = append(*o, v)
	return nil
}

// Apply returns c with every override decoded on top of it, then validated.
// List values are comma separated.
func (c Config) Apply(overrides Overrides) (Config, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	raw := map[string]any{}
	for _, kv := range overrides {
		key, value, _ := strings.Cut(kv, "=")
		path := strings.Split(strings.TrimSpace(key), ".")
		node := raw
		for _, part := range path[:len(path)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[path[len(path)-1]] = strings.TrimSpace(value)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		Result:           &c,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, invalid("overrides: %v", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
