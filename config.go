package symphra

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ConfigSchema maps configuration option names to the type each option is
// expected to carry. Recognized type names: "string", "int", "int64",
// "float", "float64", "bool". Options absent from the schema are passed
// through unchecked; options absent from the config are not required.
type ConfigSchema map[string]string

// ValidateSchema checks every config option that the schema declares,
// coercing the supplied value to the declared type. A value that cannot be
// coerced fails with ErrModuleConfig.
func ValidateSchema(config map[string]any, schema ConfigSchema) error {
	if len(schema) == 0 || len(config) == 0 {
		return nil
	}
	for option, typeName := range schema {
		value, ok := config[option]
		if !ok {
			continue
		}
		if err := coerce(value, typeName); err != nil {
			return fmt.Errorf("%w: option %q: %v", ErrModuleConfig, option, err)
		}
	}
	return nil
}

// schemaTypes maps schema type names to the reflect.Type the option must
// convert to.
var schemaTypes = map[string]reflect.Type{
	"string":  reflect.TypeOf(""),
	"str":     reflect.TypeOf(""),
	"int":     reflect.TypeOf(int(0)),
	"integer": reflect.TypeOf(int(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"float":   reflect.TypeOf(float64(0)),
	"float64": reflect.TypeOf(float64(0)),
	"number":  reflect.TypeOf(float64(0)),
	"bool":    reflect.TypeOf(false),
	"boolean": reflect.TypeOf(false),
}

// coerce attempts the type conversion declared by the schema. Values are
// taken through their string form so both native and stringly-typed
// configs (environment overrides, YAML scalars) validate the same way.
func coerce(value any, typeName string) error {
	target, ok := schemaTypes[strings.ToLower(typeName)]
	if !ok {
		return fmt.Errorf("unknown schema type %q", typeName)
	}
	if target.Kind() == reflect.String {
		// Every scalar has a string form; nothing to check.
		return nil
	}
	if _, err := cast.FromType(fmt.Sprintf("%v", value), target); err != nil {
		return fmt.Errorf("expected %s, got %T (%v)", typeName, value, value)
	}
	return nil
}

// ApplyConfig decodes a configuration map into a module-owned struct,
// matching keys case-insensitively and honoring `mapstructure` tags. Use
// it inside Install hooks to move from the generic map to typed config:
//
//	func (m *ServerModule) Install(ctx context.Context, config map[string]any) error {
//		return symphra.ApplyConfig(config, &m.cfg)
//	}
func ApplyConfig(config map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModuleConfig, err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("%w: %v", ErrModuleConfig, err)
	}
	return nil
}

// LoadConfigFile reads a config file holding one section per module name
// and returns the section map. The format is chosen by file extension:
// .yaml/.yml or .toml.
//
//	database:
//	  host: localhost
//	  port: 5432
//	api:
//	  listen: ":8080"
func LoadConfigFile(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	sections := make(map[string]map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModuleConfig, path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &sections); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModuleConfig, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFormat, filepath.Ext(path))
	}
	return sections, nil
}
