package config

import (
	"github.com/mitchellh/mapstructure"

	"github.com/marloq/riptide/pkg/batch/support/exception"
)

// BindDatabaseConfig decodes the named entry of the database section into a
// typed DatabaseConfig. Entries arrive as map[string]interface{} from the
// YAML parser.
func BindDatabaseConfig(cfg *Config, name string) (*DatabaseConfig, error) {
	raw, ok := cfg.Riptide.Databases[name]
	if !ok {
		return nil, exception.NewBatchErrorf(moduleName, "database connection '%s' is not configured", name)
	}

	var dbCfg DatabaseConfig
	if err := Bind(raw, &dbCfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to bind database config '"+name+"'", err, exception.ClassConfig)
	}
	return &dbCfg, nil
}

// Bind decodes an untyped configuration value into the target struct using
// mapstructure tags. Unknown keys in the input are ignored.
func Bind(input interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
