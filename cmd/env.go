package cmd

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/sparklane/sparklane/config"
)

const envPrefix = "SPARKLANE"

// bindEnvs registers every config key with v so Unmarshal sees
// SPARKLANE_* variables even when no file or flag sets the key.
// Nested keys use "_" in place of ".", e.g. SPARKLANE_LOG_LEVEL.
func bindEnvs(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys(reflect.TypeOf(config.Config{}), "") {
		_ = v.BindEnv(key)
	}
}

// configKeys lists the viper keys of t's fields, recursing into structs.
// Untagged fields use the lower-cased field name, which is what
// mapstructure matches by default.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(f.Type, prefix+name+".")...)
			continue
		}
		keys = append(keys, prefix+name)
	}
	return keys
}
