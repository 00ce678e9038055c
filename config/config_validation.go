/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package config

import (
	"os"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/saedplatform/portal/param"
)

// findFieldByTag searches for a field in a struct by the value of a tag.
func findFieldByTag(t reflect.Type, tagKey, tagValue string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get(tagKey) == tagValue {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// validateConfigKeys returns the configured keys, from the config file or
// from PORTAL_ environment variables, that do not map onto param.Config.
func validateConfigKeys(v *viper.Viper) []string {
	keys := v.AllKeys()

	envPrefix := strings.ToUpper(param.EnvPrefix) + "_"
	for _, env := range os.Environ() {
		name := strings.SplitN(env, "=", 2)[0]
		if !strings.HasPrefix(name, envPrefix) || name == ConfigFileEnv {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		keys = append(keys, strings.ReplaceAll(key, "_", "."))
	}

	configType := reflect.TypeOf(param.Config{})
	unknownKeys := []string{}
	seen := map[string]bool{}
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		currentType := configType
		for _, part := range strings.Split(key, ".") {
			field, present := findFieldByTag(currentType, "mapstructure", part)
			if !present {
				unknownKeys = append(unknownKeys, key)
				break
			}
			if field.Type.Kind() != reflect.Struct {
				break
			}
			currentType = field.Type
		}
	}
	return unknownKeys
}

// ValidateConfig rejects configurations the portal cannot start with.
func ValidateConfig(cfg *param.Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return errors.Errorf("Server.Port %d is out of range", cfg.Server.Port)
	}
	if strings.TrimSpace(cfg.Server.IdentityHeader) == "" {
		return errors.New("Server.IdentityHeader must not be empty")
	}
	if cfg.Portal.DbLocation == "" {
		return errors.New("Portal.DbLocation must not be empty")
	}
	if cfg.ReceiptCache.DbLocation == "" {
		return errors.New("ReceiptCache.DbLocation must not be empty")
	}

	src := cfg.ReceiptSource
	if _, err := src.MaxPayloadBytes(); err != nil {
		return err
	}
	switch src.Backend {
	case param.BackendS3:
		if src.Enabled && strings.TrimSpace(src.Bucket) == "" {
			return errors.New("ReceiptSource.Bucket is required when the s3 receipt source is enabled")
		}
	case param.BackendDirectory:
		if src.Enabled && strings.TrimSpace(src.Directory) == "" {
			return errors.New("ReceiptSource.Directory is required when the directory receipt source is enabled")
		}
	default:
		return errors.Errorf("unknown ReceiptSource.Backend %q; expected %q or %q", src.Backend, param.BackendS3, param.BackendDirectory)
	}
	return nil
}
