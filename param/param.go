/***************************************************************
 *
 * Copyright (C) 2024, Pelican Project, Morgridge Institute for Research
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

// Package param decodes the portal configuration out of viper into the
// explicit Config struct that the rest of the program is constructed from.
package param

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// BindAllParameters binds all known configuration keys to environment variables.
//
// Viper's AutomaticEnv() allows env vars to override Get* calls. However,
// Viper's AllSettings() (which we decode the Config from) does not
// necessarily include env-only values unless the key is explicitly bound.
func BindAllParameters(v *viper.Viper) {
	if v == nil {
		return
	}

	for _, key := range allParameterNames {
		_ = v.BindEnv(key)
	}
}

// stringToSliceHookFunc returns a DecodeHookFunc that converts strings to slices
// by splitting on commas or whitespace:
//   - Comma-separated: "a,b,c" → ["a", "b", "c"]
//   - Whitespace-separated: "a b c" → ["a", "b", "c"] (supports YAML >- folding style)
//
// Surrounding quotes are trimmed from the entire string first (Docker env
// files keep them), and then from each element after splitting.
func stringToSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
		if f != reflect.String || t != reflect.Slice {
			return data, nil
		}

		raw := strings.Trim(data.(string), `"'`)
		if raw == "" {
			return []string{}, nil
		}

		var parts []string
		if strings.Contains(raw, ",") {
			parts = strings.Split(raw, ",")
		} else {
			parts = strings.Fields(raw)
		}

		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result, nil
	}
}

// DecodeConfig decodes the provided viper instance into a new Config struct.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("nil viper instance")
	}
	BindAllParameters(v)
	newConfig := new(Config)
	settings := v.AllSettings()
	mergeKnownKeyOverrides(settings, v)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToSliceHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		Result: newConfig,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return newConfig, nil
}

func mergeKnownKeyOverrides(settings map[string]any, v *viper.Viper) {
	if v == nil || settings == nil {
		return
	}

	for _, key := range allParameterNames {
		// Viper's AllSettings() may omit values coming exclusively from bindings
		// (for example, keys bound to Cobra/pflag flags). To keep the decoded
		// snapshot consistent with viper.Get(), explicitly overlay all known keys.
		val := v.Get(key)
		if val == nil {
			continue
		}
		setLowercasePath(settings, strings.Split(key, "."), val)
	}
}

func setLowercasePath(root map[string]any, path []string, val any) {
	if len(path) == 0 {
		return
	}

	m := root
	for i := range len(path) - 1 {
		k := strings.ToLower(path[i])
		nextAny, ok := m[k]
		if ok {
			if nextMap, ok := nextAny.(map[string]any); ok {
				m = nextMap
				continue
			}
		}
		next := make(map[string]any)
		m[k] = next
		m = next
	}

	leaf := strings.ToLower(path[len(path)-1])
	m[leaf] = val
}
