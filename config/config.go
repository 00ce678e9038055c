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

// Package config loads the portal configuration from defaults, an optional
// YAML file and PORTAL_ environment variables.
package config

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/saedplatform/portal/param"
)

const (
	configName = "portal"

	// ConfigFileEnv names an explicit config file when --config is not given.
	ConfigFileEnv = "PORTAL_CONFIG_FILE"
)

var configSearchPaths = []string{".", "/etc/portal", "$HOME/.portal"}

// NewViper returns a viper instance with the portal defaults and environment
// bindings installed.
func NewViper() *viper.Viper {
	v := viper.New()
	param.SetDefaults(v)
	v.SetEnvPrefix(strings.ToUpper(param.EnvPrefix))
	v.SetEnvKeyReplacer(param.EnvKeyReplacer)
	v.AutomaticEnv()
	param.BindAllParameters(v)
	return v
}

// readConfigFile reads configFile, or PORTAL_CONFIG_FILE, or the first
// portal.yaml found on the search path.  A missing search-path file is not an
// error; a missing explicit file is.
func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", configFile)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, path := range configSearchPaths {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "failed to read config file")
		}
	}
	return nil
}

// InitConfig builds the portal configuration.  Unknown keys are logged as a
// warning rather than rejected so that a config file shared between versions
// keeps working.
func InitConfig(v *viper.Viper, configFile string) (*param.Config, error) {
	if v == nil {
		v = NewViper()
	}
	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Debugln("Using config file", used)
	}

	if unknown := validateConfigKeys(v); len(unknown) > 0 {
		sort.Strings(unknown)
		log.Warningf("Unknown configuration keys found: %s", strings.Join(unknown, ", "))
	}

	cfg, err := param.DecodeConfig(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
