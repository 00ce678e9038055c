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

package param

import (
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	LoggingConfig struct {
		Level       string `mapstructure:"level" yaml:"Level"`
		LogLocation string `mapstructure:"loglocation" yaml:"LogLocation"`
	}

	ServerConfig struct {
		Address           string        `mapstructure:"address" yaml:"Address"`
		Port              int           `mapstructure:"port" yaml:"Port"`
		IdentityHeader    string        `mapstructure:"identityheader" yaml:"IdentityHeader"`
		ReadHeaderTimeout time.Duration `mapstructure:"readheadertimeout" yaml:"ReadHeaderTimeout"`
		TrustedProxies    []string      `mapstructure:"trustedproxies" yaml:"TrustedProxies"`
	}

	// PortalConfig locates the portal database.  Backups are disabled while
	// BackupLocation is empty.
	PortalConfig struct {
		DbLocation      string        `mapstructure:"dblocation" yaml:"DbLocation"`
		BackupLocation  string        `mapstructure:"backuplocation" yaml:"BackupLocation"`
		BackupFrequency time.Duration `mapstructure:"backupfrequency" yaml:"BackupFrequency"`
		BackupMaxCount  int           `mapstructure:"backupmaxcount" yaml:"BackupMaxCount"`
	}

	ReceiptsConfig struct {
		MockData bool   `mapstructure:"mockdata" yaml:"MockData"`
		Currency string `mapstructure:"currency" yaml:"Currency"`
	}

	ReceiptCacheConfig struct {
		DbLocation      string        `mapstructure:"dblocation" yaml:"DbLocation"`
		MaxMonthsBack   int           `mapstructure:"maxmonthsback" yaml:"MaxMonthsBack"`
		NotFoundTTL     time.Duration `mapstructure:"notfoundttl" yaml:"NotFoundTTL"`
		ListConcurrency int           `mapstructure:"listconcurrency" yaml:"ListConcurrency"`
	}

	// ReceiptSourceConfig describes where receipt payloads are fetched from.
	// For the "directory" backend, Directory is the root that plays the role
	// of the bucket.
	ReceiptSourceConfig struct {
		Enabled       bool   `mapstructure:"enabled" yaml:"Enabled"`
		Backend       string `mapstructure:"backend" yaml:"Backend"`
		Bucket        string `mapstructure:"bucket" yaml:"Bucket"`
		Region        string `mapstructure:"region" yaml:"Region"`
		Endpoint      string `mapstructure:"endpoint" yaml:"Endpoint"`
		UsePathStyle  bool   `mapstructure:"usepathstyle" yaml:"UsePathStyle"`
		Prefix        string `mapstructure:"prefix" yaml:"Prefix"`
		KeyTemplate   string `mapstructure:"keytemplate" yaml:"KeyTemplate"`
		TraceSearches bool   `mapstructure:"tracesearches" yaml:"TraceSearches"`
		Directory     string `mapstructure:"directory" yaml:"Directory"`

		// MaxPayloadSize caps a downloaded object, e.g. "16MB".  Empty means
		// no limit.
		MaxPayloadSize string `mapstructure:"maxpayloadsize" yaml:"MaxPayloadSize"`
	}

	MonitoringConfig struct {
		EnablePrometheus           bool          `mapstructure:"enableprometheus" yaml:"EnablePrometheus"`
		StorageHealthCheckInterval time.Duration `mapstructure:"storagehealthcheckinterval" yaml:"StorageHealthCheckInterval"`
		StorageWarningThreshold    int           `mapstructure:"storagewarningthreshold" yaml:"StorageWarningThreshold"`
		StorageCriticalThreshold   int           `mapstructure:"storagecriticalthreshold" yaml:"StorageCriticalThreshold"`
	}

	// Config is the complete, decoded configuration of the portal.  It is
	// built once per command invocation and handed to every component that
	// needs it; nothing below cmd/ reads viper directly.
	Config struct {
		Debug         bool                `mapstructure:"debug" yaml:"Debug"`
		Logging       LoggingConfig       `mapstructure:"logging" yaml:"Logging"`
		Server        ServerConfig        `mapstructure:"server" yaml:"Server"`
		Portal        PortalConfig        `mapstructure:"portal" yaml:"Portal"`
		Receipts      ReceiptsConfig      `mapstructure:"receipts" yaml:"Receipts"`
		ReceiptCache  ReceiptCacheConfig  `mapstructure:"receiptcache" yaml:"ReceiptCache"`
		ReceiptSource ReceiptSourceConfig `mapstructure:"receiptsource" yaml:"ReceiptSource"`
		Monitoring    MonitoringConfig    `mapstructure:"monitoring" yaml:"Monitoring"`
	}
)

const (
	DefaultKeyTemplate   = "{period}/Personal_{cuil}_{period}.json"
	DefaultMaxMonthsBack = 12
	DefaultNotFoundTTL   = 12 * time.Hour

	BackendS3        = "s3"
	BackendDirectory = "directory"

	// EnvPrefix is prepended to every environment variable, so that
	// ReceiptSource.Bucket is read from PORTAL_RECEIPTSOURCE_BUCKET.
	EnvPrefix = "portal"
)

var EnvKeyReplacer = strings.NewReplacer(".", "_")

var defaults = map[string]any{
	"Debug":                                 false,
	"Logging.Level":                         "info",
	"Logging.LogLocation":                   "",
	"Server.Address":                        "0.0.0.0",
	"Server.Port":                           8080,
	"Server.IdentityHeader":                 "X-Portal-Subject",
	"Server.ReadHeaderTimeout":              "10s",
	"Server.TrustedProxies":                 "",
	"Portal.DbLocation":                     "App_Data/portal.sqlite",
	"Portal.BackupLocation":                 "",
	"Portal.BackupFrequency":                "24h",
	"Portal.BackupMaxCount":                 7,
	"Receipts.MockData":                     false,
	"Receipts.Currency":                     "ARS",
	"ReceiptCache.DbLocation":               "App_Data/receipt-cache.db",
	"ReceiptCache.MaxMonthsBack":            DefaultMaxMonthsBack,
	"ReceiptCache.NotFoundTTL":              DefaultNotFoundTTL.String(),
	"ReceiptCache.ListConcurrency":          4,
	"ReceiptSource.Enabled":                 false,
	"ReceiptSource.Backend":                 BackendS3,
	"ReceiptSource.Bucket":                  "",
	"ReceiptSource.Region":                  "",
	"ReceiptSource.Endpoint":                "",
	"ReceiptSource.UsePathStyle":            false,
	"ReceiptSource.Prefix":                  "",
	"ReceiptSource.KeyTemplate":             DefaultKeyTemplate,
	"ReceiptSource.TraceSearches":           false,
	"ReceiptSource.Directory":               "",
	"ReceiptSource.MaxPayloadSize":          "16MB",
	"Monitoring.EnablePrometheus":           true,
	"Monitoring.StorageHealthCheckInterval": "5m",
	"Monitoring.StorageWarningThreshold":    80,
	"Monitoring.StorageCriticalThreshold":   90,
}

// allParameterNames lists every key the portal understands; each one is bound
// to its PORTAL_ environment variable.
var allParameterNames = func() []string {
	names := make([]string, 0, len(defaults))
	for key := range defaults {
		names = append(names, key)
	}
	return names
}()

// SetDefaults installs the default value of every known parameter.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// EffectiveMaxMonthsBack returns the size of the receipt window; values below
// one fall back to the default.
func (c ReceiptCacheConfig) EffectiveMaxMonthsBack() int {
	if c.MaxMonthsBack < 1 {
		return DefaultMaxMonthsBack
	}
	return c.MaxMonthsBack
}

// EffectiveNotFoundTTL returns how long a confirmed-missing period is
// remembered; non-positive values fall back to the default.
func (c ReceiptCacheConfig) EffectiveNotFoundTTL() time.Duration {
	if c.NotFoundTTL <= 0 {
		return DefaultNotFoundTTL
	}
	return c.NotFoundTTL
}

// EffectiveKeyTemplate returns the configured object key template or the
// default one when unset.
func (c ReceiptSourceConfig) EffectiveKeyTemplate() string {
	if c.KeyTemplate == "" {
		return DefaultKeyTemplate
	}
	return c.KeyTemplate
}

// MaxPayloadBytes parses MaxPayloadSize.  Zero means unlimited.
func (c ReceiptSourceConfig) MaxPayloadBytes() (int64, error) {
	size := strings.TrimSpace(c.MaxPayloadSize)
	if size == "" {
		return 0, nil
	}
	limit, err := units.ParseStrictBytes(size)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid ReceiptSource.MaxPayloadSize %q", c.MaxPayloadSize)
	}
	if limit < 0 {
		return 0, errors.Errorf("invalid ReceiptSource.MaxPayloadSize %q: must not be negative", c.MaxPayloadSize)
	}
	return limit, nil
}
