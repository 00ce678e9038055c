//go:build !windows

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

package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saedplatform/portal/param"
)

func overrideFilesystemUsage(t *testing.T, impl func(path string) (float64, uint64, uint64, error)) {
	original := getFilesystemUsageImpl
	getFilesystemUsageImpl = impl
	t.Cleanup(func() {
		getFilesystemUsageImpl = original
		DeleteComponentHealthStatus(Server_StorageHealth)
	})
}

func storageTestConfig(t *testing.T, warning, critical int) *param.Config {
	tempDir := t.TempDir()
	return &param.Config{
		Portal:       param.PortalConfig{DbLocation: filepath.Join(tempDir, "portal.sqlite")},
		ReceiptCache: param.ReceiptCacheConfig{DbLocation: filepath.Join(tempDir, "cache", "receipt-cache.db")},
		Monitoring:   param.MonitoringConfig{StorageWarningThreshold: warning, StorageCriticalThreshold: critical},
	}
}

func TestGetFilesystemUsage(t *testing.T) {
	usage, totalBytes, usedBytes, err := getFilesystemUsage(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, usage, 0.0)
	assert.LessOrEqual(t, usage, 100.0)
	assert.Greater(t, totalBytes, uint64(0))
	assert.LessOrEqual(t, usedBytes, totalBytes)

	_, _, _, err = getFilesystemUsage(context.Background(), "/nonexistent/path/that/does/not/exist")
	assert.Error(t, err)
}

func TestGetPathsToCheck(t *testing.T) {
	tempDir := t.TempDir()
	cfg := &param.Config{
		Logging:      param.LoggingConfig{LogLocation: filepath.Join(tempDir, "portal.log")},
		Portal:       param.PortalConfig{DbLocation: filepath.Join(tempDir, "portal.sqlite"), BackupLocation: filepath.Join(tempDir, "backups")},
		ReceiptCache: param.ReceiptCacheConfig{DbLocation: filepath.Join(tempDir, "cache", "receipt-cache.db")},
	}
	paths := getPathsToCheck(cfg)
	assert.ElementsMatch(t, []string{tempDir, filepath.Join(tempDir, "backups"), filepath.Join(tempDir, "cache")}, paths)

	t.Run("log-to-stderr-or-null", func(t *testing.T) {
		for _, location := range []string{"", "/dev/null"} {
			paths := getPathsToCheck(&param.Config{Logging: param.LoggingConfig{LogLocation: location}})
			assert.Empty(t, paths, "Expected no paths for %q", location)
		}
	})
}

func TestCheckStorageHealth(t *testing.T) {
	tests := []struct {
		name     string
		warning  int
		critical int
		usage    float64
		expected HealthStatusEnum
	}{
		{name: "ok", warning: 80, critical: 90, usage: 50, expected: StatusOK},
		{name: "warning", warning: 80, critical: 90, usage: 85, expected: StatusWarning},
		{name: "critical", warning: 80, critical: 90, usage: 95, expected: StatusCritical},
		{name: "inverted-thresholds", warning: 95, critical: 80, usage: 85, expected: StatusWarning},
		{name: "negative-warning", warning: -5, critical: 90, usage: 85, expected: StatusWarning},
		{name: "critical-out-of-range", warning: 80, critical: 150, usage: 85, expected: StatusWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overrideFilesystemUsage(t, func(string) (float64, uint64, uint64, error) {
				return tt.usage, 1000000, uint64(tt.usage * 10000), nil
			})

			checkStorageHealth(context.Background(), storageTestConfig(t, tt.warning, tt.critical))

			status, err := GetComponentStatus(Server_StorageHealth)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.String(), status)
		})
	}
}

func TestCheckStorageHealthCriticalWins(t *testing.T) {
	cfg := storageTestConfig(t, 80, 90)
	calls := 0
	overrideFilesystemUsage(t, func(string) (float64, uint64, uint64, error) {
		calls++
		if calls == 1 {
			return 85.0, 1000000, 850000, nil
		}
		return 95.0, 1000000, 950000, nil
	})

	checkStorageHealth(context.Background(), cfg)

	status, err := GetComponentStatus(Server_StorageHealth)
	require.NoError(t, err)
	assert.Equal(t, StatusCritical.String(), status)
	assert.Equal(t, 2, calls)
}

func TestCheckStorageHealthNoPaths(t *testing.T) {
	overrideFilesystemUsage(t, getFilesystemUsageImpl)

	checkStorageHealth(context.Background(), &param.Config{})

	status, err := GetComponentStatus(Server_StorageHealth)
	require.NoError(t, err)
	assert.Equal(t, StatusOK.String(), status)
}
