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
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/saedplatform/portal/param"
)

const (
	// firstCheckDelay is the delay before the first storage health check runs
	firstCheckDelay = 5 * time.Second

	defaultStorageWarningThreshold  = 80
	defaultStorageCriticalThreshold = 90
)

// getFilesystemUsageImpl can be overridden in tests to inject custom usage figures.
var getFilesystemUsageImpl = func(path string) (usagePercent float64, totalBytes uint64, usedBytes uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		err = errors.Wrapf(err, "unable to determine filesystem usage for path %s", path)
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize)
	usedBytes = totalBytes - availableBytes

	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return
}

// getFilesystemUsage returns the percentage of storage used for a given path.
// Returns usage percentage (0-100), total bytes, used bytes, and any error.
func getFilesystemUsage(ctx context.Context, path string) (usagePercent float64, totalBytes uint64, usedBytes uint64, err error) {
	return getFilesystemUsageImpl(path)
}

// getPathsToCheck returns the deduplicated directories the portal writes to:
// the log file, both databases and the backup directory.
func getPathsToCheck(cfg *param.Config) []string {
	pathsMap := make(map[string]bool)
	var paths []string

	// Empty means stderr
	if logPath := cfg.Logging.LogLocation; logPath != "" && logPath != "/dev/null" {
		pathsMap[filepath.Dir(logPath)] = true
	}
	if dbPath := cfg.Portal.DbLocation; dbPath != "" {
		pathsMap[filepath.Dir(dbPath)] = true
	}
	if dbPath := cfg.ReceiptCache.DbLocation; dbPath != "" {
		pathsMap[filepath.Dir(dbPath)] = true
	}
	if backupDir := cfg.Portal.BackupLocation; backupDir != "" {
		pathsMap[backupDir] = true
	}

	for path := range pathsMap {
		paths = append(paths, path)
	}
	return paths
}

// storageThresholds validates the configured thresholds, falling back to
// 80/90 when they are out of range or inverted.
func storageThresholds(cfg param.MonitoringConfig) (warning, critical int) {
	warning = cfg.StorageWarningThreshold
	critical = cfg.StorageCriticalThreshold

	if warning < 0 || warning > 100 {
		log.Warningf("Invalid warning threshold %d%%, using default %d%%", warning, defaultStorageWarningThreshold)
		warning = defaultStorageWarningThreshold
	}
	if critical < 0 || critical > 100 {
		log.Warningf("Invalid critical threshold %d%%, using default %d%%", critical, defaultStorageCriticalThreshold)
		critical = defaultStorageCriticalThreshold
	}
	if warning >= critical {
		log.Warningf("Warning threshold (%d%%) must be less than critical threshold (%d%%), using defaults", warning, critical)
		warning = defaultStorageWarningThreshold
		critical = defaultStorageCriticalThreshold
	}
	return
}

// checkStorageHealth checks the storage usage for all configured paths and updates
// the health status accordingly.
func checkStorageHealth(ctx context.Context, cfg *param.Config) {
	paths := getPathsToCheck(cfg)

	if len(paths) == 0 {
		log.Debug("No paths configured for storage health check")
		SetComponentHealthStatus(Server_StorageHealth, StatusOK, "No paths configured for monitoring")
		return
	}

	warningThreshold, criticalThreshold := storageThresholds(cfg.Monitoring)

	worstStatus := StatusOK
	var statusMessages []string

	for _, path := range paths {
		usage, totalBytes, usedBytes, err := getFilesystemUsage(ctx, path)
		if err != nil {
			log.Warningf("Failed to check storage for path %s: %v", path, err)
			if worstStatus > StatusWarning {
				worstStatus = StatusWarning
			}
			statusMessages = append(statusMessages, fmt.Sprintf("Failed to check %s: %v", path, err))
			continue
		}

		log.Debugf("Storage check for %s: %.2f%% used (%d/%d bytes)", path, usage, usedBytes, totalBytes)

		if usage >= float64(criticalThreshold) {
			worstStatus = StatusCritical
			statusMessages = append(statusMessages, fmt.Sprintf("%s: %.1f%% used (critical threshold: %d%%)", path, usage, criticalThreshold))
		} else if usage >= float64(warningThreshold) {
			if worstStatus > StatusWarning {
				worstStatus = StatusWarning
			}
			statusMessages = append(statusMessages, fmt.Sprintf("%s: %.1f%% used (warning threshold: %d%%)", path, usage, warningThreshold))
		}
	}

	switch worstStatus {
	case StatusOK:
		SetComponentHealthStatus(Server_StorageHealth, StatusOK, "All monitored filesystems have adequate storage")
	case StatusWarning:
		SetComponentHealthStatus(Server_StorageHealth, StatusWarning, "Storage usage is elevated: "+strings.Join(statusMessages, "; "))
	case StatusCritical:
		SetComponentHealthStatus(Server_StorageHealth, StatusCritical, "Storage usage is critical: "+strings.Join(statusMessages, "; "))
	}
}

// LaunchStorageHealthMonitor starts a goroutine that periodically checks
// filesystem consumption for the portal's data directories.
func LaunchStorageHealthMonitor(ctx context.Context, egrp *errgroup.Group, cfg *param.Config) {
	checkInterval := cfg.Monitoring.StorageHealthCheckInterval

	if checkInterval <= 0 {
		log.Debug("Storage health check disabled (interval <= 0)")
		return
	}

	ticker := time.NewTicker(checkInterval)
	firstCheck := time.After(firstCheckDelay)

	egrp.Go(func() error {
		defer ticker.Stop()
		log.Debugf("Storage health monitor started with interval: %s", checkInterval)

		for {
			select {
			case <-firstCheck:
				checkStorageHealth(ctx, cfg)
			case <-ticker.C:
				checkStorageHealth(ctx, cfg)
			case <-ctx.Done():
				log.Info("Storage health monitor has been terminated")
				return nil
			}
		}
	})
}
