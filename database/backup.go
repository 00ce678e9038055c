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

package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/saedplatform/portal/param"
)

const (
	backupFilePrefix = "portal-db-backup-"
	backupFileExt    = ".sqlite.gz"
)

// listBackups returns the backup files in dir, oldest first.  The timestamp
// in the name makes lexicographic order chronological.
func listBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), backupFilePrefix) && strings.HasSuffix(entry.Name(), backupFileExt) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateBackup writes a gzip-compressed snapshot of the portal database into
// cfg.BackupLocation and returns its path.  VACUUM INTO produces a consistent
// copy without blocking writers for the whole duration.
func CreateBackup(ctx context.Context, cfg param.PortalConfig) (string, error) {
	if cfg.BackupLocation == "" {
		return "", errors.New("backup directory is not configured")
	}
	if PortalDatabase == nil {
		return "", errors.New("portal database is not initialized")
	}
	if err := os.MkdirAll(cfg.BackupLocation, 0750); err != nil {
		return "", errors.Wrapf(err, "failed to create backup directory %s", cfg.BackupLocation)
	}

	tempPath := filepath.Join(cfg.BackupLocation, fmt.Sprintf("portal-db-vacuum-%d.sqlite", time.Now().UnixNano()))
	defer os.Remove(tempPath)

	sqlDB, err := PortalDatabase.DB()
	if err != nil {
		return "", errors.Wrap(err, "failed to get underlying SQL database")
	}
	vacuumSQL := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(tempPath, "'", "''"))
	if _, err := sqlDB.ExecContext(ctx, vacuumSQL); err != nil {
		return "", errors.Wrap(err, "failed to create database backup via VACUUM INTO")
	}

	rawData, err := os.ReadFile(tempPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to read vacuumed database file")
	}

	var compressed bytes.Buffer
	gzWriter, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return "", errors.Wrap(err, "failed to create gzip writer")
	}
	if _, err := gzWriter.Write(rawData); err != nil {
		return "", errors.Wrap(err, "failed to compress backup data")
	}
	if err := gzWriter.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize gzip compression")
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000")
	backupPath := filepath.Join(cfg.BackupLocation, backupFilePrefix+timestamp+backupFileExt)
	if err := os.WriteFile(backupPath, compressed.Bytes(), 0600); err != nil {
		return "", errors.Wrapf(err, "failed to write backup file %s", backupPath)
	}
	log.Infof("Database backup created: %s", backupPath)

	if err := rotateBackups(cfg.BackupLocation, cfg.BackupMaxCount); err != nil {
		log.Warnf("Failed to rotate old backups: %v", err)
	}
	return backupPath, nil
}

// rotateBackups keeps the newest maxCount backups; zero or less keeps all.
func rotateBackups(backupDir string, maxCount int) error {
	if maxCount <= 0 {
		return nil
	}
	names, err := listBackups(backupDir)
	if err != nil {
		return errors.Wrapf(err, "failed to read backup directory %s", backupDir)
	}
	for i := 0; i < len(names)-maxCount; i++ {
		path := filepath.Join(backupDir, names[i])
		if err := os.Remove(path); err != nil {
			log.Warnf("Failed to remove old backup %s: %v", path, err)
		} else {
			log.Infof("Removed old backup: %s", path)
		}
	}
	return nil
}

// RestoreFromBackup recreates a missing portal database from the newest
// readable backup.  It reports whether a restore happened; an existing
// database is never touched.
func RestoreFromBackup(cfg param.PortalConfig) (bool, error) {
	if cfg.BackupLocation == "" {
		return false, nil
	}
	if _, err := os.Stat(cfg.DbLocation); err == nil {
		return false, nil
	}

	names, err := listBackups(cfg.BackupLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to read backup directory %s", cfg.BackupLocation)
	}
	if len(names) == 0 {
		return false, nil
	}

	for i := len(names) - 1; i >= 0; i-- {
		backupPath := filepath.Join(cfg.BackupLocation, names[i])
		log.Infof("Attempting to restore database from backup: %s", backupPath)
		if err := restoreFromSingleBackup(cfg.DbLocation, backupPath); err != nil {
			log.Warnf("Failed to restore from backup %s: %v", backupPath, err)
			continue
		}
		log.Infof("Database successfully restored from backup: %s", backupPath)
		return true, nil
	}
	return false, errors.New("failed to restore database from any available backup")
}

func restoreFromSingleBackup(dbPath, backupPath string) error {
	compressed, err := os.ReadFile(backupPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read backup file %s", backupPath)
	}
	gzReader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return errors.Wrap(err, "failed to create gzip reader")
	}
	defer gzReader.Close()

	rawData, err := io.ReadAll(gzReader)
	if err != nil {
		return errors.Wrap(err, "failed to decompress backup data")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return errors.Wrap(err, "failed to create directory for restored database")
	}
	if err := os.WriteFile(dbPath, rawData, 0600); err != nil {
		return errors.Wrap(err, "failed to write restored database")
	}
	return nil
}

// LaunchPeriodicBackup backs the portal database up every
// cfg.BackupFrequency until ctx is done.
func LaunchPeriodicBackup(ctx context.Context, egrp *errgroup.Group, cfg param.PortalConfig) {
	if cfg.BackupLocation == "" || cfg.BackupFrequency <= 0 {
		log.Info("Portal database backup is disabled")
		return
	}

	log.Infof("Starting periodic portal database backup every %s", cfg.BackupFrequency)
	egrp.Go(func() error {
		ticker := time.NewTicker(cfg.BackupFrequency)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Stopping periodic portal database backup")
				return nil
			case <-ticker.C:
				if _, err := CreateBackup(ctx, cfg); err != nil {
					log.Errorf("Failed to create database backup: %v", err)
				}
			}
		}
	})
}
