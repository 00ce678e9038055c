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

package server_utils

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite" // It doesn't require CGO
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	gormlog "github.com/thomas-tacquet/gormv2-logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Every connection in the pool gets the same pragmas; setting them with a
// one-off PRAGMA statement would only affect whichever connection ran it.
const sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// prepareSQLitePath creates the parent directory and returns the path with a
// file extension.
func prepareSQLitePath(dbPath string) (string, error) {
	if dbPath == "" {
		return "", errors.New("SQLite database path is empty")
	}

	// Before attempting to create the database, the path
	// must exist or sql.Open will panic.
	err := os.MkdirAll(filepath.Dir(dbPath), 0755)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create directory for SQLite database at %s", dbPath)
	}

	if len(filepath.Ext(dbPath)) == 0 { // No fp extension, let's add .sqlite so it's obvious what the file is
		dbPath += ".sqlite"
	}
	return dbPath, nil
}

// InitSQLiteDB opens a gorm handle on the SQLite file at dbPath, with gorm's
// own logging routed through logrus.
func InitSQLiteDB(dbPath string) (*gorm.DB, error) {
	dbPath, err := prepareSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}
	dbName := dbPath + sqlitePragmas

	globalLogLevel := log.GetLevel()
	var ormLevel logger.LogLevel
	if globalLogLevel == log.DebugLevel || globalLogLevel == log.TraceLevel {
		ormLevel = logger.Info
	} else if globalLogLevel == log.InfoLevel || globalLogLevel == log.WarnLevel {
		ormLevel = logger.Warn
	} else {
		ormLevel = logger.Error
	}

	gormLogger := gormlog.NewGormlog(
		gormlog.WithLogrusEntry(log.WithField("component", "gorm")),
		gormlog.WithGormOptions(gormlog.GormOptions{
			LogLatency: true,
			LogLevel:   ormLevel,
		}),
	)

	log.Debugln("Opening connection to sqlite DB", dbName)

	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open the database with path: %s", dbPath)
	}
	return db, nil
}

// OpenSQLite opens a plain database/sql pool on the SQLite file at dbPath.
// It uses the same pure-Go driver gorm does, registered as "sqlite".
func OpenSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	dbPath, err := prepareSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+sqlitePragmas)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open the database with path: %s", dbPath)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to ping the database with path: %s", dbPath)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	log.Debugln("Opened sqlite DB", dbPath)
	return db, nil
}

// MigrateDB brings the schema up to date with the goose migrations found at
// the root of migrationFS.  Migrations are tracked per database, so running
// this on an up-to-date database is a no-op.
func MigrateDB(ctx context.Context, sqldb *sql.DB, migrationFS fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, sqldb, migrationFS)
	if err != nil {
		return errors.Wrap(err, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	for _, result := range results {
		log.Debugf("Applied migration %s in %s", result.Source.Path, result.Duration)
	}
	return nil
}

func ShutdownDB(db *gorm.DB) error {
	sqldb, err := db.DB()
	if err != nil {
		log.Errorln("Failure when getting database instance from gorm:", err)
		return err
	}
	err = sqldb.Close()
	if err != nil {
		log.Errorln("Failure when shutting down the database:", err)
	}
	return err
}
