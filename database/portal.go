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
	"context"
	"embed"
	"io/fs"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/saedplatform/portal/server_utils"
)

// PortalDatabase holds employees, view analytics and the company profile.
// Receipt snapshots live in their own catalog file.
var PortalDatabase *gorm.DB

//go:embed portal_migrations/*.sql
var embedPortalMigrations embed.FS

// InitPortalDatabase opens the portal database at dbPath and applies any
// pending migrations.
func InitPortalDatabase(ctx context.Context, dbPath string) error {
	log.Debugln("Initializing portal database: ", dbPath)

	tdb, err := server_utils.InitSQLiteDB(dbPath)
	if err != nil {
		return err
	}

	sqlDB, err := tdb.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get the underlying database handle")
	}

	migrations, err := fs.Sub(embedPortalMigrations, "portal_migrations")
	if err != nil {
		return err
	}
	if err := server_utils.MigrateDB(ctx, sqlDB, migrations); err != nil {
		_ = sqlDB.Close()
		return err
	}

	PortalDatabase = tdb
	return nil
}

func ShutdownPortalDatabase() error {
	if PortalDatabase == nil {
		return nil
	}
	err := server_utils.ShutdownDB(PortalDatabase)
	PortalDatabase = nil
	return err
}

// SetupTestPortalDB points PortalDatabase at a migrated database in a
// temporary directory for the duration of the test.
func SetupTestPortalDB(t *testing.T) {
	err := InitPortalDatabase(context.Background(), t.TempDir()+"/portal.sqlite")
	require.NoError(t, err, "Error setting up the test portal database")
	t.Cleanup(func() {
		require.NoError(t, ShutdownPortalDatabase())
	})
}
