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

// Package launchers wires the portal components together and runs them.
package launchers

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/saedplatform/portal/database"
	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/param"
	"github.com/saedplatform/portal/period_lock"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipt_source"
	"github.com/saedplatform/portal/receipts"
	"github.com/saedplatform/portal/web_ui"
)

var ErrExitOnSignal error = errors.New("Exit program on signal")

// Portal describes a running portal.
type Portal struct {
	// Addr is the address the web engine is bound to.
	Addr    string
	Service *receipts.Service
}

// NewReceiptStore returns the transport for the configured receipt source,
// along with the source configuration the adapter should use.  A disabled
// source yields a nil store.
func NewReceiptStore(ctx context.Context, cfg param.ReceiptSourceConfig) (receipt_source.ObjectStore, param.ReceiptSourceConfig, error) {
	if !cfg.Enabled {
		return nil, cfg, nil
	}
	switch cfg.Backend {
	case param.BackendDirectory:
		// The directory stands in for the bucket.
		if cfg.Bucket == "" {
			cfg.Bucket = cfg.Directory
		}
		return receipt_source.NewDirectoryStore(afero.NewOsFs(), cfg.Directory), cfg, nil
	case param.BackendS3:
		store, err := receipt_source.NewS3Store(ctx, cfg)
		if err != nil {
			return nil, cfg, err
		}
		return store, cfg, nil
	default:
		return nil, cfg, errors.Errorf("unknown receipt source backend %q", cfg.Backend)
	}
}

// NewReceiptService opens the receipt catalog and builds the service over the
// configured source.  The caller owns the returned catalog.
func NewReceiptService(ctx context.Context, cfg *param.Config) (*receipts.Service, *receipt_cache.Catalog, error) {
	store, srcCfg, err := NewReceiptStore(ctx, cfg.ReceiptSource)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to configure the receipt source")
	}
	adapter := receipt_source.NewAdapter(srcCfg, store)
	if adapter.Enabled() {
		metrics.SetComponentHealthStatus(metrics.Portal_ReceiptSource, metrics.StatusOK, "")
	} else {
		log.Warningln("The receipt source is disabled; only cached receipts will be served")
		metrics.SetComponentHealthStatus(metrics.Portal_ReceiptSource, metrics.StatusWarning, "receipt source disabled")
	}

	catalog, err := receipt_cache.Open(ctx, cfg.ReceiptCache.DbLocation)
	if err != nil {
		metrics.SetComponentHealthStatus(metrics.Portal_ReceiptCache, metrics.StatusCritical, err.Error())
		return nil, nil, err
	}
	metrics.SetComponentHealthStatus(metrics.Portal_ReceiptCache, metrics.StatusOK, "")

	return receipts.NewService(cfg, catalog, adapter, period_lock.NewLocker()), catalog, nil
}

// LaunchPortal starts every portal component under egrp.  The components stop
// when ctx is done or a termination signal arrives; in the latter case egrp
// reports ErrExitOnSignal.
func LaunchPortal(ctx context.Context, egrp *errgroup.Group, cfg *param.Config) (portal *Portal, err error) {
	if restored, err := database.RestoreFromBackup(cfg.Portal); err != nil {
		log.Warningln("Failed to restore the portal database from backup:", err)
	} else if restored {
		log.Infoln("Portal database restored from the latest backup in", cfg.Portal.BackupLocation)
	}
	if err = database.InitPortalDatabase(ctx, cfg.Portal.DbLocation); err != nil {
		metrics.SetComponentHealthStatus(metrics.Portal_Database, metrics.StatusCritical, err.Error())
		return nil, errors.Wrap(err, "failed to initialize the portal database")
	}
	metrics.SetComponentHealthStatus(metrics.Portal_Database, metrics.StatusOK, "")
	defer func() {
		if err != nil {
			_ = database.ShutdownPortalDatabase()
		}
	}()

	svc, catalog, err := NewReceiptService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = catalog.Close()
		}
	}()

	engine, err := web_ui.GetEngine(cfg)
	if err != nil {
		return nil, err
	}
	web_ui.RegisterPortalAPI(engine, cfg, svc)

	addr := net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	svc.LaunchNotFoundEviction(ctx, egrp)
	database.LaunchPeriodicBackup(ctx, egrp, cfg.Portal)
	metrics.LaunchStorageHealthMonitor(ctx, egrp, cfg)

	log.Infoln("Starting web engine at", ln.Addr().String())
	egrp.Go(func() error {
		// The stores outlive every request the engine is still draining.
		defer func() {
			if err := catalog.Close(); err != nil {
				log.Warningln("Failed to close the receipt catalog:", err)
			}
			if err := database.ShutdownPortalDatabase(); err != nil {
				log.Warningln("Failed to close the portal database:", err)
			}
		}()
		if err := web_ui.RunEngineWithListener(ctx, ln, engine, cfg.Server.ReadHeaderTimeout, egrp); err != nil {
			log.Errorln("Failure when running the web engine:", err)
			return err
		}
		log.Info("Web engine has shutdown")
		return nil
	})

	egrp.Go(func() error {
		log.Debug("Will shutdown process on signal")
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			log.Warningf("Received signal %v; will shutdown process", sig)
			return ErrExitOnSignal
		case <-ctx.Done():
			return nil
		}
	})

	return &Portal{Addr: ln.Addr().String(), Service: svc}, nil
}
