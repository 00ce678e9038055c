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

// Package receipts serves salary receipts from the local snapshot catalog,
// going to the remote source only on a miss or an explicit refresh.  All
// remote traffic for one identity and period is serialized through the
// period lock, and periods the remote does not have are remembered for a
// while so that repeated lookups stay local.
package receipts

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/param"
	"github.com/saedplatform/portal/period_lock"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipt_source"
)

type Status string

const (
	StatusCacheHit          Status = "cache_hit"
	StatusCacheHitAfterWait Status = "cache_hit_after_wait"
	StatusDownloadedOnMiss  Status = "downloaded_on_miss"
	StatusDownloaded        Status = "downloaded"
	StatusNotModified       Status = "not_modified"
	StatusRemoteNotFound    Status = "remote_not_found"
	StatusSourceDisabled    Status = "source_disabled"
)

type (
	// Catalog is the subset of *receipt_cache.Catalog the service needs.
	Catalog interface {
		GetLatest(ctx context.Context, identity string, year, month int) (*receipt_cache.Entry, error)
		GetAvailableYears(ctx context.Context, identity string) ([]int, error)
		GetAvailableMonths(ctx context.Context, identity string, year int) ([]int, error)
		SaveNewVersion(ctx context.Context, req receipt_cache.SaveRequest) (*receipt_cache.Entry, error)
		ListVersions(ctx context.Context, identity string, year, month int) ([]receipt_cache.Version, error)
	}

	// Outcome is the result of a lookup or refresh.  Entry is nil only for
	// StatusRemoteNotFound and StatusSourceDisabled without a cached copy.
	// CacheFallback marks a refresh that could not reach a newer copy and
	// returned the cached one instead.
	Outcome struct {
		Status        Status               `json:"status" yaml:"status"`
		Entry         *receipt_cache.Entry `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
		CacheFallback bool                 `json:"cacheFallback,omitempty" yaml:"cacheFallback,omitempty"`
	}

	Service struct {
		catalog  Catalog
		source   receipt_source.Fetcher
		locks    *period_lock.Locker
		notFound *ttlcache.Cache[string, struct{}]
		listing  singleflight.Group

		maxMonthsBack   int
		listConcurrency int
		currency        string

		// Now is the clock used for the listing window.
		Now func() time.Time
	}
)

func NewService(cfg *param.Config, catalog Catalog, source receipt_source.Fetcher, locks *period_lock.Locker) *Service {
	if locks == nil {
		locks = period_lock.NewLocker()
	}
	ttl := cfg.ReceiptCache.EffectiveNotFoundTTL()
	concurrency := cfg.ReceiptCache.ListConcurrency
	if concurrency < 1 {
		concurrency = 4
	}
	return &Service{
		catalog:         catalog,
		source:          source,
		locks:           locks,
		notFound:        ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](ttl)),
		maxMonthsBack:   cfg.ReceiptCache.EffectiveMaxMonthsBack(),
		listConcurrency: concurrency,
		currency:        cfg.Receipts.Currency,
		Now:             time.Now,
	}
}

// LaunchNotFoundEviction starts the background eviction of expired negative
// entries and stops it when ctx is done.  Lookups never return expired
// entries, so the service is correct without it; it only bounds memory.
func (s *Service) LaunchNotFoundEviction(ctx context.Context, egrp *errgroup.Group) {
	go s.notFound.Start()

	egrp.Go(func() error {
		<-ctx.Done()
		log.Info("Gracefully stopping receipt not-found cache eviction...")
		s.notFound.DeleteAll()
		s.notFound.Stop()
		return nil
	})
}

func validate(identity string, year, month int) (string, error) {
	digits := cuil.Normalize(identity)
	if digits == "" {
		return "", receipt_cache.ErrInvalidIdentity
	}
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return "", receipt_cache.ErrInvalidPeriod
	}
	return digits, nil
}

func record(outcome Outcome) Outcome {
	metrics.ReceiptRequestsTotal.WithLabelValues(string(outcome.Status)).Inc()
	return outcome
}

// GetLatestOrFetch returns the newest cached snapshot for the period,
// downloading it from the remote source on a miss.  Concurrent callers for
// the same identity and period cause at most one remote call; the others
// observe the saved snapshot as cache_hit_after_wait.
func (s *Service) GetLatestOrFetch(ctx context.Context, identity string, year, month int) (Outcome, error) {
	digits, err := validate(identity, year, month)
	if err != nil {
		return Outcome{}, err
	}

	entry, err := s.catalog.GetLatest(ctx, digits, year, month)
	if err != nil {
		return Outcome{}, err
	}
	if entry != nil {
		return record(Outcome{Status: StatusCacheHit, Entry: entry}), nil
	}

	handle, err := s.locks.Acquire(ctx, digits, year, month)
	if err != nil {
		return Outcome{}, err
	}
	defer handle.Release()

	if entry, err = s.catalog.GetLatest(ctx, digits, year, month); err != nil {
		return Outcome{}, err
	} else if entry != nil {
		return record(Outcome{Status: StatusCacheHitAfterWait, Entry: entry}), nil
	}

	if s.notFound.Has(handle.Key()) {
		metrics.ReceiptNegativeCacheHitsTotal.Inc()
		log.Debugf("Receipt period %s is cached as absent from the remote source", handle.Key())
		return record(Outcome{Status: StatusRemoteNotFound}), nil
	}

	result, err := s.source.FetchPeriod(ctx, receipt_source.FetchRequest{Identity: digits, Year: year, Month: month})
	if err != nil {
		return Outcome{}, err
	}

	switch result.Status {
	case receipt_source.StatusDownloaded:
		saved, err := s.save(ctx, digits, year, month, result)
		if err != nil {
			return Outcome{}, err
		}
		return record(Outcome{Status: StatusDownloadedOnMiss, Entry: saved}), nil
	case receipt_source.StatusSourceDisabled:
		return record(Outcome{Status: StatusSourceDisabled}), nil
	default:
		// Without validators the source cannot answer not_modified; treat
		// anything else as absent.
		s.notFound.Set(handle.Key(), struct{}{}, ttlcache.DefaultTTL)
		return record(Outcome{Status: StatusRemoteNotFound}), nil
	}
}

// RefreshPeriod asks the remote source for a copy newer than the cached one
// and stores it as a new version when there is one.  The negative cache is
// bypassed.
func (s *Service) RefreshPeriod(ctx context.Context, identity string, year, month int) (Outcome, error) {
	digits, err := validate(identity, year, month)
	if err != nil {
		return Outcome{}, err
	}

	handle, err := s.locks.Acquire(ctx, digits, year, month)
	if err != nil {
		return Outcome{}, err
	}
	defer handle.Release()

	current, err := s.catalog.GetLatest(ctx, digits, year, month)
	if err != nil {
		return Outcome{}, err
	}

	req := receipt_source.FetchRequest{Identity: digits, Year: year, Month: month}
	if current != nil {
		req.KnownETag = current.ETag
		req.KnownVersionID = current.VersionID
	}
	result, err := s.source.FetchPeriod(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	switch result.Status {
	case receipt_source.StatusDownloaded:
		saved, err := s.save(ctx, digits, year, month, result)
		if err != nil {
			return Outcome{}, err
		}
		s.notFound.Delete(handle.Key())
		return record(Outcome{Status: StatusDownloaded, Entry: saved}), nil
	case receipt_source.StatusNotModified:
		if current == nil {
			return record(Outcome{Status: StatusRemoteNotFound}), nil
		}
		return record(Outcome{Status: StatusNotModified, Entry: current}), nil
	case receipt_source.StatusSourceDisabled:
		return record(Outcome{Status: StatusSourceDisabled, Entry: current, CacheFallback: current != nil}), nil
	default:
		if current == nil {
			s.notFound.Set(handle.Key(), struct{}{}, ttlcache.DefaultTTL)
		}
		return record(Outcome{Status: StatusRemoteNotFound, Entry: current, CacheFallback: current != nil}), nil
	}
}

func (s *Service) save(ctx context.Context, digits string, year, month int, result receipt_source.FetchResult) (*receipt_cache.Entry, error) {
	saved, err := s.catalog.SaveNewVersion(ctx, receipt_cache.SaveRequest{
		Identity:     digits,
		Year:         year,
		Month:        month,
		DownloadedAt: result.DownloadedAt,
		SourceKey:    result.Key,
		ETag:         result.ETag,
		VersionID:    result.VersionID,
		Payload:      string(result.Payload),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to save receipt snapshot for %04d-%02d", year, month)
	}
	return saved, nil
}

func (s *Service) GetAvailableYears(ctx context.Context, identity string) ([]int, error) {
	return s.catalog.GetAvailableYears(ctx, identity)
}

func (s *Service) GetAvailableMonths(ctx context.Context, identity string, year int) ([]int, error) {
	return s.catalog.GetAvailableMonths(ctx, identity, year)
}

func (s *Service) ListVersions(ctx context.Context, identity string, year, month int) ([]receipt_cache.Version, error) {
	return s.catalog.ListVersions(ctx, identity, year, month)
}

// Receipts decodes the receipts held in a snapshot.
func (s *Service) Receipts(identity string, entry *receipt_cache.Entry) ([]Receipt, error) {
	doc, err := ParseDocument([]byte(entry.Payload))
	if err != nil {
		return nil, err
	}
	result := BuildReceipts(doc, identity, Period{Year: entry.Year, Month: entry.Month}, s.currency)
	for idx := range result {
		result[idx].SnapshotVersion = entry.Version
	}
	return result, nil
}

// MaxMonthsBack is the size of the listing window.
func (s *Service) MaxMonthsBack() int {
	return s.maxMonthsBack
}
