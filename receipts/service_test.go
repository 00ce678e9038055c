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

package receipts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/param"
	"github.com/saedplatform/portal/period_lock"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipt_source"
)

const testCuil = "20123456789"

type (
	// fakeFetcher serves payloads keyed by period id, each with the ETag
	// "etag-<id>-<revision>".
	fakeFetcher struct {
		mu       sync.Mutex
		disabled bool
		payloads map[string]string
		revision map[string]int
		requests []receipt_source.FetchRequest
	}

	// gatedStore is an ObjectStore whose Get blocks until released.
	gatedStore struct {
		body     []byte
		entered  chan struct{}
		release  chan struct{}
		mu       sync.Mutex
		heads    int
		gets     int
		announce sync.Once
	}
)

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{payloads: map[string]string{}, revision: map[string]int{}}
}

func (f *fakeFetcher) put(id, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[id] = payload
	f.revision[id]++
}

func (f *fakeFetcher) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.payloads, id)
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) last() receipt_source.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeFetcher) FetchPeriod(ctx context.Context, req receipt_source.FetchRequest) (receipt_source.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.disabled {
		return receipt_source.FetchResult{Status: receipt_source.StatusSourceDisabled}, nil
	}
	id := fmt.Sprintf("%04d-%02d", req.Year, req.Month)
	payload, ok := f.payloads[id]
	if !ok {
		return receipt_source.FetchResult{Status: receipt_source.StatusNotFound}, nil
	}
	etag := fmt.Sprintf("etag-%s-%d", id, f.revision[id])
	key := id + "/receipt.json"
	if req.KnownETag == etag {
		return receipt_source.FetchResult{Status: receipt_source.StatusNotModified, Key: key, ETag: etag}, nil
	}
	return receipt_source.FetchResult{
		Status:       receipt_source.StatusDownloaded,
		Payload:      []byte(payload),
		DownloadedAt: time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC),
		Key:          key,
		ETag:         etag,
	}, nil
}

func (g *gatedStore) Head(ctx context.Context, key string) receipt_source.ObjectResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heads++
	return receipt_source.ObjectResult{Outcome: receipt_source.ObjectFound, ETag: `"abc"`}
}

func (g *gatedStore) Get(ctx context.Context, key string) receipt_source.ObjectResult {
	g.mu.Lock()
	g.gets++
	g.mu.Unlock()
	g.announce.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return receipt_source.ObjectResult{Outcome: receipt_source.ObjectFailed, Err: ctx.Err()}
	}
	return receipt_source.ObjectResult{Outcome: receipt_source.ObjectFound, ETag: `"abc"`, Body: g.body}
}

func testConfig() *param.Config {
	return &param.Config{
		Receipts:     param.ReceiptsConfig{Currency: "ARS"},
		ReceiptCache: param.ReceiptCacheConfig{MaxMonthsBack: 3, ListConcurrency: 2},
	}
}

func setupTestService(t *testing.T, cfg *param.Config, fetcher receipt_source.Fetcher) (*Service, *receipt_cache.Catalog, *period_lock.Locker) {
	ctx := context.Background()
	catalog, err := receipt_cache.Open(ctx, filepath.Join(t.TempDir(), "receipt-cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	locks := period_lock.NewLocker()
	svc := NewService(cfg, catalog, fetcher, locks)
	svc.Now = func() time.Time { return time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC) }
	return svc, catalog, locks
}

// A fresh cache, a slow remote and two concurrent requests for the same
// period: one download, and the second caller gets the saved snapshot.
func TestConcurrentMissDownloadsOnce(t *testing.T) {
	store := &gatedStore{
		body:    []byte(`{"Cuil":"20-12345678-9","TotalLiquido":182450.75,"Cargos":[]}`),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	adapter := receipt_source.NewAdapter(param.ReceiptSourceConfig{Enabled: true, Bucket: "receipts"}, store)
	svc, _, locks := setupTestService(t, testConfig(), adapter)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var first, second Outcome
	var firstErr, secondErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = svc.GetLatestOrFetch(ctx, testCuil, 2026, 1)
	}()
	<-store.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secondErr = svc.GetLatestOrFetch(ctx, testCuil, 2026, 1)
	}()
	key := period_lock.Key(testCuil, 2026, 1)
	require.Eventually(t, func() bool { return locks.Refs(key) == 2 }, 5*time.Second, 5*time.Millisecond)
	close(store.release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, StatusDownloadedOnMiss, first.Status)
	assert.Equal(t, StatusCacheHitAfterWait, second.Status)
	require.NotNil(t, first.Entry)
	require.NotNil(t, second.Entry)
	assert.Equal(t, 1, first.Entry.Version)
	assert.Equal(t, first.Entry.SnapshotID, second.Entry.SnapshotID)
	assert.Equal(t, "abc", first.Entry.ETag)
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, 1, store.heads)
	assert.Equal(t, 0, locks.Len())

	receipts, err := svc.Receipts(testCuil, second.Entry)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.True(t, decimal.RequireFromString("182450.75").Equal(receipts[0].Amount))
	assert.Equal(t, 1, receipts[0].SnapshotVersion)

	third, err := svc.GetLatestOrFetch(ctx, testCuil, 2026, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCacheHit, third.Status)
	assert.Equal(t, 1, store.gets)
}

func TestNegativeCacheExpires(t *testing.T) {
	cfg := testConfig()
	cfg.ReceiptCache.NotFoundTTL = 200 * time.Millisecond
	fetcher := newFakeFetcher()
	svc, _, _ := setupTestService(t, cfg, fetcher)
	ctx := context.Background()

	outcome, err := svc.GetLatestOrFetch(ctx, testCuil, 2025, 12)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoteNotFound, outcome.Status)
	assert.Nil(t, outcome.Entry)
	assert.Equal(t, 1, fetcher.calls())

	outcome, err = svc.GetLatestOrFetch(ctx, testCuil, 2025, 12)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoteNotFound, outcome.Status)
	assert.Equal(t, 1, fetcher.calls(), "the negative entry should absorb the second lookup")

	time.Sleep(300 * time.Millisecond)
	fetcher.put("2025-12", `{"TotalLiquido": 10}`)
	outcome, err = svc.GetLatestOrFetch(ctx, testCuil, 2025, 12)
	require.NoError(t, err)
	assert.Equal(t, StatusDownloadedOnMiss, outcome.Status)
	assert.Equal(t, 2, fetcher.calls())
}

func TestDownloadOnMissCountsOneSnapshot(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.put("2025-12", `{"TotalLiquido": 10}`)
	svc, _, _ := setupTestService(t, testConfig(), fetcher)

	before := testutil.ToFloat64(metrics.ReceiptSnapshotsSavedTotal)
	outcome, err := svc.GetLatestOrFetch(context.Background(), testCuil, 2025, 12)
	require.NoError(t, err)
	require.Equal(t, StatusDownloadedOnMiss, outcome.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReceiptSnapshotsSavedTotal)-before)
}

func TestSourceDisabledIsNotRemembered(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.disabled = true
	svc, _, _ := setupTestService(t, testConfig(), fetcher)

	for i := 0; i < 2; i++ {
		outcome, err := svc.GetLatestOrFetch(context.Background(), testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusSourceDisabled, outcome.Status)
	}
	assert.Equal(t, 2, fetcher.calls())
}

func TestInvalidLookups(t *testing.T) {
	fetcher := newFakeFetcher()
	svc, _, _ := setupTestService(t, testConfig(), fetcher)
	ctx := context.Background()

	_, err := svc.GetLatestOrFetch(ctx, testCuil, 2026, 13)
	assert.ErrorIs(t, err, receipt_cache.ErrInvalidPeriod)
	_, err = svc.RefreshPeriod(ctx, testCuil, 1999, 1)
	assert.ErrorIs(t, err, receipt_cache.ErrInvalidPeriod)
	_, err = svc.GetLatestOrFetch(ctx, "no digits", 2026, 1)
	assert.ErrorIs(t, err, receipt_cache.ErrInvalidIdentity)
	assert.Equal(t, 0, fetcher.calls())
}

func TestRefreshPeriod(t *testing.T) {
	fetcher := newFakeFetcher()
	svc, _, _ := setupTestService(t, testConfig(), fetcher)
	ctx := context.Background()

	t.Run("nothing-anywhere", func(t *testing.T) {
		outcome, err := svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusRemoteNotFound, outcome.Status)
		assert.Nil(t, outcome.Entry)
		assert.False(t, outcome.CacheFallback)
	})

	t.Run("download-clears-negative-entry", func(t *testing.T) {
		fetcher.put("2026-01", `{"TotalLiquido": 1}`)
		before := fetcher.calls()
		outcome, err := svc.GetLatestOrFetch(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusRemoteNotFound, outcome.Status, "still negatively cached")
		assert.Equal(t, before, fetcher.calls())

		outcome, err = svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusDownloaded, outcome.Status)
		require.NotNil(t, outcome.Entry)
		assert.Equal(t, 1, outcome.Entry.Version)

		outcome, err = svc.GetLatestOrFetch(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusCacheHit, outcome.Status)
	})

	t.Run("not-modified", func(t *testing.T) {
		outcome, err := svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusNotModified, outcome.Status)
		require.NotNil(t, outcome.Entry)
		assert.Equal(t, 1, outcome.Entry.Version)
		assert.Equal(t, "etag-2026-01-1", fetcher.last().KnownETag)
	})

	t.Run("new-revision", func(t *testing.T) {
		fetcher.put("2026-01", `{"TotalLiquido": 2}`)
		outcome, err := svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusDownloaded, outcome.Status)
		assert.Equal(t, 2, outcome.Entry.Version)

		versions, err := svc.ListVersions(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.True(t, versions[0].Latest)
	})

	t.Run("remote-gone-falls-back", func(t *testing.T) {
		fetcher.remove("2026-01")
		outcome, err := svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusRemoteNotFound, outcome.Status)
		assert.True(t, outcome.CacheFallback)
		require.NotNil(t, outcome.Entry)
		assert.Equal(t, 2, outcome.Entry.Version)
	})

	t.Run("source-disabled-falls-back", func(t *testing.T) {
		fetcher.mu.Lock()
		fetcher.disabled = true
		fetcher.mu.Unlock()
		defer func() {
			fetcher.mu.Lock()
			fetcher.disabled = false
			fetcher.mu.Unlock()
		}()
		outcome, err := svc.RefreshPeriod(ctx, testCuil, 2026, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusSourceDisabled, outcome.Status)
		assert.True(t, outcome.CacheFallback)
		require.NotNil(t, outcome.Entry)
	})

	years, err := svc.GetAvailableYears(ctx, testCuil)
	require.NoError(t, err)
	assert.Equal(t, []int{2026}, years)
	months, err := svc.GetAvailableMonths(ctx, testCuil, 2026)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, months)
}

func TestListReceipts(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.put("2026-01", twoCargoPayload)
	fetcher.put("2025-11", `{"Cuil":"20123456789","TotalLiquido":"171.320,40"}`)
	fetcher.put("2025-10", `{"TotalLiquido": 5}`)
	svc, _, _ := setupTestService(t, testConfig(), fetcher)
	ctx := context.Background()

	receipts, err := svc.ListReceipts(ctx, "20-12345678-9")
	require.NoError(t, err)
	ids := make([]string, 0, len(receipts))
	for _, r := range receipts {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"2026-01", "2026-01-c2", "2025-11"}, ids)
	assert.Equal(t, 3, fetcher.calls(), "only the three window periods are fetched")

	again, err := svc.ListReceipts(ctx, testCuil)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, 3, fetcher.calls(), "cached and negatively cached periods stay local")

	t.Run("get-receipt", func(t *testing.T) {
		r, err := svc.GetReceipt(ctx, testCuil, "202601-c2")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "2026-01-c2", r.ID)
		assert.Equal(t, "Preceptora", r.Position)

		r, err = svc.GetReceipt(ctx, testCuil, "2026-01-c5")
		require.NoError(t, err)
		assert.Nil(t, r)

		r, err = svc.GetReceipt(ctx, testCuil, "2025-10")
		require.NoError(t, err)
		assert.Nil(t, r, "outside the window")

		_, err = svc.GetReceipt(ctx, testCuil, "garbage")
		assert.ErrorIs(t, err, ErrInvalidReceiptID)
	})

	t.Run("malformed-period-is-skipped", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.put("2026-01", `not json`)
		fetcher.put("2025-12", `{"TotalLiquido": 3}`)
		svc, _, _ := setupTestService(t, testConfig(), fetcher)

		receipts, err := svc.ListReceipts(ctx, testCuil)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, "2025-12", receipts[0].ID)
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.ListReceipts(cancelled, testCuil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
