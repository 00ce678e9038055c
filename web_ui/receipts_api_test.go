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

package web_ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saedplatform/portal/database"
	"github.com/saedplatform/portal/param"
	"github.com/saedplatform/portal/period_lock"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipt_source"
	"github.com/saedplatform/portal/receipts"
	"github.com/saedplatform/portal/server_structs"
)

const identityHeader = "X-Portal-Subject"

// stubFetcher serves fixed payloads by period id with a per-payload ETag.
type stubFetcher struct {
	mu       sync.Mutex
	disabled bool
	payloads map[string]string
}

func (s *stubFetcher) set(id, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload == "" {
		delete(s.payloads, id)
		return
	}
	s.payloads[id] = payload
}

func (s *stubFetcher) FetchPeriod(ctx context.Context, req receipt_source.FetchRequest) (receipt_source.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return receipt_source.FetchResult{Status: receipt_source.StatusSourceDisabled}, nil
	}
	id := fmt.Sprintf("%04d-%02d", req.Year, req.Month)
	payload, ok := s.payloads[id]
	if !ok {
		return receipt_source.FetchResult{Status: receipt_source.StatusNotFound}, nil
	}
	etag := fmt.Sprintf("%x", len(payload))
	if req.KnownETag == etag {
		return receipt_source.FetchResult{Status: receipt_source.StatusNotModified, Key: id, ETag: etag}, nil
	}
	return receipt_source.FetchResult{
		Status:       receipt_source.StatusDownloaded,
		Payload:      []byte(payload),
		DownloadedAt: time.Now(),
		Key:          id + "/Personal.json",
		ETag:         etag,
	}, nil
}

func setupPortalEngine(t *testing.T, mutate func(*param.Config)) (*gin.Engine, *stubFetcher) {
	database.SetupTestPortalDB(t)
	ctx := context.Background()
	require.NoError(t, database.CreateEmployee(ctx, &database.Employee{GoogleSub: "emp-1", Email: "ana@example.com", FullName: "Ana", Cuil: "20123456789"}))
	require.NoError(t, database.CreateEmployee(ctx, &database.Employee{GoogleSub: "emp-2", Email: "beto@example.com"}))

	catalog, err := receipt_cache.Open(ctx, filepath.Join(t.TempDir(), "receipt-cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	cfg := &param.Config{
		Server:       param.ServerConfig{IdentityHeader: identityHeader},
		Receipts:     param.ReceiptsConfig{Currency: "ARS"},
		ReceiptCache: param.ReceiptCacheConfig{MaxMonthsBack: 3, ListConcurrency: 2},
	}
	if mutate != nil {
		mutate(cfg)
	}

	fetcher := &stubFetcher{payloads: map[string]string{}}
	svc := receipts.NewService(cfg, catalog, fetcher, period_lock.NewLocker())

	engine, err := GetEngine(cfg)
	require.NoError(t, err)
	RegisterPortalAPI(engine, cfg, svc)
	return engine, fetcher
}

func doRequest(engine *gin.Engine, method, path, sub string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sub != "" {
		req.Header.Set(identityHeader, sub)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodePeriod(t *testing.T, w *httptest.ResponseRecorder) server_structs.ReceiptPeriodResp {
	resp := server_structs.ReceiptPeriodResp{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestIdentityResolution(t *testing.T) {
	engine, _ := setupPortalEngine(t, nil)

	w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years", "stranger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years", "emp-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/v1.0/profile", "emp-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := server_structs.ProfileResp{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "20-12345678-9", profile.Cuil)

	w = doRequest(engine, http.MethodPost, "/api/v1.0/profile/cuil", "emp-2", server_structs.UpdateCuilReq{Cuil: "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(engine, http.MethodPost, "/api/v1.0/profile/cuil", "emp-2", server_structs.UpdateCuilReq{Cuil: "27-11111111-3"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years", "emp-2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiptPeriodEndpoints(t *testing.T) {
	engine, fetcher := setupPortalEngine(t, nil)
	fetcher.set("2026-01", `{"Cuil":"20-12345678-9","TotalLiquido":182450.75,"Cargos":[]}`)
	fetcher.set("2025-11", `not a receipt`)

	t.Run("miss-then-hit", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2026/01", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodePeriod(t, w)
		assert.Equal(t, string(receipts.StatusDownloadedOnMiss), resp.Status)
		require.NotNil(t, resp.Snapshot)
		assert.Equal(t, 1, resp.Snapshot.Version)
		assert.Equal(t, "20-12345678-9", resp.Snapshot.Cuil)
		require.Len(t, resp.Receipts, 1)
		assert.True(t, decimal.RequireFromString("182450.75").Equal(resp.Receipts[0].Amount))
		assert.Equal(t, "Enero 2026", resp.Receipts[0].Period)
		assert.Equal(t, "/api/v1.0/receipts/receipt/2026-01/pdf", resp.Receipts[0].PdfURL)

		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2026/1", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(receipts.StatusCacheHit), decodePeriod(t, w).Status)
	})

	t.Run("bad-period", func(t *testing.T) {
		for _, path := range []string{"/api/v1.0/receipts/2026/13", "/api/v1.0/receipts/abc/01", "/api/v1.0/receipts/1999/01", "/api/v1.0/receipts/years/20x/months"} {
			w := doRequest(engine, http.MethodGet, path, "emp-1", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
		}
	})

	t.Run("not-found", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2025/12", "emp-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2025/11", "emp-1", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("refresh", func(t *testing.T) {
		w := doRequest(engine, http.MethodPost, "/api/v1.0/receipts/2026/01/refresh", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodePeriod(t, w)
		assert.Equal(t, string(receipts.StatusNotModified), resp.Status)
		assert.False(t, resp.Refreshed)

		fetcher.set("2026-01", `{"Cuil":"20123456789","TotalLiquido":"190.000,00"}`)
		w = doRequest(engine, http.MethodPost, "/api/v1.0/receipts/2026/01/refresh", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp = decodePeriod(t, w)
		assert.Equal(t, string(receipts.StatusDownloaded), resp.Status)
		assert.True(t, resp.Refreshed)
		assert.Equal(t, 2, resp.Snapshot.Version)
		assert.True(t, decimal.NewFromInt(190000).Equal(resp.Receipts[0].Amount))

		fetcher.set("2026-01", "")
		w = doRequest(engine, http.MethodPost, "/api/v1.0/receipts/2026/01/refresh", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp = decodePeriod(t, w)
		assert.Equal(t, string(receipts.StatusRemoteNotFound), resp.Status)
		assert.Equal(t, snapshotStatusCacheFallback, resp.Snapshot.Status)
		assert.Equal(t, 2, resp.Snapshot.Version)
	})

	t.Run("catalog-views", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		years := server_structs.ReceiptYearsResp{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &years))
		assert.Equal(t, []int{2026, 2025}, years.Years)

		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/years/2026/months", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		months := server_structs.ReceiptMonthsResp{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &months))
		assert.Equal(t, []int{1}, months.Months)

		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2026/01/versions", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		versions := []receipt_cache.Version{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
		require.Len(t, versions, 2)
		assert.Equal(t, 2, versions[0].Version)
	})
}

func TestSourceDisabled(t *testing.T) {
	engine, fetcher := setupPortalEngine(t, nil)
	fetcher.disabled = true

	w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts/2026/01", "emp-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReceiptListing(t *testing.T) {
	t.Run("mock-data", func(t *testing.T) {
		engine, _ := setupPortalEngine(t, func(cfg *param.Config) { cfg.Receipts.MockData = true })

		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := server_structs.ReceiptListResp{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Equal(t, "20-12345678-9", list.Cuil)
		require.Len(t, list.Items, 3)
		assert.Equal(t, "Enero 2026", list.Items[0].Period)
	})

	t.Run("from-source", func(t *testing.T) {
		engine, fetcher := setupPortalEngine(t, nil)
		current := receipts.PeriodOf(time.Now())
		fetcher.set(current.ID(), `{"TotalLiquido": 1000}`)

		w := doRequest(engine, http.MethodGet, "/api/v1.0/receipts", "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := server_structs.ReceiptListResp{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list.Items, 1)
		assert.Equal(t, current.ID(), list.Items[0].ID)

		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/receipt/"+current.Token(), "emp-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		receipt := receipts.Receipt{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
		assert.Equal(t, current.ID(), receipt.ID)

		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/receipt/"+current.ID()+"-c2", "emp-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/receipt/nonsense", "emp-1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestViewAnalytics(t *testing.T) {
	engine, _ := setupPortalEngine(t, nil)

	w := doRequest(engine, http.MethodPost, "/api/v1.0/receipts/views", "emp-1", server_structs.ReceiptViewReq{})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(engine, http.MethodPost, "/api/v1.0/receipts/views", "emp-1", server_structs.ReceiptViewReq{Action: "open", ReceiptID: "2026-01"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(engine, http.MethodPost, "/api/v1.0/receipts/views", "emp-1", server_structs.ReceiptViewReq{Action: "print"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/v1.0/receipts/views/stats?days=7", "emp-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := database.ViewStats{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.Days)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Opens)
	assert.Equal(t, int64(1), stats.Pages)
}

func TestCompanyEndpoints(t *testing.T) {
	engine, _ := setupPortalEngine(t, nil)

	w := doRequest(engine, http.MethodGet, "/api/v1.0/company", "emp-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(engine, http.MethodPut, "/api/v1.0/company", "emp-1", server_structs.CompanyProfileReq{DisplayName: "SAED", Cuit: "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(engine, http.MethodPut, "/api/v1.0/company", "emp-1", server_structs.CompanyProfileReq{DisplayName: "SAED", Cuit: "30123456789"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/v1.0/company", "emp-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := database.CompanyProfile{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "30-12345678-9", profile.Cuit)
}

func TestHealthEndpoint(t *testing.T) {
	engine, _ := setupPortalEngine(t, nil)
	w := doRequest(engine, http.MethodGet, "/api/v1.0/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
