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
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/param"
	"github.com/saedplatform/portal/receipt_cache"
	"github.com/saedplatform/portal/receipts"
	"github.com/saedplatform/portal/server_structs"
)

const snapshotStatusCacheFallback = "cache_fallback"

type receiptsAPI struct {
	svc      *receipts.Service
	mockData bool
}

// RegisterPortalAPI mounts the receipt, profile and analytics endpoints.
func RegisterPortalAPI(engine *gin.Engine, cfg *param.Config, svc *receipts.Service) {
	api := &receiptsAPI{svc: svc, mockData: cfg.Receipts.MockData}
	now := func() time.Time { return time.Now() }

	group := engine.Group("/api/v1.0", requireEmployee(cfg.Server.IdentityHeader))
	{
		group.GET("/profile", handleGetProfile)
		group.POST("/profile/cuil", handleUpdateCuil)
		group.GET("/company", handleGetCompany)
		group.PUT("/company", func(ctx *gin.Context) { handleUpsertCompany(ctx, now()) })
	}

	receiptGroup := group.Group("/receipts")
	{
		receiptGroup.GET("", api.handleList)
		receiptGroup.GET("/years", api.handleYears)
		receiptGroup.GET("/years/:year/months", api.handleMonths)
		receiptGroup.GET("/receipt/:id", api.handleGetReceipt)
		receiptGroup.GET("/:year/:month", api.handleGetPeriod)
		receiptGroup.POST("/:year/:month/refresh", api.handleRefresh)
		receiptGroup.GET("/:year/:month/versions", api.handleVersions)
		receiptGroup.POST("/views", func(ctx *gin.Context) { handleRecordView(ctx, now()) })
		receiptGroup.GET("/views/stats", func(ctx *gin.Context) { handleViewStats(ctx, now()) })
	}
}

func failed(ctx *gin.Context, code int, msg string) {
	ctx.JSON(code, server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: msg})
}

// serviceError maps an error from the receipt service onto a response.
func serviceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, receipt_cache.ErrInvalidPeriod),
		errors.Is(err, receipt_cache.ErrInvalidIdentity),
		errors.Is(err, receipts.ErrInvalidReceiptID):
		failed(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, receipts.ErrMalformedPayload):
		failed(ctx, http.StatusBadGateway, "The stored receipt could not be read")
	case errors.Is(err, context.Canceled):
		ctx.Status(499)
	default:
		log.Errorln("Receipt request failed:", err)
		failed(ctx, http.StatusInternalServerError, "Failed to process the receipt request")
	}
}

func parseYear(ctx *gin.Context) (int, bool) {
	year, err := strconv.Atoi(ctx.Param("year"))
	if err != nil || year < 2000 || year > 2100 {
		failed(ctx, http.StatusBadRequest, "Invalid year")
		return 0, false
	}
	return year, true
}

func parsePeriod(ctx *gin.Context) (int, int, bool) {
	year, ok := parseYear(ctx)
	if !ok {
		return 0, 0, false
	}
	month, err := strconv.Atoi(ctx.Param("month"))
	if err != nil || month < 1 || month > 12 {
		failed(ctx, http.StatusBadRequest, "Invalid month")
		return 0, 0, false
	}
	return year, month, true
}

func pdfURL(id string) string {
	return "/api/v1.0/receipts/receipt/" + id + "/pdf"
}

func itemResp(r receipts.Receipt) server_structs.ReceiptItemResp {
	return server_structs.ReceiptItemResp{
		ID:              r.ID,
		Period:          r.PeriodLabel,
		Position:        r.Position,
		Amount:          r.Amount,
		AmountText:      r.AmountText,
		Currency:        r.Currency,
		State:           r.State,
		IssuedAt:        r.IssuedAt,
		PdfURL:          pdfURL(r.ID),
		SnapshotVersion: r.SnapshotVersion,
	}
}

func itemsResp(list []receipts.Receipt) []server_structs.ReceiptItemResp {
	items := make([]server_structs.ReceiptItemResp, 0, len(list))
	for _, r := range list {
		items = append(items, itemResp(r))
	}
	return items
}

func snapshotResp(entry *receipt_cache.Entry, status string) *server_structs.ReceiptSnapshotResp {
	return &server_structs.ReceiptSnapshotResp{
		Cuil:             cuil.Dashed(entry.Identity),
		Year:             entry.Year,
		Month:            entry.Month,
		Version:          entry.Version,
		DownloadedAt:     entry.DownloadedAt,
		SourceKey:        entry.SourceKey,
		SourceETag:       entry.ETag,
		SourceVersionID:  entry.VersionID,
		PayloadSHA256:    entry.PayloadSHA256,
		PayloadSizeBytes: entry.PayloadSizeBytes,
		Status:           status,
	}
}

func (api *receiptsAPI) writeOutcome(ctx *gin.Context, digits string, outcome receipts.Outcome) {
	if outcome.Entry == nil {
		if outcome.Status == receipts.StatusSourceDisabled {
			failed(ctx, http.StatusServiceUnavailable, "The receipt source is not available")
		} else {
			failed(ctx, http.StatusNotFound, "No receipt was found for the requested period")
		}
		return
	}

	list, err := api.svc.Receipts(digits, outcome.Entry)
	if err != nil {
		log.Warningf("Snapshot %d is not a readable receipt: %v", outcome.Entry.SnapshotID, err)
		serviceError(ctx, err)
		return
	}

	snapshotStatus := string(outcome.Status)
	if outcome.CacheFallback {
		snapshotStatus = snapshotStatusCacheFallback
	}
	ctx.JSON(http.StatusOK, server_structs.ReceiptPeriodResp{
		Status:    string(outcome.Status),
		Refreshed: outcome.Status == receipts.StatusDownloaded,
		Snapshot:  snapshotResp(outcome.Entry, snapshotStatus),
		Receipts:  itemsResp(list),
	})
}

func (api *receiptsAPI) handleYears(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	years, err := api.svc.GetAvailableYears(ctx.Request.Context(), digits)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	if years == nil {
		years = []int{}
	}
	ctx.JSON(http.StatusOK, server_structs.ReceiptYearsResp{Years: years})
}

func (api *receiptsAPI) handleMonths(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	year, ok := parseYear(ctx)
	if !ok {
		return
	}
	months, err := api.svc.GetAvailableMonths(ctx.Request.Context(), digits, year)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	if months == nil {
		months = []int{}
	}
	ctx.JSON(http.StatusOK, server_structs.ReceiptMonthsResp{Year: year, Months: months})
}

func (api *receiptsAPI) handleGetPeriod(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(ctx)
	if !ok {
		return
	}
	outcome, err := api.svc.GetLatestOrFetch(ctx.Request.Context(), digits, year, month)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	api.writeOutcome(ctx, digits, outcome)
}

func (api *receiptsAPI) handleRefresh(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(ctx)
	if !ok {
		return
	}
	outcome, err := api.svc.RefreshPeriod(ctx.Request.Context(), digits, year, month)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	api.writeOutcome(ctx, digits, outcome)
}

func (api *receiptsAPI) handleVersions(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(ctx)
	if !ok {
		return
	}
	versions, err := api.svc.ListVersions(ctx.Request.Context(), digits, year, month)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	if versions == nil {
		versions = []receipt_cache.Version{}
	}
	ctx.JSON(http.StatusOK, versions)
}

func (api *receiptsAPI) handleList(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	var list []receipts.Receipt
	if api.mockData {
		list = receipts.MockReceipts(cuil.Dashed(digits))
	} else {
		var err error
		if list, err = api.svc.ListReceipts(ctx.Request.Context(), digits); err != nil {
			serviceError(ctx, err)
			return
		}
	}
	ctx.JSON(http.StatusOK, server_structs.ReceiptListResp{Cuil: cuil.Dashed(digits), Items: itemsResp(list)})
}

func (api *receiptsAPI) handleGetReceipt(ctx *gin.Context) {
	digits, ok := currentCuil(ctx)
	if !ok {
		return
	}
	receipt, err := api.svc.GetReceipt(ctx.Request.Context(), digits, ctx.Param("id"))
	if err != nil {
		serviceError(ctx, err)
		return
	}
	if receipt == nil {
		failed(ctx, http.StatusNotFound, "Receipt not found")
		return
	}
	ctx.JSON(http.StatusOK, receipt)
}
