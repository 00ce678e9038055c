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
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/database"
	"github.com/saedplatform/portal/server_structs"
)

func profileResp(employee *database.Employee) server_structs.ProfileResp {
	return server_structs.ProfileResp{
		ID:         employee.ID.String(),
		Email:      employee.Email,
		FullName:   employee.FullName,
		PictureURL: employee.PictureURL,
		Cuil:       cuil.Dashed(employee.Cuil),
	}
}

func handleGetProfile(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, profileResp(currentEmployee(ctx)))
}

func handleUpdateCuil(ctx *gin.Context) {
	req := server_structs.UpdateCuilReq{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		failed(ctx, http.StatusBadRequest, "Invalid request payload")
		return
	}
	employee, err := database.UpdateEmployeeCuil(ctx.Request.Context(), currentEmployee(ctx).GoogleSub, req.Cuil)
	if errors.Is(err, database.ErrInvalidCuil) {
		failed(ctx, http.StatusBadRequest, "CUIL inválido. Debe tener 11 dígitos.")
		return
	} else if err != nil {
		log.Errorln("Failed to update CUIL:", err)
		failed(ctx, http.StatusInternalServerError, "Failed to update CUIL")
		return
	}
	ctx.JSON(http.StatusOK, profileResp(employee))
}

func handleGetCompany(ctx *gin.Context) {
	profile, err := database.GetCompanyProfile(ctx.Request.Context())
	if errors.Is(err, database.ErrCompanyProfileNotFound) {
		failed(ctx, http.StatusNotFound, "No hay datos de empresa configurados.")
		return
	} else if err != nil {
		log.Errorln("Failed to load company profile:", err)
		failed(ctx, http.StatusInternalServerError, "Failed to load company profile")
		return
	}
	ctx.JSON(http.StatusOK, profile)
}

func handleUpsertCompany(ctx *gin.Context, now time.Time) {
	req := server_structs.CompanyProfileReq{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		failed(ctx, http.StatusBadRequest, "Invalid request payload")
		return
	}
	profile, err := database.UpsertCompanyProfile(ctx.Request.Context(), database.CompanyProfile{
		DisplayName: req.DisplayName,
		Cuit:        req.Cuit,
		AddressLine: req.AddressLine,
		City:        req.City,
		Province:    req.Province,
		PostalCode:  req.PostalCode,
		Country:     req.Country,
	}, now)
	if err != nil {
		failed(ctx, http.StatusBadRequest, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, profile)
}

func handleRecordView(ctx *gin.Context, now time.Time) {
	req := server_structs.ReceiptViewReq{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		failed(ctx, http.StatusBadRequest, "Invalid request payload")
		return
	}
	_, err := database.RecordView(ctx.Request.Context(), currentEmployee(ctx).GoogleSub, req.Action, req.ReceiptID, now)
	if errors.Is(err, database.ErrInvalidAction) {
		failed(ctx, http.StatusBadRequest, "Acción inválida.")
		return
	} else if err != nil {
		log.Errorln("Failed to record receipt view:", err)
		failed(ctx, http.StatusInternalServerError, "Failed to record receipt view")
		return
	}
	ctx.JSON(http.StatusOK, server_structs.SimpleApiResp{Status: server_structs.RespOK})
}

func handleViewStats(ctx *gin.Context, now time.Time) {
	days, err := strconv.Atoi(ctx.DefaultQuery("days", "30"))
	if err != nil {
		days = 30
	}
	stats, err := database.GetViewStats(ctx.Request.Context(), now, days)
	if err != nil {
		log.Errorln("Failed to compute receipt view stats:", err)
		failed(ctx, http.StatusInternalServerError, "Failed to compute receipt view stats")
		return
	}
	ctx.JSON(http.StatusOK, stats)
}
