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
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/database"
	"github.com/saedplatform/portal/server_structs"
)

const employeeContextKey = "portal.employee"

// requireEmployee resolves the subject set by the authenticating proxy in
// header to a registered employee.
func requireEmployee(header string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sub := strings.TrimSpace(ctx.GetHeader(header))
		if sub == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Authentication required",
			})
			return
		}
		employee, err := database.GetEmployeeBySub(ctx.Request.Context(), sub)
		if errors.Is(err, database.ErrEmployeeNotFound) {
			ctx.AbortWithStatusJSON(http.StatusNotFound, server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Employee not found",
			})
			return
		} else if err != nil {
			log.Errorf("Failed to resolve employee %q: %v", sub, err)
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Failed to resolve the current employee",
			})
			return
		}
		ctx.Set(employeeContextKey, employee)
		ctx.Next()
	}
}

func currentEmployee(ctx *gin.Context) *database.Employee {
	return ctx.MustGet(employeeContextKey).(*database.Employee)
}

// currentCuil returns the digits of the current employee's CUIL, or writes a
// 400 and returns false when none is configured.
func currentCuil(ctx *gin.Context) (string, bool) {
	digits := cuil.Normalize(currentEmployee(ctx).Cuil)
	if digits == "" {
		ctx.JSON(http.StatusBadRequest, server_structs.SimpleApiResp{
			Status: server_structs.RespFailed,
			Msg:    "CUIL no configurado para el usuario.",
		})
		return "", false
	}
	return digits, true
}
