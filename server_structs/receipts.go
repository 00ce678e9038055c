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

package server_structs

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	// ReceiptSnapshotResp describes the stored snapshot a receipt response was
	// built from.  Status repeats the lookup status, or reads
	// "cache_fallback" when a refresh could not reach a newer copy.
	ReceiptSnapshotResp struct {
		Cuil             string    `json:"cuil"`
		Year             int       `json:"year"`
		Month            int       `json:"month"`
		Version          int       `json:"version"`
		DownloadedAt     time.Time `json:"downloadedAtUtc"`
		SourceKey        string    `json:"sourceKey"`
		SourceETag       string    `json:"sourceEtag,omitempty"`
		SourceVersionID  string    `json:"sourceVersionId,omitempty"`
		PayloadSHA256    string    `json:"payloadSha256"`
		PayloadSizeBytes int64     `json:"payloadSizeBytes"`
		Status           string    `json:"status"`
	}

	ReceiptItemResp struct {
		ID              string          `json:"id"`
		Period          string          `json:"periodo"`
		Position        string          `json:"cargo,omitempty"`
		Amount          decimal.Decimal `json:"importe"`
		AmountText      string          `json:"importeTexto"`
		Currency        string          `json:"moneda"`
		State           string          `json:"estado"`
		IssuedAt        time.Time       `json:"fechaEmision"`
		PdfURL          string          `json:"pdfUrl"`
		SnapshotVersion int             `json:"snapshotVersion,omitempty"`
	}

	ReceiptPeriodResp struct {
		Status    string               `json:"status"`
		Refreshed bool                 `json:"refreshed"`
		Snapshot  *ReceiptSnapshotResp `json:"snapshot,omitempty"`
		Receipts  []ReceiptItemResp    `json:"receipts"`
	}

	ReceiptListResp struct {
		Cuil  string            `json:"cuil"`
		Items []ReceiptItemResp `json:"items"`
	}

	ReceiptYearsResp struct {
		Years []int `json:"years"`
	}

	ReceiptMonthsResp struct {
		Year   int   `json:"year"`
		Months []int `json:"months"`
	}

	ReceiptViewReq struct {
		Action    string `json:"action"`
		ReceiptID string `json:"reciboId"`
	}

	UpdateCuilReq struct {
		Cuil string `json:"cuil"`
	}

	ProfileResp struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		FullName   string `json:"fullName"`
		PictureURL string `json:"pictureUrl,omitempty"`
		Cuil       string `json:"cuil,omitempty"`
	}

	CompanyProfileReq struct {
		DisplayName string `json:"displayName"`
		Cuit        string `json:"cuit"`
		AddressLine string `json:"addressLine"`
		City        string `json:"city"`
		Province    string `json:"province"`
		PostalCode  string `json:"postalCode"`
		Country     string `json:"country"`
	}
)
