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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/saedplatform/portal/cuil"
)

// CompanyProfile is the employer shown on receipts.  Only the most recently
// updated row is used.
type CompanyProfile struct {
	ID          uuid.UUID  `gorm:"primaryKey;column:id;type:text;not null" json:"id"`
	DisplayName string     `gorm:"column:display_name;type:text;not null" json:"displayName"`
	Cuit        string     `gorm:"column:cuit;type:text;not null" json:"cuit"`
	AddressLine string     `gorm:"column:address_line;type:text" json:"addressLine,omitempty"`
	City        string     `gorm:"column:city;type:text" json:"city,omitempty"`
	Province    string     `gorm:"column:province;type:text" json:"province,omitempty"`
	PostalCode  string     `gorm:"column:postal_code;type:text" json:"postalCode,omitempty"`
	Country     string     `gorm:"column:country;type:text" json:"country,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"createdAtUtc"`
	UpdatedAt   *time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAtUtc,omitempty"`
}

func latestCompanyProfile(tx *gorm.DB) (*CompanyProfile, error) {
	profile := CompanyProfile{}
	err := tx.Order("COALESCE(updated_at, created_at) DESC").First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompanyProfileNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to load company profile")
	}
	return &profile, nil
}

func GetCompanyProfile(ctx context.Context) (*CompanyProfile, error) {
	return latestCompanyProfile(PortalDatabase.WithContext(ctx))
}

// UpsertCompanyProfile replaces the company profile with the given fields,
// creating it on first use.  The CUIT is stored in its dashed form.
func UpsertCompanyProfile(ctx context.Context, update CompanyProfile, now time.Time) (*CompanyProfile, error) {
	update.DisplayName = strings.TrimSpace(update.DisplayName)
	if update.DisplayName == "" {
		return nil, errors.New("company display name is required")
	}
	if !cuil.IsComplete(update.Cuit) {
		return nil, errors.Wrap(ErrInvalidCuil, "invalid CUIT")
	}
	now = now.UTC()

	var saved *CompanyProfile
	err := PortalDatabase.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := latestCompanyProfile(tx)
		if err != nil && !errors.Is(err, ErrCompanyProfileNotFound) {
			return err
		}
		if current == nil {
			current = &CompanyProfile{ID: uuid.New(), CreatedAt: now}
		} else {
			current.UpdatedAt = &now
		}
		current.DisplayName = update.DisplayName
		current.Cuit = cuil.Dashed(cuil.Normalize(update.Cuit))
		current.AddressLine = strings.TrimSpace(update.AddressLine)
		current.City = strings.TrimSpace(update.City)
		current.Province = strings.TrimSpace(update.Province)
		current.PostalCode = strings.TrimSpace(update.PostalCode)
		current.Country = strings.TrimSpace(update.Country)
		saved = current
		return tx.Save(current).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to save company profile")
	}
	return saved, nil
}
