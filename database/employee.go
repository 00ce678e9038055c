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

var (
	ErrEmployeeNotFound       = errors.New("employee not found")
	ErrInvalidCuil            = errors.New("CUIL must have 11 digits")
	ErrInvalidAction          = errors.New("view action must be \"page\" or \"open\"")
	ErrCompanyProfileNotFound = errors.New("no company profile configured")
)

const (
	ViewActionPage = "page"
	ViewActionOpen = "open"
)

type (
	Employee struct {
		ID         uuid.UUID `gorm:"primaryKey;column:id;type:text;not null" json:"id" yaml:"id"`
		GoogleSub  string    `gorm:"column:google_sub;type:text;not null;unique" json:"googleSub" yaml:"googleSub"`
		Email      string    `gorm:"column:email;type:text;not null" json:"email" yaml:"email"`
		FullName   string    `gorm:"column:full_name;type:text" json:"fullName" yaml:"fullName"`
		PictureURL string    `gorm:"column:picture_url;type:text" json:"pictureUrl,omitempty" yaml:"pictureUrl,omitempty"`
		Cuil       string    `gorm:"column:cuil;type:text" json:"cuil,omitempty" yaml:"cuil,omitempty"`
		CreatedAt  time.Time `gorm:"column:created_at;not null" json:"createdAt" yaml:"createdAt"`
	}

	ReceiptViewEvent struct {
		ID        uuid.UUID `gorm:"primaryKey;column:id;type:text;not null" json:"id"`
		GoogleSub string    `gorm:"column:google_sub;type:text;not null" json:"googleSub"`
		Cuil      string    `gorm:"column:cuil;type:text" json:"cuil,omitempty"`
		Action    string    `gorm:"column:action;type:text;not null" json:"action"`
		ReceiptID string    `gorm:"column:receipt_id;type:text" json:"receiptId,omitempty"`
		ViewedAt  time.Time `gorm:"column:viewed_at;not null" json:"viewedAtUtc"`
	}

	ViewStats struct {
		From  time.Time `json:"from" yaml:"from"`
		Days  int       `json:"days" yaml:"days"`
		Total int64     `json:"total" yaml:"total"`
		Pages int64     `json:"pages" yaml:"pages"`
		Opens int64     `json:"opens" yaml:"opens"`
	}
)

// CreateEmployee inserts a new employee.  A missing ID is generated; the CUIL,
// when given, is stored digits-only.
func CreateEmployee(ctx context.Context, employee *Employee) error {
	employee.GoogleSub = strings.TrimSpace(employee.GoogleSub)
	employee.Email = strings.TrimSpace(employee.Email)
	if employee.GoogleSub == "" || employee.Email == "" {
		return errors.New("an employee needs a subject and an email")
	}
	if employee.Cuil != "" {
		if !cuil.IsComplete(employee.Cuil) {
			return ErrInvalidCuil
		}
		employee.Cuil = cuil.Normalize(employee.Cuil)
	}
	if employee.ID == uuid.Nil {
		employee.ID = uuid.New()
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	if err := PortalDatabase.WithContext(ctx).Create(employee).Error; err != nil {
		return errors.Wrapf(err, "failed to create employee %s", employee.GoogleSub)
	}
	return nil
}

func GetEmployeeBySub(ctx context.Context, sub string) (*Employee, error) {
	employee := Employee{}
	err := PortalDatabase.WithContext(ctx).Where("google_sub = ?", sub).First(&employee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmployeeNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to look up employee")
	}
	return &employee, nil
}

func ListEmployees(ctx context.Context) ([]Employee, error) {
	employees := []Employee{}
	if err := PortalDatabase.WithContext(ctx).Order("created_at").Find(&employees).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list employees")
	}
	return employees, nil
}

// UpdateEmployeeCuil sets the CUIL receipts are looked up by.
func UpdateEmployeeCuil(ctx context.Context, sub, value string) (*Employee, error) {
	if !cuil.IsComplete(value) {
		return nil, ErrInvalidCuil
	}
	result := PortalDatabase.WithContext(ctx).Model(&Employee{}).
		Where("google_sub = ?", sub).
		Update("cuil", cuil.Normalize(value))
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to update CUIL")
	}
	if result.RowsAffected == 0 {
		return nil, ErrEmployeeNotFound
	}
	return GetEmployeeBySub(ctx, sub)
}

// RecordView stores one receipt page view or receipt open.  An empty action
// counts as a page view.
func RecordView(ctx context.Context, sub, action, receiptID string, now time.Time) (*ReceiptViewEvent, error) {
	if action == "" {
		action = ViewActionPage
	}
	if action != ViewActionPage && action != ViewActionOpen {
		return nil, ErrInvalidAction
	}
	employee, err := GetEmployeeBySub(ctx, sub)
	if err != nil {
		return nil, err
	}
	event := &ReceiptViewEvent{
		ID:        uuid.New(),
		GoogleSub: sub,
		Cuil:      employee.Cuil,
		Action:    action,
		ReceiptID: strings.TrimSpace(receiptID),
		ViewedAt:  now.UTC(),
	}
	if err := PortalDatabase.WithContext(ctx).Create(event).Error; err != nil {
		return nil, errors.Wrap(err, "failed to record receipt view")
	}
	return event, nil
}

// GetViewStats counts the view events of the last days calendar days,
// today included.  Values outside 1-365 mean 30.
func GetViewStats(ctx context.Context, now time.Time, days int) (ViewStats, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	now = now.UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days+1)
	stats := ViewStats{From: from, Days: days}

	base := PortalDatabase.WithContext(ctx).Model(&ReceiptViewEvent{}).Where("viewed_at >= ?", from)
	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, errors.Wrap(err, "failed to count receipt views")
	}
	if err := base.Session(&gorm.Session{}).Where("action = ?", ViewActionPage).Count(&stats.Pages).Error; err != nil {
		return stats, errors.Wrap(err, "failed to count receipt page views")
	}
	if err := base.Session(&gorm.Session{}).Where("action = ?", ViewActionOpen).Count(&stats.Opens).Error; err != nil {
		return stats, errors.Wrap(err, "failed to count receipt opens")
	}
	return stats, nil
}
