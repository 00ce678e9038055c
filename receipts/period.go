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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

var monthNames = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

var (
	periodPattern    = regexp.MustCompile(`(?:^|\D)(\d{4})[-_]?(0[1-9]|1[0-2])(?:\D|$)`)
	receiptIDPattern = regexp.MustCompile(`^(\d{4})[-_]?(0[1-9]|1[0-2])(?:-c(\d+))?$`)

	ErrInvalidReceiptID = errors.New("invalid receipt id")
)

// Period is a calendar month of payroll.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// ID is the canonical YYYY-MM form.
func (p Period) ID() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Token is the compact YYYYMM form used in object keys.
func (p Period) Token() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

// Display renders the period the way receipts label it, e.g. "Enero 2026".
func (p Period) Display() string {
	if p.Month < 1 || p.Month > 12 {
		return p.ID()
	}
	return fmt.Sprintf("%s %d", monthNames[p.Month-1], p.Year)
}

func (p Period) String() string {
	return p.ID()
}

// IssueDate is the last day of the period, the date receipts are issued.
func (p Period) IssueDate() time.Time {
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC)
}

func (p Period) first() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) addMonths(n int) Period {
	t := p.first().AddDate(0, n, 0)
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// PeriodOf returns the period containing t, in UTC.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// AllowedPeriods returns the rolling window of periods receipts are served
// for: the current month and the maxMonthsBack-1 before it, newest first.
// A window below one month falls back to twelve.
func AllowedPeriods(now time.Time, maxMonthsBack int) []Period {
	if maxMonthsBack < 1 {
		maxMonthsBack = 12
	}
	current := PeriodOf(now)
	periods := make([]Period, 0, maxMonthsBack)
	for i := 0; i < maxMonthsBack; i++ {
		periods = append(periods, current.addMonths(-i))
	}
	return periods
}

// InWindow reports whether p is one of AllowedPeriods(now, maxMonthsBack).
func InWindow(p Period, now time.Time, maxMonthsBack int) bool {
	if maxMonthsBack < 1 {
		maxMonthsBack = 12
	}
	current := PeriodOf(now)
	oldest := current.addMonths(-(maxMonthsBack - 1))
	return !p.first().Before(oldest.first()) && !p.first().After(current.first())
}

// FindPeriod extracts the first YYYYMM, YYYY-MM or YYYY_MM token embedded in
// value, such as a source file name.
func FindPeriod(value string) (Period, bool) {
	match := periodPattern.FindStringSubmatch(value)
	if match == nil {
		return Period{}, false
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	return Period{Year: year, Month: month}, true
}

// ParseReceiptID accepts "2026-01", "202601" or "2026_01", optionally
// followed by "-cN" naming the Nth position held in that period.  The cargo
// index returned is zero-based.
func ParseReceiptID(id string) (Period, int, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	match := receiptIDPattern.FindStringSubmatch(normalized)
	if match == nil {
		return Period{}, 0, errors.Wrapf(ErrInvalidReceiptID, "%q", id)
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	index := 0
	if match[3] != "" {
		n, err := strconv.Atoi(match[3])
		if err != nil || n < 2 {
			return Period{}, 0, errors.Wrapf(ErrInvalidReceiptID, "%q", id)
		}
		index = n - 1
	}
	return Period{Year: year, Month: month}, index, nil
}

// ReceiptID is the inverse of ParseReceiptID.
func ReceiptID(p Period, cargoIndex int) string {
	if cargoIndex <= 0 {
		return p.ID()
	}
	return fmt.Sprintf("%s-c%d", p.ID(), cargoIndex+1)
}

// ParsePeriodID parses a bare period id; cargo suffixes are rejected.
func ParsePeriodID(id string) (Period, error) {
	p, index, err := ParseReceiptID(id)
	if err != nil {
		return Period{}, err
	}
	if index != 0 {
		return Period{}, errors.Wrapf(ErrInvalidReceiptID, "%q names a position, not a period", id)
	}
	return p, nil
}
