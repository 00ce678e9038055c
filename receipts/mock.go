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
	"github.com/shopspring/decimal"
)

var mockAmounts = []string{"182450.75", "176900.10", "171320.40"}

// MockReceipts returns three fixed receipts, for demos and UI work without a
// receipt source.  They always cover January, December and November of
// 2025/2026 regardless of the current date.
func MockReceipts(cuilText string) []Receipt {
	periods := []Period{{Year: 2026, Month: 1}, {Year: 2025, Month: 12}, {Year: 2025, Month: 11}}
	result := make([]Receipt, 0, len(periods))
	for idx, period := range periods {
		amount := decimal.RequireFromString(mockAmounts[idx])
		result = append(result, Receipt{
			ID:          period.ID(),
			Period:      period,
			PeriodLabel: period.Display(),
			Cuil:        cuilText,
			Amount:      amount,
			AmountText:  FormatAmount(amount),
			Currency:    DefaultCurrency,
			State:       StateIssued,
			IssuedAt:    period.IssueDate(),
		})
	}
	return result
}
