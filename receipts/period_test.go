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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedPeriods(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	periods := AllowedPeriods(now, 3)
	assert.Equal(t, []Period{{2026, 1}, {2025, 12}, {2025, 11}}, periods)

	t.Run("below-one-means-twelve", func(t *testing.T) {
		periods := AllowedPeriods(now, 0)
		require.Len(t, periods, 12)
		assert.Equal(t, Period{2026, 1}, periods[0])
		assert.Equal(t, Period{2025, 2}, periods[11])
	})

	t.Run("window-membership", func(t *testing.T) {
		assert.True(t, InWindow(Period{2026, 1}, now, 3))
		assert.True(t, InWindow(Period{2025, 11}, now, 3))
		assert.False(t, InWindow(Period{2025, 10}, now, 3))
		assert.False(t, InWindow(Period{2026, 2}, now, 3))
	})
}

func TestPeriodFormatting(t *testing.T) {
	p := Period{Year: 2026, Month: 1}
	assert.Equal(t, "2026-01", p.ID())
	assert.Equal(t, "202601", p.Token())
	assert.Equal(t, "Enero 2026", p.Display())
	assert.Equal(t, "Diciembre 2025", Period{2025, 12}.Display())
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), p.IssueDate())
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Period{2024, 2}.IssueDate())
}

func TestParseReceiptID(t *testing.T) {
	tests := []struct {
		in     string
		period Period
		index  int
		ok     bool
	}{
		{"2026-01", Period{2026, 1}, 0, true},
		{"202601", Period{2026, 1}, 0, true},
		{"2026_01", Period{2026, 1}, 0, true},
		{" 2026-01-C2 ", Period{2026, 1}, 1, true},
		{"2025-12-c3", Period{2025, 12}, 2, true},
		{"2026-01-c1", Period{}, 0, false},
		{"2026-13", Period{}, 0, false},
		{"2026s1", Period{}, 0, false},
		{"", Period{}, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			period, index, err := ParseReceiptID(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidReceiptID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.period, period)
			assert.Equal(t, tc.index, index)

			again, againIndex, err := ParseReceiptID(ReceiptID(period, index))
			require.NoError(t, err)
			assert.Equal(t, period, again)
			assert.Equal(t, index, againIndex)
		})
	}

	_, err := ParsePeriodID("2026-01-c2")
	assert.ErrorIs(t, err, ErrInvalidReceiptID)
	p, err := ParsePeriodID("202602")
	require.NoError(t, err)
	assert.Equal(t, Period{2026, 2}, p)
}

func TestFindPeriod(t *testing.T) {
	p, ok := FindPeriod("Personal_20123456789_202601.json")
	require.True(t, ok)
	assert.Equal(t, Period{2026, 1}, p)

	_, ok = FindPeriod("Personal.json")
	assert.False(t, ok)
}
