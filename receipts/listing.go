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
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/receipt_cache"
)

// ListReceipts returns every receipt of the identity within the allowed
// window, newest first, fetching missing periods from the remote source.
// Periods that are absent, disabled or unreadable are skipped.  Concurrent
// listings for the same identity share one walk.
func (s *Service) ListReceipts(ctx context.Context, identity string) ([]Receipt, error) {
	digits := cuil.Normalize(identity)
	if digits == "" {
		return nil, receipt_cache.ErrInvalidIdentity
	}

	// The shared walk must outlive any single caller giving up.
	ch := s.listing.DoChan(digits, func() (any, error) {
		return s.listReceipts(context.WithoutCancel(ctx), digits)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]Receipt)
		out := make([]Receipt, len(shared))
		copy(out, shared)
		return out, nil
	}
}

func (s *Service) listReceipts(ctx context.Context, digits string) ([]Receipt, error) {
	periods := AllowedPeriods(s.Now(), s.maxMonthsBack)

	p := pool.NewWithResults[[]Receipt]().WithContext(ctx).WithMaxGoroutines(s.listConcurrency)
	for _, period := range periods {
		p.Go(func(ctx context.Context) ([]Receipt, error) {
			return s.periodReceipts(ctx, digits, period)
		})
	}
	batches, err := p.Wait()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	result := make([]Receipt, 0, len(periods))
	for _, batch := range batches {
		for _, r := range batch {
			id := strings.ToLower(r.ID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].IssuedAt.Equal(result[j].IssuedAt) {
			return result[i].IssuedAt.After(result[j].IssuedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// periodReceipts only fails for errors that should abort the whole walk.
func (s *Service) periodReceipts(ctx context.Context, digits string, period Period) ([]Receipt, error) {
	outcome, err := s.GetLatestOrFetch(ctx, digits, period.Year, period.Month)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warningf("Failed to load receipts for %s: %v", period, err)
		return nil, nil
	}
	if outcome.Entry == nil {
		log.Debugf("No receipts for %s: %s", period, outcome.Status)
		return nil, nil
	}
	receipts, err := s.Receipts(digits, outcome.Entry)
	if err != nil {
		log.Warningf("Skipping unreadable receipt snapshot %d for %s: %v", outcome.Entry.SnapshotID, period, err)
		return nil, nil
	}
	return receipts, nil
}

// GetReceipt returns the receipt with the given id, or nil when the identity
// has no such receipt.  Ids outside the allowed window are never looked up.
func (s *Service) GetReceipt(ctx context.Context, identity, receiptID string) (*Receipt, error) {
	period, index, err := ParseReceiptID(receiptID)
	if err != nil {
		return nil, err
	}
	if !InWindow(period, s.Now(), s.maxMonthsBack) {
		return nil, nil
	}
	outcome, err := s.GetLatestOrFetch(ctx, identity, period.Year, period.Month)
	if err != nil {
		return nil, err
	}
	if outcome.Entry == nil {
		return nil, nil
	}
	receipts, err := s.Receipts(identity, outcome.Entry)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %d", outcome.Entry.SnapshotID)
	}
	want := ReceiptID(period, index)
	for idx := range receipts {
		if strings.EqualFold(receipts[idx].ID, want) {
			return &receipts[idx], nil
		}
	}
	return nil, nil
}
