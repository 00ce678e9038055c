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

// Package receipt_source fetches payroll receipt payloads for one identity
// and period from a remote object store, skipping the download when the
// caller already holds the current version.
package receipt_source

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/param"
)

type Status string

const (
	StatusDownloaded     Status = "downloaded"
	StatusNotModified    Status = "not_modified"
	StatusNotFound       Status = "not_found"
	StatusSourceDisabled Status = "source_disabled"
)

type (
	// FetchRequest identifies the period to fetch.  KnownETag and
	// KnownVersionID are the validators of the copy the caller already has,
	// if any.
	FetchRequest struct {
		Identity       string
		Year           int
		Month          int
		KnownETag      string
		KnownVersionID string
	}

	// FetchResult is the outcome of one FetchPeriod call.  Payload and
	// DownloadedAt are only set for StatusDownloaded; Key, ETag and VersionID
	// are set for StatusDownloaded and StatusNotModified.
	FetchResult struct {
		Status       Status
		Payload      []byte
		DownloadedAt time.Time
		Key          string
		ETag         string
		VersionID    string
	}

	// Fetcher is implemented by Adapter and consumed by the receipt service.
	Fetcher interface {
		FetchPeriod(ctx context.Context, req FetchRequest) (FetchResult, error)
	}

	Adapter struct {
		cfg      param.ReceiptSourceConfig
		store    ObjectStore
		maxBytes int64

		// Now stamps downloaded payloads; replaced in tests.
		Now func() time.Time
	}
)

// NewAdapter builds an adapter over the given transport.  A nil store is
// treated the same as a disabled source.
func NewAdapter(cfg param.ReceiptSourceConfig, store ObjectStore) *Adapter {
	maxBytes, err := cfg.MaxPayloadBytes()
	if err != nil {
		log.Warningln("Ignoring the receipt payload size limit:", err)
		maxBytes = 0
	}
	return &Adapter{
		cfg:      cfg,
		store:    store,
		maxBytes: maxBytes,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether FetchPeriod will ever contact the store.
func (a *Adapter) Enabled() bool {
	return a.cfg.Enabled && strings.TrimSpace(a.cfg.Bucket) != "" && a.store != nil
}

// FetchPeriod looks for the period's payload under every candidate key in
// turn.  The returned error is non-nil only when ctx ends mid-search; every
// store-level failure is folded into the result.
func (a *Adapter) FetchPeriod(ctx context.Context, req FetchRequest) (result FetchResult, err error) {
	defer func() {
		if err == nil {
			metrics.ReceiptRemoteFetchesTotal.WithLabelValues(string(result.Status)).Inc()
		}
	}()

	if !a.Enabled() {
		log.Warningln("Receipt source is disabled or the bucket is missing")
		return FetchResult{Status: StatusSourceDisabled}, nil
	}

	digits := cuil.Normalize(req.Identity)
	if digits == "" {
		return FetchResult{Status: StatusNotFound}, nil
	}

	logger := log.WithFields(log.Fields{
		"bucket": a.cfg.Bucket,
		"period": periodID(req.Year, req.Month),
	})

	keys := CandidateKeys(a.cfg.EffectiveKeyTemplate(), a.cfg.Prefix, digits, req.Year, req.Month)
	for _, key := range keys {
		if err = ctx.Err(); err != nil {
			return FetchResult{}, err
		}

		a.trace(logger.WithField("key", key), "Checking receipt object metadata")
		head := a.store.Head(ctx, key)
		switch head.Outcome {
		case ObjectNotFound:
			a.trace(logger.WithField("key", key), "Receipt object not found")
			continue
		case ObjectFailed:
			if err = ctx.Err(); err != nil {
				return FetchResult{}, err
			}
			logger.WithField("key", key).Warningln("Failed to read receipt object metadata; trying next key:", head.Err)
			metrics.ReceiptSourceKeyErrorsTotal.Inc()
			continue
		}

		etag := NormalizeETag(head.ETag)
		versionID := strings.TrimSpace(head.VersionID)
		if isNotModified(req, etag, versionID) {
			logger.WithFields(log.Fields{"key": key, "etag": etag, "version_id": versionID}).
				Info("Receipt source not modified")
			return FetchResult{Status: StatusNotModified, Key: key, ETag: etag, VersionID: versionID}, nil
		}

		a.trace(logger.WithField("key", key), "Downloading receipt object")
		obj := a.store.Get(ctx, key)
		switch obj.Outcome {
		case ObjectNotFound:
			// Removed between HEAD and GET
			a.trace(logger.WithField("key", key), "Receipt object vanished before download")
			continue
		case ObjectFailed:
			if err = ctx.Err(); err != nil {
				return FetchResult{}, err
			}
			logger.WithField("key", key).Warningln("Failed to download receipt object; trying next key:", obj.Err)
			metrics.ReceiptSourceKeyErrorsTotal.Inc()
			continue
		}

		if a.maxBytes > 0 && int64(len(obj.Body)) > a.maxBytes {
			logger.WithField("key", key).Warningf("Receipt object is %d bytes, above the %d byte limit; trying next key", len(obj.Body), a.maxBytes)
			metrics.ReceiptSourceKeyErrorsTotal.Inc()
			continue
		}

		if responseETag := NormalizeETag(obj.ETag); responseETag != "" {
			etag = responseETag
		}
		if responseVersion := strings.TrimSpace(obj.VersionID); responseVersion != "" {
			versionID = responseVersion
		}

		logger.WithFields(log.Fields{"key": key, "etag": etag, "version_id": versionID}).
			Info("Receipt source downloaded")
		return FetchResult{
			Status:       StatusDownloaded,
			Payload:      obj.Body,
			DownloadedAt: a.Now(),
			Key:          key,
			ETag:         etag,
			VersionID:    versionID,
		}, nil
	}

	logger.Warningln("Receipt source not found for period")
	return FetchResult{Status: StatusNotFound}, nil
}

func (a *Adapter) trace(entry *log.Entry, msg string) {
	if a.cfg.TraceSearches {
		entry.Info(msg)
	} else {
		entry.Debug(msg)
	}
}

// A version id match wins over an ETag match.
func isNotModified(req FetchRequest, etag, versionID string) bool {
	if known := strings.TrimSpace(req.KnownVersionID); known != "" && known == versionID {
		return true
	}
	if known := NormalizeETag(req.KnownETag); known != "" && known == etag {
		return true
	}
	return false
}

// NormalizeETag strips whitespace and the quotes object stores wrap ETags in.
func NormalizeETag(value string) string {
	return strings.Trim(strings.TrimSpace(value), `"`)
}

func periodID(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}
