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

// Package receipt_cache is the local, durable catalog of downloaded payroll
// receipts.
//
// Every successful download is kept as an immutable, versioned snapshot in
// receipt_snapshots; receipt_latest holds one pointer per (cuil, year, month)
// to the snapshot currently served.  Snapshots are never updated or deleted,
// only superseded by repointing receipt_latest.
package receipt_cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/hex"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/cuil"
	"github.com/saedplatform/portal/metrics"
	"github.com/saedplatform/portal/server_utils"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const timeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrInvalidPeriod   = errors.New("receipt period must have a year between 2000 and 2100 and a month between 1 and 12")
	ErrInvalidIdentity = errors.New("receipt identity has no digits")
)

type (
	// Entry is one materialized snapshot, payload included.
	Entry struct {
		SnapshotID       int64     `json:"snapshotId"`
		Identity         string    `json:"cuil"`
		Year             int       `json:"year"`
		Month            int       `json:"month"`
		Version          int       `json:"version"`
		DownloadedAt     time.Time `json:"downloadedAtUtc"`
		SourceKey        string    `json:"sourceKey"`
		ETag             string    `json:"sourceEtag,omitempty"`
		VersionID        string    `json:"sourceVersionId,omitempty"`
		PayloadSHA256    string    `json:"payloadSha256"`
		PayloadSizeBytes int64     `json:"payloadSizeBytes"`
		Payload          string    `json:"-"`
	}

	// Version describes one snapshot in a period's history, without its
	// payload.
	Version struct {
		SnapshotID       int64     `json:"snapshotId"`
		Version          int       `json:"version"`
		DownloadedAt     time.Time `json:"downloadedAtUtc"`
		SourceKey        string    `json:"sourceKey"`
		ETag             string    `json:"sourceEtag,omitempty"`
		VersionID        string    `json:"sourceVersionId,omitempty"`
		PayloadSHA256    string    `json:"payloadSha256"`
		PayloadSizeBytes int64     `json:"payloadSizeBytes"`
		Latest           bool      `json:"latest"`
	}

	// SaveRequest carries a freshly downloaded payload into SaveNewVersion.
	SaveRequest struct {
		Identity     string
		Year         int
		Month        int
		DownloadedAt time.Time
		SourceKey    string
		ETag         string
		VersionID    string
		Payload      string
	}

	Stats struct {
		Snapshots       int64 `json:"snapshots"`
		Periods         int64 `json:"periods"`
		Identities      int64 `json:"identities"`
		CompressedBytes int64 `json:"compressedBytes"`
	}

	// Catalog is safe for concurrent use.  The schema is applied lazily by
	// the first operation, read or write, and a failed attempt is retried
	// by the next caller.
	Catalog struct {
		db   *sql.DB
		path string

		initMu      sync.Mutex
		initialized bool
	}
)

// Open returns a catalog backed by the SQLite file at path, creating the
// file's directory when needed.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := server_utils.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ensureSchema applies the catalog migrations once.  A failed attempt is
// not remembered, so the next caller tries again.
func (c *Catalog) ensureSchema(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to load receipt catalog migrations")
	}
	if err := server_utils.MigrateDB(ctx, c.db, migrations); err != nil {
		return errors.Wrap(err, "failed to initialize receipt catalog schema")
	}
	c.initialized = true
	log.Infof("Receipt catalog initialized at %s", c.path)
	return nil
}

func (c *Catalog) prepare(ctx context.Context, identity string) (string, error) {
	if c == nil || c.db == nil {
		return "", errors.New("receipt catalog is not open")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	digits := cuil.Normalize(identity)
	if digits == "" {
		return "", ErrInvalidIdentity
	}
	if err := c.ensureSchema(ctx); err != nil {
		return "", err
	}
	return digits, nil
}

func validatePeriod(year, month int) error {
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return errors.Wrapf(ErrInvalidPeriod, "got %04d-%02d", year, month)
	}
	return nil
}

// GetLatest returns the snapshot the latest pointer references, or nil when
// the period has never been saved.
func (c *Catalog) GetLatest(ctx context.Context, identity string, year, month int) (*Entry, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	digits, err := c.prepare(ctx, identity)
	if err != nil {
		return nil, err
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT s.snapshot_id, s.cuil, s.year, s.month, s.version, s.downloaded_at_utc,
		       s.source_key, s.source_etag, s.source_version_id,
		       s.payload_gzip, s.payload_sha256, s.payload_size_bytes
		FROM receipt_latest l
		JOIN receipt_snapshots s ON s.snapshot_id = l.snapshot_id
		WHERE l.cuil = ? AND l.year = ? AND l.month = ?`,
		digits, year, month)

	var (
		entry        Entry
		downloadedAt string
		etag         sql.NullString
		versionID    sql.NullString
		compressed   []byte
	)
	err = row.Scan(&entry.SnapshotID, &entry.Identity, &entry.Year, &entry.Month, &entry.Version,
		&downloadedAt, &entry.SourceKey, &etag, &versionID,
		&compressed, &entry.PayloadSHA256, &entry.PayloadSizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read latest receipt for %s %04d-%02d", digits, year, month)
	}

	if entry.DownloadedAt, err = time.Parse(timeLayout, downloadedAt); err != nil {
		return nil, errors.Wrapf(err, "snapshot %d has an invalid download time", entry.SnapshotID)
	}
	entry.ETag = etag.String
	entry.VersionID = versionID.String

	payload, err := decompress(compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %d payload is corrupt", entry.SnapshotID)
	}
	entry.Payload = string(payload)
	return &entry, nil
}

// GetAvailableYears lists the years with at least one cached period, newest
// first.
func (c *Catalog) GetAvailableYears(ctx context.Context, identity string) ([]int, error) {
	digits, err := c.prepare(ctx, identity)
	if err != nil {
		return nil, err
	}
	return c.queryInts(ctx, `SELECT DISTINCT year FROM receipt_latest WHERE cuil = ? ORDER BY year DESC`, digits)
}

// GetAvailableMonths lists the cached months of a year, newest first.
func (c *Catalog) GetAvailableMonths(ctx context.Context, identity string, year int) ([]int, error) {
	if err := validatePeriod(year, 1); err != nil {
		return nil, err
	}
	digits, err := c.prepare(ctx, identity)
	if err != nil {
		return nil, err
	}
	return c.queryInts(ctx, `SELECT DISTINCT month FROM receipt_latest WHERE cuil = ? AND year = ? ORDER BY month DESC`, digits, year)
}

func (c *Catalog) queryInts(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query receipt catalog")
	}
	defer rows.Close()

	result := []int{}
	for rows.Next() {
		var value int
		if err := rows.Scan(&value); err != nil {
			return nil, errors.Wrap(err, "failed to scan receipt catalog row")
		}
		result = append(result, value)
	}
	return result, errors.Wrap(rows.Err(), "failed to iterate receipt catalog rows")
}

// SaveNewVersion stores payload as the next version of the period and points
// the period's latest pointer at it, in one write transaction.
//
// The transaction is opened with BEGIN IMMEDIATE so the write lock is taken
// before the next version number is read; two concurrent saves for the same
// period therefore always get distinct, consecutive versions.  On any error,
// including cancellation of ctx, nothing is written.
func (c *Catalog) SaveNewVersion(ctx context.Context, req SaveRequest) (*Entry, error) {
	if err := validatePeriod(req.Year, req.Month); err != nil {
		return nil, err
	}
	digits, err := c.prepare(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SourceKey) == "" {
		return nil, errors.New("receipt snapshot requires a source key")
	}

	payload := []byte(req.Payload)
	compressed, err := compress(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compress receipt payload")
	}
	sum := sha256.Sum256(payload)
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))
	downloadedAt := req.DownloadedAt.UTC()
	now := time.Now().UTC().Format(timeLayout)

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get a receipt catalog connection")
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, errors.Wrap(err, "failed to begin receipt catalog transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must run even when ctx is what failed us
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			log.Errorln("Failed to roll back receipt catalog transaction; discarding connection:", rbErr)
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	var version int
	err = conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM receipt_snapshots WHERE cuil = ? AND year = ? AND month = ?`,
		digits, req.Year, req.Month).Scan(&version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute next receipt version")
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO receipt_snapshots (
			cuil, year, month, version, downloaded_at_utc, source_key, source_etag,
			source_version_id, payload_gzip, payload_sha256, payload_size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		digits, req.Year, req.Month, version, downloadedAt.Format(timeLayout), req.SourceKey,
		nullString(req.ETag), nullString(req.VersionID), compressed, hash, len(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert receipt snapshot")
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read new snapshot id")
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO receipt_latest (cuil, year, month, snapshot_id, updated_at_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cuil, year, month) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			updated_at_utc = excluded.updated_at_utc`,
		digits, req.Year, req.Month, snapshotID, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update latest receipt pointer")
	}

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if _, err = conn.ExecContext(context.Background(), "COMMIT"); err != nil {
		return nil, errors.Wrap(err, "failed to commit receipt snapshot")
	}
	committed = true
	metrics.ReceiptSnapshotsSavedTotal.Inc()

	log.WithFields(log.Fields{
		"cuil":    digits,
		"period":  periodID(req.Year, req.Month),
		"version": version,
		"key":     req.SourceKey,
	}).Info("Saved new receipt snapshot")

	// The payload text is returned as given; reading it back would only
	// decompress what we just compressed.
	return &Entry{
		SnapshotID:       snapshotID,
		Identity:         digits,
		Year:             req.Year,
		Month:            req.Month,
		Version:          version,
		DownloadedAt:     downloadedAt.Truncate(time.Millisecond),
		SourceKey:        req.SourceKey,
		ETag:             req.ETag,
		VersionID:        req.VersionID,
		PayloadSHA256:    hash,
		PayloadSizeBytes: int64(len(compressed)),
		Payload:          req.Payload,
	}, nil
}

// ListVersions returns the full snapshot history of a period, newest first.
func (c *Catalog) ListVersions(ctx context.Context, identity string, year, month int) ([]Version, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	digits, err := c.prepare(ctx, identity)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT s.snapshot_id, s.version, s.downloaded_at_utc, s.source_key, s.source_etag,
		       s.source_version_id, s.payload_sha256, s.payload_size_bytes,
		       l.snapshot_id IS NOT NULL
		FROM receipt_snapshots s
		LEFT JOIN receipt_latest l ON l.snapshot_id = s.snapshot_id
		WHERE s.cuil = ? AND s.year = ? AND s.month = ?
		ORDER BY s.version DESC`,
		digits, year, month)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query receipt versions")
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		var (
			v            Version
			downloadedAt string
			etag         sql.NullString
			versionID    sql.NullString
		)
		if err := rows.Scan(&v.SnapshotID, &v.Version, &downloadedAt, &v.SourceKey, &etag,
			&versionID, &v.PayloadSHA256, &v.PayloadSizeBytes, &v.Latest); err != nil {
			return nil, errors.Wrap(err, "failed to scan receipt version")
		}
		if v.DownloadedAt, err = time.Parse(timeLayout, downloadedAt); err != nil {
			return nil, errors.Wrapf(err, "snapshot %d has an invalid download time", v.SnapshotID)
		}
		v.ETag = etag.String
		v.VersionID = versionID.String
		versions = append(versions, v)
	}
	return versions, errors.Wrap(rows.Err(), "failed to iterate receipt versions")
}

// Stats summarizes the catalog contents.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if c == nil || c.db == nil {
		return stats, errors.New("receipt catalog is not open")
	}
	if err := c.ensureSchema(ctx); err != nil {
		return stats, err
	}
	err := c.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM receipt_snapshots),
			(SELECT COUNT(*) FROM receipt_latest),
			(SELECT COUNT(DISTINCT cuil) FROM receipt_latest),
			(SELECT COALESCE(SUM(payload_size_bytes), 0) FROM receipt_snapshots)`).
		Scan(&stats.Snapshots, &stats.Periods, &stats.Identities, &stats.CompressedBytes)
	return stats, errors.Wrap(err, "failed to read receipt catalog stats")
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func periodID(year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
