// Package persistence implements the optional, operator-triggered snapshot
// export/import of exchange state. Core state is in-memory by design;
// this package never sits on the hot path of order submission or matching,
// it only serializes a point-in-time copy of account/symbol/order state to
// a single SQLite file, accessed through gorm, and restores it back into a
// fresh exchange.Exchange on startup. There is no durability requirement
// between snapshots, so a single blob table with one row per label (a later
// save under the same label replaces it) is enough; no live multi-table
// read/write store is needed.
package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/domain"
)

// FormatVersion is the current snapshot payload schema version. Stored
// alongside each snapshot so Load can reject files older than
// MinLoadableVersion; newer versions are accepted as-is and nothing is
// migrated.
const FormatVersion = "1.0.0"

// MinLoadableVersion is the oldest snapshot format this build can still
// read.
const MinLoadableVersion = "1.0.0"

// Payload is the full point-in-time state captured by a snapshot: user
// balances, symbol specs, open orders, and the order/trade archive.
type Payload struct {
	Version    string                        `json:"version"`
	TakenAtMs  int64                         `json:"takenAtMs"`
	Symbols    []domain.Symbol               `json:"symbols"`
	Accounts   map[string]account.Snapshot   `json:"accounts"`
	Orders     []*domain.Order               `json:"orders"`
	Trades     []*domain.Trade               `json:"trades"`
}

// snapshotRow is the single gorm-mapped table a Store writes to: one row
// per saved snapshot, keyed by label, holding the gzip-compressed JSON
// payload as a blob. A real multi-table relational layout is unwarranted
// for a store that is read back in one shot and never queried piecemeal.
type snapshotRow struct {
	Label     string `gorm:"primaryKey"`
	Version   string
	TakenAtMs int64
	Data      []byte
	CreatedAt time.Time
}

func (snapshotRow) TableName() string { return "vexchange_snapshots" }

// Store is the optional sqlite-backed snapshot archive.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if absent) a sqlite database at path and migrates
// the snapshot table. There is only ever one writer and the file is read
// back rarely, so no connection-pool or pragma tuning beyond gorm's
// defaults is needed.
func Open(path string, lg *zap.Logger) (*Store, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("persistence: migrate: %w", err)
	}
	return &Store{db: db, logger: lg}, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save gzip-compresses payload's JSON encoding and upserts it under label.
func (s *Store) Save(label string, payload Payload) error {
	payload.Version = FormatVersion
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persistence: marshal payload: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return fmt.Errorf("persistence: gzip payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("persistence: gzip close: %w", err)
	}

	row := snapshotRow{
		Label:     label,
		Version:   payload.Version,
		TakenAtMs: payload.TakenAtMs,
		Data:      buf.Bytes(),
		CreatedAt: time.Now(),
	}
	result := s.db.Save(&row)
	if result.Error != nil {
		s.logger.Error("persistence: save snapshot failed", zap.String("label", label), zap.Error(result.Error))
		return result.Error
	}
	s.logger.Info("persistence: snapshot saved", zap.String("label", label), zap.Int("bytes", len(buf.Bytes())))
	return nil
}

// Load reads back label's most recently saved snapshot.
func (s *Store) Load(label string) (Payload, error) {
	var row snapshotRow
	result := s.db.First(&row, "label = ?", label)
	if result.Error != nil {
		return Payload{}, fmt.Errorf("persistence: load %s: %w", label, result.Error)
	}
	if err := checkVersion(row.Version); err != nil {
		return Payload{}, err
	}
	gr, err := gzip.NewReader(bytes.NewReader(row.Data))
	if err != nil {
		return Payload{}, fmt.Errorf("persistence: gunzip %s: %w", label, err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return Payload{}, fmt.Errorf("persistence: read %s: %w", label, err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, fmt.Errorf("persistence: unmarshal %s: %w", label, err)
	}
	return payload, nil
}

// checkVersion rejects a snapshot written by a format older than this
// build can understand, using semver range comparison rather than an exact
// string match so patch-level format additions stay loadable.
func checkVersion(written string) error {
	wv, err := semver.NewVersion(written)
	if err != nil {
		return fmt.Errorf("persistence: unparseable snapshot version %q: %w", written, err)
	}
	min, err := semver.NewVersion(MinLoadableVersion)
	if err != nil {
		return fmt.Errorf("persistence: invalid MinLoadableVersion: %w", err)
	}
	if wv.LessThan(min) {
		return fmt.Errorf("persistence: snapshot format %s predates the oldest loadable version %s", written, MinLoadableVersion)
	}
	return nil
}
