// Package auditdb mirrors settlements, receipts, and disputes into an
// optional Postgres database for external auditors, alongside the
// authoritative JSON file tree in pkg/store. Grounded verbatim on the
// teacher's pkg/database client/repository shape (connection pooling,
// context-scoped queries, a typed error set), retargeted from the
// teacher's sole tenant (proof artifacts) to the mediator's own entities.
// Writes here are best-effort: a mirror failure never blocks or rolls
// back the authoritative write to pkg/store.
package auditdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Mirror owns the optional Postgres connection. A nil *Mirror (or one
// built from an empty DSN) is a valid no-op mirror so callers never need
// to branch on whether auditing is enabled.
type Mirror struct {
	db     *sql.DB
	logger *log.Logger
}

// New opens a pooled connection to dsn. An empty dsn returns a disabled
// Mirror whose methods are no-ops, matching the "optional secondary
// store" shape spec.md §6 describes.
func New(dsn string) (*Mirror, error) {
	logger := logx.New("AuditMirror")
	if dsn == "" {
		logger.Printf("no AUDIT_DATABASE_URL configured, audit mirroring disabled")
		return &Mirror{logger: logger}, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}

	logger.Printf("audit mirror connected")
	return &Mirror{db: db, logger: logger}, nil
}

// enabled reports whether this Mirror holds a live connection.
func (m *Mirror) enabled() bool {
	return m != nil && m.db != nil
}

// Close closes the pooled connection, if any.
func (m *Mirror) Close() error {
	if !m.enabled() {
		return nil
	}
	return m.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settlements (
			settlement_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			intent_hash_a TEXT NOT NULL,
			intent_hash_b TEXT NOT NULL,
			mediator_id TEXT NOT NULL,
			settlement_hash TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS effort_receipts (
			receipt_id TEXT PRIMARY KEY,
			segment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			receipt_hash TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS disputes (
			dispute_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			claimant TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement upserts a settlement's audit row. Failures are logged,
// not returned, so a mirror outage never blocks settlement submission.
func (m *Mirror) RecordSettlement(ctx context.Context, s model.ProposedSettlement) {
	if !m.enabled() {
		return
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO settlements (settlement_id, status, intent_hash_a, intent_hash_b, mediator_id, settlement_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (settlement_id) DO UPDATE SET status = $2, settlement_hash = $6`,
		s.ID, s.Status, s.IntentHashA, s.IntentHashB, s.MediatorID, s.SettlementHash)
	if err != nil {
		m.logger.Printf("RecordSettlement: mirror write failed for %s: %v", s.ID, err)
	}
}

// RecordReceipt upserts an effort receipt's audit row.
func (m *Mirror) RecordReceipt(ctx context.Context, r model.Receipt) {
	if !m.enabled() {
		return
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO effort_receipts (receipt_id, segment_id, status, receipt_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (receipt_id) DO UPDATE SET status = $3, receipt_hash = $4`,
		r.ReceiptID, r.SegmentID, r.Status, r.ReceiptHash)
	if err != nil {
		m.logger.Printf("RecordReceipt: mirror write failed for %s: %v", r.ReceiptID, err)
	}
}

// RecordDispute upserts a dispute's audit row.
func (m *Mirror) RecordDispute(ctx context.Context, d model.Dispute) {
	if !m.enabled() {
		return
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO disputes (dispute_id, status, claimant)
		VALUES ($1, $2, $3)
		ON CONFLICT (dispute_id) DO UPDATE SET status = $2`,
		d.DisputeID, d.Status, d.Claimant)
	if err != nil {
		m.logger.Printf("RecordDispute: mirror write failed for %s: %v", d.DisputeID, err)
	}
}
