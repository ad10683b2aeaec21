package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNoSnapshot = errors.New("no ledger snapshot stored")

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Repository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open connects through the pgx database/sql driver
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return db, nil
}

func NewRepository(db *sql.DB, logger *zap.SugaredLogger) *Repository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const insertEvent = `
	INSERT INTO events (id, txn_id, kind, position_id, asset, amount, shares, detail, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

func positionArg(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// StoreEvents writes one committed operation's journal in a single transaction
func (r *Repository) StoreEvents(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err = stmt.ExecContext(ctx,
			ev.ID,
			ev.TxnID,
			string(ev.Kind),
			positionArg(ev.Position),
			string(ev.Asset),
			ev.Amount,
			ev.Shares,
			ev.Detail,
			ev.At,
		)
		if err != nil {
			return fmt.Errorf("failed to store event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Stored batch of events", "count", len(events))
	return nil
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Position uuid.UUID
	Kind     engine.EventKind
	Limit    int
	Cursor   string
}

// ParseCursor reads the opaque cursor ListEvents hands out. Empty means start from the newest.
func ParseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return seq, nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}

// ListEvents pages through the journal newest first
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]engine.Event, string, error) {
	before, err := ParseCursor(f.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := pageSize(f.Limit)

	query := `
		SELECT seq, id, txn_id, kind, position_id, asset, amount, shares, detail, at
		FROM events
		WHERE ($1::uuid IS NULL OR position_id = $1)
		AND ($2 = '' OR kind = $2)
		AND ($3 = 0 OR seq < $3)
		ORDER BY seq DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, positionArg(f.Position), string(f.Kind), before, limit+1) // +1 to check if there are more
	if err != nil {
		return nil, "", fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var (
		events  []engine.Event
		lastSeq int64
		hasMore bool
	)
	for rows.Next() {
		if len(events) >= limit {
			hasMore = true
			break
		}

		var (
			ev       engine.Event
			seq      int64
			kind     string
			asset    string
			position uuid.NullUUID
		)
		err := rows.Scan(&seq, &ev.ID, &ev.TxnID, &kind, &position, &asset, &ev.Amount, &ev.Shares, &ev.Detail, &ev.At)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = engine.EventKind(kind)
		ev.Asset = engine.Asset(asset)
		if position.Valid {
			ev.Position = position.UUID
		}
		events = append(events, ev)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("row iteration error: %w", err)
	}

	var next string
	if hasMore {
		next = strconv.FormatInt(lastSeq, 10)
	}
	return events, next, nil
}

// SaveSnapshot appends a ledger snapshot. tcr is nil while the oracle is stale.
func (r *Repository) SaveSnapshot(ctx context.Context, s engine.Snapshot, tcr *decimal.Decimal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var tcrArg decimal.NullDecimal
	if tcr != nil {
		tcrArg = decimal.NullDecimal{Decimal: *tcr, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (taken_at, tcr, supply, positions, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, s.TakenAt, tcrArg, s.Supply, len(s.Positions), payload)
	if err != nil {
		return fmt.Errorf("failed to store ledger snapshot: %w", err)
	}
	return nil
}

func (r *Repository) LatestSnapshot(ctx context.Context) (engine.Snapshot, error) {
	var (
		s       engine.Snapshot
		payload []byte
	)
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM ledger_snapshots ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNoSnapshot
		}
		return s, fmt.Errorf("failed to load ledger snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &s); err != nil {
		return s, fmt.Errorf("failed to decode ledger snapshot: %w", err)
	}
	return s, nil
}

// PruneSnapshots keeps the newest keep rows
func (r *Repository) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ledger_snapshots
		WHERE id NOT IN (SELECT id FROM ledger_snapshots ORDER BY id DESC LIMIT $1)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Health check
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
