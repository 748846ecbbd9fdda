package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/marketmode/internal/domain"
)

// DecisionRepo archives published mode decisions for offline analysis.
// The hot path never reads from here; the state documents on disk stay
// authoritative.
type DecisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDecisionRepo(db *sqlx.DB, timeout time.Duration) *DecisionRepo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DecisionRepo{db: db, timeout: timeout}
}

// Open connects and verifies the archive database.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open decision archive: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping decision archive: %w", err)
	}
	return db, nil
}

type decisionRow struct {
	ID          string    `db:"id"`
	Symbol      string    `db:"symbol"`
	FramePair   string    `db:"frame_pair"`
	Mode        string    `db:"mode"`
	SampleCount int       `db:"sample_count"`
	Tally       []byte    `db:"tally"`
	WindowStart time.Time `db:"window_start"`
	WindowEnd   time.Time `db:"window_end"`
	CreatedAt   time.Time `db:"created_at"`
}

// Insert archives one published decision. Each call writes a new row; the
// decision itself carries no identity, so the row ID is minted here.
func (r *DecisionRepo) Insert(ctx context.Context, symbol string, pair domain.FramePair, d domain.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tally, err := json.Marshal(d.Tally)
	if err != nil {
		return fmt.Errorf("failed to encode tally: %w", err)
	}

	row := decisionRow{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		FramePair:   string(pair),
		Mode:        string(d.Mode),
		SampleCount: d.SampleCount,
		Tally:       tally,
		WindowStart: d.WindowStart,
		WindowEnd:   d.WindowEnd,
		CreatedAt:   time.Now().UTC(),
	}

	const q = `
		INSERT INTO mode_decisions
			(id, symbol, frame_pair, mode, sample_count, tally, window_start, window_end, created_at)
		VALUES
			(:id, :symbol, :frame_pair, :mode, :sample_count, :tally, :window_start, :window_end, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("failed to archive decision for %s: %w", symbol, err)
	}
	return nil
}

// RecentBySymbol returns up to limit archived decisions for a symbol,
// newest first.
func (r *DecisionRepo) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var rows []decisionRow
	const q = `
		SELECT id, symbol, frame_pair, mode, sample_count, tally, window_start, window_end, created_at
		FROM mode_decisions
		WHERE symbol = $1
		ORDER BY window_end DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, q, symbol, limit); err != nil {
		return nil, fmt.Errorf("failed to query decision archive for %s: %w", symbol, err)
	}

	out := make([]domain.Decision, 0, len(rows))
	for _, row := range rows {
		var tally map[domain.Direction]int
		if err := json.Unmarshal(row.Tally, &tally); err != nil {
			return nil, fmt.Errorf("failed to decode archived tally: %w", err)
		}
		out = append(out, domain.Decision{
			WindowStart: row.WindowStart,
			WindowEnd:   row.WindowEnd,
			Tally:       tally,
			Mode:        domain.Mode(row.Mode),
			SampleCount: row.SampleCount,
		})
	}
	return out, nil
}

// EnsureSchema creates the archive table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS mode_decisions (
			id            UUID PRIMARY KEY,
			symbol        TEXT NOT NULL,
			frame_pair    TEXT NOT NULL,
			mode          TEXT NOT NULL,
			sample_count  INT NOT NULL,
			tally         JSONB NOT NULL,
			window_start  TIMESTAMPTZ NOT NULL,
			window_end    TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_mode_decisions_symbol_window
			ON mode_decisions (symbol, window_end DESC);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure decision archive schema: %w", err)
	}
	return nil
}
