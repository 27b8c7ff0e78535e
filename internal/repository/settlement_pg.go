package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
)

func parseAddress(hex string) common.Address {
	return common.HexToAddress(hex)
}

// PostgresSettlementRepo is the durable settlement history.
type PostgresSettlementRepo struct {
	db *sqlx.DB
}

func NewPostgresSettlementRepo(db *sqlx.DB) *PostgresSettlementRepo {
	repo := &PostgresSettlementRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresSettlementRepo) Insert(ctx context.Context, rec *model.SettlementRecord) error {
	if rec == nil {
		return nil
	}
	waterfallJSON, _ := json.Marshal(rec.Waterfall)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settlement_history (
			id, rights_id, executor, kind, final_pnl, waterfall, settled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.RightsID, rec.Executor.Hex(), rec.Kind, rec.FinalPnl, waterfallJSON, rec.SettledAt)
	return err
}

func (r *PostgresSettlementRepo) List(ctx context.Context, executor string, limit int, from, to *time.Time) ([]*model.SettlementRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, rights_id, executor, kind, final_pnl, waterfall, settled_at FROM settlement_history`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if executor != "" {
		clauses = append(clauses, fmt.Sprintf("executor = $%d", idx))
		args = append(args, executor)
		idx++
	}
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("settled_at >= $%d", idx))
		args = append(args, *from)
		idx++
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("settled_at <= $%d", idx))
		args = append(args, *to)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY settled_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SettlementRecord
	for rows.Next() {
		var (
			rec          model.SettlementRecord
			executorHex  string
			waterfallRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RightsID, &executorHex, &rec.Kind, &rec.FinalPnl, &waterfallRaw, &rec.SettledAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(waterfallRaw, &rec.Waterfall)
		rec.Executor = parseAddress(executorHex)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *PostgresSettlementRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM settlement_history WHERE settled_at < $1`, cutoff)
	return err
}

func (r *PostgresSettlementRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlement_history (
			id TEXT PRIMARY KEY,
			rights_id BIGINT NOT NULL,
			executor TEXT NOT NULL,
			kind TEXT NOT NULL,
			final_pnl BIGINT NOT NULL,
			waterfall JSONB NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_settlement_executor ON settlement_history (executor, settled_at)`)
	return nil
}
