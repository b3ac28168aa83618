package postgres

/*
Файл execution_log_repo.go — долговременное зеркало журнала исполнения.
Пишется пачками из audit.Sink; чтение нужно только для истории после рестарта.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-action-pipeline/internal/audit"
	"github.com/xela07ax/spaceai-action-pipeline/internal/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS execution_logs (
	id          TEXT PRIMARY KEY,
	tool_id     TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	user_id     TEXT,
	parameters  JSONB,
	confirmed   BOOLEAN NOT NULL DEFAULT FALSE,
	status      TEXT NOT NULL,
	response    JSONB,
	error       TEXT,
	duration_ms BIGINT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS execution_logs_actor_ts ON execution_logs (actor_id, timestamp DESC);
`

// Количество колонок в таблице execution_logs
const numFields = 12

type ExecutionLogRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionLogRepo открывает пул. Соединение проверяется через Ping.
func NewExecutionLogRepo(ctx context.Context, cfg infra.DatabaseConfig) (*ExecutionLogRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return &ExecutionLogRepo{pool: pool}, nil
}

// EnsureSchema создает таблицу, если ее нет.
func (r *ExecutionLogRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to apply schema: %w", err)
	}
	return nil
}

func (r *ExecutionLogRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	query, vals, err := buildInsert(records)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: batch insert of %d records failed: %w", len(records), err)
	}
	return nil
}

// Recent — последние записи, новые первыми. Пустой actorID — все персоны.
func (r *ExecutionLogRepo) Recent(ctx context.Context, actorID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, tool_id, tool_name, actor_id, COALESCE(user_id, ''), parameters, confirmed,
	                 status, response, COALESCE(error, ''), duration_ms, timestamp
	          FROM execution_logs
	          WHERE ($1::text = '' OR actor_id = $1)
	          ORDER BY timestamp DESC
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query execution logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var rec audit.Record
		var params, resp []byte
		if err := rows.Scan(&rec.ID, &rec.ToolID, &rec.ToolName, &rec.ActorID, &rec.UserID, &params,
			&rec.Confirmed, &rec.Status, &resp, &rec.Error, &rec.DurationMs, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan execution log: %w", err)
		}
		if len(params) > 0 {
			_ = json.Unmarshal(params, &rec.Parameters)
		}
		if len(resp) > 0 {
			_ = json.Unmarshal(resp, &rec.Response)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ExecutionLogRepo) Close() {
	r.pool.Close()
}

// buildInsert динамически строит запрос пакетной вставки.
// Повторная доставка той же записи игнорируется.
func buildInsert(records []audit.Record) (string, []any, error) {
	var sb strings.Builder
	vals := make([]any, 0, len(records)*numFields)

	for i, rec := range records {
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: marshal parameters of %s: %w", rec.ID, err)
		}
		resp, err := json.Marshal(rec.Response)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: marshal response of %s: %w", rec.ID, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+f)
		}
		sb.WriteString(")")

		vals = append(vals,
			rec.ID, rec.ToolID, rec.ToolName, rec.ActorID, nullable(rec.UserID), params,
			rec.Confirmed, rec.Status, resp, nullable(rec.Error), rec.DurationMs, rec.Timestamp,
		)
	}

	query := "INSERT INTO execution_logs (id, tool_id, tool_name, actor_id, user_id, parameters, confirmed, status, response, error, duration_ms, timestamp) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
