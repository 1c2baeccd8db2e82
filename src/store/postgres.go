package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ligai-voice/ligai/src/logger"
)

// schema is applied idempotently at connect time. The shape mirrors what
// the dashboard and webhook payloads need, nothing more.
const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	phone_number TEXT NOT NULL DEFAULT '',
	lead_id TEXT NOT NULL DEFAULT '',
	step TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	call_result TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	answered_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	end_reason TEXT NOT NULL DEFAULT '',
	audio_path TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transcripts (
	id BIGSERIAL PRIMARY KEY,
	call_id TEXT NOT NULL REFERENCES calls(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status);
CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_call_id ON transcripts(call_id);
`

// PostgresStore persists calls in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgres connects to the database and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &PostgresStore{pool: pool, log: logger.WithPrefix("Store")}
	s.log.Info("connected to Postgres")
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateCall(ctx context.Context, id, phone string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, phone_number) VALUES ($1, $2)`, id, phone)
	return err
}

func (s *PostgresStore) CreateCallWithMeta(ctx context.Context, id string, meta CallMeta) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, phone_number, lead_id, step, webhook_url, context)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, meta.Phone, meta.LeadID, meta.Step, meta.WebhookURL, meta.Context)
	return err
}

func (s *PostgresStore) SetAnsweredAt(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET answered_at = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PostgresStore) UpdateCallResult(ctx context.Context, id, result string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET call_result = $2 WHERE id = $1`, id, result)
	return err
}

func (s *PostgresStore) EndCall(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls
		 SET ended_at = now(),
		     duration_seconds = EXTRACT(EPOCH FROM (now() - started_at))::int,
		     status = 'completed',
		     end_reason = $2
		 WHERE id = $1`, id, reason)
	return err
}

func (s *PostgresStore) SetAudioPath(ctx context.Context, id, path string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET audio_path = $2 WHERE id = $1`, id, path)
	return err
}

func (s *PostgresStore) AddTranscript(ctx context.Context, id, role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (call_id, role, content) VALUES ($1, $2, $3)`,
		id, role, content)
	return err
}

const callColumns = `id, phone_number, lead_id, step, webhook_url, context,
	status, call_result, started_at, answered_at, ended_at,
	duration_seconds, end_reason, audio_path`

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.LeadID, &c.Step, &c.WebhookURL,
		&c.Context, &c.Status, &c.CallResult, &c.StartedAt, &c.AnsweredAt,
		&c.EndedAt, &c.DurationSeconds, &c.EndReason, &c.AudioPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	return scanCall(row)
}

func (s *PostgresStore) GetTranscripts(ctx context.Context, id string) ([]TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, ts FROM transcripts WHERE call_id = $1 ORDER BY ts ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.Role, &e.Content, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CallHistory(ctx context.Context, page, limit int) ([]Call, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM calls WHERE status <> 'active'`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+callColumns+` FROM calls WHERE status <> 'active'
		 ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, *c)
	}
	return calls, total, rows.Err()
}

func (s *PostgresStore) ClearHistory(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM transcripts WHERE call_id IN (SELECT id FROM calls WHERE status <> 'active')`); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM calls WHERE status <> 'active'`)
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE started_at >= date_trunc('day', now())),
		       COALESCE(AVG(duration_seconds) FILTER (WHERE ended_at IS NOT NULL), 0)::int
		FROM calls`).
		Scan(&st.TotalCalls, &st.ActiveCalls, &st.TodayCalls, &st.AvgDurationSeconds)
	return st, err
}
