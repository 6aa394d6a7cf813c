// Package postgres persists transcript messages so a monitor can reload a
// conversation's history after a restart. Generated pages are not stored
// here; their persistence belongs to the CMS, not this client.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/hubstream/internal/engine"
	"github.com/gosuda/hubstream/internal/protocol"
)

// Archive stores transcript messages keyed by conversation.
type Archive struct {
	pool *pgxpool.Pool
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string, maxConns int32) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Archive{pool: pool}, nil
}

// Close releases the pool.
func (a *Archive) Close() {
	a.pool.Close()
}

// SaveMessage appends one transcript message. Idempotent on message id so
// replayed appends after a crash do not duplicate rows.
func (a *Archive) SaveMessage(ctx context.Context, conversationID string, msg engine.Message) error {
	var candidates []byte
	if len(msg.Candidates) > 0 {
		var err error
		candidates, err = json.Marshal(msg.Candidates)
		if err != nil {
			return fmt.Errorf("archive.SaveMessage: marshal candidates: %w", err)
		}
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO transcript_messages (id, conversation_id, kind, text, candidates, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, conversationID, string(msg.Kind), msg.Text, candidates, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive.SaveMessage: %w", err)
	}

	return nil
}

// ListMessages returns a conversation's transcript in timestamp order.
func (a *Archive) ListMessages(ctx context.Context, conversationID string) ([]engine.Message, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, kind, text, candidates, ts
		 FROM transcript_messages
		 WHERE conversation_id = $1
		 ORDER BY ts ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive.ListMessages: %w", err)
	}
	defer rows.Close()

	var messages []engine.Message
	for rows.Next() {
		var (
			msg        engine.Message
			kind       string
			candidates []byte
		)
		if err := rows.Scan(&msg.ID, &kind, &msg.Text, &candidates, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("archive.ListMessages: scan: %w", err)
		}
		msg.Kind = engine.MessageKind(kind)
		if len(candidates) > 0 {
			var parsed []protocol.PageCandidate
			if err := json.Unmarshal(candidates, &parsed); err != nil {
				return nil, fmt.Errorf("archive.ListMessages: unmarshal candidates: %w", err)
			}
			msg.Candidates = parsed
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive.ListMessages: %w", err)
	}

	return messages, nil
}
