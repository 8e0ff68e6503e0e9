package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// MessageStore is the durable message history.
type MessageStore interface {
	Save(ctx context.Context, msg *model.DanmakuMessage) error
	FindRecentByRoom(ctx context.Context, roomID int64, limit int) ([]*model.DanmakuMessage, error)
	CountByRoom(ctx context.Context, roomID int64) (int64, error)
}

// PostgresMessageStore implements MessageStore on a pgx pool.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMessageStore wraps an existing pool.
func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

// Save inserts one message. Replays of the same message id are ignored so
// at-least-once delivery never duplicates history.
func (s *PostgresMessageStore) Save(ctx context.Context, msg *model.DanmakuMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO danmaku_messages
			(message_id, room_id, user_id, content, color, size, position, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, to_timestamp($8::double precision / 1000))
		ON CONFLICT (message_id) DO NOTHING`,
		msg.ID, msg.RoomID, msg.UserID, msg.Content,
		msg.Color, msg.Size, msg.Position, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", msg.ID, err)
	}
	return nil
}

// FindRecentByRoom returns up to limit messages for a room, newest first.
func (s *PostgresMessageStore) FindRecentByRoom(ctx context.Context, roomID int64, limit int) ([]*model.DanmakuMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, room_id, user_id, content, color, size, position,
			(extract(epoch from sent_at) * 1000)::bigint
		FROM danmaku_messages
		WHERE room_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.DanmakuMessage
	for rows.Next() {
		msg := &model.DanmakuMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.UserID, &msg.Content,
			&msg.Color, &msg.Size, &msg.Position, &msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountByRoom reports how many messages a room has accumulated.
func (s *PostgresMessageStore) CountByRoom(ctx context.Context, roomID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM danmaku_messages WHERE room_id = $1`, roomID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
