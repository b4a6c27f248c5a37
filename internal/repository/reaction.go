package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

var _ storage.ReactionStore = (*ReactionRepository)(nil)

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// ToggleReaction: строка сообщения блокируется, чтобы параллельные переключения шли по очереди.
func (r *ReactionRepository) ToggleReaction(ctx context.Context, rc model.Reaction) (bool, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	var added bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM messages WHERE id = $1 FOR UPDATE`, rc.MessageID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reactionRepo.Toggle lock: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
			rc.MessageID, rc.UserID, rc.Emoji,
		)
		if err != nil {
			return fmt.Errorf("reactionRepo.Toggle remove: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)`,
			rc.MessageID, rc.UserID, rc.Emoji, rc.CreatedAt,
		); err != nil {
			return fmt.Errorf("reactionRepo.Toggle add: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

func (r *ReactionRepository) ReactionsFor(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM message_reactions
		 WHERE message_id = $1
		 ORDER BY created_at, user_id, emoji`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.GetByMessage scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.GetByMessage rows: %w", err)
	}
	return reactions, nil
}
