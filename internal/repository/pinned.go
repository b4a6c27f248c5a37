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

const pinCols = `conversation, message_id, pinned_by, pinned_at, duration, expires_at`

type PinnedRepository struct {
	pool *pgxpool.Pool
}

var _ storage.PinStore = (*PinnedRepository)(nil)

func NewPinnedRepository(pool *pgxpool.Pool) *PinnedRepository {
	return &PinnedRepository{pool: pool}
}

func scanPin(s interface{ Scan(dest ...any) error }) (model.Pin, error) {
	var (
		p        model.Pin
		conv     string
		duration string
	)
	if err := s.Scan(&conv, &p.MessageID, &p.PinnedBy, &p.PinnedAt, &duration, &p.ExpiresAt); err != nil {
		return model.Pin{}, err
	}
	ref, err := model.ParseConversation(conv)
	if err != nil {
		return model.Pin{}, err
	}
	p.Conversation = ref
	if p.Duration, err = model.ParsePinDuration(duration); err != nil {
		return model.Pin{}, err
	}
	return p, nil
}

// lockConversation сериализует операции над набором закреплений одной беседы до конца транзакции.
func lockConversation(ctx context.Context, tx pgx.Tx, conv model.ConversationRef) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conv.Key()); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func messageInConversation(ctx context.Context, tx pgx.Tx, conv model.ConversationRef, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation = $2)`, id, conv.Key(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("message exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func activePins(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, conv model.ConversationRef, now time.Time) ([]model.Pin, error) {
	rows, err := q.Query(ctx,
		`SELECT `+pinCols+` FROM pinned_messages
		 WHERE conversation = $1 AND expires_at > $2
		 ORDER BY pinned_at, message_id`, conv.Key(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("active pins query: %w", err)
	}
	defer rows.Close()

	pins := make([]model.Pin, 0, model.MaxActivePins)
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("active pins scan: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active pins rows: %w", err)
	}
	return pins, nil
}

func upsertPin(ctx context.Context, tx pgx.Tx, p model.Pin) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO pinned_messages (`+pinCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (conversation, message_id) DO UPDATE
		 SET pinned_by = EXCLUDED.pinned_by, pinned_at = EXCLUDED.pinned_at,
		     duration = EXCLUDED.duration, expires_at = EXCLUDED.expires_at`,
		p.Conversation.Key(), p.MessageID, p.PinnedBy, p.PinnedAt, string(p.Duration), p.ExpiresAt,
	)
	return err
}

// PinMessage: подсчёт активных и вставка выполняются под одной advisory-блокировкой беседы.
func (r *PinnedRepository) PinMessage(ctx context.Context, p model.Pin, capacity int, now time.Time) (bool, []model.Pin, error) {
	defer logger.DeferLogDuration("pinned.Pin", time.Now())()
	var (
		pinned bool
		active []model.Pin
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockConversation(ctx, tx, p.Conversation); err != nil {
			return err
		}
		if err := messageInConversation(ctx, tx, p.Conversation, p.MessageID); err != nil {
			return err
		}
		current, err := activePins(ctx, tx, p.Conversation, now)
		if err != nil {
			return err
		}
		refresh := false
		for _, a := range current {
			if a.MessageID == p.MessageID {
				refresh = true
				break
			}
		}
		if !refresh && len(current) >= capacity {
			active = current
			return nil
		}
		if err := upsertPin(ctx, tx, p); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		pinned = true
		active, err = activePins(ctx, tx, p.Conversation, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, err
		}
		return false, nil, fmt.Errorf("pinnedRepo.Pin: %w", err)
	}
	return pinned, active, nil
}

func (r *PinnedRepository) ReplacePin(ctx context.Context, oldID int64, p model.Pin, now time.Time) (*model.Pin, error) {
	defer logger.DeferLogDuration("pinned.Replace", time.Now())()
	var old model.Pin
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockConversation(ctx, tx, p.Conversation); err != nil {
			return err
		}
		if err := messageInConversation(ctx, tx, p.Conversation, p.MessageID); err != nil {
			return err
		}
		var err error
		old, err = scanPin(tx.QueryRow(ctx,
			`DELETE FROM pinned_messages
			 WHERE conversation = $1 AND message_id = $2 AND expires_at > $3
			 RETURNING `+pinCols, p.Conversation.Key(), oldID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete old: %w", err)
		}
		if err := upsertPin(ctx, tx, p); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("pinnedRepo.Replace: %w", err)
	}
	return &old, nil
}

func (r *PinnedRepository) UnpinMessage(ctx context.Context, conv model.ConversationRef, messageID int64, now time.Time) (*model.Pin, error) {
	defer logger.DeferLogDuration("pinned.Unpin", time.Now())()
	p, err := scanPin(r.pool.QueryRow(ctx,
		`DELETE FROM pinned_messages WHERE conversation = $1 AND message_id = $2 AND expires_at > $3 RETURNING `+pinCols,
		conv.Key(), messageID, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.Unpin: %w", err)
	}
	return &p, nil
}

// ActivePins: не больше MaxActivePins строк, поэтому сообщения подтягиваются отдельными запросами.
func (r *PinnedRepository) ActivePins(ctx context.Context, conv model.ConversationRef, now time.Time) ([]model.Pin, error) {
	defer logger.DeferLogDuration("pinned.GetPinned", time.Now())()
	pins, err := activePins(ctx, r.pool, conv, now)
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.GetPinned: %w", err)
	}
	for i := range pins {
		m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+messageFrom+` WHERE m.id = $1`, pins[i].MessageID))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pinnedRepo.GetPinned message: %w", err)
		}
		pins[i].Message = m
	}
	return pins, nil
}

func (r *PinnedRepository) DeleteExpired(ctx context.Context, now time.Time) ([]model.Pin, error) {
	defer logger.DeferLogDuration("pinned.DeleteExpired", time.Now())()
	rows, err := r.pool.Query(ctx,
		`DELETE FROM pinned_messages WHERE expires_at <= $1 RETURNING `+pinCols, now)
	if err != nil {
		return nil, fmt.Errorf("pinnedRepo.DeleteExpired: %w", err)
	}
	defer rows.Close()

	var removed []model.Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("pinnedRepo.DeleteExpired scan: %w", err)
		}
		removed = append(removed, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pinnedRepo.DeleteExpired rows: %w", err)
	}
	return removed, nil
}
