package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// messageCols: колонки сообщения и состояние закрепления (LEFT JOIN pinned_messages pm).
const messageCols = `m.id, m.conversation, m.sender_id, m.body, m.attachments, m.created_at,
	m.edited, m.edit_count, m.deleted, m.seen, pm.expires_at`

const messageFrom = ` FROM messages m
	LEFT JOIN pinned_messages pm ON pm.message_id = m.id AND pm.conversation = m.conversation
		AND pm.expires_at > now()`

type MessageRepository struct {
	pool *pgxpool.Pool
}

var _ storage.MessageStore = (*MessageRepository)(nil)

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// scanMessage сканирует строку в model.Message (порядок соответствует messageCols).
func scanMessage(s interface{ Scan(dest ...any) error }) (*model.Message, error) {
	var (
		m           model.Message
		conv        string
		attachments []byte
		pinExpires  *time.Time
	)
	if err := s.Scan(&m.ID, &conv, &m.SenderID, &m.Body, &attachments, &m.CreatedAt,
		&m.Edited, &m.EditCount, &m.Deleted, &m.Seen, &pinExpires); err != nil {
		return nil, err
	}
	ref, err := model.ParseConversation(conv)
	if err != nil {
		return nil, err
	}
	m.Conversation = ref
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("attachments: %w", err)
		}
		if len(m.Attachments) == 0 {
			m.Attachments = nil
		}
	}
	if pinExpires != nil {
		m.Pinned = true
		m.PinExpiresAt = pinExpires
	}
	return &m, nil
}

func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	attachments := m.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("msgRepo.Create attachments: %w", err)
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation, sender_id, body, attachments, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.Conversation.Key(), m.SenderID, m.Body, raw, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+messageFrom+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// UpdateMessage держит строку под FOR UPDATE на время мутации и записи истории.
func (r *MessageRepository) UpdateMessage(ctx context.Context, id int64, fn storage.Mutation) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Update", time.Now())()
	var out *model.Message
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageCols+messageFrom+` WHERE m.id = $1 FOR UPDATE OF m`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("msgRepo.Update select: %w", err)
		}
		entry, err := fn(m)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE messages SET body = $1, edited = $2, edit_count = $3, deleted = $4 WHERE id = $5`,
			m.Body, m.Edited, m.EditCount, m.Deleted, id,
		); err != nil {
			return fmt.Errorf("msgRepo.Update: %w", err)
		}
		if entry != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO message_edit_history (message_id, prior_body, edited_at) VALUES ($1, $2, $3)`,
				id, entry.PriorBody, entry.EditedAt,
			); err != nil {
				return fmt.Errorf("msgRepo.Update history: %w", err)
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, conv model.ConversationRef, readerID string, upTo int64) ([]int64, error) {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE messages SET seen = true
		 WHERE conversation = $1 AND id <= $2 AND sender_id <> $3 AND NOT seen
		 RETURNING id`,
		conv.Key(), upTo, readerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkSeen rows: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MessageRepository) History(ctx context.Context, messageID int64) ([]model.EditHistoryEntry, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("msgRepo.History exists: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, prior_body, edited_at FROM message_edit_history
		 WHERE message_id = $1 ORDER BY id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()

	out := make([]model.EditHistoryEntry, 0, 4)
	for rows.Next() {
		var e model.EditHistoryEntry
		if err := rows.Scan(&e.MessageID, &e.PriorBody, &e.EditedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.History scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History rows: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, conv model.ConversationRef, before int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+messageFrom+`
		 WHERE m.conversation = $1 AND ($2::bigint = 0 OR m.id < $2)
		 ORDER BY m.id DESC
		 LIMIT $3`, conv.Key(), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.List query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.List scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.List rows: %w", err)
	}
	return messages, nil
}
