package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.AddMember: %w", err)
	}
	return nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.RemoveMember: %w", err)
	}
	return nil
}

// RoomsFor возвращает id групп пользователя.
func (r *GroupRepository) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("group.RoomsFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.RoomsFor query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("groupRepo.RoomsFor rows: %w", err)
	}
	return ids, nil
}

func (r *GroupRepository) IsParticipant(ctx context.Context, conv model.ConversationRef, userID string) (bool, error) {
	switch conv.Kind {
	case model.ConversationPrivate:
		return conv.Has(userID), nil
	case model.ConversationGroup:
		defer logger.DeferLogDuration("group.IsMember", time.Now())()
		var ok bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
			conv.GroupID, userID,
		).Scan(&ok)
		if err != nil {
			return false, fmt.Errorf("groupRepo.IsMember: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

// Directory объединяет профили и членство в группах для сервисов.
type Directory struct {
	*UserRepository
	*GroupRepository
}

var _ storage.DirectoryAdmin = Directory{}

func NewDirectory(pool *pgxpool.Pool) Directory {
	return Directory{UserRepository: NewUserRepository(pool), GroupRepository: NewGroupRepository(pool)}
}
