package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.ConversationRepository = (*conversationRepo)(nil)

type conversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *conversationRepo {
	return &conversationRepo{pool: pool}
}

func (r *conversationRepo) AppendMessage(ctx context.Context, tx repository.Tx, m *model.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: appending conversation message: %w", err)
	}
	return nil
}

func (r *conversationRepo) FindMessage(ctx context.Context, tx repository.Tx, id string) (*model.ConversationMessage, error) {
	const q = `
SELECT id, conversation_id, role, content, created_at
FROM conversation_messages WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var m model.ConversationMessage
	err = row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &m, nil
}
