package repository

import (
	"context"

	"appforge/internal/domain/model"
)

type ProjectFileRepository interface {
	// Upsert inserts or replaces by (project_id, path). Applying the same
	// file twice yields one row with the final content.
	Upsert(ctx context.Context, tx Tx, f *model.ProjectFile) error
	Delete(ctx context.Context, tx Tx, projectID, path string) error
	ListByProject(ctx context.Context, tx Tx, projectID string) ([]model.ProjectFile, error)
	CountByProject(ctx context.Context, tx Tx, projectID string) (int, error)

	// AppendSnapshot appends a version snapshot with the next version number.
	// Snapshots are never mutated.
	AppendSnapshot(ctx context.Context, tx Tx, s *model.VersionSnapshot) error
	LatestSnapshot(ctx context.Context, tx Tx, projectID string) (*model.VersionSnapshot, error)
}

type SecretRepository interface {
	ListByProject(ctx context.Context, tx Tx, projectID string) ([]model.ProjectSecret, error)
}

type ConversationRepository interface {
	// AppendMessage appends an assistant-visible message; used for build
	// summaries and best-effort failure notes.
	AppendMessage(ctx context.Context, tx Tx, m *model.ConversationMessage) error
	FindMessage(ctx context.Context, tx Tx, id string) (*model.ConversationMessage, error)
}
