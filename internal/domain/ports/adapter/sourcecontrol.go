package adapter

import "context"

// RepoFile is a file to commit on a push.
type RepoFile struct {
	Path    string
	Content string
}

// SourceControlAdapter pushes and pulls a project's file set against its
// remote repository.
type SourceControlAdapter interface {
	// Push commits files to the project's linked repository on behalf of the
	// user and pushes; returns the commit hash.
	Push(ctx context.Context, userID, projectID, commitMessage string, files []RepoFile) (string, error)
	Pull(ctx context.Context, projectID string) ([]RepoFile, error)
}
