package sourcecontrol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/ports/adapter"
)

var _ adapter.SourceControlAdapter = (*GitAdapter)(nil)

const (
	commitAuthorName  = "appforge"
	commitAuthorEmail = "bot@appforge.dev"
)

// GitAdapter syncs a project's file set with its remote repository. Clones
// are in-memory: the orchestrator never keeps working trees on disk.
type GitAdapter struct {
	remoteBase string // e.g. https://git.appforge.dev
	token      string
	branch     string
}

func NewGitAdapter(cfg config.SourceControlConfig) (*GitAdapter, error) {
	if cfg.RemoteBase == "" {
		return nil, errors.New("sourcecontrol: remote base required")
	}
	return &GitAdapter{
		remoteBase: strings.TrimRight(cfg.RemoteBase, "/"),
		token:      cfg.Token,
		branch:     cfg.Branch,
	}, nil
}

func (g *GitAdapter) repoURL(userID, projectID string) string {
	return fmt.Sprintf("%s/%s/%s.git", g.remoteBase, userID, projectID)
}

func (g *GitAdapter) auth() *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: "token", Password: g.token}
}

func (g *GitAdapter) clone(ctx context.Context, url string) (*git.Repository, billy.Filesystem, error) {
	fs := memfs.New()
	opts := &git.CloneOptions{
		URL:  url,
		Auth: g.auth(),
	}
	if g.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.branch)
		opts.SingleBranch = true
	}
	repo, err := git.CloneContext(ctx, memory.NewStorage(), fs, opts)
	if err != nil {
		return nil, nil, err
	}
	return repo, fs, nil
}

// Push clones the remote, overlays the given files as the full tree, commits
// and pushes. An empty diff results in no new commit and the current head
// hash is returned.
func (g *GitAdapter) Push(ctx context.Context, userID, projectID, commitMessage string, files []adapter.RepoFile) (string, error) {
	url := g.repoURL(userID, projectID)

	repo, fs, err := g.clone(ctx, url)
	if errors.Is(err, git.ErrRepositoryNotExists) || isEmptyRemote(err) {
		// Brand-new remote: initialize an empty repository instead.
		fs = memfs.New()
		repo, err = initWithRemote(fs, url)
	}
	if err != nil {
		return "", &domain.RemoteError{Op: "sourcecontrol.push", Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("sourcecontrol: worktree: %w", err)
	}

	if err := clearWorktree(fs); err != nil {
		return "", fmt.Errorf("sourcecontrol: clearing worktree: %w", err)
	}
	for _, f := range files {
		if err := writeFile(fs, f.Path, f.Content); err != nil {
			return "", fmt.Errorf("sourcecontrol: writing %s: %w", f.Path, err)
		}
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("sourcecontrol: staging: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("sourcecontrol: status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return "", fmt.Errorf("sourcecontrol: head: %w", err)
		}
		return head.Hash().String(), nil
	}

	hash, err := wt.Commit(commitMessage, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("sourcecontrol: commit: %w", err)
	}

	if err := repo.PushContext(ctx, &git.PushOptions{Auth: g.auth()}); err != nil {
		return "", &domain.RemoteError{Op: "sourcecontrol.push", Err: err}
	}
	return hash.String(), nil
}

// Pull clones the remote and returns its full file tree.
func (g *GitAdapter) Pull(ctx context.Context, projectID string) ([]adapter.RepoFile, error) {
	// Project repos live under a per-user namespace but are addressable by
	// project id alone through the forge's alias route.
	url := fmt.Sprintf("%s/projects/%s.git", g.remoteBase, projectID)

	_, fs, err := g.clone(ctx, url)
	if err != nil {
		return nil, &domain.RemoteError{Op: "sourcecontrol.pull", Err: err}
	}
	var out []adapter.RepoFile
	if err := walkFiles(fs, "/", &out); err != nil {
		return nil, fmt.Errorf("sourcecontrol: reading tree: %w", err)
	}
	return out, nil
}

func initWithRemote(fs billy.Filesystem, url string) (*git.Repository, error) {
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return nil, err
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{url},
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func isEmptyRemote(err error) bool {
	return err != nil && strings.Contains(err.Error(), "remote repository is empty")
}

func clearWorktree(fs billy.Filesystem) error {
	entries, err := fs.ReadDir("/")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := removeAll(fs, path.Join("/", e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func removeAll(fs billy.Filesystem, p string) error {
	fi, err := fs.Lstat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		entries, err := fs.ReadDir(p)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := removeAll(fs, path.Join(p, e.Name())); err != nil {
				return err
			}
		}
	}
	return fs.Remove(p)
}

func writeFile(fs billy.Filesystem, p, content string) error {
	f, err := fs.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, content)
	return err
}

func walkFiles(fs billy.Filesystem, dir string, out *[]adapter.RepoFile) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		if e.IsDir() {
			if e.Name() == ".git" {
				continue
			}
			if err := walkFiles(fs, p, out); err != nil {
				return err
			}
			continue
		}
		f, err := fs.Open(p)
		if err != nil {
			return err
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return err
		}
		*out = append(*out, adapter.RepoFile{Path: strings.TrimPrefix(p, "/"), Content: string(b)})
	}
	return nil
}
