package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ProjectFile is one generated file of a project. Path is unique per project
// and files are upserted by path, which keeps re-delivery of a build job
// idempotent.
type ProjectFile struct {
	ProjectID string
	Path      string
	Content   string
	Language  string
	Checksum  string
	Size      int
	UpdatedAt time.Time
}

// NewProjectFile fills in the derived checksum and size fields.
func NewProjectFile(projectID, path, content, language string) ProjectFile {
	return ProjectFile{
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		Language:  language,
		Checksum:  ChecksumOf(content),
		Size:      len(content),
	}
}

// ChecksumOf is the canonical content hash for project files.
func ChecksumOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FileRef is a path+checksum pair inside a version snapshot.
type FileRef struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// VersionSnapshot is an append-only audit record of the file set after a
// successful build or iteration. It is not a restorable tree.
type VersionSnapshot struct {
	ID            string
	ProjectID     string
	VersionNumber int
	Files         []FileRef
	PromptSummary string
	CreatedAt     time.Time
}
