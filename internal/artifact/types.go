// Package artifact assigns versions to generated content and maps each version
// to a canonical storage path. Artifacts are append-only: a new generation is a
// new version, never an update.
package artifact

import (
	"strconv"

	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// Status of an artifact version.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusGenerated Status = "generated"
	StatusFinal     Status = "final"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusGenerated, StatusFinal:
		return true
	}
	return false
}

// Artifact is one stored version.
type Artifact struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	TemplateCode catalog.Code `json:"template_code"`
	Episode      *int         `json:"episode,omitempty"`
	Version      int          `json:"version"`
	Status       Status       `json:"status"`
	StoragePath  string       `json:"storage_path"`
	ContentType  string       `json:"content_type"`
	CreatedBy    string       `json:"created_by,omitempty"`
	CreatedAt    int64        `json:"created_at"`
	UpdatedAt    int64        `json:"updated_at"`
}

// Key identifies a version sequence. A nil Episode matches only global rows.
type Key struct {
	ProjectID    string
	TemplateCode catalog.Code
	Episode      *int
}

// String renders k as project/template/episode, with "-" for global keys.
func (k Key) String() string {
	episode := "-"
	if k.Episode != nil {
		episode = strconv.Itoa(*k.Episode)
	}
	return k.ProjectID + "/" + string(k.TemplateCode) + "/" + episode
}

// SaveInput is a request to store a new version.
type SaveInput struct {
	ProjectID    string
	TemplateCode catalog.Code
	Episode      *int
	Data         []byte
	ContentType  string
	CreatedBy    string
	Status       Status
}

// Key returns the version sequence the input belongs to.
func (in SaveInput) Key() Key {
	return Key{ProjectID: in.ProjectID, TemplateCode: in.TemplateCode, Episode: in.Episode}
}

func (in *SaveInput) normalize() error {
	if in.ProjectID == "" {
		return serrors.Invalid("project_id", "must not be empty")
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}
	if !in.Status.Valid() {
		return serrors.Invalid("status", "must be one of draft, generated, final")
	}
	if in.ContentType == "" {
		in.ContentType = DefaultContentType
	}
	return nil
}

// ListFilter narrows a project listing.
type ListFilter struct {
	TemplateCode catalog.Code
	Episode      *int
	Limit        int
	Offset       int
}

// Presence is one (template, episode) pair with at least one version.
type Presence struct {
	TemplateCode catalog.Code
	Episode      *int
}
