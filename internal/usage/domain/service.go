package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	// ErrStoreUnavailable wraps datastore failures so callers can fail closed.
	ErrStoreUnavailable = errors.New("usage_store_unavailable")
)

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type CreateContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Snapshot is the current consumption of an organization across all
// usage-counted dimensions. Storage is reported in whole megabytes.
type Snapshot struct {
	Users         int64 `json:"users"`
	Projects      int64 `json:"projects"`
	Contacts      int64 `json:"contacts"`
	StorageMB     int64 `json:"storage"`
	Organizations int64 `json:"organizations"`
}

type Service interface {
	// Snapshot computes current usage for the org in context. Values are
	// read live with no caching, so concurrent snapshots may differ.
	Snapshot(ctx context.Context) (Snapshot, error)
	CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error)
	CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error)
}

type Repository interface {
	CountMembers(ctx context.Context, orgID snowflake.ID) (int64, error)
	CountProjects(ctx context.Context, orgID snowflake.ID) (int64, error)
	CountContacts(ctx context.Context, orgID snowflake.ID) (int64, error)
	SumDocumentBytes(ctx context.Context, orgID snowflake.ID) (int64, error)
	InsertProject(ctx context.Context, project *Project) error
	InsertContact(ctx context.Context, contact *Contact) error
}
