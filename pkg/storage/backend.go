// Package storage provides the persistence layer for audit runs.
//
// The Backend interface abstracts where run data lives; LocalBackend is the
// file-based implementation. Run data uses a metadata.json for fast listings
// plus JSONL files for per-target records and findings, so readers never
// parse bulk data just to render a run list.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when a run or data file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a run whose ID is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("backend is closed")
)

// NotFoundError carries what was looked up and missed. It matches ErrNotFound
// through errors.Is.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError builds a NotFoundError for the named resource.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Resource, e.ID)
}

// Is reports ErrNotFound equivalence for errors.Is.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Backend is the storage abstraction.
//
// Thread-safety: all methods must be safe for concurrent use.
type Backend interface {
	// Initialize prepares the backend, creating the workspace layout.
	Initialize(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error

	// Audits returns the audit run store.
	Audits() AuditStore

	// GarbageCollect removes runs violating the retention policy.
	GarbageCollect(ctx context.Context, opts GCOptions) (*GCResult, error)
}

// AuditStore manages run metadata and data files.
//
// Thread-safety: all methods must be safe for concurrent use.
type AuditStore interface {
	// List returns runs matching the filter, sorted per the filter.
	List(ctx context.Context, filter AuditFilter) ([]*AuditMetadata, error)

	// Get retrieves one run's metadata. Returns ErrNotFound when absent.
	Get(ctx context.Context, auditID string) (*AuditMetadata, error)

	// Create writes metadata for a new run. Returns ErrAlreadyExists when
	// the ID is taken.
	Create(ctx context.Context, meta *AuditMetadata) error

	// Update applies the non-nil fields of updates to an existing run.
	Update(ctx context.Context, auditID string, updates AuditUpdates) error

	// Delete removes a run and all its data files.
	Delete(ctx context.Context, auditID string) error

	// ReadData opens one of the run's data files for reading. The caller
	// closes the returned reader.
	ReadData(ctx context.Context, auditID string, dataType DataType) (io.ReadCloser, error)

	// WriteData replaces one of the run's data files.
	WriteData(ctx context.Context, auditID string, dataType DataType, data io.Reader) error

	// AppendData appends complete JSONL lines to a data file. Safe for
	// concurrent appenders.
	AppendData(ctx context.Context, auditID string, dataType DataType, data []byte) error
}

// Config holds backend configuration.
type Config struct {
	// WorkspaceRoot is the directory all run data lives under.
	WorkspaceRoot string

	// Retention is the garbage collection policy.
	Retention RetentionConfig
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root cannot be empty")
	}
	return c.Retention.Validate()
}

// RetentionConfig bounds how much run history is kept.
type RetentionConfig struct {
	// MaxAgeDays deletes runs older than this many days (0 = unlimited).
	MaxAgeDays int `koanf:"max_age_days"`

	// MaxAudits caps the number of retained runs, oldest deleted first
	// (0 = unlimited).
	MaxAudits int `koanf:"max_audits"`
}

// IsEnabled reports whether any retention limit is set.
func (r RetentionConfig) IsEnabled() bool {
	return r.MaxAgeDays > 0 || r.MaxAudits > 0
}

// Validate checks the retention policy.
func (r RetentionConfig) Validate() error {
	if r.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days cannot be negative")
	}
	if r.MaxAudits < 0 {
		return fmt.Errorf("max_audits cannot be negative")
	}
	return nil
}

// Factory builds a Backend from configuration.
type Factory func(ctx context.Context, cfg *Config) (Backend, error)

// DefaultFactory is the backend used when nothing else is configured.
var DefaultFactory Factory = func(ctx context.Context, cfg *Config) (Backend, error) {
	return NewLocalBackend(ctx, cfg)
}
