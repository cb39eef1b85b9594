package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LocalBackend implements Backend using file-based storage.
//
// Storage layout:
//
//	{workspace}/
//	  audits/
//	    {audit-id}/
//	      metadata.json
//	      records.jsonl
//	      findings.jsonl
//	  progress/
//	  logs/
//
// Metadata files are guarded by sibling .lock files so a detached worker and
// a serving process can share the workspace.
type LocalBackend struct {
	cfg    *Config
	store  *LocalAuditStore
	mu     sync.RWMutex
	closed bool
}

// NewLocalBackend creates a file-based backend rooted at the configured
// workspace.
func NewLocalBackend(ctx context.Context, cfg *Config) (*LocalBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &LocalBackend{
		cfg:   cfg,
		store: &LocalAuditStore{root: filepath.Join(cfg.WorkspaceRoot, "audits")},
	}, nil
}

// Initialize creates the workspace directory structure.
func (b *LocalBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	dirs := []string{
		filepath.Join(b.cfg.WorkspaceRoot, "audits"),
		filepath.Join(b.cfg.WorkspaceRoot, "progress"),
		filepath.Join(b.cfg.WorkspaceRoot, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Close releases resources held by the backend.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Audits returns the audit run store.
func (b *LocalBackend) Audits() AuditStore { return b.store }

// LocalAuditStore implements AuditStore on the filesystem.
type LocalAuditStore struct {
	root string
}

func (s *LocalAuditStore) auditDir(auditID string) string {
	return filepath.Join(s.root, auditID)
}

func (s *LocalAuditStore) metadataPath(auditID string) string {
	return filepath.Join(s.root, auditID, DataTypeMetadata.String())
}

// List returns runs matching the filter.
func (s *LocalAuditStore) List(ctx context.Context, filter AuditFilter) ([]*AuditMetadata, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return []*AuditMetadata{}, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	audits := make([]*AuditMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Get(ctx, entry.Name())
		if err != nil {
			// Skip runs with unreadable metadata.
			continue
		}
		if matchesFilter(meta, filter) {
			audits = append(audits, meta)
		}
	}

	sortAudits(audits, filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 && filter.Limit < len(audits) {
		audits = audits[:filter.Limit]
	}
	return audits, nil
}

func matchesFilter(meta *AuditMetadata, filter AuditFilter) bool {
	if filter.Status != "" && meta.Status != filter.Status {
		return false
	}
	if filter.Domain != "" && !slices.Contains(meta.Domains, filter.Domain) {
		return false
	}
	return true
}

func sortAudits(audits []*AuditMetadata, sortBy, order string) {
	less := func(i, j int) bool {
		return audits[i].StartedAt.After(audits[j].StartedAt)
	}
	if sortBy == "severity" {
		less = func(i, j int) bool {
			ci, cj := audits[i].FindingCount, audits[j].FindingCount
			if ci.Critical != cj.Critical {
				return ci.Critical > cj.Critical
			}
			return ci.Total() > cj.Total()
		}
	}
	sort.SliceStable(audits, less)
	if order == "asc" {
		slices.Reverse(audits)
	}
}

// Get retrieves one run's metadata.
func (s *LocalAuditStore) Get(ctx context.Context, auditID string) (*AuditMetadata, error) {
	path := s.metadataPath(auditID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewNotFoundError("audit", auditID)
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to acquire read lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta AuditMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// Create writes metadata for a new run.
func (s *LocalAuditStore) Create(ctx context.Context, meta *AuditMetadata) error {
	if meta.ID == "" {
		return fmt.Errorf("audit ID cannot be empty")
	}
	dir := s.auditDir(meta.ID)
	if _, err := os.Stat(s.metadataPath(meta.ID)); err == nil {
		return fmt.Errorf("audit %s: %w", meta.ID, ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	now := time.Now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	return s.writeMetadata(meta)
}

// Update applies the non-nil fields of updates.
func (s *LocalAuditStore) Update(ctx context.Context, auditID string, updates AuditUpdates) error {
	meta, err := s.Get(ctx, auditID)
	if err != nil {
		return err
	}

	if updates.Status != nil {
		meta.Status = *updates.Status
	}
	if updates.CompletedAt != nil {
		meta.CompletedAt = *updates.CompletedAt
	}
	if updates.Duration != nil {
		meta.Duration = *updates.Duration
	}
	if updates.TargetCount != nil {
		meta.TargetCount = *updates.TargetCount
	}
	if updates.UnreachableCount != nil {
		meta.UnreachableCount = *updates.UnreachableCount
	}
	if updates.FindingCount != nil {
		meta.FindingCount = *updates.FindingCount
	}
	if updates.HealthPercent != nil {
		meta.HealthPercent = *updates.HealthPercent
	}
	if updates.ErrorMessage != nil {
		meta.ErrorMessage = *updates.ErrorMessage
	}
	meta.UpdatedAt = time.Now().UTC()
	return s.writeMetadata(meta)
}

func (s *LocalAuditStore) writeMetadata(meta *AuditMetadata) error {
	path := s.metadataPath(meta.ID)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}

// Delete removes a run and all its data files.
func (s *LocalAuditStore) Delete(ctx context.Context, auditID string) error {
	dir := s.auditDir(auditID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewNotFoundError("audit", auditID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete audit %s: %w", auditID, err)
	}
	return nil
}

// ReadData opens one of the run's data files.
func (s *LocalAuditStore) ReadData(ctx context.Context, auditID string, dataType DataType) (io.ReadCloser, error) {
	if !dataType.IsValid() {
		return nil, fmt.Errorf("invalid data type: %s", dataType)
	}
	path := filepath.Join(s.auditDir(auditID), dataType.String())
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, NewNotFoundError("data file", string(dataType))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	return f, nil
}

// WriteData replaces one of the run's data files.
func (s *LocalAuditStore) WriteData(ctx context.Context, auditID string, dataType DataType, data io.Reader) error {
	if !dataType.IsValid() {
		return fmt.Errorf("invalid data type: %s", dataType)
	}
	dir := s.auditDir(auditID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(dir, dataType.String())
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close data file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// AppendData appends JSONL lines to a data file.
func (s *LocalAuditStore) AppendData(ctx context.Context, auditID string, dataType DataType, data []byte) error {
	if !dataType.IsValid() {
		return fmt.Errorf("invalid data type: %s", dataType)
	}
	dir := s.auditDir(auditID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(dir, dataType.String())
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire append lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append data: %w", err)
	}
	return nil
}
