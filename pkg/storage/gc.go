package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// GCOptions defines options for garbage collection.
type GCOptions struct {
	// DryRun reports what would be deleted without deleting it.
	DryRun bool

	// Retention overrides the backend's configured policy when non-nil.
	Retention *RetentionConfig
}

// GCResult contains the results of a garbage collection pass.
type GCResult struct {
	// AuditsDeleted is the number of runs deleted.
	AuditsDeleted int

	// DeletedAuditIDs lists the deleted run IDs.
	DeletedAuditIDs []string

	// Errors collects per-run deletion failures. GC continues past them.
	Errors []error
}

// GarbageCollect deletes runs violating the retention policy: runs older
// than MaxAgeDays, then the oldest runs past the MaxAudits cap. Running
// audits are never collected.
func (b *LocalBackend) GarbageCollect(ctx context.Context, opts GCOptions) (*GCResult, error) {
	retention := b.cfg.Retention
	if opts.Retention != nil {
		retention = *opts.Retention
	}
	if !retention.IsEnabled() {
		return &GCResult{}, nil
	}

	audits, err := b.store.List(ctx, AuditFilter{})
	if err != nil {
		return nil, fmt.Errorf("gc: failed to list audits: %w", err)
	}

	result := &GCResult{}
	doomed := make(map[string]struct{})

	if retention.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retention.MaxAgeDays)
		for _, a := range audits {
			if a.Status == StatusRunning.String() {
				continue
			}
			if a.StartedAt.Before(cutoff) {
				doomed[a.ID] = struct{}{}
			}
		}
	}

	if retention.MaxAudits > 0 {
		kept := make([]*AuditMetadata, 0, len(audits))
		for _, a := range audits {
			if _, gone := doomed[a.ID]; !gone {
				kept = append(kept, a)
			}
		}
		if excess := len(kept) - retention.MaxAudits; excess > 0 {
			// Oldest first.
			sort.Slice(kept, func(i, j int) bool {
				return kept[i].StartedAt.Before(kept[j].StartedAt)
			})
			for _, a := range kept {
				if excess == 0 {
					break
				}
				if a.Status == StatusRunning.String() {
					continue
				}
				doomed[a.ID] = struct{}{}
				excess--
			}
		}
	}

	for id := range doomed {
		if opts.DryRun {
			result.DeletedAuditIDs = append(result.DeletedAuditIDs, id)
			continue
		}
		if err := b.store.Delete(ctx, id); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		result.DeletedAuditIDs = append(result.DeletedAuditIDs, id)
	}
	sort.Strings(result.DeletedAuditIDs)
	if !opts.DryRun {
		result.AuditsDeleted = len(result.DeletedAuditIDs)
	}
	return result, nil
}
