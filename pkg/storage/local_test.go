package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	cfg := &Config{WorkspaceRoot: t.TempDir()}
	b, err := NewLocalBackend(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func metaAt(id string, started time.Time, status AuditStatus) *AuditMetadata {
	return &AuditMetadata{
		ID:        id,
		Domains:   []string{"corp.example.com"},
		Status:    status.String(),
		StartedAt: started,
	}
}

func TestLocalAuditStoreCRUD(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	store := b.Audits()

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, metaAt("run-1", started, StatusRunning)))

		got, err := store.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.ID)
		assert.Equal(t, "running", got.Status)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		err := store.Create(ctx, metaAt("run-1", started, StatusRunning))
		require.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("get missing run", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-run")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("partial update", func(t *testing.T) {
		status := StatusCompleted.String()
		counts := FindingCounts{Critical: 2, Low: 1}
		health := 75.0
		require.NoError(t, store.Update(ctx, "run-1", AuditUpdates{
			Status:        &status,
			FindingCount:  &counts,
			HealthPercent: &health,
		}))

		got, err := store.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "completed", got.Status)
		assert.Equal(t, 3, got.FindingCount.Total())
		assert.Equal(t, 75.0, got.HealthPercent)
		assert.Equal(t, started, got.StartedAt, "unlisted fields are untouched")
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "run-1"))
		_, err := store.Get(ctx, "run-1")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, store.Delete(ctx, "run-1"), ErrNotFound)
	})
}

func TestLocalAuditStoreListFilterAndSort(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	store := b.Audits()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := metaAt("old", base, StatusCompleted)
	mid := metaAt("mid", base.AddDate(0, 0, 5), StatusFailed)
	mid.Domains = []string{"emea.example.com"}
	newest := metaAt("new", base.AddDate(0, 0, 10), StatusCompleted)
	newest.FindingCount = FindingCounts{Critical: 3}
	for _, m := range []*AuditMetadata{old, mid, newest} {
		require.NoError(t, store.Create(ctx, m))
	}

	t.Run("default sort is newest first", func(t *testing.T) {
		audits, err := store.List(ctx, AuditFilter{})
		require.NoError(t, err)
		require.Len(t, audits, 3)
		assert.Equal(t, "new", audits[0].ID)
		assert.Equal(t, "old", audits[2].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		audits, err := store.List(ctx, AuditFilter{Status: "failed"})
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Equal(t, "mid", audits[0].ID)
	})

	t.Run("domain filter", func(t *testing.T) {
		audits, err := store.List(ctx, AuditFilter{Domain: "emea.example.com"})
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Equal(t, "mid", audits[0].ID)
	})

	t.Run("severity sort puts worst run first", func(t *testing.T) {
		audits, err := store.List(ctx, AuditFilter{SortBy: "severity"})
		require.NoError(t, err)
		assert.Equal(t, "new", audits[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		audits, err := store.List(ctx, AuditFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, audits, 2)
	})
}

func TestLocalAuditStoreDataFiles(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	store := b.Audits()
	require.NoError(t, store.Create(ctx, metaAt("run-1", time.Now().UTC(), StatusRunning)))

	t.Run("write and read back", func(t *testing.T) {
		payload := `{"target":{"host":"dc01"}}` + "\n"
		require.NoError(t, store.WriteData(ctx, "run-1", DataTypeRecords, strings.NewReader(payload)))

		rc, err := store.ReadData(ctx, "run-1", DataTypeRecords)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("append accumulates lines", func(t *testing.T) {
		require.NoError(t, store.AppendData(ctx, "run-1", DataTypeFindings, []byte("{\"severity\":\"high\"}\n")))
		require.NoError(t, store.AppendData(ctx, "run-1", DataTypeFindings, []byte("{\"severity\":\"low\"}\n")))

		rc, err := store.ReadData(ctx, "run-1", DataTypeFindings)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(string(data), "\n"))
	})

	t.Run("missing data file", func(t *testing.T) {
		_, err := store.ReadData(ctx, "run-1", DataTypeMetadata)
		require.NoError(t, err, "metadata always exists for a created run")

		_, err = store.ReadData(ctx, "no-such-run", DataTypeRecords)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid data type", func(t *testing.T) {
		require.Error(t, store.WriteData(ctx, "run-1", DataType("evil.txt"), strings.NewReader("")))
	})
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes runs past the age limit", func(t *testing.T) {
		b := newTestBackend(t)
		b.cfg.Retention = RetentionConfig{MaxAgeDays: 30}
		store := b.Audits()

		require.NoError(t, store.Create(ctx, metaAt("ancient", time.Now().UTC().AddDate(0, 0, -60), StatusCompleted)))
		require.NoError(t, store.Create(ctx, metaAt("recent", time.Now().UTC().AddDate(0, 0, -1), StatusCompleted)))

		res, err := b.GarbageCollect(ctx, GCOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.AuditsDeleted)
		assert.Equal(t, []string{"ancient"}, res.DeletedAuditIDs)

		_, err = store.Get(ctx, "recent")
		require.NoError(t, err)
	})

	t.Run("caps run count, oldest first, sparing running", func(t *testing.T) {
		b := newTestBackend(t)
		b.cfg.Retention = RetentionConfig{MaxAudits: 2}
		store := b.Audits()

		base := time.Now().UTC().AddDate(0, 0, -10)
		require.NoError(t, store.Create(ctx, metaAt("a-oldest", base, StatusRunning)))
		require.NoError(t, store.Create(ctx, metaAt("b-old", base.AddDate(0, 0, 1), StatusCompleted)))
		require.NoError(t, store.Create(ctx, metaAt("c-new", base.AddDate(0, 0, 2), StatusCompleted)))
		require.NoError(t, store.Create(ctx, metaAt("d-newest", base.AddDate(0, 0, 3), StatusCompleted)))

		res, err := b.GarbageCollect(ctx, GCOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, res.AuditsDeleted)
		assert.Equal(t, []string{"b-old", "c-new"}, res.DeletedAuditIDs)

		_, err = store.Get(ctx, "a-oldest")
		require.NoError(t, err, "running audits survive GC")
	})

	t.Run("dry run deletes nothing", func(t *testing.T) {
		b := newTestBackend(t)
		b.cfg.Retention = RetentionConfig{MaxAgeDays: 1}
		store := b.Audits()
		require.NoError(t, store.Create(ctx, metaAt("stale", time.Now().UTC().AddDate(0, 0, -5), StatusCompleted)))

		res, err := b.GarbageCollect(ctx, GCOptions{DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, 0, res.AuditsDeleted)
		assert.Equal(t, []string{"stale"}, res.DeletedAuditIDs)

		_, err = store.Get(ctx, "stale")
		require.NoError(t, err)
	})

	t.Run("disabled retention is a no-op", func(t *testing.T) {
		b := newTestBackend(t)
		store := b.Audits()
		require.NoError(t, store.Create(ctx, metaAt("any", time.Now().UTC().AddDate(-1, 0, 0), StatusCompleted)))

		res, err := b.GarbageCollect(ctx, GCOptions{})
		require.NoError(t, err)
		assert.Zero(t, res.AuditsDeleted)
	})
}
