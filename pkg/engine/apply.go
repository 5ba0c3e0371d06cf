package engine

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/agentstation/fieldsync/pkg/models"
)

// apply persists the computed changes. Creates go to the store in batches;
// a failed batch downgrades every change in it to a skip. Updates are
// written one at a time and skips on existing entities refresh the raw
// snapshot when it changed.
func (r *run) apply(ctx context.Context) error {
	var creates []int
	for i := range r.changes {
		if r.changes[i].Type == models.ChangeCreate {
			creates = append(creates, i)
		}
	}
	for start := 0; start < len(creates); start += r.e.batchSize {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		end := min(start+r.e.batchSize, len(creates))
		r.createBatch(ctx, creates[start:end])
	}

	for i := range r.changes {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		c := &r.changes[i]
		switch {
		case c.Type == models.ChangeUpdate:
			r.update(ctx, c)
		case c.Type == models.ChangeSkip && c.Existing != nil:
			r.refresh(ctx, c)
		}
	}

	created, updated, skipped := Counts(r.changes)
	r.log.Info().Int("created", created).Int("updated", updated).Int("skipped", skipped).Msg("Changes applied")
	return nil
}

func (r *run) createBatch(ctx context.Context, idx []int) {
	batch := make([]models.Entity, 0, len(idx))
	keys := make([]string, 0, len(idx))
	for _, i := range idx {
		c := &r.changes[i]
		batch = append(batch, models.Entity{
			Kind:       c.Kind,
			Key:        c.KeyValue,
			Fields:     c.Fields,
			SourceData: models.SourceData(nil).Merge(r.source.Kind, r.tab.TabName, c.SourceData),
		})
		keys = append(keys, c.KeyValue)
	}

	release, err := r.lock(ctx, keys...)
	if err != nil {
		r.failBatch(idx, err)
		return
	}
	defer release()

	inserted, err := r.e.store.InsertEntities(ctx, batch)
	if err == nil && len(inserted) != len(batch) {
		err = fmt.Errorf("store returned %d entities for a batch of %d", len(inserted), len(batch))
	}
	if err != nil {
		r.failBatch(idx, err)
		return
	}

	for n, i := range idx {
		c := &r.changes[i]
		c.EntityID = inserted[n].ID
		r.remember(c.KeyValue, c.EntityID)
		r.writeLinks(ctx, c)
	}
	r.log.Debug().Int("entities", len(batch)).Msg("Batch inserted")
}

func (r *run) failBatch(idx []int, err error) {
	r.log.Warn().Err(err).Int("entities", len(idx)).Msg("Batch insert failed")
	for _, i := range idx {
		c := &r.changes[i]
		c.Skip(err.Error())
		r.rowError(c.Row, fmt.Errorf("create %s %q: %w", c.Kind, c.KeyValue, err))
	}
}

func (r *run) update(ctx context.Context, c *models.EntityChange) {
	err := r.locked(ctx, c.KeyValue, func() error {
		return r.e.store.UpdateEntity(ctx, c.EntityID, c.Fields, r.sourceSnapshot(c))
	})
	if err != nil {
		c.Skip(err.Error())
		r.rowError(c.Row, fmt.Errorf("update %s %q: %w", c.Kind, c.KeyValue, err))
		return
	}
	r.writeLinks(ctx, c)
}

// refresh rewrites only the raw snapshot of an entity whose fields did not
// change.
func (r *run) refresh(ctx context.Context, c *models.EntityChange) {
	if maps.Equal(c.Existing.SourceData.Snapshot(r.source.Kind, r.tab.TabName), c.SourceData) {
		return
	}
	err := r.locked(ctx, c.KeyValue, func() error {
		return r.e.store.UpdateEntity(ctx, c.EntityID, nil, r.sourceSnapshot(c))
	})
	if err != nil {
		r.warn(c.Row, "", "source snapshot not refreshed: %v", err)
	}
}

// sourceSnapshot is the change's raw row under this run's (connector kind, tab).
// The store merges it into the stored source data, not into c.Existing.
func (r *run) sourceSnapshot(c *models.EntityChange) *models.SourceSnapshot {
	return &models.SourceSnapshot{Kind: r.source.Kind, Tab: r.tab.TabName, Row: c.SourceData}
}

func (r *run) writeLinks(ctx context.Context, c *models.EntityChange) {
	for i := range c.Links {
		c.Links[i].EntityID = c.EntityID
		if err := r.e.store.ReplaceEntityLink(ctx, c.Links[i]); err != nil {
			r.warn(c.Row, c.Links[i].Role, "link not written: %v", err)
		}
	}
}

// lock takes the advisory locks for keys in sorted order. The returned
// release frees every lock taken.
func (r *run) lock(ctx context.Context, keys ...string) (func(), error) {
	if r.e.locker == nil {
		return func() {}, nil
	}
	lockKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		lockKeys = append(lockKeys, LockKey(r.tab.EntityKind, k))
	}
	slices.Sort(lockKeys)
	lockKeys = slices.Compact(lockKeys)

	var held []Release
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](context.WithoutCancel(ctx)); err != nil {
				r.log.Warn().Err(err).Msg("Failed to release entity lock")
			}
		}
	}
	for _, k := range lockKeys {
		release, err := r.e.locker.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, release)
	}
	return releaseAll, nil
}

func (r *run) locked(ctx context.Context, key string, fn func() error) error {
	release, err := r.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func sortLinks(links []models.EntityLink) {
	slices.SortFunc(links, func(a, b models.EntityLink) int {
		return cmp.Compare(a.Role, b.Role)
	})
}
