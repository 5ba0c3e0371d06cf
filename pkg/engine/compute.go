package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/models"
)

// reasonDuplicateKey skips a row whose key already appeared earlier in the tab.
const reasonDuplicateKey = "Duplicate key value in source"

// compute turns every fetched row into exactly one EntityChange.
func (r *run) compute(ctx context.Context) error {
	r.changes = make([]models.EntityChange, 0, len(r.rows))
	for i, row := range r.rows {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		rowNum := i + 1
		r.processed++

		change, err := r.computeRow(ctx, rowNum, row)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(ctx.Err())
			}
			r.rowError(rowNum, err)
			continue
		}
		r.changes = append(r.changes, *change)
	}

	created, updated, skipped := Counts(r.changes)
	r.log.Info().Int("create", created).Int("update", updated).Int("skip", skipped).Msg("Changes computed")
	return nil
}

func (r *run) computeRow(ctx context.Context, rowNum int, row []string) (*models.EntityChange, error) {
	change := &models.EntityChange{
		Row:        rowNum,
		Kind:       r.tab.EntityKind,
		KeyField:   r.keyField.Name,
		KeyValue:   strings.TrimSpace(cell(row, r.keyIdx)),
		SourceData: r.snapshot(row),
	}
	if change.KeyValue == "" {
		change.Skip(models.ReasonEmptyKey)
		return change, nil
	}
	if first, dup := r.seen[fold(change.KeyValue)]; dup {
		r.warn(rowNum, r.keyMapping.SourceColumn, "key %q already appeared in row %d", change.KeyValue, first)
		change.Skip(reasonDuplicateKey)
		return change, nil
	}
	r.seen[fold(change.KeyValue)] = rowNum

	values, links, err := r.computeFields(ctx, rowNum, row)
	if err != nil {
		return nil, err
	}

	existing, err := r.e.store.FindEntity(ctx, r.tab.EntityKind, r.keyField.Name, change.KeyValue)
	switch {
	case err == nil:
		r.remember(change.KeyValue, existing.ID)
	case errors.IsNotFound(err):
		existing = nil
	default:
		return nil, fmt.Errorf("look up %s %q: %w", r.tab.EntityKind, change.KeyValue, err)
	}

	if existing == nil {
		values[r.keyField.Name] = change.KeyValue
		change.Type = models.ChangeCreate
		change.Fields = values
		change.Links = sortedLinks(links)
		return change, nil
	}

	change.Type = models.ChangeUpdate
	change.Existing = existing
	change.EntityID = existing.ID

	allowed, dropped := r.policy.Filter(models.ChangeUpdate, values, r.authorities)
	for field := range links {
		if !r.policy.Allows(r.authorities[field], models.ChangeUpdate) {
			delete(links, field)
			dropped = append(dropped, field)
		}
	}
	if len(dropped) > 0 {
		r.log.Debug().Int("row", rowNum).Strs("fields", dropped).Msg("Reference fields not written")
	}
	if len(allowed) == 0 && len(links) == 0 {
		change.Skip(models.ReasonNoAuthorized)
		return change, nil
	}

	for field, value := range allowed {
		if sameValue(existing.Fields[field], value) {
			delete(allowed, field)
		}
	}
	if len(links) > 0 {
		current, err := r.e.store.EntityLinks(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("load links of %s %q: %w", r.tab.EntityKind, change.KeyValue, err)
		}
		for field, link := range links {
			for _, c := range current {
				if c.Role == link.Role && c.TargetID == link.TargetID {
					delete(links, field)
					break
				}
			}
		}
	}
	if len(allowed) == 0 && len(links) == 0 {
		change.Skip(models.ReasonNoChanges)
		return change, nil
	}
	change.Fields = allowed
	change.Links = sortedLinks(links)
	return change, nil
}

// computeFields applies each writable column's transform to its cell. Empty
// cells are never written and cells a transform rejects become warnings.
func (r *run) computeFields(ctx context.Context, rowNum int, row []string) (map[string]any, map[string]models.EntityLink, error) {
	values := make(map[string]any, len(r.columns))
	links := make(map[string]models.EntityLink)
	for _, c := range r.columns {
		if c.index < 0 {
			continue
		}
		raw := cell(row, c.index)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		value, ok := c.transform.Apply(raw)
		if !ok {
			r.warn(rowNum, c.mapping.SourceColumn, "could not parse %q as %s", raw, transformName(c.mapping.TransformType))
			continue
		}
		if c.field.Type != fields.TypeReference || c.field.Reference == nil {
			values[c.field.Name] = value
			continue
		}

		ref := c.field.Reference
		targetID, err := r.resolve(ctx, ref, fmt.Sprint(value))
		if err != nil {
			return nil, nil, err
		}
		if targetID == "" {
			r.warn(rowNum, c.mapping.SourceColumn, "no %s with %s %q", ref.Entity, ref.MatchField, value)
			continue
		}
		if ref.Storage == fields.Junction {
			links[c.field.Name] = models.EntityLink{Role: ref.Role, TargetID: targetID}
			continue
		}
		values[c.field.Name] = targetID
	}
	return values, links, nil
}

// resolve finds the id of the entity a reference names. Results, including
// misses, are memoized for the run.
func (r *run) resolve(ctx context.Context, ref *fields.Reference, value string) (string, error) {
	k := ref.Entity + "\x00" + ref.MatchField + "\x00" + fold(value)
	if id, ok := r.refIDs[k]; ok {
		return id, nil
	}
	target, err := r.e.store.FindEntity(ctx, ref.Entity, ref.MatchField, strings.TrimSpace(value))
	switch {
	case err == nil:
		r.refIDs[k] = target.ID
		return target.ID, nil
	case errors.IsNotFound(err):
		r.refIDs[k] = ""
		return "", nil
	default:
		return "", fmt.Errorf("resolve %s %s %q: %w", ref.Entity, ref.MatchField, value, err)
	}
}

// remember caches the id of an entity of the run's kind by key.
func (r *run) remember(key, id string) {
	r.entityIDs[fold(key)] = id
}

func transformName(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

// sameValue compares a stored value with a computed one by their JSON form,
// so 1234.5 read back from a JSON column equals the float a transform made.
func sameValue(stored, computed any) bool {
	if stored == nil || computed == nil {
		return stored == nil && computed == nil
	}
	a, err := json.Marshal(stored)
	if err != nil {
		return false
	}
	b, err := json.Marshal(computed)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

func sortedLinks(links map[string]models.EntityLink) []models.EntityLink {
	if len(links) == 0 {
		return nil
	}
	out := make([]models.EntityLink, 0, len(links))
	for _, l := range links {
		out = append(out, l)
	}
	sortLinks(out)
	return out
}
