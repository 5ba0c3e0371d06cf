package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

const (
	entitiesTable = "entities"
	linksTable    = "entity_links"
)

// FindEntity implements store.EntityStore. The oldest match wins when more
// than one entity carries the value.
func (s *Store) FindEntity(ctx context.Context, kind, field, value string) (*models.Entity, error) {
	sb := s.entities.SelectFrom(entitiesTable)
	sb.Where(
		sb.Equal("kind", kind),
		fmt.Sprintf("LOWER(TRIM(%s)) = LOWER(TRIM(%s))", s.jsonText("fields", field, sb), sb.Var(value)),
	)
	sb.OrderBy("created_at", "id").Limit(1)
	query, args := sb.Build()

	var row entityRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError(kind, value)
	}
	if err != nil {
		return nil, errors.WrapResource("find", entitiesTable, value, err)
	}
	return row.model()
}

// Entity implements store.EntityStore.
func (s *Store) Entity(ctx context.Context, id string) (*models.Entity, error) {
	return s.entity(ctx, s.db, id, false)
}

func (s *Store) entity(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.Entity, error) {
	sb := s.entities.SelectFrom(entitiesTable)
	sb.Where(sb.Equal("id", id))
	if forUpdate && s.driver == Postgres {
		sb.ForUpdate()
	}
	query, args := sb.Build()

	var row entityRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("entity", id)
	}
	if err != nil {
		return nil, errors.WrapResource("get", entitiesTable, id, err)
	}
	return row.model()
}

// InsertEntities implements store.EntityStore. The batch is one statement in
// one transaction; identifiers are assigned before the insert so the result
// is in input order.
func (s *Store) InsertEntities(ctx context.Context, entities []models.Entity) ([]models.Entity, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	now := s.now()
	out := make([]models.Entity, 0, len(entities))
	rows := make([]any, 0, len(entities))
	for _, e := range entities {
		c := e.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt, c.UpdatedAt = now, now
		row, err := newEntityRow(*c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &row)
		out = append(out, *c)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.WrapResource("insert", entitiesTable, "", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := s.entities.InsertInto(entitiesTable, rows...).Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert %d entities: %w", len(rows), errors.ErrAlreadyExists)
		}
		return nil, errors.WrapResource("insert", entitiesTable, "", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WrapResource("insert", entitiesTable, "", err)
	}
	return out, nil
}

// UpdateEntity implements store.EntityStore.
func (s *Store) UpdateEntity(ctx context.Context, id string, fields map[string]any, snapshot *models.SourceSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapResource("update", entitiesTable, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.entity(ctx, tx, id, true)
	if err != nil {
		return err
	}
	merged := current.Fields
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, fields)
	f, err := encode(merged)
	if err != nil {
		return errors.WrapResource("update", entitiesTable, id, err)
	}

	ub := s.flavor.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("fields", f),
		ub.Assign("updated_at", at(s.now())),
	}
	if snapshot != nil {
		sd, err := encode(current.SourceData.Apply(snapshot))
		if err != nil {
			return errors.WrapResource("update", entitiesTable, id, err)
		}
		assignments = append(assignments, ub.Assign("source_data", sd))
	}
	ub.Update(entitiesTable).Set(assignments...).Where(ub.Equal("id", id))
	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("update", entitiesTable, id, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapResource("update", entitiesTable, id, err)
	}
	return nil
}

// ReplaceEntityLink implements store.EntityStore.
func (s *Store) ReplaceEntityLink(ctx context.Context, link models.EntityLink) error {
	row := linkRow(link)
	ib := s.links.InsertInto(linksTable, &row)
	conflict(ib, []string{"entity_id", "role"}, "target_id")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("replace", linksTable, link.EntityID+"/"+link.Role, err)
	}
	return nil
}

// EntityLinks implements store.EntityStore.
func (s *Store) EntityLinks(ctx context.Context, entityID string) ([]models.EntityLink, error) {
	sb := s.links.SelectFrom(linksTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("role")
	query, args := sb.Build()

	var rows []linkRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", linksTable, entityID, err)
	}
	out := make([]models.EntityLink, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.EntityLink(r))
	}
	return out, nil
}
