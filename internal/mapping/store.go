package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested field mapping does not exist.
var ErrNotFound = errors.New("field mapping not found")

// Store reads field mappings from the splio_fields table. Reads go
// through a per-entity snapshot cache: a sync cycle sees one consistent
// view of the catalog, and admin edits take effect on the next cycle
// after Invalidate.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[EntityType][]Field
}

// NewStore creates a mapping store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		cache: make(map[EntityType][]Field),
	}
}

// FieldsFor returns all mappings for an entity type, default fields
// first in catalog order, then custom fields. Rows with unparseable
// local paths are logged and returned with a nil Ref so resolution
// degrades to an empty value instead of aborting a batch.
func (s *Store) FieldsFor(ctx context.Context, entity EntityType) ([]Field, error) {
	s.mu.RLock()
	if fields, ok := s.cache[entity]; ok {
		s.mu.RUnlock()
		return fields, nil
	}
	s.mu.RUnlock()

	fields, err := s.loadFields(ctx, entity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[entity] = fields
	s.mu.Unlock()

	return fields, nil
}

// Field returns the mapping of one remote field of an entity type.
func (s *Store) Field(ctx context.Context, entity EntityType, splioField string) (*Field, error) {
	fields, err := s.FieldsFor(ctx, entity)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].SplioField == splioField {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("%s.%s: %w", entity, splioField, ErrNotFound)
}

// KeyFieldFor returns the mapping flagged as the entity's key field.
func (s *Store) KeyFieldFor(ctx context.Context, entity EntityType) (*Field, error) {
	fields, err := s.FieldsFor(ctx, entity)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].IsKey {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("key field for %s: %w", entity, ErrNotFound)
}

// Invalidate drops the snapshot cache. The next read reloads from the
// database.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[EntityType][]Field)
	s.mu.Unlock()
}

// Save inserts or replaces a mapping row and invalidates the cache.
func (s *Store) Save(ctx context.Context, f Field) error {
	if err := f.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO splio_fields (id, splio_entity, splio_field, local_field, field_type, is_key, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			splio_entity = excluded.splio_entity,
			splio_field = excluded.splio_field,
			local_field = excluded.local_field,
			field_type = excluded.field_type,
			is_key = excluded.is_key,
			is_default = excluded.is_default
	`, f.ID, string(f.Entity), f.SplioField, f.LocalField, string(f.Type), boolInt(f.IsKey), boolInt(f.IsDefault))
	if err != nil {
		return fmt.Errorf("save field mapping %s: %w", f.ID, err)
	}

	s.Invalidate()
	return nil
}

// DeleteFor removes all mappings of an entity type (the admin unmapped
// the owning local type) and invalidates the cache.
func (s *Store) DeleteFor(ctx context.Context, entity EntityType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM splio_fields WHERE splio_entity = ?`, string(entity))
	if err != nil {
		return fmt.Errorf("delete field mappings for %s: %w", entity, err)
	}
	s.Invalidate()
	return nil
}

func (s *Store) loadFields(ctx context.Context, entity EntityType) ([]Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, splio_entity, splio_field, local_field, field_type, is_key, is_default
		FROM splio_fields
		WHERE splio_entity = ?
		ORDER BY is_default DESC, id
	`, string(entity))
	if err != nil {
		return nil, fmt.Errorf("load field mappings for %s: %w", entity, err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var f Field
		var entityName, fieldType string
		var isKey, isDefault int
		if err := rows.Scan(&f.ID, &entityName, &f.SplioField, &f.LocalField, &fieldType, &isKey, &isDefault); err != nil {
			return nil, fmt.Errorf("load field mappings for %s: %w", entity, err)
		}
		f.Entity = EntityType(entityName)
		f.Type = ValueType(fieldType)
		f.IsKey = isKey != 0
		f.IsDefault = isDefault != 0

		ref, err := ParseFieldRef(f.LocalField)
		if err != nil {
			slog.Error("unparseable local field path in mapping",
				"component", "mapping",
				"mapping_id", f.ID,
				"local_field", f.LocalField,
				"error", err,
			)
		}
		f.Ref = ref

		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load field mappings for %s: %w", entity, err)
	}

	// Default fields come back ordered by id; reorder them to catalog
	// order so payloads render the way the remote schema documents them.
	return orderFields(entity, fields), nil
}

func orderFields(entity EntityType, fields []Field) []Field {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.IsDefault {
			byName[f.SplioField] = i
		}
	}

	ordered := make([]Field, 0, len(fields))
	for _, name := range DefaultFields[entity] {
		if i, ok := byName[name]; ok {
			ordered = append(ordered, fields[i])
		}
	}
	for _, f := range fields {
		if !f.IsDefault {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
