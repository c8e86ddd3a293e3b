package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteSource is a Source backed by the local_records table. Field values
// are stored as a JSON object of value lists so arbitrary local schemas
// can be mirrored without per-type tables.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource creates a record source over an open database handle.
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

var _ Source = (*SQLiteSource)(nil)

// Load returns the record with the given local type and primary id.
func (s *SQLiteSource) Load(ctx context.Context, localType, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_type, id, bundle, lang, attrs
		FROM local_records
		WHERE record_type = ? AND id = ?
	`, localType, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load %s/%s: %w", localType, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", localType, id, err)
	}
	return rec, nil
}

// LoadByProperty returns all records of localType where any value of the
// named field equals value. Matching is loose (numeric/string), the same
// comparison the sync engine applies to resolved key values.
func (s *SQLiteSource) LoadByProperty(ctx context.Context, localType, field string, value any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_type, id, bundle, lang, attrs
		FROM local_records
		WHERE record_type = ?
		ORDER BY id
	`, localType)
	if err != nil {
		return nil, fmt.Errorf("load %s by %s: %w", localType, field, err)
	}
	defer rows.Close()

	var matched []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("load %s by %s: %w", localType, field, err)
		}
		for _, v := range rec.Values(field) {
			if ValueEquals(v, value) {
				matched = append(matched, rec)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s by %s: %w", localType, field, err)
	}
	return matched, nil
}

// Put inserts or replaces a record.
func (s *SQLiteSource) Put(ctx context.Context, rec *Record) error {
	attrs, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.Type, rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_records (record_type, id, bundle, lang, attrs)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_type, id) DO UPDATE SET
			bundle = excluded.bundle,
			lang = excluded.lang,
			attrs = excluded.attrs
	`, rec.Type, rec.ID, rec.Bundle, rec.Lang, string(attrs))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.Type, rec.ID, err)
	}
	return nil
}

// Delete removes a record. Missing records are not an error.
func (s *SQLiteSource) Delete(ctx context.Context, localType, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM local_records WHERE record_type = ? AND id = ?
	`, localType, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", localType, id, err)
	}
	return nil
}

func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var lang sql.NullString
	var attrs string

	if err := scanner.Scan(&rec.Type, &rec.ID, &rec.Bundle, &lang, &attrs); err != nil {
		return nil, err
	}

	rec.Lang = lang.String
	rec.Fields = map[string][]any{}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode attrs: %w", err)
		}
	}
	return &rec, nil
}
