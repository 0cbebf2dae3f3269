package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Repository defines the persistence surface of the registry store.
// This abstraction allows different backends (SQLite for durable history,
// in-memory for tests and ephemeral deployments) behind one contract.
//
// Implementations must be safe for concurrent use. Same-identity write
// serialization is the Store's job, not the Repository's.
type Repository interface {
	// GetByIdentity retrieves a record by identity.
	// Returns ErrRecordNotFound if the identity does not exist.
	GetByIdentity(ctx context.Context, identity string) (*Record, error)

	// Fetch retrieves records matching the filter, sorted, capped at
	// limit. A zero filter matches everything; limit <= 0 means no cap.
	Fetch(ctx context.Context, f Filter, order SortOrder, limit int) ([]Record, error)

	// Save inserts or replaces the record for rec.Identity. The caller
	// (the Store) has already applied the name-preservation policy and
	// the transport-immutability rule.
	Save(ctx context.Context, rec *Record) error

	// Delete removes a record by identity. Deleting an absent identity
	// is not an error.
	Delete(ctx context.Context, identity string) error

	// DeleteWhere removes all records matching the filter and returns
	// the identities that were removed, so callers can invalidate
	// derived state.
	DeleteWhere(ctx context.Context, f Filter) ([]string, error)
}

// SQLiteRepository implements Repository using SQLite. It is the durable
// backend: the single source of truth for device history.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the records
// table migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = "identity, name, transport, last_seen, rssi, address, attributes, first_seen"

// timeLayout is the storage format for timestamp columns. The fraction is
// zero-padded to a fixed nine digits so that lexicographic TEXT comparison
// in SQL (range predicates on last_seen, the last_seen index) matches
// chronological order. RFC3339Nano would trim trailing zeros, and a
// shortened fraction sorts before the "Z" of a whole-second value.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// GetByIdentity retrieves a record by identity.
func (r *SQLiteRepository) GetByIdentity(ctx context.Context, identity string) (*Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE identity = ?"

	row := r.db.QueryRowContext(ctx, query, identity)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying record by identity: %w", err)
	}
	return rec, nil
}

// Fetch retrieves records matching the filter, sorted and capped.
func (r *SQLiteRepository) Fetch(ctx context.Context, f Filter, order SortOrder, limit int) ([]Record, error) {
	where, args := f.whereClause()
	query := "SELECT " + recordColumns + " FROM records" + where + order.orderClause()
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Save inserts or replaces a record.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	if rec.Identity == "" {
		return ErrEmptyIdentity
	}

	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}
	if rec.Attributes == nil {
		attrsJSON = []byte("{}")
	}

	query := `
		INSERT INTO records (identity, name, transport, last_seen, rssi, address, attributes, first_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen,
			rssi = excluded.rssi,
			address = excluded.address,
			attributes = excluded.attributes`

	_, err = r.db.ExecContext(ctx, query,
		rec.Identity,
		nullableString(rec.Name),
		int(rec.Transport),
		rec.LastSeen.UTC().Format(timeLayout),
		rec.RSSI,
		nullableString(rec.Address),
		string(attrsJSON),
		rec.FirstSeen.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

// Delete removes a record by identity. Idempotent.
func (r *SQLiteRepository) Delete(ctx context.Context, identity string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM records WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// DeleteWhere removes all records matching the filter in one statement and
// returns the removed identities.
func (r *SQLiteRepository) DeleteWhere(ctx context.Context, f Filter) ([]string, error) {
	where, args := f.whereClause()

	rows, err := r.db.QueryContext(ctx, "DELETE FROM records"+where+" RETURNING identity", args...)
	if err != nil {
		return nil, fmt.Errorf("deleting records: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scanning deleted identity: %w", err)
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deleted identities: %w", err)
	}
	return identities, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var name, address sql.NullString
	var transport int
	var lastSeen, firstSeen, attrsJSON string

	err := scanner.Scan(
		&rec.Identity,
		&name,
		&transport,
		&lastSeen,
		&rec.RSSI,
		&address,
		&attrsJSON,
		&firstSeen,
	)
	if err != nil {
		return nil, err
	}

	rec.Transport = Transport(transport)
	if name.Valid {
		rec.Name = &name.String
	}
	if address.Valid {
		rec.Address = &address.String
	}

	rec.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	rec.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}

	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
	}

	return &rec, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
