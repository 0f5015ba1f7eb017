package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateSeeder is returned when the identifier is already registered
	ErrDuplicateSeeder = errors.New("seeder already registered")
	// ErrSeederNotFound is returned when removing an unknown seeder
	ErrSeederNotFound = errors.New("seeder not found")
	// ErrInvalidRegion is returned when a seeder has no region tag
	ErrInvalidRegion = errors.New("seeder region is required")
)

// AddSeeder registers a new seeder account
func (s *Storage) AddSeeder(ctx context.Context, identifier, region, label, addedBy string) (*Seeder, error) {
	id, err := account.Normalize(identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, identifier)
	}
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, ErrInvalidRegion
	}

	seeder := &Seeder{
		Identifier: id,
		Region:     region,
		Label:      strings.TrimSpace(label),
		AddedBy:    strings.TrimSpace(addedBy),
		CreatedAt:  time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seeders (identifier, region, label, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, seeder.Identifier, seeder.Region, seeder.Label, seeder.AddedBy, seeder.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSeeder, id)
		}
		return nil, fmt.Errorf("failed to insert seeder: %w", err)
	}

	return seeder, nil
}

// RemoveSeeder deletes a seeder. Past builds are unaffected.
func (s *Storage) RemoveSeeder(ctx context.Context, identifier string) error {
	id, err := account.Normalize(identifier)
	if err != nil {
		return fmt.Errorf("%w: %q", err, identifier)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM seeders WHERE identifier = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete seeder: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSeederNotFound, id)
	}
	return nil
}

// ListSeeders returns every registered seeder, oldest first
func (s *Storage) ListSeeders(ctx context.Context) ([]Seeder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, region, label, added_by, created_at
		FROM seeders
		ORDER BY created_at ASC, identifier ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeders: %w", err)
	}
	defer rows.Close()

	seeders := make([]Seeder, 0)
	for rows.Next() {
		var seeder Seeder
		if err := rows.Scan(&seeder.Identifier, &seeder.Region, &seeder.Label, &seeder.AddedBy, &seeder.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan seeder: %w", err)
		}
		seeders = append(seeders, seeder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seeders: %w", err)
	}

	return seeders, nil
}

// GetSeeder retrieves a seeder by identifier, returns nil if not found
func (s *Storage) GetSeeder(ctx context.Context, identifier string) (*Seeder, error) {
	id, err := account.Normalize(identifier)
	if err != nil {
		return nil, nil
	}

	var seeder Seeder
	err = s.db.QueryRowContext(ctx, `
		SELECT identifier, region, label, added_by, created_at
		FROM seeders
		WHERE identifier = ?
	`, id).Scan(&seeder.Identifier, &seeder.Region, &seeder.Label, &seeder.AddedBy, &seeder.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get seeder: %w", err)
	}

	return &seeder, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
