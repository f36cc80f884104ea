package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateName is returned by Create when a tenant with the same name
// already exists.
var ErrDuplicateName = errors.New("tenant: duplicate name")

// ErrNotFound is returned when a tenant cannot be located.
var ErrNotFound = errors.New("tenant: not found")

const tenantColumns = `id, name, created_at`

// Store provides relational operations for tenants.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a tenant Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, err
}

// Create inserts a new tenant, returning ErrDuplicateName if the name
// is already taken.
func (s *Store) Create(ctx context.Context, name string) (Tenant, error) {
	query := `INSERT INTO tenants (name) VALUES ($1) RETURNING ` + tenantColumns

	t, err := scanTenant(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tenant{}, ErrDuplicateName
		}
		return Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// Get returns a tenant by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// Exists reports whether a tenant with the given id exists.
func (s *Store) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)`

	var ok bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking tenant existence: %w", err)
	}
	return ok, nil
}

// List returns all tenants ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var items []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}
	return items, nil
}
