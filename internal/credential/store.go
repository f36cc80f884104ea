package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a credential cannot be located by id or hash.
var ErrNotFound = errors.New("credential: not found")

// ErrHashCollision is returned by Create when the generated fingerprint
// already exists. Callers should retry with a freshly generated plaintext.
var ErrHashCollision = errors.New("credential: hash collision")

const columns = `id, tenant_id, key_hash, key_prefix, rate_limit, rate_window, revoked_at, created_at`

// Store provides relational operations for credentials (api_keys rows).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a credential Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scan(row pgx.Row) (Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.TenantID, &c.KeyHash, &c.KeyPrefix, &c.RateLimit, &c.RateWindow, &c.RevokedAt, &c.CreatedAt)
	return c, err
}

// CreateParams holds the parameters for minting a new credential. RateLimit
// and RateWindow default to the process-wide free tier when zero.
type CreateParams struct {
	TenantID   uuid.UUID
	KeyHash    string
	KeyPrefix  string
	RateLimit  int
	RateWindow int
}

// Create inserts a new credential row, returning ErrHashCollision if the
// fingerprint is already taken (the caller should mint a fresh plaintext and
// retry, per spec.md §4.1).
func (s *Store) Create(ctx context.Context, p CreateParams) (Credential, error) {
	if p.RateLimit == 0 {
		p.RateLimit = Tiers["free"].RateLimit
	}
	if p.RateWindow == 0 {
		p.RateWindow = Tiers["free"].RateWindow
	}

	query := `INSERT INTO api_keys (tenant_id, key_hash, key_prefix, rate_limit, rate_window)
		VALUES ($1, $2, $3, $4, $5) RETURNING ` + columns

	c, err := scan(s.pool.QueryRow(ctx, query, p.TenantID, p.KeyHash, p.KeyPrefix, p.RateLimit, p.RateWindow))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Credential{}, ErrHashCollision
		}
		return Credential{}, fmt.Errorf("creating credential: %w", err)
	}
	return c, nil
}

// GetByHash looks up a credential by its fingerprint. This is the hot path
// used by the resolver on every authenticated request.
func (s *Store) GetByHash(ctx context.Context, hash string) (Credential, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE key_hash = $1`

	c, err := scan(s.pool.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("looking up credential by hash: %w", err)
	}
	return c, nil
}

// Get returns a credential by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Credential, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE id = $1`

	c, err := scan(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("getting credential: %w", err)
	}
	return c, nil
}

// ListByTenant returns all credentials belonging to a tenant, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Credential, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var items []Credential
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	return items, nil
}

// ListActiveWithLimits returns every non-revoked credential for a tenant
// that carries a positive rate_limit and rate_window, for the near-quota
// abuse check (C8/C7 "near-quota").
func (s *Store) ListActiveWithLimits(ctx context.Context, tenantID uuid.UUID) ([]Credential, error) {
	query := `SELECT ` + columns + ` FROM api_keys
		WHERE tenant_id = $1 AND revoked_at IS NULL AND rate_limit > 0 AND rate_window > 0
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active credentials: %w", err)
	}
	defer rows.Close()

	var items []Credential
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	return items, nil
}

// Revoke sets revoked_at on a credential. It is idempotent: revoking an
// already-revoked credential is a no-op and the caller can tell the two
// cases apart via the returned alreadyRevoked bool.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID) (alreadyRevoked bool, err error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if c.RevokedAt != nil {
		return true, nil
	}

	query := `UPDATE api_keys SET revoked_at = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("revoking credential: %w", err)
	}
	return false, nil
}

// SetLimits updates the per-credential rate limit and window. Callers must
// validate the ranges (spec.md §4.7: 1≤rate_limit≤1_000_000, 1≤rate_window≤86_400)
// before calling.
func (s *Store) SetLimits(ctx context.Context, id uuid.UUID, limit, window int) (Credential, error) {
	query := `UPDATE api_keys SET rate_limit = $2, rate_window = $3 WHERE id = $1 RETURNING ` + columns

	c, err := scan(s.pool.QueryRow(ctx, query, id, limit, window))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("setting credential limits: %w", err)
	}
	return c, nil
}

// ErrRevoked is returned by SetTier when the credential has already been
// revoked (spec.md §4.7: 409 on tier mutation of a revoked credential).
var ErrRevoked = errors.New("credential: revoked")

// SetTier applies a named tier's (rate_limit, rate_window) pair, refusing to
// mutate a revoked credential.
func (s *Store) SetTier(ctx context.Context, id uuid.UUID, limit, window int) (Credential, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Credential{}, err
	}
	if c.RevokedAt != nil {
		return Credential{}, ErrRevoked
	}
	return s.SetLimits(ctx, id, limit, window)
}
