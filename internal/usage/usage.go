// Package usage implements the append-only usage-event store (spec.md §4.6):
// one row per processed request, written best-effort on the exit path of
// the middleware chain so that every outcome — including 401/403/429
// rejections — stays visible to the abuse detector.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is a row from usage_events. TenantID and APIKeyID are nullable
// together: both null represents unauthenticated traffic (spec.md §3).
type Event struct {
	ID         uuid.UUID
	TenantID   *uuid.UUID
	APIKeyID   *uuid.UUID
	Method     string
	Path       string
	StatusCode int
	LatencyMs  float64
	Ts         time.Time
	RequestID  string
	ClientIP   string
	UserAgent  string
}

// Store persists usage events using the shared relational pool. Every call
// acquires its own connection from the pool rather than participating in
// any transaction the handler may have opened, so a handler failure can
// never roll back the audit row (spec.md §4.6).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a usage event Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record inserts a single usage event. Fields with no known value are
// written as empty strings rather than NULL, except TenantID/APIKeyID,
// which stay nullable to represent unauthenticated traffic.
func (s *Store) Record(ctx context.Context, e Event) error {
	query := `INSERT INTO usage_events
		(tenant_id, api_key_id, method, path, status_code, latency_ms, ts, request_id, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		uuidPtr(e.TenantID), uuidPtr(e.APIKeyID), e.Method, e.Path, e.StatusCode,
		e.LatencyMs, e.Ts, e.RequestID, e.ClientIP, e.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("recording usage event: %w", err)
	}
	return nil
}

func uuidPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

// StatusSummary is one row of a by-status aggregation: count plus average
// latency for the matching status code.
type StatusSummary struct {
	StatusCode int
	Count      int64
	AvgLatency float64
}

// PathCount is one row of a by-path aggregation, with its error rate
// (status ≥ 400).
type PathCount struct {
	Path      string
	Count     int64
	ErrorRate float64
}

// KeyCount is one row of a by-credential aggregation, with its error rate.
type KeyCount struct {
	APIKeyID  uuid.UUID
	Count     int64
	ErrorRate float64
}

// IPCount is one row of a by-client-IP aggregation.
type IPCount struct {
	ClientIP   string
	Count      int64
	Unauth401  int64
}

// TenantCount is one row of a by-tenant aggregation.
type TenantCount struct {
	TenantID uuid.UUID
	Count    int64
}

// Summary aggregates status-code counts and average latency for a tenant
// over [from, to] (spec.md §4.7 "Usage summary").
func (s *Store) Summary(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]StatusSummary, error) {
	query := `SELECT status_code, count(*), avg(latency_ms)
		FROM usage_events WHERE tenant_id = $1 AND ts >= $2 AND ts <= $3
		GROUP BY status_code`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	defer rows.Close()

	var out []StatusSummary
	for rows.Next() {
		var r StatusSummary
		var avg *float64
		if err := rows.Scan(&r.StatusCode, &r.Count, &avg); err != nil {
			return nil, fmt.Errorf("scanning usage summary row: %w", err)
		}
		if avg != nil {
			r.AvgLatency = *avg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopEndpoints returns the busiest paths for a tenant over [from, to], with
// per-path error rate, ordered by count desc (spec.md §4.7).
func (s *Store) TopEndpoints(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]PathCount, error) {
	query := `SELECT path, count(*), sum(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		FROM usage_events WHERE tenant_id = $1 AND ts >= $2 AND ts <= $3
		GROUP BY path ORDER BY count(*) DESC LIMIT $4`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top endpoints: %w", err)
	}
	defer rows.Close()

	var out []PathCount
	for rows.Next() {
		var path string
		var count, errs int64
		if err := rows.Scan(&path, &count, &errs); err != nil {
			return nil, fmt.Errorf("scanning top endpoint row: %w", err)
		}
		out = append(out, PathCount{Path: path, Count: count, ErrorRate: errorRate(errs, count)})
	}
	return out, rows.Err()
}

// ByKey aggregates usage by credential for a tenant over [from, to]
// (spec.md §4.7 "Usage by key").
func (s *Store) ByKey(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]KeyCount, error) {
	query := `SELECT api_key_id, count(*), sum(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		FROM usage_events WHERE tenant_id = $1 AND ts >= $2 AND ts <= $3 AND api_key_id IS NOT NULL
		GROUP BY api_key_id ORDER BY count(*) DESC`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing usage by key: %w", err)
	}
	defer rows.Close()

	var out []KeyCount
	for rows.Next() {
		var id uuid.UUID
		var count, errs int64
		if err := rows.Scan(&id, &count, &errs); err != nil {
			return nil, fmt.Errorf("scanning usage-by-key row: %w", err)
		}
		out = append(out, KeyCount{APIKeyID: id, Count: count, ErrorRate: errorRate(errs, count)})
	}
	return out, rows.Err()
}

// StatusClasses sums 2xx/4xx/5xx counts for a tenant over [from, to]
// (spec.md §4.7 "Status classes").
func (s *Store) StatusClasses(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (c2xx, c4xx, c5xx int64, err error) {
	query := `SELECT
		sum(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code BETWEEN 400 AND 499 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code >= 500 THEN 1 ELSE 0 END)
		FROM usage_events WHERE tenant_id = $1 AND ts >= $2 AND ts <= $3`

	var a, b, c *int64
	if err := s.pool.QueryRow(ctx, query, tenantID, from, to).Scan(&a, &b, &c); err != nil {
		return 0, 0, 0, fmt.Errorf("summarizing status classes: %w", err)
	}
	return deref(a), deref(b), deref(c), nil
}

// ListEvents returns a tenant's events in reverse-chronological order
// (spec.md §4.7 "Events listing").
func (s *Store) ListEvents(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Event, error) {
	query := `SELECT id, tenant_id, api_key_id, method, path, status_code, latency_ms, ts, request_id, client_ip, user_agent
		FROM usage_events WHERE tenant_id = $1 ORDER BY ts DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing usage events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountInWindow counts events for a credential in the trailing window
// seconds, used by the near-quota check (spec.md §4.7).
func (s *Store) CountInWindow(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int64, error) {
	query := `SELECT count(*) FROM usage_events WHERE api_key_id = $1 AND ts >= $2`

	var count int64
	if err := s.pool.QueryRow(ctx, query, apiKeyID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting usage in window: %w", err)
	}
	return count, nil
}

// UnauthTotal counts unauthenticated-traffic rows (tenant_id IS NULL) over
// [from, to] (spec.md §4.7 "Unauth traffic").
func (s *Store) UnauthTotal(ctx context.Context, from, to time.Time) (int64, error) {
	query := `SELECT count(*) FROM usage_events WHERE tenant_id IS NULL AND ts >= $1 AND ts <= $2`

	var count int64
	if err := s.pool.QueryRow(ctx, query, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unauth traffic: %w", err)
	}
	return count, nil
}

// UnauthByStatus aggregates unauthenticated traffic by status code over
// [from, to], ordered by status ascending.
func (s *Store) UnauthByStatus(ctx context.Context, from, to time.Time) ([]StatusSummary, error) {
	query := `SELECT status_code, count(*), avg(latency_ms)
		FROM usage_events WHERE tenant_id IS NULL AND ts >= $1 AND ts <= $2
		GROUP BY status_code ORDER BY status_code ASC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating unauth status: %w", err)
	}
	defer rows.Close()

	var out []StatusSummary
	for rows.Next() {
		var r StatusSummary
		var avg *float64
		if err := rows.Scan(&r.StatusCode, &r.Count, &avg); err != nil {
			return nil, fmt.Errorf("scanning unauth status row: %w", err)
		}
		if avg != nil {
			r.AvgLatency = *avg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnauthTopPaths returns the busiest paths among unauthenticated traffic
// over [from, to].
func (s *Store) UnauthTopPaths(ctx context.Context, from, to time.Time, limit int) ([]PathCount, error) {
	query := `SELECT path, count(*), sum(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		FROM usage_events WHERE tenant_id IS NULL AND ts >= $1 AND ts <= $2
		GROUP BY path ORDER BY count(*) DESC LIMIT $3`

	rows, err := s.pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unauth top paths: %w", err)
	}
	defer rows.Close()

	var out []PathCount
	for rows.Next() {
		var path string
		var count, errs int64
		if err := rows.Scan(&path, &count, &errs); err != nil {
			return nil, fmt.Errorf("scanning unauth path row: %w", err)
		}
		out = append(out, PathCount{Path: path, Count: count, ErrorRate: errorRate(errs, count)})
	}
	return out, rows.Err()
}

// UnauthTopIPs returns the noisiest source IPs among unauthenticated
// traffic over [from, to], with their 401 counts.
func (s *Store) UnauthTopIPs(ctx context.Context, from, to time.Time, limit int) ([]IPCount, error) {
	query := `SELECT client_ip, count(*), sum(CASE WHEN status_code = 401 THEN 1 ELSE 0 END)
		FROM usage_events WHERE tenant_id IS NULL AND ts >= $1 AND ts <= $2
		GROUP BY client_ip ORDER BY count(*) DESC LIMIT $3`

	rows, err := s.pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unauth top IPs: %w", err)
	}
	defer rows.Close()

	var out []IPCount
	for rows.Next() {
		var r IPCount
		if err := rows.Scan(&r.ClientIP, &r.Count, &r.Unauth401); err != nil {
			return nil, fmt.Errorf("scanning unauth IP row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RateLimitedTotal counts 429 responses over [from, to], optionally scoped
// to a tenant (pass uuid.Nil for the global view).
func (s *Store) RateLimitedTotal(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int64, error) {
	var (
		query string
		args  []any
	)
	if tenantID == uuid.Nil {
		query = `SELECT count(*) FROM usage_events WHERE status_code = 429 AND ts >= $1 AND ts <= $2`
		args = []any{from, to}
	} else {
		query = `SELECT count(*) FROM usage_events WHERE tenant_id = $1 AND status_code = 429 AND ts >= $2 AND ts <= $3`
		args = []any{tenantID, from, to}
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rate-limited usage: %w", err)
	}
	return count, nil
}

// RateLimitedTopPaths returns the busiest 429 paths, optionally scoped to a
// tenant.
func (s *Store) RateLimitedTopPaths(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]PathCount, error) {
	var (
		query string
		args  []any
	)
	if tenantID == uuid.Nil {
		query = `SELECT path, count(*) FROM usage_events WHERE status_code = 429 AND ts >= $1 AND ts <= $2
			GROUP BY path ORDER BY count(*) DESC LIMIT $3`
		args = []any{from, to, limit}
	} else {
		query = `SELECT path, count(*) FROM usage_events WHERE tenant_id = $1 AND status_code = 429 AND ts >= $2 AND ts <= $3
			GROUP BY path ORDER BY count(*) DESC LIMIT $4`
		args = []any{tenantID, from, to, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rate-limited top paths: %w", err)
	}
	defer rows.Close()

	var out []PathCount
	for rows.Next() {
		var path string
		var count int64
		if err := rows.Scan(&path, &count); err != nil {
			return nil, fmt.Errorf("scanning rate-limited path row: %w", err)
		}
		out = append(out, PathCount{Path: path, Count: count})
	}
	return out, rows.Err()
}

// RateLimitedByTenant breaks down global 429s by tenant.
func (s *Store) RateLimitedByTenant(ctx context.Context, from, to time.Time, limit int) ([]TenantCount, error) {
	query := `SELECT tenant_id, count(*) FROM usage_events
		WHERE status_code = 429 AND tenant_id IS NOT NULL AND ts >= $1 AND ts <= $2
		GROUP BY tenant_id ORDER BY count(*) DESC LIMIT $3`

	rows, err := s.pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rate-limited by tenant: %w", err)
	}
	defer rows.Close()

	var out []TenantCount
	for rows.Next() {
		var r TenantCount
		if err := rows.Scan(&r.TenantID, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning rate-limited-by-tenant row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RateLimitedByKey breaks down a tenant's 429s by credential.
func (s *Store) RateLimitedByKey(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]KeyCount, error) {
	query := `SELECT api_key_id, count(*) FROM usage_events
		WHERE tenant_id = $1 AND status_code = 429 AND api_key_id IS NOT NULL AND ts >= $2 AND ts <= $3
		GROUP BY api_key_id ORDER BY count(*) DESC LIMIT $4`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rate-limited by key: %w", err)
	}
	defer rows.Close()

	var out []KeyCount
	for rows.Next() {
		var r KeyCount
		if err := rows.Scan(&r.APIKeyID, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning rate-limited-by-key row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IPTimelineCounts summarizes signal counts for a single client IP over
// [from, to] (spec.md §4.7 "IP timeline").
type IPTimelineCounts struct {
	Total          int64
	UnauthRows     int64
	Unauth401      int64
	RateLimited429 int64
	Success2xx     int64
}

// IPSignals computes IPTimelineCounts for client_ip over [from, to].
func (s *Store) IPSignals(ctx context.Context, clientIP string, from, to time.Time) (IPTimelineCounts, error) {
	query := `SELECT
		count(*),
		sum(CASE WHEN tenant_id IS NULL THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code = 401 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code = 429 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END)
		FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3`

	var total int64
	var unauthRows, unauth401, rl429, success *int64
	if err := s.pool.QueryRow(ctx, query, clientIP, from, to).Scan(&total, &unauthRows, &unauth401, &rl429, &success); err != nil {
		return IPTimelineCounts{}, fmt.Errorf("computing IP signals: %w", err)
	}
	return IPTimelineCounts{
		Total:          total,
		UnauthRows:     deref(unauthRows),
		Unauth401:      deref(unauth401),
		RateLimited429: deref(rl429),
		Success2xx:     deref(success),
	}, nil
}

// IPByStatus aggregates a single client IP's events by status code.
func (s *Store) IPByStatus(ctx context.Context, clientIP string, from, to time.Time) ([]StatusSummary, error) {
	query := `SELECT status_code, count(*), avg(latency_ms)
		FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		GROUP BY status_code ORDER BY status_code ASC`

	rows, err := s.pool.Query(ctx, query, clientIP, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating IP by status: %w", err)
	}
	defer rows.Close()

	var out []StatusSummary
	for rows.Next() {
		var r StatusSummary
		var avg *float64
		if err := rows.Scan(&r.StatusCode, &r.Count, &avg); err != nil {
			return nil, fmt.Errorf("scanning IP status row: %w", err)
		}
		if avg != nil {
			r.AvgLatency = *avg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IPTopPaths returns the busiest paths hit by a single client IP.
func (s *Store) IPTopPaths(ctx context.Context, clientIP string, from, to time.Time, limit int) ([]PathCount, error) {
	query := `SELECT path, count(*) FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		GROUP BY path ORDER BY count(*) DESC LIMIT $4`

	rows, err := s.pool.Query(ctx, query, clientIP, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing IP top paths: %w", err)
	}
	defer rows.Close()

	var out []PathCount
	for rows.Next() {
		var path string
		var count int64
		if err := rows.Scan(&path, &count); err != nil {
			return nil, fmt.Errorf("scanning IP path row: %w", err)
		}
		out = append(out, PathCount{Path: path, Count: count})
	}
	return out, rows.Err()
}

// IPEvents returns the most recent events from a single client IP, newest
// first, bounded by limit.
func (s *Store) IPEvents(ctx context.Context, clientIP string, from, to time.Time, limit int) ([]Event, error) {
	query := `SELECT id, tenant_id, api_key_id, method, path, status_code, latency_ms, ts, request_id, client_ip, user_agent
		FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC LIMIT $4`

	rows, err := s.pool.Query(ctx, query, clientIP, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("listing IP events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var tenantID, apiKeyID pgtype.UUID
		if err := rows.Scan(&e.ID, &tenantID, &apiKeyID, &e.Method, &e.Path, &e.StatusCode, &e.LatencyMs, &e.Ts, &e.RequestID, &e.ClientIP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scanning usage event row: %w", err)
		}
		if tenantID.Valid {
			id := uuid.UUID(tenantID.Bytes)
			e.TenantID = &id
		}
		if apiKeyID.Valid {
			id := uuid.UUID(apiKeyID.Bytes)
			e.APIKeyID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func errorRate(errs, count int64) float64 {
	if count == 0 {
		return 0
	}
	return round2(float64(errs) / float64(count))
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
