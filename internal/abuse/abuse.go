// Package abuse implements the retrospective abuse-detector queries
// (spec.md §4.8): pure relational aggregation over usage_events, consulted
// by the admin surface, never by the request-path middleware chain.
package abuse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/keystone/internal/credential"
)

// Detector runs abuse-analytics queries against the usage event table and
// the credential store (for the near-quota check).
type Detector struct {
	pool        *pgxpool.Pool
	credentials *credential.Store
}

// NewDetector creates a Detector backed by the given connection pool and
// credential store.
func NewDetector(pool *pgxpool.Pool, credentials *credential.Store) *Detector {
	return &Detector{pool: pool, credentials: credentials}
}

// Clamp bounds, ported from the original admin surface's per-endpoint
// Field(ge=..., le=...) validation (spec.md §4.7, §4.8).
const (
	SuspectsWindowMin, SuspectsWindowMax         = 1, 24 * 60
	SuspectsMinUnauthMin, SuspectsMinUnauthMax   = 1, 1_000_000
	SuspectsLimitMin, SuspectsLimitMax           = 1, 200
	IPTimelineMinutesMin, IPTimelineMinutesMax   = 1, 24 * 60
	IPTimelineLimitMin, IPTimelineLimitMax       = 1, 500
	NearQuotaLimitMin, NearQuotaLimitMax         = 1, 50
	topPathsPerSuspect                           = 3
	ipTimelineTopPaths                           = 10
)

// Clamp constrains v to [min, max].
func Clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// PathCount is a (path, count) pair used across suspect and timeline views.
type PathCount struct {
	Path  string
	Count int64
}

// Suspect is one row of the unauthenticated-401-surge view: a client IP
// whose unauthenticated 401 volume crossed the threshold in the window.
type Suspect struct {
	ClientIP       string
	Unauth401Count int64
	FirstSeen      time.Time
	LastSeen       time.Time
	TopPaths       []PathCount
}

// SuspectsResult is the full response for the suspects view, echoing back
// the clamped parameters the way the original admin endpoint does.
type SuspectsResult struct {
	WindowMinutes int
	MinUnauth401  int
	From          time.Time
	To            time.Time
	Suspects      []Suspect
}

// Suspects finds client IPs responsible for at least minUnauth401
// unauthenticated 401 responses within the trailing windowMinutes,
// ordered by volume desc, each augmented with its top 3 hit paths
// (spec.md §4.8 "Suspects").
func (d *Detector) Suspects(ctx context.Context, windowMinutes, minUnauth401, limit int) (SuspectsResult, error) {
	windowMinutes = Clamp(windowMinutes, SuspectsWindowMin, SuspectsWindowMax)
	minUnauth401 = Clamp(minUnauth401, SuspectsMinUnauthMin, SuspectsMinUnauthMax)
	limit = Clamp(limit, SuspectsLimitMin, SuspectsLimitMax)

	to := time.Now().UTC()
	from := to.Add(-time.Duration(windowMinutes) * time.Minute)

	query := `SELECT client_ip, count(*), min(ts), max(ts)
		FROM usage_events
		WHERE tenant_id IS NULL AND status_code = 401 AND ts >= $1 AND ts <= $2
		GROUP BY client_ip HAVING count(*) >= $3
		ORDER BY count(*) DESC LIMIT $4`

	rows, err := d.pool.Query(ctx, query, from, to, minUnauth401, limit)
	if err != nil {
		return SuspectsResult{}, fmt.Errorf("listing abuse suspects: %w", err)
	}

	var suspects []Suspect
	var ips []string
	for rows.Next() {
		var s Suspect
		if err := rows.Scan(&s.ClientIP, &s.Unauth401Count, &s.FirstSeen, &s.LastSeen); err != nil {
			rows.Close()
			return SuspectsResult{}, fmt.Errorf("scanning abuse suspect row: %w", err)
		}
		suspects = append(suspects, s)
		ips = append(ips, s.ClientIP)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SuspectsResult{}, fmt.Errorf("iterating abuse suspect rows: %w", err)
	}

	if len(ips) > 0 {
		pathsQuery := `SELECT client_ip, path, count(*)
			FROM usage_events
			WHERE tenant_id IS NULL AND status_code = 401 AND ts >= $1 AND ts <= $2 AND client_ip = ANY($3)
			GROUP BY client_ip, path
			ORDER BY client_ip ASC, count(*) DESC`

		pathRows, err := d.pool.Query(ctx, pathsQuery, from, to, ips)
		if err != nil {
			return SuspectsResult{}, fmt.Errorf("listing suspect top paths: %w", err)
		}

		topPaths := make(map[string][]PathCount, len(ips))
		for pathRows.Next() {
			var ip, path string
			var count int64
			if err := pathRows.Scan(&ip, &path, &count); err != nil {
				pathRows.Close()
				return SuspectsResult{}, fmt.Errorf("scanning suspect path row: %w", err)
			}
			if len(topPaths[ip]) >= topPathsPerSuspect {
				continue
			}
			topPaths[ip] = append(topPaths[ip], PathCount{Path: path, Count: count})
		}
		pathRows.Close()
		if err := pathRows.Err(); err != nil {
			return SuspectsResult{}, fmt.Errorf("iterating suspect path rows: %w", err)
		}

		for i := range suspects {
			suspects[i].TopPaths = topPaths[suspects[i].ClientIP]
		}
	}

	return SuspectsResult{
		WindowMinutes: windowMinutes,
		MinUnauth401:  minUnauth401,
		From:          from,
		To:            to,
		Suspects:      suspects,
	}, nil
}

// IPTimeline is the full response for a single client IP's activity view
// (spec.md §4.8 "IP timeline").
type IPTimeline struct {
	ClientIP string
	From     time.Time
	To       time.Time
	Total    int64
	Unauth   int64
	Unauth401 int64
	RateLimited429 int64
	Success2xx     int64
	ByStatus       map[int]int64
	TopPaths       []PathCount
	Events         []Event
}

// Event is one row of the IP timeline's recent-events listing.
type Event struct {
	Ts         time.Time
	TenantID   string
	APIKeyID   string
	Method     string
	Path       string
	StatusCode int
	LatencyMs  float64
	RequestID  string
	UserAgent  string
}

// Timeline reports everything known about a single client IP within the
// trailing minutes: status breakdown, top paths, and the most recent
// events, newest first.
func (d *Detector) Timeline(ctx context.Context, clientIP string, minutes, limit int) (IPTimeline, error) {
	minutes = Clamp(minutes, IPTimelineMinutesMin, IPTimelineMinutesMax)
	limit = Clamp(limit, IPTimelineLimitMin, IPTimelineLimitMax)

	to := time.Now().UTC()
	from := to.Add(-time.Duration(minutes) * time.Minute)

	statusQuery := `SELECT status_code, count(*) FROM usage_events
		WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		GROUP BY status_code ORDER BY status_code ASC`

	rows, err := d.pool.Query(ctx, statusQuery, clientIP, from, to)
	if err != nil {
		return IPTimeline{}, fmt.Errorf("aggregating IP timeline status: %w", err)
	}

	byStatus := map[int]int64{}
	var total int64
	for rows.Next() {
		var status int
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return IPTimeline{}, fmt.Errorf("scanning IP timeline status row: %w", err)
		}
		byStatus[status] = count
		total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return IPTimeline{}, fmt.Errorf("iterating IP timeline status rows: %w", err)
	}

	signalsQuery := `SELECT
		sum(CASE WHEN tenant_id IS NULL THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code = 401 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code = 429 THEN 1 ELSE 0 END),
		sum(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END)
		FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3`

	var unauth, unauth401, rl429, success *int64
	if err := d.pool.QueryRow(ctx, signalsQuery, clientIP, from, to).Scan(&unauth, &unauth401, &rl429, &success); err != nil {
		return IPTimeline{}, fmt.Errorf("computing IP timeline signals: %w", err)
	}

	pathsQuery := `SELECT path, count(*) FROM usage_events
		WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		GROUP BY path ORDER BY count(*) DESC LIMIT $4`

	pathRows, err := d.pool.Query(ctx, pathsQuery, clientIP, from, to, ipTimelineTopPaths)
	if err != nil {
		return IPTimeline{}, fmt.Errorf("listing IP timeline top paths: %w", err)
	}
	var topPaths []PathCount
	for pathRows.Next() {
		var p PathCount
		if err := pathRows.Scan(&p.Path, &p.Count); err != nil {
			pathRows.Close()
			return IPTimeline{}, fmt.Errorf("scanning IP timeline path row: %w", err)
		}
		topPaths = append(topPaths, p)
	}
	pathRows.Close()
	if err := pathRows.Err(); err != nil {
		return IPTimeline{}, fmt.Errorf("iterating IP timeline path rows: %w", err)
	}

	eventsQuery := `SELECT ts, tenant_id, api_key_id, method, path, status_code, latency_ms, request_id, user_agent
		FROM usage_events WHERE client_ip = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC LIMIT $4`

	eventRows, err := d.pool.Query(ctx, eventsQuery, clientIP, from, to, limit)
	if err != nil {
		return IPTimeline{}, fmt.Errorf("listing IP timeline events: %w", err)
	}
	defer eventRows.Close()

	var events []Event
	for eventRows.Next() {
		var e Event
		var tenantID, apiKeyID *string
		if err := eventRows.Scan(&e.Ts, &tenantID, &apiKeyID, &e.Method, &e.Path, &e.StatusCode, &e.LatencyMs, &e.RequestID, &e.UserAgent); err != nil {
			return IPTimeline{}, fmt.Errorf("scanning IP timeline event row: %w", err)
		}
		if tenantID != nil {
			e.TenantID = *tenantID
		}
		if apiKeyID != nil {
			e.APIKeyID = *apiKeyID
		}
		events = append(events, e)
	}
	if err := eventRows.Err(); err != nil {
		return IPTimeline{}, fmt.Errorf("iterating IP timeline event rows: %w", err)
	}

	return IPTimeline{
		ClientIP:       clientIP,
		From:           from,
		To:             to,
		Total:          total,
		Unauth:         deref(unauth),
		Unauth401:      deref(unauth401),
		RateLimited429: deref(rl429),
		Success2xx:     deref(success),
		ByStatus:       byStatus,
		TopPaths:       topPaths,
		Events:         events,
	}, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// NearQuotaKey is one row of the near-quota report: a credential whose
// trailing-window usage has crossed threshold of its own rate limit.
type NearQuotaKey struct {
	APIKeyID        string
	KeyPrefix       string
	RequestsInWindow int64
	RateLimit       int
	Utilization     float64
}

// NearQuota reports every active, rate-limited credential belonging to
// tenantID whose trailing-window request count is at or above threshold
// (a fraction in (0, 1]) of its own rate_limit, sorted by utilization desc
// (spec.md §4.8 "Near-quota").
func (d *Detector) NearQuota(ctx context.Context, tenantID uuid.UUID, threshold float64, limit int) ([]NearQuotaKey, error) {
	limit = Clamp(limit, NearQuotaLimitMin, NearQuotaLimitMax)

	keys, err := d.credentials.ListActiveWithLimits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active credentials for near-quota: %w", err)
	}

	now := time.Now().UTC()
	var results []NearQuotaKey
	for _, k := range keys {
		since := now.Add(-time.Duration(k.RateWindow) * time.Second)

		var count int64
		if err := d.pool.QueryRow(ctx,
			`SELECT count(*) FROM usage_events WHERE api_key_id = $1 AND ts >= $2`,
			k.ID, since,
		).Scan(&count); err != nil {
			return nil, fmt.Errorf("counting near-quota usage: %w", err)
		}

		ratio := float64(count) / float64(k.RateLimit)
		if ratio < threshold {
			continue
		}

		results = append(results, NearQuotaKey{
			APIKeyID:         k.ID.String(),
			KeyPrefix:        k.KeyPrefix,
			RequestsInWindow: count,
			RateLimit:        k.RateLimit,
			Utilization:      round2(ratio),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Utilization > results[j].Utilization
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
