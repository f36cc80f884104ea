// Package autoblock implements the shared controller behind the admin
// surface's two block-suspects operations (spec.md §4.9): automatic
// blocking from the unauth-401-surge view, and the one-click
// block-top-suspects shortcut. Both share the same underlying algorithm
// and differ only in parameter names, default reason code, and actor tag.
package autoblock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/telemetry"
)

// Actor identifies which caller invoked the controller, recorded on every
// block event it writes.
type Actor string

const (
	ActorAutoBlock Actor = "auto_block"
	ActorOneClick  Actor = "one_click"
)

// localhost addresses are never blocked unless the caller or the process
// config explicitly opts in (spec.md §4.9 "localhost skip guard").
var localhostIPs = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
}

// Params configures a single run of the controller. WindowMinutes and
// MinUnauth401 select the suspect set (shared with abuse.Suspects' query
// shape); Count caps how many suspects are considered, named differently
// by each caller (limit vs top_n) but playing the same role here.
type Params struct {
	WindowMinutes       int
	MinUnauth401        int
	Count               int
	TTL                 time.Duration
	ReasonCode          blocklist.ReasonCode
	Reason              string
	DryRun              bool
	IncludeLocalhost    bool
	AllowBlockLocalhost bool
	Actor               Actor
}

// Blocked describes one IP the controller blocked (or would have, under a
// dry run).
type Blocked struct {
	ClientIP       string
	Unauth401Count int64
	BlockID        string
	ReasonCode     blocklist.ReasonCode
	Reason         string
	TTLSeconds     int64
	ExpiresAtEpoch int64
	DryRun         bool
}

// Skipped describes one suspect IP the controller declined to block.
type Skipped struct {
	ClientIP string
	Reason   string
}

// Result is the full outcome of a single controller run.
type Result struct {
	From    time.Time
	To      time.Time
	Blocked []Blocked
	Skipped []Skipped
}

// suspect is the minimal shape the controller needs from the suspect
// query, decoupled from abuse.Suspect so this package does not need to
// import internal/abuse for a single field.
type suspect struct {
	ClientIP       string
	Unauth401Count int64
}

// Controller runs the shared auto-block algorithm against the relational
// pool (for the suspect query) and the blocklist store (for the writes).
type Controller struct {
	pool   *pgxpool.Pool
	blocks *blocklist.Store
}

// NewController creates a Controller.
func NewController(pool *pgxpool.Pool, blocks *blocklist.Store) *Controller {
	return &Controller{pool: pool, blocks: blocks}
}

// Run finds suspects over the configured window and blocks each one not
// protected by the localhost guard, in descending order of unauth-401
// volume. A dry run computes every field a real block would return
// without writing anything to Redis.
func (c *Controller) Run(ctx context.Context, p Params) (Result, error) {
	to := time.Now().UTC()
	from := to.Add(-time.Duration(p.WindowMinutes) * time.Minute)

	suspects, err := c.findSuspects(ctx, from, to, p.MinUnauth401, p.Count)
	if err != nil {
		return Result{}, err
	}

	result := Result{From: from, To: to}

	for _, s := range suspects {
		if localhostIPs[s.ClientIP] && !p.IncludeLocalhost && !p.AllowBlockLocalhost {
			telemetry.AutoBlockSkippedTotal.WithLabelValues("localhost_block_protection").Inc()
			result.Skipped = append(result.Skipped, Skipped{ClientIP: s.ClientIP, Reason: "localhost_block_protection"})
			continue
		}

		if p.DryRun {
			now := time.Now().UTC()
			result.Blocked = append(result.Blocked, Blocked{
				ClientIP:       s.ClientIP,
				Unauth401Count: s.Unauth401Count,
				ReasonCode:     blocklist.NormalizeReasonCode(p.ReasonCode),
				Reason:         p.Reason,
				TTLSeconds:     int64(p.TTL.Seconds()),
				ExpiresAtEpoch: now.Add(p.TTL).Unix(),
				DryRun:         true,
			})
			continue
		}

		block, err := c.blocks.Block(ctx, s.ClientIP, p.TTL, p.ReasonCode, p.Reason, string(p.Actor))
		if err != nil {
			return Result{}, fmt.Errorf("blocking suspect %s: %w", s.ClientIP, err)
		}
		telemetry.BlocksWrittenTotal.WithLabelValues(string(p.Actor), "block").Inc()

		result.Blocked = append(result.Blocked, Blocked{
			ClientIP:       s.ClientIP,
			Unauth401Count: s.Unauth401Count,
			BlockID:        block.BlockID,
			ReasonCode:     block.ReasonCode,
			Reason:         p.Reason,
			TTLSeconds:     block.TTLSeconds,
			ExpiresAtEpoch: block.ExpiresAtEpoch,
			DryRun:         false,
		})
	}

	return result, nil
}

func (c *Controller) findSuspects(ctx context.Context, from, to time.Time, minUnauth401, limit int) ([]suspect, error) {
	query := `SELECT client_ip, count(*) FROM usage_events
		WHERE tenant_id IS NULL AND status_code = 401 AND ts >= $1 AND ts <= $2
		GROUP BY client_ip HAVING count(*) >= $3
		ORDER BY count(*) DESC LIMIT $4`

	rows, err := c.pool.Query(ctx, query, from, to, minUnauth401, limit)
	if err != nil {
		return nil, fmt.Errorf("finding auto-block suspects: %w", err)
	}
	defer rows.Close()

	var suspects []suspect
	for rows.Next() {
		var s suspect
		if err := rows.Scan(&s.ClientIP, &s.Unauth401Count); err != nil {
			return nil, fmt.Errorf("scanning auto-block suspect row: %w", err)
		}
		suspects = append(suspects, s)
	}
	return suspects, rows.Err()
}
