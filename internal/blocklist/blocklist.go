// Package blocklist implements the IP blocklist store (spec.md §4.3): an
// active-block entry per IP, a sorted-set expiry index for range scans, and
// a capped event log, all held in Redis. The three writes a Block performs
// are pipelined but not transactional — readers reconcile stale state
// themselves (see Report).
package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ipPrefix   = "blk:ip:"
	indexKey   = "blk:index"
	eventsKey  = "blk:events"
	eventsCap  = 5000
	scanCount  = 200 // SCAN batch size per round-trip
)

// ReasonCode enumerates the closed set of reasons a block can carry.
// Anything else is normalized to ReasonManual on write (spec.md §4.3).
type ReasonCode string

const (
	ReasonManual          ReasonCode = "manual"
	ReasonOperatorAction  ReasonCode = "operator_action"
	ReasonAutoUnauth401   ReasonCode = "auto_unauth_401_surge"
	ReasonOneClickSuspect ReasonCode = "one_click_suspects"
)

var validReasonCodes = map[ReasonCode]bool{
	ReasonManual:          true,
	ReasonOperatorAction:  true,
	ReasonAutoUnauth401:   true,
	ReasonOneClickSuspect: true,
}

// NormalizeReasonCode returns code unchanged if it belongs to the closed
// set, otherwise ReasonManual.
func NormalizeReasonCode(code ReasonCode) ReasonCode {
	if validReasonCodes[code] {
		return code
	}
	return ReasonManual
}

// Entry is the JSON value stored at blk:ip:<ip>.
type Entry struct {
	BlockID         string     `json:"block_id"`
	ReasonCode      ReasonCode `json:"reason_code"`
	Reason          string     `json:"reason"`
	CreatedAtEpoch  int64      `json:"created_at_epoch"`
	ExpiresAtEpoch  int64      `json:"expires_at_epoch"`
}

// parseEntry decodes a blk:ip:<ip> value. Legacy entries written before the
// JSON schema was introduced are plain strings; those are accepted as
// {reason: <value>, reason_code: manual} (spec.md §3, §4.9).
func parseEntry(raw string) Entry {
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			if e.ReasonCode == "" {
				e.ReasonCode = ReasonManual
			}
			return e
		}
	}
	return Entry{Reason: raw, ReasonCode: ReasonManual}
}

// Event describes a block/unblock action appended to blk:events, newest at
// head (spec.md §4.3).
type Event struct {
	EventType      string     `json:"event_type"` // block, unblock
	TsEpoch        int64      `json:"ts_epoch"`
	ClientIP       string     `json:"client_ip"`
	BlockID        string     `json:"block_id,omitempty"`
	ReasonCode     ReasonCode `json:"reason_code,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	ExpiresAtEpoch int64      `json:"expires_at_epoch,omitempty"`
	Actor          string     `json:"actor"` // admin_api, auto_block, one_click
	Deleted        *bool      `json:"deleted,omitempty"`
	RemovedIndex   *bool      `json:"removed_from_index,omitempty"`
}

// RawEvent is returned by Events for entries that failed to parse as JSON
// (spec.md §4.3: "returning {event_type: unknown, raw} on parse failure").
type RawEvent struct {
	EventType string `json:"event_type"`
	Raw       string `json:"raw"`
}

// Store provides Redis-backed blocklist operations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a blocklist Store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{redis: rdb}
}

// BlockResult is returned by Block with the minted identifiers and the
// observed TTL.
type BlockResult struct {
	BlockID        string
	ReasonCode     ReasonCode
	CreatedAtEpoch int64
	ExpiresAtEpoch int64
	TTLSeconds     int64
}

// Block writes an active entry for ip, indexes its expiry, and appends a
// block event. actor identifies the caller for the event log (admin_api,
// auto_block, one_click).
func (s *Store) Block(ctx context.Context, ip string, ttl time.Duration, reasonCode ReasonCode, reason, actor string) (BlockResult, error) {
	reasonCode = NormalizeReasonCode(reasonCode)
	now := time.Now().UTC()
	createdAt := now.Unix()
	expiresAt := now.Add(ttl).Unix()
	blockID := uuid.New().String()

	entry := Entry{
		BlockID:        blockID,
		ReasonCode:     reasonCode,
		Reason:         reason,
		CreatedAtEpoch: createdAt,
		ExpiresAtEpoch: expiresAt,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return BlockResult{}, fmt.Errorf("encoding block entry: %w", err)
	}

	key := ipPrefix + ip

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(expiresAt), Member: ip})
	if _, err := pipe.Exec(ctx); err != nil {
		return BlockResult{}, fmt.Errorf("writing block entry: %w", err)
	}

	if err := s.pushEvent(ctx, Event{
		EventType:      "block",
		TsEpoch:        createdAt,
		ClientIP:       ip,
		BlockID:        blockID,
		ReasonCode:     reasonCode,
		Reason:         reason,
		ExpiresAtEpoch: expiresAt,
		Actor:          actor,
	}); err != nil {
		return BlockResult{}, err
	}

	ttlSeconds := s.redis.TTL(ctx, key).Val()

	return BlockResult{
		BlockID:        blockID,
		ReasonCode:     reasonCode,
		CreatedAtEpoch: createdAt,
		ExpiresAtEpoch: expiresAt,
		TTLSeconds:     ttlSecondsOrFallback(ttlSeconds, int64(ttl.Seconds())),
	}, nil
}

// UnblockResult reports which sides of the block existed before removal.
type UnblockResult struct {
	Deleted      bool
	RemovedIndex bool
}

// Unblock removes the active entry and its index member, and appends an
// unblock event.
func (s *Store) Unblock(ctx context.Context, ip, actor string) (UnblockResult, error) {
	key := ipPrefix + ip

	pipe := s.redis.Pipeline()
	delCmd := pipe.Del(ctx, key)
	zremCmd := pipe.ZRem(ctx, indexKey, ip)
	if _, err := pipe.Exec(ctx); err != nil {
		return UnblockResult{}, fmt.Errorf("removing block entry: %w", err)
	}

	result := UnblockResult{
		Deleted:      delCmd.Val() > 0,
		RemovedIndex: zremCmd.Val() > 0,
	}

	deleted, removed := result.Deleted, result.RemovedIndex
	if err := s.pushEvent(ctx, Event{
		EventType: "unblock",
		TsEpoch:   time.Now().UTC().Unix(),
		ClientIP:  ip,
		Actor:     actor,
		Deleted:   &deleted,
		RemovedIndex: &removed,
	}); err != nil {
		return UnblockResult{}, err
	}

	return result, nil
}

// ListedEntry is one row of List's output.
type ListedEntry struct {
	ClientIP       string
	TTLSeconds     *int64
	BlockID        string
	ReasonCode     ReasonCode
	Reason         string
	ExpiresAtEpoch int64
}

// List scans active blk:ip:* keys up to cap, sorted ascending by remaining
// TTL (keys with no discoverable TTL sort last).
func (s *Store) List(ctx context.Context, limitCap int) ([]ListedEntry, error) {
	var (
		entries []ListedEntry
		cursor  uint64
	)

	for len(entries) < limitCap {
		keys, next, err := s.redis.Scan(ctx, cursor, ipPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning block keys: %w", err)
		}

		for _, key := range keys {
			if len(entries) >= limitCap {
				break
			}
			ip := strings.TrimPrefix(key, ipPrefix)

			raw, err := s.redis.Get(ctx, key).Result()
			if err == redis.Nil {
				continue // evicted between SCAN and GET
			}
			if err != nil {
				return nil, fmt.Errorf("reading block entry %s: %w", ip, err)
			}
			ttl := s.redis.TTL(ctx, key).Val()

			e := parseEntry(raw)
			entries = append(entries, ListedEntry{
				ClientIP:       ip,
				TTLSeconds:     ttlPointer(ttl),
				BlockID:        e.BlockID,
				ReasonCode:     NormalizeReasonCode(e.ReasonCode),
				Reason:         e.Reason,
				ExpiresAtEpoch: e.ExpiresAtEpoch,
			})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].TTLSeconds, entries[j].TTLSeconds
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})

	return entries, nil
}

// Details returns the active entry for ip, or ok=false if no key exists.
func (s *Store) Details(ctx context.Context, ip string) (entry ListedEntry, ok bool, err error) {
	key := ipPrefix + ip

	raw, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return ListedEntry{}, false, nil
	}
	if err != nil {
		return ListedEntry{}, false, fmt.Errorf("reading block entry: %w", err)
	}

	ttl := s.redis.TTL(ctx, key).Val()
	e := parseEntry(raw)

	return ListedEntry{
		ClientIP:       ip,
		TTLSeconds:     ttlPointer(ttl),
		BlockID:        e.BlockID,
		ReasonCode:     NormalizeReasonCode(e.ReasonCode),
		Reason:         e.Reason,
		ExpiresAtEpoch: e.ExpiresAtEpoch,
	}, true, nil
}

// ReportResult is the output of Report: the index reconciled against
// backing keys (spec.md §4.3, §8 invariant 6).
type ReportResult struct {
	Active          []ListedEntry
	ExpiredRecently []ExpiredEntry
	StaleRemoved     int
}

// ExpiredEntry describes an index member whose backing key has expired but
// whose expiry still falls within the lookback window.
type ExpiredEntry struct {
	ClientIP       string
	ExpiredAtEpoch int64
}

// Report scans blk:index for members expiring no earlier than lookback ago,
// classifies each as active (key still present), expired_recently (key gone
// but within the lookback), or stale (neither) — and evicts every stale
// member from the index before returning.
func (s *Store) Report(ctx context.Context, lookback time.Duration, limitCap int) (ReportResult, error) {
	now := time.Now().UTC().Unix()
	since := now - int64(lookback.Seconds())

	members, err := s.redis.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return ReportResult{}, fmt.Errorf("scanning block index: %w", err)
	}
	if len(members) > limitCap {
		members = members[:limitCap]
	}

	var (
		active  []ListedEntry
		expired []ExpiredEntry
		stale   []string
	)

	for _, ip := range members {
		key := ipPrefix + ip

		raw, getErr := s.redis.Get(ctx, key).Result()
		ttl := s.redis.TTL(ctx, key).Val()
		score, scoreErr := s.redis.ZScore(ctx, indexKey, ip).Result()

		if getErr == redis.Nil {
			if scoreErr == nil && int64(score) >= since {
				expired = append(expired, ExpiredEntry{ClientIP: ip, ExpiredAtEpoch: int64(score)})
			} else {
				stale = append(stale, ip)
			}
			continue
		}
		if getErr != nil {
			return ReportResult{}, fmt.Errorf("reading block entry %s: %w", ip, getErr)
		}

		e := parseEntry(raw)
		expiresAt := e.ExpiresAtEpoch
		if expiresAt == 0 && scoreErr == nil {
			expiresAt = int64(score)
		}
		active = append(active, ListedEntry{
			ClientIP:       ip,
			TTLSeconds:     ttlPointer(ttl),
			BlockID:        e.BlockID,
			ReasonCode:     NormalizeReasonCode(e.ReasonCode),
			Reason:         e.Reason,
			ExpiresAtEpoch: expiresAt,
		})
	}

	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, ip := range stale {
			members[i] = ip
		}
		if err := s.redis.ZRem(ctx, indexKey, members...).Err(); err != nil {
			return ReportResult{}, fmt.Errorf("evicting stale index members: %w", err)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].TTLSeconds, active[j].TTLSeconds
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].ExpiredAtEpoch > expired[j].ExpiredAtEpoch
	})

	return ReportResult{Active: active, ExpiredRecently: expired, StaleRemoved: len(stale)}, nil
}

// Events returns a page of the block/unblock event log, newest first.
// Entries that fail to parse as JSON are reported as RawEvent, never as a
// hard error (spec.md §4.3).
func (s *Store) Events(ctx context.Context, limit, offset int) ([]any, error) {
	items, err := s.redis.LRange(ctx, eventsKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading block events: %w", err)
	}

	events := make([]any, 0, len(items))
	for _, raw := range items {
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			events = append(events, e)
			continue
		}
		events = append(events, RawEvent{EventType: "unknown", Raw: raw})
	}
	return events, nil
}

func (s *Store) pushEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding block event: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, eventsKey, payload)
	pipe.LTrim(ctx, eventsKey, 0, eventsCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending block event: %w", err)
	}
	return nil
}

func ttlPointer(d time.Duration) *int64 {
	secs := int64(d.Seconds())
	if secs <= 0 {
		return nil
	}
	return &secs
}

func ttlSecondsOrFallback(d time.Duration, fallback int64) int64 {
	secs := int64(d.Seconds())
	if secs > 0 {
		return secs
	}
	return fallback
}
