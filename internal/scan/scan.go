// Package scan enumerates the community population, applies join-time
// filters, and reconciles live surface detection with cached snapshots.
package scan

import (
	"context"
	"log"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/internal/snapshot"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// Row is one scan result. Ephemeral: it only outlives the scan inside an
// export file, which is deleted after delivery.
type Row struct {
	UserID      int64
	Tag         string
	DisplayName string
	Platforms   []platform.Surface
	JoinedAt    time.Time
}

// Filters restrict a bulk scan by join time. All fields are optional;
// malformed Start/End bounds are ignored rather than fatal.
type Filters struct {
	Duration string // one of the duration bucket names, or ""
	Start    string // ISO timestamp lower bound
	End      string // ISO timestamp upper bound
}

// Active reports whether any join-time filter is in effect.
func (f Filters) Active() bool {
	return f.Duration != "" || f.Start != "" || f.End != ""
}

var durationWindows = map[string]time.Duration{
	"last_hour":  time.Hour,
	"last_day":   24 * time.Hour,
	"last_week":  7 * 24 * time.Hour,
	"last_month": 30 * 24 * time.Hour,
}

// DurationWindow resolves a duration bucket name.
func DurationWindow(name string) (time.Duration, bool) {
	d, ok := durationWindows[name]
	return d, ok
}

// Engine runs scans. Suspicious is the pluggable quarantine heuristic; the
// default flags exactly-single-surface-web users.
type Engine struct {
	gw         chat.Gateway
	cache      *snapshot.Cache
	Suspicious func([]platform.Surface) bool

	now func() time.Time
}

func New(gw chat.Gateway, cache *snapshot.Cache) *Engine {
	return &Engine{
		gw:         gw,
		cache:      cache,
		Suspicious: platform.WebOnly,
		now:        time.Now,
	}
}

// ScanMember produces the single row for one member: live surfaces first,
// cached snapshot when live detection yields nothing. Filters never apply
// to single-member scans.
func (e *Engine) ScanMember(ctx context.Context, m *chat.Member) Row {
	return Row{
		UserID:      m.ID,
		Tag:         m.Tag,
		DisplayName: m.DisplayName,
		Platforms:   e.surfaces(ctx, m),
		JoinedAt:    m.JoinedAt,
	}
}

// ScanAll enumerates the population and returns the rows matching the
// filters, in population-iteration order. Bots are excluded. Failures on a
// single member skip that member, never the scan.
func (e *Engine) ScanAll(ctx context.Context, f Filters) []Row {
	members := e.population(ctx)
	log.Printf("[Scan] Scanning %d members (duration=%q start=%q end=%q)", len(members), f.Duration, f.Start, f.End)

	now := e.now()
	var rows []Row
	for _, m := range members {
		if m == nil || m.Bot {
			continue
		}
		if !e.include(m, f, now) {
			continue
		}
		rows = append(rows, e.ScanMember(ctx, m))
	}
	log.Printf("[Scan] Complete, matched rows=%d", len(rows))
	return rows
}

// population prefers the warm local member list; an empty or trivially
// small list triggers a full remote enumeration, and an enumeration failure
// falls back to whatever local list exists.
func (e *Engine) population(ctx context.Context) []*chat.Member {
	cached := e.gw.CachedMembers()
	if len(cached) > 1 {
		return cached
	}
	fetched, err := e.gw.FetchMembers(ctx)
	if err != nil {
		log.Printf("[Scan] Member enumeration failed, falling back to %d cached members: %v", len(cached), err)
		return cached
	}
	return fetched
}

func (e *Engine) surfaces(ctx context.Context, m *chat.Member) []platform.Surface {
	if live := platform.Detect(m); len(live) > 0 {
		return live
	}
	if snap, ok := e.cache.Fresh(ctx, m.ID); ok {
		return snap
	}
	return nil
}

// include applies the join-time filters. A member with no recorded join
// time is excluded whenever any time filter is active.
func (e *Engine) include(m *chat.Member, f Filters, now time.Time) bool {
	if !f.Active() {
		return true
	}
	if m.JoinedAt.IsZero() {
		return false
	}
	if window, ok := DurationWindow(f.Duration); ok {
		if m.JoinedAt.Before(now.Add(-window)) {
			return false
		}
	}
	if start, ok := parseBound(f.Start); ok {
		if m.JoinedAt.Before(start) {
			return false
		}
	}
	if end, ok := parseBound(f.End); ok {
		if m.JoinedAt.After(end) {
			return false
		}
	}
	return true
}

// parseBound parses an ISO timestamp bound, with or without an explicit
// offset. Malformed bounds report false and are ignored by the caller.
func parseBound(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Apply enqueues a quarantine mutation for every row matching the
// suspicion predicate, in row order, and returns how many were queued.
// Members that can no longer be resolved are skipped.
func (e *Engine) Apply(ctx context.Context, rows []Row, enqueue func(ctx context.Context, m *chat.Member, reason string), reason string) int {
	count := 0
	for _, r := range rows {
		if !e.Suspicious(r.Platforms) {
			continue
		}
		m, err := e.gw.Member(ctx, r.UserID)
		if err != nil {
			log.Printf("[Scan] Skipping apply for unresolvable user %d: %v", r.UserID, err)
			continue
		}
		enqueue(ctx, m, reason)
		count++
	}
	return count
}
