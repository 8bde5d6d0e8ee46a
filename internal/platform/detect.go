// Package platform normalizes raw per-surface connection status into a set
// of surface labels.
package platform

import (
	"sort"
	"strings"

	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// Surface is one of the client types a user may be connected from.
type Surface string

const (
	SurfaceDesktop Surface = "desktop"
	SurfaceMobile  Surface = "mobile"
	SurfaceWeb     Surface = "web"
)

// Detect returns the sorted set of surfaces whose status is live, unioned
// across every representation the member exposes. An empty result means "no
// live status available" — callers must not conflate that with a definite
// zero-surface observation and should fall back to a cached snapshot.
//
// Detect is a pure function over already-fetched data: it tolerates missing
// or partial presence fields and never fails.
func Detect(m *chat.Member) []Surface {
	if m == nil || m.Presence == nil {
		return nil
	}
	set := make(map[Surface]bool)
	p := m.Presence

	if statusLive(p.DesktopStatus) {
		set[SurfaceDesktop] = true
	}
	if statusLive(p.MobileStatus) {
		set[SurfaceMobile] = true
	}
	if statusLive(p.WebStatus) {
		set[SurfaceWeb] = true
	}

	for key, status := range p.ClientStatus {
		if !statusLive(status) {
			continue
		}
		if s, ok := classifySurface(key); ok {
			set[s] = true
		}
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]Surface, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// statusLive reports whether a raw status value represents a live
// connection. Unset and "offline" are not live.
func statusLive(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s != "" && s != "offline"
}

// classifySurface maps a raw client-status key to a surface label.
func classifySurface(key string) (Surface, bool) {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "web"):
		return SurfaceWeb, true
	case strings.Contains(k, "mobile"), strings.Contains(k, "phone"),
		strings.Contains(k, "android"), strings.Contains(k, "ios"):
		return SurfaceMobile, true
	case strings.Contains(k, "desktop"), strings.Contains(k, "pc"):
		return SurfaceDesktop, true
	}
	return "", false
}

// WebOnly reports whether the surface set is exactly {web}. This is the
// default suspicion heuristic; it is deliberately a plain predicate so the
// rule stays swappable.
func WebOnly(surfaces []Surface) bool {
	return len(surfaces) == 1 && surfaces[0] == SurfaceWeb
}

// Strings converts a surface set to plain strings.
func Strings(surfaces []Surface) []string {
	out := make([]string, len(surfaces))
	for i, s := range surfaces {
		out[i] = string(s)
	}
	return out
}

// FromStrings converts plain strings back to a surface set, dropping
// anything unrecognized.
func FromStrings(values []string) []Surface {
	var out []Surface
	for _, v := range values {
		switch Surface(strings.ToLower(v)) {
		case SurfaceDesktop, SurfaceMobile, SurfaceWeb:
			out = append(out, Surface(strings.ToLower(v)))
		}
	}
	return out
}

// Join renders a surface set for human-readable output.
func Join(surfaces []Surface, sep string) string {
	return strings.Join(Strings(surfaces), sep)
}
