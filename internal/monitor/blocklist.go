package monitor

import (
	"net/url"
	"strings"
)

// Blocklist is an ordered set of lower-case domain or URL fragments.
type Blocklist []string

// NewBlocklist normalises entries and drops blanks.
func NewBlocklist(entries []string) Blocklist {
	out := make(Blocklist, 0, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Match returns the first entry contained in rawURL's hostname, or appearing
// in the full URL right after a slash. ok is false when nothing matches.
func (b Blocklist) Match(rawURL string) (entry string, ok bool) {
	full := strings.ToLower(rawURL)
	host := hostname(full)
	for _, e := range b {
		if host != "" && strings.Contains(host, e) {
			return e, true
		}
		if strings.Contains(full, "/"+e) || strings.Contains(full, "//"+e) {
			return e, true
		}
	}
	return "", false
}

// MatchMarkers reports whether any observed page marker (class, id or aria
// label) contains one of the configured fragments.
func MatchMarkers(observed, fragments []string) bool {
	for _, o := range observed {
		o = strings.ToLower(o)
		for _, f := range fragments {
			if f != "" && strings.Contains(o, strings.ToLower(f)) {
				return true
			}
		}
	}
	return false
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
