package monitor

import (
	"time"

	"github.com/fakeyudi/proctor/internal/incident"
)

// cooldowns maps an incident type to the time a report of that type was last
// attempted. Not safe for concurrent use; the Monitor guards it.
type cooldowns map[incident.Type]time.Time

// admit reports whether a report of type t may be sent at now under window.
// An admitted report marks t immediately, before any send happens.
func (c cooldowns) admit(t incident.Type, now time.Time, window time.Duration) bool {
	if last, ok := c[t]; ok && window > 0 && now.Sub(last) < window {
		return false
	}
	c[t] = now
	return true
}
