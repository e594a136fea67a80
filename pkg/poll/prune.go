package poll

import (
	"time"

	"github.com/elonfeng/pulsebot/internal/store"
)

// DefaultRetention is how long a notified article blocks re-notification.
const DefaultRetention = 3 * time.Hour

// Prune deletes history entries at least retention old as of now and
// returns how many it removed.
func Prune(h store.History, now time.Time, retention time.Duration) int {
	removed := 0
	for id, seen := range h {
		if now.Sub(seen) >= retention {
			delete(h, id)
			removed++
		}
	}
	return removed
}

// Merge copies entries from src into dst when they are new or more recent
// and reports whether dst changed.
func Merge(dst, src store.History) bool {
	changed := false
	for id, seen := range src {
		if cur, ok := dst[id]; !ok || seen.After(cur) {
			dst[id] = seen
			changed = true
		}
	}
	return changed
}
