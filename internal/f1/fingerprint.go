package f1

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fingerprint hashes the semantic fields that drive narration. Two snapshots
// with the same meeting, schedule and sessions fingerprint identically, so
// callers can skip regeneration when nothing the listener would hear changed.
// Weather is deliberately excluded: it fluctuates reading-to-reading and
// would defeat the short-circuit.
func Fingerprint(rw *RaceWeekend) string {
	if rw.DataHash != "" {
		return rw.DataHash
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%d\n",
		rw.MeetingKey, rw.RaceName, rw.CircuitName,
		rw.Start.UTC().Format(time.RFC3339), rw.Year)
	for _, s := range rw.Sessions {
		fmt.Fprintf(&b, "%d|%s|%s|%s\n",
			s.SessionKey, s.Name,
			s.Start.UTC().Format(time.RFC3339),
			s.End.UTC().Format(time.RFC3339))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
