package tablesession

import "time"

// ExpiresAt applies the expiry policy for a write at now. A lifetime
// requested by the payload wins over the store default. When neither is
// positive the record gets no expiry and ok is false.
func ExpiresAt(now time.Time, originalMaxAge, defaultTTL time.Duration) (t time.Time, ok bool) {
	switch {
	case originalMaxAge > 0:
		return now.Add(originalMaxAge), true
	case defaultTTL > 0:
		return now.Add(defaultTTL), true
	default:
		return time.Time{}, false
	}
}
