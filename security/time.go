package security

import "time"

// DefaultClockSkewGracePeriod tolerates minor clock drift between the
// gateway, clients, and the identity provider when checking expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt has passed, allowing the default grace
// period. A zero time never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGrace(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGrace reports whether expiresAt has passed by more than the
// grace period.
func IsExpiredWithGrace(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}
