package tracker

import "time"

// TTLPolicy decides how long a resolved asset may be served from cache.
// Young assets are volatile and re-resolved quickly; seasoned ones settle
// down to an hourly cadence.
type TTLPolicy struct {
	YoungTTL    time.Duration
	SeasonedTTL time.Duration
	// SeasonedAfter is the asset age at which the longer TTL kicks in.
	SeasonedAfter time.Duration
}

// DefaultTTLPolicy matches the provider budget: 5 minutes for assets seen
// less than a day ago, 60 minutes afterwards.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		YoungTTL:      5 * time.Minute,
		SeasonedTTL:   60 * time.Minute,
		SeasonedAfter: 24 * time.Hour,
	}
}

// TTL returns the cache lifetime for an asset of the given age.
func (p TTLPolicy) TTL(age time.Duration) time.Duration {
	if age < p.SeasonedAfter {
		return p.YoungTTL
	}
	return p.SeasonedTTL
}

// Fresh reports whether a cache entry is still servable at now. An asset
// that has never been fetched is always stale.
func (p TTLPolicy) Fresh(now, firstSeen, lastFetched time.Time) bool {
	if lastFetched.IsZero() {
		return false
	}
	return now.Sub(lastFetched) < p.TTL(now.Sub(firstSeen))
}
