package ratelimiter

// RateLimiter admits or rejects a request at the moment it arrives.
type RateLimiter interface {
	// Allow reports whether the request may proceed.
	Allow() bool
}
