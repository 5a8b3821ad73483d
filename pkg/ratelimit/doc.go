// Package ratelimit caps how fast the crawler issues requests.
//
// TokenBucket wraps golang.org/x/time/rate: requests are spread evenly across a
// window with a configurable burst. The crawling engine waits on a limiter before
// every fetch, so the cap applies across all workers.
//
// Usage:
//
//	// 200 requests per minute, bursts of 10
//	limiter := ratelimit.PerMinute(200, 10)
//
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // ctx cancelled
//	}
//	// Proceed with request
package ratelimit
