// Package engine runs crawl requests on a bounded pool of workers.
//
// Requests are deduplicated by key, counted against an optional budget and
// fetched through a shared rate limiter with per-request retries. Handlers may
// submit follow-up requests while the run is in progress. A run ends once the
// queue is empty and no request is in flight, or when its context is cancelled.
//
//	eng := engine.New(engine.NewHTTPFetcher(30*time.Second, 0, ua, log), engine.Options{
//		Concurrency: 10,
//		MaxRequests: 100,
//		Limiter:     ratelimit.PerMinute(200, 10),
//	}, log)
//	stats, err := eng.Run(ctx, seeds, handle, onFailure)
package engine
