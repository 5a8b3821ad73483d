// Package bluesky is the XRPC side of the crawler.
//
// It covers the session lifecycle against the identity service, the URL
// builders for searchPosts and getProfile, and the pure classifiers that turn
// response bodies into PostRecord and ProfileRecord values.
//
// Example usage:
//
//	client := bluesky.NewClient("", 30*time.Second, log)
//	session, err := client.CreateSession(ctx, "alice.bsky.social", appPassword)
//	if err != nil {
//	    // errors.IsType(err, errors.ErrorTypeAuthentication) on a rejected login
//	}
//	defer client.DestroySession(context.Background(), session)
//
//	u, _ := bluesky.BuildSearchURL(session.ServiceEndpoint(), "golang", "")
//	// fetch u ...
//	page, err := bluesky.ClassifySearchResponse(body)
//	if page.Cursor != "" {
//	    next, _ := bluesky.WithCursor(u, page.Cursor)
//	}
package bluesky
