// Package crawler drives a Bluesky crawl run.
//
// A Crawler authenticates once, submits one search request per query to the
// engine and classifies every response as it completes. In posts mode the
// records of each search page go to the post sink. In users mode every distinct
// author found on a page is fetched once and its profile goes to the user sink.
// In both modes a page that returns a cursor queues exactly one follow-up page.
//
// The session is destroyed when the run ends, whether or not the crawl
// succeeded. Pages that fail are skipped and listed in the run Summary.
package crawler
