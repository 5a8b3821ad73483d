// Package storage provides the record sinks a crawl run writes to.
//
// Sinks:
//   - JSONSink buffers records and writes posts.json and users.json as indented
//     JSON arrays when closed, using a temporary file and rename
//   - JSONLSink appends one JSON object per line as records arrive
//   - SQLiteSink upserts into posts and users tables, tagging rows with the run ID
//   - MemorySink keeps records in memory
//
// All sinks are safe for concurrent use. Open picks one from the output config:
//
//	sink, err := storage.Open(cfg.Output, runID, log)
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
package storage
