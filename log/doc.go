// Package log provides the leveled logging interface used across the GraphRAG
// service.
//
// The default implementation is backed by github.com/kataras/golog. Components
// accept a Logger explicitly; the package-level logger exists for the CLI and
// for callers that do not care to wire one.
//
// # Log Levels
//
//   - LogLevelDebug: request-level tracing (embedding sizes, SQL row counts)
//   - LogLevelInfo: ingest/query lifecycle
//   - LogLevelWarn: best-effort failures such as graph enrichment
//   - LogLevelError: failed requests
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
//	if err != nil {
//		level = log.LogLevelInfo
//	}
//	logger := log.NewLogger(level)
//	logger.Info("document %d stored", id)
//	logger.Warn("graph enrichment failed: %v", err)
//
// Any golog instance can be adapted:
//
//	g := golog.New()
//	g.SetPrefix("[rag] ")
//	logger := log.NewGologLogger(g)
package log
