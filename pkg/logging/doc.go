// Package logging provides the subsystem-tagged structured logger used
// throughout the proxy, backed by zap.
//
// Call InitForCLI once at startup, then log through the package-level
// Debug/Info/Warn/Error functions, each tagged with the originating
// subsystem (e.g. "backend", "pool", "intercept"):
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("backend", "starting %s", cfg.Name)
//	logging.Error("pool", err, "connection acquire failed")
//
// Audit records security-sensitive events (certificate minting, feedback
// submission) as a dedicated "AUDIT"-subsystem INFO line so they can be
// filtered out of ordinary operational logs by downstream aggregation.
package logging
