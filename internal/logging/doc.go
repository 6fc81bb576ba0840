// Package logging provides structured logging for issueforge builds.
//
// Logs are JSON lines written through log/slog to
// <artifacts>/execution/engine.log. Child loggers carry build, DAG level,
// issue, and phase attributes so that a build can be filtered after the
// fact with [AggregateLogs] and [FilterLogs] (the "logs" command).
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	issueLog := logger.WithBuild(buildID).WithLevel(0).WithIssue("core")
//	issueLog.Info("coding loop finished", "outcome", "COMPLETED", "attempts", 2)
//
// # Rotation
//
// [RotatingWriter] shifts engine.log to engine.log.1 .. engine.log.N once
// it exceeds MaxSizeMB. Rotated files are read back by [AggregateLogs].
//
// # Testing
//
// Use [NopLogger] or [NewWriterLogger] over a bytes.Buffer.
package logging
