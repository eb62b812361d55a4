// Package logging provides structured logging for conductor sessions.
//
// It wraps log/slog with a JSON handler writing to <session>/debug.log so
// that a campaign can be reconstructed after the fact: every entry carries
// the session, trace id, layer and phase attributes of the logger that wrote
// it.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(sessionDir, "info")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithTrace(traceID).WithLayer("fanout")
//	log.Info("worker finished", "domain", "security", "code", "success")
//
// # Rotation
//
// [NewLoggerWithRotation] bounds the size of debug.log. Rotated files are
// named debug.log.1 (newest) through debug.log.N.
//
// # Testing
//
// Use [NopLogger] to discard output. Every constructor in this module that
// accepts a *Logger treats nil as NopLogger.
package logging
