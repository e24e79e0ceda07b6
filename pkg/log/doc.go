// Package log provides named, levelled loggers on top of the standard
// library logger.
//
// Every component asks for its own logger and every line carries the
// component name:
//
//	l := log.ForService("api")
//	l.Infof("listening on %s", addr)
//	l.Debugf("cache miss for %s", key) // printed only with debug enabled
//
// Debug output can be enabled for everything (SetGlobalDebug) or for a
// few components (EnableDebugFor, EnableDebugList). SetOutput redirects
// all loggers at once, which tests use to capture lines in a buffer.
//
// The package name collides with the standard library; alias one of them
// when both are needed.
package log
