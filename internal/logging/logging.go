// Package logging provides the stderr logger used throughout the session
// core, matching the plain log.Logger style used across the rest of this
// codebase rather than a structured logging framework.
package logging

import (
	"log"
	"os"
)

var (
	debugEnabled = os.Getenv("CODEX_DEBUG") != ""
	std          = log.New(os.Stderr, "[codex] ", log.LstdFlags)
)

func Debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	std.Printf("DEBUG "+format, args...)
}

func Infof(format string, args ...interface{}) {
	std.Printf("INFO "+format, args...)
}

func Warnf(format string, args ...interface{}) {
	std.Printf("WARN "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	std.Printf("ERROR "+format, args...)
}
