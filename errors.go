/*
Copyright © 2026 triviahost contributors
*/

package main

import (
	"log"
	"time"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

// logf is a verbose-gated, timestamp-prefixed logger, used at the
// dispatcher, session lifecycle, and janitor call sites. The one exception
// is ServePage's listener error, which is printed with fmt.Printf whether or
// not verbose is set.
func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
