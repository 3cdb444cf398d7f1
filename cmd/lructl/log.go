package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// newLogger returns a console logger writing to w. verbose enables debug
// events from the storage layer.
func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if verbose {
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

// shortCaller renders file:line without the directory, padded for alignment.
func shortCaller(_ uintptr, file string, line int) string {
	return fmt.Sprintf("%-20s", fmt.Sprintf("%s:%d", filepath.Base(file), line))
}
