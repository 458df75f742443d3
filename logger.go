// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package queuectl

import (
	"log"
	"os"
	"strings"
)

// Logger defines an interface that implementers can use to redirect
// logging into their own application.
type Logger interface {
	Printf(format string, v ...interface{})
}

// stdLogger implements the Logger interface by wrapping the Go log package.
type stdLogger struct{}

func (stdLogger) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

// silentLogger drops all messages.
type silentLogger struct{}

func (silentLogger) Printf(format string, v ...interface{}) {}

// NewLogger returns a Logger appending to the log file at path. The
// QUEUECTL_LOG_LEVEL environment variable controls verbosity: "silent"
// discards everything, any other value (default "info") logs all
// messages. Errors opening the file fall back to standard error.
func NewLogger(path string) Logger {
	if strings.EqualFold(os.Getenv("QUEUECTL_LOG_LEVEL"), "silent") {
		return silentLogger{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return stdLogger{}
	}
	return &fileLogger{l: log.New(f, "", log.LstdFlags|log.LUTC)}
}

// fileLogger writes timestamped lines to the queuectl log file.
type fileLogger struct {
	l *log.Logger
}

func (l *fileLogger) Printf(format string, v ...interface{}) {
	l.l.Printf(format, v...)
}
