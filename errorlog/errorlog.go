// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package errorlog is the librarian's error sink described in spec §7:
// every logged event both emits a structured slog line and appends a
// row to the catalog's errors table, so that severity/category history
// survives past the process's own log retention.
package errorlog

import (
	"context"
	"log/slog"

	"github.com/kbase/librarian/catalog"
)

// Log is the sink signature used throughout the rest of the module:
// every package that needs to report an operational event holds a
// *Log and calls this method rather than writing to slog directly, so
// that the catalog's errors table stays in sync with what operators see
// in the process log.
type Log struct {
	db     *catalog.DB
	logger *slog.Logger
}

// New wraps db and the default slog logger into a Log sink.
func New(db *catalog.DB, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, logger: logger}
}

// Record logs message at the slog level implied by severity and appends
// an ErrorRecord row to the catalog, mirroring log_to_database's
// "log, then persist, in the same call" behavior.
func (l *Log) Record(ctx context.Context, severity catalog.ErrorSeverity, category catalog.ErrorCategory, message string) {
	l.logger.Log(ctx, slogLevel(severity), message,
		slog.String("category", categoryString(category)))

	if _, err := l.db.RecordError(ctx, catalog.ErrorRecord{
		Severity: severity,
		Category: category,
		Message:  message,
	}); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist error record", slog.Any("error", err))
	}
}

// Critical records a CRITICAL severity event.
func (l *Log) Critical(ctx context.Context, category catalog.ErrorCategory, message string) {
	l.Record(ctx, catalog.SeverityCritical, category, message)
}

// Error records an ERROR severity event.
func (l *Log) Error(ctx context.Context, category catalog.ErrorCategory, message string) {
	l.Record(ctx, catalog.SeverityError, category, message)
}

// Warning records a WARNING severity event.
func (l *Log) Warning(ctx context.Context, category catalog.ErrorCategory, message string) {
	l.Record(ctx, catalog.SeverityWarning, category, message)
}

// Info records an INFO severity event.
func (l *Log) Info(ctx context.Context, category catalog.ErrorCategory, message string) {
	l.Record(ctx, catalog.SeverityInfo, category, message)
}

func slogLevel(severity catalog.ErrorSeverity) slog.Level {
	switch severity {
	case catalog.SeverityCritical:
		return slog.LevelError + 4 // above ERROR, matching logging.CRITICAL's relative rank
	case catalog.SeverityError:
		return slog.LevelError
	case catalog.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func categoryString(c catalog.ErrorCategory) string {
	switch c {
	case catalog.CategoryLibrarianNetworkAvailability:
		return "librarian_network_availability"
	case catalog.CategoryDataAvailability:
		return "data_availability"
	case catalog.CategoryTransfer:
		return "transfer"
	case catalog.CategoryProgramming:
		return "programming"
	case catalog.CategoryStore:
		return "store"
	default:
		return "unknown"
	}
}
