package library

import (
	"io"
	"log/slog"
)

// Logger receives operational messages from the LibraryManager.
// *slog.Logger satisfies it.
//
// Info level: accepted operations and the events they emitted
// Warn level: rejected operations and ignored configuration
// Error level: persistence failures.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	logAttrCaller = "caller"
	logAttrBookID = "book_id"
	logAttrEvents = "events"
	logAttrError  = "error"
)

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventNames(events []Event) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.String())
	}
	return names
}
