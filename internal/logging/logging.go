// Package logging wires the service's structured logger.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
})

// For returns a child logger scoped to the named component.
func For(component string) *log.Logger {
	return root.With("component", component)
}

// SetLevel adjusts the root logger's verbosity.
func SetLevel(level log.Level) {
	root.SetLevel(level)
}
