// Package status appends human-readable progress lines to a status file that
// an operator (or a UI polling the file) can follow during a long batch run.
// Writes are best effort: a failure to write status never aborts processing.
package status

import (
	"fmt"
	"log"
	"os"
	"time"
)

type Writer struct {
	path string
}

// NewWriter returns a status writer, or nil when no path is configured.
// A nil *Writer is safe to use.
func NewWriter(path string) *Writer {
	if path == "" {
		return nil
	}
	return &Writer{path: path}
}

// Write appends one formatted status line.
func (w *Writer) Write(format string, args ...any) {
	if w == nil {
		return
	}
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("status: open %s: %v", w.path, err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		log.Printf("status: write: %v", err)
	}
}
