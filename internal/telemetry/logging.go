package telemetry

import (
	"io"

	"github.com/charmbracelet/log"
)

// NewLogger builds a charmbracelet/log logger writing to w, in the same
// style the teacher uses for its own request logging. Passing nil for w
// discards all output.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = io.Discard
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "stronghold",
	})
}
