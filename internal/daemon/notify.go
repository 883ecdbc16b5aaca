package daemon

import (
	"fmt"
	"io"
	"os"
	"time"

	"flowpilot/internal/logging"
)

// ConsoleNotifier prints notices to a writer, one line per notice. Used by
// the CLI daemon command so a foreground daemon is observable in the
// terminal.
type ConsoleNotifier struct {
	Out io.Writer
}

// Notify writes a timestamped line. Write failures are swallowed; notices
// are fire-and-forget.
func (n ConsoleNotifier) Notify(title, body string) {
	out := n.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", time.Now().Format("15:04:05"), title, body)
}

// LogNotifier routes notices into the actions log. The fallback when no
// interactive surface is attached.
type LogNotifier struct{}

// Notify records the notice.
func (LogNotifier) Notify(title, body string) {
	logging.Actions("Notice: %s: %s", title, body)
}
