// Package util holds small helpers shared by the command line front ends.
package util

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// OutputMode controls how much a Console prints.
type OutputMode int

const (
	// Normal prints everything with symbols and colors.
	Normal OutputMode = iota
	// Quiet drops banners and prints messages as timestamped log lines.
	Quiet
	// Silent prints nothing at all.
	Silent
)

// Console prints operator-facing status lines for service commands.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	mode OutputMode
	now  func() time.Time
}

// NewConsole returns a Console writing to out.
func NewConsole(out io.Writer, mode OutputMode) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, mode: mode, now: time.Now}
}

// Mode reports the current output mode.
func (c *Console) Mode() OutputMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the output mode.
func (c *Console) SetMode(mode OutputMode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// Banner prints the product name with build information. Quiet and silent
// modes skip it.
func (c *Console) Banner(component, version, gitCommit, buildTime string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != Normal {
		return
	}
	fmt.Fprintf(c.out, "\n  %s%s%s\n", ColorBold+ColorCyan, component, ColorReset)
	fmt.Fprintf(c.out, "  Version %s%s%s | Build %s%s%s | %s\n",
		ColorGreen, version, ColorReset,
		ColorYellow, gitCommit, ColorReset,
		buildTime)
	fmt.Fprintf(c.out, "  %s%s/%s, %s%s\n\n", ColorDim, runtime.GOOS, runtime.GOARCH, runtime.Version(), ColorReset)
}

// Success prints a completed step.
func (c *Console) Success(message string) { c.line("INFO", ColorBlue, ColorGreen+"✓", message) }

// Info prints an informational step.
func (c *Console) Info(message string) { c.line("INFO", ColorBlue, ColorCyan+"•", message) }

// Warning prints a non-fatal problem.
func (c *Console) Warning(message string) { c.line("WARN", ColorYellow, ColorYellow+"⚠", message) }

// Error prints a failure.
func (c *Console) Error(message string) { c.line("ERROR", ColorRed, ColorRed+"✗", message) }

func (c *Console) line(level, levelColor, symbol, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case Silent:
		return
	case Quiet:
		fmt.Fprintf(c.out, "%s%s%s %s[%s]%s %s\n",
			ColorDim, c.now().Format(time.RFC3339), ColorReset,
			levelColor, level, ColorReset, message)
	default:
		fmt.Fprintf(c.out, "  %s%s %s\n", symbol, ColorReset, message)
	}
}
