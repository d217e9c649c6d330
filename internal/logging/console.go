package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColorFormatter is the console formatter: short timestamp, coloured level
// and dimmed component.
type ColorFormatter struct {
	levels    map[LogLevel]*color.Color
	component *color.Color
	tail      *color.Color
}

// NewColorFormatter builds a formatter that always emits ANSI colour.
func NewColorFormatter() *ColorFormatter {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		c.EnableColor()
		return c
	}
	return &ColorFormatter{
		levels: map[LogLevel]*color.Color{
			LogLevelDebug: mk(color.FgHiBlack),
			LogLevelInfo:  mk(color.FgGreen),
			LogLevelWarn:  mk(color.FgYellow),
			LogLevelError: mk(color.FgRed),
			LogLevelFatal: mk(color.FgHiRed, color.Bold),
		},
		component: mk(color.FgCyan),
		tail:      mk(color.FgHiBlack),
	}
}

func (f *ColorFormatter) Format(entry *LogEntry) string {
	level := fmt.Sprintf("%-5s", entry.Level)
	if c, ok := f.levels[entry.Level]; ok {
		level = c.Sprint(level)
	}
	line := fmt.Sprintf("%s %s %s %s",
		entry.Timestamp.Format("15:04:05.000"),
		level,
		f.component.Sprintf("[%s]", entry.Component),
		entry.Message,
	)
	if tail := formatTail(entry); tail != "" {
		line += f.tail.Sprint(tail)
	}
	return line + "\n"
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ConsoleFormatter picks the colour formatter when mode allows it and w is
// a terminal. mode is "auto", "always" or "never".
func ConsoleFormatter(w io.Writer, mode string) LogFormatter {
	switch mode {
	case "always":
		return NewColorFormatter()
	case "never":
		return &TextFormatter{}
	}
	if IsTerminal(w) && os.Getenv("NO_COLOR") == "" {
		return NewColorFormatter()
	}
	return &TextFormatter{}
}

// OpenLogFile creates dir and a fresh log file named after prefix and the
// current time, e.g. log/yys_20240501_153000.log.
func OpenLogFile(dir, prefix string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}
