package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	// Color codes for terminal output
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBrown  = "\033[31;1m"
	colorReset  = "\033[0m"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects log lines, e.g. to stderr when stdout carries answer chunks.
// A nil writer restores stdout.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

func logf(color, level, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("%s[%s] %s ", color, level, timestamp)
	message := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s%s%s\n", prefix, message, colorReset)
}

func Infof(format string, args ...interface{}) {
	logf(colorGreen, "INFO", format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(colorYellow, "WARN", format, args...)
}

func Errorf(format string, args ...interface{}) {
	logf(colorRed, "ERROR", format, args...)
}

func Tokenf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s%s%s", colorBrown, message, colorReset)
}

func Fatalf(format string, args ...interface{}) {
	logf(colorRed, "FATAL", format, args...)
	os.Exit(1)
}
