package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorize(value, color string, enabled bool) string {
	if !enabled || value == "" {
		return value
	}
	return color + value + ansiReset
}

func statusLabel(passed, color bool) string {
	if passed {
		return colorize("ok", ansiGreen, color)
	}
	return colorize("fail", ansiRed, color)
}

func sectionHeader(title string, color bool) string {
	return colorize(title, ansiBlue, color)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
