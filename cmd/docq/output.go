package main

import (
	"fmt"
	"os"

	"github.com/keldan/docq/internal/backend"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// chunkHeader labels a chunk with its index plus whatever location
// metadata the document carries.
func chunkHeader(c backend.Chunk) string {
	header := fmt.Sprintf("Chunk %d", c.ChunkIndex)
	if c.SectionHeading != nil {
		header += " · " + *c.SectionHeading
	}
	if c.PageNumber != nil {
		header += fmt.Sprintf(" · p.%d", *c.PageNumber)
	}
	return header
}

func printChunks(chunks []backend.Chunk) {
	for _, c := range chunks {
		fmt.Printf("\n%s\n%s\n", colorize(colorBold, chunkHeader(c)), c.Content)
	}
}

// cliNotifier routes session notices to the terminal.
type cliNotifier struct{}

func (cliNotifier) Success(msg string) { printSuccess("%s", msg) }
func (cliNotifier) Info(msg string)    { printInfo("%s", msg) }
func (cliNotifier) Warning(msg string) { printWarning("%s", msg) }
func (cliNotifier) Error(msg string)   { printError("%s", msg) }
