// Package console prints operator-facing progress lines and prompts.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// Printer writes aligned status lines with [OK]/[WARN]/[FAIL] markers.
// Colors are used only when the output is a terminal.
type Printer struct {
	out   io.Writer
	color bool
}

// Stdout returns a printer for standard output.
func Stdout() *Printer {
	return New(os.Stdout, IsTerminal(os.Stdout))
}

// New creates a printer writing to out.
func New(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) paint(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + colorReset
}

// OK prints msg followed by a success marker.
func (p *Printer) OK(msg string) {
	fmt.Fprintf(p.out, "%-70s%s\n", msg, p.paint(colorGreen, "[OK]"))
}

// Warn prints msg followed by a warning marker.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.out, "%-70s%s\n", msg, p.paint(colorYellow, "[WARN]"))
}

// Fail prints msg followed by a failure marker.
func (p *Printer) Fail(msg string) {
	fmt.Fprintf(p.out, "%-70s%s\n", msg, p.paint(colorRed, "[FAIL]"))
}

// Println writes a plain line.
func (p *Printer) Println(a ...interface{}) {
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted text.
func (p *Printer) Printf(format string, a ...interface{}) {
	fmt.Fprintf(p.out, format, a...)
}

// Confirm asks a y/N question on out and reads the answer from in. Anything
// other than y or yes, including EOF, is a no.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
