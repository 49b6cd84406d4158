package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// Printer writes diagnostics to an output stream, coloring them only when
// the stream is a real terminal — the same isatty guard the teacher uses
// for its REPL prompt styling, generalized to diagnostic output.
type Printer struct {
	w      io.Writer
	color  bool
	Verbose bool
}

func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, color: color}
}

func (p *Printer) Print(e *Error) {
	if p.color {
		fmt.Fprintf(p.w, "%serror%s: %s\n", ansiRed, ansiReset, e.Error())
	} else {
		fmt.Fprintf(p.w, "error: %s\n", e.Error())
	}
	if p.Verbose && e.Cause != nil {
		fmt.Fprintf(p.w, "%+v\n", e.Cause)
	}
}

func (p *Printer) PrintBag(b *Bag) {
	for _, e := range b.Errors() {
		p.Print(e)
	}
}

// Warn prints a non-fatal advisory (e.g. a moved-from elision notice)
// without affecting the bag.
func (p *Printer) Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if p.color {
		fmt.Fprintf(p.w, "%swarning%s: %s\n", ansiYellow, ansiReset, msg)
	} else {
		fmt.Fprintf(p.w, "warning: %s\n", msg)
	}
}

func (p *Printer) Progress(format string, args ...interface{}) {
	if !p.Verbose {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}
