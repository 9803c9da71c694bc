//go:build !baremetal

// Package rawterm puts the controlling terminal in raw mode so the command
// line tools can react to single keystrokes, for example to abandon a
// retrieval without waiting for Enter.
//
// Newlines are always LF. Terminals send CR when Enter is pressed; Getchar
// and Watch translate it.
package rawterm

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/ssh/terminal"
)

var terminalState *terminal.State

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return terminal.IsTerminal(int(f.Fd()))
}

// Getchar returns a single character from stdin. Newlines are encoded with a
// single LF ('\n').
func Getchar() byte {
	var b [1]byte
	os.Stdin.Read(b[:])
	return translate(b[0])
}

func translate(b byte) byte {
	if b == '\r' {
		return '\n'
	}
	return b
}

// NewWriter returns a writer that expands LF to CRLF, which a terminal in
// raw mode needs to start new lines at the left margin.
func NewWriter(w io.Writer) io.Writer {
	return &crlfWriter{w: w}
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	if bytes.IndexByte(p, '\n') < 0 {
		return c.w.Write(p)
	}
	out := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Configure switches stdin to raw mode. It must be undone with Restore:
//
//	if err := rawterm.Configure(); err == nil {
//		defer rawterm.Restore()
//	}
func Configure() error {
	state, err := terminal.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	terminalState = state
	return nil
}

// Restore returns stdin to the mode it had before Configure. It does nothing
// if Configure was not called or failed.
func Restore() {
	if terminalState == nil {
		return
	}
	terminal.Restore(int(os.Stdin.Fd()), terminalState)
	terminalState = nil
}

// Watch reads r until it fails and calls fn for every byte found in keys.
// Ctrl-C is reported as 0x03 since raw mode disables the signal.
func Watch(r io.Reader, keys string, fn func(key byte)) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		b = translate(b)
		if strings.IndexByte(keys, b) >= 0 {
			fn(b)
		}
	}
}
