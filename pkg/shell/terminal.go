package shell

import (
	"io"
	"os"

	"golang.org/x/term"
	"k8s.io/client-go/tools/remotecommand"
)

// Stdio is the local end of a shell session.
type Stdio struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// OSStdio attaches to the process terminal.
func OSStdio() Stdio {
	return Stdio{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

func (s Stdio) fd() (int, bool) {
	f, ok := s.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

// raw puts the input terminal in raw mode and returns the function restoring it. Non-terminal
// input is left untouched.
func (s Stdio) raw() (func(), error) {
	fd, ok := s.fd()
	if !ok {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, state) }, nil
}

// size reports the terminal size, if the input is a terminal.
func (s Stdio) size() (remotecommand.TerminalSize, bool) {
	fd, ok := s.fd()
	if !ok {
		return remotecommand.TerminalSize{}, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil {
		return remotecommand.TerminalSize{}, false
	}
	return remotecommand.TerminalSize{Width: uint16(w), Height: uint16(h)}, true
}

type sizeQueue struct {
	sent bool
	size remotecommand.TerminalSize
}

// Next reports the initial size once, then blocks the resize loop by returning nil.
func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	if q.sent {
		return nil
	}
	q.sent = true
	return &q.size
}
