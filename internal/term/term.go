// Package term puts the host terminal into raw mode and delivers
// keystrokes read from it to a callback, the way a real serial console
// would. No macboot subcommand uses it; the CLI has no interactive mode.
package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal, or if it
// cannot be put into raw mode.
var ErrNoTTY error = errors.New("term: not a TTY")

// KeyFunc receives one keystroke read from the console, in the order
// typed. It runs on the console's own reader goroutine; callers that feed
// guest state from it must synchronize themselves.
type KeyFunc func(b byte)

// Console is a raw-mode terminal bound to the process's standard streams,
// reading keystrokes on a background goroutine and writing trace/register
// output back out through a cooked-enough *term.Terminal for readable
// line editing of the one thing this runtime ever prompts for: nothing yet,
// but WriteString never needs raw mode to look right.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State
}

// NewConsole puts sin into raw mode and returns a Console wrapping it and
// sout. If sin is not a terminal, it returns ErrNoTTY and makes no changes
// to terminal state.
func NewConsole(sin, sout *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTTY, err)
	}

	c := &Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sout, ""),
		state: saved,
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return nil, err
	}

	return c, nil
}

// Writer returns an io.Writer that writes to the console's output stream.
func (c *Console) Writer() io.Writer { return c.out }

// Restore returns the terminal to its original state and unblocks any
// in-progress read on the input stream.
func (c *Console) Restore() {
	_ = c.in.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

// setTerminalParams configures VMIN/VTIME so reads initially return
// immediately (vmin=1, vtime=0: the minimum needed before Run starts
// blocking reads on its own background goroutine).
func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := ioctlGetTermios(c.fd)
	if err != nil {
		return err
	}

	setTermiosCc(termIO, vmin, vtime)

	if err := ioctlSetTermios(c.fd, termIO); err != nil {
		return err
	}

	_ = c.in.SetReadDeadline(time.Time{})

	return nil
}

// Run reads bytes from the console's input stream one at a time, calling
// onKey for each, until ctx is cancelled or the stream returns an error.
// It blocks; callers run it on its own goroutine and cancel ctx to stop it.
func (c *Console) Run(ctx context.Context, onKey KeyFunc) error {
	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return err
		}

		onKey(b)
	}
}
