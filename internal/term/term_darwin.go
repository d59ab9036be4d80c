//go:build darwin

package term

import "golang.org/x/sys/unix"

const (
	getTermiosIoctl = unix.TIOCGETA
	setTermiosIoctl = unix.TIOCSETA
)

func ioctlGetTermios(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, getTermiosIoctl)
}

func ioctlSetTermios(fd int, t *unix.Termios) error {
	return unix.IoctlSetTermios(fd, setTermiosIoctl, t)
}

func setTermiosCc(t *unix.Termios, vmin, vtime byte) {
	t.Cc[unix.VMIN] = vmin
	t.Cc[unix.VTIME] = vtime
}
