//go:build !linux

package doorbell

import (
	"golang.org/x/sys/unix"
)

func (d *Doorbell) write() error {
	_, err := unix.Write(d.fd, []byte{1})
	return err
}

func (d *Doorbell) read() error {
	buf := make([]byte, 1)
	for {
		_, err := unix.Read(d.fd, buf)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// newPairOS falls back to a connected socketpair, one end per direction,
// on platforms without eventfd.
func newPairOS() (peerFD, hostFD int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
