//go:build linux

package doorbell

import (
	"golang.org/x/sys/unix"
)

func (d *Doorbell) write() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(d.fd, buf)
	return err
}

func (d *Doorbell) read() error {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(d.fd, buf)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// newPairOS creates two independent eventfds, each with its own
// counter: the host and the peer each get their own eventfd so direction is never
// ambiguous (spec.md §4.B is per-direction, i.e. one Doorbell per way).
func newPairOS() (peerFD, hostFD int, err error) {
	peerFD, err = unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}
	hostFD, err = unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(peerFD)
		return -1, -1, err
	}
	return peerFD, hostFD, nil
}
