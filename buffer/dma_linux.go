//go:build linux

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/opd-ai/hwcodec/status"
)

// dmaAlloc creates an anonymous memory file standing in for a
// DMA heap allocation. The descriptor can be passed to other processes and
// imported by another group.
func dmaAlloc(size int) (int, error) {
	fd, err := unix.MemfdCreate("hwcodec-buf", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("%w: memfd_create: %v", status.ErrResourceExhausted, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("%w: ftruncate %d: %v", status.ErrResourceExhausted, size, err)
	}
	return fd, nil
}

func dmaMap(fd, size int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap fd %d: %v", status.ErrInvalidArgument, fd, err)
	}
	return data, nil
}

func dmaUnmap(data []byte) error {
	return unix.Munmap(data)
}

func dmaDup(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, fmt.Errorf("%w: dup fd %d: %v", status.ErrInvalidArgument, fd, err)
	}
	return nfd, nil
}

func dmaClose(fd int) error {
	return unix.Close(fd)
}
