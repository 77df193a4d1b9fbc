package store

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// WriteLock is the advisory lock that admits a single writer per index
// directory. It is released by the kernel if the process dies.
type WriteLock struct {
	path string
	file *os.File
}

// AcquireWriteLock takes the write lock of dir without waiting.
func AcquireWriteLock(dir string) (*WriteLock, error) {
	path := filepath.Join(dir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, apperrors.IO("opening write lock", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, apperrors.LockConflict(dir)
		}
		return nil, apperrors.IO("locking", path, err)
	}
	return &WriteLock{path: path, file: file}, nil
}

func (l *WriteLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return apperrors.IO("unlocking", l.path, err)
	}
	return closeErr
}

func (l *WriteLock) IsHeld() bool {
	return l.file != nil
}
