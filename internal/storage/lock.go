package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// fileLock pairs a mutex for goroutines with an flock on a sidecar file for
// other processes. The sidecar is left in place: removing it while another
// process waits on it would let two holders in.
type fileLock struct {
	mu     sync.Mutex
	path   string
	holder *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path + ".lock"}
}

func (l *fileLock) flock(how int) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return err
	}
	l.holder = f
	return nil
}

func (l *fileLock) lock() error {
	l.mu.Lock()
	if err := l.flock(syscall.LOCK_EX); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	return nil
}

// unlock is a no-op when the lock is not held.
func (l *fileLock) unlock() {
	if l.holder == nil {
		return
	}
	_ = syscall.Flock(int(l.holder.Fd()), syscall.LOCK_UN)
	l.holder.Close()
	l.holder = nil
	l.mu.Unlock()
}
