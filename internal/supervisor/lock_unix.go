//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
)

// singletonLock is a flock-held lock file. The kernel releases the lock when
// the holder dies, which is the property the whole singleton guarantee rests
// on: a crashed owner never wedges the next acquisition.
type singletonLock struct {
	f *os.File
}

// lockAvailable reports whether the OS-level singleton primitive exists on
// this host. flock is always available on unix.
func lockAvailable() bool { return true }

func acquireLock(path string) (*singletonLock, error) {
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, errLockHeld
		}
		return nil, err
	}
	return &singletonLock{f: f}, nil
}

func (l *singletonLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// pidAlive reports whether a process with pid exists (EPERM counts as alive).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// terminate asks the process to exit gracefully.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
