//go:build windows

package supervisor

import (
	"os"
	"syscall"
	"unsafe"
)

// singletonLock is a named global mutex. Windows abandons (releases) the
// mutex when the owning process dies, so a crashed owner never wedges the
// next acquisition.
type singletonLock struct {
	handle syscall.Handle
}

const mutexName = `Global\PlaywardenServer`

const errorAlreadyExists = 183

var (
	kernel32        = syscall.NewLazyDLL("kernel32.dll")
	procCreateMutex = kernel32.NewProc("CreateMutexW")
)

// lockAvailable reports whether the OS-level singleton primitive exists on
// this host.
func lockAvailable() bool { return procCreateMutex.Find() == nil }

func acquireLock(_ string) (*singletonLock, error) {
	name, err := syscall.UTF16PtrFromString(mutexName)
	if err != nil {
		return nil, err
	}
	h, _, lastErr := procCreateMutex.Call(0, 1, uintptr(unsafe.Pointer(name)))
	if h == 0 {
		return nil, lastErr
	}
	if errno, ok := lastErr.(syscall.Errno); ok && errno == errorAlreadyExists {
		_ = syscall.CloseHandle(syscall.Handle(h))
		return nil, errLockHeld
	}
	return &singletonLock{handle: syscall.Handle(h)}, nil
}

func (l *singletonLock) release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := syscall.CloseHandle(l.handle)
	l.handle = 0
	return err
}

// pidAlive reports whether a process with pid exists on Windows.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	_ = syscall.CloseHandle(h)
	return true
}

// terminate stops the process; windows has no SIGTERM equivalent for
// unrelated processes, so Kill is the graceful option available.
func terminate(p *os.Process) error {
	return p.Kill()
}
