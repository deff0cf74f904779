// Package instanceguard prevents two orchestrator processes from binding
// the same state directory at once.
//
// Grounded in the teacher's internal/instance.Manager (PID-file-plus-lock
// single-instance guard), generalized from the teacher's Windows-only
// LockFileEx handle (golang.org/x/sys/windows) to an flock(2)-based lock
// via golang.org/x/sys/unix, since the orchestrator targets Linux hosts.
package instanceguard

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Info is the JSON structure persisted to the lock file.
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// Guard holds an exclusive, advisory lock on a PID file for the lifetime
// of one process.
type Guard struct {
	path string
	fd   int
}

// Acquire takes an exclusive non-blocking flock on path, writing this
// process's Info into it. It returns an error if another live process
// already holds the lock.
func Acquire(path string) (*Guard, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("another orchestrator instance holds %s: %w", path, err)
	}

	hostname, _ := os.Hostname()
	info := Info{PID: os.Getpid(), StartedAt: time.Now(), Hostname: hostname}
	data, _ := json.Marshal(info)

	if err := unix.Ftruncate(fd, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := unix.Pwrite(fd, data, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Guard{path: path, fd: fd}, nil
}

// Release drops the lock and closes the underlying file descriptor. The
// lock file itself is left in place; the next Acquire overwrites it.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	unix.Flock(g.fd, unix.LOCK_UN)
	return unix.Close(g.fd)
}
