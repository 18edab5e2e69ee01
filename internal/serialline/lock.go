package serialline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/stlalpha/modembridge/internal/logging"
)

// lockDir is the UUCP-style lock directory. A var, not a
// const, so tests can point it at a scratch directory instead of the real
// system lock path.
var lockDir = "/var/lock"

// Locked is a held UUCP lock file, acquired exactly once per device at
// initialization and released at shutdown: it is passed through Port's constructor and dropped in
// Port's Close, never a package-level global.
type Locked struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	stopped bool
}

// Lock acquires /var/lock/LCK..<basename(device)>, replacing a stale lock
// (one whose owner process is not alive) atomically. The file content is
// exactly "%10d\n" formatted decimal PID.
func Lock(device string) (*Locked, error) {
	path := filepath.Join(lockDir, "LCK.."+filepath.Base(device))

	if err := tryCreate(path); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("serialline: create lock %s: %w", path, err)
		}
		if ownerAlive(path) {
			return nil, fmt.Errorf("serialline: %s held by live process", path)
		}
		logging.Warn("serialline: replacing stale lock %s", path)
		if err := replaceStale(path); err != nil {
			return nil, fmt.Errorf("serialline: replace stale lock %s: %w", path, err)
		}
	}

	l := &Locked{path: path}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(lockDir); err == nil {
			l.watcher = w
			go l.watchLoop()
		} else {
			w.Close()
		}
	} else {
		logging.Warn("serialline: lock watcher unavailable: %v", err)
	}
	return l, nil
}

// watchLoop notices out-of-band removal or replacement of the lock file so a
// stale-lock recovery can be surfaced promptly.
func (l *Locked) watchLoop() {
	for {
		l.mu.Lock()
		stopped := l.stopped
		w := l.watcher
		l.mu.Unlock()
		if stopped || w == nil {
			return
		}
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name == l.path && (ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0) {
				logging.Warn("serialline: lock file %s disappeared out-of-band", l.path)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.Warn("serialline: lock watcher error: %v", err)
		}
	}
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(fmt.Sprintf("%10d\n", os.Getpid()))
	return err
}

func replaceStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return tryCreate(path)
}

// ownerAlive reports whether the PID recorded in the lock file at path is a
// live process: kill(pid, 0) succeeding or returning EPERM means it exists;
// ESRCH (or an unparsable file) means the lock is stale.
func ownerAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	err = syscall.Kill(pid, 0)
	if err == nil || err == syscall.EPERM {
		return true
	}
	return false
}

// Release removes the lock file and stops the watcher. Safe to call more
// than once.
func (l *Locked) Release() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	w := l.watcher
	l.mu.Unlock()

	if w != nil {
		w.Close()
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
