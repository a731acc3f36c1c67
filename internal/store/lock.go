package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another live process holds the output file.
var ErrLocked = errors.New("output file is locked by another run")

// Lock is an exclusive claim on an output file, held through a sibling
// "<output>.lock" file. A lock whose file has not been touched within its
// TTL is considered abandoned and may be taken over.
type Lock struct {
	path string
	ttl  time.Duration
}

// LockPath returns the lock file used for output.
func LockPath(output string) string {
	return output + ".lock"
}

// AcquireLock claims output for this process.
func AcquireLock(output string, ttl time.Duration) (*Lock, error) {
	path := LockPath(output)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path, ttl: ttl}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		info, serr := os.Stat(path)
		if serr != nil {
			if errors.Is(serr, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat lock file: %w", serr)
		}
		if ttl <= 0 || time.Since(info.ModTime()) < ttl {
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, describeLock(path))
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

func describeLock(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unreadable"
	}
	return strings.Join(strings.Fields(string(data)), " ")
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Touch refreshes the lock so it is not mistaken for an abandoned one.
func (l *Lock) Touch() error {
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// KeepAlive touches the lock every interval until ctx is done.
func (l *Lock) KeepAlive(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Touch()
		}
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// Heartbeat returns a sensible KeepAlive interval for ttl.
func Heartbeat(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl / 3
}

func parsePID(data string) int {
	for _, line := range strings.Split(data, "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(strings.TrimSpace(v))
			return pid
		}
	}
	return 0
}

// LockInfo describes an existing lock file.
type LockInfo struct {
	Path    string
	PID     int
	Touched time.Time
}

// InspectLock reports the lock on output, if any.
func InspectLock(output string) (*LockInfo, error) {
	path := LockPath(output)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &LockInfo{Path: path, PID: parsePID(string(data)), Touched: info.ModTime()}, nil
}
