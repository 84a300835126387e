// Package lockfile implements a cooperative, advisory lock backed by a
// sentinel file.
//
// A lock is held while the sentinel exists. Acquire never times out and
// never takes over a lock: a sentinel left behind by a crashed owner blocks
// every acquirer until it is removed by hand. Acquirers log a periodic
// warning naming the owner recorded in the sentinel so stale locks can be
// spotted.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultInterval is the delay between acquisition attempts.
	DefaultInterval = 500 * time.Millisecond

	// DefaultWarnEvery is the number of failed attempts between warnings,
	// about one minute at DefaultInterval.
	DefaultWarnEvery = 120
)

// Locker acquires and releases sentinel-file locks.
type Locker struct {
	log       logrus.FieldLogger
	interval  time.Duration
	warnEvery int
}

// Option configures a Locker.
type Option func(*Locker)

// WithInterval sets the delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(l *Locker) { l.interval = d }
}

// WithWarnEvery sets how many failed attempts pass between warnings.
func WithWarnEvery(n int) Option {
	return func(l *Locker) { l.warnEvery = n }
}

// New creates a Locker.
func New(log logrus.FieldLogger, opts ...Option) *Locker {
	l := &Locker{
		log:       log.WithField("component", "lockfile"),
		interval:  DefaultInterval,
		warnEvery: DefaultWarnEvery,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.warnEvery <= 0 {
		l.warnEvery = DefaultWarnEvery
	}

	return l
}

// Acquire blocks until it creates the sentinel at path, then writes pid
// into it. It only returns an error when the sentinel cannot be created for
// a reason other than already existing, e.g. a missing parent directory.
func (l *Locker) Acquire(path string, pid int) error {
	for attempt := 1; ; attempt++ {
		err := tryCreate(path, pid)
		if err == nil {
			l.log.WithFields(logrus.Fields{
				"path": path,
				"pid":  pid,
			}).Debug("Lock acquired")

			return nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("acquiring lock %s: %w", path, err)
		}

		if attempt%l.warnEvery == 0 {
			owner := Owner(path)

			l.log.WithFields(logrus.Fields{
				"path":     path,
				"owner":    owner,
				"attempts": attempt,
			}).Warnf("Waiting for lock %s: owned by %s", path, owner)
		}

		time.Sleep(l.interval)
	}
}

// Release removes the sentinel at path.
func (l *Locker) Release(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("releasing lock %s: %w", path, err)
	}

	l.log.WithField("path", path).Debug("Lock released")

	return nil
}

func tryCreate(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("writing owner: %w", err)
	}

	return f.Close()
}

// Owner describes the presumed owner of the lock at path: the pid recorded
// in the sentinel, annotated when that process is no longer running. It
// returns "unknown" when the sentinel cannot be read.
func Owner(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer func() { _ = f.Close() }()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "unknown"
	}

	owner := strings.TrimSpace(line)
	if owner == "" {
		return "unknown"
	}

	pid, err := strconv.ParseInt(owner, 10, 32)
	if err != nil || pid <= 0 {
		return owner
	}

	alive, err := process.PidExists(int32(pid))
	if err == nil && !alive {
		return owner + " (not running)"
	}

	return owner
}
