// Package liveness maintains a heartbeat file for container health checks.
// The file holds the Unix time of the last touch; an external probe fails
// the container when it goes stale.
package liveness

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultPath is the heartbeat file location.
const DefaultPath = "/tmp/avwatch_health"

// DefaultInterval is the background touch period.
const DefaultInterval = 60 * time.Second

// File is a heartbeat file. Safe for concurrent use.
type File struct {
	path   string
	logger log.Logger
	now    func() time.Time
}

// New creates a File for path.
func New(path string, logger log.Logger) *File {
	return &File{path: path, logger: logger, now: time.Now}
}

// Touch writes the current Unix time to the file.
func (f *File) Touch() error {
	stamp := strconv.FormatInt(f.now().Unix(), 10)
	if err := os.WriteFile(f.path, []byte(stamp), 0o644); err != nil { //nolint:gosec // heartbeat is world-readable for the probe
		return fmt.Errorf("liveness: write %s: %w", f.path, err)
	}
	return nil
}

// lastTouch reads the time stored in the file.
func (f *File) lastTouch() (time.Time, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("liveness: read %s: %w", f.path, err)
	}
	sec, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("liveness: parse %s: %w", f.path, err)
	}
	return time.Unix(sec, 0), nil
}

// Run touches the file immediately and then every interval until ctx is
// cancelled. Failures are logged as warnings.
func (f *File) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	f.logger.Info(ctx, "health ticker started", "file", f.path, "interval", interval)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := f.Touch(); err != nil {
			f.logger.Warn(ctx, "health touch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
