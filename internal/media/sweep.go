package media

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	. "github.com/relaywave/wagateway/internal/logging"
)

const (
	// sweepSchedule runs the preview cleanup every 30 minutes.
	sweepSchedule = "*/30 * * * *"

	// PreviewTTL is how long a temp preview survives before the sweep
	// removes it.
	PreviewTTL = 24 * time.Hour
)

// Sweeper deletes stale preview files from the temp directory on a cron
// cadence.
type Sweeper struct {
	dir  string
	cron *cron.Cron
}

// NewSweeper builds a Sweeper over dir. Call Start to begin sweeping.
func NewSweeper(dir string) *Sweeper {
	return &Sweeper{dir: dir, cron: cron.New()}
}

// Start schedules the recurring sweep and runs one immediately.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(sweepSchedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep()
	return nil
}

// Stop halts the cron scheduler. Running sweeps finish on their own.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-PreviewTTL)
	removed := 0

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			L_warn("media: sweep cannot read temp dir", "dir", s.dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				L_debug("media: failed to remove stale preview", "path", path, "error", err)
			} else {
				removed++
			}
		}
	}

	if removed > 0 {
		L_debug("media: sweep removed stale previews", "removed", removed)
	}
}
