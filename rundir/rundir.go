// Package rundir creates and populates the fixed on-disk layout that is the
// single source of truth for one job: <cwd>/.skillpilot/runs/<job_id>/ with
// its scripts/, queue/, ack/, reports/, session/, and debug_bundle/
// subdirectories.
package rundir

import (
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qfliuyang/skillpilot/internal/runlock"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// RootSubdir is the directory under cwd that holds every job's run
// directory.
const RootSubdir = ".skillpilot/runs"

var subdirs = []string{"scripts", "queue", "ack", "reports", "session", "debug_bundle"}

// Layout is the set of paths for one job's run directory.
type Layout struct {
	JobID       string
	Cwd         string
	RunDir      string
	ScriptsDir  string
	QueueDir    string
	AckDir      string
	ReportsDir  string
	SessionDir  string
	BundleDir   string
}

func layoutFor(cwd, jobID string) Layout {
	runDir := filepath.Join(cwd, RootSubdir, jobID)
	return Layout{
		JobID:      jobID,
		Cwd:        cwd,
		RunDir:     runDir,
		ScriptsDir: filepath.Join(runDir, "scripts"),
		QueueDir:   filepath.Join(runDir, "queue"),
		AckDir:     filepath.Join(runDir, "ack"),
		ReportsDir: filepath.Join(runDir, "reports"),
		SessionDir: filepath.Join(runDir, "session"),
		BundleDir:  filepath.Join(runDir, "debug_bundle"),
	}
}

// NewJobID returns a job id shaped as a compact, lexicographically ordered
// timestamp with a short random suffix, per spec §3's recommendation. The
// suffix is the leading bytes of a fresh UUIDv4, base32-encoded to keep the
// id filesystem- and shell-friendly.
func NewJobID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating job id suffix: %w", err)
	}
	raw := id[:]
	suffix := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:5]))
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000000"), suffix), nil
}

// Build creates the run directory tree exactly once for jobID, writes the
// RUNNING manifest stub, and emits STATE_ENTER(INIT). It refuses to reuse an
// existing job_id: a racing concurrent Build for the same job_id will fail
// for exactly one of the two callers.
func Build(log logger.Logger, cwd, jobID, launcher string) (Layout, *protocol.TimelineWriter, error) {
	layout := layoutFor(cwd, jobID)

	lockPath := layout.RunDir + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return Layout{}, nil, fmt.Errorf("creating runs root: %w", err)
	}
	lock, err := runlock.New(lockPath)
	if err != nil {
		return Layout{}, nil, fmt.Errorf("creating run-directory lock: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		return Layout{}, nil, fmt.Errorf("job_id %q is already being created: %w", jobID, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("[rundir] failed to release build lock for %s: %v", jobID, err)
		}
	}()

	if _, err := os.Stat(layout.RunDir); err == nil {
		return Layout{}, nil, fmt.Errorf("run directory for job_id %q already exists", jobID)
	}

	if err := os.MkdirAll(layout.RunDir, 0o755); err != nil {
		return Layout{}, nil, fmt.Errorf("creating run directory: %w", err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(layout.RunDir, sub), 0o755); err != nil {
			return Layout{}, nil, fmt.Errorf("creating %s/: %w", sub, err)
		}
	}

	manifest := protocol.NewManifest(jobID, cwd, layout.RunDir, launcher)
	if err := manifest.Store(layout.RunDir); err != nil {
		return Layout{}, nil, fmt.Errorf("writing manifest stub: %w", err)
	}

	tl, err := protocol.NewTimelineWriter(layout.RunDir, jobID)
	if err != nil {
		return Layout{}, nil, fmt.Errorf("opening timeline: %w", err)
	}
	tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StateInit, "job directory created", nil)

	log.Info("[rundir] created run directory for job %s at %s", jobID, layout.RunDir)
	return layout, tl, nil
}

// Open resolves the Layout for an existing job_id, without creating
// anything. Used by resume_job.
func Open(cwd, jobID string) (Layout, error) {
	layout := layoutFor(cwd, jobID)
	if _, err := os.Stat(layout.RunDir); err != nil {
		return Layout{}, fmt.Errorf("run directory for job_id %q not found: %w", jobID, err)
	}
	return layout, nil
}
