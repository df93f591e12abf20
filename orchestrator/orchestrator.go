// Package orchestrator drives one job through the finite-state machine of
// spec §4.H: INIT -> PREPARE_RUNDIR -> LOCATE_DB -> START_SESSION ->
// RESTORE_DB -> RUN_SKILL -> VALIDATE_OUTPUTS -> SUMMARIZE -> DONE, with
// FAIL reachable from any state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qfliuyang/skillpilot/bundler"
	"github.com/qfliuyang/skillpilot/contract"
	"github.com/qfliuyang/skillpilot/internal/tclgen"
	"github.com/qfliuyang/skillpilot/kernel"
	"github.com/qfliuyang/skillpilot/launcher"
	"github.com/qfliuyang/skillpilot/locator"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/rundir"
	"github.com/qfliuyang/skillpilot/supervisor"
)

// Config carries every value spec §6 says is read once at job start.
type Config struct {
	HeartbeatTimeout    time.Duration
	SessionStartTimeout time.Duration
	RestoreTimeout      time.Duration
	SkillTimeout        time.Duration
	NameScanMaxDepth    int
	BundleTailLines     int
	StopGrace           time.Duration
	LauncherName        string
	HealthPollInterval  time.Duration
}

// DefaultConfig returns the defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:    30 * time.Second,
		SessionStartTimeout: 30 * time.Second,
		RestoreTimeout:      120 * time.Second,
		SkillTimeout:        120 * time.Second,
		NameScanMaxDepth:    locator.DefaultMaxDepth,
		BundleTailLines:     bundler.DefaultTailLines,
		StopGrace:           5 * time.Second,
		LauncherName:        "local",
		HealthPollInterval:  500 * time.Millisecond,
	}
}

// Outcome is the discriminated result of RunJob/ResumeJob: either the job
// paused awaiting a locator selection, or it reached a terminal state.
type Outcome struct {
	JobID string

	AwaitingSelection bool
	Candidates        []protocol.Candidate

	Manifest *protocol.Manifest
	Summary  *protocol.Summary
}

// Orchestrator drives jobs against one Launcher implementation.
type Orchestrator struct {
	Logger   logger.Logger
	Config   Config
	Launcher launcher.Launcher
	Bundler  *bundler.Bundler
}

// New returns an Orchestrator, filling unset Config fields with defaults.
func New(log logger.Logger, cfg Config, l launcher.Launcher) *Orchestrator {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.SessionStartTimeout <= 0 {
		cfg.SessionStartTimeout = def.SessionStartTimeout
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = def.RestoreTimeout
	}
	if cfg.SkillTimeout <= 0 {
		cfg.SkillTimeout = def.SkillTimeout
	}
	if cfg.NameScanMaxDepth <= 0 {
		cfg.NameScanMaxDepth = def.NameScanMaxDepth
	}
	if cfg.BundleTailLines <= 0 {
		cfg.BundleTailLines = def.BundleTailLines
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = def.HealthPollInterval
	}
	if cfg.LauncherName == "" {
		cfg.LauncherName = def.LauncherName
	}
	return &Orchestrator{
		Logger:   log,
		Config:   cfg,
		Launcher: l,
		Bundler:  &bundler.Bundler{Logger: log, TailLines: cfg.BundleTailLines},
	}
}

// RunJob creates a new job directory and drives it from INIT.
func (o *Orchestrator) RunJob(ctx context.Context, cwd, query, skillPath string) (*Outcome, error) {
	jobID, err := rundir.NewJobID(time.Now())
	if err != nil {
		return nil, fmt.Errorf("generating job id: %w", err)
	}

	layout, tl, err := rundir.Build(o.Logger, cwd, jobID, o.Config.LauncherName)
	if err != nil {
		return nil, fmt.Errorf("preparing run directory: %w", err)
	}

	manifest, err := protocol.LoadManifest(layout.RunDir)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("loading manifest stub: %w", err)
	}
	manifest.ArtifactPointers = map[string]string{"contract_path": skillPath}
	manifest.Design.Query = query
	if err := manifest.Store(layout.RunDir); err != nil {
		tl.Close()
		return nil, fmt.Errorf("recording job inputs: %w", err)
	}

	return o.drive(ctx, layout, tl, manifest, query, skillPath, nil)
}

// ResumeJob re-enters LOCATE_DB with a caller-chosen candidate index and
// continues the job to completion.
func (o *Orchestrator) ResumeJob(ctx context.Context, cwd, jobID string, chosenIndex int) (*Outcome, error) {
	layout, err := rundir.Open(cwd, jobID)
	if err != nil {
		return nil, fmt.Errorf("opening job: %w", err)
	}
	manifest, err := protocol.LoadManifest(layout.RunDir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	chosen, err := locator.Select(manifest.Design.Candidates, chosenIndex)
	if err != nil {
		return nil, fmt.Errorf("selecting candidate: %w", err)
	}

	tl, err := protocol.NewTimelineWriter(layout.RunDir, jobID)
	if err != nil {
		return nil, fmt.Errorf("reopening timeline: %w", err)
	}

	skillPath := manifest.ArtifactPointers["contract_path"]
	return o.drive(ctx, layout, tl, manifest, manifest.Design.Query, skillPath, chosen)
}

// jobRun carries the mutable state threaded through one drive() call.
type jobRun struct {
	layout   rundir.Layout
	tl       *protocol.TimelineWriter
	manifest *protocol.Manifest
	handle   launcher.Handle
}

func (o *Orchestrator) drive(ctx context.Context, layout rundir.Layout, tl *protocol.TimelineWriter, manifest *protocol.Manifest, query, skillPath string, resumeCandidate *protocol.Candidate) (out *Outcome, outErr error) {
	jr := &jobRun{layout: layout, tl: tl, manifest: manifest}

	defer func() {
		if out == nil || !out.AwaitingSelection {
			if jr.handle != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), o.Config.StopGrace*2)
				if err := o.Launcher.Stop(stopCtx, jr.handle, "job complete", o.Config.StopGrace); err != nil {
					o.Logger.Warn("[orchestrator] final supervisor stop: %v", err)
				}
				cancel()
			}
			tl.Close()
		}
	}()

	jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateInit, "", nil)

	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StatePrepareRundir, "run directory prepared", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StatePrepareRundir, "", nil)

	candidate, paused, err := o.locateDB(jr, query, resumeCandidate)
	if err != nil {
		return o.fail(jr, protocol.ErrLocatorFail, err.Error()), nil
	}
	if paused {
		return &Outcome{JobID: manifest.JobID, AwaitingSelection: true, Candidates: manifest.Design.Candidates}, nil
	}

	decl, err := o.loadContract(jr, skillPath)
	if err != nil {
		return o.fail(jr, protocol.ErrContractInvalid, err.Error()), nil
	}

	if err := o.renderScripts(jr, decl); err != nil {
		return o.fail(jr, protocol.ErrInternal, err.Error()), nil
	}

	if err := o.startSession(ctx, jr); err != nil {
		return o.fail(jr, protocol.ErrSessionStartFail, err.Error()), nil
	}

	healthCtx, stopWatch := context.WithCancel(ctx)
	alerts, stopWatchFn := (&supervisor.Supervisor{
		Launcher:         o.Launcher,
		Logger:           o.Logger,
		HeartbeatTimeout: o.Config.HeartbeatTimeout,
		PollInterval:     o.Config.HealthPollInterval,
	}).WatchHealth(healthCtx, jr.handle, jr.layout.RunDir)
	defer func() { stopWatch(); stopWatchFn() }()

	k := kernel.New(o.Logger, jr.layout.RunDir, jr.manifest.JobID, jr.tl, o.Config.RestoreTimeout)

	restoreScript, err := k.WriteRestoreWrapper(candidate.EncPath)
	if err != nil {
		return o.fail(jr, protocol.ErrInternal, err.Error()), nil
	}
	if _, err := o.submitWatched(ctx, jr, k, alerts, "restore", restoreScript, o.Config.RestoreTimeout, protocol.StateRestoreDB, protocol.ErrRestoreFail); err != nil {
		return o.failFromStepErr(jr, err, protocol.ErrRestoreFail), nil
	}

	skillRel, err := o.stageSkillScript(jr, decl)
	if err != nil {
		return o.fail(jr, protocol.ErrInternal, err.Error()), nil
	}
	if _, err := o.submitWatched(ctx, jr, k, alerts, "skill", skillRel, o.Config.SkillTimeout, protocol.StateRunSkill, protocol.ErrCmdFail); err != nil {
		return o.failFromStepErr(jr, err, protocol.ErrCmdFail), nil
	}

	class, mismatches, err := o.validateOutputs(jr, decl)
	if err != nil {
		return o.fail(jr, protocol.ErrInternal, err.Error()), nil
	}
	if class != protocol.ErrOK {
		msg := fmt.Sprintf("%d required output(s) did not validate", len(mismatches))
		return o.fail(jr, class, msg), nil
	}

	return o.summarize(jr), nil
}

func (o *Orchestrator) locateDB(jr *jobRun, query string, resumeCandidate *protocol.Candidate) (*protocol.Candidate, bool, error) {
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StateLocateDB, "", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventAction, protocol.StateLocateDB, "locate_db", map[string]any{"query": query})

	if resumeCandidate != nil {
		jr.manifest.Design.Selected = resumeCandidate
		jr.manifest.Design.SelectionReason = "user_selected"
		if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
			return nil, false, err
		}
		jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateLocateDB, "", nil)
		return resumeCandidate, false, nil
	}

	result, err := locator.Locate(jr.layout.Cwd, query, o.Config.NameScanMaxDepth)
	if err != nil {
		var lerr *locator.Error
		if errors.As(err, &lerr) {
			return nil, false, errors.New(lerr.Reason)
		}
		return nil, false, err
	}

	jr.manifest.Design.LocatorMode = string(result.Mode)
	jr.manifest.Design.Candidates = result.Candidates

	if result.Selected == nil {
		jr.manifest.Design.SelectionReason = ""
		if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
			return nil, false, err
		}
		jr.tl.Append(protocol.LevelWarn, protocol.EventAction, protocol.StateLocateDB, "awaiting_selection",
			map[string]any{"candidate_count": len(result.Candidates)})
		return nil, true, nil
	}

	jr.manifest.Design.Selected = result.Selected
	jr.manifest.Design.SelectionReason = result.Reason
	if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
		return nil, false, err
	}
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateLocateDB, "", nil)
	return result.Selected, false, nil
}

func (o *Orchestrator) loadContract(jr *jobRun, skillPath string) (*contract.Declaration, error) {
	decl, err := contract.Load(skillPath)
	if err != nil {
		return nil, err
	}
	jr.manifest.Skill = ptrSkillIdentity(decl.Identity())
	if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
		return nil, err
	}
	return decl, nil
}

func ptrSkillIdentity(id protocol.SkillIdentity) *protocol.SkillIdentity { return &id }

func (o *Orchestrator) renderScripts(jr *jobRun, decl *contract.Declaration) error {
	jr.tl.Append(protocol.LevelInfo, protocol.EventAction, protocol.StateStartSession, "staging skill scripts", nil)

	bootstrapBody, err := tclgen.RenderBootstrap(tclgen.Vars{
		RunDir:        jr.layout.RunDir,
		ScriptsDir:    jr.layout.ScriptsDir,
		ReportsDir:    jr.layout.ReportsDir,
		JobID:         jr.manifest.JobID,
		HeartbeatPath: protocol.HeartbeatPath(jr.layout.RunDir),
		ReadyPath:     protocol.ReadyPath(jr.layout.RunDir),
		StopPath:      protocol.StopPath(jr.layout.RunDir),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(jr.layout.ScriptsDir, "bootstrap.tcl"), []byte(bootstrapBody), 0o644); err != nil {
		return err
	}

	skillDir := filepath.Dir(decl.SourcePath)
	for _, s := range decl.Scripts {
		if err := copySkillScript(skillDir, jr.layout.ScriptsDir, s.Path); err != nil {
			return fmt.Errorf("staging skill script %q: %w", s.Path, err)
		}
	}

	return nil
}

func copySkillScript(skillDir, scriptsDir, rel string) error {
	src, err := os.Open(filepath.Join(skillDir, rel))
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := filepath.Join(scriptsDir, filepath.Base(rel))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (o *Orchestrator) startSession(ctx context.Context, jr *jobRun) error {
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StateStartSession, "", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventAction, protocol.StateStartSession, "start_session", nil)

	h, err := o.Launcher.Start(ctx, jr.layout.RunDir, nil)
	if err != nil {
		return err
	}
	jr.handle = h

	if err := o.Launcher.WaitReady(ctx, h, o.Config.SessionStartTimeout, o.Config.HeartbeatTimeout); err != nil {
		return err
	}
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateStartSession, "", nil)
	return nil
}

// stepErr wraps the classification a failed errgroup-coordinated step
// should carry: either a health-watcher alert (highest priority) or the
// kernel's own error (queue timeout or request failure).
type stepErr struct {
	health    launcher.Health
	fromAlert bool
	err       error
}

func (e *stepErr) Error() string {
	if e.fromAlert {
		return fmt.Sprintf("session health alert: %s", e.health)
	}
	return e.err.Error()
}

// submitWatched runs one kernel SubmitAndWait concurrently with the shared
// health-alert channel via errgroup, so a heartbeat loss or crash
// interrupts the in-flight ack wait instead of waiting out its own timeout
// (spec §4.H).
func (o *Orchestrator) submitWatched(ctx context.Context, jr *jobRun, k *kernel.Kernel, alerts <-chan supervisor.Alert, tag, scriptPath string, timeout time.Duration, state protocol.State, defaultClass protocol.ErrorType) (*protocol.Ack, error) {
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, state, "", nil)

	g, gctx := errgroup.WithContext(ctx)
	stopCh := make(chan struct{})
	var ack *protocol.Ack

	g.Go(func() error {
		select {
		case a := <-alerts:
			return &stepErr{health: a.Health, fromAlert: true}
		case <-stopCh:
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		defer close(stopCh)
		a, err := k.SubmitAndWait(gctx, tag, scriptPath, timeout)
		ack = a
		if err != nil {
			return &stepErr{err: err}
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, state, "", nil)
		if ack.Status != protocol.AckPass {
			return ack, &stepErr{err: fmt.Errorf("%s", ack.Message)}
		}
		return ack, nil
	}
	return ack, err
}

func (o *Orchestrator) failFromStepErr(jr *jobRun, err error, defaultClass protocol.ErrorType) *Outcome {
	var se *stepErr
	if errors.As(err, &se) {
		if se.fromAlert {
			class := protocol.ErrHeartbeatLost
			if se.health == launcher.HealthCrashed {
				class = protocol.ErrToolCrash
			}
			return o.fail(jr, class, fmt.Sprintf("session health alert: %s", se.health))
		}
		var qt *kernel.ErrQueueTimeout
		if errors.As(se.err, &qt) {
			return o.fail(jr, protocol.ErrQueueTimeout, se.err.Error())
		}
		return o.fail(jr, defaultClass, se.err.Error())
	}
	return o.fail(jr, defaultClass, err.Error())
}

func (o *Orchestrator) stageSkillScript(jr *jobRun, decl *contract.Declaration) (string, error) {
	if len(decl.Scripts) == 0 {
		return "", fmt.Errorf("skill %q declares no scripts", decl.Name)
	}
	entry := decl.Scripts[0]
	return "scripts/" + filepath.Base(entry.Path), nil
}

func (o *Orchestrator) validateOutputs(jr *jobRun, decl *contract.Declaration) (protocol.ErrorType, []contract.Mismatch, error) {
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StateValidateOutputs, "", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventAction, protocol.StateValidateOutputs, "validate_outputs", nil)

	mismatches, class, err := contract.Validate(decl, jr.layout.ReportsDir)
	if err != nil {
		return protocol.ErrInternal, nil, err
	}
	if class == protocol.ErrOK {
		jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateValidateOutputs, "", nil)
	}
	return class, mismatches, nil
}

func (o *Orchestrator) summarize(jr *jobRun) *Outcome {
	jr.tl.Append(protocol.LevelInfo, protocol.EventStateEnter, protocol.StateSummarize, "", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventAction, protocol.StateSummarize, "summarize", nil)

	jr.manifest.Status = protocol.StatusPass
	jr.manifest.ErrorType = protocol.ErrOK
	if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
		o.Logger.Error("[orchestrator] writing terminal manifest: %v", err)
	}

	var evidence []string
	entries, _ := os.ReadDir(jr.layout.ReportsDir)
	for _, e := range entries {
		if !e.IsDir() {
			evidence = append(evidence, filepath.Join(jr.layout.ReportsDir, e.Name()))
		}
	}

	summary := &protocol.Summary{
		SchemaVersion: protocol.SchemaVersion,
		JobID:         jr.manifest.JobID,
		Status:        protocol.StatusPass,
		ErrorType:     protocol.ErrOK,
		Evidence:      evidence,
	}
	if err := summary.Store(jr.layout.RunDir); err != nil {
		o.Logger.Error("[orchestrator] writing summary: %v", err)
	}

	jr.tl.Append(protocol.LevelInfo, protocol.EventStateExit, protocol.StateSummarize, "", nil)
	jr.tl.Append(protocol.LevelInfo, protocol.EventDone, protocol.StateDone, "job completed", nil)
	return &Outcome{JobID: jr.manifest.JobID, Manifest: jr.manifest, Summary: summary}
}

func (o *Orchestrator) fail(jr *jobRun, class protocol.ErrorType, message string) *Outcome {
	jr.manifest.Status = protocol.StatusFail
	jr.manifest.ErrorType = class
	if err := jr.manifest.Store(jr.layout.RunDir); err != nil {
		o.Logger.Error("[orchestrator] writing failed manifest: %v", err)
	}
	jr.tl.Append(protocol.LevelError, protocol.EventFail, protocol.StateFail, message, nil)

	summary := &protocol.Summary{
		SchemaVersion: protocol.SchemaVersion,
		JobID:         jr.manifest.JobID,
		Status:        protocol.StatusFail,
		ErrorType:     class,
	}
	if err := summary.Store(jr.layout.RunDir); err != nil {
		o.Logger.Error("[orchestrator] writing failure summary: %v", err)
	}

	contractPath := jr.manifest.ArtifactPointers["contract_path"]
	if _, err := o.Bundler.Pack(jr.layout.RunDir, jr.manifest.JobID, class, message, contractPath); err != nil {
		o.Logger.Error("[orchestrator] packing debug bundle: %v", err)
	}

	return &Outcome{JobID: jr.manifest.JobID, Manifest: jr.manifest, Summary: summary}
}
