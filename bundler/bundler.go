// Package bundler assembles debug_bundle/ on job failure (spec §4.I): a
// self-contained package of everything a human needs to diagnose what went
// wrong, tolerant of missing inputs since a failure in LOCATE_DB means no
// session or reports ever existed.
package bundler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// DefaultTailLines bounds how many trailing lines of a log are copied into
// the bundle.
const DefaultTailLines = 2000

// Bundler packs debug_bundle/ for one job.
type Bundler struct {
	Logger    logger.Logger
	TailLines int
}

// ReportEntry is one inventoried file under reports/.
type ReportEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	ModTime string `json:"mod_time"`
}

// Pack builds debug_bundle/ under runDir, given the job's classification, a
// short summary, and the contract source path if one was loaded (may be
// empty). It returns the index it wrote.
func (b *Bundler) Pack(runDir, jobID string, classification protocol.ErrorType, summary string, contractPath string) (*protocol.BundleIndex, error) {
	tailLines := b.TailLines
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}

	bundleDir := filepath.Join(runDir, "debug_bundle")
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug bundle dir: %w", err)
	}

	artifacts := map[string]string{}

	if rel, err := b.copyFile(runDir, bundleDir, "job_manifest.json", "manifest.json"); err == nil {
		artifacts["manifest"] = rel
	}

	if rel, err := b.tailFile(runDir, bundleDir, "job_timeline.jsonl", "timeline.tail.jsonl", tailLines); err == nil {
		artifacts["timeline"] = rel
	}

	if rel := b.copyLastFailingAck(runDir, bundleDir); rel != "" {
		artifacts["last_failing_ack"] = rel
	}

	if rel, err := b.tailFile(runDir, bundleDir, filepath.Join("session", "supervisor.log"), "supervisor.log.tail", tailLines); err == nil {
		artifacts["supervisor_log_tail"] = rel
	}
	if rel, err := b.tailFile(runDir, bundleDir, filepath.Join("session", "innovus.stdout.log"), "tool.stdout.tail", tailLines); err == nil {
		artifacts["tool_stdout_tail"] = rel
	}
	if rel, err := b.tailFile(runDir, bundleDir, filepath.Join("session", "innovus.stderr.log"), "tool.stderr.tail", tailLines); err == nil {
		artifacts["tool_stderr_tail"] = rel
	}

	if inv, err := b.reportsInventory(runDir); err == nil && len(inv) > 0 {
		if rel := b.writeReportsInventory(bundleDir, inv); rel != "" {
			artifacts["reports_inventory"] = rel
		}
	}

	if contractPath != "" {
		if rel, err := b.copyFile(filepath.Dir(contractPath), bundleDir, filepath.Base(contractPath), "contract.yaml"); err == nil {
			artifacts["contract"] = rel
		}
	}

	next := b.suggestNextActions(classification)

	idx := &protocol.BundleIndex{
		SchemaVersion: protocol.SchemaVersion,
		JobID:         jobID,
		ErrorType:     classification,
		Summary:       summary,
		Artifacts:     artifacts,
		NextActions:   next,
	}
	if err := idx.Store(bundleDir); err != nil {
		return nil, fmt.Errorf("writing bundle index: %w", err)
	}
	return idx, nil
}

func (b *Bundler) copyFile(srcDir, dstDir, srcRel, dstName string) (string, error) {
	data, err := os.ReadFile(filepath.Join(srcDir, srcRel))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dstDir, dstName), data, 0o644); err != nil {
		return "", err
	}
	return dstName, nil
}

func (b *Bundler) tailFile(srcDir, dstDir, srcRel, dstName string, maxLines int) (string, error) {
	f, err := os.Open(filepath.Join(srcDir, srcRel))
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := make([]string, 0, maxLines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}

	out := strings.Join(lines, "\n")
	if len(lines) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(filepath.Join(dstDir, dstName), []byte(out), 0o644); err != nil {
		return "", err
	}
	return dstName, nil
}

func (b *Bundler) copyLastFailingAck(runDir, bundleDir string) string {
	ackDir := filepath.Join(runDir, "ack")
	entries, err := os.ReadDir(ackDir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i := len(names) - 1; i >= 0; i-- {
		requestID := strings.TrimSuffix(names[i], ".json")
		ack, err := protocol.LoadAck(runDir, requestID)
		if err != nil {
			continue
		}
		if ack.Status == protocol.AckFail {
			data, err := os.ReadFile(filepath.Join(ackDir, names[i]))
			if err != nil {
				continue
			}
			if err := os.WriteFile(filepath.Join(bundleDir, "last_failing_ack.json"), data, 0o644); err != nil {
				continue
			}
			return "last_failing_ack.json"
		}
	}
	return ""
}

func (b *Bundler) reportsInventory(runDir string) ([]ReportEntry, error) {
	reportsDir := filepath.Join(runDir, "reports")
	entries, err := os.ReadDir(reportsDir)
	if err != nil {
		return nil, err
	}
	var inv []ReportEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		inv = append(inv, ReportEntry{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime().UTC().Format("2006-01-02T15:04:05Z")})
	}
	sort.Slice(inv, func(i, j int) bool { return inv[i].Name < inv[j].Name })
	return inv, nil
}

func (b *Bundler) writeReportsInventory(bundleDir string, inv []ReportEntry) string {
	var sb strings.Builder
	sb.WriteString("name\tsize\tmod_time\n")
	for _, e := range inv {
		fmt.Fprintf(&sb, "%s\t%d\t%s\n", e.Name, e.Size, e.ModTime)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "reports_inventory.tsv"), []byte(sb.String()), 0o644); err != nil {
		return ""
	}
	return "reports_inventory.tsv"
}

func (b *Bundler) suggestNextActions(classification protocol.ErrorType) []string {
	switch classification {
	case protocol.ErrLocatorFail:
		return []string{
			"confirm the query resolves to a .enc descriptor with a companion .enc.dat sibling",
			"re-run with an explicit path if the name scan is ambiguous or too deep",
		}
	case protocol.ErrContractInvalid:
		return []string{"fix contract.yaml: check required_outputs paths are relative and free of '..'"}
	case protocol.ErrSessionStartFail:
		return []string{"check session/supervisor.log and session/innovus.stderr.log for startup failures"}
	case protocol.ErrToolCrash:
		return []string{"inspect session/innovus.stderr.log and the tool's core/crash artifacts"}
	case protocol.ErrHeartbeatLost:
		return []string{"the session stopped refreshing session/heartbeat; check for a wedged or paused tool process"}
	case protocol.ErrQueueTimeout:
		return []string{"the queue processor never acked the request; check session/innovus.stdout.log for a stuck script"}
	case protocol.ErrRestoreFail:
		return []string{"inspect the restore wrapper's target descriptor and the tool's restore output"}
	case protocol.ErrCmdFail:
		return []string{"inspect the Skill script for the failing command"}
	case protocol.ErrOutputMissing:
		return []string{"the Skill did not produce one or more required_outputs; check reports/ and the Skill script"}
	case protocol.ErrOutputEmpty:
		return []string{"a required output exists but is zero bytes; check the Skill script for a silent failure"}
	default:
		return []string{"see timeline.tail.jsonl for the sequence of events leading to failure"}
	}
}
