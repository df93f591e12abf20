// Package tclgen renders the two Tcl scripts SkillPilot writes into a job's
// scripts/ directory: the bootstrap queue-processor loop the launcher feeds
// to the tool on startup, and the restore wrapper the kernel regenerates
// before every database restore. Both are rendered with text/template over
// the fixed variable surface of spec §6, mirroring the hook-wrapper
// rendering pattern used elsewhere in this codebase.
package tclgen

import (
	"strings"
	"text/template"
)

// Vars is the fixed variable surface substituted into every rendered
// bootstrap script (spec §6): run directory, scripts/reports directories,
// job id, session file paths and poll interval. The restore wrapper's
// descriptor path lives in RestoreVars.
type Vars struct {
	RunDir        string
	ScriptsDir    string
	ReportsDir    string
	JobID         string
	HeartbeatPath string
	ReadyPath     string
	StopPath      string
	PollMS        int
}

const bootstrapScript = `# generated by skillpilot, job {{.JobID}} -- do not edit by hand
set sp_run_dir     "{{.RunDir}}"
set sp_scripts_dir "{{.ScriptsDir}}"
set sp_queue_dir   "$sp_run_dir/queue"
set sp_ack_dir     "$sp_run_dir/ack"
set sp_heartbeat   "{{.HeartbeatPath}}"
set sp_stop        "{{.StopPath}}"

proc sp_touch_heartbeat {} {
    global sp_heartbeat
    set f [open $sp_heartbeat w]
    puts $f [clock format [clock seconds] -format "%Y-%m-%dT%H:%M:%SZ" -gmt 1]
    close $f
}

proc sp_ack_path {request_id} {
    global sp_ack_dir
    return "$sp_ack_dir/$request_id.json"
}

proc sp_write_ack {request_id job_id status error_type message} {
    set path [sp_ack_path $request_id]
    set tmp "$path.tmp.[pid]"
    set f [open $tmp w]
    puts $f "\{\"schema_version\":\"1.0\",\"request_id\":\"$request_id\",\"job_id\":\"$job_id\",\"status\":\"$status\",\"error_type\":\"$error_type\",\"message\":\"$message\"\}"
    close $f
    file rename -force $tmp $path
}

proc sp_pending_request_ids {} {
    global sp_queue_dir sp_ack_dir
    set ids [list]
    foreach f [lsort [glob -nocomplain -directory $sp_queue_dir *.json]] {
        set id [file rootname [file tail $f]]
        if {![file exists [sp_ack_path $id]]} {
            lappend ids $id
        }
    }
    return $ids
}

proc sp_process_request {id} {
    global sp_queue_dir sp_scripts_dir

    set path "$sp_queue_dir/$id.json"
    set data [read [open $path r]]
    if {![regexp {"job_id"\s*:\s*"([^"]*)"} $data -> job_id]} { set job_id "" }
    if {![regexp {"script"\s*:\s*"([^"]*)"} $data -> script]} { set script "" }
    if {![regexp {"action"\s*:\s*"([^"]*)"} $data -> action]} { set action "" }

    if {$action ne "SOURCE_TCL"} {
        sp_write_ack $id $job_id FAIL CMD_FAIL "security violation: unrecognized action"
        return
    }

    if {![string match "scripts/*" $script] || [string first ".." $script] >= 0} {
        sp_write_ack $id $job_id FAIL CMD_FAIL "security violation: bad script path"
        return
    }

    set full "{{.RunDir}}/$script"
    set rc [catch {source $full} err]
    if {$rc == 0} {
        sp_write_ack $id $job_id PASS OK ""
    } elseif {$script eq "scripts/restore_wrapper.tcl"} {
        sp_write_ack $id $job_id FAIL RESTORE_FAIL $err
    } else {
        sp_write_ack $id $job_id FAIL CMD_FAIL $err
    }
}

set sp_ready_marker "{{.ReadyPath}}"
set f [open $sp_ready_marker w]
puts $f "ready"
close $f

while {1} {
    sp_touch_heartbeat
    foreach id [sp_pending_request_ids] {
        sp_process_request $id
    }
    if {[file exists $sp_stop]} {
        break
    }
    after {{.PollMS}}
}
`

const restoreWrapperScript = `# generated by skillpilot, job {{.JobID}} -- do not edit by hand
cd [file dirname "{{.DescriptorPath}}"]
source "{{.DescriptorPath}}"
`

var (
	bootstrapTmpl = template.Must(template.New("bootstrap").Parse(bootstrapScript))
	restoreTmpl   = template.Must(template.New("restore").Parse(restoreWrapperScript))
)

// RenderBootstrap renders scripts/bootstrap.tcl, the launcher's initialization
// script: a free-running loop that refreshes the heartbeat and drains
// queue/ exactly as queueproc.Processor does in Go.
func RenderBootstrap(v Vars) (string, error) {
	if v.PollMS <= 0 {
		v.PollMS = 200
	}
	var b strings.Builder
	if err := bootstrapTmpl.Execute(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RestoreVars is the variable surface for the restore wrapper: the
// descriptor (and, by convention, its directory) the wrapper must source.
type RestoreVars struct {
	JobID          string
	DescriptorPath string
}

// RenderRestoreWrapper renders scripts/restore_wrapper.tcl with the fixed
// body required by spec §4.G: cd into the descriptor's directory, then
// source the descriptor, since many descriptors assume their own directory
// as base.
func RenderRestoreWrapper(v RestoreVars) (string, error) {
	var b strings.Builder
	if err := restoreTmpl.Execute(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}
