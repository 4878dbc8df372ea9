// Package detect answers one question for the main loop: is the target
// activity's process running right now?
package detect

import (
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Detector is the activity probe polled once per loop iteration.
type Detector interface {
	IsRunning() bool
}

// ProcessDetector matches running processes against configured target
// names (case-insensitive substring on name or executable path). State
// changes and a one-time sample of running processes are logged to keep
// "why is nothing recording" diagnosable.
type ProcessDetector struct {
	targets      []string
	lastStatus   bool
	loggedSample bool
	logger       *slog.Logger

	// processes is swapped out by tests.
	processes func() ([]procInfo, error)
}

type procInfo struct {
	name string
	exe  string
}

// NewProcessDetector builds a detector for the given process names.
func NewProcessDetector(names []string) *ProcessDetector {
	targets := make([]string, 0, len(names))
	for _, n := range names {
		targets = append(targets, strings.ToLower(n))
	}
	return &ProcessDetector{
		targets:   targets,
		logger:    slog.Default(),
		processes: listProcesses,
	}
}

func listProcesses() ([]procInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]procInfo, 0, len(procs))
	for _, p := range procs {
		// Per-process errors (exited, permission) are expected noise.
		name, err := p.Name()
		if err != nil {
			continue
		}
		exe, _ := p.Exe()
		out = append(out, procInfo{name: strings.ToLower(name), exe: strings.ToLower(exe)})
	}
	return out, nil
}

func (d *ProcessDetector) IsRunning() bool {
	current := d.check()
	if current != d.lastStatus {
		d.lastStatus = current
		if current {
			d.logger.Info("target process detected")
			d.loggedSample = false
		} else {
			d.logger.Info("target process no longer detected")
		}
	}
	if !current && !d.loggedSample {
		d.logger.Info("no target found", "running_sample", d.sample())
		d.loggedSample = true
	}
	return current
}

func (d *ProcessDetector) check() bool {
	procs, err := d.processes()
	if err != nil {
		d.logger.Warn("listing processes", "error", err)
		return false
	}
	for _, p := range procs {
		for _, target := range d.targets {
			if strings.Contains(p.name, target) || strings.Contains(p.exe, target) {
				return true
			}
		}
	}
	return false
}

func (d *ProcessDetector) sample() []string {
	procs, err := d.processes()
	if err != nil {
		return nil
	}
	var names []string
	for _, p := range procs {
		if len(names) >= 10 {
			break
		}
		if p.name != "" {
			names = append(names, p.name)
		}
	}
	return names
}
