package detect

import "testing"

func detectorWith(procs []procInfo) *ProcessDetector {
	d := NewProcessDetector([]string{"VRChat"})
	d.processes = func() ([]procInfo, error) { return procs, nil }
	return d
}

func TestMatchesByName(t *testing.T) {
	d := detectorWith([]procInfo{
		{name: "systemd", exe: "/usr/lib/systemd/systemd"},
		{name: "vrchat.exe", exe: "c:\\games\\vrchat\\vrchat.exe"},
	})
	if !d.IsRunning() {
		t.Error("IsRunning() = false, want true for vrchat.exe")
	}
}

func TestMatchesByExePath(t *testing.T) {
	d := detectorWith([]procInfo{
		{name: "wine64-preloader", exe: "/games/vrchat/launcher"},
	})
	if !d.IsRunning() {
		t.Error("IsRunning() = false, want true for exe path match")
	}
}

func TestNoMatch(t *testing.T) {
	d := detectorWith([]procInfo{
		{name: "bash", exe: "/bin/bash"},
		{name: "sshd", exe: "/usr/sbin/sshd"},
	})
	if d.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
}

func TestEdgeTransitions(t *testing.T) {
	d := NewProcessDetector([]string{"vrchat"})
	running := false
	d.processes = func() ([]procInfo, error) {
		if running {
			return []procInfo{{name: "vrchat.exe"}}, nil
		}
		return []procInfo{{name: "bash"}}, nil
	}

	if d.IsRunning() {
		t.Fatal("initial state should be not running")
	}
	running = true
	if !d.IsRunning() {
		t.Fatal("should detect after process appears")
	}
	running = false
	if d.IsRunning() {
		t.Fatal("should detect disappearance")
	}
}
