//go:build !windows

package agent

import (
	"os/exec"
	"syscall"
	"time"
)

// killPollInterval and killGracePeriod implement the escalation timings
// from spec §4.4: poll every 100ms for up to a 5s grace period before
// escalating from SIGTERM to SIGKILL.
const (
	killPollInterval = 100 * time.Millisecond
	killGracePeriod  = 5 * time.Second
)

// setProcGroup configures cmd to become the leader of a new process group,
// so the whole group -- not just the direct child -- can be killed as a
// unit.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// groupAlive reports whether any process remains in the group led by pgid,
// using killpg(pgid, 0) and checking for ESRCH.
func groupAlive(pgid int) bool {
	err := syscall.Kill(-pgid, 0)
	return err == nil || err != syscall.ESRCH
}

// killGroupEscalating sends SIGTERM to the process group, polls for up to
// killGracePeriod, and escalates to SIGKILL if the group has not exited.
// The polling loop is synchronous but bounded at 5s -- callers that must
// not block the driver loop run this in its own goroutine.
func killGroupEscalating(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.Now().Add(killGracePeriod)
	for time.Now().Before(deadline) {
		if !groupAlive(pgid) {
			return
		}
		time.Sleep(killPollInterval)
	}
	if groupAlive(pgid) {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

// procGroupID returns the process group id for the given pid -- under
// Setpgid:true, the leader's pid equals its pgid.
func procGroupID(pid int) int {
	return pid
}
