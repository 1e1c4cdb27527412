//go:build windows

package agent

import (
	"os/exec"
	"time"
)

const (
	killPollInterval = 100 * time.Millisecond
	killGracePeriod  = 5 * time.Second
)

// setProcGroup is a no-op on Windows -- there is no process-group
// equivalent usable here. Cmd.Cancel (set by the caller via
// exec.CommandContext) handles termination of the direct child.
func setProcGroup(cmd *exec.Cmd) {}

// groupAlive always reports false on Windows: without process groups, the
// caller relies on context cancellation to terminate the direct child.
func groupAlive(pgid int) bool { return false }

// killGroupEscalating is a no-op on Windows; termination is handled by
// context cancellation via exec.CommandContext.
func killGroupEscalating(pgid int) {}

func procGroupID(pid int) int { return pid }
