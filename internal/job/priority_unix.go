//go:build linux || darwin

package job

import (
	"fmt"
	"syscall"
)

// niceFor maps a priority class to a nice value. Raising priority above
// normal needs privileges; the resulting EPERM is reported to the caller.
func niceFor(p Priority) (int, bool) {
	switch p {
	case PriorityIdle:
		return 19, true
	case PriorityBelowNormal:
		return 10, true
	case PriorityNormal:
		return 0, true
	case PriorityAboveNormal:
		return -5, true
	case PriorityHigh:
		return -10, true
	}
	return 0, false
}

func applyPriority(pid int, p Priority) error {
	nice, ok := niceFor(p)
	if !ok {
		return fmt.Errorf("unknown priority class %q", p)
	}
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice); err != nil {
		return fmt.Errorf("setpriority pid %d: %w", pid, err)
	}
	return nil
}
