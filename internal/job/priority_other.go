//go:build !linux && !darwin

package job

import "fmt"

func applyPriority(pid int, p Priority) error {
	return fmt.Errorf("priority control is not supported on this platform")
}
