package link

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/adumbdinosaur/irbridge/internal/logging"
)

// ExecRestarter replaces the running process with a fresh copy of itself.
type ExecRestarter struct{}

var (
	executable = os.Executable
	execve     = unix.Exec
)

// Restart only returns if exec fails.
func (ExecRestarter) Restart(reason string) error {
	path, err := executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	logging.LogEvent("LINK", "EXEC", fmt.Sprintf("%s (%s)", path, reason))
	logging.Close()
	if err := execve(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
