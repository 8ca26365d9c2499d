package trigger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
)

// Script actions passed as the first argument to the external program.
const (
	ScriptActionOn  = "On"
	ScriptActionOff = "Off"
)

var errScriptNotExecutable = errors.New("script is not an executable file")

// ScriptRunner invokes an operator-supplied program instead of the platform
// trigger API. The program is called synchronously as
// `script (On|Off) name path cause`; its exit status is not inspected.
type ScriptRunner struct {
	path string
}

// NewScriptRunner builds a runner for the program at path.
func NewScriptRunner(path string) *ScriptRunner {
	return &ScriptRunner{path: path}
}

// Verify checks the program exists and is executable.
func (s *ScriptRunner) Verify() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("script %s: %w", s.path, err)
	}

	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("script %s: %w", s.path, errScriptNotExecutable)
	}

	return nil
}

// Run invokes the program for one alarm transition. A non-zero exit status is
// logged at debug level and otherwise ignored; only a failure to start the
// program is reported.
func (s *ScriptRunner) Run(ctx context.Context, action string, m *monitor.Monitor, cause string) error {
	cmd := exec.CommandContext(ctx, s.path, action, m.Name, m.Path, cause)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.DebugKV(ctx, "Script exited non-zero",
				"script", s.path, "action", action, "monitor_id", m.ID, "code", exitErr.ExitCode())
			return nil
		}

		return fmt.Errorf("run script %s: %w", s.path, err)
	}

	return nil
}
