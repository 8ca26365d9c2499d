package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
)

// writeScript creates an executable shell script in a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "notify.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

// TestScriptRunnerArgs verifies argument order: (On|Off) name path cause.
func TestScriptRunnerArgs(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, `printf '%s\n' "$@" > `+out)

	runner := NewScriptRunner(script)
	require.NoError(t, runner.Verify())

	m := &monitor.Monitor{ID: 7, Name: "Driveway", Path: "/var/cache/zoneminder/events/7"}
	require.NoError(t, runner.Run(context.Background(), ScriptActionOn, m, "Zone1"))

	contents, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t,
		[]string{"On", "Driveway", "/var/cache/zoneminder/events/7", "Zone1"},
		strings.Split(strings.TrimSpace(string(contents)), "\n"))
}

// TestScriptRunnerExitStatusIgnored confirms a non-zero exit is not an error.
func TestScriptRunnerExitStatusIgnored(t *testing.T) {
	t.Parallel()

	runner := NewScriptRunner(writeScript(t, "exit 3"))

	m := &monitor.Monitor{ID: 1, Name: "Gate"}
	require.NoError(t, runner.Run(context.Background(), ScriptActionOff, m, "Zone2"))
}

// TestScriptRunnerVerify rejects missing and non-executable targets.
func TestScriptRunnerVerify(t *testing.T) {
	t.Parallel()

	require.Error(t, NewScriptRunner(filepath.Join(t.TempDir(), "missing.sh")).Verify())

	plain := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("not a script"), 0o644))
	require.ErrorIs(t, NewScriptRunner(plain).Verify(), errScriptNotExecutable)

	require.Error(t, NewScriptRunner(t.TempDir()).Verify())
}

// TestScriptRunnerStartFailure reports when the program cannot be started.
func TestScriptRunnerStartFailure(t *testing.T) {
	t.Parallel()

	runner := NewScriptRunner(filepath.Join(t.TempDir(), "missing.sh"))

	m := &monitor.Monitor{ID: 1, Name: "Gate"}
	require.Error(t, runner.Run(context.Background(), ScriptActionOn, m, "Zone1"))
}
