// Package command executes the action dispatcher's command-cycle and
// COMMAND-message lines (§4.7, §6), satisfying spa.CommandRunner.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/spad-project/gospad/internal/spa"
)

// Runner implements spa.CommandRunner. A zero value is ready to use.
type Runner struct{}

var _ spa.CommandRunner = Runner{}

// Run parses cmd with the POSIX shell grammar and executes it
// in-process via mvdan.cc/sh/v3's interpreter, bounded by timeout.
// Parsing through a real shell grammar (rather than handing the raw
// string to /bin/sh -c) rejects malformed lines before anything runs.
func (Runner) Run(ctx context.Context, cmd string, timeout time.Duration) (int, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	file, err := syntax.NewParser().Parse(stringsReader(cmd), "")
	if err != nil {
		return -1, "", fmt.Errorf("command: parse: %w", err)
	}

	var out bytes.Buffer
	runner, err := interp.New(interp.StdIO(nil, &out, &out))
	if err != nil {
		return -1, "", fmt.Errorf("command: new runner: %w", err)
	}

	if err := runner.Run(ctx, file); err != nil {
		var status interp.ExitStatus
		if exitStatusAs(err, &status) {
			return int(status), out.String(), nil
		}
		return -1, out.String(), fmt.Errorf("command: run: %w", err)
	}

	return 0, out.String(), nil
}

// RunAs executes cmd as a distinct uid/gid using a real child process
// (the in-process interpreter has no notion of process credentials).
// timeout of 0 means no hard ceiling, matching §4.7/§9's deliberate
// omission of one for the setuid/setgid path.
func (Runner) RunAs(ctx context.Context, uid, gid int, cmd string, timeout time.Duration) (int, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	if err == nil {
		return 0, out.String(), nil
	}

	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		return exitErr.ExitCode(), out.String(), nil
	}
	return -1, out.String(), fmt.Errorf("command: run as uid=%d gid=%d: %w", uid, gid, err)
}

func stringsReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func exitStatusAs(err error, target *interp.ExitStatus) bool {
	status, ok := err.(interp.ExitStatus)
	if !ok {
		return false
	}
	*target = status
	return true
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}
