//go:build linux

package toolchain

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	appErr "buildforge/pkg/errors"
)

// waitDelay bounds how long Wait may linger on the output pipes after the
// process group is dead; a stray descendant holding the pipes must not stall
// the response.
const waitDelay = time.Second

// Run executes the toolchain in workDir under a wall-clock deadline. The
// process gets no stdin and its own process group; on timeout the whole
// group is killed and the outcome is TimedOut. Cancelling ctx also kills the
// group, so callers must pass a server-lifetime context rather than the
// request's. A non-nil error means the toolchain could not be run at all,
// not that the build failed.
func (r Runner) Run(ctx context.Context, workDir, target string, timeout time.Duration) (Outcome, error) {
	if workDir == "" {
		return Outcome{}, appErr.ValidationError("workDir", "required")
	}
	if timeout <= 0 {
		return Outcome{}, appErr.ValidationError("timeout", "must be positive")
	}
	argv, err := r.buildArgv(target)
	if err != nil {
		return Outcome{}, err
	}

	logBuf := newCappedBuffer(r.LogMaxBytes)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdin = nil
	cmd.Stdout = logBuf
	cmd.Stderr = logBuf
	cmd.WaitDelay = waitDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		return Outcome{}, appErr.Wrapf(err, appErr.BuildLaunchFailed, "start toolchain failed")
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			killProcessGroup(cmd)
		case <-timer.C:
			timedOut.Store(true)
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if timedOut.Load() {
		return Outcome{Status: StatusTimedOut, ExitCode: -1}, nil
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Outcome{}, appErr.Wrapf(waitErr, appErr.BuildLaunchFailed, "wait for toolchain failed")
		}
	}

	code := exitCodeFromErr(waitErr, cmd.ProcessState)
	if code == 0 {
		return Outcome{Status: StatusSucceeded, Log: logBuf.Bytes()}, nil
	}
	return Outcome{Status: StatusFailed, ExitCode: code, Log: logBuf.Bytes()}, nil
}

// killProcessGroup sends SIGKILL to the toolchain's process group, falling
// back to the direct child when the group kill is refused.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
