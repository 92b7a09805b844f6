// Package procgroup starts child processes in their own process group and
// tears them down with SIGTERM-then-SIGKILL escalation. It is the shared
// lifecycle primitive behind the engine subprocess, log-follower workers,
// and the watchdog re-exec.
package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Group is a running child process placed in its own process group so a
// signal to the group reaches any of its own children too.
type Group struct {
	name string
	cmd  *exec.Cmd
	pid  int

	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Start launches cmd in a new process group. The caller must not have set
// cmd.SysProcAttr.
func Start(name string, cmd *exec.Cmd) (*Group, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	g := &Group{
		name: name,
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	go g.wait()

	return g, nil
}

func (g *Group) wait() {
	err := g.cmd.Wait()

	g.mu.Lock()
	g.waitErr = err
	g.mu.Unlock()

	close(g.done)
}

// PID returns the process group leader's pid.
func (g *Group) PID() int {
	return g.pid
}

// Done is closed once the process has exited, however it exited.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the process has exited and returns its exit error.
func (g *Group) Wait() error {
	<-g.done

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.waitErr
}

// Stop signals the process group with SIGTERM and waits up to grace for it
// to exit, escalating to SIGKILL if it hasn't. Stop is a no-op if the
// process has already exited.
func (g *Group) Stop(grace time.Duration) error {
	select {
	case <-g.done:
		return nil
	default:
	}

	if err := killGroup(g.pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %s: %w", g.name, err)
	}

	select {
	case <-g.done:
		return nil
	case <-time.After(grace):
	}

	_ = killGroup(g.pid, syscall.SIGKILL)

	<-g.done

	return nil
}

// killGroup signals the negative pid (the process group), tolerating the
// group already being gone.
func killGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err != nil && errors.Is(err, syscall.ESRCH) {
		return nil
	}

	return err
}
