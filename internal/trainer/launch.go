package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/signalnine/nilmbench/internal/docker"
)

// Exit describes how the external process ended.
type Exit struct {
	Code     int
	TimedOut bool
	Duration time.Duration
}

// Launcher runs the external process for one request. workspace is the
// directory the request paths are relative to.
type Launcher interface {
	Launch(ctx context.Context, workspace, request string) (*Exit, error)
}

// ExitReason names an exit for logs and failures.
func ExitReason(code int, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	switch code {
	case 0:
		return "completed"
	case 2:
		return "diverged"
	case 137:
		return "killed"
	default:
		return "crashed"
	}
}

// ExecLauncher runs a local command in the workspace directory.
type ExecLauncher struct {
	Command []string
	Env     map[string]string
	Timeout time.Duration
}

func (l *ExecLauncher) Launch(ctx context.Context, workspace, request string) (*Exit, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("exec trainer: no command configured")
	}
	runCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, l.Command[0], l.Command[1:]...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), RequestEnv+"="+request)
	for k, v := range l.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	err := cmd.Run()
	exit := &Exit{Duration: time.Since(start)}
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		exit.Code, exit.TimedOut = docker.ExitTimeout, true
		return exit, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exit.Code = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("running %s: %w", l.Command[0], err)
	}
	return exit, nil
}

// ContainerLauncher runs the trainer image with the workspace mounted.
type ContainerLauncher struct {
	Image       string
	Command     []string
	Env         map[string]string
	Timeout     time.Duration
	CPULimit    float64
	MemoryLimit int64
	GPUs        bool
}

func (l *ContainerLauncher) Launch(ctx context.Context, workspace, request string) (*Exit, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	env := map[string]string{RequestEnv: filepath.ToSlash(request)}
	for k, v := range l.Env {
		env[k] = v
	}
	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:       l.Image,
		Command:     l.Command,
		WorkDir:     abs,
		Env:         env,
		Timeout:     l.Timeout,
		CPULimit:    l.CPULimit,
		MemoryLimit: l.MemoryLimit,
		GPUs:        l.GPUs,
		UserID:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	})
	if err != nil {
		return nil, fmt.Errorf("running container: %w", err)
	}
	if res.TimedOut {
		log.Printf("warning: trainer container for %s timed out after %s", request, res.Duration.Round(time.Second))
	}
	return &Exit{Code: res.ExitCode, TimedOut: res.TimedOut, Duration: res.Duration}, nil
}
