// Package execx runs external commands with captured output.
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Result captures the outcome of a completed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// String renders the command for logging.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes commands. The interface exists so deployment backends can
// be tested without shelling out.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Local runs commands on the host.
type Local struct{}

// NewLocal returns a host-backed runner.
func NewLocal() *Local { return &Local{} }

// Run executes the command and captures both output streams. A non-zero
// exit status is reported through Result.ExitCode, not as an error; errors
// are reserved for failures to run at all (missing binary, cancelled
// context).
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	command := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		command.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		command.Env = cmd.Env
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	start := time.Now()
	err := command.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}
