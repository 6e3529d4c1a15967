package flows

import (
	"context"
	"os"
	"os/exec"
)

// StepRunner executes one prepared step command and returns its combined
// output. The env slice is appended to the parent process environment.
type StepRunner interface {
	Run(ctx context.Context, argv []string, dir string, env []string) (string, error)
}

// ExecStepRunner runs steps as local subprocesses.
type ExecStepRunner struct{}

func (ExecStepRunner) Run(ctx context.Context, argv []string, dir string, env []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
