package build

import (
	"bytes"
	"context"
	"io/ioutil"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// ExecToolchain runs configured shell commands in the checked-out
// source directory. Which tools those commands invoke is the
// repository's business; we only relay pass/fail and collect the
// build output.
type ExecToolchain struct {
	Dir      string   // source checkout
	TestCmd  []string // e.g. {"go", "test", "./..."}
	LintCmd  []string // e.g. {"golangci-lint", "run"}
	BuildCmd []string // must leave its output at BuildOut
	BuildOut string   // path of the build output, relative to Dir

	Logger log.Logger
}

func (t *ExecToolchain) Test(ctx context.Context) error {
	return t.runCmd(ctx, t.TestCmd)
}

func (t *ExecToolchain) Lint(ctx context.Context) error {
	return t.runCmd(ctx, t.LintCmd)
}

func (t *ExecToolchain) Build(ctx context.Context) (Artifact, error) {
	if err := t.runCmd(ctx, t.BuildCmd); err != nil {
		return Artifact{}, err
	}
	out := filepath.Join(t.Dir, t.BuildOut)
	data, err := ioutil.ReadFile(out)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "reading build output %s", out)
	}
	return Artifact{Name: filepath.Base(t.BuildOut), Data: data}, nil
}

func (t *ExecToolchain) runCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command configured")
	}
	t.Logger.Log("exec", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = t.Dir
	errOut := &bytes.Buffer{}
	cmd.Stderr = errOut
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.Errorf("running %s: %s", args[0], msg)
	}
	return nil
}
