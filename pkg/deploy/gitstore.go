package deploy

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// GitStore keeps the descriptor in a file on a branch of a git repo.
// Each Read clones afresh; each Write clones, checks that the branch
// head still equals baseRev, commits and pushes. A rejected push (the
// remote moved underneath us) comes back as ErrConflict for the
// updater to retry.
type GitStore struct {
	URL       string
	Branch    string
	Path      string // descriptor path within the repo
	UserName  string
	UserEmail string
}

func (s *GitStore) Read(ctx context.Context) ([]byte, string, error) {
	dir, err := ioutil.TempDir("", "shipd-deploy-read")
	if err != nil {
		return nil, "", err
	}
	defer os.RemoveAll(dir)

	if err := s.clone(ctx, dir); err != nil {
		return nil, "", err
	}
	rev, err := headRevision(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	content, err := ioutil.ReadFile(filepath.Join(dir, s.Path))
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading %s", s.Path)
	}
	return content, rev, nil
}

func (s *GitStore) Write(ctx context.Context, content []byte, baseRev string, message string) (string, error) {
	dir, err := ioutil.TempDir("", "shipd-deploy-write")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if err := s.clone(ctx, dir); err != nil {
		return "", err
	}
	rev, err := headRevision(ctx, dir)
	if err != nil {
		return "", err
	}
	if rev != baseRev {
		return "", errors.Wrapf(ErrConflict, "head is %s, expected %s", rev, baseRev)
	}

	if err := s.config(ctx, dir); err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, s.Path), content, 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", s.Path)
	}
	if err := execGitCmd(ctx, dir, nil, "add", "--", s.Path); err != nil {
		return "", errors.Wrap(err, "git add")
	}
	if err := execGitCmd(ctx, dir, nil, "commit", "--no-verify", "-m", message); err != nil {
		return "", errors.Wrap(err, "git commit")
	}
	if err := execGitCmd(ctx, dir, nil, "push", "origin", s.Branch); err != nil {
		if isNonFastForward(err) {
			return "", errors.Wrap(ErrConflict, err.Error())
		}
		return "", errors.Wrap(err, "git push")
	}
	return headRevision(ctx, dir)
}

func (s *GitStore) clone(ctx context.Context, dir string) error {
	args := []string{"clone", "--single-branch"}
	if s.Branch != "" {
		args = append(args, "--branch", s.Branch)
	}
	args = append(args, s.URL, dir)
	if err := execGitCmd(ctx, "", nil, args...); err != nil {
		return errors.Wrap(err, "git clone")
	}
	return nil
}

func (s *GitStore) config(ctx context.Context, dir string) error {
	for k, v := range map[string]string{
		"user.name":  s.UserName,
		"user.email": s.UserEmail,
	} {
		if err := execGitCmd(ctx, dir, nil, "config", k, v); err != nil {
			return errors.Wrap(err, "setting git config")
		}
	}
	return nil
}

func headRevision(ctx context.Context, dir string) (string, error) {
	out := &bytes.Buffer{}
	if err := execGitCmd(ctx, dir, out, "rev-parse", "HEAD"); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// A push rejected because the remote ref has advanced shows up in
// git's stderr in one of a few shapes, depending on version.
func isNonFastForward(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "non-fast-forward") ||
		strings.Contains(msg, "fetch first") ||
		strings.Contains(msg, "rejected")
}

func execGitCmd(ctx context.Context, dir string, out io.Writer, args ...string) error {
	c := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		c.Dir = dir
	}
	c.Env = env()
	c.Stdout = ioutil.Discard
	if out != nil {
		c.Stdout = out
	}
	errOut := &bytes.Buffer{}
	c.Stderr = errOut

	err := c.Run()
	if err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg != "" {
			err = errors.New(msg)
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), "git command timed out")
	}
	if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), "git command cancelled")
	}
	return err
}

func env() []string {
	return []string{"GIT_TERMINAL_PROMPT=0", "HOME=" + os.Getenv("HOME"), "PATH=" + os.Getenv("PATH")}
}
